package app

import (
	"context"
	"fmt"
	"log/slog"

	"resen/internal/lifecycle"
	"resen/internal/ui"
	"resen/pkg/bucket"
)

// CreateStage creates the bucket container and records its handle in state.
type CreateStage struct {
	spec       *bucket.ContainerSpec
	containers *lifecycle.Manager
	console    *ui.Console
}

func NewCreateStage(spec *bucket.ContainerSpec, containers *lifecycle.Manager, console *ui.Console) *CreateStage {
	return &CreateStage{
		spec:       spec,
		containers: containers,
		console:    console,
	}
}

func (s *CreateStage) Name() ProvisionStage {
	return StageCreate
}

func (s *CreateStage) Execute(ctx context.Context, state *BucketState) error {
	id, status, err := s.containers.Create(ctx, s.spec)
	if id != "" {
		state.ContainerID = id
		s.spec.ContainerID = id
	}
	if err != nil {
		return err
	}

	s.console.PrintSuccess(fmt.Sprintf("Container %s created (%s)", shortID(id), status))
	slog.Info("Create stage completed successfully", "bucket", state.Bucket, "id", id, "status", status)
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
