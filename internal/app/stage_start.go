package app

import (
	"context"
	"fmt"
	"log/slog"

	"resen/internal/lifecycle"
	"resen/internal/ui"
	"resen/pkg/bucket"
)

// StartStage starts the container recorded by the create stage.
type StartStage struct {
	spec       *bucket.ContainerSpec
	containers *lifecycle.Manager
	console    *ui.Console
}

func NewStartStage(spec *bucket.ContainerSpec, containers *lifecycle.Manager, console *ui.Console) *StartStage {
	return &StartStage{
		spec:       spec,
		containers: containers,
		console:    console,
	}
}

func (s *StartStage) Name() ProvisionStage {
	return StageStart
}

func (s *StartStage) Execute(ctx context.Context, state *BucketState) error {
	if s.spec.ContainerID == "" {
		s.spec.ContainerID = state.ContainerID
	}

	status, err := s.containers.Start(ctx, s.spec)
	if err != nil {
		return err
	}

	s.console.PrintSuccess(fmt.Sprintf("Container %s is %s", shortID(s.spec.ContainerID), status))
	slog.Info("Start stage completed successfully", "bucket", state.Bucket, "id", s.spec.ContainerID, "status", status)
	return nil
}
