package app

import (
	"context"
	"fmt"
	"log/slog"

	"resen/internal/resolver"
	"resen/internal/ui"
	"resen/pkg/bucket"
)

// ImageStage makes the bucket image available locally.
type ImageStage struct {
	spec     *bucket.ContainerSpec
	resolver *resolver.Resolver
	console  *ui.Console
}

func NewImageStage(spec *bucket.ContainerSpec, resolver *resolver.Resolver, console *ui.Console) *ImageStage {
	return &ImageStage{
		spec:     spec,
		resolver: resolver,
		console:  console,
	}
}

func (s *ImageStage) Name() ProvisionStage {
	return StageImage
}

func (s *ImageStage) Execute(ctx context.Context, state *BucketState) error {
	if err := s.resolver.EnsureImage(ctx, s.spec); err != nil {
		return err
	}

	s.console.PrintSuccess(fmt.Sprintf("Image %s is available", s.spec.Image))
	slog.Info("Image stage completed successfully", "bucket", state.Bucket, "image", s.spec.Image)
	return nil
}
