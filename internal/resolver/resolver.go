package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/image"

	resenerrors "resen/internal/errors"
	"resen/internal/progress"
	"resen/pkg/bucket"
	"resen/pkg/runtime"
)

// Resolver makes sure the image a bucket container needs is present in the
// local image store.
type Resolver struct {
	api          runtime.API
	out          io.Writer
	progressOpts []progress.Option
}

// NewResolver creates a Resolver that renders pull progress to out.
func NewResolver(api runtime.API, out io.Writer, opts ...progress.Option) *Resolver {
	return &Resolver{
		api:          api,
		out:          out,
		progressOpts: opts,
	}
}

// SplitPullReference splits a repository@digest reference. A reference
// without both parts is rejected.
func SplitPullReference(ref string) (repo, digest string, err error) {
	repo, digest, found := strings.Cut(ref, "@")
	if !found || repo == "" || digest == "" {
		return "", "", resenerrors.NewMalformedInputError(
			fmt.Sprintf("Invalid pull reference %q", ref),
			"The reference must have the form repository@digest",
			"Set pullImage to a digest reference such as earthcubeingeo/resen-lite@sha256:...",
			fmt.Errorf("malformed pull reference %q: missing repository@digest separator", ref),
		)
	}
	return repo, digest, nil
}

// EnsureImage pulls and tags spec's image unless its id is already present
// locally. When it is present the call makes exactly one list request.
func (r *Resolver) EnsureImage(ctx context.Context, spec *bucket.ContainerSpec) error {
	present, err := r.HasImage(ctx, spec.ImageID)
	if err != nil {
		return err
	}
	if present {
		slog.Debug("Image already present", "image", spec.Image, "imageID", spec.ImageID)
		return nil
	}

	repo, _, err := SplitPullReference(spec.PullImage)
	if err != nil {
		return err
	}

	return r.Pull(ctx, spec.PullImage, repo+":"+spec.Image)
}

// HasImage reports whether an image with the given id is in the local store.
func (r *Resolver) HasImage(ctx context.Context, imageID string) (bool, error) {
	images, err := r.api.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return false, resenerrors.FromRuntime("list", "images", err)
	}

	for _, img := range images {
		if sameImageID(img.ID, imageID) {
			return true, nil
		}
	}
	return false, nil
}

// Pull fetches pullRef with streamed progress and tags the result as target.
func (r *Resolver) Pull(ctx context.Context, pullRef, target string) error {
	fmt.Fprintf(r.out, "Pulling image: %s\n", target)
	fmt.Fprintln(r.out, "   This may take some time...")
	slog.Info("Pulling image", "image", pullRef, "tag", target)

	reader, err := r.api.ImagePull(ctx, pullRef, image.PullOptions{})
	if err != nil {
		return resenerrors.NewPullError(
			fmt.Sprintf("Failed to pull image %s", pullRef),
			err.Error(),
			"Check the image reference and network access to the registry",
			fmt.Errorf("failed to pull image %s: %w", pullRef, err),
		)
	}
	defer reader.Close()

	agg := progress.New(r.out, r.progressOpts...)
	if err := agg.Consume(pullRef, reader); err != nil {
		return err
	}

	if err := r.api.ImageTag(ctx, pullRef, target); err != nil {
		return resenerrors.FromRuntime("tag", "image "+pullRef, err)
	}

	fmt.Fprintln(r.out, "Done!")
	slog.Info("Successfully pulled image", "image", pullRef, "tag", target)
	return nil
}

func sameImageID(a, b string) bool {
	return strings.TrimPrefix(a, "sha256:") == strings.TrimPrefix(b, "sha256:")
}
