package lifecycle

import (
	"context"
	"fmt"

	"github.com/docker/go-units"

	resenerrors "resen/internal/errors"
	"resen/pkg/bucket"
)

// ContainerSize is the disk usage of a container.
type ContainerSize struct {
	// Writable is the size of the container's writable layer.
	Writable int64
	// RootFS is the total size of all files in the container.
	RootFS int64
}

func (s ContainerSize) String() string {
	return fmt.Sprintf("%s (virtual %s)", units.HumanSize(float64(s.Writable)), units.HumanSize(float64(s.RootFS)))
}

// Size inspects the container with size information.
func (m *Manager) Size(ctx context.Context, spec *bucket.ContainerSpec) (ContainerSize, error) {
	id, err := containerID(spec)
	if err != nil {
		return ContainerSize{}, err
	}

	resp, _, err := m.api.ContainerInspectWithRaw(ctx, id, true)
	if err != nil {
		return ContainerSize{}, resenerrors.FromRuntime("inspect", "container "+id, err)
	}

	var size ContainerSize
	if resp.ContainerJSONBase == nil {
		return size, nil
	}
	if resp.SizeRw != nil {
		size.Writable = *resp.SizeRw
	}
	if resp.SizeRootFs != nil {
		size.RootFS = *resp.SizeRootFs
	}
	return size, nil
}
