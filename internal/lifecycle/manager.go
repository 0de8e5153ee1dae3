package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"resen/internal/config"
	resenerrors "resen/internal/errors"
	"resen/pkg/bucket"
	"resen/pkg/runtime"
)

// Container statuses reported by the runtime.
const (
	StatusCreated    = "created"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusRestarting = "restarting"
	StatusRemoving   = "removing"
	StatusExited     = "exited"
	StatusDead       = "dead"
)

// BucketLabel marks containers created for a bucket.
const BucketLabel = "org.resen.bucket"

var errNotSettled = errors.New("container status has not settled")

// ImageEnsurer makes a spec's image available locally.
type ImageEnsurer interface {
	EnsureImage(ctx context.Context, spec *bucket.ContainerSpec) error
}

// CreateRequest is the container creation request derived from a spec.
type CreateRequest struct {
	Name       string
	Config     *container.Config
	HostConfig *container.HostConfig
}

// Manager drives bucket containers through created, running and stopped.
// It keeps no container objects between calls; every operation resolves the
// container by its recorded id.
type Manager struct {
	api      runtime.API
	images   ImageEnsurer
	settings config.ContainerConfig
	settle   config.SettleConfig
}

func NewManager(api runtime.API, images ImageEnsurer, settings config.ContainerConfig, settle config.SettleConfig) *Manager {
	return &Manager{
		api:      api,
		images:   images,
		settings: settings,
		settle:   settle,
	}
}

// BuildCreateRequest renders spec's ports and mounts into a creation request
// for an idle, TTY-attached container.
func (m *Manager) BuildCreateRequest(spec *bucket.ContainerSpec) CreateRequest {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		port := nat.Port(p.Key())
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostPort: strconv.Itoa(p.HostPort),
		})
	}

	// The daemon creates a missing host directory for Binds.
	binds := make([]string, 0, len(spec.Storage))
	for _, s := range spec.Storage {
		binds = append(binds, s.HostPath+":"+s.ContainerPath+":"+s.Mode)
	}

	return CreateRequest{
		Name: spec.ContainerName(m.settings.Prefix),
		Config: &container.Config{
			Image:        spec.ImageID,
			Cmd:          []string{m.settings.Command},
			Tty:          true,
			OpenStdin:    true,
			ExposedPorts: exposed,
			Labels:       map[string]string{BucketLabel: spec.Name},
		},
		HostConfig: &container.HostConfig{
			PortBindings: bindings,
			Binds:        binds,
		},
	}
}

// Create ensures the image, creates the container and returns its id and
// initial status. A name collision surfaces as the runtime's error.
func (m *Manager) Create(ctx context.Context, spec *bucket.ContainerSpec) (string, string, error) {
	if err := m.images.EnsureImage(ctx, spec); err != nil {
		return "", "", err
	}

	req := m.BuildCreateRequest(spec)
	slog.Info("Creating container", "name", req.Name, "image", spec.ImageID)

	resp, err := m.api.ContainerCreate(ctx, req.Config, req.HostConfig, nil, nil, req.Name)
	if err != nil {
		return "", "", resenerrors.FromRuntime("create", "container "+req.Name, err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("Container create warning", "name", req.Name, "warning", w)
	}

	status, err := m.inspectStatus(ctx, resp.ID)
	if err != nil {
		return resp.ID, "", err
	}

	slog.Info("Container created", "name", req.Name, "id", resp.ID, "status", status)
	return resp.ID, status, nil
}

// Start starts the container unless it is already running and returns the
// settled status.
func (m *Manager) Start(ctx context.Context, spec *bucket.ContainerSpec) (string, error) {
	id, err := containerID(spec)
	if err != nil {
		return "", err
	}

	status, err := m.inspectStatus(ctx, id)
	if err != nil {
		return "", err
	}

	if status != StatusRunning {
		slog.Info("Starting container", "id", id)
		if err := m.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return "", resenerrors.FromRuntime("start", "container "+id, err)
		}
	}

	return m.waitSettled(ctx, id)
}

// Stop stops the container unless it is already stopped and returns the
// settled status.
func (m *Manager) Stop(ctx context.Context, spec *bucket.ContainerSpec) (string, error) {
	id, err := containerID(spec)
	if err != nil {
		return "", err
	}

	status, err := m.inspectStatus(ctx, id)
	if err != nil {
		return "", err
	}

	if !stopped(status) {
		slog.Info("Stopping container", "id", id)
		timeout := int(m.settings.StopTimeout / time.Second)
		if err := m.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			return "", resenerrors.FromRuntime("stop", "container "+id, err)
		}
	}

	return m.waitSettled(ctx, id)
}

// Remove deletes the container. Removing a container that no longer exists
// returns an error matching errors.ErrNotFound.
func (m *Manager) Remove(ctx context.Context, spec *bucket.ContainerSpec) error {
	id, err := containerID(spec)
	if err != nil {
		return err
	}

	slog.Info("Removing container", "id", id)
	if err := m.api.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		return resenerrors.FromRuntime("remove", "container "+id, err)
	}
	return nil
}

// Status reloads the container and returns its current status.
func (m *Manager) Status(ctx context.Context, spec *bucket.ContainerSpec) (string, error) {
	id, err := containerID(spec)
	if err != nil {
		return "", err
	}
	return m.inspectStatus(ctx, id)
}

// waitSettled polls the container until two consecutive observations report
// the same non-transitional status, or the settle timeout passes.
func (m *Manager) waitSettled(ctx context.Context, id string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.settle.Interval
	b.MaxInterval = 4 * m.settle.Interval
	b.MaxElapsedTime = m.settle.Timeout

	var last, settled string
	observations := 0
	op := func() error {
		status, err := m.inspectStatus(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		observations++
		if observations > 1 && status == last && !transitional(status) {
			settled = status
			return nil
		}
		last = status
		return errNotSettled
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, errNotSettled) {
			return last, resenerrors.NewSettleTimeoutError(
				fmt.Sprintf("Container %s did not reach a stable status", id),
				fmt.Sprintf("last observed status was %q after %s", last, m.settle.Timeout),
				"Check the container logs, or raise settle.timeout",
				fmt.Errorf("container %s did not settle within %s: %w", id, m.settle.Timeout, err),
			)
		}
		var re *resenerrors.ResenError
		if !errors.As(err, &re) {
			// Cancellation comes back from the retry loop unwrapped.
			return last, resenerrors.FromRuntime("settle", "container "+id, err)
		}
		return "", err
	}

	slog.Debug("Container status settled", "id", id, "status", settled, "observations", observations)
	return settled, nil
}

func (m *Manager) inspectStatus(ctx context.Context, id string) (string, error) {
	resp, err := m.api.ContainerInspect(ctx, id)
	if err != nil {
		return "", resenerrors.FromRuntime("inspect", "container "+id, err)
	}
	return statusOf(resp), nil
}

func statusOf(resp container.InspectResponse) string {
	if resp.ContainerJSONBase == nil || resp.State == nil {
		return ""
	}
	return string(resp.State.Status)
}

func containerID(spec *bucket.ContainerSpec) (string, error) {
	if spec.ContainerID == "" {
		return "", resenerrors.NewNotFoundError(
			fmt.Sprintf("No container recorded for %s", spec.Name),
			"the bucket has not been created yet",
			"Run 'resen create' first",
			fmt.Errorf("container for %s has no id", spec.Name),
		)
	}
	return spec.ContainerID, nil
}

func transitional(status string) bool {
	return status == StatusRestarting || status == StatusRemoving
}

func stopped(status string) bool {
	return status == StatusExited || status == StatusCreated || status == StatusDead
}
