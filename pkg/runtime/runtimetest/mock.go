// Package runtimetest provides a testify mock of runtime.API.
package runtimetest

import (
	"context"
	"encoding/json"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/mock"

	"resen/pkg/runtime"
)

// MockAPI is a mock implementation of the runtime.API interface.
type MockAPI struct {
	*mock.Mock
}

var _ runtime.API = (*MockAPI)(nil)

func NewMockAPI() *MockAPI {
	return &MockAPI{Mock: &mock.Mock{}}
}

func (m *MockAPI) Ping(ctx context.Context) (types.Ping, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Ping), args.Error(1)
}

func (m *MockAPI) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAPI) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	args := m.Called(ctx, options)
	summaries, _ := args.Get(0).([]image.Summary)
	return summaries, args.Error(1)
}

func (m *MockAPI) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, ref, options)
	reader, _ := args.Get(0).(io.ReadCloser)
	return reader, args.Error(1)
}

func (m *MockAPI) ImageTag(ctx context.Context, source, target string) error {
	args := m.Called(ctx, source, target)
	return args.Error(0)
}

func (m *MockAPI) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	args := m.Called(ctx, imageID, options)
	deleted, _ := args.Get(0).([]image.DeleteResponse)
	return deleted, args.Error(1)
}

func (m *MockAPI) ImageSave(ctx context.Context, imageIDs []string, saveOpts ...client.ImageSaveOption) (io.ReadCloser, error) {
	args := m.Called(ctx, imageIDs)
	reader, _ := args.Get(0).(io.ReadCloser)
	return reader, args.Error(1)
}

func (m *MockAPI) ImageLoad(ctx context.Context, input io.Reader, loadOpts ...client.ImageLoadOption) (image.LoadResponse, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(image.LoadResponse), args.Error(1)
}

func (m *MockAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	args := m.Called(ctx, config, hostConfig, networkingConfig, platform, containerName)
	return args.Get(0).(container.CreateResponse), args.Error(1)
}

func (m *MockAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	args := m.Called(ctx, containerID, options)
	return args.Error(0)
}

func (m *MockAPI) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	args := m.Called(ctx, containerID, options)
	return args.Error(0)
}

func (m *MockAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	args := m.Called(ctx, containerID, options)
	return args.Error(0)
}

func (m *MockAPI) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	args := m.Called(ctx, containerID)
	return args.Get(0).(container.InspectResponse), args.Error(1)
}

func (m *MockAPI) ContainerInspectWithRaw(ctx context.Context, containerID string, getSize bool) (container.InspectResponse, []byte, error) {
	args := m.Called(ctx, containerID, getSize)
	raw, _ := args.Get(1).([]byte)
	return args.Get(0).(container.InspectResponse), raw, args.Error(2)
}

func (m *MockAPI) ContainerCommit(ctx context.Context, containerID string, options container.CommitOptions) (container.CommitResponse, error) {
	args := m.Called(ctx, containerID, options)
	return args.Get(0).(container.CommitResponse), args.Error(1)
}

func (m *MockAPI) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	args := m.Called(ctx, containerID, options)
	return args.Get(0).(container.ExecCreateResponse), args.Error(1)
}

func (m *MockAPI) ContainerExecStart(ctx context.Context, execID string, config container.ExecStartOptions) error {
	args := m.Called(ctx, execID, config)
	return args.Error(0)
}

func (m *MockAPI) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	args := m.Called(ctx, execID, config)
	return args.Get(0).(types.HijackedResponse), args.Error(1)
}

func (m *MockAPI) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	args := m.Called(ctx, execID)
	return args.Get(0).(container.ExecInspect), args.Error(1)
}

// InspectWithStatus builds an inspect response carrying the given state.
func InspectWithStatus(id, status string) container.InspectResponse {
	return decodeInspect(map[string]any{
		"Id": id,
		"State": map[string]any{
			"Status":  status,
			"Running": status == "running",
		},
	})
}

// InspectWithSize builds an inspect response carrying size information.
func InspectWithSize(id string, sizeRw, sizeRootFs int64) container.InspectResponse {
	return decodeInspect(map[string]any{
		"Id":         id,
		"State":      map[string]any{"Status": "running", "Running": true},
		"SizeRw":     sizeRw,
		"SizeRootFs": sizeRootFs,
	})
}

// decodeInspect goes through the wire format so the helpers do not depend on
// the struct layout of the engine types.
func decodeInspect(doc map[string]any) container.InspectResponse {
	var resp container.InspectResponse
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		panic(err)
	}
	return resp
}
