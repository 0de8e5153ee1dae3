package app

import (
	"context"

	"resen/internal/config"
	"resen/internal/runtime"
	"resen/internal/ui"
)

// ComponentFactory builds a Workspace from configuration. It keeps the CLI
// decoupled from how the runtime connection is made.
type ComponentFactory struct {
	cfg *config.Config
}

// NewComponentFactory creates a new instance of ComponentFactory.
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{cfg: cfg}
}

// Config returns the configuration the factory builds from.
func (f *ComponentFactory) Config() *config.Config {
	return f.cfg
}

// NewWorkspace connects to the Docker daemon and wires a Workspace around
// the connection. The caller closes the Workspace.
func (f *ComponentFactory) NewWorkspace(ctx context.Context, console *ui.Console) (*Workspace, error) {
	cli, err := runtime.NewDockerClient(ctx, f.cfg.Docker)
	if err != nil {
		return nil, err
	}
	return NewWorkspace(cli, f.cfg, console), nil
}

// NewStateStore opens the state store without connecting to the runtime.
func (f *ComponentFactory) NewStateStore() *StateStore {
	return NewStateStore(f.cfg.State.File)
}
