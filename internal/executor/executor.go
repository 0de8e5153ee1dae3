package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/shlex"

	resenerrors "resen/internal/errors"
	"resen/pkg/bucket"
	"resen/pkg/runtime"
)

// Exit codes the runtime uses when the process could not be started.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

var notFoundMarkers = []string{
	"executable file not found",
	"no such file or directory",
}

// ExecResult is the outcome of one command run inside a container. A
// non-zero ExitCode is a result, not an error.
type ExecResult struct {
	ExitCode int
	Output   []byte
	// Running is set for detached commands still running when inspected.
	Running bool
}

// Executor runs commands inside bucket containers.
type Executor struct {
	api runtime.API
}

func NewExecutor(api runtime.API) *Executor {
	return &Executor{api: api}
}

// Exec runs command as user inside spec's container. Detached commands are
// started without waiting, so Output is empty and ExitCode only meaningful
// when Running is false.
func (e *Executor) Exec(ctx context.Context, spec *bucket.ContainerSpec, command, user string, detached bool) (*ExecResult, error) {
	if spec.ContainerID == "" {
		return nil, resenerrors.NewExecError(
			fmt.Sprintf("Cannot run %q in %s", command, spec.Name),
			"the bucket has no container yet",
			"Run 'resen create' first",
			resenerrors.NewNotFoundError("", "", "", fmt.Errorf("container for %s has no id", spec.Name)),
		)
	}
	id := spec.ContainerID

	argv, err := shlex.Split(command)
	if err != nil || len(argv) == 0 {
		return nil, resenerrors.NewMalformedInputError(
			fmt.Sprintf("Invalid command %q", command),
			"the command could not be split into arguments",
			"Check quoting in the command",
			fmt.Errorf("failed to split command %q: %v", command, err),
		)
	}

	slog.Info("Executing command", "container", id, "command", argv, "user", user, "detached", detached)

	created, err := e.api.ContainerExecCreate(ctx, id, container.ExecOptions{
		User:         user,
		Cmd:          argv,
		AttachStdout: !detached,
		AttachStderr: !detached,
		Detach:       detached,
	})
	if err != nil {
		return nil, execFailed(command, id, resenerrors.FromRuntime("create exec in", "container "+id, err))
	}

	if detached {
		return e.startDetached(ctx, id, created.ID, argv[0])
	}
	return e.run(ctx, id, created.ID, argv[0])
}

func (e *Executor) run(ctx context.Context, containerID, execID, name string) (*ExecResult, error) {
	attach, err := e.api.ContainerExecAttach(ctx, execID, container.ExecAttachOptions{})
	if err != nil {
		return nil, e.startFailed(containerID, name, err)
	}
	defer attach.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attach.Reader); err != nil {
		return nil, execFailed(name, containerID, fmt.Errorf("failed to read output of %s: %w", name, err))
	}

	inspect, err := e.api.ContainerExecInspect(ctx, execID)
	if err != nil {
		return nil, execFailed(name, containerID, resenerrors.FromRuntime("inspect exec", execID, err))
	}

	if missingExecutable(inspect.ExitCode) && containsMarker(output.String()) {
		return nil, commandNotFound(name, containerID, strings.TrimSpace(output.String()))
	}

	slog.Debug("Command finished", "container", containerID, "command", name, "exitCode", inspect.ExitCode)
	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Output:   output.Bytes(),
	}, nil
}

func (e *Executor) startDetached(ctx context.Context, containerID, execID, name string) (*ExecResult, error) {
	if err := e.api.ContainerExecStart(ctx, execID, container.ExecStartOptions{Detach: true}); err != nil {
		return nil, e.startFailed(containerID, name, err)
	}

	inspect, err := e.api.ContainerExecInspect(ctx, execID)
	if err != nil {
		return nil, execFailed(name, containerID, resenerrors.FromRuntime("inspect exec", execID, err))
	}

	result := &ExecResult{
		ExitCode: inspect.ExitCode,
		Running:  inspect.Running,
	}
	if !result.Running && missingExecutable(result.ExitCode) {
		return nil, commandNotFound(name, containerID, fmt.Sprintf("exit code %d", result.ExitCode))
	}
	return result, nil
}

func (e *Executor) startFailed(containerID, name string, err error) error {
	if containsMarker(err.Error()) {
		return commandNotFound(name, containerID, err.Error())
	}
	return execFailed(name, containerID, resenerrors.FromRuntime("start exec in", "container "+containerID, err))
}

// missingExecutable reports whether exitCode is one the runtime uses for a
// binary that could not be found or run.
func missingExecutable(exitCode int) bool {
	return exitCode == exitNotExecutable || exitCode == exitNotFound
}

func containsMarker(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range notFoundMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// execFailed tags err as an exec failure while keeping its own kind
// reachable, so the error matches both ErrExecFailed and e.g. ErrNotFound.
func execFailed(command, containerID string, err error) error {
	return resenerrors.NewExecError(
		fmt.Sprintf("Failed to run %q in container %s", command, containerID),
		err.Error(),
		"Check that the container exists and is running",
		err,
	)
}

func commandNotFound(name, containerID, detail string) error {
	return resenerrors.NewCommandNotFoundError(
		fmt.Sprintf("Command %q not found in container %s", name, containerID),
		detail,
		"Check the command name and the PATH of the container user",
		fmt.Errorf("command %q not found in container %s: %w", name, containerID, resenerrors.ErrExecFailed),
	)
}
