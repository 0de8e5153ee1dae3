package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"resen/internal/archive"
	"resen/internal/config"
	resenerrors "resen/internal/errors"
	"resen/internal/executor"
	"resen/internal/lifecycle"
	"resen/internal/progress"
	"resen/internal/resolver"
	"resen/internal/ui"
	"resen/pkg/bucket"
	"resen/pkg/runtime"
)

// Workspace is the facade the CLI drives. It owns one runtime connection and
// the components built on it, and records container handles per bucket.
type Workspace struct {
	api        runtime.API
	cfg        *config.Config
	console    *ui.Console
	store      *StateStore
	images     *resolver.Resolver
	containers *lifecycle.Manager
	executor   *executor.Executor
	archiver   *archive.Archiver
}

// NewWorkspace wires the components around an existing runtime client.
func NewWorkspace(api runtime.API, cfg *config.Config, console *ui.Console) *Workspace {
	images := resolver.NewResolver(api, console.Out(), progress.WithInterval(cfg.Progress.Interval))
	return &Workspace{
		api:        api,
		cfg:        cfg,
		console:    console,
		store:      NewStateStore(cfg.State.File),
		images:     images,
		containers: lifecycle.NewManager(api, images, cfg.Container, cfg.Settle),
		executor:   executor.NewExecutor(api),
		archiver:   archive.NewArchiver(api, cfg.Export.Repository),
	}
}

// Close releases the runtime connection.
func (w *Workspace) Close() error {
	return w.api.Close()
}

// State returns the store holding bucket handles.
func (w *Workspace) State() *StateStore {
	return w.store
}

// spec returns a copy of b's container spec with the recorded container id
// filled in when the bucket file does not carry one.
func (w *Workspace) spec(b *bucket.Bucket) (*bucket.ContainerSpec, error) {
	spec := b.Docker
	if spec.ContainerID != "" {
		return &spec, nil
	}

	id, err := w.store.ContainerID(b.Metadata.Name)
	if err != nil {
		return nil, resenerrors.NewFileSystemError(
			"Cannot read resen state",
			err.Error(),
			fmt.Sprintf("Fix or delete %s", w.store.Path()),
			err,
		)
	}
	spec.ContainerID = id
	return &spec, nil
}

// Pull makes the bucket image available locally.
func (w *Workspace) Pull(ctx context.Context, b *bucket.Bucket) error {
	spec, err := w.spec(b)
	if err != nil {
		return err
	}
	return w.images.EnsureImage(ctx, spec)
}

// Create creates the bucket container and records its handle.
func (w *Workspace) Create(ctx context.Context, b *bucket.Bucket) (string, string, error) {
	spec, err := w.spec(b)
	if err != nil {
		return "", "", err
	}

	id, status, err := w.containers.Create(ctx, spec)
	if err != nil {
		if id != "" {
			// The container exists even though it could not be inspected.
			if recErr := w.recordHandle(b.Metadata.Name, id, StageCreate); recErr != nil {
				slog.Warn("Failed to record container id", "bucket", b.Metadata.Name, "id", id, "error", recErr)
			}
		}
		return id, "", err
	}

	if err := w.recordHandle(b.Metadata.Name, id, StageCreate); err != nil {
		return id, status, err
	}
	return id, status, nil
}

func (w *Workspace) Start(ctx context.Context, b *bucket.Bucket) (string, error) {
	spec, err := w.spec(b)
	if err != nil {
		return "", err
	}
	return w.containers.Start(ctx, spec)
}

func (w *Workspace) Stop(ctx context.Context, b *bucket.Bucket) (string, error) {
	spec, err := w.spec(b)
	if err != nil {
		return "", err
	}
	return w.containers.Stop(ctx, spec)
}

func (w *Workspace) Status(ctx context.Context, b *bucket.Bucket) (string, error) {
	spec, err := w.spec(b)
	if err != nil {
		return "", err
	}
	return w.containers.Status(ctx, spec)
}

// Remove deletes the bucket container and forgets its handle. A container
// that is already gone still clears the handle, and the not-found error is
// returned to the caller.
func (w *Workspace) Remove(ctx context.Context, b *bucket.Bucket) error {
	spec, err := w.spec(b)
	if err != nil {
		return err
	}

	removeErr := w.containers.Remove(ctx, spec)
	if removeErr != nil && !errors.Is(removeErr, resenerrors.ErrNotFound) {
		return removeErr
	}

	if err := w.store.Delete(b.Metadata.Name); err != nil {
		slog.Warn("Failed to clear bucket state", "bucket", b.Metadata.Name, "error", err)
	}
	return removeErr
}

func (w *Workspace) Exec(ctx context.Context, b *bucket.Bucket, command, user string, detached bool) (*executor.ExecResult, error) {
	spec, err := w.spec(b)
	if err != nil {
		return nil, err
	}
	if user == "" {
		user = w.cfg.Container.User
	}
	return w.executor.Exec(ctx, spec, command, user, detached)
}

func (w *Workspace) Export(ctx context.Context, b *bucket.Bucket, tag, filename string) error {
	spec, err := w.spec(b)
	if err != nil {
		return err
	}
	return w.archiver.Export(ctx, spec, tag, filename)
}

func (w *Workspace) Import(ctx context.Context, filename string) (string, error) {
	return w.archiver.Import(ctx, filename)
}

func (w *Workspace) Size(ctx context.Context, b *bucket.Bucket) (lifecycle.ContainerSize, error) {
	spec, err := w.spec(b)
	if err != nil {
		return lifecycle.ContainerSize{}, err
	}
	return w.containers.Size(ctx, spec)
}

// Provision runs image, create and start for b. Progress is saved after each
// stage, so re-running after a failure resumes at the failed stage instead of
// creating a second container.
func (w *Workspace) Provision(ctx context.Context, b *bucket.Bucket) (*BucketState, error) {
	name := b.Metadata.Name
	slog.Info("Starting provision workflow", "bucket", name)

	state, err := w.store.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket state: %w", err)
	}

	if state == nil {
		runID := uuid.New().String()
		state = newBucketState(name, runID)
		if b.Docker.ContainerID != "" {
			// The bucket file already names its container.
			state.ContainerID = b.Docker.ContainerID
			state.LastSuccessfulStage = StageCreate
		}
		slog.Info("Starting new provision run", "runId", runID, "bucket", name)
	} else if state.LastSuccessfulStage == StageCompleted {
		// A provisioned bucket only needs its container running again.
		state.LastSuccessfulStage = StageCreate
	} else {
		nextStage := state.getNextStage()
		w.console.PrintInfo(fmt.Sprintf("State found for %s. Resuming from stage: %s", name, nextStage))
		slog.Info("Resuming provision run", "runId", state.RunID, "nextStage", nextStage, "lastStage", state.LastSuccessfulStage)
	}

	spec := b.Docker
	if spec.ContainerID == "" {
		spec.ContainerID = state.ContainerID
	}

	for _, stage := range w.buildStages(&spec) {
		if state.shouldSkipStage(stage.Name()) {
			w.console.Println(fmt.Sprintf("Stage %s: skipped (already completed)", stage.Name()))
			continue
		}

		if err := stage.Execute(ctx, state); err != nil {
			if stage.Name() == StageCreate && state.ContainerID != "" {
				w.keepCreatedHandle(state)
			}
			if stage.Name() == StageStart && errors.Is(err, resenerrors.ErrNotFound) {
				// The recorded container vanished; the next run recreates it.
				w.resetState(state)
			}
			return state, fmt.Errorf("%s stage failed: %w", stage.Name(), err)
		}

		state.LastSuccessfulStage = stage.Name()
		if err := w.store.Save(state); err != nil {
			return state, fmt.Errorf("failed to save state after %s: %w", stage.Name(), err)
		}
	}

	state.LastSuccessfulStage = StageCompleted
	if err := w.store.Save(state); err != nil {
		slog.Warn("Failed to save final state", "error", err)
	}

	w.console.PrintSuccess(fmt.Sprintf("Bucket '%s' is ready", name))
	slog.Info("Provision workflow completed successfully", "bucket", name, "id", state.ContainerID)
	return state, nil
}

func (w *Workspace) buildStages(spec *bucket.ContainerSpec) []Stage {
	return []Stage{
		NewImageStage(spec, w.images, w.console),
		NewCreateStage(spec, w.containers, w.console),
		NewStartStage(spec, w.containers, w.console),
	}
}

func (w *Workspace) recordHandle(bucketName, id string, stage ProvisionStage) error {
	state, err := w.store.Load(bucketName)
	if err != nil {
		return fmt.Errorf("failed to load bucket state: %w", err)
	}
	if state == nil {
		state = newBucketState(bucketName, uuid.New().String())
	}

	state.ContainerID = id
	state.LastSuccessfulStage = stage
	if err := w.store.Save(state); err != nil {
		return resenerrors.NewFileSystemError(
			"Container created but its id could not be recorded",
			err.Error(),
			fmt.Sprintf("Add 'container: %s' to the bucket file", id),
			err,
		)
	}
	return nil
}

// keepCreatedHandle saves a container that was created by a failed create
// stage so the next run starts it instead of colliding on its name.
func (w *Workspace) keepCreatedHandle(state *BucketState) {
	state.LastSuccessfulStage = StageCreate
	if err := w.store.Save(state); err != nil {
		slog.Warn("Failed to record container id", "bucket", state.Bucket, "id", state.ContainerID, "error", err)
	}
}

func (w *Workspace) resetState(state *BucketState) {
	state.ContainerID = ""
	state.LastSuccessfulStage = StageImage
	if err := w.store.Save(state); err != nil {
		slog.Warn("Failed to reset bucket state", "bucket", state.Bucket, "error", err)
	}
}
