package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/google/uuid"

	resenerrors "resen/internal/errors"
	"resen/pkg/bucket"
	"resen/pkg/runtime"
)

const (
	loadedRefPrefix = "Loaded image: "
	loadedIDPrefix  = "Loaded image ID: "
)

// Archiver moves containers in and out of the runtime as portable image
// archives.
type Archiver struct {
	api        runtime.API
	repository string
}

// NewArchiver creates an Archiver that commits exports under repository.
func NewArchiver(api runtime.API, repository string) *Archiver {
	return &Archiver{
		api:        api,
		repository: repository,
	}
}

// DefaultTag returns a unique tag for exports that were not given one.
func DefaultTag() string {
	return "export-" + uuid.NewString()[:8]
}

// Export commits spec's container as repository:tag, streams the image into
// filename and then removes the intermediate image. If the archive cannot be
// written the image is kept and no partial file is left behind.
func (a *Archiver) Export(ctx context.Context, spec *bucket.ContainerSpec, tag, filename string) error {
	if spec.ContainerID == "" {
		return resenerrors.NewNotFoundError(
			fmt.Sprintf("No container recorded for %s", spec.Name),
			"the bucket has not been created yet",
			"Run 'resen create' first",
			fmt.Errorf("container for %s has no id", spec.Name),
		)
	}
	if tag == "" {
		tag = DefaultTag()
	}
	ref := a.repository + ":" + tag

	slog.Info("Committing container", "id", spec.ContainerID, "image", ref)
	committed, err := a.api.ContainerCommit(ctx, spec.ContainerID, container.CommitOptions{Reference: ref})
	if err != nil {
		return resenerrors.FromRuntime("commit", "container "+spec.ContainerID, err)
	}

	stream, err := a.api.ImageSave(ctx, []string{ref})
	if err != nil {
		return resenerrors.FromRuntime("save", "image "+ref, err)
	}
	defer stream.Close()

	written, err := writeAtomic(filename, stream)
	if err != nil {
		return resenerrors.NewArchiveError(
			fmt.Sprintf("Failed to write archive %s", filename),
			err.Error(),
			fmt.Sprintf("Free disk space or pick another path; image %s was kept", ref),
			fmt.Errorf("failed to write image %s to %s: %w", ref, filename, err),
		)
	}
	slog.Info("Wrote image archive", "file", filename, "bytes", written, "image", ref)

	if _, err := a.api.ImageRemove(ctx, ref, image.RemoveOptions{PruneChildren: true}); err != nil {
		return resenerrors.FromRuntime("remove", "image "+ref, err)
	}
	slog.Debug("Removed intermediate image", "image", ref, "id", committed.ID)
	return nil
}

// writeAtomic copies r into a temporary file next to filename and renames it
// into place once the data is synced.
func writeAtomic(filename string, r io.Reader) (int64, error) {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, filename)
	}
	if err != nil {
		if removeErr := os.Remove(tmpName); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			slog.Warn("Failed to remove partial archive", "path", tmpName, "error", removeErr)
		}
		return written, err
	}
	return written, nil
}

// Import loads an archive written by Export and returns the id of the first
// image it contains.
func (a *Archiver) Import(ctx context.Context, filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", resenerrors.NewFileSystemError(
			fmt.Sprintf("Cannot open archive %s", filename),
			err.Error(),
			"Check the archive path",
			fmt.Errorf("failed to open archive %s: %w", filename, err),
		)
	}
	defer f.Close()

	slog.Info("Loading image archive", "file", filename)
	resp, err := a.api.ImageLoad(ctx, f)
	if err != nil {
		return "", loadFailed(filename, err)
	}
	defer resp.Body.Close()

	loaded, err := parseLoadOutput(resp.Body, resp.JSON)
	if err != nil {
		return "", loadFailed(filename, err)
	}
	if len(loaded) == 0 {
		return "", loadFailed(filename, errors.New("archive contained no image"))
	}

	id, err := a.resolveID(ctx, loaded[0])
	if err != nil {
		return "", err
	}
	if len(loaded) > 1 {
		slog.Debug("Archive contained several images, using the first", "file", filename, "images", loaded)
	}

	slog.Info("Loaded image", "file", filename, "id", id)
	return id, nil
}

// parseLoadOutput collects the image ids and references reported by a load,
// in order. The ids carry their "sha256:" prefix.
func parseLoadOutput(r io.Reader, isJSON bool) ([]string, error) {
	var lines []string
	if isJSON {
		dec := json.NewDecoder(r)
		for {
			var msg jsonmessage.JSONMessage
			if err := dec.Decode(&msg); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, fmt.Errorf("failed to decode load output: %w", err)
			}
			if msg.Error != nil {
				return nil, msg.Error
			}
			if msg.ErrorMessage != "" {
				return nil, errors.New(msg.ErrorMessage)
			}
			lines = append(lines, strings.Split(msg.Stream, "\n")...)
		}
	} else {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read load output: %w", err)
		}
	}

	var loaded []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, loadedIDPrefix):
			loaded = append(loaded, strings.TrimSpace(strings.TrimPrefix(line, loadedIDPrefix)))
		case strings.HasPrefix(line, loadedRefPrefix):
			loaded = append(loaded, strings.TrimSpace(strings.TrimPrefix(line, loadedRefPrefix)))
		}
	}
	return loaded, nil
}

// resolveID maps a loaded reference to the id of the local image.
func (a *Archiver) resolveID(ctx context.Context, loaded string) (string, error) {
	if strings.HasPrefix(loaded, "sha256:") {
		return loaded, nil
	}

	images, err := a.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", loaded)),
	})
	if err != nil {
		return "", resenerrors.FromRuntime("list", "images", err)
	}
	if len(images) == 0 {
		return "", resenerrors.NewArchiveError(
			fmt.Sprintf("Loaded image %s is not in the local store", loaded),
			"the runtime reported the image but does not list it",
			"Run 'docker images' to inspect the local store",
			fmt.Errorf("loaded image %s not found after load: %w", loaded, resenerrors.ErrNotFound),
		)
	}
	return images[0].ID, nil
}

func loadFailed(filename string, err error) error {
	return resenerrors.NewArchiveError(
		fmt.Sprintf("Failed to load archive %s", filename),
		err.Error(),
		"Check that the file is a complete image archive written by 'resen export'",
		fmt.Errorf("failed to load image archive %s: %w", filename, err),
	)
}
