package errors

import (
	"errors"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
)

var (
	ErrNotFound         = errors.New("resource not found")
	ErrRuntimeFailed    = errors.New("runtime operation failed")
	ErrMalformedInput   = errors.New("malformed input")
	ErrPullFailed       = errors.New("image pull failed")
	ErrExecFailed       = errors.New("command execution failed")
	ErrCommandNotFound  = errors.New("command not found")
	ErrArchiveFailed    = errors.New("archive transfer failed")
	ErrSettleTimeout    = errors.New("container status did not settle")
	ErrConfigInvalid    = errors.New("configuration invalid")
	ErrFileSystemFailed = errors.New("filesystem operation failed")
	ErrBucketNotFound   = errors.New("bucket file not found")
)

type ResenError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *ResenError) Error() string {
	return e.OriginalErr.Error()
}

func (e *ResenError) Unwrap() error {
	return e.OriginalErr
}

// Is matches the error kind, so errors.Is(err, ErrNotFound) holds for any
// ResenError of that type anywhere in the chain.
func (e *ResenError) Is(target error) bool {
	return e.Type == target
}

func NewResenError(errorType error, context, cause, suggestion string, originalErr error) *ResenError {
	return &ResenError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewNotFoundError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrNotFound, context, cause, suggestion, originalErr)
}

func NewRuntimeError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrRuntimeFailed, context, cause, suggestion, originalErr)
}

func NewMalformedInputError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrMalformedInput, context, cause, suggestion, originalErr)
}

func NewPullError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrPullFailed, context, cause, suggestion, originalErr)
}

func NewExecError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrExecFailed, context, cause, suggestion, originalErr)
}

func NewCommandNotFoundError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrCommandNotFound, context, cause, suggestion, originalErr)
}

func NewArchiveError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrArchiveFailed, context, cause, suggestion, originalErr)
}

func NewSettleTimeoutError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrSettleTimeout, context, cause, suggestion, originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewFileSystemError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrFileSystemFailed, context, cause, suggestion, originalErr)
}

func NewBucketError(context, cause, suggestion string, originalErr error) *ResenError {
	return NewResenError(ErrBucketNotFound, context, cause, suggestion, originalErr)
}

// FromRuntime wraps an error returned by the container runtime with the
// operation and resource it concerns. Missing objects become ErrNotFound,
// everything else ErrRuntimeFailed.
func FromRuntime(op, resource string, err error) error {
	if err == nil {
		return nil
	}

	wrapped := fmt.Errorf("failed to %s %s: %w", op, resource, err)
	if cerrdefs.IsNotFound(err) {
		return NewNotFoundError(
			fmt.Sprintf("Cannot %s %s", op, resource),
			fmt.Sprintf("%s no longer exists in the container runtime", resource),
			"Recreate the container or clear the recorded container id",
			wrapped,
		)
	}
	return NewRuntimeError(
		fmt.Sprintf("Cannot %s %s", op, resource),
		err.Error(),
		"Check that the Docker daemon is running and reachable",
		wrapped,
	)
}

// IsNotFound reports whether err, or anything it wraps, is a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || cerrdefs.IsNotFound(err)
}
