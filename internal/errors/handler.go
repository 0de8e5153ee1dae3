package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"resen/internal/ui"
)

const (
	logFileName     = "resen.log"
	maxLogSizeBytes = 10 * 1024 * 1024
	maxRotatedLogs  = 4
)

type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
}

func NewErrorHandler() (*ErrorHandler, error) {
	logFile, err := createLogFile()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	return &ErrorHandler{
		logger:  logger,
		console: ui.NewConsole(),
	}, nil
}

// logDir returns the directory error logs are written to. RESEN_LOG_DIR
// overrides the XDG state location.
func logDir() string {
	if customLogDir := os.Getenv("RESEN_LOG_DIR"); customLogDir != "" {
		return customLogDir
	}
	return filepath.Join(xdg.StateHome, "resen", "logs")
}

// ensureLogDir creates the log directory, falling back to the current
// directory when it is not writable.
func ensureLogDir() (string, bool, error) {
	dir := logDir()
	if err := os.MkdirAll(dir, 0750); err == nil {
		probe := filepath.Join(dir, ".test_write")
		if f, probeErr := os.Create(probe); probeErr == nil {
			f.Close()
			os.Remove(probe)
			return dir, false, nil
		}
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return "", true, fmt.Errorf("cannot determine current directory for fallback logging: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Warning: cannot write to log directory %s. Falling back to current directory for logging.\n", dir)
	return currentDir, true, nil
}

// rotateLogFile shifts resen.log to resen.log.1 and so on, dropping the oldest.
func rotateLogFile(logPath string) error {
	oldest := fmt.Sprintf("%s.%d", logPath, maxRotatedLogs)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			slog.Warn("Failed to remove old log file", "path", oldest, "error", err)
		}
	}

	for i := maxRotatedLogs - 1; i > 0; i-- {
		from := fmt.Sprintf("%s.%d", logPath, i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		to := fmt.Sprintf("%s.%d", logPath, i+1)
		if err := os.Rename(from, to); err != nil {
			slog.Warn("Failed to rotate log file", "old", from, "new", to, "error", err)
		}
	}

	if _, err := os.Stat(logPath); err == nil {
		return os.Rename(logPath, logPath+".1")
	}
	return nil
}

func checkLogRotation(logPath string) error {
	info, err := os.Stat(logPath)
	if err != nil {
		return nil
	}
	if info.Size() >= maxLogSizeBytes {
		return rotateLogFile(logPath)
	}
	return nil
}

func createLogFile() (*os.File, error) {
	dir, _, err := ensureLogDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(dir, logFileName)
	if err := checkLogRotation(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to rotate log file: %v\n", err)
	}

	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	var resenErr *ResenError
	if errors.As(err, &resenErr) {
		h.handleResenError(resenErr)
	} else {
		h.handleGenericError(err)
	}
}

func (h *ErrorHandler) handleResenError(err *ResenError) {
	h.logStructuredError(err)

	message := h.console.FormatErrorMessage(err.Context, err.Cause, err.Suggestion)
	if message == "" {
		message = err.Error()
	}
	h.console.PrintError(message)
}

func (h *ErrorHandler) handleGenericError(err error) {
	h.logger.Error("Unhandled error occurred",
		"error", err.Error(),
		"type", "generic",
	)

	h.console.PrintError(err.Error())
}

func (h *ErrorHandler) logStructuredError(err *ResenError) {
	logAttrs := []slog.Attr{
		slog.String("error", err.OriginalErr.Error()),
		slog.String("type", getErrorTypeName(err.Type)),
		slog.String("context", err.Context),
	}

	if err.Cause != "" {
		logAttrs = append(logAttrs, slog.String("cause", err.Cause))
	}

	if err.Suggestion != "" {
		logAttrs = append(logAttrs, slog.String("suggestion", err.Suggestion))
	}

	h.logger.LogAttrs(context.TODO(), slog.LevelError, "Resen error occurred", logAttrs...)
}

func getErrorTypeName(errType error) string {
	switch errType {
	case ErrNotFound:
		return "not_found"
	case ErrRuntimeFailed:
		return "runtime_failed"
	case ErrMalformedInput:
		return "malformed_input"
	case ErrPullFailed:
		return "pull_failed"
	case ErrExecFailed:
		return "exec_failed"
	case ErrCommandNotFound:
		return "command_not_found"
	case ErrArchiveFailed:
		return "archive_failed"
	case ErrSettleTimeout:
		return "settle_timeout"
	case ErrConfigInvalid:
		return "config_invalid"
	case ErrFileSystemFailed:
		return "filesystem_failed"
	case ErrBucketNotFound:
		return "bucket_not_found"
	default:
		return "unknown"
	}
}
