package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"resen/internal/app"
	"resen/internal/config"
	resenerrors "resen/internal/errors"
	"resen/internal/parser"
	"resen/internal/ui"
	"resen/pkg/bucket"
)

// version is set at build time via ldflags
var version = "dev"

var (
	configPath string
	logLevel   string

	factory *app.ComponentFactory
	console = ui.NewConsole()
)

var rootCmd = &cobra.Command{
	Use:     "resen",
	Short:   "Resen - reproducible, containerized workspaces",
	Version: version,
	Long: `Resen manages the Docker containers backing Resen buckets: pulling the bucket
image, creating and starting its container, running commands inside it, and moving
it between machines as an image archive.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := setupLogging(logLevel); err != nil {
			fail(err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			fail(resenerrors.NewConfigError(
				"Invalid resen configuration",
				err.Error(),
				"Check the --config file and RESEN_* environment variables",
				err,
			))
		}
		factory = app.NewComponentFactory(cfg)
	},
}

// setupLogging installs a charmbracelet logger as the slog default on stderr.
func setupLogging(level string) error {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return resenerrors.NewConfigError(
			fmt.Sprintf("Invalid log level %q", level),
			err.Error(),
			"Use one of: debug, info, warn, error",
			fmt.Errorf("invalid log level %q: %w", level, err),
		)
	}

	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
	})
	slog.SetDefault(slog.New(l))
	return nil
}

// fail reports err to the user and the error log, then exits.
func fail(err error) {
	resenerrors.HandleError(err)
	os.Exit(1)
}

// loadBucket parses the bucket file named by the --file flag.
func loadBucket(cmd *cobra.Command) *bucket.Bucket {
	file, _ := cmd.Flags().GetString("file")
	b, err := parser.Parse(file)
	if err != nil {
		fail(err)
	}
	slog.Debug("Bucket parsed successfully", "name", b.Metadata.Name, "file", file)
	return b
}

// withWorkspace connects to the runtime, runs fn and exits on failure.
func withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, ws *app.Workspace) error) {
	ctx := cmd.Context()

	ws, err := factory.NewWorkspace(ctx, console)
	if err != nil {
		fail(err)
	}

	runErr := fn(ctx, ws)
	if err := ws.Close(); err != nil {
		slog.Warn("Failed to close Docker client", "error", err)
	}
	if runErr != nil {
		fail(runErr)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a resen config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	for _, cmd := range bucketCommands() {
		cmd.Flags().StringP("file", "f", "", "Path to the bucket YAML file (required)")
		if err := cmd.MarkFlagRequired("file"); err != nil {
			slog.Error("Failed to mark file flag as required", "command", cmd.Name(), "error", err)
		}
		rootCmd.AddCommand(cmd)
	}

	execCmd.Flags().StringP("user", "u", "", "User to run the command as (default from container.user)")
	execCmd.Flags().BoolP("detach", "d", true, "Start the command without waiting for its output")

	exportCmd.Flags().StringP("output", "o", "", "Archive file to write (required)")
	exportCmd.Flags().StringP("tag", "t", "", "Tag for the committed image (default: generated)")
	if err := exportCmd.MarkFlagRequired("output"); err != nil {
		slog.Error("Failed to mark output flag as required for export command", "error", err)
	}

	rootCmd.AddCommand(importCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
