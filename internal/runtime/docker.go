package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/client"

	"resen/internal/config"
	resenerrors "resen/internal/errors"
)

const (
	pingTimeout         = 10 * time.Second
	initialRetryBackoff = 250 * time.Millisecond
	maxRetryBackoff     = 10 * time.Second
)

// NewDockerClient connects to the Docker daemon and waits up to
// cfg.ConnectTimeout for it to answer a ping. When neither cfg.Host nor
// DOCKER_HOST is set, well-known socket locations are tried as well.
func NewDockerClient(ctx context.Context, cfg config.DockerConfig) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, resenerrors.NewRuntimeError(
			"Cannot create Docker client",
			err.Error(),
			"Check DOCKER_HOST and the docker.host setting",
			fmt.Errorf("failed to create Docker client: %w", err),
		)
	}

	if err := ping(ctx, cli); err == nil {
		slog.Debug("Connected to Docker daemon", "host", cli.DaemonHost())
		return cli, nil
	}

	if cfg.Host == "" && os.Getenv(client.EnvOverrideHost) == "" {
		if fallback := tryFallbackSockets(ctx); fallback != nil {
			cli.Close()
			return fallback, nil
		}
	}

	if err := waitForDaemon(ctx, cli, cfg.ConnectTimeout); err != nil {
		cli.Close()
		return nil, resenerrors.NewRuntimeError(
			"Cannot connect to the Docker daemon",
			err.Error(),
			"Start Docker, or point docker.host at a running daemon",
			fmt.Errorf("failed to connect to Docker daemon at %s within %s: %w", cli.DaemonHost(), cfg.ConnectTimeout, err),
		)
	}

	slog.Debug("Connected to Docker daemon", "host", cli.DaemonHost())
	return cli, nil
}

// waitForDaemon pings cli with exponential backoff until it answers or
// timeout elapses.
func waitForDaemon(ctx context.Context, cli *client.Client, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryBackoff
	b.MaxInterval = maxRetryBackoff
	b.MaxElapsedTime = timeout

	return backoff.RetryNotify(
		func() error { return ping(ctx, cli) },
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			slog.Warn("Docker daemon not reachable, retrying", "host", cli.DaemonHost(), "error", err, "retryIn", next)
		},
	)
}

func ping(ctx context.Context, cli *client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

func tryFallbackSockets(ctx context.Context) *client.Client {
	for _, host := range getDockerSocketPaths() {
		if _, err := os.Stat(strings.TrimPrefix(host, "unix://")); err != nil {
			continue
		}

		cli, err := client.NewClientWithOpts(
			client.WithHost(host),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}
		if err := ping(ctx, cli); err != nil {
			cli.Close()
			continue
		}

		slog.Info("Using Docker socket", "host", host)
		return cli
	}
	return nil
}

// getDockerSocketPaths lists daemon sockets of common Docker installations.
func getDockerSocketPaths() []string {
	paths := []string{"unix:///var/run/docker.sock"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			"unix://"+filepath.Join(home, ".docker", "run", "docker.sock"),
			"unix://"+filepath.Join(home, ".colima", "docker.sock"),
			"unix://"+filepath.Join(home, ".rd", "docker.sock"),
		)
	}

	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		paths = append(paths, "unix://"+filepath.Join(runtimeDir, "docker.sock"))
	}

	return paths
}
