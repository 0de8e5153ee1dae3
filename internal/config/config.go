package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. RESEN_DOCKER_HOST.
const EnvPrefix = "RESEN"

// Config holds the runtime settings shared by all commands.
type Config struct {
	Docker    DockerConfig    `mapstructure:"docker" validate:"required"`
	Container ContainerConfig `mapstructure:"container" validate:"required"`
	Settle    SettleConfig    `mapstructure:"settle" validate:"required"`
	Export    ExportConfig    `mapstructure:"export" validate:"required"`
	Progress  ProgressConfig  `mapstructure:"progress" validate:"required"`
	State     StateConfig     `mapstructure:"state" validate:"required"`
}

// DockerConfig controls the connection to the Docker daemon.
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host string `mapstructure:"host"`
	// ConnectTimeout bounds how long to wait for a slow or starting daemon.
	ConnectTimeout time.Duration `mapstructure:"connectTimeout" validate:"gt=0"`
}

// ContainerConfig controls how bucket containers are created.
type ContainerConfig struct {
	Prefix      string        `mapstructure:"prefix" validate:"required"`
	Command     string        `mapstructure:"command" validate:"required"`
	User        string        `mapstructure:"user" validate:"required"`
	StopTimeout time.Duration `mapstructure:"stopTimeout" validate:"gte=0"`
}

// SettleConfig bounds the wait for a container status to stabilise after
// start or stop.
type SettleConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gtfield=Interval"`
}

// ExportConfig names the repository committed containers are stored under.
type ExportConfig struct {
	Repository string `mapstructure:"repository" validate:"required"`
}

type ProgressConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

type StateConfig struct {
	File string `mapstructure:"file" validate:"required"`
}

var validate = validator.New()

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Docker: DockerConfig{
			ConnectTimeout: 5 * time.Minute,
		},
		Container: ContainerConfig{
			Prefix:      "resen_",
			Command:     "bash",
			User:        "jovyan",
			StopTimeout: 10 * time.Second,
		},
		Settle: SettleConfig{
			Interval: 50 * time.Millisecond,
			Timeout:  10 * time.Second,
		},
		Export: ExportConfig{
			Repository: "earthcubeingeo/resen-lite",
		},
		Progress: ProgressConfig{
			Interval: time.Second,
		},
		State: StateConfig{
			File: filepath.Join(xdg.StateHome, "resen", "state.json"),
		},
	}
}

// Load reads configuration from path (optional) and RESEN_* environment
// variables on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("docker.host", d.Docker.Host)
	v.SetDefault("docker.connectTimeout", d.Docker.ConnectTimeout)
	v.SetDefault("container.prefix", d.Container.Prefix)
	v.SetDefault("container.command", d.Container.Command)
	v.SetDefault("container.user", d.Container.User)
	v.SetDefault("container.stopTimeout", d.Container.StopTimeout)
	v.SetDefault("settle.interval", d.Settle.Interval)
	v.SetDefault("settle.timeout", d.Settle.Timeout)
	v.SetDefault("export.repository", d.Export.Repository)
	v.SetDefault("progress.interval", d.Progress.Interval)
	v.SetDefault("state.file", d.State.File)
}
