package bucket

import (
	"fmt"
	"strconv"
	"strings"
)

// Access modes for a storage mount.
const (
	ModeReadOnly  = "ro"
	ModeReadWrite = "rw"
)

// Bucket is the root object describing one Resen workspace.
// It's populated by parsing the user's bucket YAML file.
type Bucket struct {
	APIVersion string        `yaml:"apiVersion" mapstructure:"apiVersion" validate:"required"`
	Kind       string        `yaml:"kind" mapstructure:"kind" validate:"required,eq=Bucket"`
	Metadata   Metadata      `yaml:"metadata" mapstructure:"metadata" validate:"required"`
	Docker     ContainerSpec `yaml:"docker" mapstructure:"docker" validate:"required"`
}

// Metadata contains workspace-level metadata.
type Metadata struct {
	Name        string            `yaml:"name" mapstructure:"name" validate:"required"`
	Description string            `yaml:"description" mapstructure:"description"`
	Labels      map[string]string `yaml:"labels,omitempty" mapstructure:"labels"`
}

// ContainerSpec declares the container backing a bucket. The orchestration
// code treats it as read-only input; only the caller fills in ContainerID.
type ContainerSpec struct {
	Name        string        `yaml:"name" mapstructure:"name" validate:"required"`
	Image       string        `yaml:"image" mapstructure:"image" validate:"required"`
	ImageID     string        `yaml:"imageId" mapstructure:"imageId" validate:"required"`
	PullImage   string        `yaml:"pullImage" mapstructure:"pullImage" validate:"required"`
	Ports       []PortMapping `yaml:"ports" mapstructure:"ports" validate:"dive"`
	Storage     []Mount       `yaml:"storage" mapstructure:"storage" validate:"dive"`
	ContainerID string        `yaml:"container,omitempty" mapstructure:"container"`
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostPort      int  `yaml:"hostPort" mapstructure:"hostPort" validate:"min=1,max=65535"`
	ContainerPort int  `yaml:"containerPort" mapstructure:"containerPort" validate:"min=1,max=65535"`
	TCP           bool `yaml:"tcp" mapstructure:"tcp"`
}

// Protocol returns "tcp" or "udp".
func (p PortMapping) Protocol() string {
	if p.TCP {
		return "tcp"
	}
	return "udp"
}

// Key renders the mapping in runtime form, e.g. "8888/tcp".
func (p PortMapping) Key() string {
	return strconv.Itoa(p.ContainerPort) + "/" + p.Protocol()
}

// Mount binds a host directory into the container.
type Mount struct {
	HostPath      string `yaml:"hostPath" mapstructure:"hostPath" validate:"required"`
	ContainerPath string `yaml:"containerPath" mapstructure:"containerPath" validate:"required"`
	Mode          string `yaml:"mode" mapstructure:"mode" validate:"required,oneof=ro rw"`
}

// ReadOnly reports whether the mount is read-only.
func (m Mount) ReadOnly() bool {
	return m.Mode == ModeReadOnly
}

// ContainerName derives the runtime container name from the bucket name.
func (s *ContainerSpec) ContainerName(prefix string) string {
	return prefix + s.Name
}

// Validate checks the structural invariants that struct tags cannot express.
func (s *ContainerSpec) Validate() error {
	ports := make(map[string]bool, len(s.Ports))
	for _, p := range s.Ports {
		key := p.Key()
		if ports[key] {
			return fmt.Errorf("duplicate container port %s", key)
		}
		ports[key] = true
	}

	paths := make(map[string]bool, len(s.Storage))
	for _, m := range s.Storage {
		if paths[m.ContainerPath] {
			return fmt.Errorf("duplicate container path %s", m.ContainerPath)
		}
		paths[m.ContainerPath] = true
	}

	if s.PullImage != "" && !strings.Contains(s.PullImage, "@") {
		return fmt.Errorf("pull image %q must be a repository@digest reference", s.PullImage)
	}

	return nil
}
