// Package config loads the YAML deployment descriptor
// and the HARMONICS_* environment variables. YAML via gopkg.in/yaml.v3
// follows orbas1-Synnergy, the pack's config-layer donor; environment
// reads happen once into an Env value rather than per call.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/internal/hlog"
	"github.com/sbl8/harmonics/kernel/registry"
	"github.com/sbl8/harmonics/plugin"
)

// PartitionBinding names one partition's boundary endpoint: where it runs
// and how its boundary tensors travel.
type PartitionBinding struct {
	Name          string `yaml:"name"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	TransportKind string `yaml:"transport_kind"`
	Compressed    bool   `yaml:"compressed"`
	Bandwidth     int    `yaml:"bandwidth"`
}

// URI renders the binding as a transport URI.
func (p PartitionBinding) URI() string {
	switch p.TransportKind {
	case "file":
		return fmt.Sprintf("file:%s", p.Host)
	case "socket":
		return fmt.Sprintf("socket:%d", p.Port)
	default:
		return fmt.Sprintf("%s:%s:%d", p.TransportKind, p.Host, p.Port)
	}
}

// Deployment is the descriptor consulted at runtime construction and by
// the partitioner/scheduler.
type Deployment struct {
	Backend        string             `yaml:"backend"`
	Secure         bool               `yaml:"secure"`
	Partitions     []PartitionBinding `yaml:"partitions"`
	ShaderCacheDir string             `yaml:"shader_cache_dir"`
	Compressed     bool               `yaml:"compressed"`
}

// DeviceBackend maps the descriptor's backend string onto a device.Backend,
// defaulting to CPU.
func (d *Deployment) DeviceBackend() device.Backend {
	switch d.Backend {
	case "gpu":
		return device.GPU
	case "fpga":
		return device.FPGA
	case "wasm":
		return device.WASM
	case "quantum":
		return device.Quantum
	default:
		return device.CPU
	}
}

// LoadDeployment reads and parses a YAML deployment descriptor.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDeployment(data)
}

// ParseDeployment parses a YAML deployment descriptor from memory.
func ParseDeployment(data []byte) (*Deployment, error) {
	var d Deployment
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &d, nil
}

// Env holds the HARMONICS_* process environment knobs, read once at
// startup.
type Env struct {
	ShaderCacheDir  string
	EnableWASM      bool
	EnableQuantumHW bool
	QuantumHWLib    string
}

// Devices builds a device registry honoring the environment gates. The
// WASM stub registers only when its enable flag is set. The quantum
// backend registers only when both HARMONICS_ENABLE_QUANTUM_HW and
// HARMONICS_QUANTUM_HW_LIB are set AND the named hardware-bridge library
// loads through the plugin registry ABI into reg; its kernels land in reg
// and the quantum tensor adapter becomes available. Any failure leaves the
// backend absent, so a quantum request downgrades to CPU.
func (e Env) Devices(reg *registry.Registry) *device.Registry {
	r := device.NewRegistry()
	if e.EnableWASM {
		r.Register(device.NewStubAdapter(device.WASM))
	}
	if e.EnableQuantumHW && e.QuantumHWLib != "" && reg != nil {
		if _, err := plugin.NewTable().Load(e.QuantumHWLib, reg); err != nil {
			hlog.For("config").WithError(err).WithField("lib", e.QuantumHWLib).
				Warn("quantum hardware bridge not loaded")
		} else {
			r.Register(device.NewQuantumAdapter())
		}
	}
	return r
}

// ReadEnv snapshots the HARMONICS_* environment variables.
func ReadEnv() Env {
	return Env{
		ShaderCacheDir:  os.Getenv("HARMONICS_SHADER_CACHE"),
		EnableWASM:      os.Getenv("HARMONICS_ENABLE_WASM") != "",
		EnableQuantumHW: os.Getenv("HARMONICS_ENABLE_QUANTUM_HW") != "",
		QuantumHWLib:    os.Getenv("HARMONICS_QUANTUM_HW_LIB"),
	}
}
