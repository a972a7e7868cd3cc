// Package device implements the device-tensor adapter contract:
// a uniform host<->device tensor round-trip per backend. Real CUDA/Vulkan/
// OpenCL bindings are out of scope; this package gives the
// interface a concrete CPU (identity) implementation plus stubs for the
// other backends that always report BackendUnavailable. A backend with no
// registered adapter resolves to CPU at construction time; a registered
// stub resolves as its own backend and its transfers fail, so CycleRuntime
// runs each kernel on the host input instead. Both paths are deterministic
// and testable without real accelerator hardware.
package device

import (
	"fmt"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/tensor"
)

// Backend names the logical compute target requested by a deployment
// descriptor.
type Backend string

const (
	CPU     Backend = "cpu"
	GPU     Backend = "gpu"
	FPGA    Backend = "fpga"
	WASM    Backend = "wasm"
	Quantum Backend = "quantum"
)

// Handle is an opaque device-resident tensor reference.
type Handle interface {
	Backend() Backend
}

// Adapter moves tensors across the host/device boundary. Round-trip must
// preserve dtype, shape, and bytes exactly.
type Adapter interface {
	Backend() Backend
	ToDevice(t tensor.Tensor) (Handle, error)
	ToHost(h Handle) (tensor.Tensor, error)
}

// Registry records which adapters are available and resolves the effective
// backend for a requested one, downgrading to CPU when absent.
type Registry struct {
	adapters map[Backend]Adapter
}

// NewRegistry creates a Registry pre-populated with the always-present CPU
// adapter.
func NewRegistry() *Registry {
	r := &Registry{adapters: map[Backend]Adapter{}}
	r.Register(NewCPUAdapter())
	return r
}

// Register installs an adapter, keyed by its own Backend().
func (r *Registry) Register(a Adapter) { r.adapters[a.Backend()] = a }

// Resolve returns the adapter for requested, or the CPU adapter plus
// ErrBackendUnavailable if requested has no registered adapter.
func (r *Registry) Resolve(requested Backend) (Adapter, Backend, error) {
	if a, ok := r.adapters[requested]; ok {
		return a, requested, nil
	}
	return r.adapters[CPU], CPU, fmt.Errorf("backend %s: %w", requested, herr.ErrBackendUnavailable)
}

type cpuHandle struct{ t tensor.Tensor }

func (cpuHandle) Backend() Backend { return CPU }

// CPUAdapter is the always-present identity adapter: ToDevice/ToHost are
// no-ops over a Clone, since the CPU backend never actually moves bytes.
type CPUAdapter struct{}

// NewCPUAdapter constructs the identity CPU adapter.
func NewCPUAdapter() CPUAdapter { return CPUAdapter{} }

func (CPUAdapter) Backend() Backend { return CPU }

func (CPUAdapter) ToDevice(t tensor.Tensor) (Handle, error) {
	return cpuHandle{t: t.Clone()}, nil
}

func (CPUAdapter) ToHost(h Handle) (tensor.Tensor, error) {
	ch, ok := h.(cpuHandle)
	if !ok {
		return tensor.Tensor{}, herr.ErrBackendUnavailable
	}
	return ch.t.Clone(), nil
}

// stubAdapter fails every transfer with ErrBackendUnavailable. Once
// registered, Registry.Resolve returns it as its own backend without error;
// only a backend with no registered adapter downgrades to CPU.
type stubAdapter struct{ backend Backend }

func (s stubAdapter) Backend() Backend { return s.backend }
func (s stubAdapter) ToDevice(tensor.Tensor) (Handle, error) {
	return nil, herr.ErrBackendUnavailable
}
func (s stubAdapter) ToHost(Handle) (tensor.Tensor, error) {
	return tensor.Tensor{}, herr.ErrBackendUnavailable
}

// NewStubAdapter returns a never-available adapter for backend, used by
// callers that want Registry.Resolve to observe a present-but-failing
// adapter rather than an absent one (e.g. to distinguish "not compiled in"
// from "compiled in but hardware missing").
func NewStubAdapter(backend Backend) Adapter { return stubAdapter{backend: backend} }
