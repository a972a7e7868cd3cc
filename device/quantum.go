package device

import (
	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/tensor"
)

type quantumHandle struct{ t tensor.Tensor }

func (quantumHandle) Backend() Backend { return Quantum }

// QuantumAdapter fronts a loaded quantum-hardware bridge. The bridge's
// kernels arrive through the plugin registry ABI; the adapter itself only
// moves tensors across the boundary, and the round-trip is bit-preserving
// like every other adapter.
type QuantumAdapter struct{}

// NewQuantumAdapter constructs the adapter registered once a hardware
// bridge library has been loaded.
func NewQuantumAdapter() QuantumAdapter { return QuantumAdapter{} }

func (QuantumAdapter) Backend() Backend { return Quantum }

func (QuantumAdapter) ToDevice(t tensor.Tensor) (Handle, error) {
	return quantumHandle{t: t.Clone()}, nil
}

func (QuantumAdapter) ToHost(h Handle) (tensor.Tensor, error) {
	qh, ok := h.(quantumHandle)
	if !ok {
		return tensor.Tensor{}, herr.ErrBackendUnavailable
	}
	return qh.t.Clone(), nil
}
