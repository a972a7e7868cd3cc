// Package runtime implements CycleRuntime, the scheduled evaluator of a
// compiled graph's cycle and the central component of the harmonics
// pipeline. State lives in flat per-node-kind slices sized at
// construction; tensors are variably shaped, so slots hold tensor values
// rather than fixed arena offsets.
package runtime

import (
	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/tensor"
)

// CycleState is the runtime's mutable state for one graph: the latest
// tensor observed at each node, per-layer weights and precision bits, and
// the rolling secure-mode chain hash.
type CycleState struct {
	ProducerTensors []tensor.Tensor
	ConsumerTensors []tensor.Tensor
	LayerTensors    []tensor.Tensor
	Weights         []tensor.Tensor
	PrecisionBits   []uint8
	ChainHash       [32]byte

	// EffectiveBackend records the backend CycleRuntime actually dispatches
	// to, which may differ from the requested one when BackendUnavailable
	// causes a silent downgrade to CPU.
	EffectiveBackend device.Backend
}

// NewCycleState allocates a CycleState sized to g: tensor slots start
// empty, weights start empty (allocated lazily on first training flow),
// and precision bits are filled by the caller from policy.
func NewCycleState(g *ir.Graph) *CycleState {
	return &CycleState{
		ProducerTensors: make([]tensor.Tensor, len(g.Producers)),
		ConsumerTensors: make([]tensor.Tensor, len(g.Consumers)),
		LayerTensors:    make([]tensor.Tensor, len(g.Layers)),
		Weights:         make([]tensor.Tensor, len(g.Layers)),
		PrecisionBits:   make([]uint8, len(g.Layers)),
	}
}

