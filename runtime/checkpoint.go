package runtime

import (
	"fmt"
	"io"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/kernel/compiler"
	"github.com/sbl8/harmonics/serialize"
	"github.com/sbl8/harmonics/tensor"
)

// SaveCheckpoint persists the runtime's full state — node tensors, weights,
// precision bits, chain hash — together with the digest of the graph it was
// taken at.
func (rt *CycleRuntime) SaveCheckpoint(w io.Writer) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	cloneAll := func(ts []tensor.Tensor) []tensor.Tensor {
		out := make([]tensor.Tensor, len(ts))
		for i, t := range ts {
			out[i] = t.Clone()
		}
		return out
	}
	c := &serialize.Checkpoint{
		GraphDigest:     compiler.GraphDigest(rt.graph),
		ProducerTensors: cloneAll(rt.state.ProducerTensors),
		ConsumerTensors: cloneAll(rt.state.ConsumerTensors),
		LayerTensors:    cloneAll(rt.state.LayerTensors),
		Weights:         cloneAll(rt.state.Weights),
		PrecisionBits:   append([]uint8(nil), rt.state.PrecisionBits...),
		ChainHash:       rt.state.ChainHash,
	}
	return serialize.WriteCheckpoint(w, c, rt.compressCheckpoints)
}

// LoadCheckpoint restores a checkpoint into the runtime. Loading into a
// graph whose digest differs from the one the checkpoint was taken at
// fails with CheckpointMismatch.
func (rt *CycleRuntime) LoadCheckpoint(r io.Reader) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	c, err := serialize.ReadCheckpoint(r)
	if err != nil {
		return err
	}
	want := compiler.GraphDigest(rt.graph)
	if c.GraphDigest != want {
		return &herr.CheckpointMismatchError{
			Want: fmt.Sprintf("%x", want),
			Got:  fmt.Sprintf("%x", c.GraphDigest),
		}
	}

	rt.state.ProducerTensors = c.ProducerTensors
	rt.state.ConsumerTensors = c.ConsumerTensors
	rt.state.LayerTensors = c.LayerTensors
	rt.state.Weights = c.Weights
	rt.state.PrecisionBits = c.PrecisionBits
	rt.state.ChainHash = c.ChainHash
	return nil
}

// SetCheckpointCompression toggles zstd compression of saved checkpoints'
// state segment.
func (rt *CycleRuntime) SetCheckpointCompression(on bool) {
	rt.compressCheckpoints = on
}
