package runtime

import (
	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/kernel/compiler"
)

// Graph returns the graph this runtime executes.
func (rt *CycleRuntime) Graph() *ir.Graph { return rt.graph }

// ChainHash returns the current secure-mode chain hash.
func (rt *CycleRuntime) ChainHash() [32]byte {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state.ChainHash
}

// SetChainHash seeds the chain hash, used by the distributed scheduler to
// carry an incoming proof into a partition's pass.
func (rt *CycleRuntime) SetChainHash(h [32]byte) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.state.ChainHash = h
}

// SyncGraph re-synchronises the runtime after a graph edit: the op plan is recompiled, state
// vectors are resized, and existing tensors, weights, and precision bits
// are preserved by node name across any index reshuffle the edit caused.
func (rt *CycleRuntime) SyncGraph() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.syncLocked()
}

func (rt *CycleRuntime) syncLocked() error {
	if rt.graphRevision == rt.graph.Revision {
		return nil
	}

	ops, err := compiler.Compile(rt.graph, rt.policy, rt.hw)
	if err != nil {
		return err
	}

	next := NewCycleState(rt.graph)
	next.ChainHash = rt.state.ChainHash
	next.EffectiveBackend = rt.state.EffectiveBackend
	for i := range rt.graph.Layers {
		next.PrecisionBits[i] = rt.policy.BitsFor(uint32(i), rt.hw)
	}

	for name, oldID := range rt.namesSnapshot {
		newID, ok := rt.graph.Lookup(name)
		if !ok || newID.Kind != oldID.Kind {
			continue
		}
		switch oldID.Kind {
		case ir.KindProducer:
			next.ProducerTensors[newID.Index] = rt.state.ProducerTensors[oldID.Index]
		case ir.KindConsumer:
			next.ConsumerTensors[newID.Index] = rt.state.ConsumerTensors[oldID.Index]
		case ir.KindLayer:
			next.LayerTensors[newID.Index] = rt.state.LayerTensors[oldID.Index]
			next.Weights[newID.Index] = rt.state.Weights[oldID.Index]
			next.PrecisionBits[newID.Index] = rt.state.PrecisionBits[oldID.Index]
		}
	}

	// Bindings are keyed by index; remap them by name the same way.
	producers := map[uint32]Producer{}
	consumers := map[uint32]Consumer{}
	for name, oldID := range rt.namesSnapshot {
		newID, ok := rt.graph.Lookup(name)
		if !ok || newID.Kind != oldID.Kind {
			continue
		}
		switch oldID.Kind {
		case ir.KindProducer:
			if p, bound := rt.producers[oldID.Index]; bound {
				producers[newID.Index] = p
			}
		case ir.KindConsumer:
			if c, bound := rt.consumers[oldID.Index]; bound {
				consumers[newID.Index] = c
			}
		}
	}

	rt.ops = ops
	rt.state = next
	rt.producers = producers
	rt.consumers = consumers
	rt.graphRevision = rt.graph.Revision
	rt.namesSnapshot = snapshotNames(rt.graph)
	return nil
}

func snapshotNames(g *ir.Graph) map[string]ir.NodeID {
	out := make(map[string]ir.NodeID, g.NodeCount())
	for name, id := range g.Names() {
		out[name] = id
	}
	return out
}
