// Package compiler flattens a graph's cycle into the sequence of per-edge
// operations CycleRuntime drives, and derives the structural digests the
// caches and checkpoints key on.
package compiler

import (
	"encoding/binary"

	"lukechampine.com/blake3"

	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/policy"
)

// Op is one flattened cycle-line arrow: source -> target, optionally tagged
// with a function, backward flag, and the precision bits resolved for the
// source layer (when applicable).
type Op struct {
	Source      ir.NodeID
	Target      ir.NodeID
	Function    string
	HasFunc     bool
	Backward    bool
	Bits        uint8
	LineSeq     int
	SampleGroup int
}

// Compile walks g's cycle in declared order and emits the flat Op sequence
// CycleRuntime drives, consulting p once per layer encountered as a Source
// to resolve that layer's precision bits.
func Compile(g *ir.Graph, p policy.Policy, hw policy.HardwareCaps) ([]Op, error) {
	bitsCache := make(map[uint32]uint8)
	bitsFor := func(layerIndex uint32) uint8 {
		if b, ok := bitsCache[layerIndex]; ok {
			return b
		}
		b := p.BitsFor(layerIndex, hw)
		bitsCache[layerIndex] = b
		return b
	}

	var ops []Op
	for _, line := range g.Cycle {
		bits := uint8(32)
		if line.Source.Kind == ir.KindLayer {
			bits = bitsFor(line.Source.Index)
		}
		for _, a := range line.Arrows {
			ops = append(ops, Op{
				Source:      line.Source,
				Target:      a.Target,
				Function:    a.Function,
				HasFunc:     a.HasFunc,
				Backward:    a.Backward,
				Bits:        bits,
				LineSeq:     line.LineSeq,
				SampleGroup: line.SampleGroup,
			})
		}
	}
	return ops, nil
}

// GraphDigest returns a BLAKE3 digest over the graph's structural shape
// (node names/widths and cycle edges), used both as serialize's graph
// digest and as the first half of the compile-cache key.
func GraphDigest(g *ir.Graph) [32]byte {
	h := blake3.New(32, nil)
	write := func(nodes []ir.Node) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(len(nodes)))
		h.Write(buf[:])
		for _, n := range nodes {
			h.Write([]byte(n.Name))
			h.Write([]byte{0})
			binary.LittleEndian.PutUint32(buf[:], n.Width)
			h.Write(buf[:])
		}
	}
	write(g.Producers)
	write(g.Consumers)
	write(g.Layers)

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(g.Cycle)))
	h.Write(buf[:])
	for _, line := range g.Cycle {
		binary.LittleEndian.PutUint32(buf[:], uint32(line.Source.Kind))
		h.Write(buf[:])
		binary.LittleEndian.PutUint32(buf[:], line.Source.Index)
		h.Write(buf[:])
		for _, a := range line.Arrows {
			var flags byte
			if a.Backward {
				flags = 1
			}
			h.Write([]byte{flags})
			h.Write([]byte(a.Function))
			h.Write([]byte{0})
			binary.LittleEndian.PutUint32(buf[:], uint32(a.Target.Kind))
			h.Write(buf[:])
			binary.LittleEndian.PutUint32(buf[:], a.Target.Index)
			h.Write(buf[:])
		}
	}

	var out [32]byte
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out
}

// PolicyDigest returns a BLAKE3 digest over a policy's resolved bits for
// every layer in g, so equivalent policies over the same graph produce the
// same shader_compile_cache key.
func PolicyDigest(g *ir.Graph, p policy.Policy, hw policy.HardwareCaps) [32]byte {
	h := blake3.New(32, nil)
	for i := range g.Layers {
		h.Write([]byte{p.BitsFor(uint32(i), hw)})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
