// Package part splits a graph at layer boundaries, inserting synthetic
// boundary producer/consumer pairs so the halves can run on separate nodes
// and stream the crossing tensors between them. Each side gets a fresh,
// self-contained index space rebuilt from the nodes its lines touch.
package part

import (
	"fmt"

	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/ir"
)

// Partition is one side of a cut: a self-contained graph plus the names of
// the boundary nodes it pushes to (consumers) and fetches from (producers).
type Partition struct {
	Graph             *ir.Graph
	BoundaryConsumers []string
	BoundaryProducers []string
}

// Target describes one bucket AutoPartition distributes layers across.
// Bandwidth 0 derives the weight from the backend.
type Target struct {
	Backend   device.Backend
	Bandwidth int
}

func (t Target) weight() int {
	if t.Bandwidth > 0 {
		return t.Bandwidth
	}
	switch t.Backend {
	case device.GPU:
		return 3
	case device.FPGA:
		return 2
	default:
		return 1
	}
}

// PartitionByLayer cuts g's layer list at index k: layers [0,k) land in the
// first partition, [k,len) in the second. Every forward arrow crossing the
// cut is rewritten through a boundary<n> consumer/producer pair.
func PartitionByLayer(g *ir.Graph, k int) ([]*Partition, error) {
	if k < 0 || k > len(g.Layers) {
		return nil, fmt.Errorf("part: cut index %d out of range [0,%d]", k, len(g.Layers))
	}
	return split(g, 2, func(layerIndex uint32) int {
		if int(layerIndex) < k {
			return 0
		}
		return 1
	})
}

// AutoPartition distributes g's layers across len(targets) contiguous
// buckets. Homogeneous targets split evenly (bucket sizes differ by at most
// one); heterogeneous targets get ranges proportional to their bandwidth
// weights.
func AutoPartition(g *ir.Graph, targets []Target) ([]*Partition, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("part: no partition targets")
	}
	n := len(g.Layers)
	weights := make([]int, len(targets))
	total := 0
	homogeneous := true
	for i, t := range targets {
		weights[i] = t.weight()
		total += weights[i]
		if weights[i] != weights[0] {
			homogeneous = false
		}
	}

	// counts[i] = number of layers in bucket i, contiguous from the front.
	counts := make([]int, len(targets))
	if homogeneous {
		base := n / len(targets)
		extra := n % len(targets)
		for i := range counts {
			counts[i] = base
			if i < extra {
				counts[i]++
			}
		}
	} else {
		assigned := 0
		for i := range counts {
			counts[i] = n * weights[i] / total
			assigned += counts[i]
		}
		for i := 0; assigned < n; i = (i + 1) % len(counts) {
			counts[i]++
			assigned++
		}
	}

	starts := make([]int, len(targets)+1)
	for i, c := range counts {
		starts[i+1] = starts[i] + c
	}
	return split(g, len(targets), func(layerIndex uint32) int {
		for s := 0; s < len(targets); s++ {
			if int(layerIndex) < starts[s+1] {
				return s
			}
		}
		return len(targets) - 1
	})
}

// sideBuilder accumulates one partition's nodes and cycle lines, rebuilding
// index spaces from scratch.
type sideBuilder struct {
	graph *ir.Graph
	names map[string]ir.NodeID
	push  []string
	fetch []string
}

func newSideBuilder() *sideBuilder {
	g := &ir.Graph{}
	names := map[string]ir.NodeID{}
	g.SetNames(names)
	return &sideBuilder{graph: g, names: names}
}

// ensure copies a node declaration into this side, memoized by name.
func (b *sideBuilder) ensure(kind ir.NodeKind, src ir.Node) ir.NodeID {
	if id, ok := b.names[src.Name]; ok {
		return id
	}
	n := ir.Node{Name: src.Name, HasWidth: src.HasWidth, Width: src.Width}
	var id ir.NodeID
	switch kind {
	case ir.KindProducer:
		id = ir.NodeID{Kind: kind, Index: uint32(len(b.graph.Producers))}
		b.graph.Producers = append(b.graph.Producers, n)
	case ir.KindConsumer:
		id = ir.NodeID{Kind: kind, Index: uint32(len(b.graph.Consumers))}
		b.graph.Consumers = append(b.graph.Consumers, n)
	case ir.KindLayer:
		id = ir.NodeID{Kind: kind, Index: uint32(len(b.graph.Layers))}
		b.graph.Layers = append(b.graph.Layers, n)
	}
	b.names[src.Name] = id
	return id
}

func (b *sideBuilder) addArrow(source ir.NodeID, a ir.Arrow) {
	if n := len(b.graph.Cycle); n > 0 && b.graph.Cycle[n-1].Source == source {
		last := &b.graph.Cycle[n-1]
		last.Arrows = append(last.Arrows, a)
		return
	}
	seq := len(b.graph.Cycle)
	sampleGroup := seq
	if seq > 0 && b.graph.Cycle[seq-1].Source == source {
		sampleGroup = b.graph.Cycle[seq-1].SampleGroup
	}
	b.graph.Cycle = append(b.graph.Cycle, ir.Line{
		Source:      source,
		LineSeq:     seq,
		SampleGroup: sampleGroup,
		Arrows:      []ir.Arrow{a},
	})
}

func split(g *ir.Graph, nSides int, sideOf func(layerIndex uint32) int) ([]*Partition, error) {
	sides := make([]*sideBuilder, nSides)
	for i := range sides {
		sides[i] = newSideBuilder()
	}

	// A line belongs to its source layer's side; a producer- or
	// consumer-sourced line follows its first layer target, defaulting to
	// side 0 when it touches no layer at all.
	lineSide := func(line ir.Line) int {
		if line.Source.Kind == ir.KindLayer {
			return sideOf(line.Source.Index)
		}
		for _, a := range line.Arrows {
			if a.Target.Kind == ir.KindLayer {
				return sideOf(a.Target.Index)
			}
		}
		return 0
	}

	boundarySeq := 0
	for _, line := range g.Cycle {
		srcSide := lineSide(line)
		b := sides[srcSide]
		srcNode := g.NodeAt(line.Source)
		srcID := b.ensure(line.Source.Kind, *srcNode)

		for _, a := range line.Arrows {
			tgtNode := g.NodeAt(a.Target)
			tgtSide := srcSide
			if a.Target.Kind == ir.KindLayer {
				tgtSide = sideOf(a.Target.Index)
			}

			if a.Backward || tgtSide == srcSide {
				// Backward arrows stay with the side that owns the source
				// layer; the label producer is copied onto that side.
				tgtID := b.ensure(a.Target.Kind, *tgtNode)
				b.addArrow(srcID, ir.Arrow{Target: tgtID, Backward: a.Backward, Function: a.Function, HasFunc: a.HasFunc})
				continue
			}

			// Forward arrow across the cut: writer side gets a boundary
			// consumer (keeping the arrow's function), reader side gets a
			// boundary producer feeding the original target untransformed.
			name := fmt.Sprintf("boundary%d", boundarySeq)
			boundarySeq++
			width := srcNode.Width
			hasWidth := srcNode.HasWidth
			if !hasWidth {
				width = tgtNode.Width
				hasWidth = tgtNode.HasWidth
			}
			boundary := ir.Node{Name: name, HasWidth: hasWidth, Width: width}

			consID := b.ensure(ir.KindConsumer, boundary)
			b.addArrow(srcID, ir.Arrow{Target: consID, Function: a.Function, HasFunc: a.HasFunc})
			b.push = append(b.push, name)

			rb := sides[tgtSide]
			prodID := rb.ensure(ir.KindProducer, boundary)
			rTgtID := rb.ensure(a.Target.Kind, *tgtNode)
			rb.addArrow(prodID, ir.Arrow{Target: rTgtID})
			rb.fetch = append(rb.fetch, name)
		}
	}

	out := make([]*Partition, nSides)
	for i, b := range sides {
		out[i] = &Partition{
			Graph:             b.graph,
			BoundaryConsumers: b.push,
			BoundaryProducers: b.fetch,
		}
	}
	return out, nil
}
