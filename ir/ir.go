// Package ir defines the validated graph intermediate representation that
// lang/parser's AST lowers to. Node identity is the {Kind, Index} pair
// rather than a pointer, so cross-references stay index-stable and
// serializable.
package ir

import "fmt"

// NodeKind is one of the three node namespaces a graph declares.
type NodeKind uint8

const (
	KindProducer NodeKind = iota
	KindConsumer
	KindLayer
)

func (k NodeKind) String() string {
	switch k {
	case KindProducer:
		return "producer"
	case KindConsumer:
		return "consumer"
	case KindLayer:
		return "layer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// NodeID identifies a node by kind and index into the graph's per-kind
// slice — never a pointer, so IR and runtime state stay serializable and
// index-stable across graph edits.
type NodeID struct {
	Kind  NodeKind
	Index uint32
}

func (n NodeID) String() string { return fmt.Sprintf("%s#%d", n.Kind, n.Index) }

// Ratio expresses a declared width as a fraction of another node's resolved
// width: width = Lhs/Rhs * width(Ref).
type Ratio struct {
	Lhs, Rhs uint64
	Ref      NodeID
}

// Node is one declared producer, consumer, or layer.
type Node struct {
	Name         string
	HasWidth     bool
	Width        uint32
	HasRatio     bool
	Ratio        Ratio
	RatioPending bool // ratio present but not yet resolved (unresolved ref)
}

// Arrow is one edge within a cycle Line.
type Arrow struct {
	Target   NodeID
	Backward bool
	Function string
	HasFunc  bool
}

// Line is one cycle-block statement after name resolution.
type Line struct {
	Source NodeID
	Arrows []Arrow

	// LineSeq is a unique, declaration-order sequence number for this line,
	// used by CycleRuntime to group "arrows of a single line" for
	// multi-threaded dispatch.
	LineSeq int
	// SampleGroup is the LineSeq of the line whose explicit source this
	// line's Producer source traces back to: inherited from the previous
	// line for a branch-continuation line or for an explicit source equal
	// to the previous line's source, and equal to LineSeq otherwise. The
	// runtime samples a Producer source at most once per SampleGroup per
	// cycle.
	SampleGroup int
}

// Graph is the validated, resolved intermediate representation:
// producers/consumers/layers plus a flattened cycle trace. Immutable after
// Build returns, except through the explicit edit operations in Graph's
// Add/Remove methods, which bump Revision.
type Graph struct {
	Producers []Node
	Consumers []Node
	Layers    []Node
	Cycle     []Line
	Revision  uint64

	names map[string]NodeID
}

// Lookup resolves a declared name to its NodeID.
func (g *Graph) Lookup(name string) (NodeID, bool) {
	id, ok := g.names[name]
	return id, ok
}

// Name returns the declared name of id.
func (g *Graph) Name(id NodeID) string {
	switch id.Kind {
	case KindProducer:
		return g.Producers[id.Index].Name
	case KindConsumer:
		return g.Consumers[id.Index].Name
	case KindLayer:
		return g.Layers[id.Index].Name
	default:
		return ""
	}
}

// NodeAt returns the Node for id.
func (g *Graph) NodeAt(id NodeID) *Node {
	switch id.Kind {
	case KindProducer:
		return &g.Producers[id.Index]
	case KindConsumer:
		return &g.Consumers[id.Index]
	case KindLayer:
		return &g.Layers[id.Index]
	default:
		return nil
	}
}

// HasTrainingTaps reports whether at least one backward arrow exists in the
// cycle.
func (g *Graph) HasTrainingTaps() bool {
	for _, line := range g.Cycle {
		for _, a := range line.Arrows {
			if a.Backward {
				return true
			}
		}
	}
	return false
}

// NodeCount returns the combined count of producers, consumers, and layers.
func (g *Graph) NodeCount() int {
	return len(g.Producers) + len(g.Consumers) + len(g.Layers)
}

// SetNames installs the name table; used by ir/builder, part,
// graphdiff.Merge and serialize.ReadGraph when constructing a Graph.
func (g *Graph) SetNames(names map[string]NodeID) { g.names = names }

// Names returns the name table (read-only use expected).
func (g *Graph) Names() map[string]NodeID { return g.names }
