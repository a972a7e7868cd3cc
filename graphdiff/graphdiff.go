// Package graphdiff compares and merges graph IRs by node name and edge
// set, backing the graph_diff CLI surface. Merge precedence
// follows the original tooling this distills: the first graph wins
// conflicting declarations.
package graphdiff

import (
	"fmt"
	"sort"

	"github.com/sbl8/harmonics/ir"
)

// Change is one line of a diff report.
type Change struct {
	Kind   string // "added", "removed", "modified"
	Entity string // "producer", "consumer", "layer", "flow"
	Name   string
	Detail string
}

func (c Change) String() string {
	if c.Detail == "" {
		return fmt.Sprintf("%s %s %s", c.Kind, c.Entity, c.Name)
	}
	return fmt.Sprintf("%s %s %s (%s)", c.Kind, c.Entity, c.Name, c.Detail)
}

func nodeKey(g *ir.Graph, n ir.Node) string {
	if n.HasWidth {
		return fmt.Sprintf("%s{%d}", n.Name, n.Width)
	}
	return n.Name
}

func diffNodes(entity string, a, b []ir.Node, ag, bg *ir.Graph) []Change {
	var out []Change
	byName := func(ns []ir.Node) map[string]ir.Node {
		m := make(map[string]ir.Node, len(ns))
		for _, n := range ns {
			m[n.Name] = n
		}
		return m
	}
	am, bm := byName(a), byName(b)
	for _, n := range a {
		other, ok := bm[n.Name]
		if !ok {
			out = append(out, Change{Kind: "removed", Entity: entity, Name: n.Name})
			continue
		}
		if nodeKey(ag, n) != nodeKey(bg, other) {
			out = append(out, Change{Kind: "modified", Entity: entity, Name: n.Name,
				Detail: fmt.Sprintf("%s -> %s", nodeKey(ag, n), nodeKey(bg, other))})
		}
	}
	for _, n := range b {
		if _, ok := am[n.Name]; !ok {
			out = append(out, Change{Kind: "added", Entity: entity, Name: n.Name})
		}
	}
	return out
}

func flowSet(g *ir.Graph) map[string]bool {
	set := map[string]bool{}
	for _, line := range g.Cycle {
		for _, a := range line.Arrows {
			dir := "->"
			if a.Backward {
				dir = "<-"
			}
			fn := ""
			if a.HasFunc {
				fn = "(" + a.Function + ")"
			}
			set[fmt.Sprintf("%s %s%s %s", g.Name(line.Source), dir, fn, g.Name(a.Target))] = true
		}
	}
	return set
}

// Diff reports the changes turning a into b.
func Diff(a, b *ir.Graph) []Change {
	var out []Change
	out = append(out, diffNodes("producer", a.Producers, b.Producers, a, b)...)
	out = append(out, diffNodes("consumer", a.Consumers, b.Consumers, a, b)...)
	out = append(out, diffNodes("layer", a.Layers, b.Layers, a, b)...)

	af, bf := flowSet(a), flowSet(b)
	var removed, added []string
	for f := range af {
		if !bf[f] {
			removed = append(removed, f)
		}
	}
	for f := range bf {
		if !af[f] {
			added = append(added, f)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)
	for _, f := range removed {
		out = append(out, Change{Kind: "removed", Entity: "flow", Name: f})
	}
	for _, f := range added {
		out = append(out, Change{Kind: "added", Entity: "flow", Name: f})
	}
	return out
}

// Merge combines two graphs by name: a's declarations win conflicts, b
// contributes whatever a lacks, and the cycle becomes one single-arrow line
// per distinct edge, a's edges first, with repeated edges from either graph
// dropped.
func Merge(a, b *ir.Graph) (*ir.Graph, error) {
	out := &ir.Graph{}
	names := map[string]ir.NodeID{}
	out.SetNames(names)

	add := func(kind ir.NodeKind, n ir.Node) ir.NodeID {
		if id, ok := names[n.Name]; ok {
			return id
		}
		var id ir.NodeID
		switch kind {
		case ir.KindProducer:
			id = ir.NodeID{Kind: kind, Index: uint32(len(out.Producers))}
			out.Producers = append(out.Producers, n)
		case ir.KindConsumer:
			id = ir.NodeID{Kind: kind, Index: uint32(len(out.Consumers))}
			out.Consumers = append(out.Consumers, n)
		case ir.KindLayer:
			id = ir.NodeID{Kind: kind, Index: uint32(len(out.Layers))}
			out.Layers = append(out.Layers, n)
		}
		names[n.Name] = id
		return id
	}

	for _, g := range []*ir.Graph{a, b} {
		for _, n := range g.Producers {
			add(ir.KindProducer, n)
		}
		for _, n := range g.Consumers {
			add(ir.KindConsumer, n)
		}
		for _, n := range g.Layers {
			add(ir.KindLayer, n)
		}
	}

	seen := map[string]bool{}
	for _, g := range []*ir.Graph{a, b} {
		for _, line := range g.Cycle {
			srcName := g.Name(line.Source)
			src, ok := names[srcName]
			if !ok {
				return nil, fmt.Errorf("graphdiff: merge lost node %q", srcName)
			}
			for _, arrow := range line.Arrows {
				tgtName := g.Name(arrow.Target)
				tgt, ok := names[tgtName]
				if !ok {
					return nil, fmt.Errorf("graphdiff: merge lost node %q", tgtName)
				}
				key := fmt.Sprintf("%s|%v|%s|%s", srcName, arrow.Backward, arrow.Function, tgtName)
				if seen[key] {
					continue
				}
				seen[key] = true

				seq := len(out.Cycle)
				sampleGroup := seq
				if seq > 0 && out.Cycle[seq-1].Source == src {
					sampleGroup = out.Cycle[seq-1].SampleGroup
				}
				out.Cycle = append(out.Cycle, ir.Line{
					Source:      src,
					LineSeq:     seq,
					SampleGroup: sampleGroup,
					Arrows: []ir.Arrow{{
						Target:   tgt,
						Backward: arrow.Backward,
						Function: arrow.Function,
						HasFunc:  arrow.HasFunc,
					}},
				})
			}
		}
	}
	return out, nil
}
