// Package builder lowers a parsed ast.Declarations to a validated
// ir.Graph: index spaces per node kind, ratios resolved in declaration
// order, and cycle arrows checked against the arrow rules. Cycle lines are
// never reordered; each fires once per step in declared order.
package builder

import (
	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/lang/ast"
)

// Build lowers decls into a validated ir.Graph.
func Build(decls *ast.Declarations) (*ir.Graph, error) {
	g := &ir.Graph{}
	names := make(map[string]ir.NodeID)

	addDecls := func(kind ir.NodeKind, in []ast.NodeDecl) ([]ir.Node, error) {
		out := make([]ir.Node, 0, len(in))
		for i, d := range in {
			if _, exists := names[d.Name]; exists {
				return nil, &herr.DuplicateNameError{Name: d.Name}
			}
			id := ir.NodeID{Kind: kind, Index: uint32(i)}
			names[d.Name] = id
			n := ir.Node{Name: d.Name}
			if d.HasWidth {
				n.HasWidth = true
				n.Width = uint32(d.Width)
			}
			out = append(out, n)
		}
		return out, nil
	}

	var err error
	if g.Producers, err = addDecls(ir.KindProducer, decls.Producers); err != nil {
		return nil, err
	}
	if g.Consumers, err = addDecls(ir.KindConsumer, decls.Consumers); err != nil {
		return nil, err
	}
	if g.Layers, err = addDecls(ir.KindLayer, decls.Layers); err != nil {
		return nil, err
	}
	g.SetNames(names)

	// Ratios reference a name, resolved against the table built above, so a
	// second pass records the ratio definitions in declaration order.
	setRatio := func(kind ir.NodeKind, idx int, r ast.Ratio) error {
		ref, ok := names[r.Ref]
		if !ok {
			// Unresolved ratio ref: leave width unset, non-fatal.
			return nil
		}
		node := nodeAt(g, ir.NodeID{Kind: kind, Index: uint32(idx)})
		node.HasRatio = true
		node.Ratio = ir.Ratio{Lhs: r.Lhs, Rhs: r.Rhs, Ref: ref}
		return nil
	}
	for i, d := range decls.Producers {
		if d.HasRatio {
			if err := setRatio(ir.KindProducer, i, d.Ratio); err != nil {
				return nil, err
			}
		}
	}
	for i, d := range decls.Consumers {
		if d.HasRatio {
			if err := setRatio(ir.KindConsumer, i, d.Ratio); err != nil {
				return nil, err
			}
		}
	}
	for i, d := range decls.Layers {
		if d.HasRatio {
			if err := setRatio(ir.KindLayer, i, d.Ratio); err != nil {
				return nil, err
			}
		}
	}
	resolveRatios(g)

	if decls.HasCycle {
		cycle, err := buildCycle(g, names, decls.Cycle)
		if err != nil {
			return nil, err
		}
		g.Cycle = cycle
	}

	return g, nil
}

func nodeAt(g *ir.Graph, id ir.NodeID) *ir.Node { return g.NodeAt(id) }

// resolveRatios computes widths for every node carrying an unresolved
// ratio, in declaration order, iterating until a fixed point (a ratio may
// reference another node whose own ratio resolves earlier in the same
// pass). Unresolved chains (a cycle of ratio refs, or a ref to a node that
// never gets a width) leave width unset.
func resolveRatios(g *ir.Graph) {
	all := func() []*ir.Node {
		var nodes []*ir.Node
		for i := range g.Producers {
			nodes = append(nodes, &g.Producers[i])
		}
		for i := range g.Consumers {
			nodes = append(nodes, &g.Consumers[i])
		}
		for i := range g.Layers {
			nodes = append(nodes, &g.Layers[i])
		}
		return nodes
	}()

	for pass := 0; pass < len(all)+1; pass++ {
		changed := false
		for _, n := range all {
			if !n.HasRatio || n.HasWidth {
				continue
			}
			ref := g.NodeAt(n.Ratio.Ref)
			if ref == nil || !ref.HasWidth || n.Ratio.Rhs == 0 {
				continue
			}
			n.Width = uint32((n.Ratio.Lhs * uint64(ref.Width)) / n.Ratio.Rhs)
			n.HasWidth = true
			changed = true
		}
		if !changed {
			break
		}
	}
}

func buildCycle(g *ir.Graph, names map[string]ir.NodeID, lines []ast.Line) ([]ir.Line, error) {
	var out []ir.Line
	var prevSource ir.NodeID
	havePrev := false
	lineSeq := 0
	prevSampleGroup := 0

	var walk func([]ast.Line) error
	walk = func(block []ast.Line) error {
		for _, l := range block {
			if l.Cond != "" {
				if _, ok := names[l.Cond]; !ok {
					return &herr.UnresolvedNameError{Name: l.Cond}
				}
				if err := walk(l.Then); err != nil {
					return err
				}
				if l.HasElse {
					if err := walk(l.Else); err != nil {
						return err
					}
				}
				continue
			}

			var source ir.NodeID
			seq := lineSeq
			lineSeq++
			sampleGroup := seq
			if l.HasSource {
				id, ok := names[l.Source]
				if !ok {
					return &herr.UnresolvedNameError{Name: l.Source}
				}
				source = id
				// An explicit source equal to the previous line's source
				// joins that line's sample group, same as an implicit
				// continuation: either spelling shares one producer pull
				// per cycle.
				if havePrev && source == prevSource {
					sampleGroup = prevSampleGroup
				}
			} else {
				if !havePrev {
					return &herr.InvalidArrowError{Reason: "line has no source and no prior line to inherit from"}
				}
				source = prevSource
				sampleGroup = prevSampleGroup
			}
			prevSource = source
			prevSampleGroup = sampleGroup
			havePrev = true

			irLine := ir.Line{Source: source, LineSeq: seq, SampleGroup: sampleGroup}
			for _, a := range l.Arrows {
				target, ok := names[a.Target]
				if !ok {
					return &herr.UnresolvedNameError{Name: a.Target}
				}
				backward := a.Kind == ast.ArrowBackward
				if backward {
					if target.Kind != ir.KindProducer {
						return &herr.InvalidArrowError{Reason: "backward arrow must target a producer"}
					}
					if source.Kind != ir.KindLayer {
						return &herr.InvalidArrowError{Reason: "backward arrow must originate from a layer"}
					}
					if !a.HasFunc || a.Function == "" {
						// Open Question resolved: illegal, a loss function is required.
						return &herr.InvalidArrowError{Reason: "backward arrow requires a loss function"}
					}
				} else if target.Kind == ir.KindProducer {
					return &herr.InvalidArrowError{Reason: "forward arrow may not target a producer"}
				}
				irLine.Arrows = append(irLine.Arrows, ir.Arrow{
					Target:   target,
					Backward: backward,
					Function: a.Function,
					HasFunc:  a.HasFunc,
				})
			}
			out = append(out, irLine)
		}
		return nil
	}

	if err := walk(lines); err != nil {
		return nil, err
	}
	return out, nil
}
