package ir

import "github.com/sbl8/harmonics/internal/herr"

// Graph edits: structure is
// immutable after build except through these operations, each of which
// bumps Revision so attached runtimes detect staleness and re-synchronise
// their state vectors by name.

func (g *Graph) addNode(kind NodeKind, name string, width uint32, hasWidth bool) (NodeID, error) {
	if _, exists := g.names[name]; exists {
		return NodeID{}, &herr.DuplicateNameError{Name: name}
	}
	n := Node{Name: name, HasWidth: hasWidth, Width: width}
	var id NodeID
	switch kind {
	case KindProducer:
		id = NodeID{Kind: kind, Index: uint32(len(g.Producers))}
		g.Producers = append(g.Producers, n)
	case KindConsumer:
		id = NodeID{Kind: kind, Index: uint32(len(g.Consumers))}
		g.Consumers = append(g.Consumers, n)
	case KindLayer:
		id = NodeID{Kind: kind, Index: uint32(len(g.Layers))}
		g.Layers = append(g.Layers, n)
	}
	if g.names == nil {
		g.names = map[string]NodeID{}
	}
	g.names[name] = id
	g.Revision++
	return id, nil
}

// AddProducer appends a producer node. width 0 leaves the width unset.
func (g *Graph) AddProducer(name string, width uint32) (NodeID, error) {
	return g.addNode(KindProducer, name, width, width != 0)
}

// AddConsumer appends a consumer node. width 0 leaves the width unset.
func (g *Graph) AddConsumer(name string, width uint32) (NodeID, error) {
	return g.addNode(KindConsumer, name, width, width != 0)
}

// AddLayer appends a layer node. width 0 leaves the width unset.
func (g *Graph) AddLayer(name string, width uint32) (NodeID, error) {
	return g.addNode(KindLayer, name, width, width != 0)
}

// RemoveLayer deletes a layer and every cycle arrow touching it; following
// layers shift down one index, and the name table plus cycle references are
// remapped accordingly.
func (g *Graph) RemoveLayer(name string) error {
	id, ok := g.names[name]
	if !ok || id.Kind != KindLayer {
		return &herr.UnresolvedNameError{Name: name}
	}
	removed := id.Index

	g.Layers = append(g.Layers[:removed], g.Layers[removed+1:]...)
	delete(g.names, name)
	for n, nid := range g.names {
		if nid.Kind == KindLayer && nid.Index > removed {
			g.names[n] = NodeID{Kind: KindLayer, Index: nid.Index - 1}
		}
	}

	remap := func(nid NodeID) (NodeID, bool) {
		if nid.Kind != KindLayer {
			return nid, true
		}
		if nid.Index == removed {
			return nid, false
		}
		if nid.Index > removed {
			nid.Index--
		}
		return nid, true
	}

	var cycle []Line
	for _, line := range g.Cycle {
		src, keep := remap(line.Source)
		if !keep {
			continue
		}
		next := Line{Source: src, LineSeq: line.LineSeq, SampleGroup: line.SampleGroup}
		for _, a := range line.Arrows {
			tgt, keep := remap(a.Target)
			if !keep {
				continue
			}
			a.Target = tgt
			next.Arrows = append(next.Arrows, a)
		}
		if len(next.Arrows) > 0 {
			cycle = append(cycle, next)
		}
	}
	g.Cycle = cycle
	g.Revision++
	return nil
}

// AddFlow appends a cycle line source -> target (backward for a training
// tap), enforcing the arrow invariants the builder applies.
func (g *Graph) AddFlow(source, target, function string, backward bool) error {
	src, ok := g.names[source]
	if !ok {
		return &herr.UnresolvedNameError{Name: source}
	}
	tgt, ok := g.names[target]
	if !ok {
		return &herr.UnresolvedNameError{Name: target}
	}
	if backward {
		if tgt.Kind != KindProducer {
			return &herr.InvalidArrowError{Reason: "backward arrow must target a producer"}
		}
		if src.Kind != KindLayer {
			return &herr.InvalidArrowError{Reason: "backward arrow must originate from a layer"}
		}
		if function == "" {
			return &herr.InvalidArrowError{Reason: "backward arrow requires a loss function"}
		}
	} else if tgt.Kind == KindProducer {
		return &herr.InvalidArrowError{Reason: "forward arrow may not target a producer"}
	}

	seq := len(g.Cycle)
	sampleGroup := seq
	if seq > 0 && g.Cycle[seq-1].Source == src {
		sampleGroup = g.Cycle[seq-1].SampleGroup
	}
	g.Cycle = append(g.Cycle, Line{
		Source:      src,
		LineSeq:     seq,
		SampleGroup: sampleGroup,
		Arrows: []Arrow{{
			Target:   tgt,
			Backward: backward,
			Function: function,
			HasFunc:  function != "",
		}},
	})
	g.Revision++
	return nil
}

// RemoveFlow deletes every arrow source -> target; lines left with no
// arrows are dropped.
func (g *Graph) RemoveFlow(source, target string) error {
	src, ok := g.names[source]
	if !ok {
		return &herr.UnresolvedNameError{Name: source}
	}
	tgt, ok := g.names[target]
	if !ok {
		return &herr.UnresolvedNameError{Name: target}
	}

	var cycle []Line
	for _, line := range g.Cycle {
		if line.Source != src {
			cycle = append(cycle, line)
			continue
		}
		var arrows []Arrow
		for _, a := range line.Arrows {
			if a.Target != tgt {
				arrows = append(arrows, a)
			}
		}
		if len(arrows) > 0 {
			line.Arrows = arrows
			cycle = append(cycle, line)
		}
	}
	g.Cycle = cycle
	g.Revision++
	return nil
}
