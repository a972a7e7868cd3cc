package serialize

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sbl8/harmonics/ir"
)

// packNodeID folds a NodeID into the single u32 the wire format carries:
// the top two bits hold the kind, the low thirty the index.
func packNodeID(id ir.NodeID) uint32 {
	return uint32(id.Kind)<<30 | (id.Index & 0x3FFFFFFF)
}

func unpackNodeID(v uint32) ir.NodeID {
	return ir.NodeID{Kind: ir.NodeKind(v >> 30), Index: v & 0x3FFFFFFF}
}

func writeNodes(w io.Writer, nodes []ir.Node) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(nodes))); err != nil {
		return err
	}
	for _, n := range nodes {
		if err := writeString(w, n.Name); err != nil {
			return err
		}
		if err := writeBool(w, n.HasWidth); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, n.Width); err != nil {
			return err
		}
		if err := writeBool(w, n.HasRatio); err != nil {
			return err
		}
		if n.HasRatio {
			if err := binary.Write(w, binary.LittleEndian, n.Ratio.Lhs); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, n.Ratio.Rhs); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, packNodeID(n.Ratio.Ref)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readNodes(r io.Reader) ([]ir.Node, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	nodes := make([]ir.Node, 0, count)
	for i := uint32(0); i < count; i++ {
		var n ir.Node
		var err error
		if n.Name, err = readString(r); err != nil {
			return nil, err
		}
		if n.HasWidth, err = readBool(r); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.LittleEndian, &n.Width); err != nil {
			return nil, err
		}
		if n.HasRatio, err = readBool(r); err != nil {
			return nil, err
		}
		if n.HasRatio {
			if err = binary.Read(r, binary.LittleEndian, &n.Ratio.Lhs); err != nil {
				return nil, err
			}
			if err = binary.Read(r, binary.LittleEndian, &n.Ratio.Rhs); err != nil {
				return nil, err
			}
			var packed uint32
			if err = binary.Read(r, binary.LittleEndian, &packed); err != nil {
				return nil, err
			}
			n.Ratio.Ref = unpackNodeID(packed)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// WriteGraph encodes g in the HGRF v1 format: magic, version,
// count-prefixed node arrays, then the cycle lines. Round-trip through
// ReadGraph is bit-stable.
func WriteGraph(w io.Writer, g *ir.Graph) error {
	if err := writeMagic(w, graphMagic, graphVersion); err != nil {
		return err
	}
	if err := writeNodes(w, g.Producers); err != nil {
		return err
	}
	if err := writeNodes(w, g.Consumers); err != nil {
		return err
	}
	if err := writeNodes(w, g.Layers); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(g.Cycle))); err != nil {
		return err
	}
	for _, line := range g.Cycle {
		if err := binary.Write(w, binary.LittleEndian, packNodeID(line.Source)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(line.Arrows))); err != nil {
			return err
		}
		for _, a := range line.Arrows {
			if err := writeBool(w, a.Backward); err != nil {
				return err
			}
			if err := writeBool(w, a.HasFunc); err != nil {
				return err
			}
			if a.HasFunc {
				if err := writeString(w, a.Function); err != nil {
					return err
				}
			}
			if err := binary.Write(w, binary.LittleEndian, packNodeID(a.Target)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadGraph decodes an HGRF document and rebuilds the derived tables
// (name index, line sequence and sample groups) the wire format does not
// carry: consecutive lines sharing one source share a sample group, the
// same rule ir/builder applies at build time.
func ReadGraph(r io.Reader) (*ir.Graph, error) {
	version, err := readMagic(r, graphMagic)
	if err != nil {
		return nil, err
	}
	if version != graphVersion {
		return nil, fmt.Errorf("serialize: unsupported graph version %d", version)
	}

	g := &ir.Graph{}
	if g.Producers, err = readNodes(r); err != nil {
		return nil, err
	}
	if g.Consumers, err = readNodes(r); err != nil {
		return nil, err
	}
	if g.Layers, err = readNodes(r); err != nil {
		return nil, err
	}

	var lineCount uint32
	if err := binary.Read(r, binary.LittleEndian, &lineCount); err != nil {
		return nil, err
	}
	for i := uint32(0); i < lineCount; i++ {
		var packed uint32
		if err := binary.Read(r, binary.LittleEndian, &packed); err != nil {
			return nil, err
		}
		line := ir.Line{Source: unpackNodeID(packed), LineSeq: int(i), SampleGroup: int(i)}
		if i > 0 && g.Cycle[i-1].Source == line.Source {
			line.SampleGroup = g.Cycle[i-1].SampleGroup
		}

		var arrowCount uint32
		if err := binary.Read(r, binary.LittleEndian, &arrowCount); err != nil {
			return nil, err
		}
		for j := uint32(0); j < arrowCount; j++ {
			var a ir.Arrow
			var err error
			if a.Backward, err = readBool(r); err != nil {
				return nil, err
			}
			if a.HasFunc, err = readBool(r); err != nil {
				return nil, err
			}
			if a.HasFunc {
				if a.Function, err = readString(r); err != nil {
					return nil, err
				}
			}
			var tgt uint32
			if err = binary.Read(r, binary.LittleEndian, &tgt); err != nil {
				return nil, err
			}
			a.Target = unpackNodeID(tgt)
			line.Arrows = append(line.Arrows, a)
		}
		g.Cycle = append(g.Cycle, line)
	}

	names := make(map[string]ir.NodeID)
	for i, n := range g.Producers {
		names[n.Name] = ir.NodeID{Kind: ir.KindProducer, Index: uint32(i)}
	}
	for i, n := range g.Consumers {
		names[n.Name] = ir.NodeID{Kind: ir.KindConsumer, Index: uint32(i)}
	}
	for i, n := range g.Layers {
		names[n.Name] = ir.NodeID{Kind: ir.KindLayer, Index: uint32(i)}
	}
	g.SetNames(names)
	return g, nil
}
