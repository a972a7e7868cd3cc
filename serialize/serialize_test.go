package serialize_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/ir/builder"
	"github.com/sbl8/harmonics/kernel/compiler"
	"github.com/sbl8/harmonics/lang/parser"
	"github.com/sbl8/harmonics/serialize"
	"github.com/sbl8/harmonics/tensor"
)

func build(t *testing.T, src string) *ir.Graph {
	t.Helper()
	d, err := parser.New(src).ParseDeclarations()
	require.NoError(t, err)
	g, err := builder.Build(d)
	require.NoError(t, err)
	return g
}

func saveBytes(t *testing.T, g *ir.Graph) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, serialize.WriteGraph(&buf, g))
	return buf.Bytes()
}

func TestGraphRoundTripBitStable(t *testing.T) {
	// load(save(g)) re-serializes byte-for-byte and the
	// digest is invariant.
	g := build(t, "producer p {4}; consumer c {2}; layer l; cycle { p -> l; l -> c; }")
	require.Len(t, g.Producers, 1)
	require.Len(t, g.Consumers, 1)
	require.Len(t, g.Layers, 1)
	require.Len(t, g.Cycle, 2)

	first := saveBytes(t, g)
	loaded, err := serialize.ReadGraph(bytes.NewReader(first))
	require.NoError(t, err)
	second := saveBytes(t, loaded)
	require.Equal(t, first, second)

	require.Equal(t, compiler.GraphDigest(g), compiler.GraphDigest(loaded))
}

func TestGraphRoundTripPreservesRatiosAndFunctions(t *testing.T) {
	g := build(t, `
		producer a {8}; producer lbl {1}; layer b 1/2 a; layer d 1/2 b; consumer c {2};
		cycle {
			a -(relu)-> b -(sigmoid)-> d;
			d -> c;
			d <-(mse)- lbl;
		}`)
	loaded, err := serialize.ReadGraph(bytes.NewReader(saveBytes(t, g)))
	require.NoError(t, err)

	require.Equal(t, g.Producers, loaded.Producers)
	require.Equal(t, g.Consumers, loaded.Consumers)
	require.Equal(t, g.Layers, loaded.Layers)
	require.Equal(t, g.Cycle, loaded.Cycle)

	id, ok := loaded.Lookup("d")
	require.True(t, ok)
	require.Equal(t, ir.KindLayer, id.Kind)
}

func TestGraphRoundTripSampleGroups(t *testing.T) {
	g := build(t, "producer p; layer a; layer b; cycle { p -> a; -> b; }")
	loaded, err := serialize.ReadGraph(bytes.NewReader(saveBytes(t, g)))
	require.NoError(t, err)
	require.Equal(t, loaded.Cycle[0].SampleGroup, loaded.Cycle[1].SampleGroup)
}

func TestBadMagicRejected(t *testing.T) {
	_, err := serialize.ReadGraph(bytes.NewReader([]byte("NOPE\x01\x00")))
	require.Error(t, err)
}

func TestWeightsRoundTrip(t *testing.T) {
	in := []tensor.Tensor{
		tensor.FromFloat32([]float32{1, 2, 3}),
		{Kind: tensor.UInt8, Shape: []uint32{2, 2}, Data: []byte{1, 2, 3, 4}},
		{}, // empty slot: a layer that never trained
	}
	var buf bytes.Buffer
	require.NoError(t, serialize.WriteWeights(&buf, in))
	out, err := serialize.ReadWeights(&buf)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, in[0].Data, out[0].Data)
	require.Equal(t, in[1].Shape, out[1].Shape)
	require.True(t, out[2].Empty())
}

func TestNamedWeightsRoundTrip(t *testing.T) {
	in := []serialize.NamedWeight{
		{Name: "hidden", Tensor: tensor.FromFloat32([]float32{0.5})},
		{Name: "output", Tensor: tensor.FromFloat32([]float32{1.5, 2.5})},
	}
	var buf bytes.Buffer
	require.NoError(t, serialize.WriteNamedWeights(&buf, in))
	out, err := serialize.ReadNamedWeights(&buf)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := &serialize.Checkpoint{
		GraphDigest:     [32]byte{1, 2, 3},
		ProducerTensors: []tensor.Tensor{tensor.FromFloat32([]float32{1})},
		ConsumerTensors: []tensor.Tensor{{}},
		LayerTensors:    []tensor.Tensor{tensor.FromFloat32([]float32{2})},
		Weights:         []tensor.Tensor{tensor.FromFloat32([]float32{3})},
		PrecisionBits:   []uint8{16},
		ChainHash:       [32]byte{9, 9},
		HasSeed:         true,
		Seed:            42,
	}
	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, serialize.WriteCheckpoint(&buf, c, compress))
		out, err := serialize.ReadCheckpoint(&buf)
		require.NoError(t, err, "compress=%v", compress)
		require.Equal(t, c, out, "compress=%v", compress)
	}
}
