package builder_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/ir/builder"
	"github.com/sbl8/harmonics/lang/parser"
)

func build(t *testing.T, src string) *ir.Graph {
	t.Helper()
	d, err := parser.New(src).ParseDeclarations()
	require.NoError(t, err)
	g, err := builder.Build(d)
	require.NoError(t, err)
	return g
}

func TestNodeNameSetMatchesDeclarations(t *testing.T) {
	g := build(t, "producer p {4}; consumer c {2}; layer l; cycle { p -> l; l -> c; }")
	require.Len(t, g.Producers, 1)
	require.Len(t, g.Consumers, 1)
	require.Len(t, g.Layers, 1)
	require.Len(t, g.Cycle, 2)

	for _, name := range []string{"p", "c", "l"} {
		_, ok := g.Lookup(name)
		require.True(t, ok, "name %q must resolve", name)
	}
}

func TestRatioPropagation(t *testing.T) {
	// Widths resolve through a ratio chain in declaration order.
	g := build(t, "producer a {8}; layer b 1/2 a; layer c 1/2 b;")
	b, _ := g.Lookup("b")
	c, _ := g.Lookup("c")
	require.True(t, g.NodeAt(b).HasWidth)
	require.EqualValues(t, 4, g.NodeAt(b).Width)
	require.True(t, g.NodeAt(c).HasWidth)
	require.EqualValues(t, 2, g.NodeAt(c).Width)
}

func TestUnresolvedRatioLeavesWidthUnset(t *testing.T) {
	g := build(t, "layer b 1/2 ghost;")
	b, _ := g.Lookup("b")
	require.False(t, g.NodeAt(b).HasWidth)
}

func TestDuplicateName(t *testing.T) {
	d, err := parser.New("producer x; layer x;").ParseDeclarations()
	require.NoError(t, err)
	_, err = builder.Build(d)
	require.True(t, errors.Is(err, herr.ErrDuplicateName))
}

func TestUnresolvedCycleName(t *testing.T) {
	d, err := parser.New("producer p; cycle { p -> ghost; }").ParseDeclarations()
	require.NoError(t, err)
	_, err = builder.Build(d)
	require.True(t, errors.Is(err, herr.ErrUnresolvedName))
}

func TestForwardArrowMayNotTargetProducer(t *testing.T) {
	d, err := parser.New("producer p; producer q; layer l; cycle { l -> q; }").ParseDeclarations()
	require.NoError(t, err)
	_, err = builder.Build(d)
	require.True(t, errors.Is(err, herr.ErrInvalidArrow))
}

func TestBackwardArrowMustTargetProducer(t *testing.T) {
	d, err := parser.New("producer p; layer l; consumer c; cycle { l <-(mse)- c; }").ParseDeclarations()
	require.NoError(t, err)
	_, err = builder.Build(d)
	require.True(t, errors.Is(err, herr.ErrInvalidArrow))
}

func TestBranchContinuationSharesSampleGroup(t *testing.T) {
	g := build(t, "producer p; layer a; layer b; cycle { p -> a; -> b; }")
	require.Len(t, g.Cycle, 2)
	require.Equal(t, g.Cycle[0].Source, g.Cycle[1].Source)
	require.Equal(t, g.Cycle[0].SampleGroup, g.Cycle[1].SampleGroup)
}

func TestExplicitRepeatedSourceSharesSampleGroup(t *testing.T) {
	g := build(t, "producer p; layer a; layer b; cycle { p -> a; p -> b; }")
	require.Equal(t, g.Cycle[0].SampleGroup, g.Cycle[1].SampleGroup)
}

func TestHasTrainingTaps(t *testing.T) {
	g := build(t, "producer p; producer lbl; layer l; cycle { p -> l; l <-(mse)- lbl; }")
	require.True(t, g.HasTrainingTaps())

	g = build(t, "producer p; layer l; cycle { p -> l; }")
	require.False(t, g.HasTrainingTaps())
}
