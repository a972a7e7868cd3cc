package graphdiff_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/graphdiff"
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

func TestDiffEmptyForIdenticalGraphs(t *testing.T) {
	src := "producer p {4}; layer l; cycle { p -> l; }"
	require.Empty(t, graphdiff.Diff(build(t, src), build(t, src)))
}

func TestDiffReportsAddRemoveModify(t *testing.T) {
	a := build(t, "producer p {4}; layer l; layer gone; cycle { p -> l; }")
	b := build(t, "producer p {8}; layer l; layer fresh; cycle { p -> l; l -> fresh; }")

	changes := graphdiff.Diff(a, b)
	byKey := map[string]graphdiff.Change{}
	for _, c := range changes {
		byKey[c.Kind+"/"+c.Entity+"/"+c.Name] = c
	}

	require.Contains(t, byKey, "modified/producer/p")
	require.Contains(t, byKey, "removed/layer/gone")
	require.Contains(t, byKey, "added/layer/fresh")
	require.Contains(t, byKey, "added/flow/l -> fresh")
}

func TestMergeFirstGraphWinsAndDedupesFlows(t *testing.T) {
	a := build(t, "producer p {4}; layer l; cycle { p -> l; }")
	b := build(t, "producer p {8}; layer l; layer extra; cycle { p -> l; l -> extra; }")

	m, err := graphdiff.Merge(a, b)
	require.NoError(t, err)

	// a's p {4} wins the conflict.
	id, ok := m.Lookup("p")
	require.True(t, ok)
	require.EqualValues(t, 4, m.NodeAt(id).Width)

	// b contributes its extra layer and flow; the shared p -> l edge is
	// not duplicated.
	_, ok = m.Lookup("extra")
	require.True(t, ok)
	edges := 0
	for _, line := range m.Cycle {
		edges += len(line.Arrows)
	}
	require.Equal(t, 2, edges)
}
