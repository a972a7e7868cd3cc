// Package harmonics is a dataflow runtime for declaring and executing
// small neural-style computation graphs across heterogeneous backends.
//
// Graphs are written in a compact surface language naming producers (data
// sources), consumers (sinks), layers (stateful transform nodes), and a
// cycle block of directed flow edges with optional activation and loss
// functions:
//
//	producer img {784};
//	producer lbl {10};
//	layer hidden 1/2 img;
//	layer output 1/1 lbl;
//	consumer out {10};
//	cycle {
//	  img -(relu)-> hidden -(sigmoid)-> output;
//	  output -> out;
//	  output <-(cross_entropy)- lbl;
//	}
//
// The pipeline lowers source through lang/lexer and lang/parser into an
// ir.Graph, resolves per-layer numeric precision through a policy, and
// drives forward/training cycles with runtime.CycleRuntime. part and dist
// split a graph at layer boundaries and stream the crossing tensors
// between partitions over the transport package's bindings. serialize
// holds the binary graph/weights/checkpoint codecs.
//
// # Package structure
//
//   - lang: tokenizer, parser, and AST for the surface DSL
//   - ir: validated graph representation and edit operations
//   - policy: per-layer bit-width selection
//   - kernel: registry, built-in kernels, cycle compiler, shader cache
//   - runtime: CycleRuntime — forward passes, training, checkpoints
//   - part, dist, transport: partitioning and distributed stepping
//   - serialize: HGRF graph, HNWT weights, and checkpoint codecs
//   - device: host/device tensor adapters per backend
//   - cmd/harmonicsctl: command-line surface
package harmonics

import (
	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/ir/builder"
	"github.com/sbl8/harmonics/kernel/builtin"
	"github.com/sbl8/harmonics/kernel/registry"
	"github.com/sbl8/harmonics/lang/parser"
)

// Compile parses DSL source and lowers it to a validated graph.
func Compile(src string) (*ir.Graph, error) {
	decls, err := parser.New(src).ParseDeclarations()
	if err != nil {
		return nil, err
	}
	return builder.Build(decls)
}

// NewRegistry returns a kernel registry pre-populated with the built-in
// kernels under default tunables.
func NewRegistry() *registry.Registry {
	r := registry.New()
	builtin.RegisterBuiltins(r, builtin.DefaultTunables())
	return r
}
