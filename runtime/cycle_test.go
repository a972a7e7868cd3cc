package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/ir/builder"
	"github.com/sbl8/harmonics/kernel/builtin"
	"github.com/sbl8/harmonics/kernel/registry"
	"github.com/sbl8/harmonics/lang/parser"
	"github.com/sbl8/harmonics/policy"
	"github.com/sbl8/harmonics/runtime"
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

func newRegistry() *registry.Registry {
	r := registry.New()
	builtin.RegisterBuiltins(r, builtin.DefaultTunables())
	return r
}

func newRuntime(t *testing.T, g *ir.Graph, reg *registry.Registry, dep runtime.Deployment) *runtime.CycleRuntime {
	t.Helper()
	rt, err := runtime.New(g, policy.Auto{}, reg, device.NewRegistry(), dep)
	require.NoError(t, err)
	return rt
}

func floatsOf(t *testing.T, tn tensor.Tensor) []float32 {
	t.Helper()
	fs, err := tn.Float32s()
	require.NoError(t, err)
	return fs
}

func TestForwardIdentityFlow(t *testing.T) {
	g := build(t, "producer p {1}; layer l; consumer c {1}; cycle { p -> l; l -> c; }")
	rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: device.CPU})

	require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{42}))))
	sink := &runtime.CollectingConsumer{}
	require.NoError(t, rt.BindConsumer("c", sink))

	state, err := rt.Forward(context.Background())
	require.NoError(t, err)
	require.Equal(t, []float32{42}, floatsOf(t, state.ConsumerTensors[0]))
	require.Len(t, sink.Received, 1)
	require.Equal(t, []float32{42}, floatsOf(t, sink.Received[0]))
}

func TestBranchingSamplesProducerOnce(t *testing.T) {
	// Lines sharing a producer source pull exactly one sample per cycle.
	g := build(t, "producer p {1}; layer a; layer b; cycle { p -> a; -> b; }")
	rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: device.CPU})

	src := runtime.NewSliceProducer([]tensor.Tensor{
		tensor.FromFloat32([]float32{1}),
		tensor.FromFloat32([]float32{2}),
	})
	require.NoError(t, rt.BindProducer("p", src))

	state, err := rt.Forward(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, src.Calls())
	require.Equal(t, []float32{1}, floatsOf(t, state.LayerTensors[0]))
	require.Equal(t, []float32{1}, floatsOf(t, state.LayerTensors[1]))
}

func TestTrainingTapAllocatesWeightAndCallsLossOnce(t *testing.T) {
	// A backward tap lazily allocates the layer's weight to its output
	// shape and invokes the loss exactly once.
	g := build(t, "producer p {1}; producer lbl {1}; layer l; cycle { p -> l; l <-(dummy)- lbl; }")

	reg := newRegistry()
	lossCalls := 0
	reg.RegisterLoss("dummy", func(prediction, label tensor.Tensor, _ uint8) (tensor.Tensor, error) {
		lossCalls++
		return tensor.FromFloat32([]float32{1.0}), nil
	})

	rt := newRuntime(t, g, reg, runtime.Deployment{Backend: device.CPU})
	require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{5}))))
	require.NoError(t, rt.BindProducer("lbl", runtime.NewConstantProducer(tensor.FromFloat32([]float32{0}))))

	state, err := rt.Forward(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, lossCalls)
	require.Equal(t, []uint32{1}, state.Weights[0].Shape)
}

func TestSecureChainProofs(t *testing.T) {
	// Successive passes yield distinct 64-hex proofs, and the chain
	// verifies from the previous proof.
	g := build(t, "producer p {1}; layer l; cycle { p -> l; }")
	rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: device.CPU, Secure: true})
	require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{1}))))

	var zero [32]byte
	_, err := rt.Forward(context.Background())
	require.NoError(t, err)
	first := rt.Proof()
	require.Len(t, first, 64)
	require.True(t, rt.VerifyChain(zero), "one pass from the zero chain must verify")
	firstHash := rt.ChainHash()

	_, err = rt.Forward(context.Background())
	require.NoError(t, err)
	second := rt.Proof()
	require.Len(t, second, 64)
	require.NotEqual(t, first, second)
	require.True(t, rt.VerifyChain(firstHash))
	require.False(t, rt.VerifyChain(zero), "two passes from zero is not one pass")
}

func TestDeterminismAcrossBackends(t *testing.T) {
	// Absent adapters downgrade to CPU and results stay bit-identical.
	src := "producer p {1}; layer l; consumer c {1}; cycle { p -> l; l -> c; }"

	var results [][]float32
	for _, backend := range []device.Backend{device.CPU, device.GPU, device.FPGA} {
		g := build(t, src)
		rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: backend})
		require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{42}))))

		state, err := rt.Forward(context.Background())
		require.NoError(t, err)
		require.Equal(t, device.CPU, rt.EffectiveBackend())
		results = append(results, floatsOf(t, state.ConsumerTensors[0]))
	}
	require.Equal(t, results[0], results[1])
	require.Equal(t, results[0], results[2])
	require.Equal(t, []float32{42}, results[0])
}

func TestMissingBinding(t *testing.T) {
	g := build(t, "producer p {1}; layer l; cycle { p -> l; }")
	rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: device.CPU})
	_, err := rt.Forward(context.Background())
	require.True(t, errors.Is(err, herr.ErrMissingBinding))
}

func TestUnknownFunction(t *testing.T) {
	g := build(t, "producer p {1}; layer l; cycle { p -(ghost)-> l; }")
	rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: device.CPU})
	require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{1}))))
	_, err := rt.Forward(context.Background())
	require.True(t, errors.Is(err, herr.ErrUnknownFunction))
}

func TestShapeMismatchOnBoundProducer(t *testing.T) {
	g := build(t, "producer p {4}; layer l; cycle { p -> l; }")
	rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: device.CPU})
	require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{1, 2}))))
	_, err := rt.Forward(context.Background())
	require.True(t, errors.Is(err, herr.ErrShapeMismatch))
}

func TestDebugCallbackSeesEveryOp(t *testing.T) {
	g := build(t, "producer p {1}; layer l; consumer c {1}; cycle { p -> l; l -> c; }")
	rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: device.CPU})
	require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{1}))))

	var ops int
	rt.SetDebugFunc(func(src, dst ir.NodeID, _ tensor.Tensor, backward bool, _ string, _ bool) {
		ops++
		require.False(t, backward)
	})
	_, err := rt.Forward(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, ops)
}

func TestMultiThreadingMatchesSequential(t *testing.T) {
	src := `
		producer p {4}; layer a; layer b; layer d; consumer c {4};
		cycle {
			p -(relu)-> a | -(sigmoid)-> b | -> d;
			a -> c;
		}`
	in := tensor.FromFloat32([]float32{-1, 0, 1, 2})

	run := func(threaded bool) *runtime.CycleState {
		g := build(t, src)
		rt := newRuntime(t, g, newRegistry(), runtime.Deployment{Backend: device.CPU})
		if threaded {
			rt.EnableMultiThreading(4)
		}
		require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(in)))
		state, err := rt.Forward(context.Background())
		require.NoError(t, err)
		return state
	}

	seq := run(false)
	par := run(true)
	for i := range seq.LayerTensors {
		require.Equal(t, floatsOf(t, seq.LayerTensors[i]), floatsOf(t, par.LayerTensors[i]))
	}
}

func TestPrecisionBitsFollowPolicy(t *testing.T) {
	g := build(t, "producer p {1}; layer a; layer b;")
	rt, err := runtime.New(g, policy.MaxBits{Bits: 8}, newRegistry(), device.NewRegistry(), runtime.Deployment{Backend: device.CPU})
	require.NoError(t, err)
	require.Equal(t, []uint8{8, 8}, rt.State().PrecisionBits)
}
