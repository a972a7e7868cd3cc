package builtin_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/kernel/builtin"
	"github.com/sbl8/harmonics/kernel/registry"
	"github.com/sbl8/harmonics/tensor"
)

func freshRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	builtin.RegisterBuiltins(r, builtin.DefaultTunables())
	return r
}

func apply(t *testing.T, r *registry.Registry, name string, in []float32) []float32 {
	t.Helper()
	fn, _, err := r.Resolve(name)
	require.NoError(t, err)
	out, err := fn(tensor.FromFloat32(in), 32)
	require.NoError(t, err)
	fs, err := out.Float32s()
	require.NoError(t, err)
	return fs
}

func TestAllSpecKernelsRegistered(t *testing.T) {
	r := freshRegistry(t)
	for _, name := range []string{
		"relu", "sigmoid", "softmax", "gelu", "selu", "prelu",
		"int8_relu", "int8_hardsigmoid", "int8_softmax",
		"conv", "norm", "attention", "multihead_attention", "cross_attention",
		"max_pool", "avg_pool", "dropout",
	} {
		_, _, err := r.Resolve(name)
		require.NoError(t, err, "kernel %q", name)
	}
	for _, name := range []string{"mse", "cross_entropy"} {
		_, err := r.Loss(name)
		require.NoError(t, err, "loss %q", name)
	}
}

func TestRelu(t *testing.T) {
	r := freshRegistry(t)
	require.Equal(t, []float32{0, 0, 1, 2}, apply(t, r, "relu", []float32{-3, 0, 1, 2}))
}

func TestSigmoidRange(t *testing.T) {
	r := freshRegistry(t)
	out := apply(t, r, "sigmoid", []float32{-10, 0, 10})
	require.InDelta(t, 0, out[0], 1e-3)
	require.InDelta(t, 0.5, out[1], 1e-6)
	require.InDelta(t, 1, out[2], 1e-3)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	r := freshRegistry(t)
	out := apply(t, r, "softmax", []float32{1, 2, 3, 4})
	sum := float32(0)
	for _, v := range out {
		sum += v
	}
	require.InDelta(t, 1, sum, 1e-5)
	require.True(t, out[3] > out[0], "softmax must preserve order")
}

func TestMSE(t *testing.T) {
	r := freshRegistry(t)
	fn, err := r.Loss("mse")
	require.NoError(t, err)
	out, err := fn(tensor.FromFloat32([]float32{1, 2}), tensor.FromFloat32([]float32{0, 0}), 32)
	require.NoError(t, err)
	fs, err := out.Float32s()
	require.NoError(t, err)
	require.Len(t, fs, 1)
	require.InDelta(t, 2.5, fs[0], 1e-6) // (1+4)/2
}

func TestCrossEntropyPenalizesConfidentMiss(t *testing.T) {
	r := freshRegistry(t)
	fn, err := r.Loss("cross_entropy")
	require.NoError(t, err)

	good, err := fn(tensor.FromFloat32([]float32{0.9, 0.1}), tensor.FromFloat32([]float32{1, 0}), 32)
	require.NoError(t, err)
	bad, err := fn(tensor.FromFloat32([]float32{0.1, 0.9}), tensor.FromFloat32([]float32{1, 0}), 32)
	require.NoError(t, err)

	gs, _ := good.Float32s()
	bs, _ := bad.Float32s()
	require.Less(t, gs[0], bs[0])
}

func TestConvWindowAverages(t *testing.T) {
	r := freshRegistry(t)
	out := apply(t, r, "conv", []float32{3, 3, 3, 9})
	// kernel size 3: windows [3,3,3] and [3,3,9]
	require.Len(t, out, 2)
	require.InDelta(t, 3, out[0], 1e-6)
	require.InDelta(t, 5, out[1], 1e-6)
}

func TestNormZeroMeanUnitVariance(t *testing.T) {
	r := freshRegistry(t)
	out := apply(t, r, "norm", []float32{1, 2, 3, 4})
	mean := float64(0)
	for _, v := range out {
		mean += float64(v)
	}
	mean /= float64(len(out))
	require.InDelta(t, 0, mean, 1e-5)

	variance := float64(0)
	for _, v := range out {
		variance += (float64(v) - mean) * (float64(v) - mean)
	}
	variance /= float64(len(out))
	require.InDelta(t, 1, variance, 1e-2)
}

func TestPools(t *testing.T) {
	r := freshRegistry(t)
	require.Equal(t, []float32{2, 4}, apply(t, r, "max_pool", []float32{1, 2, 3, 4}))
	require.Equal(t, []float32{1.5, 3.5}, apply(t, r, "avg_pool", []float32{1, 2, 3, 4}))
}

func TestDropoutDeterministic(t *testing.T) {
	r := freshRegistry(t)
	in := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	a := apply(t, r, "dropout", in)
	b := apply(t, r, "dropout", in)
	require.Equal(t, a, b, "dropout must be deterministic across runs")
	zeros := 0
	for _, v := range a {
		if v == 0 {
			zeros++
		}
	}
	require.Equal(t, 1, zeros, "default rate 0.1 zeroes every 10th element")
}

func TestTunablesChangeBehavior(t *testing.T) {
	r := registry.New()
	tun := builtin.DefaultTunables()
	tun.PoolWindow = 4
	builtin.RegisterBuiltins(r, tun)
	require.Equal(t, []float32{4}, apply(t, r, "max_pool", []float32{1, 2, 3, 4}))
}

func TestInt8ReluRoundTrips(t *testing.T) {
	r := freshRegistry(t)
	fn, _, err := r.Resolve("int8_relu")
	require.NoError(t, err)
	// +128 offset encoding: 120 encodes -8, 136 encodes +8.
	in := tensor.Tensor{Kind: tensor.UInt8, Shape: []uint32{2}, Data: []byte{120, 136}}
	out, err := fn(in, 8)
	require.NoError(t, err)
	require.Equal(t, []byte{128, 136}, out.Data)
}

func TestAttentionPreservesLength(t *testing.T) {
	r := freshRegistry(t)
	for _, name := range []string{"attention", "multihead_attention", "cross_attention"} {
		out := apply(t, r, name, []float32{1, 2, 3, 4, 5, 6, 7, 8})
		require.Len(t, out, 8, "kernel %q", name)
		for _, v := range out {
			require.False(t, math.IsNaN(float64(v)), "kernel %q produced NaN", name)
		}
	}
}

func TestInt8SoftmaxNormalizes(t *testing.T) {
	r := freshRegistry(t)
	fn, _, err := r.Resolve("int8_softmax")
	require.NoError(t, err)

	// Uniform logits: every output carries the same probability mass, and
	// the dequantized probabilities (scaled by 127) sum to ~127.
	in := tensor.Tensor{Kind: tensor.UInt8, Shape: []uint32{4}, Data: []byte{130, 130, 130, 130}}
	out, err := fn(in, 8)
	require.NoError(t, err)
	require.Len(t, out.Data, 4)
	sum := int32(0)
	for _, b := range out.Data {
		require.Equal(t, out.Data[0], b)
		sum += int32(b) - 128
	}
	require.InDelta(t, 127, float64(sum), 4)

	// A dominant logit takes nearly all the mass.
	in = tensor.Tensor{Kind: tensor.UInt8, Shape: []uint32{3}, Data: []byte{138, 128, 128}}
	out, err = fn(in, 8)
	require.NoError(t, err)
	require.Greater(t, out.Data[0], out.Data[1])
	require.Equal(t, out.Data[1], out.Data[2])
}
