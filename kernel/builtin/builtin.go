// Package builtin registers the built-in activation, loss, and layer
// kernels: elementwise activations, their int8 fixed-point variants, the
// mse/cross_entropy losses, and the conv/norm/attention/pooling/dropout
// layer transforms. Behavior constants live in a Tunables struct reset by
// RegisterBuiltins.
package builtin

import (
	"math"

	"github.com/sbl8/harmonics/kernel/registry"
	"github.com/sbl8/harmonics/tensor"
)

// Tunables holds the process-wide behavior constants: convolution kernel
// size, pooling window, attention temperature/heads, norm epsilon, dropout
// rate. Tests re-register with DefaultTunables to reset them.
type Tunables struct {
	ConvKernelSize int
	PoolWindow     int
	AttnHeads      int
	AttnTemp       float64
	NormEpsilon    float64
	DropoutRate    float64
}

// DefaultTunables returns the factory-default behavior constants.
func DefaultTunables() Tunables {
	return Tunables{
		ConvKernelSize: 3,
		PoolWindow:     2,
		AttnHeads:      4,
		AttnTemp:       1.0,
		NormEpsilon:    1e-5,
		DropoutRate:    0.1,
	}
}

func floats(t tensor.Tensor) ([]float32, error) {
	if t.Kind == tensor.Float32 {
		return t.Float32s()
	}
	// UInt8 input is widened to float32. Other kinds (Float64, Int32,
	// Int64) are not converted: Float32s rejects them with an error.
	switch t.Kind {
	case tensor.UInt8:
		out := make([]float32, len(t.Data))
		for i, b := range t.Data {
			out[i] = float32(b)
		}
		return out, nil
	default:
		return t.Float32s()
	}
}

func wrap(vals []float32) tensor.Tensor { return tensor.FromFloat32(vals) }

func elementwise(fn func(float32) float32) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, bits uint8) (tensor.Tensor, error) {
		xs, err := floats(in)
		if err != nil {
			return tensor.Tensor{}, err
		}
		out := make([]float32, len(xs))
		for i, x := range xs {
			out[i] = fn(x)
		}
		return wrap(out), nil
	}
}

func relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

func sigmoid(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) }

func gelu(x float32) float32 {
	xf := float64(x)
	return float32(0.5 * xf * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(xf+0.044715*xf*xf*xf))))
}

func selu(x float32) float32 {
	const alpha = 1.6732632423543772
	const scale = 1.0507009873554805
	if x > 0 {
		return float32(scale * float64(x))
	}
	return float32(scale * alpha * (math.Exp(float64(x)) - 1))
}

func prelu(alpha float32) func(float32) float32 {
	return func(x float32) float32 {
		if x >= 0 {
			return x
		}
		return alpha * x
	}
}

func softmaxFn(in tensor.Tensor, _ uint8) (tensor.Tensor, error) {
	xs, err := floats(in)
	if err != nil {
		return tensor.Tensor{}, err
	}
	if len(xs) == 0 {
		return wrap(nil), nil
	}
	max := xs[0]
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	sum := float64(0)
	out := make([]float32, len(xs))
	for i, x := range xs {
		e := math.Exp(float64(x - max))
		out[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		sum = 1
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return wrap(out), nil
}

// int8Quantize clamps a float32 to the signed int8 range and encodes it as
// a UInt8 with a +128 offset, the simple fixed-point scheme the int8_*
// builtins use.
func int8Quantize(x float32) byte {
	v := math.Round(float64(x))
	if v < -128 {
		v = -128
	}
	if v > 127 {
		v = 127
	}
	return byte(int32(v) + 128)
}

func int8Dequantize(b byte) float32 { return float32(int32(b) - 128) }

func int8Elementwise(fn func(float32) float32) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, bits uint8) (tensor.Tensor, error) {
		out := make([]byte, len(in.Data))
		for i, b := range in.Data {
			out[i] = int8Quantize(fn(int8Dequantize(b)))
		}
		return tensor.Tensor{Kind: tensor.UInt8, Shape: append([]uint32(nil), in.Shape...), Data: out}, nil
	}
}

func int8HardSigmoid(x float32) float32 {
	y := x/6 + 0.5
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}

// int8Softmax dequantizes the whole vector, normalizes with the float
// softmax, and requantizes the resulting probabilities scaled by 127 so
// they span the fixed-point range instead of collapsing onto {128, 129}.
func int8Softmax(in tensor.Tensor, bits uint8) (tensor.Tensor, error) {
	xs := make([]float32, len(in.Data))
	for i, b := range in.Data {
		xs[i] = int8Dequantize(b)
	}
	sm, err := softmaxFn(wrap(xs), bits)
	if err != nil {
		return tensor.Tensor{}, err
	}
	ps, err := sm.Float32s()
	if err != nil {
		return tensor.Tensor{}, err
	}
	out := make([]byte, len(ps))
	for i, p := range ps {
		out[i] = int8Quantize(p * 127)
	}
	return tensor.Tensor{Kind: tensor.UInt8, Shape: append([]uint32(nil), in.Shape...), Data: out}, nil
}

func mse(prediction, label tensor.Tensor, _ uint8) (tensor.Tensor, error) {
	ps, err := floats(prediction)
	if err != nil {
		return tensor.Tensor{}, err
	}
	ls, err := floats(label)
	if err != nil {
		return tensor.Tensor{}, err
	}
	n := len(ps)
	if len(ls) < n {
		n = len(ls)
	}
	sum := float64(0)
	for i := 0; i < n; i++ {
		d := float64(ps[i] - ls[i])
		sum += d * d
	}
	if n > 0 {
		sum /= float64(n)
	}
	return wrap([]float32{float32(sum)}), nil
}

func crossEntropy(prediction, label tensor.Tensor, _ uint8) (tensor.Tensor, error) {
	ps, err := floats(prediction)
	if err != nil {
		return tensor.Tensor{}, err
	}
	ls, err := floats(label)
	if err != nil {
		return tensor.Tensor{}, err
	}
	n := len(ps)
	if len(ls) < n {
		n = len(ls)
	}
	const eps = 1e-12
	sum := float64(0)
	for i := 0; i < n; i++ {
		p := math.Min(math.Max(float64(ps[i]), eps), 1-eps)
		sum -= float64(ls[i]) * math.Log(p)
	}
	return wrap([]float32{float32(sum)}), nil
}

func conv(t Tunables) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, _ uint8) (tensor.Tensor, error) {
		xs, err := floats(in)
		if err != nil {
			return tensor.Tensor{}, err
		}
		k := t.ConvKernelSize
		if k < 1 {
			k = 1
		}
		if len(xs) < k {
			return wrap(xs), nil
		}
		out := make([]float32, len(xs)-k+1)
		for i := range out {
			sum := float32(0)
			for j := 0; j < k; j++ {
				sum += xs[i+j]
			}
			out[i] = sum / float32(k)
		}
		return wrap(out), nil
	}
}

func norm(t Tunables) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, _ uint8) (tensor.Tensor, error) {
		xs, err := floats(in)
		if err != nil {
			return tensor.Tensor{}, err
		}
		n := len(xs)
		if n == 0 {
			return wrap(nil), nil
		}
		mean := float64(0)
		for _, x := range xs {
			mean += float64(x)
		}
		mean /= float64(n)
		variance := float64(0)
		for _, x := range xs {
			d := float64(x) - mean
			variance += d * d
		}
		variance /= float64(n)
		std := math.Sqrt(variance + t.NormEpsilon)
		out := make([]float32, n)
		for i, x := range xs {
			out[i] = float32((float64(x) - mean) / std)
		}
		return wrap(out), nil
	}
}

// attention computes single-head scaled dot-product self-attention over a
// 1D tensor treated as its own query/key/value; a full tensor math library
// stays out of scope, kernels remain pluggable.
func attention(t Tunables) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, _ uint8) (tensor.Tensor, error) {
		xs, err := floats(in)
		if err != nil {
			return tensor.Tensor{}, err
		}
		return wrap(softmaxWeightedSelf(xs, t.AttnTemp)), nil
	}
}

func softmaxWeightedSelf(xs []float32, temp float64) []float32 {
	n := len(xs)
	out := make([]float32, n)
	if n == 0 {
		return out
	}
	if temp == 0 {
		temp = 1
	}
	scores := make([]float64, n)
	for i := range xs {
		sum := float64(0)
		weights := make([]float64, n)
		for j := range xs {
			s := float64(xs[i]) * float64(xs[j]) / temp
			weights[j] = s
		}
		max := weights[0]
		for _, w := range weights {
			if w > max {
				max = w
			}
		}
		expw := make([]float64, n)
		for j, w := range weights {
			e := math.Exp(w - max)
			expw[j] = e
			sum += e
		}
		if sum == 0 {
			sum = 1
		}
		acc := float64(0)
		for j := range xs {
			acc += (expw[j] / sum) * float64(xs[j])
		}
		scores[i] = acc
	}
	for i, s := range scores {
		out[i] = float32(s)
	}
	return out
}

// multiheadAttention splits the input into at most t.AttnHeads contiguous
// chunks of ceil(n/heads) elements,
// applies attention per head, and concatenates the results — the minimal
// multi-head shape, with rotary embedding left a documented non-goal
// extension point.
func multiheadAttention(t Tunables) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, bits uint8) (tensor.Tensor, error) {
		xs, err := floats(in)
		if err != nil {
			return tensor.Tensor{}, err
		}
		heads := t.AttnHeads
		if heads < 1 {
			heads = 1
		}
		n := len(xs)
		chunk := (n + heads - 1) / heads
		if chunk == 0 {
			return wrap(xs), nil
		}
		out := make([]float32, 0, n)
		for h := 0; h < heads; h++ {
			start := h * chunk
			if start >= n {
				break
			}
			end := start + chunk
			if end > n {
				end = n
			}
			out = append(out, softmaxWeightedSelf(xs[start:end], t.AttnTemp)...)
		}
		return wrap(out), nil
	}
}

// crossAttention attends the input sequence against itself rotated by half
// its length (n/2), a stand-in cross-sequence shape given the runtime carries a
// single tensor per node rather than a query/context pair.
func crossAttention(t Tunables) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, bits uint8) (tensor.Tensor, error) {
		xs, err := floats(in)
		if err != nil {
			return tensor.Tensor{}, err
		}
		n := len(xs)
		if n == 0 {
			return wrap(nil), nil
		}
		shift := n / 2
		ctx := append(append([]float32(nil), xs[shift:]...), xs[:shift]...)
		combined := make([]float32, n)
		for i := range xs {
			combined[i] = xs[i] + ctx[i]
		}
		return wrap(softmaxWeightedSelf(combined, t.AttnTemp)), nil
	}
}

func pool(window int, reduce func([]float32) float32) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, _ uint8) (tensor.Tensor, error) {
		xs, err := floats(in)
		if err != nil {
			return tensor.Tensor{}, err
		}
		w := window
		if w < 1 {
			w = 1
		}
		if len(xs) == 0 {
			return wrap(nil), nil
		}
		var out []float32
		for i := 0; i < len(xs); i += w {
			end := i + w
			if end > len(xs) {
				end = len(xs)
			}
			out = append(out, reduce(xs[i:end]))
		}
		return wrap(out), nil
	}
}

func maxReduce(xs []float32) float32 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func avgReduce(xs []float32) float32 {
	sum := float32(0)
	for _, x := range xs {
		sum += x
	}
	return sum / float32(len(xs))
}

// dropout zeroes every Nth element rather than sampling randomly, so
// results never diverge between CPU/GPU/FPGA runs or between two
// inferences of the same graph.
func dropout(t Tunables) func(tensor.Tensor, uint8) (tensor.Tensor, error) {
	return func(in tensor.Tensor, _ uint8) (tensor.Tensor, error) {
		xs, err := floats(in)
		if err != nil {
			return tensor.Tensor{}, err
		}
		rate := t.DropoutRate
		if rate <= 0 {
			return wrap(xs), nil
		}
		if rate >= 1 {
			return wrap(make([]float32, len(xs))), nil
		}
		stride := int(math.Round(1 / rate))
		if stride < 1 {
			stride = 1
		}
		out := append([]float32(nil), xs...)
		for i := range out {
			if (i+1)%stride == 0 {
				out[i] = 0
			}
		}
		return wrap(out), nil
	}
}

// RegisterBuiltins (re)registers every built-in kernel into r using t as
// the tunable constants, resetting any prior registration.
func RegisterBuiltins(r *registry.Registry, t Tunables) {
	r.RegisterActivation("relu", elementwise(relu))
	r.RegisterActivation("sigmoid", elementwise(sigmoid))
	r.RegisterActivation("softmax", softmaxFn)
	r.RegisterActivation("gelu", elementwise(gelu))
	r.RegisterActivation("selu", elementwise(selu))
	r.RegisterActivation("prelu", elementwise(prelu(0.25)))
	r.RegisterActivation("int8_relu", int8Elementwise(relu))
	r.RegisterActivation("int8_hardsigmoid", int8Elementwise(int8HardSigmoid))
	r.RegisterActivation("int8_softmax", int8Softmax)

	r.RegisterLoss("mse", mse)
	r.RegisterLoss("cross_entropy", crossEntropy)

	r.RegisterLayer("conv", conv(t))
	r.RegisterLayer("norm", norm(t))
	r.RegisterLayer("attention", attention(t))
	r.RegisterLayer("multihead_attention", multiheadAttention(t))
	r.RegisterLayer("cross_attention", crossAttention(t))
	r.RegisterLayer("max_pool", pool(t.PoolWindow, maxReduce))
	r.RegisterLayer("avg_pool", pool(t.PoolWindow, avgReduce))
	r.RegisterLayer("dropout", dropout(t))
}
