package runtime_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/kernel/registry"
	"github.com/sbl8/harmonics/runtime"
	"github.com/sbl8/harmonics/tensor"
)

// trainableRuntime builds p -> l with a tap l <-(loss)- lbl, where loss
// returns a fixed surrogate gradient.
func trainableRuntime(t *testing.T, grad float32) (*runtime.CycleRuntime, *registry.Registry) {
	t.Helper()
	g := build(t, "producer p {1}; producer lbl {1}; layer l; cycle { p -> l; l <-(fixed)- lbl; }")
	reg := newRegistry()
	reg.RegisterLoss("fixed", func(_, _ tensor.Tensor, _ uint8) (tensor.Tensor, error) {
		return tensor.FromFloat32([]float32{grad}), nil
	})
	rt := newRuntime(t, g, reg, runtime.Deployment{Backend: device.CPU})
	require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{1}))))
	require.NoError(t, rt.BindProducer("lbl", runtime.NewConstantProducer(tensor.FromFloat32([]float32{0}))))
	return rt, reg
}

func weightValue(t *testing.T, rt *runtime.CycleRuntime) float32 {
	t.Helper()
	fs := floatsOf(t, rt.State().Weights[0])
	require.Len(t, fs, 1)
	return fs[0]
}

func TestFitAppliesSGDUpdates(t *testing.T) {
	rt, _ := trainableRuntime(t, 1.0)
	cfg := runtime.DefaultTrainConfig()
	cfg.LearningRate = 0.1

	res, err := rt.Fit(context.Background(), 3, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Cycles)
	require.Equal(t, 3, res.Updates)
	// Three SGD steps of lr*grad each, starting from zero weights.
	require.InDelta(t, -0.3, weightValue(t, rt), 1e-6)
}

func TestProgressCalledOncePerApplication(t *testing.T) {
	// accumulate_steps = k invokes progress floor(epochs/k)
	// times, numbered from 1.
	rt, _ := trainableRuntime(t, 1.0)
	cfg := runtime.DefaultTrainConfig()
	cfg.AccumulateSteps = 2

	var steps []int
	res, err := rt.Fit(context.Background(), 7, cfg, func(step int, _ float64) {
		steps = append(steps, step)
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, steps)
	require.Equal(t, 3, res.Updates)
	require.Equal(t, 7, res.Cycles)
}

func TestGradClipBoundsUpdates(t *testing.T) {
	// No applied update's surrogate-gradient norm exceeds the
	// clip. With a huge raw gradient, the SGD delta is exactly lr*clip.
	rt, _ := trainableRuntime(t, 1e6)
	cfg := runtime.DefaultTrainConfig()
	cfg.LearningRate = 0.1
	cfg.GradClip = 1.0

	_, err := rt.Fit(context.Background(), 1, cfg, nil)
	require.NoError(t, err)
	require.InDelta(t, -0.1, weightValue(t, rt), 1e-6)
}

func TestEarlyStopOnPlateau(t *testing.T) {
	rt, _ := trainableRuntime(t, 1.0) // constant loss: never improves
	cfg := runtime.DefaultTrainConfig()
	cfg.EarlyStopPatience = 2
	cfg.EarlyStopDelta = 0.01

	res, err := rt.Fit(context.Background(), 100, cfg, nil)
	require.NoError(t, err)
	require.True(t, res.EarlyStopped)
	require.Less(t, res.Updates, 100)
}

func TestFitUntilPredicate(t *testing.T) {
	rt, _ := trainableRuntime(t, 1.0)
	res, err := rt.FitUntil(context.Background(), func(cycle int, _ float64) bool {
		return cycle < 4
	}, runtime.DefaultTrainConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, 4, res.Cycles)
}

func TestExponentialDecaySchedule(t *testing.T) {
	s := runtime.ExponentialDecay{Decay: 0.5}
	require.InDelta(t, 0.05, s.At(1, 0.1), 1e-9)
	require.InDelta(t, 0.025, s.At(2, 0.1), 1e-9)
}

func TestStepDecaySchedule(t *testing.T) {
	s := runtime.StepDecay{StepSize: 2, Factor: 0.5}
	require.InDelta(t, 0.1, s.At(1, 0.1), 1e-9)
	require.InDelta(t, 0.05, s.At(2, 0.1), 1e-9)
	require.InDelta(t, 0.05, s.At(3, 0.1), 1e-9)
	require.InDelta(t, 0.025, s.At(4, 0.1), 1e-9)
}

func TestAdamConvergesDirectionally(t *testing.T) {
	rt, _ := trainableRuntime(t, 1.0)
	cfg := runtime.DefaultTrainConfig()
	cfg.Optimizer = runtime.Adam
	cfg.LearningRate = 0.01

	_, err := rt.Fit(context.Background(), 5, cfg, nil)
	require.NoError(t, err)
	w := weightValue(t, rt)
	require.Less(t, w, float32(0), "positive gradient must push weights down")
	require.False(t, math.IsNaN(float64(w)))
}

func TestRMSPropConvergesDirectionally(t *testing.T) {
	rt, _ := trainableRuntime(t, 1.0)
	cfg := runtime.DefaultTrainConfig()
	cfg.Optimizer = runtime.RMSProp
	cfg.LearningRate = 0.01

	_, err := rt.Fit(context.Background(), 5, cfg, nil)
	require.NoError(t, err)
	require.Less(t, weightValue(t, rt), float32(0))
}

func TestWeightsUntouchedOnMidCycleFailure(t *testing.T) {
	// A loss that fails aborts the cycle before any pending weight commit.
	g := build(t, "producer p {1}; producer lbl {1}; layer l; cycle { p -> l; l <-(boom)- lbl; }")
	reg := newRegistry()
	reg.RegisterLoss("boom", func(_, _ tensor.Tensor, _ uint8) (tensor.Tensor, error) {
		return tensor.Tensor{}, context.DeadlineExceeded
	})
	rt := newRuntime(t, g, reg, runtime.Deployment{Backend: device.CPU})
	require.NoError(t, rt.BindProducer("p", runtime.NewConstantProducer(tensor.FromFloat32([]float32{1}))))
	require.NoError(t, rt.BindProducer("lbl", runtime.NewConstantProducer(tensor.FromFloat32([]float32{0}))))

	_, err := rt.Forward(context.Background())
	require.Error(t, err)
	require.True(t, rt.State().Weights[0].Empty(), "failed cycle must not allocate or update weights")
}
