package runtime

import "math"

// Optimizer selects the weight-update rule Fit/Forward apply to a layer's
// surrogate gradient.
type Optimizer uint8

const (
	SGD Optimizer = iota
	Adam
	RMSProp
)

// Schedule computes the learning rate to use at a given update step,
// allowing exponential decay or step-decay shift.
type Schedule interface {
	At(step int, base float64) float64
}

// ConstantSchedule never decays the learning rate.
type ConstantSchedule struct{}

func (ConstantSchedule) At(_ int, base float64) float64 { return base }

// ExponentialDecay applies base * decay^step.
type ExponentialDecay struct {
	Decay float64
}

func (e ExponentialDecay) At(step int, base float64) float64 {
	return base * math.Pow(e.Decay, float64(step))
}

// StepDecay halves (or scales by Factor) the learning rate every StepSize
// integer updates — the step-decay shift for integer modes.
type StepDecay struct {
	StepSize int
	Factor   float64
}

func (s StepDecay) At(step int, base float64) float64 {
	if s.StepSize <= 0 {
		return base
	}
	shifts := step / s.StepSize
	factor := s.Factor
	if factor == 0 {
		factor = 0.5
	}
	return base * math.Pow(factor, float64(shifts))
}

// TrainConfig holds the per-runtime training knobs: optimizer choice,
// learning rate (and schedule), gradient clipping, accumulation, and early
// stopping.
type TrainConfig struct {
	Optimizer         Optimizer
	LearningRate      float64
	Schedule          Schedule
	GradClip          float64 // 0 disables clipping
	AccumulateSteps   int     // 0 or 1 applies every step
	EarlyStopPatience int     // 0 disables early stopping
	EarlyStopDelta    float64
	Beta1, Beta2, Eps float64 // Adam/RMSProp moment decay and numerical epsilon
}

// DefaultTrainConfig matches the defaults used when a graph trains via a
// bare Forward() rather than through Fit.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Optimizer:       SGD,
		LearningRate:    0.01,
		Schedule:        ConstantSchedule{},
		AccumulateSteps: 1,
		Beta1:           0.9,
		Beta2:           0.999,
		Eps:             1e-8,
	}
}

// optimizerState tracks per-layer moment buffers for Adam/RMSProp and the
// step counter schedules consult.
type optimizerState struct {
	step int
	m, v float64
}

func clipGrad(g float64, clip float64) float64 {
	if clip <= 0 {
		return g
	}
	norm := math.Abs(g)
	if norm <= clip {
		return g
	}
	return g * (clip / norm)
}

// accumulateGradient folds a cycle's surrogate gradient for a layer into
// the pending accumulator; applyAccumulated flushes it every
// AccumulateSteps iterations.
func (rt *CycleRuntime) accumulateGradient(layerIdx uint32, g float64) {
	rt.accumGrads[layerIdx] += g
}

// applyAccumulated applies the mean accumulated gradient per layer via the
// configured optimizer rule, then clears the accumulators. Returns the
// number of layers updated.
func (rt *CycleRuntime) applyAccumulated(cfg TrainConfig, cycles int) int {
	if cycles < 1 {
		cycles = 1
	}
	updated := 0
	for layerIdx, sum := range rt.accumGrads {
		rt.applyGradient(layerIdx, sum/float64(cycles), cfg)
		updated++
	}
	rt.accumGrads = map[uint32]float64{}
	return updated
}

// applyGradient updates the layer's weight tensor in place using cfg's
// optimizer rule over the scalar surrogate gradient g. Clipping happens
// here, at apply time, so the clamp covers the accumulated gradient too.
func (rt *CycleRuntime) applyGradient(layerIdx uint32, g float64, cfg TrainConfig) {
	st, ok := rt.optStates[layerIdx]
	if !ok {
		st = &optimizerState{}
		rt.optStates[layerIdx] = st
	}
	st.step++

	g = clipGrad(g, cfg.GradClip)
	lr := cfg.Schedule.At(st.step, cfg.LearningRate)

	var delta float64
	switch cfg.Optimizer {
	case Adam:
		st.m = cfg.Beta1*st.m + (1-cfg.Beta1)*g
		st.v = cfg.Beta2*st.v + (1-cfg.Beta2)*g*g
		mHat := st.m / (1 - math.Pow(cfg.Beta1, float64(st.step)))
		vHat := st.v / (1 - math.Pow(cfg.Beta2, float64(st.step)))
		delta = lr * mHat / (math.Sqrt(vHat) + cfg.Eps)
	case RMSProp:
		st.v = cfg.Beta2*st.v + (1-cfg.Beta2)*g*g
		delta = lr * g / (math.Sqrt(st.v) + cfg.Eps)
	default: // SGD
		delta = lr * g
	}

	weight := &rt.state.Weights[layerIdx]
	fs, err := weight.Float32s()
	if err != nil {
		return
	}
	for i := range fs {
		fs[i] -= float32(delta)
	}
}
