package runtime

import (
	"context"
	"math"
	"time"

	"github.com/sbl8/harmonics/internal/hlog"
)

// ProgressFunc is invoked once per applied update step during Fit, numbered
// from 1.
type ProgressFunc func(step int, loss float64)

// FitResult summarizes a training run.
type FitResult struct {
	Cycles       int
	Updates      int
	FinalLoss    float64
	EarlyStopped bool
}

// Fit repeats forward passes for epochs cycles under cfg:
// gradient accumulation applies updates every cfg.AccumulateSteps cycles,
// clipping clamps the surrogate-gradient norm, and early stopping exits
// when loss stops improving by more than EarlyStopDelta for
// EarlyStopPatience consecutive updates.
func (rt *CycleRuntime) Fit(ctx context.Context, epochs int, cfg TrainConfig, progress ProgressFunc) (FitResult, error) {
	return rt.fit(ctx, cfg, progress, func(cycle int) bool { return cycle < epochs })
}

// FitFor trains until d elapses, checked at cycle boundaries.
func (rt *CycleRuntime) FitFor(ctx context.Context, d time.Duration, cfg TrainConfig, progress ProgressFunc) (FitResult, error) {
	deadline := time.Now().Add(d)
	return rt.fit(ctx, cfg, progress, func(int) bool { return time.Now().Before(deadline) })
}

// FitUntil trains until pred returns false. pred sees the upcoming cycle
// number (0-based) and the last observed loss (NaN before the first
// backward tap fires).
func (rt *CycleRuntime) FitUntil(ctx context.Context, pred func(cycle int, loss float64) bool, cfg TrainConfig, progress ProgressFunc) (FitResult, error) {
	return rt.fit(ctx, cfg, progress, func(cycle int) bool {
		loss := math.NaN()
		if rt.sawLoss {
			loss = rt.lastLoss
		}
		return pred(cycle, loss)
	})
}

func (rt *CycleRuntime) fit(ctx context.Context, cfg TrainConfig, progress ProgressFunc, keepGoing func(cycle int) bool) (FitResult, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.syncLocked(); err != nil {
		return FitResult{}, err
	}
	if cfg.Schedule == nil {
		cfg.Schedule = ConstantSchedule{}
	}
	if cfg.AccumulateSteps < 1 {
		cfg.AccumulateSteps = 1
	}
	rt.trainCfg = cfg
	rt.cyclesSinceApply = 0
	startUpdates := rt.updatesApplied

	log := hlog.For("runtime")
	res := FitResult{}
	bestLoss := math.Inf(1)
	badUpdates := 0

	for cycle := 0; keepGoing(cycle); cycle++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		before := rt.updatesApplied
		if _, err := rt.forwardLocked(ctx); err != nil {
			return res, err
		}
		res.Cycles++
		res.FinalLoss = rt.lastLoss

		if rt.updatesApplied == before {
			continue
		}

		step := rt.updatesApplied - startUpdates
		res.Updates = step
		if progress != nil {
			progress(step, rt.lastLoss)
		}

		if cfg.EarlyStopPatience > 0 {
			if rt.lastLoss < bestLoss-cfg.EarlyStopDelta {
				bestLoss = rt.lastLoss
				badUpdates = 0
			} else {
				badUpdates++
				if badUpdates >= cfg.EarlyStopPatience {
					log.WithField("updates", step).WithField("loss", rt.lastLoss).
						Debug("early stop: loss plateaued")
					res.EarlyStopped = true
					return res, nil
				}
			}
		}
	}
	return res, nil
}
