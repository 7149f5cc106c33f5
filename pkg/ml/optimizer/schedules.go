// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"math"

	"github.com/pkg/errors"
)

// Schedule returns the learning rate to use for the given step (starting from 0).
type Schedule func(step int) float64

// CosineScheduleOptions is returned by CosineAnnealingSchedule to configure the cosine annealing schedule.
type CosineScheduleOptions struct {
	learningRate    float64
	minLearningRate float64
	periodNumSteps  int
}

// CosineAnnealingSchedule configures a cosine annealing schedule for the learning rate: it decreases
// from the initial learning rate to the minimum one following a cosine curve, over a period of steps,
// and then restarts.
//
// Example:
//
//	schedule, err := optimizer.CosineAnnealingSchedule(0.01).PeriodInSteps(numSteps).Done()
func CosineAnnealingSchedule(learningRate float64) *CosineScheduleOptions {
	return &CosineScheduleOptions{learningRate: learningRate, periodNumSteps: -1}
}

// PeriodInSteps sets the number of steps for one period of the cosine schedule.
//
// It's common to use only one period (so no annealing, just a cosine schedule), in which case
// just set to the number of steps that will be used for training.
func (opt *CosineScheduleOptions) PeriodInSteps(periodSteps int) *CosineScheduleOptions {
	opt.periodNumSteps = periodSteps
	return opt
}

// MinLearningRate at the end of the cosine cycle. Defaults to 10^-3 * initial learning rate.
func (opt *CosineScheduleOptions) MinLearningRate(minLearningRate float64) *CosineScheduleOptions {
	opt.minLearningRate = minLearningRate
	return opt
}

// Done validates the options and returns the schedule.
func (opt *CosineScheduleOptions) Done() (Schedule, error) {
	if opt.periodNumSteps <= 0 {
		return nil, errors.Errorf("period of the cosine annealing schedule in number of steps was not set, or set to <= 0")
	}
	if opt.learningRate <= 0 {
		return nil, errors.Errorf("learning rate of the cosine annealing schedule must be > 0, got %g",
			opt.learningRate)
	}
	lrValue, lrMinValue := opt.learningRate, opt.minLearningRate
	if lrMinValue == 0 {
		lrMinValue = lrValue * 1e-3
	}
	period := float64(opt.periodNumSteps)
	return func(step int) float64 {
		cycle := float64(step) / period
		cycle -= math.Floor(cycle) // Take only the fractional part: so always in range `[0.0, 1.0)`.
		lr := (math.Cos(cycle*math.Pi) + 1) / 2
		return lr*(lrValue-lrMinValue) + lrMinValue
	}, nil
}
