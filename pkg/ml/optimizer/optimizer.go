// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizer implements the optimizers that update the parameters of a model from their
// gradients, after each training step.
//
// An optimizer algorithm (Interface) is configured up-front, and only when the parameters are known
// it creates its State. The Optimizer wrapper tracks these two phases.
package optimizer

import (
	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrNotInitialized is returned by Optimizer.ZeroGrad and Optimizer.Step before Optimizer.Initialize.
	ErrNotInitialized = errors.New("optimizer not initialized")

	// ErrNoParameters is returned by Optimizer.Initialize if the models don't have any parameters.
	ErrNoParameters = errors.New("no parameters to optimize")

	// ErrUnknownOptimizer is returned by ByName.
	ErrUnknownOptimizer = errors.New("unknown optimizer")
)

// Interface implemented by optimizer algorithms.
type Interface interface {
	// Name of the algorithm, for logging.
	Name() string

	// Init creates the state of the optimizer for the given parameters.
	// It must not change the parameters.
	Init(params []graph.Parameter) (State, error)
}

// State of an optimizer algorithm bound to a set of parameters.
type State interface {
	// ZeroGrad resets the gradients of all parameters.
	ZeroGrad()

	// Step updates the parameters using their current gradients.
	Step() error

	// LearningRate currently used.
	LearningRate() float64

	// SetLearningRate changes the learning rate for the next steps.
	SetLearningRate(learningRate float64)
}

// phase is either uninitialized or initialized.
type phase interface {
	isPhase()
}

type uninitialized struct{}

type initialized struct {
	state State
}

func (uninitialized) isPhase() {}
func (initialized) isPhase()   {}

// Optimizer wraps an optimizer Interface, creating its State once, on the first call to Initialize.
type Optimizer struct {
	algorithm Interface
	phase     phase
	schedule  Schedule
	numSteps  int
}

// New returns an uninitialized Optimizer for the algorithm.
func New(algorithm Interface) *Optimizer {
	return &Optimizer{algorithm: algorithm, phase: uninitialized{}}
}

// WithSchedule sets a learning rate schedule, evaluated before each step. It returns itself.
func (o *Optimizer) WithSchedule(schedule Schedule) *Optimizer {
	o.schedule = schedule
	return o
}

// Name of the wrapped algorithm.
func (o *Optimizer) Name() string { return o.algorithm.Name() }

// Initialize creates the optimizer state with the parameters of all owners (e.g. the model and the loss).
// Only the first call has an effect: later calls are no-ops, even with different owners.
func (o *Optimizer) Initialize(owners ...graph.ParameterOwner) error {
	if _, ok := o.phase.(initialized); ok {
		return nil
	}
	var params []graph.Parameter
	for _, owner := range owners {
		params = append(params, owner.Parameters()...)
	}
	if len(params) == 0 {
		return errors.Wrapf(ErrNoParameters, "initializing optimizer %s", o.Name())
	}
	state, err := o.algorithm.Init(params)
	if err != nil {
		return errors.WithMessagef(err, "initializing optimizer %s", o.Name())
	}
	o.phase = initialized{state: state}
	klog.V(1).Infof("optimizer %s initialized with %d parameters", o.Name(), len(params))
	return nil
}

// IsInitialized returns whether Initialize was called successfully.
func (o *Optimizer) IsInitialized() bool {
	_, ok := o.phase.(initialized)
	return ok
}

// State returns the optimizer state, or ErrNotInitialized.
func (o *Optimizer) State() (State, error) {
	switch p := o.phase.(type) {
	case initialized:
		return p.state, nil
	default:
		return nil, errors.Wrapf(ErrNotInitialized, "optimizer %s", o.Name())
	}
}

// ZeroGrad resets the gradients of the optimized parameters.
func (o *Optimizer) ZeroGrad() error {
	state, err := o.State()
	if err != nil {
		return err
	}
	state.ZeroGrad()
	return nil
}

// Step updates the parameters with their gradients, and advances the learning rate schedule, if any.
func (o *Optimizer) Step() error {
	state, err := o.State()
	if err != nil {
		return err
	}
	if o.schedule != nil {
		state.SetLearningRate(o.schedule(o.numSteps))
	}
	if err = state.Step(); err != nil {
		return errors.WithMessagef(err, "optimizer %s step #%d", o.Name(), o.numSteps)
	}
	o.numSteps++
	return nil
}

// NumSteps returns the number of steps taken.
func (o *Optimizer) NumSteps() int { return o.numSteps }

// ByName returns the algorithm with the given name ("sgd", "adam", "adamw" or "adamax") using the learning rate.
// A learningRate <= 0 selects the algorithm default.
func ByName(name string, learningRate float64) (Interface, error) {
	switch name {
	case "sgd":
		sgd := SGD()
		if learningRate > 0 {
			sgd.LearningRate(learningRate)
		}
		return sgd.Done(), nil
	case "adam", "adamw", "adamax":
		adam := Adam()
		if learningRate > 0 {
			adam.LearningRate(learningRate)
		}
		switch name {
		case "adamw":
			adam.WeightDecay(AdamWDefaultWeightDecay)
		case "adamax":
			adam.Adamax()
		}
		return adam.Done(), nil
	}
	return nil, errors.Wrapf(ErrUnknownOptimizer, "%q", name)
}

// trainable filters the parameters that require gradients.
func trainable(params []graph.Parameter) []graph.Parameter {
	var filtered []graph.Parameter
	for _, p := range params {
		if p.Value.RequiresGrad() {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// zeroGrads implements State.ZeroGrad for the parameters.
func zeroGrads(params []graph.Parameter) {
	for _, p := range params {
		p.Value.ZeroGrad()
	}
}
