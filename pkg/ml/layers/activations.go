// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/ops"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ReLU activation.
type ReLU struct{}

// Forward implements graph.Executable.
func (ReLU) Forward(args graph.Args) (graph.Result, error) {
	x, err := args.Tensor("x")
	if err != nil {
		return graph.Result{}, err
	}
	return compute("ReLU", func() *tensors.Tensor { return ops.ReLU(x) })
}

// Describe implements graph.Describable.
func (ReLU) Describe() string { return "ReLU" }

// Softmax activation, over the last axis.
type Softmax struct{}

// Forward implements graph.Executable.
func (Softmax) Forward(args graph.Args) (graph.Result, error) {
	x, err := args.Tensor("x")
	if err != nil {
		return graph.Result{}, err
	}
	return compute("Softmax", func() *tensors.Tensor { return ops.Softmax(x) })
}

// Describe implements graph.Describable.
func (Softmax) Describe() string { return "Softmax(dimension=-1)" }

// Dropout zeroes a random fraction of its input during training, and is the identity otherwise.
type Dropout struct {
	probability float64
	rng         *rand.Rand
	training    bool
}

// NewDropout returns a Dropout layer, in evaluation mode. The probability must be in [0, 1).
func NewDropout(probability float64, rng *rand.Rand) (*Dropout, error) {
	if probability < 0 || probability >= 1 {
		return nil, errors.Wrapf(ErrInvalidConfig, "Dropout: probability must be in [0, 1), got %g", probability)
	}
	if rng == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "Dropout: no random number generator given")
	}
	return &Dropout{probability: probability, rng: rng}, nil
}

// Forward implements graph.Executable.
func (d *Dropout) Forward(args graph.Args) (graph.Result, error) {
	x, err := args.Tensor("x")
	if err != nil {
		return graph.Result{}, err
	}
	return compute("Dropout", func() *tensors.Tensor { return ops.Dropout(x, d.probability, d.rng, d.training) })
}

// SetTraining implements graph.Trainable.
func (d *Dropout) SetTraining(training bool) { d.training = training }

// Describe implements graph.Describable.
func (d *Dropout) Describe() string { return fmt.Sprintf("Dropout(probability=%g)", d.probability) }
