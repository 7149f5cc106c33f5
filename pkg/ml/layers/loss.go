// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/ops"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// CrossEntropy loss: it takes the logits "x", shaped [batch_size, NumberOfClasses], and the integer
// labels "y", shaped [batch_size], and returns the mean cross-entropy as a scalar.
type CrossEntropy struct {
	numberOfClasses int
}

// NewCrossEntropy returns a CrossEntropy loss for the given number of classes.
func NewCrossEntropy(numberOfClasses int) (*CrossEntropy, error) {
	if numberOfClasses < 2 {
		return nil, errors.Wrapf(ErrInvalidConfig, "CrossEntropy: number_of_classes must be >= 2, got %d",
			numberOfClasses)
	}
	return &CrossEntropy{numberOfClasses: numberOfClasses}, nil
}

// Forward implements graph.Executable.
func (c *CrossEntropy) Forward(args graph.Args) (graph.Result, error) {
	logits, err := args.Tensor("x")
	if err != nil {
		return graph.Result{}, err
	}
	labels, err := args.Tensor("y")
	if err != nil {
		return graph.Result{}, err
	}
	if logits.Shape().Rank() != 2 || logits.Shape().Dim(1) != c.numberOfClasses {
		return graph.Result{}, errors.Wrapf(ErrShape, "%s: logits shape %s, wanted [batch_size, %d]",
			c.Describe(), logits.Shape(), c.numberOfClasses)
	}
	if labels.Shape().Rank() != 1 || labels.Shape().Dim(0) != logits.Shape().Dim(0) {
		return graph.Result{}, errors.Wrapf(ErrShape, "%s: labels shape %s, wanted [%d]",
			c.Describe(), labels.Shape(), logits.Shape().Dim(0))
	}
	return compute("CrossEntropy", func() *tensors.Tensor { return ops.CrossEntropy(logits, labels) })
}

// Describe implements graph.Describable.
func (c *CrossEntropy) Describe() string {
	return fmt.Sprintf("CrossEntropy(number_of_classes=%d)", c.numberOfClasses)
}
