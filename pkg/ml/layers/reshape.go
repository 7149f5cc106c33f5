// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"
	"slices"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/ops"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ToLinear flattens all axes but the first (batch) one.
type ToLinear struct{}

// Forward implements graph.Executable.
func (ToLinear) Forward(args graph.Args) (graph.Result, error) {
	x, err := args.Tensor("x")
	if err != nil {
		return graph.Result{}, err
	}
	return compute("ToLinear", func() *tensors.Tensor { return ops.Flatten(x) })
}

// Describe implements graph.Describable.
func (ToLinear) Describe() string { return "ToLinear" }

// Transform reshapes each example of the batch to the given dimensions.
type Transform struct {
	dims []int
}

// NewTransform returns a Transform to the given per-example dimensions, which must all be positive.
func NewTransform(dims ...int) (*Transform, error) {
	if len(dims) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "Transform: no dimensions given")
	}
	for _, dim := range dims {
		if dim <= 0 {
			return nil, errors.Wrapf(ErrInvalidConfig, "Transform: invalid dimensions %v", dims)
		}
	}
	return &Transform{dims: slices.Clone(dims)}, nil
}

// Forward implements graph.Executable.
func (t *Transform) Forward(args graph.Args) (graph.Result, error) {
	x, err := args.Tensor("x")
	if err != nil {
		return graph.Result{}, err
	}
	return compute("Transform", func() *tensors.Tensor { return ops.Reshape(x, append([]int{-1}, t.dims...)...) })
}

// Describe implements graph.Describable.
func (t *Transform) Describe() string { return fmt.Sprintf("Transform(dims=%v)", t.dims) }

// Concat concatenates the tensors of its list input "x" along an axis. The axis doesn't count the
// batch axis: axis 0 is the first axis of each example. Negative axes count from the end.
type Concat struct {
	axis int
}

// NewConcat returns a Concat over the given per-example axis.
func NewConcat(axis int) *Concat {
	return &Concat{axis: axis}
}

// Forward implements graph.Executable.
func (c *Concat) Forward(args graph.Args) (graph.Result, error) {
	inputs, err := args.Tensors("x")
	if err != nil {
		return graph.Result{}, err
	}
	if len(inputs) == 0 {
		return graph.Result{}, errors.Wrap(ErrShape, "Concat: no inputs")
	}
	axis := c.axis
	if axis >= 0 {
		axis++
	}
	return compute("Concat", func() *tensors.Tensor { return ops.Concat(axis, inputs...) })
}

// Describe implements graph.Describable.
func (c *Concat) Describe() string { return fmt.Sprintf("Concat(axis=%d)", c.axis) }
