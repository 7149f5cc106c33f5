// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dtype and dimensions of a tensor flowing through a graph.
//
// DType is the enumeration defined in github.com/gomlx/gopjrt/dtypes, so shapes printed here match
// the ones printed by the rest of the GoMLX ecosystem, e.g. `(Float64)[32 10]`.
//
// ## Glossary
//
//   - Rank: number of axes of a tensor.
//   - Axis: the index of a dimension.
//   - Dimension: the size of a tensor in one of its axes.
//   - Scalar: a shape with no axes.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape of a tensor: its DType and Dimensions.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the values given. It panics if any dimension is <= 0.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape of the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// Ok returns whether this is a valid Shape. The zero value Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes count from the end,
// so axis=-1 refers to the last axis. It panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Size returns the number of elements: the product of all dimensions. Scalars have size 1.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// WithDimensions returns a copy of the shape with the same dtype and the given dimensions.
func (s Shape) WithDimensions(dimensions ...int) Shape {
	return Make(s.DType, dimensions...)
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// Shape returns itself, so Shape implements HasShape.
func (s Shape) Shape() Shape { return s }

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// HasShape is implemented by anything with a Shape, e.g. tensors.
type HasShape interface {
	Shape() Shape
}

// AssertRank panics if the rank of the shaped object is not the one given.
func AssertRank(shaped HasShape, rank int) {
	if s := shaped.Shape(); s.Rank() != rank {
		exceptions.Panicf("shape %s has rank %d, wanted rank %d", s, s.Rank(), rank)
	}
}
