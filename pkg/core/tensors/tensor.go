// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements the reference Tensor value moved around by the graph engine.
//
// A Tensor holds its shape and a flat row-major slice of float64 values, regardless of the
// logical DType (integer labels are stored as whole float64 values). It can also hold a gradient
// and the record of the operation that produced it, so that Tensor.Backward can propagate
// gradients to the parameters that require them. Kernels that record themselves live in package ops.
package tensors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Tensor is a multidimensional array of values with an optional gradient.
//
// Tensors are not safe for concurrent mutation.
type Tensor struct {
	shape shapes.Shape
	flat  []float64

	requiresGrad bool
	grad         []float64

	// record is the operation that produced this tensor, if any of its inputs were tracked.
	record *record
}

// FromFlat creates a tensor with the given shape, taking ownership of flat.
// It panics if len(flat) doesn't match the shape size.
func FromFlat(shape shapes.Shape, flat []float64) *Tensor {
	if len(flat) != shape.Size() {
		exceptions.Panicf("tensors.FromFlat(%s): got %d values, wanted %d", shape, len(flat), shape.Size())
	}
	return &Tensor{shape: shape, flat: flat}
}

// FromValues creates a tensor from values of any Go numeric type, with the given dimensions.
// If no dimensions are given, a 1D tensor with len(values) elements is created.
//
// Integer types yield a tensor of DType Int64, floating point types yield Float64.
func FromValues[T constraints.Integer | constraints.Float](values []T, dimensions ...int) *Tensor {
	if len(dimensions) == 0 {
		dimensions = []int{len(values)}
	}
	dtype := dtypes.Float64
	var zero T
	switch any(zero).(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr:
		dtype = dtypes.Int64
	}
	flat := make([]float64, len(values))
	for i, v := range values {
		flat[i] = float64(v)
	}
	return FromFlat(shapes.Make(dtype, dimensions...), flat)
}

// FromScalar creates a Float64 scalar tensor.
func FromScalar(value float64) *Tensor {
	return FromFlat(shapes.Scalar(dtypes.Float64), []float64{value})
}

// Zeros creates a tensor of the given shape filled with zeros.
func Zeros(shape shapes.Shape) *Tensor {
	return FromFlat(shape, make([]float64, shape.Size()))
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size is the number of elements of the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// Flat returns the underlying storage. Callers must not change it, except for the owner
// of a parameter tensor (e.g. an optimizer) updating it in place.
func (t *Tensor) Flat() []float64 { return t.flat }

// Value returns the value of a tensor with exactly one element. It panics otherwise.
func (t *Tensor) Value() float64 {
	if len(t.flat) != 1 {
		exceptions.Panicf("Tensor.Value() requires a tensor with one element, got shape %s", t.shape)
	}
	return t.flat[0]
}

// Int returns the element at the flat index as an int.
func (t *Tensor) Int(flatIdx int) int { return int(t.flat[flatIdx]) }

// Clone returns a deep copy of the values and shape. Gradient and records are not copied.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape:        shapes.Make(t.shape.DType, t.shape.Dimensions...),
		flat:         slices.Clone(t.flat),
		requiresGrad: t.requiresGrad,
	}
}

// Equal compares shape and values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.shape.Equal(other.shape) && slices.Equal(t.flat, other.flat)
}

// Float16Bits returns the values encoded as IEEE 754 half-precision bits.
func (t *Tensor) Float16Bits() []uint16 {
	bits := make([]uint16, len(t.flat))
	for i, v := range t.flat {
		bits[i] = float16.Fromfloat32(float32(v)).Bits()
	}
	return bits
}

// FromFloat16Bits creates a Float64 tensor from half-precision bits.
func FromFloat16Bits(shape shapes.Shape, bits []uint16) *Tensor {
	flat := make([]float64, len(bits))
	for i, b := range bits {
		flat[i] = float64(float16.Frombits(b).Float32())
	}
	return FromFlat(shape, flat)
}

// maxStringValues is the number of values printed by Tensor.String.
const maxStringValues = 16

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	if t.shape.IsScalar() {
		return fmt.Sprintf("%s: %g", t.shape, t.flat[0])
	}
	n := min(len(t.flat), maxStringValues)
	parts := make([]string, 0, n+1)
	for _, v := range t.flat[:n] {
		parts = append(parts, fmt.Sprintf("%g", v))
	}
	if n < len(t.flat) {
		parts = append(parts, "...")
	}
	return fmt.Sprintf("%s: [%s]", t.shape, strings.Join(parts, " "))
}
