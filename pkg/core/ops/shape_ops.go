// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
)

func exp(x float64) float64 { return math.Exp(x) }

// Reshape x to the given dimensions. One dimension can be -1, in which case it is inferred.
func Reshape(x *tensors.Tensor, dimensions ...int) *tensors.Tensor {
	dims := make([]int, len(dimensions))
	copy(dims, dimensions)
	inferred, known := -1, 1
	for axis, dim := range dims {
		if dim == -1 {
			if inferred >= 0 {
				exceptions.Panicf("ops.Reshape(%v): only one dimension can be inferred", dimensions)
			}
			inferred = axis
			continue
		}
		known *= dim
	}
	if inferred >= 0 {
		if known <= 0 || x.Size()%known != 0 {
			exceptions.Panicf("ops.Reshape(%s -> %v): cannot infer dimension", x.Shape(), dimensions)
		}
		dims[inferred] = x.Size() / known
	}
	shape := shapes.Make(x.DType(), dims...)
	if shape.Size() != x.Size() {
		exceptions.Panicf("ops.Reshape(%s -> %s): sizes don't match", x.Shape(), shape)
	}
	out := tensors.FromFlat(shape, x.Flat())
	return tensors.Record(out, "Reshape", []*tensors.Tensor{x}, func(grad []float64) {
		x.AccumulateGrad(grad)
	})
}

// Flatten keeps the first (batch) axis and collapses all others.
func Flatten(x *tensors.Tensor) *tensors.Tensor {
	if x.Shape().Rank() == 0 {
		exceptions.Panicf("ops.Flatten: cannot flatten a scalar")
	}
	return Reshape(x, x.Shape().Dim(0), -1)
}

// Concat concatenates the inputs along axis. All other dimensions must match.
// Negative axes count from the end.
func Concat(axis int, inputs ...*tensors.Tensor) *tensors.Tensor {
	if len(inputs) == 0 {
		exceptions.Panicf("ops.Concat: no inputs")
	}
	first := inputs[0].Shape()
	rank := first.Rank()
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		exceptions.Panicf("ops.Concat: axis %d out of range for shape %s", axis, first)
	}
	outer := 1
	for _, dim := range first.Dimensions[:axis] {
		outer *= dim
	}
	inner := make([]int, len(inputs))
	dims := append([]int(nil), first.Dimensions...)
	dims[axis] = 0
	for i, input := range inputs {
		s := input.Shape()
		if s.Rank() != rank {
			exceptions.Panicf("ops.Concat: input #%d has shape %s, incompatible with %s", i, s, first)
		}
		for a := range rank {
			if a != axis && s.Dimensions[a] != first.Dimensions[a] {
				exceptions.Panicf("ops.Concat: input #%d has shape %s, incompatible with %s", i, s, first)
			}
		}
		dims[axis] += s.Dimensions[axis]
		inner[i] = input.Size() / outer
	}
	shape := shapes.Make(first.DType, dims...)
	flat := make([]float64, 0, shape.Size())
	for o := range outer {
		for i, input := range inputs {
			flat = append(flat, input.Flat()[o*inner[i]:(o+1)*inner[i]]...)
		}
	}
	out := tensors.FromFlat(shape, flat)
	return tensors.Record(out, "Concat", inputs, func(grad []float64) {
		grads := make([][]float64, len(inputs))
		for i, input := range inputs {
			grads[i] = make([]float64, 0, input.Size())
		}
		pos := 0
		for range outer {
			for i := range inputs {
				grads[i] = append(grads[i], grad[pos:pos+inner[i]]...)
				pos += inner[i]
			}
		}
		for i, input := range inputs {
			input.AccumulateGrad(grads[i])
		}
	})
}

// Dropout zeroes elements of x with the given probability and scales the others by 1/(1-probability),
// if training is true. Otherwise, it returns x unchanged.
func Dropout(x *tensors.Tensor, probability float64, rng *rand.Rand, training bool) *tensors.Tensor {
	if !training || probability <= 0 {
		return x
	}
	if probability >= 1 {
		exceptions.Panicf("ops.Dropout: probability must be < 1, got %g", probability)
	}
	scale := 1 / (1 - probability)
	mask := make([]float64, x.Size())
	flat := make([]float64, x.Size())
	for i, v := range x.Flat() {
		if rng.Float64() >= probability {
			mask[i] = scale
			flat[i] = v * scale
		}
	}
	out := tensors.FromFlat(x.Shape(), flat)
	return tensors.Record(out, "Dropout", []*tensors.Tensor{x}, func(grad []float64) {
		gradX := make([]float64, len(grad))
		for i, g := range grad {
			gradX[i] = g * mask[i]
		}
		x.AccumulateGrad(gradX)
	})
}
