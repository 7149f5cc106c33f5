// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops implements reference CPU kernels on tensors.Tensor, backed by gonum.
//
// Each operation records its backward function on the output tensor when any of its inputs are
// tracked, so a loss built with these kernels can be differentiated with Tensor.Backward.
//
// Errors in the use of the kernels (e.g. incompatible shapes) are programming errors and panic
// with exceptions.Panicf -- the same convention GoMLX uses when building computation graphs.
package ops

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MatMul multiplies a with shape [n, k] by b with shape [k, m].
func MatMul(a, b *tensors.Tensor) *tensors.Tensor {
	shapes.AssertRank(a, 2)
	shapes.AssertRank(b, 2)
	n, k, m := a.Shape().Dim(0), a.Shape().Dim(1), b.Shape().Dim(1)
	if b.Shape().Dim(0) != k {
		exceptions.Panicf("ops.MatMul: incompatible shapes %s and %s", a.Shape(), b.Shape())
	}
	aMat := mat.NewDense(n, k, a.Flat())
	bMat := mat.NewDense(k, m, b.Flat())
	flat := make([]float64, n*m)
	mat.NewDense(n, m, flat).Mul(aMat, bMat)
	out := tensors.FromFlat(shapes.Make(dtypes.Float64, n, m), flat)
	return tensors.Record(out, "MatMul", []*tensors.Tensor{a, b}, func(grad []float64) {
		gradMat := mat.NewDense(n, m, grad)
		if a.Tracked() {
			gradA := make([]float64, n*k)
			mat.NewDense(n, k, gradA).Mul(gradMat, bMat.T())
			a.AccumulateGrad(gradA)
		}
		if b.Tracked() {
			gradB := make([]float64, k*m)
			mat.NewDense(k, m, gradB).Mul(aMat.T(), gradMat)
			b.AccumulateGrad(gradB)
		}
	})
}

// AddBias adds bias with shape [m] to each row of x with shape [n, m].
func AddBias(x, bias *tensors.Tensor) *tensors.Tensor {
	shapes.AssertRank(x, 2)
	n, m := x.Shape().Dim(0), x.Shape().Dim(1)
	if bias.Size() != m {
		exceptions.Panicf("ops.AddBias: bias %s doesn't match %s", bias.Shape(), x.Shape())
	}
	flat := make([]float64, n*m)
	for row := range n {
		dst := flat[row*m : (row+1)*m]
		floats.AddTo(dst, x.Flat()[row*m:(row+1)*m], bias.Flat())
	}
	out := tensors.FromFlat(shapes.Make(dtypes.Float64, n, m), flat)
	return tensors.Record(out, "AddBias", []*tensors.Tensor{x, bias}, func(grad []float64) {
		x.AccumulateGrad(grad)
		gradBias := make([]float64, m)
		for row := range n {
			floats.Add(gradBias, grad[row*m:(row+1)*m])
		}
		bias.AccumulateGrad(gradBias)
	})
}

// ReLU returns max(x, 0) element-wise.
func ReLU(x *tensors.Tensor) *tensors.Tensor {
	flat := make([]float64, x.Size())
	for i, v := range x.Flat() {
		flat[i] = max(v, 0)
	}
	out := tensors.FromFlat(x.Shape(), flat)
	return tensors.Record(out, "ReLU", []*tensors.Tensor{x}, func(grad []float64) {
		gradX := make([]float64, len(grad))
		for i, v := range x.Flat() {
			if v > 0 {
				gradX[i] = grad[i]
			}
		}
		x.AccumulateGrad(gradX)
	})
}

// rows splits the last axis of the shape: it returns the number of rows and the row length.
func rows(shape shapes.Shape) (numRows, rowLen int) {
	if shape.Rank() == 0 {
		exceptions.Panicf("cannot operate on the last axis of a scalar")
	}
	rowLen = shape.Dim(-1)
	return shape.Size() / rowLen, rowLen
}

// Softmax over the last axis.
func Softmax(x *tensors.Tensor) *tensors.Tensor {
	numRows, rowLen := rows(x.Shape())
	flat := make([]float64, x.Size())
	for row := range numRows {
		src, dst := x.Flat()[row*rowLen:(row+1)*rowLen], flat[row*rowLen:(row+1)*rowLen]
		lse := floats.LogSumExp(src)
		for i, v := range src {
			dst[i] = exp(v - lse)
		}
	}
	out := tensors.FromFlat(x.Shape(), flat)
	return tensors.Record(out, "Softmax", []*tensors.Tensor{x}, func(grad []float64) {
		gradX := make([]float64, len(grad))
		for row := range numRows {
			y, g := flat[row*rowLen:(row+1)*rowLen], grad[row*rowLen:(row+1)*rowLen]
			dot := floats.Dot(y, g)
			for i := range y {
				gradX[row*rowLen+i] = y[i] * (g[i] - dot)
			}
		}
		x.AccumulateGrad(gradX)
	})
}

// LogSoftmax over the last axis.
func LogSoftmax(x *tensors.Tensor) *tensors.Tensor {
	numRows, rowLen := rows(x.Shape())
	flat := make([]float64, x.Size())
	for row := range numRows {
		src, dst := x.Flat()[row*rowLen:(row+1)*rowLen], flat[row*rowLen:(row+1)*rowLen]
		lse := floats.LogSumExp(src)
		for i, v := range src {
			dst[i] = v - lse
		}
	}
	out := tensors.FromFlat(x.Shape(), flat)
	return tensors.Record(out, "LogSoftmax", []*tensors.Tensor{x}, func(grad []float64) {
		gradX := make([]float64, len(grad))
		for row := range numRows {
			y, g := flat[row*rowLen:(row+1)*rowLen], grad[row*rowLen:(row+1)*rowLen]
			sum := floats.Sum(g)
			for i := range y {
				gradX[row*rowLen+i] = g[i] - exp(y[i])*sum
			}
		}
		x.AccumulateGrad(gradX)
	})
}

// CrossEntropy between logits with shape [n, classes] and sparse labels with shape [n] (class indices).
// It returns the scalar mean over the batch.
func CrossEntropy(logits, labels *tensors.Tensor) *tensors.Tensor {
	shapes.AssertRank(logits, 2)
	n, numClasses := logits.Shape().Dim(0), logits.Shape().Dim(1)
	if labels.Size() != n {
		exceptions.Panicf("ops.CrossEntropy: labels %s don't match logits %s", labels.Shape(), logits.Shape())
	}
	probs := make([]float64, n*numClasses)
	var total float64
	for row := range n {
		src := logits.Flat()[row*numClasses : (row+1)*numClasses]
		label := labels.Int(row)
		if label < 0 || label >= numClasses {
			exceptions.Panicf("ops.CrossEntropy: label %d out of range for %d classes", label, numClasses)
		}
		lse := floats.LogSumExp(src)
		total += lse - src[label]
		for i, v := range src {
			probs[row*numClasses+i] = exp(v - lse)
		}
	}
	out := tensors.FromScalar(total / float64(n))
	return tensors.Record(out, "CrossEntropy", []*tensors.Tensor{logits}, func(grad []float64) {
		gradLogits := make([]float64, len(probs))
		scale := grad[0] / float64(n)
		for row := range n {
			for i := range numClasses {
				g := probs[row*numClasses+i]
				if i == labels.Int(row) {
					g -= 1
				}
				gradLogits[row*numClasses+i] = g * scale
			}
		}
		logits.AccumulateGrad(gradLogits)
	})
}

// ArgMax over the last axis. The result is an Int64 tensor with the last axis removed, and it is not tracked.
func ArgMax(x *tensors.Tensor) *tensors.Tensor {
	numRows, rowLen := rows(x.Shape())
	flat := make([]float64, numRows)
	for row := range numRows {
		flat[row] = float64(floats.MaxIdx(x.Flat()[row*rowLen : (row+1)*rowLen]))
	}
	dims := x.Shape().Dimensions[:x.Shape().Rank()-1]
	return tensors.FromFlat(shapes.Shape{DType: dtypes.Int64, Dimensions: dims}, flat)
}

// Mean of all elements, as a scalar.
func Mean(x *tensors.Tensor) *tensors.Tensor {
	n := float64(x.Size())
	out := tensors.FromScalar(floats.Sum(x.Flat()) / n)
	return tensors.Record(out, "Mean", []*tensors.Tensor{x}, func(grad []float64) {
		gradX := make([]float64, x.Size())
		for i := range gradX {
			gradX[i] = grad[0] / n
		}
		x.AccumulateGrad(gradX)
	})
}
