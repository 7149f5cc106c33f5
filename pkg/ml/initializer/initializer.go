// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer creates the initial values of layer parameters.
package initializer

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
)

// Initializer creates the initial value of a parameter with the given shape.
type Initializer func(shape shapes.Shape) *tensors.Tensor

var (
	// Zero initializes parameters with zero.
	Zero Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return tensors.Zeros(shape)
	}

	// One initializes parameters with one.
	One Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return 1 })
	}
)

func fill(shape shapes.Shape, fn func() float64) *tensors.Tensor {
	flat := make([]float64, shape.Size())
	for i := range flat {
		flat[i] = fn()
	}
	return tensors.FromFlat(shape, flat)
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
func Normal(rng *rand.Rand, stddev float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return rng.NormFloat64() * stddev })
	}
}

// Uniform returns an initializer that generates random uniform values from [min, max).
func Uniform(rng *rand.Rand, minValue, maxValue float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return minValue + rng.Float64()*(maxValue-minValue) })
	}
}

// computeFanInFanOut of a parameter expected to be the weights of a linear layer.
func computeFanInFanOut(shape shapes.Shape) (fanIn, fanOut int) {
	rank := shape.Rank()
	switch rank {
	case 0: // Scalar.
		fanIn = 1
		fanOut = fanIn
	case 1: // 1D shape, like a bias term in a linear layer.
		fanIn = 0
		fanOut = fanIn
	case 2: // 2D shape, weights of a linear layer.
		fanIn = shape.Dimensions[0]
		fanOut = shape.Dimensions[1]
	default:
		receptiveFieldSize := 1
		for _, dim := range shape.Dimensions[:rank-2] {
			receptiveFieldSize *= dim
		}
		fanIn = shape.Dimensions[rank-2] * receptiveFieldSize
		fanOut = shape.Dimensions[rank-1] * receptiveFieldSize
	}
	return
}

// GlorotUniform returns a Glorot uniform initializer: it draws samples from a uniform distribution within
// `[-limit, limit]`, where `limit = sqrt(3 / ((fan_in + fan_out)/2))`.
//
// It initializes biases (anything with rank <= 1) to zeros.
func GlorotUniform(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		if shape.Rank() <= 1 {
			return tensors.Zeros(shape)
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		scale := max(1.0, float64(fanIn+fanOut)/2.0)
		limit := math.Sqrt(3.0 / scale)
		return Uniform(rng, -limit, limit)(shape)
	}
}

// XavierUniform returns an initializer that generates random values with a uniform distribution with a range
// defined by +/- sqrt(6 / (fanIn+fanOut)).
//
// It initializes biases (anything with rank <= 1) to zeros.
func XavierUniform(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		if shape.Rank() <= 1 {
			return tensors.Zeros(shape)
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		scale := max(1.0, float64(fanIn+fanOut))
		limit := math.Sqrt(6.0 / scale)
		return Uniform(rng, -limit, limit)(shape)
	}
}

// XavierNormal returns an initializer that generates random values with a normal distribution with mean in 0
// and stddev of sqrt(2 / (fanIn+fanOut)).
//
// It initializes biases (anything with rank <= 1) to zeros.
func XavierNormal(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		if shape.Rank() <= 1 {
			return tensors.Zeros(shape)
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		scale := max(1.0, float64(fanIn+fanOut))
		return Normal(rng, math.Sqrt(2.0/scale))(shape)
	}
}

// He returns an initializer that generates values with a normal distribution with stddev of sqrt(2 / fanIn),
// suited for layers followed by a ReLU.
//
// It initializes biases (anything with rank <= 1) to zeros.
func He(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		if shape.Rank() <= 1 {
			return tensors.Zeros(shape)
		}
		fanIn, _ := computeFanInFanOut(shape)
		scale := max(1.0, float64(fanIn))
		return Normal(rng, math.Sqrt(2.0/scale))(shape)
	}
}

// ByName returns the initializer with the given name: "zero", "one", "glorot_uniform", "xavier_uniform",
// "xavier_normal" or "he". It returns nil for unknown names.
func ByName(name string, rng *rand.Rand) Initializer {
	switch name {
	case "zero", "zeros":
		return Zero
	case "one", "ones":
		return One
	case "glorot_uniform":
		return GlorotUniform(rng)
	case "xavier_uniform":
		return XavierUniform(rng)
	case "xavier_normal":
		return XavierNormal(rng)
	case "he":
		return He(rng)
	}
	return nil
}
