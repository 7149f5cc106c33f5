// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValues(t *testing.T) {
	labels := FromValues([]int{1, 0, 2})
	assert.Equal(t, dtypes.Int64, labels.DType())
	assert.Equal(t, []int{3}, labels.Shape().Dimensions)
	assert.Equal(t, 2, labels.Int(2))

	x := FromValues([]float32{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, dtypes.Float64, x.DType())
	assert.Equal(t, "(Float64)[2 2]: [1 2 3 4]", x.String())
	assert.True(t, x.Equal(x.Clone()))
	assert.False(t, x.Equal(labels))

	require.Panics(t, func() { FromFlat(shapes.Make(dtypes.Float64, 3), []float64{1}) })
	require.Panics(t, func() { x.Value() })
	assert.Equal(t, 7.0, FromScalar(7).Value())
}

func TestFloat16Bits(t *testing.T) {
	x := FromValues([]float64{0.5, -2, 1024})
	back := FromFloat16Bits(x.Shape(), x.Float16Bits())
	assert.True(t, x.Equal(back))
}

func TestBackward(t *testing.T) {
	// y = sum(w * x) recorded by hand.
	w := FromValues([]float64{1, 2, 3}).SetRequiresGrad(true)
	x := FromValues([]float64{4, 5, 6})
	var sum float64
	for i, v := range w.Flat() {
		sum += v * x.Flat()[i]
	}
	y := Record(FromScalar(sum), "dot", []*Tensor{w, x}, func(grad []float64) {
		g := make([]float64, x.Size())
		for i, v := range x.Flat() {
			g[i] = grad[0] * v
		}
		w.AccumulateGrad(g)
		x.AccumulateGrad(g) // Not tracked: no-op.
	})
	require.True(t, y.Tracked())
	require.NoError(t, y.Backward())
	assert.Equal(t, []float64{4, 5, 6}, w.Grad())
	assert.Nil(t, x.Grad())

	// Gradients accumulate until zeroed.
	require.NoError(t, y.Backward())
	assert.Equal(t, []float64{8, 10, 12}, w.Grad())
	w.ZeroGrad()
	assert.Equal(t, []float64{0, 0, 0}, w.Grad())

	// Untracked values have nothing to propagate.
	require.ErrorIs(t, FromScalar(1).Backward(), ErrNoGradient)
	require.Error(t, x.Backward())
}
