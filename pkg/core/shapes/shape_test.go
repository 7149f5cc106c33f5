// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Float64, 2, 3)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, 3, s.Dim(-1))
	assert.Equal(t, 2, s.Dim(0))
	assert.Equal(t, "(Float64)[2 3]", s.String())
	assert.True(t, s.Equal(Make(dtypes.Float64, 2, 3)))
	assert.False(t, s.Equal(Make(dtypes.Int64, 2, 3)))
	assert.False(t, s.Equal(Make(dtypes.Float64, 3, 2)))

	scalar := Scalar(dtypes.Float64)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
	assert.Equal(t, "(Float64)", scalar.String())
	assert.False(t, Shape{}.Ok())

	require.Panics(t, func() { Make(dtypes.Float64, 2, 0) })
	require.Panics(t, func() { s.Dim(2) })
	require.Panics(t, func() { AssertRank(s, 1) })
	require.NotPanics(t, func() { AssertRank(s, 2) })
}
