// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"

	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Normalization calculates the normalization parameters mean and stddev of each feature (the last axis)
// of the inputs yielded by the dataset. The dataset is reset before and after reading.
//
// These values can later be used with Normalize. Notice for any feature that happens to be constant,
// the stddev will be 0: use ReplaceZerosByOnes to avoid the numeric issues.
func Normalization(ds Dataset) (mean, stddev []float64, err error) {
	ds.Reset()
	defer ds.Reset()
	var columns [][]float64
	for batchNum := 0; ; batchNum++ {
		batch, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "while reading batch #%d of the dataset %q", batchNum, ds.Name())
		}
		numFeatures := batch.Input.Shape().Dim(-1)
		if columns == nil {
			columns = make([][]float64, numFeatures)
		} else if len(columns) != numFeatures {
			return nil, nil, errors.Errorf("batch #%d of dataset %q has %d features, previous batches had %d",
				batchNum, ds.Name(), numFeatures, len(columns))
		}
		for i, v := range batch.Input.Flat() {
			columns[i%numFeatures] = append(columns[i%numFeatures], v)
		}
	}
	if columns == nil {
		return nil, nil, errors.Errorf("dataset %q is empty, can't calculate normalization", ds.Name())
	}
	mean = make([]float64, len(columns))
	stddev = make([]float64, len(columns))
	for i, column := range columns {
		mean[i], stddev[i] = stat.PopMeanStdDev(column, nil)
	}
	return mean, stddev, nil
}

// ReplaceZerosByOnes replaces any zero values in stddev by ones, so it can be safely used with Normalize.
func ReplaceZerosByOnes(stddev []float64) []float64 {
	for i, v := range stddev {
		if v == 0 {
			stddev[i] = 1
		}
	}
	return stddev
}

// Normalize returns (x - mean) / stddev, broadcasting over the last axis of x.
func Normalize(x *tensors.Tensor, mean, stddev []float64) (*tensors.Tensor, error) {
	numFeatures := x.Shape().Dim(-1)
	if len(mean) != numFeatures || len(stddev) != numFeatures {
		return nil, errors.Errorf("can't normalize %s with %d means and %d stddevs", x.Shape(), len(mean), len(stddev))
	}
	flat := make([]float64, x.Size())
	for i, v := range x.Flat() {
		feature := i % numFeatures
		flat[i] = (v - mean[feature]) / stddev[feature]
	}
	return tensors.FromFlat(shapes.Make(x.DType(), x.Shape().Dimensions...), flat), nil
}
