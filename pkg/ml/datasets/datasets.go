// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets provides the data used for training and evaluation: the Dataset interface (a
// finite source of batches), the Provider of the train/validation/evaluation datasets, and some
// implementations: InMemory, the synthetic Blobs, CSV files and Split.
package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ErrNotAvailable is returned by a Provider that doesn't have the requested dataset.
var ErrNotAvailable = errors.New("dataset not available")

// Batch is one step worth of data: the model Input and the Target used by the loss.
type Batch struct {
	Input  *tensors.Tensor
	Target *tensors.Tensor
}

// Dataset yields a finite sequence of batches.
type Dataset interface {
	// Name of the dataset, used for logging.
	Name() string

	// Len returns the number of batches yielded in one pass over the dataset.
	Len() int

	// Reset restarts the dataset from the beginning. It may re-shuffle the data.
	Reset()

	// Yield returns the next batch, or io.EOF when the dataset is exhausted.
	Yield() (Batch, error)
}

// Provider gives access to the datasets of a training run. Each call returns a fresh instance,
// positioned at the start.
type Provider interface {
	TrainDataset() (Dataset, error)
	ValidDataset() (Dataset, error)
	EvalDataset() (Dataset, error)
}

// takeDataset implements a Dataset that only yields `take` batches.
type takeDataset struct {
	ds          Dataset
	count, take int
}

// Take returns a wrapper to ds, a Dataset that only yields n batches.
func Take(ds Dataset, n int) Dataset {
	return &takeDataset{
		ds:   ds,
		take: n,
	}
}

// Name implements Dataset.
func (ds *takeDataset) Name() string {
	return fmt.Sprintf("%s [Take %d]", ds.ds.Name(), ds.take)
}

// Len implements Dataset.
func (ds *takeDataset) Len() int {
	return min(ds.take, ds.ds.Len())
}

// Reset implements Dataset.
func (ds *takeDataset) Reset() {
	ds.ds.Reset()
	ds.count = 0
}

// Yield implements Dataset.
func (ds *takeDataset) Yield() (Batch, error) {
	if ds.count >= ds.take {
		return Batch{}, io.EOF
	}
	ds.count++
	return ds.ds.Yield()
}
