// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// InMemoryDataset holds all examples in memory, and yields them in batches, optionally shuffled.
//
// The first axis of the inputs and targets is the example axis. It is safe for concurrent use.
type InMemoryDataset struct {
	name            string
	inputs, targets *tensors.Tensor
	numExamples     int

	muSampling          sync.Mutex
	batchSize           int
	dropIncompleteBatch bool
	shuffle             []int
	rng                 *rand.Rand
	takeN               int
	next                int
}

// InMemory creates a dataset with the given examples. The inputs and targets must have the same
// number of examples (their first dimension).
//
// By default, it yields one example per batch, in order. See BatchSize and Shuffle.
func InMemory(name string, inputs, targets *tensors.Tensor) (*InMemoryDataset, error) {
	if inputs.Shape().Rank() == 0 || targets.Shape().Rank() == 0 {
		return nil, errors.Errorf("InMemory(%q): inputs (%s) and targets (%s) must have an example axis",
			name, inputs.Shape(), targets.Shape())
	}
	numExamples := inputs.Shape().Dim(0)
	if targets.Shape().Dim(0) != numExamples {
		return nil, errors.Errorf("InMemory(%q): inputs have %d examples, but targets have %d",
			name, numExamples, targets.Shape().Dim(0))
	}
	return &InMemoryDataset{
		name:        name,
		inputs:      inputs,
		targets:     targets,
		numExamples: numExamples,
		batchSize:   1,
		rng:         rand.New(rand.NewPCG(0, 0)),
	}, nil
}

// Copy returns a new dataset sharing the same data and configuration, positioned at the start.
// The copy gets its own random number generator, seeded from the original one.
func (mds *InMemoryDataset) Copy() *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	return &InMemoryDataset{
		name:                mds.name,
		inputs:              mds.inputs,
		targets:             mds.targets,
		numExamples:         mds.numExamples,
		batchSize:           mds.batchSize,
		dropIncompleteBatch: mds.dropIncompleteBatch,
		shuffle:             slices.Clone(mds.shuffle),
		rng:                 rand.New(rand.NewPCG(mds.rng.Uint64(), mds.rng.Uint64())),
		takeN:               mds.takeN,
	}
}

// Name implements Dataset.
func (mds *InMemoryDataset) Name() string { return mds.name }

// NumExamples in the dataset.
func (mds *InMemoryDataset) NumExamples() int { return mds.numExamples }

// Len implements Dataset.
func (mds *InMemoryDataset) Len() int {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	n := mds.numExamples
	if mds.takeN > 0 {
		n = min(n, mds.takeN*mds.batchSize)
	}
	if mds.dropIncompleteBatch {
		return n / mds.batchSize
	}
	return (n + mds.batchSize - 1) / mds.batchSize
}

// Reset implements Dataset. If the dataset is shuffled, it is re-shuffled.
func (mds *InMemoryDataset) Reset() {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.next = 0
	if mds.shuffle != nil {
		mds.shuffleLocked()
	}
}

// Shuffle configures the dataset to shuffle the order of the examples, at each Reset.
// It returns the modified dataset, so calls can be cascaded.
func (mds *InMemoryDataset) Shuffle() *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.shuffleLocked()
	return mds
}

func (mds *InMemoryDataset) shuffleLocked() {
	if mds.shuffle == nil {
		mds.shuffle = make([]int, mds.numExamples)
	}
	for ii := range mds.shuffle {
		mds.shuffle[ii] = ii
	}
	mds.rng.Shuffle(len(mds.shuffle), func(i, j int) {
		mds.shuffle[i], mds.shuffle[j] = mds.shuffle[j], mds.shuffle[i]
	})
}

// BatchSize configures the dataset to yield batches of n examples. If dropIncompleteBatch is true, the
// last batch of an epoch is dropped if it has fewer than n examples, otherwise it is yielded partially filled.
// It returns the modified dataset, so calls can be cascaded.
func (mds *InMemoryDataset) BatchSize(n int, dropIncompleteBatch bool) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.batchSize = max(n, 1)
	mds.dropIncompleteBatch = dropIncompleteBatch
	return mds
}

// WithRand sets the random number generator used for shuffling, for repeatable results.
// If the dataset is shuffled, it is re-shuffled immediately.
// It returns the modified dataset, so calls can be cascaded.
func (mds *InMemoryDataset) WithRand(rng *rand.Rand) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.rng = rng
	if mds.shuffle != nil {
		mds.shuffleLocked()
	}
	return mds
}

// TakeN configures the dataset to only yield n batches per pass. If set to 0, it yields all the data.
// It returns the modified dataset, so calls can be cascaded.
func (mds *InMemoryDataset) TakeN(n int) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.takeN = n
	return mds
}

// indicesNextYield returns the indices of the examples of the next batch, or nil if exhausted.
func (mds *InMemoryDataset) indicesNextYield() (indices []int) {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	limit := mds.numExamples
	if mds.takeN > 0 {
		limit = min(limit, mds.takeN*mds.batchSize)
	}
	if mds.next >= limit {
		return nil
	}
	end := min(mds.next+mds.batchSize, limit)
	if end-mds.next < mds.batchSize && mds.dropIncompleteBatch {
		mds.next = limit
		return nil
	}
	indices = make([]int, 0, end-mds.next)
	for ; mds.next < end; mds.next++ {
		if mds.shuffle != nil {
			indices = append(indices, mds.shuffle[mds.next])
		} else {
			indices = append(indices, mds.next)
		}
	}
	return
}

// Yield implements Dataset.
func (mds *InMemoryDataset) Yield() (Batch, error) {
	indices := mds.indicesNextYield()
	if indices == nil {
		return Batch{}, io.EOF
	}
	return Batch{Input: gather(mds.inputs, indices), Target: gather(mds.targets, indices)}, nil
}

// gather the examples (first axis) of x with the given indices.
func gather(x *tensors.Tensor, indices []int) *tensors.Tensor {
	exampleSize := x.Size() / x.Shape().Dim(0)
	flat := make([]float64, 0, len(indices)*exampleSize)
	for _, idx := range indices {
		flat = append(flat, x.Flat()[idx*exampleSize:(idx+1)*exampleSize]...)
	}
	dims := slices.Clone(x.Shape().Dimensions)
	dims[0] = len(indices)
	return tensors.FromFlat(shapes.Make(x.DType(), dims...), flat)
}
