// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math/rand/v2"

	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Split is a Provider backed by in-memory datasets. Any of them can be nil, in which case
// the corresponding method returns ErrNotAvailable.
//
// Each call returns a Copy of the dataset, reset to its start.
type Split struct {
	Train, Valid, Eval *InMemoryDataset
}

var _ Provider = (*Split)(nil)

func fresh(ds *InMemoryDataset, kind string) (Dataset, error) {
	if ds == nil {
		return nil, errors.Wrapf(ErrNotAvailable, "no %s dataset", kind)
	}
	c := ds.Copy()
	c.Reset()
	return c, nil
}

// TrainDataset implements Provider.
func (s *Split) TrainDataset() (Dataset, error) { return fresh(s.Train, "train") }

// ValidDataset implements Provider.
func (s *Split) ValidDataset() (Dataset, error) { return fresh(s.Valid, "validation") }

// EvalDataset implements Provider.
func (s *Split) EvalDataset() (Dataset, error) { return fresh(s.Eval, "evaluation") }

// splitExamples splits the example indices [0, n) into train, validation and evaluation
// parts, with the given fractions for the last two.
func splitExamples(n int, validFraction, evalFraction float64) (train, valid, eval []int, err error) {
	if validFraction < 0 || evalFraction < 0 || validFraction+evalFraction >= 1 {
		return nil, nil, nil, errors.Errorf("invalid split fractions: validation=%g, evaluation=%g",
			validFraction, evalFraction)
	}
	numValid := int(float64(n) * validFraction)
	numEval := int(float64(n) * evalFraction)
	numTrain := n - numValid - numEval
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices[:numTrain], indices[numTrain : numTrain+numValid], indices[numTrain+numValid:], nil
}

// splitOptions configure newSplit.
type splitOptions struct {
	name                        string
	validFraction, evalFraction float64
	batchSize                   int
	dropIncompleteBatch         bool
	shuffle                     bool
	seed                        uint64
}

// newSplit creates a Split from all the examples: the last examples are used for validation and evaluation.
// Only the train dataset is shuffled, if configured.
func newSplit(inputs, targets *tensors.Tensor, opts splitOptions) (*Split, error) {
	trainIdx, validIdx, evalIdx, err := splitExamples(inputs.Shape().Dim(0), opts.validFraction, opts.evalFraction)
	if err != nil {
		return nil, errors.WithMessagef(err, "splitting %q", opts.name)
	}
	part := func(kind string, indices []int) (*InMemoryDataset, error) {
		if len(indices) == 0 {
			return nil, nil
		}
		ds, err := InMemory(opts.name+"/"+kind, gather(inputs, indices), gather(targets, indices))
		if err != nil {
			return nil, err
		}
		ds.BatchSize(opts.batchSize, opts.dropIncompleteBatch)
		if kind == "train" && opts.shuffle {
			ds.WithRand(rand.New(rand.NewPCG(opts.seed, opts.seed+1))).Shuffle()
		}
		return ds, nil
	}
	split := &Split{}
	if split.Train, err = part("train", trainIdx); err != nil {
		return nil, err
	}
	if split.Valid, err = part("valid", validIdx); err != nil {
		return nil, err
	}
	if split.Eval, err = part("eval", evalIdx); err != nil {
		return nil, err
	}
	return split, nil
}
