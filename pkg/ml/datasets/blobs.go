// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math/rand/v2"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// BlobsConfig configures the synthetic Blobs classification data: each class is a Gaussian blob
// around a random center.
type BlobsConfig struct {
	NumClasses  int
	NumFeatures int
	NumExamples int

	// Spread is the standard deviation of each blob. Defaults to 1.
	Spread float64

	// CenterRange: centers are sampled uniformly in [-CenterRange, CenterRange] in each feature. Defaults to 5.
	CenterRange float64

	// ValidFraction and EvalFraction of the examples are held out for validation and evaluation.
	ValidFraction, EvalFraction float64

	BatchSize int
	Seed      uint64
}

// Blobs generates the synthetic data and returns it as a Split provider. Inputs are shaped
// [batch_size, NumFeatures], targets are Int64 labels shaped [batch_size].
//
// The train dataset is shuffled at each epoch.
func Blobs(config BlobsConfig) (*Split, error) {
	if config.NumClasses < 2 || config.NumFeatures < 1 || config.NumExamples < config.NumClasses {
		return nil, errors.Errorf("invalid Blobs configuration: %+v", config)
	}
	if config.Spread <= 0 {
		config.Spread = 1
	}
	if config.CenterRange <= 0 {
		config.CenterRange = 5
	}
	rng := rand.New(rand.NewPCG(config.Seed, config.Seed^0x5eed))
	centers := make([][]float64, config.NumClasses)
	for class := range centers {
		centers[class] = make([]float64, config.NumFeatures)
		for f := range centers[class] {
			centers[class][f] = (2*rng.Float64() - 1) * config.CenterRange
		}
	}
	features := make([]float64, 0, config.NumExamples*config.NumFeatures)
	labels := make([]float64, config.NumExamples)
	for i := range labels {
		class := rng.IntN(config.NumClasses)
		labels[i] = float64(class)
		for _, center := range centers[class] {
			features = append(features, center+rng.NormFloat64()*config.Spread)
		}
	}
	inputs := tensors.FromFlat(shapes.Make(dtypes.Float64, config.NumExamples, config.NumFeatures), features)
	targets := tensors.FromFlat(shapes.Make(dtypes.Int64, config.NumExamples), labels)
	return newSplit(inputs, targets, splitOptions{
		name:          "blobs",
		validFraction: config.ValidFraction,
		evalFraction:  config.EvalFraction,
		batchSize:     config.BatchSize,
		shuffle:       true,
		seed:          config.Seed,
	})
}
