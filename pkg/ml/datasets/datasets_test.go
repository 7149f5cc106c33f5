// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readAll yields all batches of the dataset.
func readAll(t *testing.T, ds Dataset) []Batch {
	var batches []Batch
	for {
		batch, err := ds.Yield()
		if errors.Is(err, io.EOF) {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}

func newTestInMemory(t *testing.T, n int) *InMemoryDataset {
	inputs := make([]float64, 2*n)
	targets := make([]int, n)
	for i := range n {
		inputs[2*i], inputs[2*i+1] = float64(i), float64(-i)
		targets[i] = i
	}
	return must.M1(InMemory("test", tensors.FromValues(inputs, n, 2), tensors.FromValues(targets)))
}

func TestInMemory(t *testing.T) {
	ds := newTestInMemory(t, 5)
	assert.Equal(t, 5, ds.Len())
	assert.Len(t, readAll(t, ds), 5)
	assert.Empty(t, readAll(t, ds), "dataset exhausted until Reset")

	ds.BatchSize(2, false)
	ds.Reset()
	assert.Equal(t, 3, ds.Len())
	batches := readAll(t, ds)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{2, 2}, batches[0].Input.Shape().Dimensions)
	assert.Equal(t, []float64{2, -2, 3, -3}, batches[1].Input.Flat())
	assert.Equal(t, []float64{4}, batches[2].Target.Flat())

	ds.BatchSize(2, true)
	ds.Reset()
	assert.Equal(t, 2, ds.Len())
	assert.Len(t, readAll(t, ds), 2)

	ds.TakeN(1)
	ds.Reset()
	assert.Equal(t, 1, ds.Len())
	assert.Len(t, readAll(t, ds), 1)

	_, err := InMemory("bad", tensors.FromValues([]float64{1, 2}), tensors.FromValues([]int{1}))
	require.Error(t, err)
}

func TestInMemoryShuffle(t *testing.T) {
	ds := newTestInMemory(t, 20).WithRand(rand.New(rand.NewPCG(1, 2))).Shuffle()
	var seen []float64
	for _, batch := range readAll(t, ds) {
		seen = append(seen, batch.Target.Flat()...)
		// Inputs and targets stay aligned.
		assert.Equal(t, batch.Target.Flat()[0], batch.Input.Flat()[0])
	}
	require.Len(t, seen, 20)
	assert.ElementsMatch(t, newTestInMemory(t, 20).targets.Flat(), seen)
	inOrder := true
	for i, v := range seen {
		if float64(i) != v {
			inOrder = false
		}
	}
	assert.False(t, inOrder)
}

func TestTake(t *testing.T) {
	ds := Take(newTestInMemory(t, 5), 2)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, "test [Take 2]", ds.Name())
	assert.Len(t, readAll(t, ds), 2)
	ds.Reset()
	assert.Len(t, readAll(t, ds), 2)
}

func TestNormalization(t *testing.T) {
	ds := newTestInMemory(t, 3).BatchSize(2, false) // features [0,1,2] and [0,-1,-2]
	mean, stddev, err := Normalization(ds)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, -1}, mean, 1e-9)
	assert.InDeltaSlice(t, []float64{0.816496580927726, 0.816496580927726}, stddev, 1e-9)

	x := tensors.FromValues([]float64{1, -1, 2, 0}, 2, 2)
	normalized := must.M1(Normalize(x, mean, ReplaceZerosByOnes([]float64{2, 0})))
	assert.Equal(t, []float64{0, 0, 0.5, 1}, normalized.Flat())
	_, err = Normalize(x, mean[:1], stddev)
	require.Error(t, err)
}

func TestBlobs(t *testing.T) {
	split := must.M1(Blobs(BlobsConfig{NumClasses: 3, NumFeatures: 2, NumExamples: 100,
		ValidFraction: 0.1, EvalFraction: 0.2, BatchSize: 16, Seed: 7}))
	train := must.M1(split.TrainDataset())
	assert.Equal(t, 70, split.Train.NumExamples())
	assert.Equal(t, 5, train.Len())
	batches := readAll(t, train)
	require.Len(t, batches, 5)
	for _, label := range batches[0].Target.Flat() {
		assert.Contains(t, []float64{0, 1, 2}, label)
	}

	// Each call gives a fresh dataset, at the start.
	assert.Len(t, readAll(t, must.M1(split.TrainDataset())), 5)
	assert.Equal(t, 10, must.M1(split.ValidDataset()).(*InMemoryDataset).NumExamples())
	assert.Equal(t, 20, must.M1(split.EvalDataset()).(*InMemoryDataset).NumExamples())

	noEval := must.M1(Blobs(BlobsConfig{NumClasses: 2, NumFeatures: 1, NumExamples: 10, BatchSize: 4}))
	_, err := noEval.EvalDataset()
	require.ErrorIs(t, err, ErrNotAvailable)

	_, err = Blobs(BlobsConfig{NumClasses: 1})
	require.Error(t, err)
}

const irisSample = `sepal_length,sepal_width,species
5.1,3.5,setosa
4.9,3.0,setosa
7.0,3.2,versicolor
6.4,3.2,versicolor
6.3,3.3,virginica
5.8,2.7,virginica
`

func TestCSV(t *testing.T) {
	data := must.M1(ReadCSV(strings.NewReader(irisSample), CSVConfig{Label: "species", BatchSize: 2, EvalFraction: 0.34}))
	assert.Equal(t, []string{"setosa", "versicolor", "virginica"}, data.Classes)
	assert.Equal(t, []string{"sepal_length", "sepal_width"}, data.Features)
	assert.Equal(t, 4, data.Train.NumExamples())
	batches := readAll(t, must.M1(data.TrainDataset()))
	require.Len(t, batches, 2)
	assert.Equal(t, []float64{5.1, 3.5, 4.9, 3.0}, batches[0].Input.Flat())
	assert.Equal(t, []float64{0, 0}, batches[0].Target.Flat())
	evalBatches := readAll(t, must.M1(data.EvalDataset()))
	require.Len(t, evalBatches, 1)
	assert.Equal(t, []float64{2, 2}, evalBatches[0].Target.Flat())
	_, err := data.ValidDataset()
	require.ErrorIs(t, err, ErrNotAvailable)

	path := filepath.Join(t.TempDir(), "iris.csv")
	require.NoError(t, os.WriteFile(path, []byte(irisSample), 0o644))
	normalized := must.M1(CSV(CSVConfig{Path: path, Label: "species", Features: []string{"sepal_width"},
		BatchSize: 6, Normalize: true}))
	all := readAll(t, must.M1(normalized.TrainDataset()))
	require.Len(t, all, 1)
	var sum float64
	for _, v := range all[0].Input.Flat() {
		sum += v
	}
	assert.InDelta(t, 0.0, sum, 1e-9)

	_, err = ReadCSV(strings.NewReader(irisSample), CSVConfig{Label: "color"})
	require.Error(t, err)
	_, err = CSV(CSVConfig{Path: filepath.Join(t.TempDir(), "missing.csv"), Label: "x"})
	require.Error(t, err)
}

func TestParseLabels(t *testing.T) {
	labels, classes := must.M2(parseLabels([]string{"2", "0", "1"}))
	assert.Equal(t, []float64{2, 0, 1}, labels)
	assert.Equal(t, []string{"0", "1", "2"}, classes)

	labels, classes = must.M2(parseLabels([]string{"b", "a", "b"}))
	assert.Equal(t, []float64{1, 0, 1}, labels)
	assert.Equal(t, []string{"a", "b"}, classes)

	_, _, err := parseLabels([]string{"a", "a"})
	require.Error(t, err)
}
