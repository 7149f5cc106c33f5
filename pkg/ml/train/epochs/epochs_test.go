// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package epochs

import (
	"testing"

	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/gomlx/n3/pkg/ml/datasets"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	tag   string
	value float64
	step  int
}

type memorySink struct {
	records []record
	flushes int
}

func (s *memorySink) Write(tag string, value float64, step int) error {
	s.records = append(s.records, record{tag, value, step})
	return nil
}
func (s *memorySink) Flush() error { s.flushes++; return nil }
func (s *memorySink) Close() error { return nil }

type countingProgress struct {
	total, advanced, done int
}

func (p *countingProgress) Start(total int) { p.total = total }
func (p *countingProgress) Advance()        { p.advanced++ }
func (p *countingProgress) Done()           { p.done++ }

// factory returns a Factory of datasets with numBatches batches, counting the datasets created.
func factory(t *testing.T, numBatches int, created *int) Factory {
	return func() (datasets.Dataset, error) {
		*created++
		values := make([]float64, numBatches)
		ds := must.M1(datasets.InMemory("test", tensors.FromValues(values), tensors.FromValues(values)))
		return ds, nil
	}
}

func TestEpochsExhaustion(t *testing.T) {
	var created int
	tracker := must.M1(New(Config{Start: 0, End: 3}))
	var indices []int
	for epoch, batches := range tracker.Epochs(factory(t, 2, &created)) {
		indices = append(indices, epoch.Index())
		assert.Len(t, collect(batches), 2)
	}
	assert.Equal(t, []int{0, 1, 2}, indices)
	assert.Equal(t, 3, created, "one fresh dataset per epoch")
	require.NoError(t, tracker.Err())

	// Single pass: nothing else is yielded.
	for range tracker.Epochs(factory(t, 2, &created)) {
		t.Fatal("tracker yielded epochs twice")
	}

	empty := must.M1(New(Config{Start: 5, End: 5}))
	for range empty.Epochs(factory(t, 2, &created)) {
		t.Fatal("empty range yielded an epoch")
	}
	assert.Equal(t, 3, created)

	_, err := New(Config{Start: 3, End: 2})
	require.Error(t, err)
}

func collect(batches *Batches) []datasets.Batch {
	var all []datasets.Batch
	for batch := range batches.All() {
		all = append(all, batch)
	}
	return all
}

func TestEpochWrite(t *testing.T) {
	var created int
	sink := &memorySink{}
	progress := &countingProgress{}
	tracker := must.M1(New(Config{Sink: sink, Head: "train/mlp", Start: 1, End: 3, Progress: progress}))
	for epoch, batches := range tracker.Epochs(factory(t, 4, &created)) {
		var total float64
		for _, ok := batches.Next(); ok; _, ok = batches.Next() {
			total += 2.5
		}
		assert.Equal(t, 4, epoch.NumBatches())
		require.NoError(t, epoch.Write("loss", total, true))
		require.NoError(t, epoch.Write("count", epoch.NumBatches(), false))
		require.NoError(t, epoch.Flush())
		err := epoch.Write("name", "four", false)
		require.ErrorIs(t, err, ErrUnsupportedMetric)
	}
	assert.Equal(t, []record{
		{"train/mlp/loss", 2.5, 1}, {"train/mlp/count", 4, 1},
		{"train/mlp/loss", 2.5, 2}, {"train/mlp/count", 4, 2},
	}, sink.records)
	assert.Equal(t, 2, sink.flushes)
	assert.Equal(t, countingProgress{total: 8, advanced: 8, done: 1}, *progress)
}

func TestWriteNumericTypes(t *testing.T) {
	var created int
	sink := &memorySink{}
	tracker := must.M1(New(Config{Sink: sink, Head: "h", Start: 0, End: 1}))
	values := []any{int8(-3), int16(4), uint(5), uint8(6), uint16(7), uint32(8), uint64(9), float32(0.5)}
	for epoch := range tracker.Epochs(factory(t, 1, &created)) {
		for _, value := range values {
			require.NoErrorf(t, epoch.Write("m", value, false), "value %v (%T)", value, value)
		}
		require.ErrorIs(t, epoch.Write("m", true, false), ErrUnsupportedMetric)
		require.ErrorIs(t, epoch.Write("m", []float64{1}, false), ErrUnsupportedMetric)
	}
	var got []float64
	for _, r := range sink.records {
		got = append(got, r.value)
	}
	assert.Equal(t, []float64{-3, 4, 5, 6, 7, 8, 9, 0.5}, got)
}

func TestAverageOverObservedBatches(t *testing.T) {
	var created int
	sink := &memorySink{}
	tracker := must.M1(New(Config{Sink: sink, Head: "h", Start: 0, End: 1}))
	for epoch, batches := range tracker.Epochs(factory(t, 5, &created)) {
		require.ErrorIs(t, epoch.Write("loss", 1.0, true), ErrNoBatches)
		batches.Next()
		batches.Next()
		// Only 2 of the 5 batches were consumed.
		require.NoError(t, epoch.Write("loss", 3.0, true))
	}
	require.Len(t, sink.records, 1)
	assert.Equal(t, 1.5, sink.records[0].value)
}

func TestNoSink(t *testing.T) {
	var created int
	tracker := must.M1(New(Config{Head: "h", Start: 0, End: 2}))
	for epoch, batches := range tracker.Epochs(factory(t, 1, &created)) {
		require.NoError(t, epoch.Write("loss", 1.0, true))
		require.NoError(t, epoch.Write("unsupported", []int{1}, false))
		require.NoError(t, epoch.Flush())
		collect(batches)
	}
	assert.Equal(t, 2, created)
}

func TestEarlyStopAndErrors(t *testing.T) {
	var created int
	progress := &countingProgress{}
	tracker := must.M1(New(Config{Start: 0, End: 3, Progress: progress}))
	for epoch := range tracker.Epochs(factory(t, 3, &created)) {
		if epoch.Index() == 0 {
			break
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, progress.done)
	assert.Equal(t, 9, progress.total)
	assert.Equal(t, 0, tracker.Remaining())
	for range tracker.Epochs(factory(t, 3, &created)) {
		t.Fatal("epochs after an early stop must not be yielded")
	}

	failing := must.M1(New(Config{Start: 0, End: 3}))
	attempts := 0
	for range failing.Epochs(func() (datasets.Dataset, error) {
		attempts++
		return nil, errors.New("no data")
	}) {
		t.Fatal("no epoch should be yielded")
	}
	assert.Equal(t, 1, attempts)
	require.Error(t, failing.Err())
	assert.Contains(t, failing.Err().Error(), "epoch 0")
}
