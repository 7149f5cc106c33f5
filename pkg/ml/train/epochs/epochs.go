// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package epochs tracks the epochs of a training (or evaluation) run: it creates a fresh dataset per
// epoch, counts the batches consumed, reports progress and relays the scalar metrics of each epoch
// to a log sink.
//
// Example:
//
//	tracker, err := epochs.New(epochs.Config{Sink: sink, Head: "train/mlp", Start: 0, End: numEpochs})
//	for epoch, batches := range tracker.Epochs(provider.TrainDataset) {
//		var total float64
//		for batch, ok := batches.Next(); ok; batch, ok = batches.Next() {
//			total += step(batch)
//		}
//		_ = epoch.Write("loss", total, true) // Averaged over the batches of the epoch.
//		_ = epoch.Flush()
//	}
//	err = tracker.Err()
package epochs

import (
	"io"
	"iter"

	"github.com/gomlx/n3/pkg/ml/datasets"
	"github.com/gomlx/n3/pkg/ml/logs"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

var (
	// ErrUnsupportedMetric is returned by Epoch.Write for values that are not integers or floats.
	ErrUnsupportedMetric = errors.New("unsupported metric type")

	// ErrNoBatches is returned by Epoch.Write when averaging over an epoch that consumed no batches.
	ErrNoBatches = errors.New("no batches in epoch")
)

// Progress reports the progress of the run, in number of batches.
type Progress interface {
	// Start is called once, before the first batch, with the expected total number of batches.
	Start(total int)

	// Advance is called after each batch is consumed.
	Advance()

	// Done is called once, at the end of the iteration.
	Done()
}

// Factory creates a fresh dataset for an epoch, e.g. datasets.Provider.TrainDataset.
type Factory func() (datasets.Dataset, error)

// Config of a Tracker.
type Config struct {
	// Sink receives the metrics written. If nil, writes and flushes are no-ops.
	Sink logs.Sink

	// Head is the prefix of the metric tags: a metric "loss" is written as "<Head>/loss".
	Head string

	// Start and End epochs: the tracker yields the epochs in [Start, End).
	Start, End int

	// Progress reporter, optional.
	Progress Progress
}

// Tracker yields the epochs of a run. It can only be iterated once: once an epoch is yielded,
// it is never yielded again.
type Tracker struct {
	config  Config
	next    int
	started bool
	err     error
}

// New validates the configuration and returns a Tracker.
func New(config Config) (*Tracker, error) {
	if config.Start < 0 || config.End < config.Start {
		return nil, errors.Errorf("invalid epochs range [%d, %d)", config.Start, config.End)
	}
	return &Tracker{config: config, next: config.Start}, nil
}

// Err returns the error that stopped the iteration early, if any: creating a dataset or yielding a batch.
func (t *Tracker) Err() error { return t.err }

// Remaining returns the number of epochs not yielded yet.
func (t *Tracker) Remaining() int { return t.config.End - t.next }

// Epochs returns the sequence of (epoch, batches) for the remaining epochs, creating one dataset per
// epoch with newDataset. The batches of each epoch should be consumed before advancing to the next.
//
// If the consumer stops the iteration early (e.g. on cancellation), the following epochs are not yielded.
func (t *Tracker) Epochs(newDataset Factory) iter.Seq2[*Epoch, *Batches] {
	return func(yield func(*Epoch, *Batches) bool) {
		progress := t.config.Progress
		defer func() {
			if progress != nil && t.started {
				progress.Done()
			}
		}()
		for t.next < t.config.End && t.err == nil {
			index := t.next
			t.next++
			ds, err := newDataset()
			if err != nil {
				t.err = errors.WithMessagef(err, "creating dataset for epoch %d", index)
				return
			}
			if progress != nil && !t.started {
				progress.Start((t.config.End - index) * ds.Len())
			}
			t.started = true
			batches := &Batches{ds: ds, progress: progress, tracker: t}
			epoch := &Epoch{index: index, config: &t.config, batches: batches}
			if !yield(epoch, batches) {
				t.next = t.config.End
				return
			}
		}
	}
}

// Batches iterates over the batches of one epoch.
type Batches struct {
	ds       datasets.Dataset
	progress Progress
	tracker  *Tracker
	count    int
	done     bool
}

// Next returns the next batch, or false when the epoch dataset is exhausted or failed (see Tracker.Err).
func (b *Batches) Next() (datasets.Batch, bool) {
	if b.done {
		return datasets.Batch{}, false
	}
	batch, err := b.ds.Yield()
	if err != nil {
		b.done = true
		if !errors.Is(err, io.EOF) && b.tracker.err == nil {
			b.tracker.err = errors.WithMessagef(err, "reading batch #%d of %q", b.count, b.ds.Name())
		}
		return datasets.Batch{}, false
	}
	b.count++
	if b.progress != nil {
		b.progress.Advance()
	}
	return batch, true
}

// All returns the remaining batches as a sequence.
func (b *Batches) All() iter.Seq[datasets.Batch] {
	return func(yield func(datasets.Batch) bool) {
		for batch, ok := b.Next(); ok; batch, ok = b.Next() {
			if !yield(batch) {
				return
			}
		}
	}
}

// Count returns the number of batches consumed so far.
func (b *Batches) Count() int { return b.count }

// Dataset returns the dataset of the epoch.
func (b *Batches) Dataset() datasets.Dataset { return b.ds }

// Epoch is the handle used to write the metrics of one epoch.
type Epoch struct {
	index   int
	config  *Config
	batches *Batches
}

// Index of the epoch. It is also the step of the metrics written.
func (e *Epoch) Index() int { return e.index }

// NumBatches returns the number of batches consumed in this epoch so far.
func (e *Epoch) NumBatches() int { return e.batches.count }

// Tag returns the full tag of the metric name.
func (e *Epoch) Tag(name string) string { return e.config.Head + "/" + name }

// Write the metric to the sink. Values of any Go integer or float type are supported. If averageOverBatches
// is true, the value is divided by the number of batches consumed in this epoch.
//
// Without a sink it does nothing.
func (e *Epoch) Write(name string, value any, averageOverBatches bool) error {
	if e.config.Sink == nil {
		return nil
	}
	v, ok := metricValue(value)
	if !ok {
		return errors.Wrapf(ErrUnsupportedMetric, "metric %q has value of type %T", name, value)
	}
	if averageOverBatches {
		if e.batches.count == 0 {
			return errors.Wrapf(ErrNoBatches, "averaging metric %q of epoch %d", name, e.index)
		}
		v /= float64(e.batches.count)
	}
	return e.config.Sink.Write(e.Tag(name), v, e.index)
}

// metricValue converts any Go integer or float value to float64.
func metricValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return toFloat(typed), true
	case float32:
		return toFloat(typed), true
	case int:
		return toFloat(typed), true
	case int8:
		return toFloat(typed), true
	case int16:
		return toFloat(typed), true
	case int32:
		return toFloat(typed), true
	case int64:
		return toFloat(typed), true
	case uint:
		return toFloat(typed), true
	case uint8:
		return toFloat(typed), true
	case uint16:
		return toFloat(typed), true
	case uint32:
		return toFloat(typed), true
	case uint64:
		return toFloat(typed), true
	case uintptr:
		return toFloat(typed), true
	}
	return 0, false
}

func toFloat[T constraints.Integer | constraints.Float](v T) float64 { return float64(v) }

// Flush the sink. Without a sink it does nothing.
func (e *Epoch) Flush() error {
	if e.config.Sink == nil {
		return nil
	}
	return e.config.Sink.Flush()
}
