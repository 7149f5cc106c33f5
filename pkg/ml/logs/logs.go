// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package logs implements the sinks that receive the scalar metrics of a training run: an
// EventWriter that saves them to an events directory (and plots them), a KlogSink, Multi to
// fan out to several sinks, and Discard.
package logs

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sink receives the scalar metrics written during training.
type Sink interface {
	// Write the value of the metric tagged tag (e.g. "train/mlp/loss") at the given step (e.g. the epoch).
	Write(tag string, value float64, step int) error

	// Flush makes all written values durable.
	Flush() error

	// Close flushes and releases the sink. It must be called once, and the sink can't be used afterward.
	Close() error
}

// Discard is a Sink that ignores everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(string, float64, int) error { return nil }
func (discard) Flush() error                     { return nil }
func (discard) Close() error                     { return nil }

// KlogSink logs each metric with klog, at the given verbosity level.
type KlogSink struct {
	Level klog.Level
}

// Write implements Sink.
func (s KlogSink) Write(tag string, value float64, step int) error {
	klog.V(s.Level).Infof("step %d: %s=%g", step, tag, value)
	return nil
}

// Flush implements Sink.
func (s KlogSink) Flush() error {
	klog.Flush()
	return nil
}

// Close implements Sink.
func (s KlogSink) Close() error { return s.Flush() }

// multi fans out to several sinks.
type multi []Sink

// Multi returns a Sink that writes to all the given sinks. Nil sinks are ignored.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// Write implements Sink. All sinks are written to, and the first error is returned.
func (m multi) Write(tag string, value float64, step int) error {
	return m.each(func(s Sink) error { return s.Write(tag, value, step) })
}

// Flush implements Sink.
func (m multi) Flush() error { return m.each(Sink.Flush) }

// Close implements Sink.
func (m multi) Close() error { return m.each(Sink.Close) }

func (m multi) each(fn func(s Sink) error) error {
	var firstErr error
	for i, s := range m {
		if err := fn(s); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "sink #%d", i)
		}
	}
	return firstErr
}
