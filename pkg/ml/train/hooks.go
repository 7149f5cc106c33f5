// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"iter"
	"maps"
	"slices"

	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/gomlx/n3/pkg/ml/datasets"
	"github.com/gomlx/n3/pkg/ml/train/epochs"
	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// Step holds the results of one training (or evaluation) iteration, passed to the OnIterEnd hooks.
type Step struct {
	// Iteration within the epoch, starting from 0.
	Iteration int

	// Batch used.
	Batch datasets.Batch

	// Outputs of the model.
	Outputs map[string]*tensors.Tensor

	// Loss of the batch.
	Loss float64

	// Metrics of the current epoch: hooks can add their own per-batch metrics to it.
	Metrics *Metrics
}

// OnEpochFn is the type of OnEpochBegin and OnEpochEnd hooks.
type OnEpochFn func(trainer *Trainer, epoch *epochs.Epoch) error

// OnIterEndFn is the type of OnIterEnd hooks.
type OnIterEndFn func(trainer *Trainer, step *Step) error

// OnEpochBegin adds a hook with given priority and name (for error reporting), called before the
// first batch of each training epoch.
func (t *Trainer) OnEpochBegin(name string, priority Priority, fn OnEpochFn) {
	t.onEpochBegin.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// OnIterEnd adds a hook with given priority and name (for error reporting), called after each
// training iteration, once the optimizer step is done.
func (t *Trainer) OnIterEnd(name string, priority Priority, fn OnIterEndFn) {
	t.onIterEnd.Add(priority, &hookWithName[OnIterEndFn]{name: name, fn: fn})
}

// OnEpochEnd adds a hook with given priority and name (for error reporting), called after the
// metrics of each training epoch are written and flushed.
func (t *Trainer) OnEpochEnd(name string, priority Priority, fn OnEpochFn) {
	t.onEpochEnd.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

func (t *Trainer) epochBegin(epoch *epochs.Epoch) error {
	for hook := range t.onEpochBegin.All() {
		if err := hook.fn(t, epoch); err != nil {
			return errors.WithMessagef(err, "OnEpochBegin(hook %q)", hook.name)
		}
	}
	return nil
}

func (t *Trainer) iterEnd(step *Step) error {
	for hook := range t.onIterEnd.All() {
		if err := hook.fn(t, step); err != nil {
			return errors.WithMessagef(err, "OnIterEnd(hook %q)", hook.name)
		}
	}
	return nil
}

func (t *Trainer) epochEnd(epoch *epochs.Epoch) error {
	for hook := range t.onEpochEnd.All() {
		if err := hook.fn(t, epoch); err != nil {
			return errors.WithMessagef(err, "OnEpochEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all registered hooks in priority order.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		for _, key := range slices.Sorted(maps.Keys(h.hooks)) {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
