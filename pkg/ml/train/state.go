// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import "fmt"

// State of a Trainer:
//
//	NotStarted -> Running -> {Cancelled | Completed | Failed}
//
// A Trainer in a final state can be trained again, resuming from its current epoch.
type State int

const (
	// NotStarted is the state of a new Trainer.
	NotStarted State = iota
	// Running while Trainer.Train is executing.
	Running
	// Cancelled when the cancellation token stopped the run.
	Cancelled
	// Completed when all epochs were run.
	Completed
	// Failed when the run returned an error.
	Failed
)

// String implements the Stringer interface.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Cancelled:
		return "Cancelled"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsFinal returns whether the state is one of the end states of a run.
func (s State) IsFinal() bool {
	return s == Cancelled || s == Completed || s == Failed
}
