// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Token is polled by the Trainer after each iteration and after each epoch: once IsRunning returns false,
// the run stops at the next boundary. Cancellation is cooperative, an iteration is never interrupted.
type Token interface {
	IsRunning() bool
}

// TokenFn adapts a function to a Token.
type TokenFn func() bool

// IsRunning implements Token.
func (fn TokenFn) IsRunning() bool { return fn() }

// Background returns a Token that is never cancelled.
func Background() Token { return TokenFn(func() bool { return true }) }

// FromContext returns a Token cancelled when the context is done.
func FromContext(ctx context.Context) Token {
	return TokenFn(func() bool { return ctx.Err() == nil })
}

// NewSignalToken returns a Token cancelled when the process receives an interrupt (control+C) or
// a SIGTERM. Call stop to release the signal handler: after stop, the signals have their default behavior again.
func NewSignalToken() (token Token, stop func()) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return FromContext(ctx), stop
}

// Controller of a run, typically owned by the process launching it. It extends the Token with
// progress reports: the Trainer calls UpdateTime after each epoch and EndOK once the run ends
// without errors (completed or cancelled).
type Controller interface {
	Token
	UpdateTime(elapsed time.Duration)
	EndOK()
}

// LocalController is a Controller for runs launched from the command line: it is cancelled by its
// Token and logs the reports with klog.
type LocalController struct {
	id      string
	token   Token
	elapsed time.Duration
	ended   bool
}

// NewLocalController creates a LocalController with a new unique run id. If token is nil it is never cancelled.
func NewLocalController(token Token) *LocalController {
	if token == nil {
		token = Background()
	}
	return &LocalController{id: uuid.NewString(), token: token}
}

// ID of the run.
func (c *LocalController) ID() string { return c.id }

// IsRunning implements Token.
func (c *LocalController) IsRunning() bool { return !c.ended && c.token.IsRunning() }

// UpdateTime implements Controller.
func (c *LocalController) UpdateTime(elapsed time.Duration) {
	c.elapsed = elapsed
	klog.V(1).Infof("run %s: %s elapsed", c.id, elapsed)
}

// Elapsed returns the last time reported with UpdateTime.
func (c *LocalController) Elapsed() time.Duration { return c.elapsed }

// EndOK implements Controller.
func (c *LocalController) EndOK() {
	c.ended = true
	klog.Infof("run %s ended after %s", c.id, c.elapsed)
}

// Ended returns whether EndOK was called.
func (c *LocalController) Ended() bool { return c.ended }
