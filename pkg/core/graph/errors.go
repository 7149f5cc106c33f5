// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "github.com/pkg/errors"

var (
	// ErrPortNotFound is returned when a node reads, or a composite returns, a port that wasn't published
	// (yet). It indicates a malformed graph, usually nodes out of topological order.
	ErrPortNotFound = errors.New("port not found")

	// ErrDuplicatePort is returned at construction when two nodes (or a node and an external input)
	// publish the same port.
	ErrDuplicatePort = errors.New("port published more than once")

	// ErrUnpublishedPort is returned by Composite.Validate when a node reads a port not published by
	// an earlier node nor given as an external input.
	ErrUnpublishedPort = errors.New("port read before it is published")

	// ErrUnknownInput is returned by Composite.Execute for inputs the composite doesn't declare.
	ErrUnknownInput = errors.New("unknown composite input")

	// ErrMissingOutput is returned when a node doesn't return an output it declares.
	ErrMissingOutput = errors.New("node didn't return a declared output")

	// ErrMissingArg is returned by Args accessors for a parameter not given to the node.
	ErrMissingArg = errors.New("missing argument")

	// ErrArgKind is returned by Args accessors when a parameter is a list where a tensor is expected, or vice versa.
	ErrArgKind = errors.New("argument of the wrong kind")

	// ErrInvalidComposite is returned by NewComposite for configurations missing required fields.
	ErrInvalidComposite = errors.New("invalid composite configuration")
)
