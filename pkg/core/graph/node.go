// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// DefaultOutput is the name of the output of a node that returns a single tensor.
const DefaultOutput = "x"

// Arg is a resolved node argument: either a single tensor or a nested list of Arg, mirroring the
// Ports it was resolved from.
type Arg struct {
	tensor *tensors.Tensor
	items  []Arg
	single bool
}

// TensorArg creates an Arg holding a single tensor.
func TensorArg(t *tensors.Tensor) Arg { return Arg{tensor: t, single: true} }

// ListArg creates an Arg holding a list.
func ListArg(items ...Arg) Arg { return Arg{items: items} }

// IsList returns whether the Arg is a list.
func (a Arg) IsList() bool { return !a.single }

// Tensor returns the tensor, or nil if the Arg is a list.
func (a Arg) Tensor() *tensors.Tensor { return a.tensor }

// Items returns the elements of the list, or nil if the Arg is a single tensor.
func (a Arg) Items() []Arg { return a.items }

// Flatten returns all tensors, depth-first.
func (a Arg) Flatten() []*tensors.Tensor {
	if a.single {
		return []*tensors.Tensor{a.tensor}
	}
	var all []*tensors.Tensor
	for _, item := range a.items {
		all = append(all, item.Flatten()...)
	}
	return all
}

// Args are the resolved arguments passed to Executable.Forward, keyed by the node's local parameter names.
type Args map[string]Arg

// Tensor returns the single tensor argument with the given name.
func (a Args) Tensor(name string) (*tensors.Tensor, error) {
	arg, found := a[name]
	if !found {
		return nil, errors.Wrapf(ErrMissingArg, "%q", name)
	}
	if arg.IsList() {
		return nil, errors.Wrapf(ErrArgKind, "%q is a list, expected a tensor", name)
	}
	return arg.Tensor(), nil
}

// Tensors returns the flattened list of tensors of the argument with the given name.
// A single tensor argument is returned as a list of one element.
func (a Args) Tensors(name string) ([]*tensors.Tensor, error) {
	arg, found := a[name]
	if !found {
		return nil, errors.Wrapf(ErrMissingArg, "%q", name)
	}
	return arg.Flatten(), nil
}

// Result of Executable.Forward: either a single unnamed tensor or named tensors.
//
// A single tensor is published as the output named DefaultOutput ("x").
type Result struct {
	single *tensors.Tensor
	named  map[string]*tensors.Tensor
}

// Single creates a Result with one unnamed tensor.
func Single(t *tensors.Tensor) Result { return Result{single: t} }

// Named creates a Result with named tensors.
func Named(outputs map[string]*tensors.Tensor) Result { return Result{named: outputs} }

// Outputs returns the named outputs, normalizing a single tensor to {"x": tensor}.
func (r Result) Outputs() map[string]*tensors.Tensor {
	if r.named != nil {
		return r.named
	}
	return map[string]*tensors.Tensor{DefaultOutput: r.single}
}

// Executable is the forward capability of a node.
type Executable interface {
	Forward(args Args) (Result, error)
}

// Parameter is a named tensor learned during training.
type Parameter struct {
	Name  string
	Value *tensors.Tensor
}

// ParameterOwner is implemented by nodes holding learnable parameters.
type ParameterOwner interface {
	Parameters() []Parameter
}

// Describable is implemented by nodes that can describe their configuration, for debugging and inspection.
type Describable interface {
	Describe() string
}

// Trainable is implemented by nodes that behave differently during training and evaluation (e.g. dropout).
type Trainable interface {
	SetTraining(training bool)
}

// DeviceBindable is implemented by nodes that need to be bound to an execution device.
type DeviceBindable interface {
	BindDevice(device string) error
}

// Node is one executable unit of a Composite: it reads its Inputs from ports published by
// earlier nodes (or the composite inputs), and publishes its Outputs.
type Node struct {
	// ID is the producer id of the ports published by this node.
	ID ProducerID

	// Name of the node, used in error messages and as a prefix of its parameter names.
	Name string

	// Inputs maps the local parameter names passed to Op.Forward to the ports read.
	Inputs map[string]Ports

	// Outputs maps the local output names returned by Op.Forward to the ports published.
	Outputs map[string]PortRef

	// Op implements the forward computation.
	Op Executable
}

// Out returns the PortRef published for the local output name. It returns the zero PortRef if the
// node doesn't declare the output.
func (n *Node) Out(name string) PortRef { return n.Outputs[name] }

// execute resolves the node arguments from the store, runs the forward computation and returns
// the values to publish, keyed by port.
func (n *Node) execute(store Store) (map[PortRef]*tensors.Tensor, error) {
	args := make(Args, len(n.Inputs))
	for param, ports := range n.Inputs {
		arg, err := ports.Resolve(store)
		if err != nil {
			return nil, errors.WithMessagef(err, "resolving parameter %q", param)
		}
		args[param] = arg
	}
	result, err := n.Op.Forward(args)
	if err != nil {
		return nil, err
	}
	outputs := result.Outputs()
	published := make(map[PortRef]*tensors.Tensor, len(n.Outputs))
	for local, ref := range n.Outputs {
		value, found := outputs[local]
		if !found || value == nil {
			return nil, errors.Wrapf(ErrMissingOutput, "output %q (for %s)", local, ref)
		}
		published[ref] = value
	}
	return published, nil
}

// ExecutableFn adapts a function to the Executable interface.
type ExecutableFn func(args Args) (Result, error)

// Forward implements Executable.
func (fn ExecutableFn) Forward(args Args) (Result, error) { return fn(args) }
