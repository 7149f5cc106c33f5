// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the execution of a declarative graph of named nodes as a single composite unit.
//
// Values flow between nodes exclusively through PortRef: each node declares the ports it reads
// (its Inputs, possibly nested lists of ports) and the ports it publishes (its Outputs). A Composite holds
// the nodes already in topological order and executes them in that order, with a transient Store
// of the published values that lives only during one Composite.Execute call.
//
// A Composite is itself an Executable, so composites can be nested as nodes of other composites.
package graph

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// CompositeConfig holds the static definition of a Composite. See NewComposite.
type CompositeConfig struct {
	// Name of the composite. Required.
	Name string

	// Nodes in execution order. Executing them in this order must satisfy all data dependencies.
	Nodes []*Node

	// Inputs maps the composite input names to the ports under which they are published. The ports must
	// be External. If nil, it is inferred from the External ports read by the nodes.
	Inputs map[string]PortRef

	// Outputs maps the composite output names to ports published by the last node.
	// If empty, all outputs of the last node are returned, keyed by their port names.
	Outputs map[string]PortRef
}

// Composite is an ordered group of nodes executed as one unit, exposing its own named inputs and outputs.
//
// It holds no mutable state across calls (other than what the nodes themselves may hold), and it
// doesn't reorder its nodes.
type Composite struct {
	name    string
	nodes   []*Node
	inputs  map[string]PortRef
	outputs map[string]PortRef
}

// NewComposite creates a Composite from its configuration.
//
// It checks that required fields are present and that no port is published twice, returning an
// error wrapping ErrInvalidComposite or ErrDuplicatePort otherwise. It does not check the
// topological order: see Composite.Validate.
func NewComposite(config CompositeConfig) (*Composite, error) {
	if config.Name == "" {
		return nil, errors.Wrap(ErrInvalidComposite, "composite has no name")
	}
	c := &Composite{
		name:    config.Name,
		nodes:   slices.Clone(config.Nodes),
		inputs:  maps.Clone(config.Inputs),
		outputs: maps.Clone(config.Outputs),
	}
	if c.inputs == nil {
		c.inputs = make(map[string]PortRef)
		for _, node := range c.nodes {
			if node == nil {
				continue
			}
			for _, ports := range node.Inputs {
				for _, ref := range ports.Refs() {
					if ref.IsExternal() {
						c.inputs[ref.Name] = ref
					}
				}
			}
		}
	}

	publishedBy := make(map[PortRef]string, len(c.inputs))
	for name, ref := range c.inputs {
		if !ref.IsExternal() {
			return nil, errors.Wrapf(ErrInvalidComposite, "composite %q input %q is mapped to non-external %s",
				c.name, name, ref.describe())
		}
		publishedBy[ref] = "composite input"
	}
	for idx, node := range c.nodes {
		if node == nil || node.Op == nil {
			return nil, errors.Wrapf(ErrInvalidComposite, "composite %q node #%d has no executable", c.name, idx)
		}
		for _, ref := range node.Outputs {
			if previous, found := publishedBy[ref]; found {
				return nil, errors.Wrapf(ErrDuplicatePort, "composite %q: %s published by node %q and by %s",
					c.name, ref.describe(), node.Name, previous)
			}
			publishedBy[ref] = fmt.Sprintf("node %q", node.Name)
		}
	}
	return c, nil
}

// Name of the composite.
func (c *Composite) Name() string { return c.name }

// Nodes returns the nodes in execution order. The returned slice must not be modified.
func (c *Composite) Nodes() []*Node { return c.nodes }

// Inputs returns the mapping of input names to ports. The returned map must not be modified.
func (c *Composite) Inputs() map[string]PortRef { return c.inputs }

// Outputs returns the mapping of output names to ports. The returned map must not be modified.
func (c *Composite) Outputs() map[string]PortRef { return c.outputs }

// Execute runs the nodes in order over the given named inputs and returns the named outputs.
//
// Any port lookup failure (a node reading a port not published yet) aborts the execution and returns
// an error wrapping ErrPortNotFound, identifying the port. No partial results are returned.
func (c *Composite) Execute(inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	store := make(Store, len(inputs))
	for name, value := range inputs {
		ref, found := c.inputs[name]
		if !found {
			return nil, errors.Wrapf(ErrUnknownInput, "composite %q: input %q", c.name, name)
		}
		store[ref] = value
	}

	last := store
	for idx, node := range c.nodes {
		published, err := node.execute(store)
		if err != nil {
			return nil, errors.WithMessagef(err, "composite %q: node #%d %q", c.name, idx, node.Name)
		}
		maps.Copy(store, published)
		last = published
	}

	// Only values published by the last node can be returned.
	if len(c.outputs) == 0 {
		outputs := make(map[string]*tensors.Tensor, len(last))
		for ref, value := range last {
			outputs[ref.Name] = value
		}
		return outputs, nil
	}
	outputs := make(map[string]*tensors.Tensor, len(c.outputs))
	for name, ref := range c.outputs {
		value, err := Store(last).Lookup(ref)
		if err != nil {
			return nil, errors.WithMessagef(err, "composite %q: output %q must be published by the last node",
				c.name, name)
		}
		outputs[name] = value
	}
	return outputs, nil
}

// Forward implements Executable, so a Composite can be used as a node of another composite.
// All arguments must be single tensors.
func (c *Composite) Forward(args Args) (Result, error) {
	inputs := make(map[string]*tensors.Tensor, len(args))
	for name := range args {
		value, err := args.Tensor(name)
		if err != nil {
			return Result{}, errors.WithMessagef(err, "composite %q", c.name)
		}
		inputs[name] = value
	}
	outputs, err := c.Execute(inputs)
	if err != nil {
		return Result{}, err
	}
	return Named(outputs), nil
}

// Parameters implements ParameterOwner: it returns the parameters of all nodes, prefixed by the node name.
func (c *Composite) Parameters() []Parameter {
	var params []Parameter
	for _, node := range c.nodes {
		owner, ok := node.Op.(ParameterOwner)
		if !ok {
			continue
		}
		for _, p := range owner.Parameters() {
			params = append(params, Parameter{Name: node.Name + "/" + p.Name, Value: p.Value})
		}
	}
	return params
}

// SetTraining implements Trainable, propagating the mode to all nodes that support it.
func (c *Composite) SetTraining(training bool) {
	for _, node := range c.nodes {
		if trainable, ok := node.Op.(Trainable); ok {
			trainable.SetTraining(training)
		}
	}
}

// BindDevice implements DeviceBindable, binding all nodes that support it.
func (c *Composite) BindDevice(device string) error {
	for _, node := range c.nodes {
		if bindable, ok := node.Op.(DeviceBindable); ok {
			if err := bindable.BindDevice(device); err != nil {
				return errors.WithMessagef(err, "composite %q: binding node %q to %q", c.name, node.Name, device)
			}
		}
	}
	return nil
}

// Validate checks the topological order of the nodes: every port read must be a composite input or
// published by an earlier node, and declared outputs must be published by the last node.
//
// Execute doesn't call Validate, it fails with ErrPortNotFound when the order is violated.
func (c *Composite) Validate() error {
	published := make(map[PortRef]bool, len(c.inputs))
	for _, ref := range c.inputs {
		published[ref] = true
	}
	for idx, node := range c.nodes {
		for param, ports := range node.Inputs {
			for _, ref := range ports.Refs() {
				if !published[ref] {
					return errors.Wrapf(ErrUnpublishedPort, "composite %q: node #%d %q parameter %q reads %s",
						c.name, idx, node.Name, param, ref.describe())
				}
			}
		}
		for _, ref := range node.Outputs {
			published[ref] = true
		}
	}
	if len(c.nodes) == 0 {
		return nil
	}
	lastNode := c.nodes[len(c.nodes)-1]
	lastOutputs := make(map[PortRef]bool, len(lastNode.Outputs))
	for _, ref := range lastNode.Outputs {
		lastOutputs[ref] = true
	}
	for name, ref := range c.outputs {
		if !lastOutputs[ref] {
			return errors.Wrapf(ErrUnpublishedPort, "composite %q: output %q maps to %s, not published by the last node %q",
				c.name, name, ref.describe(), lastNode.Name)
		}
	}
	return nil
}
