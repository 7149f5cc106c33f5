// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/pkg/errors"
)

// Inputs maps the local parameter names of a node to the ports it reads. Used with Builder.Add.
type Inputs map[string]Ports

// Builder creates a Composite one node at a time, assigning producer ids 1, 2, ... in the order
// the nodes are added -- which is also their execution order.
//
// Example:
//
//	b := graph.NewBuilder("mlp")
//	x := b.Input("x")
//	hidden := b.Add("linear_0", linear0, graph.Inputs{"x": graph.At(x)})
//	act := b.Add("relu", relu, graph.Inputs{"x": graph.At(hidden.Out("x"))})
//	b.Output("x", act.Out("x"))
//	model, err := b.Build()
type Builder struct {
	name    string
	nodes   []*Node
	inputs  map[string]PortRef
	outputs map[string]PortRef
}

// NewBuilder returns a builder for a composite with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:    name,
		inputs:  make(map[string]PortRef),
		outputs: make(map[string]PortRef),
	}
}

// Input declares a composite input and returns its port.
func (b *Builder) Input(name string) PortRef {
	ref := ExternalRef(name)
	b.inputs[name] = ref
	return ref
}

// Add appends a node executing op, reading the given inputs and publishing the given output names
// (DefaultOutput if none are given). The node is returned, use Node.Out to refer to its outputs.
func (b *Builder) Add(name string, op Executable, inputs Inputs, outputs ...string) *Node {
	if len(outputs) == 0 {
		outputs = []string{DefaultOutput}
	}
	node := &Node{
		ID:      ProducerID(len(b.nodes) + 1),
		Name:    name,
		Inputs:  inputs,
		Outputs: make(map[string]PortRef, len(outputs)),
		Op:      op,
	}
	for _, output := range outputs {
		node.Outputs[output] = Ref(node.ID, output)
	}
	b.nodes = append(b.nodes, node)
	return node
}

// Output declares a composite output, which must be published by the last node added.
func (b *Builder) Output(name string, ref PortRef) {
	b.outputs[name] = ref
}

// Build creates the Composite and validates its topological order.
func (b *Builder) Build() (*Composite, error) {
	c, err := NewComposite(CompositeConfig{
		Name:    b.name,
		Nodes:   b.nodes,
		Inputs:  b.inputs,
		Outputs: b.outputs,
	})
	if err != nil {
		return nil, err
	}
	if err = c.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "building composite %q", b.name)
	}
	return c, nil
}
