// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/ml/layers"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CompositeKind is the kind of nodes holding a nested GraphSpec.
const CompositeKind = "Composite"

// GraphSpec declares a composite.
type GraphSpec struct {
	Name string `yaml:"name"`

	// Inputs of the graph. If empty, they are inferred from the "name$" ports read by the nodes.
	Inputs []string `yaml:"inputs,omitempty"`

	// Outputs maps the output names to ports published by the last node.
	// If empty, all outputs of the last node are returned.
	Outputs map[string]string `yaml:"outputs,omitempty"`

	Nodes []NodeSpec `yaml:"nodes"`
}

// NodeSpec declares a node of a graph.
type NodeSpec struct {
	Name string `yaml:"name"`

	// Kind of the node: a layer kind of the layers.Registry, or CompositeKind for a nested Graph.
	Kind string `yaml:"kind"`

	Args layers.Args `yaml:"args,omitempty"`

	// Inputs maps the node parameters to the ports they read.
	Inputs map[string]PortsSpec `yaml:"inputs"`

	// Outputs published by the node. Defaults to ["x"].
	Outputs []string `yaml:"outputs,omitempty"`

	// Graph of a CompositeKind node.
	Graph *GraphSpec `yaml:"graph,omitempty"`
}

// PortsSpec is either a single port ("name$id") or a (nested) list of ports.
type PortsSpec struct {
	Port  string
	Items []PortsSpec
	List  bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PortsSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		p.List = false
		return value.Decode(&p.Port)
	case yaml.SequenceNode:
		p.List = true
		p.Items = make([]PortsSpec, len(value.Content))
		for i, item := range value.Content {
			if err := item.Decode(&p.Items[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Errorf("line %d: ports must be a \"name$id\" string or a list of ports", value.Line)
	}
}

// Ports parses the ports.
func (p PortsSpec) Ports() (graph.Ports, error) {
	if !p.List {
		ref, err := graph.ParsePortRef(p.Port)
		if err != nil {
			return graph.Ports{}, err
		}
		return graph.At(ref), nil
	}
	items := make([]graph.Ports, len(p.Items))
	for i, item := range p.Items {
		var err error
		if items[i], err = item.Ports(); err != nil {
			return graph.Ports{}, err
		}
	}
	return graph.List(items...), nil
}

func (s *GraphSpec) validate(field string) error {
	if s.Name == "" {
		return errors.Wrapf(ErrInvalid, "%s: graph has no name", field)
	}
	if len(s.Nodes) == 0 {
		return errors.Wrapf(ErrInvalid, "%s: graph %q has no nodes", field, s.Name)
	}
	for i, node := range s.Nodes {
		if node.Name == "" || node.Kind == "" {
			return errors.Wrapf(ErrInvalid, "%s: graph %q node #%d requires a name and a kind", field, s.Name, i)
		}
		if node.Kind == CompositeKind {
			if node.Graph == nil {
				return errors.Wrapf(ErrInvalid, "%s: graph %q node %q of kind %s requires a graph",
					field, s.Name, node.Name, CompositeKind)
			}
			if err := node.Graph.validate(field + "/" + node.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildGraph creates the layers of the graph with the registry and builds the composite. The i-th node
// (starting at 1) publishes its outputs with producer id i. The topological order is validated.
func BuildGraph(spec *GraphSpec, registry *layers.Registry) (*graph.Composite, error) {
	config := graph.CompositeConfig{
		Name:  spec.Name,
		Nodes: make([]*graph.Node, 0, len(spec.Nodes)),
	}
	if len(spec.Inputs) > 0 {
		config.Inputs = make(map[string]graph.PortRef, len(spec.Inputs))
		for _, name := range spec.Inputs {
			config.Inputs[name] = graph.ExternalRef(name)
		}
	}
	if len(spec.Outputs) > 0 {
		config.Outputs = make(map[string]graph.PortRef, len(spec.Outputs))
		for name, port := range spec.Outputs {
			ref, err := graph.ParsePortRef(port)
			if err != nil {
				return nil, errors.WithMessagef(err, "graph %q output %q", spec.Name, name)
			}
			config.Outputs[name] = ref
		}
	}

	for idx, nodeSpec := range spec.Nodes {
		op, err := newOp(&nodeSpec, registry)
		if err != nil {
			return nil, errors.WithMessagef(err, "graph %q node #%d %q", spec.Name, idx, nodeSpec.Name)
		}
		node := &graph.Node{
			ID:      graph.ProducerID(idx + 1),
			Name:    nodeSpec.Name,
			Inputs:  make(map[string]graph.Ports, len(nodeSpec.Inputs)),
			Outputs: make(map[string]graph.PortRef),
			Op:      op,
		}
		for param, portsSpec := range nodeSpec.Inputs {
			if node.Inputs[param], err = portsSpec.Ports(); err != nil {
				return nil, errors.WithMessagef(err, "graph %q node %q input %q", spec.Name, nodeSpec.Name, param)
			}
		}
		outputs := nodeSpec.Outputs
		if len(outputs) == 0 {
			outputs = []string{graph.DefaultOutput}
		}
		for _, output := range outputs {
			node.Outputs[output] = graph.Ref(node.ID, output)
		}
		config.Nodes = append(config.Nodes, node)
	}

	c, err := graph.NewComposite(config)
	if err != nil {
		return nil, err
	}
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newOp(spec *NodeSpec, registry *layers.Registry) (graph.Executable, error) {
	if spec.Kind != CompositeKind {
		return registry.New(spec.Kind, spec.Args)
	}
	if spec.Graph == nil {
		return nil, errors.Wrapf(ErrInvalid, "node of kind %s requires a graph", CompositeKind)
	}
	return BuildGraph(spec.Graph, registry)
}
