// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package inspect provides read-only views of a graph.Composite: walking its (nested) nodes,
// describing its structure for debugging and listing its parameters.
//
// Nothing in this package changes the composite or executes it.
package inspect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/pkg/errors"
)

// SkipChildren can be returned by a WalkFn to skip the nodes of a nested composite.
var SkipChildren = errors.New("skip children")

// WalkFn is called for each node visited by Walk, with its nesting depth (0 for the nodes of
// the root composite) and its index within its composite.
type WalkFn func(depth, index int, node *graph.Node) error

// Walk visits the nodes of c in execution order, depth-first: nodes that are themselves
// composites have their own nodes visited right after them, with depth+1.
//
// If fn returns SkipChildren for a composite node, its nodes are not visited. Any other error
// stops the walk and is returned.
func Walk(c *graph.Composite, fn WalkFn) error {
	return walk(c, 0, fn)
}

func walk(c *graph.Composite, depth int, fn WalkFn) error {
	for idx, node := range c.Nodes() {
		err := fn(depth, idx, node)
		if errors.Is(err, SkipChildren) {
			continue
		}
		if err != nil {
			return err
		}
		if sub, ok := node.Op.(*graph.Composite); ok {
			if err = walk(sub, depth+1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Describe renders the structure of the composite as an indented tree:
//
//	* [node object mlp]
//	  [input]
//	    x: x$
//	  [output]
//	    x: x$2
//	  (0) linear_0: Linear(input_channels=4, output_channels=8, bias=true)
//	  (1) relu: ReLU
//
// Leaf nodes implementing graph.Describable are rendered with their description, others with their Go type.
func Describe(c *graph.Composite) string {
	var sb strings.Builder
	describeComposite(&sb, c, 0)
	return sb.String()
}

func describeComposite(sb *strings.Builder, c *graph.Composite, depth int) {
	indent := strings.Repeat(" ", depth*4+2)
	indentNode := strings.Repeat(" ", (depth+1)*4)
	if depth == 0 {
		sb.WriteString("* ")
	}
	fmt.Fprintf(sb, "[node object %s]\n", c.Name())

	fmt.Fprintf(sb, "%s[input]\n", indent)
	inputs := c.Inputs()
	for _, name := range sortedKeys(inputs) {
		fmt.Fprintf(sb, "%s%s: %s\n", indentNode, name, inputs[name])
	}
	fmt.Fprintf(sb, "%s[output]\n", indent)
	outputs := c.Outputs()
	for _, name := range sortedKeys(outputs) {
		fmt.Fprintf(sb, "%s%s: %s\n", indentNode, name, outputs[name])
	}
	for idx, node := range c.Nodes() {
		fmt.Fprintf(sb, "%s(%d) ", indent, idx)
		if sub, ok := node.Op.(*graph.Composite); ok {
			describeComposite(sb, sub, depth+1)
			continue
		}
		fmt.Fprintf(sb, "%s: %s\n", node.Name, DescribeOp(node.Op))
	}
}

// DescribeOp returns the description of a leaf executable: its Describe() if it implements
// graph.Describable, or its Go type otherwise.
func DescribeOp(op graph.Executable) string {
	if d, ok := op.(graph.Describable); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T", op)
}

// Parameters returns the parameters of the composite (including nested ones), sorted by name.
func Parameters(c *graph.Composite) []graph.Parameter {
	params := c.Parameters()
	slices.SortFunc(params, func(a, b graph.Parameter) int { return strings.Compare(a.Name, b.Name) })
	return params
}

// NumParameters returns the total number of scalar values held by the parameters of the composite.
func NumParameters(c *graph.Composite) int {
	var total int
	for _, p := range c.Parameters() {
		total += p.Value.Size()
	}
	return total
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
