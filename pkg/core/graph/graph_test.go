// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scaleOp multiplies its "x" argument by a factor, returning a single tensor.
func scaleOp(factor float64) Executable {
	return ExecutableFn(func(args Args) (Result, error) {
		x, err := args.Tensor("x")
		if err != nil {
			return Result{}, err
		}
		flat := make([]float64, x.Size())
		for i, v := range x.Flat() {
			flat[i] = v * factor
		}
		return Single(tensors.FromFlat(x.Shape(), flat)), nil
	})
}

// sumOp adds all tensors of its "x" argument (a list), returning it as the named output "sum".
var sumOp = ExecutableFn(func(args Args) (Result, error) {
	all, err := args.Tensors("x")
	if err != nil {
		return Result{}, err
	}
	flat := make([]float64, all[0].Size())
	for _, t := range all {
		for i, v := range t.Flat() {
			flat[i] += v
		}
	}
	return Named(map[string]*tensors.Tensor{"sum": tensors.FromFlat(all[0].Shape(), flat)}), nil
})

func TestPortRef(t *testing.T) {
	ref := Ref(3, "x")
	assert.Equal(t, "x$3", ref.String())
	assert.Equal(t, "y$", ExternalRef("y").String())
	assert.True(t, ExternalRef("y").IsExternal())
	assert.Equal(t, Ref(3, "x"), ref)
	assert.NotEqual(t, Ref(2, "x"), ref)

	for _, s := range []string{"x$3", "y$", "weird$name$12"} {
		parsed, err := ParsePortRef(s)
		require.NoError(t, err)
		assert.Equal(t, s, parsed.String())
	}
	parsed := must.M1(ParsePortRef("input"))
	assert.Equal(t, ExternalRef("input"), parsed)
	for _, s := range []string{"", "$3", "x$abc", "x$-1"} {
		_, err := ParsePortRef(s)
		assert.Error(t, err, "ParsePortRef(%q)", s)
	}
}

func TestExecuteDeterministic(t *testing.T) {
	b := NewBuilder("double_then_sum")
	x := b.Input("x")
	double := b.Add("double", scaleOp(2), Inputs{"x": At(x)})
	sum := b.Add("sum", sumOp, Inputs{"x": ListOf(x, double.Out("x"))}, "sum")
	b.Output("y", sum.Out("sum"))
	c := must.M1(b.Build())

	input := tensors.FromValues([]float64{1, 2, 3})
	first := must.M1(c.Execute(map[string]*tensors.Tensor{"x": input}))
	second := must.M1(c.Execute(map[string]*tensors.Tensor{"x": input}))
	require.Len(t, first, 1)
	assert.Equal(t, []float64{3, 6, 9}, first["y"].Flat())
	assert.True(t, first["y"].Equal(second["y"]))
	assert.Equal(t, []float64{1, 2, 3}, input.Flat(), "inputs must not be changed")
}

func TestNestedResolution(t *testing.T) {
	a, b, c := tensors.FromScalar(1), tensors.FromScalar(2), tensors.FromScalar(3)
	store := Store{ExternalRef("a"): a, Ref(1, "b"): b, Ref(2, "c"): c}
	ports := List(List(At(ExternalRef("a")), At(Ref(1, "b"))), At(Ref(2, "c")))
	assert.Equal(t, "[[a$, b$1], c$2]", ports.String())

	arg, err := ports.Resolve(store)
	require.NoError(t, err)
	require.True(t, arg.IsList())
	require.Len(t, arg.Items(), 2)
	inner := arg.Items()[0]
	require.True(t, inner.IsList())
	require.Len(t, inner.Items(), 2)
	assert.Same(t, a, inner.Items()[0].Tensor())
	assert.Same(t, b, inner.Items()[1].Tensor())
	assert.False(t, arg.Items()[1].IsList())
	assert.Same(t, c, arg.Items()[1].Tensor())
	assert.Equal(t, []*tensors.Tensor{a, b, c}, arg.Flatten())

	_, err = List(At(Ref(7, "missing"))).Resolve(store)
	require.ErrorIs(t, err, ErrPortNotFound)
	assert.Contains(t, err.Error(), "missing$7")
}

func TestSingleOutputNormalization(t *testing.T) {
	value := tensors.FromValues([]float64{4, 5})
	singleOp := ExecutableFn(func(Args) (Result, error) { return Single(value), nil })
	namedOp := ExecutableFn(func(Args) (Result, error) {
		return Named(map[string]*tensors.Tensor{"x": value}), nil
	})
	var seen []*tensors.Tensor
	consumer := ExecutableFn(func(args Args) (Result, error) {
		x, err := args.Tensor("in")
		seen = append(seen, x)
		return Single(x), err
	})

	for _, producer := range []Executable{singleOp, namedOp} {
		b := NewBuilder("normalization")
		p := b.Add("producer", producer, Inputs{})
		out := b.Add("consumer", consumer, Inputs{"in": At(p.Out("x"))})
		b.Output("out", out.Out("x"))
		outputs := must.M1(must.M1(b.Build()).Execute(nil))
		assert.Same(t, value, outputs["out"])
	}
	require.Len(t, seen, 2)
	assert.Same(t, seen[0], seen[1])
}

func TestLookupFailure(t *testing.T) {
	// Node #2 reads a port published only by node #3: the graph is not in topological order.
	n1 := &Node{ID: 1, Name: "first", Inputs: map[string]Ports{"x": At(ExternalRef("x"))},
		Outputs: map[string]PortRef{"x": Ref(1, "x")}, Op: scaleOp(2)}
	n2 := &Node{ID: 2, Name: "second", Inputs: map[string]Ports{"x": At(Ref(3, "x"))},
		Outputs: map[string]PortRef{"x": Ref(2, "x")}, Op: scaleOp(3)}
	n3 := &Node{ID: 3, Name: "third", Inputs: map[string]Ports{"x": At(Ref(1, "x"))},
		Outputs: map[string]PortRef{"x": Ref(3, "x")}, Op: scaleOp(4)}
	c, err := NewComposite(CompositeConfig{
		Name:    "unordered",
		Nodes:   []*Node{n1, n2, n3},
		Outputs: map[string]PortRef{"y": Ref(3, "x")},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]PortRef{"x": ExternalRef("x")}, c.Inputs())

	for range 2 {
		outputs, err := c.Execute(map[string]*tensors.Tensor{"x": tensors.FromScalar(1)})
		require.ErrorIs(t, err, ErrPortNotFound)
		assert.Nil(t, outputs)
		assert.Contains(t, err.Error(), "x$3")
		assert.Contains(t, err.Error(), "producer 3")
		assert.Contains(t, err.Error(), `"second"`)
	}

	err = c.Validate()
	require.ErrorIs(t, err, ErrUnpublishedPort)
	assert.Contains(t, err.Error(), "x$3")
}

func TestConstructionErrors(t *testing.T) {
	t.Run("duplicate port", func(t *testing.T) {
		n1 := &Node{ID: 1, Name: "a", Outputs: map[string]PortRef{"x": Ref(1, "x")}, Op: scaleOp(1)}
		n2 := &Node{ID: 2, Name: "b", Outputs: map[string]PortRef{"x": Ref(1, "x")}, Op: scaleOp(1)}
		_, err := NewComposite(CompositeConfig{Name: "dup", Nodes: []*Node{n1, n2}})
		require.ErrorIs(t, err, ErrDuplicatePort)
		assert.Contains(t, err.Error(), "x$1")
	})
	t.Run("no name", func(t *testing.T) {
		_, err := NewComposite(CompositeConfig{})
		require.ErrorIs(t, err, ErrInvalidComposite)
	})
	t.Run("no executable", func(t *testing.T) {
		_, err := NewComposite(CompositeConfig{Name: "nil-op", Nodes: []*Node{{ID: 1, Name: "a"}}})
		require.ErrorIs(t, err, ErrInvalidComposite)
	})
	t.Run("output not from last node", func(t *testing.T) {
		b := NewBuilder("early_output")
		x := b.Input("x")
		first := b.Add("first", scaleOp(2), Inputs{"x": At(x)})
		b.Add("second", scaleOp(3), Inputs{"x": At(first.Out("x"))})
		b.Output("y", first.Out("x"))
		_, err := b.Build()
		require.ErrorIs(t, err, ErrUnpublishedPort)

		c := must.M1(NewComposite(CompositeConfig{Name: "early_output", Nodes: b.nodes, Inputs: b.inputs,
			Outputs: b.outputs}))
		_, err = c.Execute(map[string]*tensors.Tensor{"x": tensors.FromScalar(1)})
		require.ErrorIs(t, err, ErrPortNotFound)
	})
}

func TestExecuteErrors(t *testing.T) {
	b := NewBuilder("scale")
	x := b.Input("x")
	node := b.Add("scale", scaleOp(2), Inputs{"x": At(x)})
	b.Output("y", node.Out("x"))
	c := must.M1(b.Build())

	_, err := c.Execute(map[string]*tensors.Tensor{"z": tensors.FromScalar(1)})
	require.ErrorIs(t, err, ErrUnknownInput)

	_, err = c.Execute(nil)
	require.ErrorIs(t, err, ErrPortNotFound)

	_, err = c.Forward(Args{"x": ListArg(TensorArg(tensors.FromScalar(1)))})
	require.ErrorIs(t, err, ErrArgKind)

	b = NewBuilder("missing_output")
	b.Add("scale", scaleOp(2), Inputs{"x": At(b.Input("x"))}, "y")
	c = must.M1(b.Build())
	_, err = c.Execute(map[string]*tensors.Tensor{"x": tensors.FromScalar(1)})
	require.ErrorIs(t, err, ErrMissingOutput)
}

type paramOp struct {
	scaleOp  Executable
	w        *tensors.Tensor
	training bool
	device   string
}

func (p *paramOp) Forward(args Args) (Result, error) { return p.scaleOp.Forward(args) }
func (p *paramOp) Parameters() []Parameter        { return []Parameter{{Name: "w", Value: p.w}} }
func (p *paramOp) SetTraining(training bool)      { p.training = training }
func (p *paramOp) BindDevice(device string) error { p.device = device; return nil }

func TestNestedComposites(t *testing.T) {
	leaf := &paramOp{scaleOp: scaleOp(10), w: tensors.FromScalar(0.5)}
	inner := NewBuilder("inner")
	innerNode := inner.Add("leaf", leaf, Inputs{"x": At(inner.Input("x"))})
	inner.Output("x", innerNode.Out("x"))
	innerComposite := must.M1(inner.Build())

	outer := NewBuilder("outer")
	x := outer.Input("x")
	pre := outer.Add("pre", scaleOp(2), Inputs{"x": At(x)})
	block := outer.Add("block", innerComposite, Inputs{"x": At(pre.Out("x"))})
	outer.Output("y", block.Out("x"))
	model := must.M1(outer.Build())

	outputs := must.M1(model.Execute(map[string]*tensors.Tensor{"x": tensors.FromScalar(1)}))
	assert.Equal(t, 20.0, outputs["y"].Value())

	params := model.Parameters()
	require.Len(t, params, 1)
	assert.Equal(t, "block/leaf/w", params[0].Name)
	assert.Same(t, leaf.w, params[0].Value)

	model.SetTraining(true)
	assert.True(t, leaf.training)
	require.NoError(t, model.BindDevice("cpu"))
	assert.Equal(t, "cpu", leaf.device)
}
