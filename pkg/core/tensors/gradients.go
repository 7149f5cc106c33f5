// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/pkg/errors"
)

// ErrNoGradient is returned by Backward when the tensor doesn't depend on any tensor that requires gradient.
var ErrNoGradient = errors.New("tensor does not depend on any tensor requiring gradient")

// BackwardFn receives the gradient of the output of an operation and accumulates the gradients of
// its inputs with Tensor.AccumulateGrad.
type BackwardFn func(outputGrad []float64)

// record of the operation that produced a tensor.
type record struct {
	name     string
	inputs   []*Tensor
	backward BackwardFn
}

// RequiresGrad returns whether the tensor is a leaf whose gradient is collected by Backward, e.g. a parameter.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// SetRequiresGrad marks the tensor as a leaf that collects gradients. It returns the tensor itself,
// so calls can be cascaded.
func (t *Tensor) SetRequiresGrad(requiresGrad bool) *Tensor {
	t.requiresGrad = requiresGrad
	return t
}

// Tracked returns whether gradients flow through this tensor: either it requires gradients or
// it was produced by an operation on tracked tensors.
func (t *Tensor) Tracked() bool { return t.requiresGrad || t.record != nil }

// Grad returns the gradient accumulated by the last Backward calls, or nil if there is none.
func (t *Tensor) Grad() []float64 { return t.grad }

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// AccumulateGrad adds g to the tensor gradient. It is a no-op for tensors that are not tracked.
func (t *Tensor) AccumulateGrad(g []float64) {
	if !t.Tracked() {
		return
	}
	if t.grad == nil {
		t.grad = make([]float64, len(t.flat))
	}
	for i, v := range g {
		t.grad[i] += v
	}
}

// Record registers on output that it was produced by the operation name from inputs, with the given
// backward function. It is a no-op if none of the inputs are tracked, and returns output itself.
func Record(output *Tensor, name string, inputs []*Tensor, backward BackwardFn) *Tensor {
	tracked := false
	for _, input := range inputs {
		if input.Tracked() {
			tracked = true
			break
		}
	}
	if !tracked {
		return output
	}
	output.record = &record{name: name, inputs: inputs, backward: backward}
	return output
}

// Backward propagates gradients from t, which must have exactly one element (usually a loss),
// to every tracked tensor it depends on. Gradients are accumulated: call ZeroGrad on the
// parameters (or use an optimizer) before each step.
func (t *Tensor) Backward() error {
	if t.Size() != 1 {
		return errors.Errorf("Backward() requires a tensor with one element, got shape %s", t.shape)
	}
	if !t.Tracked() {
		return ErrNoGradient
	}

	// Reverse topological order of the recorded operations.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(node *Tensor)
	visit = func(node *Tensor) {
		if visited[node] {
			return
		}
		visited[node] = true
		if node.record != nil {
			for _, input := range node.record.inputs {
				visit(input)
			}
		}
		order = append(order, node)
	}
	visit(t)

	// Intermediate gradients are recomputed for each Backward call.
	for _, node := range order {
		if node.record != nil {
			node.grad = nil
		}
	}
	t.AccumulateGrad([]float64{1})
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.record == nil || node.grad == nil {
			continue
		}
		node.record.backward(node.grad)
	}
	return nil
}
