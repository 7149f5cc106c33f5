// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/ops"
	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/gomlx/n3/pkg/ml/initializer"
	"github.com/pkg/errors"
)

// LinearConfig configures a Linear layer.
type LinearConfig struct {
	InputChannels  int
	OutputChannels int
	Bias           bool

	// Initializer for the weights. Biases are always initialized to zero.
	// It is required.
	Initializer initializer.Initializer
}

// Linear is a fully connected layer: x·W (+ b), for x shaped [batch_size, InputChannels].
type Linear struct {
	config  LinearConfig
	weights *tensors.Tensor
	biases  *tensors.Tensor
}

// NewLinear validates the configuration and initializes the parameters.
func NewLinear(config LinearConfig) (*Linear, error) {
	if config.InputChannels <= 0 || config.OutputChannels <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "Linear: channels must be > 0, got input_channels=%d, output_channels=%d",
			config.InputChannels, config.OutputChannels)
	}
	if config.Initializer == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "Linear: no initializer given")
	}
	l := &Linear{config: config}
	l.weights = config.Initializer(shapes.Make(dtypes.Float64, config.InputChannels, config.OutputChannels)).
		SetRequiresGrad(true)
	if config.Bias {
		l.biases = tensors.Zeros(shapes.Make(dtypes.Float64, config.OutputChannels)).SetRequiresGrad(true)
	}
	return l, nil
}

// Forward implements graph.Executable.
func (l *Linear) Forward(args graph.Args) (graph.Result, error) {
	x, err := args.Tensor("x")
	if err != nil {
		return graph.Result{}, err
	}
	if x.Shape().Rank() != 2 || x.Shape().Dim(1) != l.config.InputChannels {
		return graph.Result{}, errors.Wrapf(ErrShape, "%s: input shape %s, wanted [batch_size, %d]",
			l.Describe(), x.Shape(), l.config.InputChannels)
	}
	return compute("Linear", func() *tensors.Tensor {
		y := ops.MatMul(x, l.weights)
		if l.biases != nil {
			y = ops.AddBias(y, l.biases)
		}
		return y
	})
}

// Parameters implements graph.ParameterOwner.
func (l *Linear) Parameters() []graph.Parameter {
	params := []graph.Parameter{{Name: "weights", Value: l.weights}}
	if l.biases != nil {
		params = append(params, graph.Parameter{Name: "biases", Value: l.biases})
	}
	return params
}

// BindDevice implements graph.DeviceBindable.
func (l *Linear) BindDevice(device string) error { return bindCPU("Linear", device) }

// Describe implements graph.Describable.
func (l *Linear) Describe() string {
	return fmt.Sprintf("Linear(input_channels=%d, output_channels=%d, bias=%t)",
		l.config.InputChannels, l.config.OutputChannels, l.config.Bias)
}
