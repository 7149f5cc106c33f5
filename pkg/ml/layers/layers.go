// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers implements the standard nodes used to declare models: Linear, activations, Dropout,
// reshaping (ToLinear, Transform), Concat and the CrossEntropy loss.
//
// Each layer is created from an explicit configuration, validated at construction, and implements
// graph.Executable and graph.Describable, plus graph.ParameterOwner, graph.Trainable and
// graph.DeviceBindable where relevant.
//
// A Registry maps layer kind names (as used in declarative configuration files) to constructors.
package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when a layer configuration is invalid.
	ErrInvalidConfig = errors.New("invalid layer configuration")

	// ErrUnsupportedDevice is returned by BindDevice for devices other than CPUDevice.
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrShape is returned by Forward when the inputs have incompatible shapes.
	ErrShape = errors.New("incompatible shape")
)

// CPUDevice is the only device supported by the reference kernels.
const CPUDevice = "cpu"

// bindCPU implements graph.DeviceBindable for layers that hold parameters.
func bindCPU(layer, device string) error {
	if device != CPUDevice {
		return errors.Wrapf(ErrUnsupportedDevice, "%s can't be bound to %q", layer, device)
	}
	return nil
}

// compute runs fn converting panics of the kernels (e.g. out-of-range labels) to errors.
func compute(name string, fn func() *tensors.Tensor) (graph.Result, error) {
	var out *tensors.Tensor
	err := exceptions.TryCatch[error](func() { out = fn() })
	if err != nil {
		return graph.Result{}, errors.WithMessagef(err, "%s", name)
	}
	return graph.Single(out), nil
}
