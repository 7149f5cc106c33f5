// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package export publishes trained models.
//
// The JSONExporter writes a self-contained JSON file with the structure of the model (as rendered by
// inspect.Describe), its inputs and outputs, with a dynamic batch axis, and the values of all its
// parameters, optionally in half-precision.
package export

import (
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/graph/inspect"
	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/gomlx/n3/pkg/ml/logs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Exporter publishes a model to a directory, using a sample input to trace its outputs.
// It returns the path of the file written.
type Exporter interface {
	Export(model *graph.Composite, sample *tensors.Tensor, dir string) (path string, err error)
}

const (
	// FileSuffix of the files written by the JSONExporter.
	FileSuffix = ".n3.json"

	// BatchAxisName is the name of the dynamic first axis of inputs and outputs.
	BatchAxisName = "batch_size"

	// DirPermMode is the permission used when creating the output directory.
	DirPermMode = 0755
)

// Model is the content of an exported model file.
type Model struct {
	Name       string      `json:"name"`
	Structure  string      `json:"structure"`
	Inputs     []Port      `json:"inputs"`
	Outputs    []Port      `json:"outputs"`
	Parameters []Parameter `json:"parameters"`

	// DynamicAxes maps inputs and outputs names to their dynamic axes, and the axes to their names.
	DynamicAxes map[string]map[int]string `json:"dynamic_axes"`
}

// Port is an input or output of an exported model. The dynamic axes are exported as -1.
type Port struct {
	Name       string `json:"name"`
	DType      string `json:"dtype"`
	Dimensions []int  `json:"dimensions"`
}

// Parameter values are stored either as Values or, for half-precision exports, as Float16 bits.
type Parameter struct {
	Name       string    `json:"name"`
	Dimensions []int     `json:"dimensions"`
	Values     []float64 `json:"values,omitempty"`
	Float16    []uint16  `json:"float16,omitempty"`
}

// Tensor returns the parameter value.
func (p Parameter) Tensor() *tensors.Tensor {
	shape := shapes.Make(dtypes.Float64, p.Dimensions...)
	if p.Float16 != nil {
		return tensors.FromFloat16Bits(shape, p.Float16)
	}
	return tensors.FromFlat(shape, slices.Clone(p.Values))
}

// JSONExporter exports models to "<dir>/<model_name>.n3.json", with the model name in snake case.
type JSONExporter struct {
	// Float16 stores the parameters in half-precision.
	Float16 bool
}

var _ Exporter = JSONExporter{}

// FileName returns the name of the file the model is exported to.
func FileName(model *graph.Composite) string {
	return logs.SnakeCase(model.Name()) + FileSuffix
}

// Export implements Exporter. The model is executed once on sample, which must hold a batch for its single input.
func (e JSONExporter) Export(model *graph.Composite, sample *tensors.Tensor, dir string) (string, error) {
	serialized, err := e.Serialize(model, sample)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return "", errors.Wrapf(err, "failed to create export directory %q", dir)
	}
	path := filepath.Join(dir, FileName(model))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create export file %q", path)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	if err = enc.Encode(serialized); err != nil {
		_ = f.Close()
		return "", errors.Wrapf(err, "failed to write export file %q", path)
	}
	if err = f.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to close export file %q", path)
	}
	klog.V(1).Infof("model %q exported to %s", model.Name(), path)
	return path, nil
}

// Serialize the model into a Model.
func (e JSONExporter) Serialize(model *graph.Composite, sample *tensors.Tensor) (*Model, error) {
	inputs := model.Inputs()
	if len(inputs) != 1 {
		return nil, errors.Errorf("exporting model %q: it must have exactly one input, it has %d", model.Name(), len(inputs))
	}
	var inputName string
	for name := range inputs {
		inputName = name
	}
	outputs, err := model.Execute(map[string]*tensors.Tensor{inputName: sample})
	if err != nil {
		return nil, errors.WithMessagef(err, "exporting model %q: tracing outputs", model.Name())
	}

	serialized := &Model{
		Name:        model.Name(),
		Structure:   inspect.Describe(model),
		Inputs:      []Port{dynamicPort(inputName, sample.Shape())},
		DynamicAxes: map[string]map[int]string{inputName: {0: BatchAxisName}},
	}
	for _, name := range slices.Sorted(maps.Keys(outputs)) {
		serialized.Outputs = append(serialized.Outputs, dynamicPort(name, outputs[name].Shape()))
		serialized.DynamicAxes[name] = map[int]string{0: BatchAxisName}
	}
	for _, p := range inspect.Parameters(model) {
		param := Parameter{Name: p.Name, Dimensions: slices.Clone(p.Value.Shape().Dimensions)}
		if e.Float16 {
			param.Float16 = p.Value.Float16Bits()
		} else {
			param.Values = slices.Clone(p.Value.Flat())
		}
		serialized.Parameters = append(serialized.Parameters, param)
	}
	return serialized, nil
}

func dynamicPort(name string, shape shapes.Shape) Port {
	dims := slices.Clone(shape.Dimensions)
	if len(dims) > 0 {
		dims[0] = -1
	}
	return Port{Name: name, DType: shape.DType.String(), Dimensions: dims}
}

// Load an exported model.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open exported model %q", path)
	}
	defer func() { _ = f.Close() }()
	var model Model
	if err = json.NewDecoder(f).Decode(&model); err != nil {
		return nil, errors.Wrapf(err, "failed to parse exported model %q", path)
	}
	return &model, nil
}
