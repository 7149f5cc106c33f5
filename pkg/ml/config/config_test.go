// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/gomlx/n3/pkg/ml/datasets"
	"github.com/gomlx/n3/pkg/ml/layers"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
name: BlobsClassification
epochs: 2
batch_size: 5
learning_rate: 0.05
data:
  num_classes: 3
  num_features: 2
  num_examples: 30
  eval_fraction: 0.2
model:
  name: Classifier
  outputs: {logits: x$4}
  nodes:
    - {name: a, kind: Linear, args: {input_channels: 2, output_channels: 2, initializer: one, bias: false}, inputs: {x: x$}}
    - {name: b, kind: Linear, args: {input_channels: 2, output_channels: 2, initializer: ones, bias: false}, inputs: {x: x$}}
    - {name: concat, kind: Concat, inputs: {x: [[x$1], x$2]}}
    - name: head
      kind: Composite
      inputs: {x: x$3}
      graph:
        name: Head
        nodes:
          - {name: relu, kind: ReLU, inputs: {x: x$}}
loss:
  name: Loss
  nodes:
    - {name: cross_entropy, kind: CrossEntropy, args: {number_of_classes: 4}, inputs: {x: x$, y: y$}}
`

func TestParse(t *testing.T) {
	cfg := must.M1(Parse([]byte(testConfig)))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "BlobsClassification", cfg.Name)
	assert.Equal(t, 2, cfg.Epochs)
	assert.Equal(t, "adam", cfg.Optimizer)
	assert.Equal(t, DataBlobs, cfg.Data.Kind)
	assert.True(t, cfg.IsClassification())

	env := cfg.TrainEnv()
	assert.True(t, env.IsRoot)
	assert.Equal(t, layers.CPUDevice, env.Machine)

	require.Len(t, cfg.Model.Nodes, 4)
	concatInputs := cfg.Model.Nodes[2].Inputs["x"]
	assert.True(t, concatInputs.List)
	require.Len(t, concatInputs.Items, 2)
	assert.True(t, concatInputs.Items[0].List)
	assert.Equal(t, "x$2", concatInputs.Items[1].Port)
	ports := must.M1(concatInputs.Ports())
	assert.Equal(t, []graph.PortRef{graph.Ref(1, "x"), graph.Ref(2, "x")}, ports.Refs())
	require.NotNil(t, cfg.Model.Nodes[3].Graph)
	assert.Equal(t, "Head", cfg.Model.Nodes[3].Graph.Name)

	// Unknown fields are errors.
	_, err := Parse([]byte("name: Foo\nepoch: 3\n"))
	require.Error(t, err)
	_, err = Parse([]byte("model: {name: M, nodes: [{name: n, kind: ReLU, inputs: {x: {a: b}}}]}"))
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := must.M1(Parse([]byte("epochs: 1\n")))
	assert.Equal(t, "ImageClassification", cfg.Name)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, "adam", cfg.Optimizer)
	assert.True(t, cfg.IsClassification())

	cfg = must.M1(Parse([]byte("classification: false\nenv: {is_root: false, id: 2}\n")))
	assert.False(t, cfg.IsClassification())
	assert.False(t, cfg.TrainEnv().IsRoot)
	assert.Equal(t, 2, cfg.TrainEnv().ID)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(c *RunConfig){
		"negative epochs":    func(c *RunConfig) { c.Epochs = -1 },
		"zero batch size":    func(c *RunConfig) { c.BatchSize = 0 },
		"fractions":          func(c *RunConfig) { c.Data.ValidFraction = 0.5; c.Data.EvalFraction = 0.5 },
		"unknown data kind":  func(c *RunConfig) { c.Data.Kind = "parquet" },
		"csv without path":   func(c *RunConfig) { c.Data.Kind = DataCSV },
		"blobs classes":      func(c *RunConfig) { c.Data.NumClasses = 1 },
		"model without name": func(c *RunConfig) { c.Model.Name = "" },
		"loss without nodes": func(c *RunConfig) { c.Loss.Nodes = nil },
		"node without kind":  func(c *RunConfig) { c.Model.Nodes[0].Kind = "" },
		"composite no graph": func(c *RunConfig) { c.Model.Nodes[3].Graph = nil },
		"nested invalid":     func(c *RunConfig) { c.Model.Nodes[3].Graph.Nodes = nil },
	} {
		cfg := must.M1(Parse([]byte(testConfig)))
		mutate(cfg)
		err := cfg.Validate()
		require.Errorf(t, err, "case %q", name)
		assert.ErrorIsf(t, err, ErrInvalid, "case %q", name)
	}
}

func TestBuildGraph(t *testing.T) {
	cfg := must.M1(Parse([]byte(testConfig)))
	registry := layers.NewRegistry(cfg.Seed)
	model := must.M1(BuildGraph(&cfg.Model, registry))
	assert.Equal(t, "Classifier", model.Name())
	require.Len(t, model.Nodes(), 4)
	assert.Equal(t, graph.ProducerID(3), model.Nodes()[2].ID)
	assert.Len(t, model.Parameters(), 2)

	outputs := must.M1(model.Execute(map[string]*tensors.Tensor{"x": tensors.FromValues([]float64{1, 2}, 1, 2)}))
	require.Contains(t, outputs, "logits")
	assert.Equal(t, []float64{3, 3, 3, 3}, outputs["logits"].Flat())

	loss := must.M1(BuildGraph(&cfg.Loss, registry))
	assert.Len(t, loss.Inputs(), 2)

	// Unknown kinds and ports read before being published.
	cfg.Model.Nodes[1].Kind = "Conv2D"
	_, err := BuildGraph(&cfg.Model, registry)
	require.ErrorIs(t, err, layers.ErrUnknownKind)
	assert.Contains(t, err.Error(), `"b"`)

	cfg = must.M1(Parse([]byte(testConfig)))
	cfg.Model.Nodes[0].Inputs["x"] = PortsSpec{Port: "x$2"}
	_, err = BuildGraph(&cfg.Model, registry)
	require.ErrorIs(t, err, graph.ErrUnpublishedPort)

	// A plain name is an input of the graph, same as "x$".
	cfg = must.M1(Parse([]byte(testConfig)))
	cfg.Model.Nodes[0].Inputs["x"] = PortsSpec{Port: "x"}
	model = must.M1(BuildGraph(&cfg.Model, registry))
	assert.Equal(t, graph.ExternalRef("x"), model.Inputs()["x"])

	// Invalid producer id.
	cfg = must.M1(Parse([]byte(testConfig)))
	cfg.Model.Nodes[0].Inputs["x"] = PortsSpec{Port: "x$abc"}
	_, err = BuildGraph(&cfg.Model, registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"x$abc"`)
}

func TestLoadAndProvider(t *testing.T) {
	dir := t.TempDir()
	csvContents := "f1,f2,label\n1,2,a\n2,3,b\n3,4,a\n4,5,b\n5,6,a\n6,7,b\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte(csvContents), 0644))
	configContents := `
epochs: 1
batch_size: 2
data:
  kind: csv
  path: data.csv
  label: label
  eval_fraction: 0.3
model:
  name: Classifier
  nodes:
    - {name: logits, kind: Linear, args: {input_channels: 2, output_channels: 2}, inputs: {x: x$}}
loss:
  name: Loss
  nodes:
    - {name: cross_entropy, kind: CrossEntropy, args: {number_of_classes: 2}, inputs: {x: x$, y: y$}}
`
	configPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContents), 0644))
	cfg := must.M1(Load(configPath))
	assert.Equal(t, filepath.Join(dir, "data.csv"), cfg.Data.Path)
	require.NoError(t, cfg.Validate())

	provider := must.M1(cfg.NewProvider())
	train := must.M1(provider.TrainDataset())
	batch := must.M1(train.Yield())
	assert.Equal(t, 2, batch.Input.Shape().Dim(1))

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	cfg.Data.Kind = DataBlobs
	cfg.Data.NumClasses, cfg.Data.NumFeatures, cfg.Data.NumExamples = 2, 2, 20
	provider = must.M1(cfg.NewProvider())
	_, err = provider.ValidDataset()
	assert.ErrorIs(t, err, datasets.ErrNotAvailable)

	opt := must.M1(cfg.NewOptimizer())
	assert.False(t, opt.IsInitialized())
	cfg.Optimizer = "rmsprop"
	_, err = cfg.NewOptimizer()
	require.Error(t, err)
}

func TestParams(t *testing.T) {
	cfg := must.M1(Parse([]byte(testConfig)))
	params := cfg.Params()
	*params["epochs"].(*int) = 7
	*params["data.kind"].(*string) = DataCSV
	*params["learning_rate"].(*float64) = 0.5
	assert.Equal(t, 7, cfg.Epochs)
	assert.Equal(t, DataCSV, cfg.Data.Kind)
	assert.Equal(t, 0.5, cfg.LearningRate)
}
