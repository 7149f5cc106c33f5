// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"context"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/gomlx/n3/pkg/ml/datasets"
	"github.com/gomlx/n3/pkg/ml/export"
	"github.com/gomlx/n3/pkg/ml/initializer"
	"github.com/gomlx/n3/pkg/ml/layers"
	"github.com/gomlx/n3/pkg/ml/optimizer"
	"github.com/gomlx/n3/pkg/ml/train/epochs"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	tag   string
	value float64
	step  int
}

type memorySink struct {
	records []record
	flushes int
	closed  bool
}

func (s *memorySink) Write(tag string, value float64, step int) error {
	s.records = append(s.records, record{tag, value, step})
	return nil
}
func (s *memorySink) Flush() error { s.flushes++; return nil }
func (s *memorySink) Close() error { s.closed = true; return nil }

func (s *memorySink) tagged(tag string) []record {
	var found []record
	for _, r := range s.records {
		if r.tag == tag {
			found = append(found, r)
		}
	}
	return found
}

// buildClassifier returns a linear model from numFeatures to numClasses logits.
func buildClassifier(t *testing.T, numFeatures, numClasses int) *graph.Composite {
	rng := rand.New(rand.NewPCG(42, 42))
	b := graph.NewBuilder("Classifier")
	x := b.Input("x")
	linear := b.Add("linear", must.M1(layers.NewLinear(layers.LinearConfig{
		InputChannels: numFeatures, OutputChannels: numClasses, Bias: true,
		Initializer: initializer.XavierUniform(rng)})),
		graph.Inputs{"x": graph.At(x)})
	b.Output("x", linear.Out("x"))
	model, err := b.Build()
	require.NoError(t, err)
	return model
}

func buildLoss(t *testing.T, numClasses int) *graph.Composite {
	b := graph.NewBuilder("Loss")
	x, y := b.Input("x"), b.Input("y")
	ce := b.Add("cross_entropy", must.M1(layers.NewCrossEntropy(numClasses)),
		graph.Inputs{"x": graph.At(x), "y": graph.At(y)})
	b.Output("x", ce.Out("x"))
	loss, err := b.Build()
	require.NoError(t, err)
	return loss
}

// fiveBatches returns a provider whose train dataset has 5 batches of 1 example.
func fiveBatches(t *testing.T) datasets.Provider {
	inputs := tensors.FromValues([]float64{1, 0, 0, 1, 1, 1, -1, 0, 0, -1}, 5, 2)
	targets := tensors.FromValues([]int{0, 1, 2, 0, 1})
	ds := must.M1(datasets.InMemory("five", inputs, targets))
	return &datasets.Split{Train: ds, Eval: ds}
}

func newTrainer(t *testing.T, config Config) *Trainer {
	if config.Name == "" {
		config.Name = "ImageClassification"
	}
	if config.Model == nil {
		config.Model = buildClassifier(t, 2, 3)
	}
	if config.Loss == nil {
		config.Loss = buildLoss(t, 3)
	}
	if config.Optimizer == nil {
		config.Optimizer = optimizer.New(optimizer.SGD().LearningRate(0.1).Done())
	}
	if config.Data == nil {
		config.Data = fiveBatches(t)
	}
	return must.M1(New(config))
}

func TestNew(t *testing.T) {
	model, loss := buildClassifier(t, 2, 3), buildLoss(t, 3)
	opt := optimizer.New(optimizer.SGD().Done())
	data := fiveBatches(t)

	_, err := New(Config{Loss: loss, Optimizer: opt, Data: data})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Model: model, Loss: loss, Optimizer: opt, Data: data, Epochs: -1})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Model: model, Loss: loss, Optimizer: opt, Data: data,
		Env: Env{IsRoot: true, IsDistributed: true}})
	require.ErrorIs(t, err, ErrInvalidConfig)

	trainer := must.M1(New(Config{Model: model, Loss: loss, Optimizer: opt, Data: data}))
	assert.Equal(t, "Trainer", trainer.Name())
	assert.Equal(t, LocalEnv(), trainer.Config().Env)
	assert.Equal(t, layers.CPUDevice, trainer.Config().Device)
	assert.Equal(t, NotStarted, trainer.State())
	assert.Equal(t, "trainer/train", trainer.Head("train"))

	nonRoot := must.M1(New(Config{Model: model, Loss: loss, Optimizer: opt, Data: data,
		Env: Env{ID: 1, Machine: "cpu"}, Sink: &memorySink{}, Progress: &countingProgress{}}))
	assert.Nil(t, nonRoot.Config().Sink)
	assert.Nil(t, nonRoot.Config().Progress)
}

type countingProgress struct {
	total, advanced, done int
}

func (p *countingProgress) Start(total int) { p.total = total }
func (p *countingProgress) Advance()        { p.advanced++ }
func (p *countingProgress) Done()           { p.done++ }

func TestTrainCancellation(t *testing.T) {
	sink := &memorySink{}
	progress := &countingProgress{}
	controller := NewLocalController(nil)
	trainer := newTrainer(t, Config{Epochs: 3, Sink: sink, Progress: progress, Controller: controller})

	var losses []float64
	var epochsBegun []int
	trainer.OnEpochBegin("record", 0, func(_ *Trainer, epoch *epochs.Epoch) error {
		epochsBegun = append(epochsBegun, epoch.Index())
		return nil
	})
	trainer.OnIterEnd("record", 0, func(_ *Trainer, step *Step) error {
		losses = append(losses, step.Loss)
		return nil
	})
	token := TokenFn(func() bool { return len(losses) < 2 })

	require.NoError(t, trainer.Train(token))
	assert.Equal(t, Cancelled, trainer.State())
	require.Len(t, losses, 2)
	assert.Equal(t, []int{0}, epochsBegun)
	assert.Equal(t, 2, trainer.NumSteps())
	assert.Equal(t, 1, trainer.Epoch())

	// Metrics of epoch 0 averaged over the 2 iterations, and nothing from epoch 1.
	require.Len(t, sink.records, 1)
	assert.Equal(t, "image_classification/train/loss", sink.records[0].tag)
	assert.Equal(t, 0, sink.records[0].step)
	assert.InDelta(t, (losses[0]+losses[1])/2, sink.records[0].value, 1e-12)
	assert.GreaterOrEqual(t, sink.flushes, 1)
	assert.False(t, sink.closed, "the sink is flushed, but closing it is left to its owner")

	assert.Equal(t, 15, progress.total)
	assert.Equal(t, 2, progress.advanced)
	assert.Equal(t, 1, progress.done)
	assert.True(t, controller.Ended())
}

func TestTrainBlobs(t *testing.T) {
	data := must.M1(datasets.Blobs(datasets.BlobsConfig{
		NumClasses: 3, NumFeatures: 2, NumExamples: 150, Spread: 0.5,
		EvalFraction: 0.2, BatchSize: 10, Seed: 7,
	}))
	sink := &memorySink{}
	trainer := ImageClassification(newTrainer(t, Config{
		Epochs:    10,
		Data:      data,
		Sink:      sink,
		Optimizer: optimizer.New(optimizer.Adam().LearningRate(0.05).Done()),
	}))
	var order []string
	trainer.OnEpochEnd("second", 1, func(*Trainer, *epochs.Epoch) error {
		order = append(order, "second")
		return nil
	})
	trainer.OnEpochEnd("first", -1, func(*Trainer, *epochs.Epoch) error {
		order = append(order, "first")
		return nil
	})

	require.NoError(t, trainer.Train(nil))
	assert.Equal(t, Completed, trainer.State())
	assert.Equal(t, 10, trainer.Epoch())
	assert.Equal(t, []string{"first", "second"}, order[:2])
	assert.Equal(t, []string{LossMetric, AccuracyMetric}, trainer.Metrics().Names())

	losses := sink.tagged("image_classification/train/loss")
	require.Len(t, losses, 10)
	assert.Less(t, losses[9].value, losses[0].value)
	assert.Len(t, sink.tagged("image_classification/train/accuracy"), 10)

	results, err := trainer.Eval(nil)
	require.NoError(t, err)
	assert.Greater(t, results[AccuracyMetric], 0.6)
	assert.Contains(t, results, LossMetric)
	assert.Len(t, sink.tagged("image_classification/eval/accuracy"), 1)

	// Training a completed trainer again doesn't run any epoch.
	require.NoError(t, trainer.Train(nil))
	assert.Len(t, sink.tagged("image_classification/train/loss"), 10)
	assert.Equal(t, Completed, trainer.State())
}

func TestTrainFailures(t *testing.T) {
	t.Run("port lookup", func(t *testing.T) {
		b := graph.NewBuilder("Loss")
		logits, y := b.Input("logits"), b.Input("y")
		ce := b.Add("cross_entropy", must.M1(layers.NewCrossEntropy(3)),
			graph.Inputs{"x": graph.At(logits), "y": graph.At(y)})
		b.Output("x", ce.Out("x"))
		controller := NewLocalController(nil)
		trainer := newTrainer(t, Config{Epochs: 2, Loss: must.M1(b.Build()), Controller: controller})
		err := trainer.Train(nil)
		require.ErrorIs(t, err, graph.ErrPortNotFound)
		assert.Contains(t, err.Error(), "logits$")
		assert.Equal(t, Failed, trainer.State())
		assert.False(t, controller.Ended())
	})

	t.Run("NaN loss", func(t *testing.T) {
		b := graph.NewBuilder("Loss")
		x := b.Input("x")
		nan := b.Add("nan", graph.ExecutableFn(func(graph.Args) (graph.Result, error) {
			return graph.Single(tensors.FromScalar(math.NaN())), nil
		}), graph.Inputs{"x": graph.At(x)})
		b.Output("x", nan.Out("x"))
		trainer := newTrainer(t, Config{Epochs: 1, Loss: must.M1(b.Build())})
		err := trainer.Train(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NaN")
		assert.Equal(t, Failed, trainer.State())
	})

	t.Run("unsupported device", func(t *testing.T) {
		trainer := newTrainer(t, Config{Epochs: 1, Device: "cuda:0"})
		require.ErrorIs(t, trainer.Train(nil), layers.ErrUnsupportedDevice)
		assert.Equal(t, Failed, trainer.State())
	})

	t.Run("missing capabilities", func(t *testing.T) {
		trainer := newTrainer(t, Config{Epochs: 1})
		_, err := trainer.Eval(nil)
		require.ErrorIs(t, err, ErrNotImplemented)
		_, err = trainer.Publish(t.TempDir())
		require.ErrorIs(t, err, ErrNotImplemented)
	})
}

type countingSynchronizer struct {
	calls int
}

func (s *countingSynchronizer) Synchronize(params []graph.Parameter) error {
	s.calls++
	return nil
}

func TestDistributedNonRoot(t *testing.T) {
	sink := &memorySink{}
	synchronizer := &countingSynchronizer{}
	trainer := newTrainer(t, Config{
		Epochs:       2,
		Env:          Env{ID: 1, Machine: "cpu", IsDistributed: true},
		Sink:         sink,
		Synchronizer: synchronizer,
	})
	require.NoError(t, trainer.Train(Background()))
	assert.Equal(t, Completed, trainer.State())
	assert.Equal(t, 10, synchronizer.calls)
	assert.Empty(t, sink.records)
	assert.Zero(t, sink.flushes)
}

func TestPublish(t *testing.T) {
	trainer := newTrainer(t, Config{Epochs: 1, Exporter: export.JSONExporter{}})
	require.NoError(t, trainer.Train(nil))
	dir := t.TempDir()
	path, err := trainer.Publish(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "classifier.n3.json"), path)
	exported := must.M1(export.Load(path))
	assert.Len(t, exported.Parameters, 2)
}

func TestTokens(t *testing.T) {
	assert.True(t, Background().IsRunning())
	ctx, cancel := context.WithCancel(context.Background())
	token := FromContext(ctx)
	assert.True(t, token.IsRunning())
	cancel()
	assert.False(t, token.IsRunning())

	controller := NewLocalController(token)
	assert.NotEmpty(t, controller.ID())
	assert.False(t, controller.IsRunning())
}

func TestStateAndMetrics(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.True(t, Cancelled.IsFinal())
	assert.False(t, Running.IsFinal())

	m := NewMetrics(LossMetric)
	m.Add("accuracy", 0.5)
	m.Add(LossMetric, 2)
	m.Add(LossMetric, 1)
	assert.Equal(t, []string{LossMetric, "accuracy"}, m.Names())
	assert.Equal(t, map[string]float64{LossMetric: 1.5, "accuracy": 0.25}, m.Averages(2))
	assert.Nil(t, m.Averages(0))
	assert.Equal(t, "loss=3, accuracy=0.5", m.String())
	m.Reset()
	assert.Zero(t, m.Sum(LossMetric))
	assert.Len(t, m.Names(), 2)
}
