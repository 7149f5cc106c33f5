// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train implements the training orchestrator: a Trainer runs the epochs of a model and
// its loss over the batches of a data provider, updating the parameters with an optimizer, and
// reporting the per-epoch metrics to a log sink.
//
// A run goes through the states NotStarted -> Running -> {Cancelled | Completed | Failed}.
// Cancellation is cooperative: the Token given to Trainer.Train is polled after each iteration and
// after each epoch.
//
// The model is executed with its input "x" set to the batch input, and the loss with the model
// outputs plus the input "y" set to the batch target. The loss must publish the scalar output "x".
package train

import (
	"io"
	"math"
	"slices"
	"time"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/gomlx/n3/pkg/ml/datasets"
	"github.com/gomlx/n3/pkg/ml/export"
	"github.com/gomlx/n3/pkg/ml/layers"
	"github.com/gomlx/n3/pkg/ml/logs"
	"github.com/gomlx/n3/pkg/ml/optimizer"
	"github.com/gomlx/n3/pkg/ml/train/epochs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrInvalidConfig is returned by New for invalid configurations.
	ErrInvalidConfig = errors.New("invalid trainer configuration")

	// ErrNotImplemented is returned by operations whose capability was not configured, e.g. Eval without an Evaluator.
	ErrNotImplemented = errors.New("not implemented")

	// ErrAlreadyRunning is returned by Train if called while the trainer is running.
	ErrAlreadyRunning = errors.New("trainer already running")
)

const (
	// InputName is the model input set to the batch input.
	InputName = "x"

	// TargetName is the loss input set to the batch target.
	TargetName = "y"
)

// Env describes the process running the trainer.
type Env struct {
	ID      int
	Machine string

	// IsRoot is true for the process that owns the log sink and the progress reporting. Non-root
	// processes of a distributed run don't write any metrics.
	IsRoot bool

	// IsDistributed is true for multi-process data-parallel runs: the gradients are synchronized
	// across processes after each backward pass, see GradientSynchronizer.
	IsDistributed bool

	GPUID int
}

// LocalEnv is the environment of a single process run on the CPU.
func LocalEnv() Env { return Env{Machine: layers.CPUDevice, IsRoot: true} }

// GradientSynchronizer synchronizes the gradients of the parameters across the processes of a
// distributed run, e.g. averaging them with an all-reduce.
type GradientSynchronizer interface {
	Synchronize(params []graph.Parameter) error
}

// Evaluator evaluates the model of the trainer, returning the averaged metrics.
type Evaluator interface {
	Evaluate(trainer *Trainer, token Token) (map[string]float64, error)
}

// Config of a Trainer. Model, Loss, Optimizer and Data are required.
type Config struct {
	// Name of the trainer, used for logging and as the head of the metric tags. Defaults to "Trainer".
	Name string

	Model     *graph.Composite
	Loss      *graph.Composite
	Optimizer *optimizer.Optimizer
	Data      datasets.Provider

	// Epochs to train.
	Epochs int

	// Device the model and loss are bound to. Defaults to Env.Machine.
	Device string

	// Env of the process. If left as the zero value, LocalEnv() is used.
	Env Env

	// Sink receives the metrics of each epoch. Optional, and dropped for non-root processes.
	Sink logs.Sink

	// Progress reporter. Optional, and dropped for non-root processes.
	Progress epochs.Progress

	// Controller of the run. Optional.
	Controller Controller

	// Synchronizer of gradients, required if Env.IsDistributed.
	Synchronizer GradientSynchronizer

	// Evaluator used by Eval. Optional.
	Evaluator Evaluator

	// Exporter used by Publish. Optional.
	Exporter export.Exporter
}

// Trainer orchestrates the training of a model.
type Trainer struct {
	config  Config
	state   State
	epoch   int
	metrics *Metrics

	startTime     time.Time
	stepDurations []time.Duration

	// Registered hooks.
	onEpochBegin *priorityHooks[*hookWithName[OnEpochFn]]
	onIterEnd    *priorityHooks[*hookWithName[OnIterEndFn]]
	onEpochEnd   *priorityHooks[*hookWithName[OnEpochFn]]
}

// New validates the configuration and returns a Trainer in the NotStarted state.
func New(config Config) (*Trainer, error) {
	if config.Name == "" {
		config.Name = "Trainer"
	}
	switch {
	case config.Model == nil:
		return nil, errors.Wrapf(ErrInvalidConfig, "trainer %q: no model", config.Name)
	case config.Loss == nil:
		return nil, errors.Wrapf(ErrInvalidConfig, "trainer %q: no loss", config.Name)
	case config.Optimizer == nil:
		return nil, errors.Wrapf(ErrInvalidConfig, "trainer %q: no optimizer", config.Name)
	case config.Data == nil:
		return nil, errors.Wrapf(ErrInvalidConfig, "trainer %q: no data provider", config.Name)
	case config.Epochs < 0:
		return nil, errors.Wrapf(ErrInvalidConfig, "trainer %q: epochs must be >= 0, got %d", config.Name, config.Epochs)
	}
	if config.Env == (Env{}) {
		config.Env = LocalEnv()
	}
	if config.Env.IsDistributed && config.Synchronizer == nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "trainer %q: distributed training requires a GradientSynchronizer",
			config.Name)
	}
	if config.Device == "" {
		config.Device = config.Env.Machine
	}
	if config.Device == "" {
		config.Device = layers.CPUDevice
	}
	if !config.Env.IsRoot {
		klog.V(1).Infof("trainer %q: process #%d is not root, metrics and progress are disabled", config.Name, config.Env.ID)
		config.Sink = nil
		config.Progress = nil
	}
	return &Trainer{
		config:       config,
		state:        NotStarted,
		metrics:      NewMetrics(LossMetric),
		onEpochBegin: newPriorityHooks[*hookWithName[OnEpochFn]](),
		onIterEnd:    newPriorityHooks[*hookWithName[OnIterEndFn]](),
		onEpochEnd:   newPriorityHooks[*hookWithName[OnEpochFn]](),
	}, nil
}

// Name of the trainer.
func (t *Trainer) Name() string { return t.config.Name }

// Config returns the validated configuration. It must not be changed.
func (t *Trainer) Config() *Config { return &t.config }

// State of the trainer.
func (t *Trainer) State() State { return t.state }

// Epoch returns the current epoch while running, or the number of epochs ended otherwise.
func (t *Trainer) Epoch() int { return t.epoch }

// Metrics accumulated in the current (or last) epoch.
func (t *Trainer) Metrics() *Metrics { return t.metrics }

// SetEvaluator sets the Evaluator used by Eval.
func (t *Trainer) SetEvaluator(evaluator Evaluator) { t.config.Evaluator = evaluator }

// Head returns the head of the metric tags for the given kind of run ("train" or "eval"): "<trainer_name>/<kind>".
func (t *Trainer) Head(kind string) string {
	return logs.SnakeCase(t.config.Name) + "/" + kind
}

// Elapsed returns the time since the start of the current (or last) training run.
func (t *Trainer) Elapsed() time.Duration {
	if t.startTime.IsZero() {
		return 0
	}
	return time.Since(t.startTime)
}

// running combines the token with the controller.
func (t *Trainer) running(token Token) func() bool {
	if token == nil {
		token = Background()
	}
	controller := t.config.Controller
	return func() bool {
		if controller != nil && !controller.IsRunning() {
			return false
		}
		return token.IsRunning()
	}
}

func (t *Trainer) setTraining(training bool) {
	t.config.Model.SetTraining(training)
	t.config.Loss.SetTraining(training)
}

func (t *Trainer) bindDevice() error {
	for _, c := range []*graph.Composite{t.config.Model, t.config.Loss} {
		if err := c.BindDevice(t.config.Device); err != nil {
			return errors.WithMessagef(err, "trainer %q", t.config.Name)
		}
	}
	return nil
}

// Parameters of the model and the loss.
func (t *Trainer) Parameters() []graph.Parameter {
	return append(t.config.Model.Parameters(), t.config.Loss.Parameters()...)
}

// TrainBegin binds the model and the loss to the device and initializes the optimizer (only the first time).
// It moves the trainer to the Running state.
func (t *Trainer) TrainBegin() error {
	if err := t.bindDevice(); err != nil {
		return err
	}
	if err := t.config.Optimizer.Initialize(t.config.Model, t.config.Loss); err != nil {
		return errors.WithMessagef(err, "trainer %q", t.config.Name)
	}
	t.state = Running
	t.startTime = time.Now()
	t.stepDurations = t.stepDurations[:0]
	klog.V(1).Infof("trainer %q: training %q from epoch %d to %d on %q", t.config.Name, t.config.Model.Name(),
		t.epoch, t.config.Epochs, t.config.Device)
	return nil
}

// TrainEnd ends the run: it moves a running trainer to the Cancelled or Completed state, flushes the
// sink and reports the end to the controller. Failed runs are not reported with Controller.EndOK.
// The sink is not closed: it belongs to the caller that created it.
func (t *Trainer) TrainEnd(cancelled bool) error {
	if t.state == Running {
		if cancelled {
			t.state = Cancelled
		} else {
			t.state = Completed
		}
	}
	t.setTraining(false)
	var err error
	if t.config.Sink != nil {
		err = t.config.Sink.Flush()
	}
	if controller := t.config.Controller; controller != nil {
		controller.UpdateTime(t.Elapsed())
		if t.state != Failed {
			controller.EndOK()
		}
	}
	klog.V(1).Infof("trainer %q: %s after %d epochs", t.config.Name, t.state, t.epoch)
	return err
}

// Train runs the remaining epochs, calling TrainBegin before and TrainEnd after, even on errors.
//
// The token is polled after each iteration and after each epoch: if cancelled, the current epoch
// metrics (of the iterations run) are still written, and no further epoch is started.
// Cancellation is not an error: it returns nil with the trainer in the Cancelled state.
func (t *Trainer) Train(token Token) (err error) {
	if t.state == Running {
		return errors.Wrapf(ErrAlreadyRunning, "trainer %q", t.config.Name)
	}
	running := t.running(token)
	if err = t.TrainBegin(); err != nil {
		t.state = Failed
		return err
	}
	var cancelled bool
	defer func() {
		if err != nil {
			t.state = Failed
		}
		endErr := t.TrainEnd(cancelled)
		if err == nil {
			err = endErr
		}
	}()

	tracker, err := epochs.New(epochs.Config{
		Sink:     t.config.Sink,
		Head:     t.Head("train"),
		Start:    t.epoch,
		End:      t.config.Epochs,
		Progress: t.config.Progress,
	})
	if err != nil {
		return errors.WithMessagef(err, "trainer %q", t.config.Name)
	}
	for epoch, batches := range tracker.Epochs(t.config.Data.TrainDataset) {
		t.epoch = epoch.Index()
		cancelled, err = t.trainEpoch(tracker, epoch, batches, running)
		if err != nil {
			return errors.WithMessagef(err, "trainer %q: epoch %d", t.config.Name, epoch.Index())
		}
		if cancelled {
			break
		}
	}
	if err = tracker.Err(); err != nil {
		return errors.WithMessagef(err, "trainer %q", t.config.Name)
	}
	return nil
}

func (t *Trainer) trainEpoch(tracker *epochs.Tracker, epoch *epochs.Epoch, batches *epochs.Batches,
	running func() bool) (cancelled bool, err error) {
	t.metrics.Reset()
	t.setTraining(true)
	if err = t.epochBegin(epoch); err != nil {
		return false, err
	}
	for batch, ok := batches.Next(); ok; batch, ok = batches.Next() {
		if err = t.trainStep(batches.Count()-1, batch); err != nil {
			return false, errors.WithMessagef(err, "iteration %d", batches.Count()-1)
		}
		if !running() {
			cancelled = true
			break
		}
	}
	if err = tracker.Err(); err != nil {
		return false, err
	}
	if batches.Count() == 0 {
		return false, errors.Wrapf(epochs.ErrNoBatches, "dataset %q", batches.Dataset().Name())
	}

	for _, name := range t.metrics.Names() {
		if err = epoch.Write(name, t.metrics.Sum(name), true); err != nil {
			return false, err
		}
	}
	if err = epoch.Flush(); err != nil {
		return false, errors.WithMessagef(err, "flushing metrics")
	}
	t.epoch = epoch.Index() + 1
	if err = t.epochEnd(epoch); err != nil {
		return false, err
	}
	if controller := t.config.Controller; controller != nil {
		controller.UpdateTime(t.Elapsed())
	}
	return cancelled || !running(), nil
}

// trainStep runs one iteration: zero gradients, forward pass of the model and the loss, backward pass,
// gradient synchronization (if distributed) and optimizer step.
func (t *Trainer) trainStep(iteration int, batch datasets.Batch) error {
	startTime := time.Now()
	defer func() {
		t.stepDurations = append(t.stepDurations, time.Since(startTime))
	}()

	if err := t.config.Optimizer.ZeroGrad(); err != nil {
		return err
	}
	outputs, loss, err := t.Forward(batch)
	if err != nil {
		return err
	}
	batchLoss := loss.Value()
	if math.IsNaN(batchLoss) {
		return errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(batchLoss, 0) {
		return errors.Errorf("batch loss is infinity (%f), training interrupted", batchLoss)
	}
	if err = loss.Backward(); err != nil {
		return errors.WithMessagef(err, "backward pass of loss %q", t.config.Loss.Name())
	}
	if t.config.Env.IsDistributed {
		if err = t.config.Synchronizer.Synchronize(t.Parameters()); err != nil {
			return errors.WithMessagef(err, "synchronizing gradients")
		}
	}
	if err = t.config.Optimizer.Step(); err != nil {
		return err
	}
	t.metrics.Add(LossMetric, batchLoss)
	return t.iterEnd(&Step{
		Iteration: iteration,
		Batch:     batch,
		Outputs:   outputs,
		Loss:      batchLoss,
		Metrics:   t.metrics,
	})
}

// Forward executes the model on the batch input, and the loss on the model outputs and the batch target.
// It returns the model outputs and the scalar loss.
func (t *Trainer) Forward(batch datasets.Batch) (outputs map[string]*tensors.Tensor, loss *tensors.Tensor, err error) {
	outputs, err = t.config.Model.Execute(map[string]*tensors.Tensor{InputName: batch.Input})
	if err != nil {
		return nil, nil, err
	}
	lossInputs := make(map[string]*tensors.Tensor, len(t.config.Loss.Inputs()))
	for name := range t.config.Loss.Inputs() {
		if name == TargetName {
			lossInputs[name] = batch.Target
		} else if value, found := outputs[name]; found {
			lossInputs[name] = value
		}
	}
	lossOutputs, err := t.config.Loss.Execute(lossInputs)
	if err != nil {
		return nil, nil, err
	}
	loss, found := lossOutputs[graph.DefaultOutput]
	if !found {
		return nil, nil, errors.Wrapf(graph.ErrMissingOutput, "loss %q has no output %q", t.config.Loss.Name(),
			graph.DefaultOutput)
	}
	if loss.Size() != 1 {
		return nil, nil, errors.Errorf("loss %q must be a scalar, got shape %s", t.config.Loss.Name(), loss.Shape())
	}
	return outputs, loss, nil
}

// Eval evaluates the model with the configured Evaluator, returning the averaged metrics.
// It fails with ErrNotImplemented if there is no Evaluator.
func (t *Trainer) Eval(token Token) (map[string]float64, error) {
	if t.config.Evaluator == nil {
		return nil, errors.Wrapf(ErrNotImplemented, "trainer %q: eval", t.config.Name)
	}
	if t.state == Running {
		return nil, errors.Wrapf(ErrAlreadyRunning, "trainer %q", t.config.Name)
	}
	if err := t.bindDevice(); err != nil {
		return nil, err
	}
	t.setTraining(false)
	results, err := t.config.Evaluator.Evaluate(t, token)
	if err != nil {
		return nil, errors.WithMessagef(err, "trainer %q: eval", t.config.Name)
	}
	if t.config.Sink != nil {
		if err = t.config.Sink.Flush(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Publish exports the model to outputDir with the configured Exporter, using the first batch of the
// train dataset as sample input. It returns the path of the exported file.
// It fails with ErrNotImplemented if there is no Exporter.
func (t *Trainer) Publish(outputDir string) (string, error) {
	if t.config.Exporter == nil {
		return "", errors.Wrapf(ErrNotImplemented, "trainer %q: publish", t.config.Name)
	}
	t.setTraining(false)
	ds, err := t.config.Data.TrainDataset()
	if err != nil {
		return "", errors.WithMessagef(err, "trainer %q: publish", t.config.Name)
	}
	batch, err := ds.Yield()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", errors.Errorf("trainer %q: publish: dataset %q is empty, no sample input", t.config.Name, ds.Name())
		}
		return "", errors.WithMessagef(err, "trainer %q: publish", t.config.Name)
	}
	path, err := t.config.Exporter.Export(t.config.Model, batch.Input, outputDir)
	if err != nil {
		return "", errors.WithMessagef(err, "trainer %q: publish", t.config.Name)
	}
	klog.Infof("model %q published to %s", t.config.Model.Name(), path)
	return path, nil
}

// MedianStepDuration returns the median duration of each training step of the current (or last) run.
// It returns 1 millisecond if no training step was recorded (to avoid potential division by 0).
func (t *Trainer) MedianStepDuration() time.Duration {
	if len(t.stepDurations) == 0 {
		// Return something different from 0 to avoid division by 0.
		return time.Millisecond
	}
	times := slices.Clone(t.stepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// NumSteps returns the number of training steps of the current (or last) run.
func (t *Trainer) NumSteps() int { return len(t.stepDurations) }
