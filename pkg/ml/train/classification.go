// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/ml/train/epochs"
	"github.com/gomlx/n3/pkg/ml/train/metrics"
	"github.com/pkg/errors"
)

// AccuracyMetric is the name of the accuracy metric of classification trainers.
const AccuracyMetric = "accuracy"

// ImageClassification configures the trainer for classification: the model output "x" holds the
// logits shaped [batch_size, num_classes] and the targets hold the class indices.
//
// It adds the accuracy to the metrics of each training epoch, and sets a ClassificationEvaluator.
// It returns the trainer itself.
func ImageClassification(trainer *Trainer) *Trainer {
	accuracy := metrics.NewSparseCategoricalAccuracy(AccuracyMetric, "acc")
	trainer.OnIterEnd("accuracy", 0, func(_ *Trainer, step *Step) error {
		value, err := accuracy.Update(step.Batch.Target, step.Outputs[graph.DefaultOutput])
		if err != nil {
			return err
		}
		step.Metrics.Add(accuracy.Name(), value)
		return nil
	})
	trainer.SetEvaluator(&ClassificationEvaluator{Accuracy: accuracy})
	return trainer
}

// ClassificationEvaluator evaluates the loss and the accuracy over the evaluation dataset, with the model
// in evaluation mode. It never computes gradients nor updates the parameters.
type ClassificationEvaluator struct {
	Accuracy metrics.Interface
}

// Evaluate implements Evaluator. The metrics are written to the trainer sink under the "eval" head.
// If cancelled, the metrics of the batches evaluated so far are returned.
func (e *ClassificationEvaluator) Evaluate(trainer *Trainer, token Token) (map[string]float64, error) {
	running := trainer.running(token)
	tracker, err := epochs.New(epochs.Config{
		Sink:     trainer.config.Sink,
		Head:     trainer.Head("eval"),
		Start:    0,
		End:      1,
		Progress: trainer.config.Progress,
	})
	if err != nil {
		return nil, err
	}
	accumulated := NewMetrics(LossMetric, e.Accuracy.Name())
	var results map[string]float64
	for epoch, batches := range tracker.Epochs(trainer.config.Data.EvalDataset) {
		for batch, ok := batches.Next(); ok; batch, ok = batches.Next() {
			outputs, loss, err := trainer.Forward(batch)
			if err != nil {
				return nil, errors.WithMessagef(err, "batch #%d", batches.Count()-1)
			}
			accumulated.Add(LossMetric, loss.Value())
			accuracy, err := e.Accuracy.Update(batch.Target, outputs[graph.DefaultOutput])
			if err != nil {
				return nil, err
			}
			accumulated.Add(e.Accuracy.Name(), accuracy)
			if !running() {
				break
			}
		}
		if err = tracker.Err(); err != nil {
			return nil, err
		}
		if batches.Count() == 0 {
			return nil, errors.Wrapf(epochs.ErrNoBatches, "dataset %q", batches.Dataset().Name())
		}
		for _, name := range accumulated.Names() {
			if err = epoch.Write(name, accumulated.Sum(name), true); err != nil {
				return nil, err
			}
		}
		if err = epoch.Flush(); err != nil {
			return nil, err
		}
		results = accumulated.Averages(batches.Count())
	}
	if err = tracker.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
