// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds a library of metrics computed per batch from the targets and the model predictions.
//
// The values returned for each batch are meant to be averaged over an epoch, see train.Metrics.
package metrics

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/n3/pkg/core/ops"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric, used as the tag of the values written to the logs.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "train_accuracy" and "eval_accuracy" would both have the same "accuracy" metric type,
	// and can be displayed on the same plot, sharing the Y-axis.
	MetricType() string

	// Update returns the metric for one batch, given the targets and the predictions (or logits).
	Update(targets, predictions *tensors.Tensor) (float64, error)

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string
}

const (
	// LossMetricType is the type of loss metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	LossMetricType = "loss"

	// AccuracyMetricType is the type of accuracy metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	AccuracyMetricType = "accuracy"
)

// Fn computes a metric for one batch. It may panic with exceptions.Panicf on invalid shapes,
// which Interface.Update converts to an error.
type Fn func(targets, predictions *tensors.Tensor) float64

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(value float64) string

// baseMetric implements a stateless metric.Interface.
type baseMetric struct {
	name, shortName, metricType string
	metricFn                    Fn
	pPrintFn                    PrettyPrintFn // if nil will display default.
}

func (m *baseMetric) Name() string {
	return m.name
}

func (m *baseMetric) ShortName() string {
	return m.shortName
}

func (m *baseMetric) MetricType() string {
	return m.metricType
}

func (m *baseMetric) Update(targets, predictions *tensors.Tensor) (value float64, err error) {
	err = exceptions.TryCatch[error](func() { value = m.metricFn(targets, predictions) })
	if err != nil {
		return 0, errors.WithMessagef(err, "metric %q", m.name)
	}
	return value, nil
}

func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return fmt.Sprintf("%.3g", value)
	}
	return m.pPrintFn(value)
}

// NewBaseMetric creates a stateless metric from any Fn.
// pPrintFn can be left as nil, and a default will be used.
func NewBaseMetric(name, shortName, metricType string, metricFn Fn, pPrintFn PrettyPrintFn) Interface {
	return &baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}
}

// AccuracyPrettyPrint prints the accuracy as a percentage.
func AccuracyPrettyPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", value*100.0)
}

// BinaryAccuracy is the fraction of predictions within 0.5 of the label.
// It assumes predictions are probabilities, that labels are `{0, 1}`, and that they have the same size.
// Predictions of 0.5 are considered a miss.
func BinaryAccuracy(labels, predictions *tensors.Tensor) float64 {
	if labels.Size() != predictions.Size() {
		exceptions.Panicf("prediction (%s) and label (%s) have different sizes, can't calculate binary accuracy",
			predictions.Shape(), labels.Shape())
	}
	if labels.Size() == 0 {
		return 0
	}
	var correct int
	for i, p := range predictions.Flat() {
		diff := labels.Flat()[i] - p
		if diff < 0.5 && diff > -0.5 {
			correct++
		}
	}
	return float64(correct) / float64(labels.Size())
}

// BinaryLogitsAccuracy is the fraction of logits with the sign of the label: positive for 1, negative for 0.
// Notice 0s are considered a miss.
func BinaryLogitsAccuracy(labels, logits *tensors.Tensor) float64 {
	if labels.Size() != logits.Size() {
		exceptions.Panicf("logits (%s) and labels (%s) have different sizes, can't calculate binary accuracy",
			logits.Shape(), labels.Shape())
	}
	if labels.Size() == 0 {
		return 0
	}
	var correct int
	for i, logit := range logits.Flat() {
		if logit*(labels.Flat()[i]-0.5) > 0 {
			correct++
		}
	}
	return float64(correct) / float64(labels.Size())
}

// SparseCategoricalAccuracy returns the accuracy -- fraction of times argmax(logits)
// is the true label. It works for both probabilities or logits.
//
// Logits are shaped `[batch_size, num_classes]`, and labels `[batch_size]` or `[batch_size, 1]`, holding
// the class indices.
func SparseCategoricalAccuracy(labels, logits *tensors.Tensor) float64 {
	if logits.Shape().Rank() != 2 {
		exceptions.Panicf("logits (%s) must be shaped [batch_size, num_classes]", logits.Shape())
	}
	batchSize := logits.Shape().Dim(0)
	if labels.Size() != batchSize {
		exceptions.Panicf("labels (%s) must have one class per example of logits (%s)", labels.Shape(), logits.Shape())
	}
	if batchSize == 0 {
		return 0
	}
	choices := ops.ArgMax(logits)
	var correct int
	for i := range batchSize {
		if choices.Int(i) == labels.Int(i) {
			correct++
		}
	}
	return float64(correct) / float64(batchSize)
}

// NewBinaryAccuracy returns a new binary accuracy metric with the given names.
func NewBinaryAccuracy(name, shortName string) Interface {
	return NewBaseMetric(name, shortName, AccuracyMetricType, BinaryAccuracy, AccuracyPrettyPrint)
}

// NewBinaryLogitsAccuracy returns a new binary accuracy metric over logits with the given names.
func NewBinaryLogitsAccuracy(name, shortName string) Interface {
	return NewBaseMetric(name, shortName, AccuracyMetricType, BinaryLogitsAccuracy, AccuracyPrettyPrint)
}

// NewSparseCategoricalAccuracy returns a new sparse categorical accuracy metric with the given names.
func NewSparseCategoricalAccuracy(name, shortName string) Interface {
	return NewBaseMetric(name, shortName, AccuracyMetricType, SparseCategoricalAccuracy, AccuracyPrettyPrint)
}
