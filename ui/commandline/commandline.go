// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/gomlx/n3/pkg/ml/train"
	"github.com/gomlx/n3/pkg/ml/train/metrics"
)

// ReportEval reports on the command line the results of evaluating the trainer with trainer.Eval.
// It returns the metrics evaluated.
func ReportEval(w io.Writer, trainer *train.Trainer, token train.Token) (map[string]float64, error) {
	results, err := trainer.Eval(token)
	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(w, "Results of %q on the evaluation dataset:\n", trainer.Name())
	for _, name := range slices.Sorted(maps.Keys(results)) {
		_, _ = fmt.Fprintf(w, "\t%s: %s\n", name, PrettyPrint(name, results[name]))
	}
	return results, nil
}

// PrettyPrint formats the value of the metric: accuracy as a percentage, other metrics with 4 significant digits.
func PrettyPrint(metric string, value float64) string {
	if metric == train.AccuracyMetric {
		return metrics.AccuracyPrettyPrint(value)
	}
	return fmt.Sprintf("%.4g", value)
}
