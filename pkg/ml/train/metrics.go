// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"strings"
)

// LossMetric is the name of the metric holding the loss, always present.
const LossMetric = "loss"

// Metrics accumulates the per-batch values of named metrics over an epoch, preserving the order in
// which the metrics were first added.
type Metrics struct {
	names []string
	sums  map[string]float64
}

// NewMetrics returns an accumulator with the given metrics set to zero.
func NewMetrics(names ...string) *Metrics {
	m := &Metrics{sums: make(map[string]float64)}
	for _, name := range names {
		m.Add(name, 0)
	}
	return m
}

// Add value to the metric, creating it if needed.
func (m *Metrics) Add(name string, value float64) {
	if _, found := m.sums[name]; !found {
		m.names = append(m.names, name)
	}
	m.sums[name] += value
}

// Names of the metrics, in the order they were first added.
func (m *Metrics) Names() []string { return m.names }

// Sum of the values added to the metric.
func (m *Metrics) Sum(name string) float64 { return m.sums[name] }

// Reset the sums to zero, keeping the metrics.
func (m *Metrics) Reset() {
	for name := range m.sums {
		m.sums[name] = 0
	}
}

// Averages returns the sums divided by numBatches. It returns nil if numBatches is 0.
func (m *Metrics) Averages(numBatches int) map[string]float64 {
	if numBatches == 0 {
		return nil
	}
	averages := make(map[string]float64, len(m.sums))
	for name, sum := range m.sums {
		averages[name] = sum / float64(numBatches)
	}
	return averages
}

// String implements fmt.Stringer, with the sums.
func (m *Metrics) String() string {
	parts := make([]string, 0, len(m.names))
	for _, name := range m.names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, m.sums[name]))
	}
	return strings.Join(parts, ", ")
}
