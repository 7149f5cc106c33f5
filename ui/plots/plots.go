// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots defines the Point recorded for each metric during training, how they are saved and
// loaded (JSON lines), and how they are rendered as tables and PNG line plots.
package plots

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PointsFileName is the default file name within an events directory to store
// plot points collected during training.
const PointsFileName = "points.jsonl"

// Point represents a training plot point. It is used to save/load plots.
type Point struct {
	// MetricName of this point, usually a tag like "train/image_classification/loss".
	MetricName string

	// MetricType typically will be "loss", "accuracy".
	// It's used in plotting to aggregate similar metric types in the same plot.
	MetricType string

	// Step this metric was measured, usually the epoch.
	Step float64

	// Value is the metric captured.
	Value float64
}

// NewPoint creates a Point for the metric tag, using its last path element as the metric type.
func NewPoint(tag string, step, value float64) Point {
	metricType := tag
	if idx := strings.LastIndexByte(tag, '/'); idx >= 0 {
		metricType = tag[idx+1:]
	}
	return Point{MetricName: tag, MetricType: metricType, Step: step, Value: value}
}

// LoadPoints parses all plot points saved in the given file.
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read points file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding points file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// PointsWriter appends points to a file, one JSON object per line.
type PointsWriter struct {
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// CreatePointsWriter opens (or creates) the file to append points to it.
func CreatePointsWriter(filePath string) (*PointsWriter, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open points file %q for append", filePath)
	}
	buf := bufio.NewWriter(f)
	return &PointsWriter{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write one point. It may be buffered until Flush or Close.
func (w *PointsWriter) Write(point Point) error {
	if err := w.enc.Encode(point); err != nil {
		return errors.Wrapf(err, "failed to encode point %v", point)
	}
	return nil
}

// Flush the buffered points to the file.
func (w *PointsWriter) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return errors.Wrapf(err, "flushing points file %q", w.f.Name())
	}
	return nil
}

// Close flushes and closes the file.
func (w *PointsWriter) Close() error {
	err := w.Flush()
	if closeErr := w.f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "closing points file %q", w.f.Name())
	}
	if err != nil {
		klog.Errorf("Error: %v", err)
	}
	return err
}

// Points is a collection of Point objects organized by their Step value.
// It's a `map[float64][]Point` with several utility methods.
type Points map[float64][]Point

// NewPoints create a Points object from a collection of individual `Point`.
//
// See LoadPoints if you want to read `rawPoints` from a file.
func NewPoints(rawPoints []Point) (points Points) {
	points = make(map[float64][]Point)
	for _, p := range rawPoints {
		points[p.Step] = append(points[p.Step], p)
	}
	return points
}

// Map executes the given function on all individual points, in `Step` order.
// Note that if `p.Step` change, it is not re-index.
func (points Points) Map(fn func(p *Point)) {
	for _, step := range slices.Sorted(maps.Keys(points)) {
		stepPoints := points[step]
		for ii := range stepPoints {
			fn(&stepPoints[ii])
		}
	}
}

// Filter only keeps those points for which `fn` returns true, removing the other ones.
func (points Points) Filter(fn func(p Point) bool) {
	for _, step := range slices.Sorted(maps.Keys(points)) {
		stepPoints := points[step]
		newStepPoints := make([]Point, 0, len(stepPoints))
		for _, pt := range stepPoints {
			if fn(pt) {
				newStepPoints = append(newStepPoints, pt)
			}
		}
		if len(newStepPoints) == len(stepPoints) {
			continue // Nothing filtered.
		}
		if len(newStepPoints) == 0 {
			delete(points, step)
		} else {
			points[step] = newStepPoints
		}
	}
}

// Extract converts the Points structure back to a list of individual points.
// The output is sorted by Point.Step.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) {
		rawPoints = append(rawPoints, *p)
	})
	return
}

// MetricsNames return the list of metrics names in the whole collection, sorted alphabetically by their type and
// then by their name.
func (points Points) MetricsNames() []string {
	nameToType := make(map[string]string)
	points.Map(func(p *Point) {
		nameToType[p.MetricName] = p.MetricType
	})
	names := slices.Sorted(maps.Keys(nameToType))
	sort.SliceStable(names, func(i, j int) bool {
		return nameToType[names[i]] < nameToType[names[j]]
	})
	return names
}

// Series returns the points of the metric, sorted by step.
func (points Points) Series(metric string) []Point {
	var series []Point
	points.Map(func(p *Point) {
		if p.MetricName == metric {
			series = append(series, *p)
		}
	})
	return series
}

// TableForMetrics returns a table with the first column being the `Step` followed
// by the columns given by the `metrics` names.
// If `metrics` is empty, it will include all metrics in the table.
func (points Points) TableForMetrics(metrics ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	if len(metrics) == 0 {
		metrics = points.MetricsNames()
	}
	headers := []string{"Step"}
	headers = append(headers, metrics...)
	table.Headers(headers...)

	for _, step := range slices.Sorted(maps.Keys(points)) {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%.0f", step)
		for _, pt := range points[step] {
			idx := slices.Index(metrics, pt.MetricName)
			if idx != -1 {
				row[idx+1] = fmt.Sprintf("%f", pt.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForMetrics()
}
