// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// SavePNGs renders one line plot per metric type (e.g. "loss", "accuracy") into dir, with one line
// per metric of that type. It returns the paths of the files created.
func SavePNGs(points Points, dir string) ([]string, error) {
	byType := make(map[string][]string)
	var types []string
	for _, name := range points.MetricsNames() {
		series := points.Series(name)
		metricType := series[0].MetricType
		if _, found := byType[metricType]; !found {
			types = append(types, metricType)
		}
		byType[metricType] = append(byType[metricType], name)
	}

	var paths []string
	for _, metricType := range types {
		p := plot.New()
		p.Title.Text = metricType
		p.X.Label.Text = "step"
		p.Y.Label.Text = metricType
		p.Add(plotter.NewGrid())
		for i, name := range byType[metricType] {
			series := points.Series(name)
			xys := make(plotter.XYs, len(series))
			for j, pt := range series {
				xys[j].X, xys[j].Y = pt.Step, pt.Value
			}
			line, err := plotter.NewLine(xys)
			if err != nil {
				return paths, errors.Wrapf(err, "plotting %q", name)
			}
			line.Color = plotutil.Color(i)
			p.Add(line)
			p.Legend.Add(name, line)
		}
		path := filepath.Join(dir, strings.ReplaceAll(metricType, "/", "_")+".png")
		if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
			return paths, errors.Wrapf(err, "saving plot %q", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
