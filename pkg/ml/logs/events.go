// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gomlx/n3/ui/plots"
	"github.com/pascaldekloe/name"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LogsDir is the subdirectory of the root directory where event directories are created.
const LogsDir = "logs"

// EventWriterConfig configures NewEventWriter.
type EventWriterConfig struct {
	// Root directory of the environment. Events are saved under Root/logs/<exec>/<model>/exp<N>.
	Root string

	// Exec and Model names, converted to snake case for the directory names.
	Exec, Model string

	// Plots enables saving one PNG plot per metric type on Close.
	Plots bool
}

// EventWriter is a Sink that appends the metrics, as plots.Point JSON lines, to a new experiment
// directory. It is safe for concurrent use.
type EventWriter struct {
	config EventWriterConfig
	dir    string

	mu     sync.Mutex
	writer *plots.PointsWriter
}

var _ Sink = (*EventWriter)(nil)

// SnakeCase converts names like "ImageClassification" to "image_classification".
func SnakeCase(s string) string {
	return name.SnakeCase(s)
}

// NewEventWriter creates the next experiment directory exp<N>, where N is the number of experiment
// directories already present.
func NewEventWriter(config EventWriterConfig) (*EventWriter, error) {
	if config.Root == "" || config.Exec == "" || config.Model == "" {
		return nil, errors.Errorf("EventWriter requires root, exec and model names, got %+v", config)
	}
	base := filepath.Join(config.Root, LogsDir, SnakeCase(config.Exec), SnakeCase(config.Model))
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating events directory %q", base)
	}
	dir, err := nextExperimentDir(base)
	if err != nil {
		return nil, err
	}
	writer, err := plots.CreatePointsWriter(filepath.Join(dir, plots.PointsFileName))
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("writing events to %q", dir)
	return &EventWriter{config: config, dir: dir, writer: writer}, nil
}

// nextExperimentDir creates base/exp<N>, counting the existing experiment directories.
func nextExperimentDir(base string) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", errors.Wrapf(err, "listing events directory %q", base)
	}
	var count int
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "exp") {
			count++
		}
	}
	for {
		dir := filepath.Join(base, fmt.Sprintf("exp%d", count))
		err = os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", errors.Wrapf(err, "creating experiment directory %q", dir)
		}
		count++
	}
}

// Dir returns the experiment directory.
func (w *EventWriter) Dir() string { return w.dir }

// PointsPath returns the path of the file with the points written.
func (w *EventWriter) PointsPath() string { return filepath.Join(w.dir, plots.PointsFileName) }

// Write implements Sink.
func (w *EventWriter) Write(tag string, value float64, step int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return errors.Errorf("EventWriter(%q) already closed", w.dir)
	}
	return w.writer.Write(plots.NewPoint(tag, float64(step), value))
}

// Flush implements Sink.
func (w *EventWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return nil
	}
	return w.writer.Flush()
}

// Close implements Sink. If configured, it also saves the plots of all metrics written.
func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return nil
	}
	err := w.writer.Close()
	w.writer = nil
	if err != nil || !w.config.Plots {
		return err
	}
	points, err := plots.LoadPoints(w.PointsPath())
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	paths, err := plots.SavePNGs(plots.NewPoints(points), w.dir)
	if err != nil {
		return err
	}
	klog.V(1).Infof("saved plots %v", paths)
	return nil
}
