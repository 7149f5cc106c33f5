// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/n3/pkg/core/graph/inspect"
	"github.com/gomlx/n3/pkg/ml/config"
	"github.com/gomlx/n3/pkg/ml/export"
	"github.com/gomlx/n3/pkg/ml/layers"
	"github.com/gomlx/n3/pkg/ml/logs"
	"github.com/gomlx/n3/pkg/ml/train"
	"github.com/gomlx/n3/ui/commandline"
	"github.com/gomlx/n3/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type options struct {
	configPath, settings string
	train, eval          bool
	publishDir           string
	float16, plots       bool
	describe, quiet      bool
	token                train.Token
	out                  io.Writer
}

// result of a run, used for reporting.
type result struct {
	trainer   *train.Trainer
	eval      map[string]float64
	published string
	eventsDir string
}

func run(opts options) error {
	_, err := runTrainer(opts)
	return err
}

func runTrainer(opts options) (*result, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	paramsSet, err := commandline.ParseSettings(cfg.Params(), opts.settings)
	if err != nil {
		return nil, err
	}
	if len(paramsSet) > 0 {
		klog.Infof("Settings:\n%s", commandline.SprintModifiedSettings(cfg.Params(), paramsSet))
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	registry := layers.NewRegistry(cfg.Seed)
	model, err := config.BuildGraph(&cfg.Model, registry)
	if err != nil {
		return nil, errors.WithMessage(err, "building model")
	}
	loss, err := config.BuildGraph(&cfg.Loss, registry)
	if err != nil {
		return nil, errors.WithMessage(err, "building loss")
	}
	if opts.describe {
		_, _ = fmt.Fprintf(opts.out, "%s\nParameters: %s\n", inspect.Describe(model),
			humanize.Comma(int64(inspect.NumParameters(model))))
	}
	provider, err := cfg.NewProvider()
	if err != nil {
		return nil, err
	}
	opt, err := cfg.NewOptimizer()
	if err != nil {
		return nil, err
	}

	env := cfg.TrainEnv()
	res := &result{}
	var sink logs.Sink = logs.KlogSink{Level: 1}
	var events *logs.EventWriter
	if env.IsRoot {
		root := cfg.Env.Root
		if root == "" {
			root = "."
		}
		events, err = logs.NewEventWriter(logs.EventWriterConfig{
			Root:  root,
			Exec:  cfg.Name,
			Model: model.Name(),
			Plots: opts.plots,
		})
		if err != nil {
			return nil, err
		}
		res.eventsDir = events.Dir()
		sink = logs.Multi(events, sink)
	}
	defer func() {
		if sink != nil {
			if closeErr := sink.Close(); closeErr != nil {
				klog.Errorf("closing metrics: %+v", closeErr)
			}
		}
	}()

	controller := train.NewLocalController(opts.token)
	trainer, err := train.New(train.Config{
		Name:       cfg.Name,
		Model:      model,
		Loss:       loss,
		Optimizer:  opt,
		Data:       provider,
		Epochs:     cfg.Epochs,
		Device:     cfg.Device,
		Env:        env,
		Sink:       sink,
		Controller: controller,
		Exporter:   export.JSONExporter{Float16: opts.float16},
	})
	if err != nil {
		return nil, err
	}
	res.trainer = trainer
	if cfg.IsClassification() {
		train.ImageClassification(trainer)
	}
	if !opts.quiet {
		commandline.AttachProgressBar(trainer)
	}

	if opts.train {
		if err = trainer.Train(controller); err != nil {
			return nil, err
		}
		_, _ = fmt.Fprintln(opts.out, summary(trainer))
	}
	if opts.eval && cfg.IsClassification() && trainer.State() != train.Cancelled {
		if res.eval, err = commandline.ReportEval(opts.out, trainer, opts.token); err != nil {
			return nil, err
		}
	}
	if opts.publishDir != "" && env.IsRoot {
		if res.published, err = trainer.Publish(opts.publishDir); err != nil {
			return nil, err
		}
		_, _ = fmt.Fprintf(opts.out, "Model published to %q\n", res.published)
	}

	if events != nil {
		err = sink.Close()
		sink = nil
		if err != nil {
			return nil, err
		}
		points, err := plots.LoadPoints(events.PointsPath())
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			_, _ = fmt.Fprintf(opts.out, "Metrics saved in %q:\n%s\n", events.Dir(), plots.NewPoints(points))
		}
	}
	return res, nil
}

var (
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

// summary of the training as a table.
func summary(trainer *train.Trainer) string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
	table.Row("Trainer", trainer.Name())
	table.Row("State", trainer.State().String())
	table.Row("Epochs", humanize.Comma(int64(trainer.Epoch())))
	table.Row("Steps", humanize.Comma(int64(trainer.NumSteps())))
	table.Row("Median step duration", commandline.FormatDuration(trainer.MedianStepDuration()))
	table.Row("Elapsed", commandline.FormatDuration(trainer.Elapsed().Round(time.Millisecond)))
	return table.String()
}
