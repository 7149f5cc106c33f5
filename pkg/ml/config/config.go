// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads the declarative description of a run from YAML: the trainer settings, the data
// provider, and the model and loss graphs.
//
// Example:
//
//	name: ImageClassification
//	epochs: 10
//	batch_size: 32
//	optimizer: adam
//	learning_rate: 0.01
//	data:
//	  kind: blobs
//	  num_classes: 3
//	  num_features: 2
//	  num_examples: 300
//	  eval_fraction: 0.2
//	model:
//	  name: Classifier
//	  nodes:
//	    - {name: hidden, kind: Linear, args: {input_channels: 2, output_channels: 8}, inputs: {x: x$}}
//	    - {name: relu, kind: ReLU, inputs: {x: x$1}}
//	    - {name: logits, kind: Linear, args: {input_channels: 8, output_channels: 3}, inputs: {x: x$2}}
//	loss:
//	  name: Loss
//	  nodes:
//	    - {name: cross_entropy, kind: CrossEntropy, args: {number_of_classes: 3}, inputs: {x: x$, y: y$}}
//
// Node ports are written "name$id", where id is the position of the producer node in the list (starting at 1),
// and "name$" refers to an input of the graph. Inputs can also be (nested) lists of ports.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/n3/pkg/ml/datasets"
	"github.com/gomlx/n3/pkg/ml/layers"
	"github.com/gomlx/n3/pkg/ml/optimizer"
	"github.com/gomlx/n3/pkg/ml/train"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for invalid run configurations.
var ErrInvalid = errors.New("invalid run configuration")

const (
	// DataBlobs selects the synthetic datasets.Blobs provider.
	DataBlobs = "blobs"

	// DataCSV selects the datasets.CSV provider.
	DataCSV = "csv"
)

// RunConfig is the declarative description of a run.
type RunConfig struct {
	// Name of the trainer.
	Name string `yaml:"name"`

	// Classification enables the accuracy metric and the evaluation of the trainer. Defaults to true.
	Classification *bool `yaml:"classification,omitempty"`

	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
	Device       string  `yaml:"device,omitempty"`
	Seed         uint64  `yaml:"seed"`

	Env   EnvConfig  `yaml:"env"`
	Data  DataConfig `yaml:"data"`
	Model GraphSpec  `yaml:"model"`
	Loss  GraphSpec  `yaml:"loss"`
}

// EnvConfig describes the process running the trainer.
type EnvConfig struct {
	ID            int    `yaml:"id"`
	Machine       string `yaml:"machine"`
	IsRoot        *bool  `yaml:"is_root,omitempty"`
	IsDistributed bool   `yaml:"is_distributed"`
	GPUID         int    `yaml:"gpu_id"`

	// Root directory of the logs. Defaults to the current directory.
	Root string `yaml:"root"`
}

// DataConfig selects and configures the data provider.
type DataConfig struct {
	// Kind is either "blobs" or "csv".
	Kind string `yaml:"kind"`

	// Blobs.
	NumClasses  int     `yaml:"num_classes,omitempty"`
	NumFeatures int     `yaml:"num_features,omitempty"`
	NumExamples int     `yaml:"num_examples,omitempty"`
	Spread      float64 `yaml:"spread,omitempty"`

	// CSV. A relative Path is relative to the configuration file.
	Path      string   `yaml:"path,omitempty"`
	Label     string   `yaml:"label,omitempty"`
	Features  []string `yaml:"features,omitempty"`
	Normalize bool     `yaml:"normalize,omitempty"`

	ValidFraction float64 `yaml:"valid_fraction"`
	EvalFraction  float64 `yaml:"eval_fraction"`
}

// Load reads and parses the YAML configuration file. It is not validated, so settings can be applied
// before calling RunConfig.Validate.
func Load(path string) (*RunConfig, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read run configuration %q", path)
	}
	cfg, err := Parse(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "run configuration %q", path)
	}
	if cfg.Data.Path != "" && !filepath.IsAbs(cfg.Data.Path) {
		cfg.Data.Path = filepath.Join(filepath.Dir(path), cfg.Data.Path)
	}
	return cfg, nil
}

// Parse the YAML configuration and fill in the defaults. Unknown fields are errors. Empty contents
// give the default configuration.
func Parse(contents []byte) (*RunConfig, error) {
	cfg := &RunConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to parse run configuration")
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *RunConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "ImageClassification"
	}
	if c.Classification == nil {
		classification := true
		c.Classification = &classification
	}
	if c.Optimizer == "" {
		c.Optimizer = "adam"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.Data.Kind == "" {
		c.Data.Kind = DataBlobs
	}
	if c.Env.Machine == "" {
		c.Env.Machine = layers.CPUDevice
	}
}

// Validate checks the required fields.
func (c *RunConfig) Validate() error {
	switch {
	case c.Epochs < 0:
		return errors.Wrapf(ErrInvalid, "epochs must be >= 0, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return errors.Wrapf(ErrInvalid, "batch_size must be > 0, got %d", c.BatchSize)
	case c.LearningRate < 0:
		return errors.Wrapf(ErrInvalid, "learning_rate must be >= 0, got %g", c.LearningRate)
	case c.Data.ValidFraction < 0 || c.Data.EvalFraction < 0 || c.Data.ValidFraction+c.Data.EvalFraction >= 1:
		return errors.Wrapf(ErrInvalid, "invalid data fractions: valid_fraction=%g, eval_fraction=%g",
			c.Data.ValidFraction, c.Data.EvalFraction)
	}
	switch c.Data.Kind {
	case DataBlobs:
		if c.Data.NumClasses < 2 || c.Data.NumFeatures < 1 || c.Data.NumExamples < c.Data.NumClasses {
			return errors.Wrapf(ErrInvalid, "blobs data requires num_classes >= 2, num_features >= 1 and "+
				"num_examples >= num_classes")
		}
	case DataCSV:
		if c.Data.Path == "" || c.Data.Label == "" {
			return errors.Wrapf(ErrInvalid, "csv data requires a path and a label column")
		}
	default:
		return errors.Wrapf(ErrInvalid, "unknown data kind %q, valid kinds are %q and %q", c.Data.Kind, DataBlobs, DataCSV)
	}
	if err := c.Model.validate("model"); err != nil {
		return err
	}
	return c.Loss.validate("loss")
}

// IsClassification returns whether the run is a classification.
func (c *RunConfig) IsClassification() bool { return c.Classification == nil || *c.Classification }

// TrainEnv returns the environment of the trainer.
func (c *RunConfig) TrainEnv() train.Env {
	isRoot := c.Env.IsRoot == nil || *c.Env.IsRoot
	return train.Env{
		ID:            c.Env.ID,
		Machine:       c.Env.Machine,
		IsRoot:        isRoot,
		IsDistributed: c.Env.IsDistributed,
		GPUID:         c.Env.GPUID,
	}
}

// NewOptimizer returns the configured optimizer, uninitialized.
func (c *RunConfig) NewOptimizer() (*optimizer.Optimizer, error) {
	algorithm, err := optimizer.ByName(c.Optimizer, c.LearningRate)
	if err != nil {
		return nil, err
	}
	return optimizer.New(algorithm), nil
}

// NewProvider loads or generates the configured data.
func (c *RunConfig) NewProvider() (datasets.Provider, error) {
	switch c.Data.Kind {
	case DataBlobs:
		split, err := datasets.Blobs(datasets.BlobsConfig{
			NumClasses:    c.Data.NumClasses,
			NumFeatures:   c.Data.NumFeatures,
			NumExamples:   c.Data.NumExamples,
			Spread:        c.Data.Spread,
			ValidFraction: c.Data.ValidFraction,
			EvalFraction:  c.Data.EvalFraction,
			BatchSize:     c.BatchSize,
			Seed:          c.Seed,
		})
		if err != nil {
			return nil, err
		}
		return split, nil
	case DataCSV:
		data, err := datasets.CSV(datasets.CSVConfig{
			Path:          c.Data.Path,
			Label:         c.Data.Label,
			Features:      c.Data.Features,
			ValidFraction: c.Data.ValidFraction,
			EvalFraction:  c.Data.EvalFraction,
			BatchSize:     c.BatchSize,
			Shuffle:       true,
			Seed:          c.Seed,
			Normalize:     c.Data.Normalize,
		})
		if err != nil {
			return nil, err
		}
		return data.Split, nil
	}
	return nil, errors.Wrapf(ErrInvalid, "unknown data kind %q", c.Data.Kind)
}
