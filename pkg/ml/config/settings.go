// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

// Params returns pointers to the fields of the configuration that can be overridden from the command line,
// keyed by their YAML path (e.g. "data.num_examples").
//
// Pointer types are *int, *uint64, *float64, *bool, *string and *[]string.
func (c *RunConfig) Params() map[string]any {
	return map[string]any{
		"name":                &c.Name,
		"epochs":              &c.Epochs,
		"batch_size":          &c.BatchSize,
		"optimizer":           &c.Optimizer,
		"learning_rate":       &c.LearningRate,
		"device":              &c.Device,
		"seed":                &c.Seed,
		"env.id":              &c.Env.ID,
		"env.machine":         &c.Env.Machine,
		"env.is_distributed":  &c.Env.IsDistributed,
		"env.gpu_id":          &c.Env.GPUID,
		"env.root":            &c.Env.Root,
		"data.kind":           &c.Data.Kind,
		"data.num_classes":    &c.Data.NumClasses,
		"data.num_features":   &c.Data.NumFeatures,
		"data.num_examples":   &c.Data.NumExamples,
		"data.spread":         &c.Data.Spread,
		"data.path":           &c.Data.Path,
		"data.label":          &c.Data.Label,
		"data.features":       &c.Data.Features,
		"data.normalize":      &c.Data.Normalize,
		"data.valid_fraction": &c.Data.ValidFraction,
		"data.eval_fraction":  &c.Data.EvalFraction,
	}
}
