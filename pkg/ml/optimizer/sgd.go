// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"fmt"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/pkg/errors"
)

// SGDDefaultLearningRate is used by SGD if no learning rate is configured.
const SGDDefaultLearningRate = 0.1

// SGD returns a configuration for the stochastic gradient descent optimizer, with optional momentum.
// Call Done to get the optimizer.
func SGD() *SGDConfig {
	return &SGDConfig{learningRate: SGDDefaultLearningRate}
}

// SGDConfig configures the stochastic gradient descent optimizer.
type SGDConfig struct {
	learningRate float64
	momentum     float64
}

// LearningRate sets the learning rate. It returns itself.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Momentum sets the momentum term, in [0, 1). The default is 0, no momentum. It returns itself.
func (c *SGDConfig) Momentum(value float64) *SGDConfig {
	c.momentum = value
	return c
}

// Done returns the configured optimizer.
func (c *SGDConfig) Done() Interface {
	config := *c
	return &sgd{config: config}
}

type sgd struct {
	config SGDConfig
}

func (o *sgd) Name() string {
	if o.config.momentum > 0 {
		return fmt.Sprintf("SGD(lr=%g, momentum=%g)", o.config.learningRate, o.config.momentum)
	}
	return fmt.Sprintf("SGD(lr=%g)", o.config.learningRate)
}

func (o *sgd) Init(params []graph.Parameter) (State, error) {
	if o.config.learningRate <= 0 {
		return nil, errors.Errorf("SGD learning rate must be > 0, got %g", o.config.learningRate)
	}
	if o.config.momentum < 0 || o.config.momentum >= 1 {
		return nil, errors.Errorf("SGD momentum must be in [0, 1), got %g", o.config.momentum)
	}
	params = trainable(params)
	s := &sgdState{config: o.config, params: params, velocity: make([][]float64, len(params))}
	for i, p := range params {
		s.velocity[i] = make([]float64, p.Value.Size())
	}
	return s, nil
}

type sgdState struct {
	config   SGDConfig
	params   []graph.Parameter
	velocity [][]float64
}

func (s *sgdState) ZeroGrad() { zeroGrads(s.params) }

func (s *sgdState) LearningRate() float64 { return s.config.learningRate }

func (s *sgdState) SetLearningRate(learningRate float64) { s.config.learningRate = learningRate }

func (s *sgdState) Step() error {
	for i, p := range s.params {
		grad := p.Value.Grad()
		if grad == nil {
			continue
		}
		values, velocity := p.Value.Flat(), s.velocity[i]
		for j, g := range grad {
			velocity[j] = s.config.momentum*velocity[j] + g
			values[j] -= s.config.learningRate * velocity[j]
		}
	}
	return nil
}
