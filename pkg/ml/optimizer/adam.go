// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"fmt"
	"math"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/pkg/errors"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is configured.
	AdamDefaultLearningRate = 0.001

	// AdamWDefaultWeightDecay is the weight decay used by ByName("adamw", ...).
	AdamWDefaultWeightDecay = 0.004
)

// Adam returns a configuration for the Adam optimizer, see https://arxiv.org/abs/1412.6980.
// Call Done to get the optimizer.
//
// Example:
//
//	opt := optimizer.New(optimizer.Adam().LearningRate(1e-3).WeightDecay(1e-4).Done())
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// AdamConfig configures the Adam optimizer.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	adamax       bool    // Works as Adamax.
	weightDecay  float64 // Works as AdamW.
}

// LearningRate sets the learning rate. It returns itself.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the two moving averages constants (default 0.9 and 0.999). It returns itself.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability. It returns itself.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Adamax configures the optimizer to use the L-infinity norm of the gradients for the second moment,
// making it "Adamax". It returns itself.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax = true
	return c
}

// WeightDecay configures the optimizer to work as AdamW, with the given decoupled weight decay.
// It returns itself.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// Done returns the configured optimizer.
func (c *AdamConfig) Done() Interface {
	config := *c
	return &adam{config: config}
}

type adam struct {
	config AdamConfig
}

func (o *adam) Name() string {
	name := "Adam"
	switch {
	case o.config.adamax:
		name = "Adamax"
	case o.config.weightDecay > 0:
		name = "AdamW"
	}
	return fmt.Sprintf("%s(lr=%g)", name, o.config.learningRate)
}

func (o *adam) Init(params []graph.Parameter) (State, error) {
	c := o.config
	if c.learningRate <= 0 {
		return nil, errors.Errorf("Adam learning rate must be > 0, got %g", c.learningRate)
	}
	if c.beta1 < 0 || c.beta1 >= 1 || c.beta2 < 0 || c.beta2 >= 1 {
		return nil, errors.Errorf("Adam betas must be in [0, 1), got %g and %g", c.beta1, c.beta2)
	}
	params = trainable(params)
	s := &adamState{config: c, params: params,
		moment1: make([][]float64, len(params)), moment2: make([][]float64, len(params))}
	for i, p := range params {
		s.moment1[i] = make([]float64, p.Value.Size())
		s.moment2[i] = make([]float64, p.Value.Size())
	}
	return s, nil
}

type adamState struct {
	config           AdamConfig
	params           []graph.Parameter
	moment1, moment2 [][]float64
	step             int
}

func (s *adamState) ZeroGrad() { zeroGrads(s.params) }

func (s *adamState) LearningRate() float64 { return s.config.learningRate }

func (s *adamState) SetLearningRate(learningRate float64) { s.config.learningRate = learningRate }

func (s *adamState) Step() error {
	c := s.config
	s.step++
	debiasTermBeta1 := 1 / (1 - math.Pow(c.beta1, float64(s.step)))
	debiasTermBeta2 := 1 / (1 - math.Pow(c.beta2, float64(s.step)))
	for i, p := range s.params {
		grad := p.Value.Grad()
		if grad == nil {
			continue
		}
		values, m1, m2 := p.Value.Flat(), s.moment1[i], s.moment2[i]
		for j, g := range grad {
			m1[j] = c.beta1*m1[j] + (1-c.beta1)*g
			var denominator float64
			if c.adamax {
				m2[j] = math.Max(c.beta2*m2[j], math.Abs(g)) // L-infinity norm.
				denominator = m2[j] + c.epsilon
			} else {
				m2[j] = c.beta2*m2[j] + (1-c.beta2)*g*g
				denominator = math.Sqrt(m2[j]*debiasTermBeta2) + c.epsilon
			}
			stepDirection := m1[j] * debiasTermBeta1 / denominator
			if c.weightDecay > 0 {
				stepDirection += values[j] * c.weightDecay
			}
			values[j] -= c.learningRate * stepDirection
		}
	}
	return nil
}
