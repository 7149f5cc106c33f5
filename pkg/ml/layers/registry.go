// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math/rand/v2"
	"slices"

	"github.com/gomlx/n3/pkg/core/graph"
	"github.com/gomlx/n3/pkg/ml/initializer"
	"github.com/pkg/errors"
)

// ErrUnknownKind is returned by Registry.New for kinds not registered.
var ErrUnknownKind = errors.New("unknown layer kind")

// Args are the arguments of a layer in a declarative configuration, as decoded from YAML.
type Args map[string]any

// Int returns the integer argument with the given key, or defaultValue if it is not set.
func (a Args) Int(key string, defaultValue int) (int, error) {
	value, found := a[key]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidConfig, "argument %q=%v (%T) is not an integer", key, value, value)
}

// Float returns the float argument with the given key, or defaultValue if it is not set.
func (a Args) Float(key string, defaultValue float64) (float64, error) {
	value, found := a[key]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, errors.Wrapf(ErrInvalidConfig, "argument %q=%v (%T) is not a number", key, value, value)
}

// Bool returns the boolean argument with the given key, or defaultValue if it is not set.
func (a Args) Bool(key string, defaultValue bool) (bool, error) {
	value, found := a[key]
	if !found {
		return defaultValue, nil
	}
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return false, errors.Wrapf(ErrInvalidConfig, "argument %q=%v (%T) is not a boolean", key, value, value)
}

// String returns the string argument with the given key, or defaultValue if it is not set.
func (a Args) String(key string, defaultValue string) (string, error) {
	value, found := a[key]
	if !found {
		return defaultValue, nil
	}
	if v, ok := value.(string); ok {
		return v, nil
	}
	return "", errors.Wrapf(ErrInvalidConfig, "argument %q=%v (%T) is not a string", key, value, value)
}

// Ints returns the list of integers argument with the given key. It is an error if it is not set.
func (a Args) Ints(key string) ([]int, error) {
	value, found := a[key]
	if !found {
		return nil, errors.Wrapf(ErrInvalidConfig, "argument %q is required", key)
	}
	switch v := value.(type) {
	case []int:
		return slices.Clone(v), nil
	case []any:
		ints := make([]int, len(v))
		for i, item := range v {
			var err error
			ints[i], err = Args{key: item}.Int(key, 0)
			if err != nil {
				return nil, err
			}
		}
		return ints, nil
	}
	return nil, errors.Wrapf(ErrInvalidConfig, "argument %q=%v (%T) is not a list of integers", key, value, value)
}

// Constructor creates a layer from its arguments. The random number generator is shared by all
// layers created by a Registry.
type Constructor func(args Args, rng *rand.Rand) (graph.Executable, error)

// Registry maps layer kinds to their constructors.
type Registry struct {
	constructors map[string]Constructor
	rng          *rand.Rand
}

// NewRegistry returns a registry with the standard layers, using the seed to initialize parameters.
func NewRegistry(seed uint64) *Registry {
	r := &Registry{
		constructors: make(map[string]Constructor),
		rng:          rand.New(rand.NewPCG(seed, seed)),
	}
	r.Register("Linear", newLinearFromArgs)
	r.Register("ReLU", func(Args, *rand.Rand) (graph.Executable, error) { return ReLU{}, nil })
	r.Register("Softmax", func(Args, *rand.Rand) (graph.Executable, error) { return Softmax{}, nil })
	r.Register("Dropout", func(args Args, rng *rand.Rand) (graph.Executable, error) {
		probability, err := args.Float("probability", 0.5)
		if err != nil {
			return nil, err
		}
		return NewDropout(probability, rng)
	})
	r.Register("ToLinear", func(Args, *rand.Rand) (graph.Executable, error) { return ToLinear{}, nil })
	r.Register("Transform", func(args Args, _ *rand.Rand) (graph.Executable, error) {
		dims, err := args.Ints("dims")
		if err != nil {
			return nil, err
		}
		return NewTransform(dims...)
	})
	r.Register("Concat", func(args Args, _ *rand.Rand) (graph.Executable, error) {
		axis, err := args.Int("axis", 0)
		if err != nil {
			return nil, err
		}
		return NewConcat(axis), nil
	})
	r.Register("CrossEntropy", func(args Args, _ *rand.Rand) (graph.Executable, error) {
		numberOfClasses, err := args.Int("number_of_classes", 0)
		if err != nil {
			return nil, err
		}
		return NewCrossEntropy(numberOfClasses)
	})
	return r
}

func newLinearFromArgs(args Args, rng *rand.Rand) (graph.Executable, error) {
	var config LinearConfig
	var err error
	if config.InputChannels, err = args.Int("input_channels", 0); err != nil {
		return nil, err
	}
	if config.OutputChannels, err = args.Int("output_channels", 0); err != nil {
		return nil, err
	}
	if config.Bias, err = args.Bool("bias", true); err != nil {
		return nil, err
	}
	initName, err := args.String("initializer", "xavier_uniform")
	if err != nil {
		return nil, err
	}
	if config.Initializer = initializer.ByName(initName, rng); config.Initializer == nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "Linear: unknown initializer %q", initName)
	}
	return NewLinear(config)
}

// Register a constructor for the kind, replacing any previous one.
func (r *Registry) Register(kind string, constructor Constructor) {
	r.constructors[kind] = constructor
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.constructors))
	for kind := range r.constructors {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// New creates a layer of the given kind.
func (r *Registry) New(kind string, args Args) (graph.Executable, error) {
	constructor, found := r.constructors[kind]
	if !found {
		return nil, errors.Wrapf(ErrUnknownKind, "%q (known kinds: %v)", kind, r.Kinds())
	}
	layer, err := constructor(args, r.rng)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating layer %q", kind)
	}
	return layer, nil
}
