// Package hyper defines the ConvLSTM architecture search space and the
// immutable configuration records sampled from it.
//
// A Config names every architectural choice explicitly: one mandatory
// ConvLSTM layer plus 1–3 additional ones (each with its own filter count,
// kernel height, kernel width and activation), the dropout rate in front of
// the output unit, and the optimizer. Configs are validated against the Space
// they were drawn from before any model is built.
//
// For the Bayesian surrogate every hyperparameter is encoded into [0, 1] as
// the centre of its choice bucket, (index+0.5)/len(choices). Vectors always
// have MaxLayers layer slots; slots beyond the active layer count encode as
// the first choice of each field so the dimension never changes.
package hyper

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Activation is a ConvLSTM layer activation.
type Activation string

const (
	ReLU Activation = "relu"
	Tanh Activation = "tanh"
)

// Optimizer is a gradient-descent update rule.
type Optimizer string

const (
	Adam    Optimizer = "adam"
	RMSprop Optimizer = "rmsprop"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid hyperparameter configuration")

// LayerConfig holds the choices for one ConvLSTM layer.
type LayerConfig struct {
	Filters    int        `json:"filters"`
	KernelH    int        `json:"kernel_h"`
	KernelW    int        `json:"kernel_w"`
	Activation Activation `json:"activation"`
}

// Config is one point of the search space. Layers[0] is the mandatory input
// layer; Layers[1:] are the additional layers.
type Config struct {
	Layers      []LayerConfig `json:"layers"`
	DropoutRate float64       `json:"dropout_rate"`
	Optimizer   Optimizer     `json:"optimizer"`
}

// ExtraLayers returns the number of layers after the mandatory one.
func (c Config) ExtraLayers() int {
	return len(c.Layers) - 1
}

// Clone returns a copy that shares no memory with c.
func (c Config) Clone() Config {
	c.Layers = slices.Clone(c.Layers)
	return c
}

// Key returns a canonical string identifying the configuration.
func (c Config) Key() string {
	var b strings.Builder
	for i, l := range c.Layers {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%d/%dx%d/%s", l.Filters, l.KernelH, l.KernelW, l.Activation)
	}
	fmt.Fprintf(&b, "|d=%g|%s", c.DropoutRate, c.Optimizer)
	return b.String()
}

// String is Key.
func (c Config) String() string {
	return c.Key()
}

// Param is one named hyperparameter value, used for reporting.
type Param struct {
	Name  string
	Value any
}

// Params lists the active hyperparameters in a stable order. Names follow the
// original model-building function: input_* for the mandatory layer, n_layers
// for the additional-layer count, conv_<i>_* for additional layer i.
func (c Config) Params() []Param {
	params := make([]Param, 0, 4*len(c.Layers)+3)
	for i, l := range c.Layers {
		prefix := "input"
		if i > 0 {
			prefix = fmt.Sprintf("conv_%d", i-1)
		}
		params = append(params,
			Param{Name: prefix + "_filters", Value: l.Filters},
			Param{Name: prefix + "_kernel_h", Value: l.KernelH},
			Param{Name: prefix + "_kernel_w", Value: l.KernelW},
			Param{Name: prefix + "_activation", Value: string(l.Activation)},
		)
		if i == 0 {
			params = append(params, Param{Name: "n_layers", Value: c.ExtraLayers()})
		}
	}
	params = append(params,
		Param{Name: "dropout_rate", Value: c.DropoutRate},
		Param{Name: "optimizer", Value: string(c.Optimizer)},
	)
	return params
}

// ParamMap returns Params as a map, convenient for JSON encoding.
func (c Config) ParamMap() map[string]any {
	m := make(map[string]any)
	for _, p := range c.Params() {
		m[p.Name] = p.Value
	}
	return m
}

// Validate checks every field against the legal choices of s.
func (c Config) Validate(s Space) error {
	extra := c.ExtraLayers()
	if extra < s.MinExtraLayers || extra > s.MaxExtraLayers {
		return fmt.Errorf("%w: %d additional layers, want %d-%d",
			ErrInvalidConfig, extra, s.MinExtraLayers, s.MaxExtraLayers)
	}
	for i, l := range c.Layers {
		if !slices.Contains(s.Filters, l.Filters) {
			return fmt.Errorf("%w: layer %d filters %d not in %v", ErrInvalidConfig, i, l.Filters, s.Filters)
		}
		if !slices.Contains(s.KernelSizes, l.KernelH) || !slices.Contains(s.KernelSizes, l.KernelW) {
			return fmt.Errorf("%w: layer %d kernel %dx%d not in %v",
				ErrInvalidConfig, i, l.KernelH, l.KernelW, s.KernelSizes)
		}
		if !slices.Contains(s.Activations, l.Activation) {
			return fmt.Errorf("%w: layer %d activation %q not in %v",
				ErrInvalidConfig, i, l.Activation, s.Activations)
		}
	}
	if s.dropoutIndex(c.DropoutRate) < 0 {
		return fmt.Errorf("%w: dropout rate %v not in %v", ErrInvalidConfig, c.DropoutRate, s.DropoutRates())
	}
	if !slices.Contains(s.Optimizers, c.Optimizer) {
		return fmt.Errorf("%w: optimizer %q not in %v", ErrInvalidConfig, c.Optimizer, s.Optimizers)
	}
	return nil
}
