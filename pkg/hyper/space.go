package hyper

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Space enumerates the legal values of every hyperparameter.
type Space struct {
	Filters        []int
	KernelSizes    []int
	Activations    []Activation
	MinExtraLayers int
	MaxExtraLayers int
	DropoutMin     float64
	DropoutMax     float64
	DropoutStep    float64
	Optimizers     []Optimizer
}

// DefaultSpace returns the architecture space of the earthquake classifier:
// filters 32–128 step 32, kernels 2–4, relu or tanh, 1–3 additional layers,
// dropout 0–0.5 step 0.1, adam or rmsprop.
func DefaultSpace() Space {
	return Space{
		Filters:        []int{32, 64, 96, 128},
		KernelSizes:    []int{2, 3, 4},
		Activations:    []Activation{ReLU, Tanh},
		MinExtraLayers: 1,
		MaxExtraLayers: 3,
		DropoutMin:     0,
		DropoutMax:     0.5,
		DropoutStep:    0.1,
		Optimizers:     []Optimizer{Adam, RMSprop},
	}
}

// Validate checks that every field has at least one legal value.
func (s Space) Validate() error {
	switch {
	case len(s.Filters) == 0:
		return errors.New("space: no filter choices")
	case len(s.KernelSizes) == 0:
		return errors.New("space: no kernel size choices")
	case len(s.Activations) == 0:
		return errors.New("space: no activation choices")
	case len(s.Optimizers) == 0:
		return errors.New("space: no optimizer choices")
	case s.MinExtraLayers < 0 || s.MaxExtraLayers < s.MinExtraLayers:
		return fmt.Errorf("space: invalid additional layer range %d-%d", s.MinExtraLayers, s.MaxExtraLayers)
	case s.DropoutMin < 0 || s.DropoutMax >= 1 || s.DropoutMax < s.DropoutMin:
		return fmt.Errorf("space: invalid dropout range %v-%v", s.DropoutMin, s.DropoutMax)
	case s.DropoutStep < 0 || (s.DropoutStep == 0 && s.DropoutMax != s.DropoutMin):
		return fmt.Errorf("space: invalid dropout step %v", s.DropoutStep)
	}
	for _, f := range s.Filters {
		if f <= 0 {
			return fmt.Errorf("space: filter count %d must be > 0", f)
		}
	}
	for _, k := range s.KernelSizes {
		if k <= 0 {
			return fmt.Errorf("space: kernel size %d must be > 0", k)
		}
	}
	return nil
}

// MaxLayers is the largest layer count a config can have.
func (s Space) MaxLayers() int {
	return 1 + s.MaxExtraLayers
}

// DropoutRates lists the legal dropout values, rounded to six decimals.
func (s Space) DropoutRates() []float64 {
	if s.DropoutStep == 0 {
		return []float64{s.DropoutMin}
	}
	n := int(math.Floor((s.DropoutMax-s.DropoutMin)/s.DropoutStep+1e-9)) + 1
	rates := make([]float64, n)
	for i := range rates {
		rates[i] = math.Round((s.DropoutMin+float64(i)*s.DropoutStep)*1e6) / 1e6
	}
	return rates
}

func (s Space) dropoutIndex(v float64) int {
	for i, r := range s.DropoutRates() {
		if math.Abs(r-v) < 1e-9 {
			return i
		}
	}
	return -1
}

// Combinations returns the number of distinct configs in the space.
func (s Space) Combinations() float64 {
	perLayer := float64(len(s.Filters) * len(s.KernelSizes) * len(s.KernelSizes) * len(s.Activations))
	var total float64
	for extra := s.MinExtraLayers; extra <= s.MaxExtraLayers; extra++ {
		total += math.Pow(perLayer, float64(1+extra))
	}
	return total * float64(len(s.DropoutRates())*len(s.Optimizers))
}

// Dim is the length of an encoded vector: the additional-layer count, four
// fields per layer slot, dropout and optimizer.
func (s Space) Dim() int {
	return 1 + 4*s.MaxLayers() + 2
}

func bucket(index, n int) float64 {
	return (float64(index) + 0.5) / float64(n)
}

func unbucket(u float64, n int) int {
	i := int(math.Floor(u * float64(n)))
	return min(max(i, 0), n-1)
}

// Encode maps c to a point of [0, 1]^Dim. c must be valid for s.
func (s Space) Encode(c Config) []float64 {
	v := make([]float64, 0, s.Dim())
	extraChoices := s.MaxExtraLayers - s.MinExtraLayers + 1
	v = append(v, bucket(c.ExtraLayers()-s.MinExtraLayers, extraChoices))

	for slot := range s.MaxLayers() {
		l := LayerConfig{Filters: s.Filters[0], KernelH: s.KernelSizes[0], KernelW: s.KernelSizes[0], Activation: s.Activations[0]}
		if slot < len(c.Layers) {
			l = c.Layers[slot]
		}
		v = append(v,
			bucket(max(slices.Index(s.Filters, l.Filters), 0), len(s.Filters)),
			bucket(max(slices.Index(s.KernelSizes, l.KernelH), 0), len(s.KernelSizes)),
			bucket(max(slices.Index(s.KernelSizes, l.KernelW), 0), len(s.KernelSizes)),
			bucket(max(slices.Index(s.Activations, l.Activation), 0), len(s.Activations)),
		)
	}

	rates := s.DropoutRates()
	v = append(v,
		bucket(max(s.dropoutIndex(c.DropoutRate), 0), len(rates)),
		bucket(max(slices.Index(s.Optimizers, c.Optimizer), 0), len(s.Optimizers)),
	)
	return v
}

// Decode maps a point of [0, 1]^Dim back to a config. Values outside [0, 1]
// are clamped to the nearest bucket.
//
// Panics if len(u) != s.Dim().
func (s Space) Decode(u []float64) Config {
	if len(u) != s.Dim() {
		panic(fmt.Sprintf("hyper: decode vector has length %d, want %d", len(u), s.Dim()))
	}
	extraChoices := s.MaxExtraLayers - s.MinExtraLayers + 1
	extra := s.MinExtraLayers + unbucket(u[0], extraChoices)

	layers := make([]LayerConfig, 1+extra)
	for i := range layers {
		o := 1 + 4*i
		layers[i] = LayerConfig{
			Filters:    s.Filters[unbucket(u[o], len(s.Filters))],
			KernelH:    s.KernelSizes[unbucket(u[o+1], len(s.KernelSizes))],
			KernelW:    s.KernelSizes[unbucket(u[o+2], len(s.KernelSizes))],
			Activation: s.Activations[unbucket(u[o+3], len(s.Activations))],
		}
	}

	tail := 1 + 4*s.MaxLayers()
	rates := s.DropoutRates()
	return Config{
		Layers:      layers,
		DropoutRate: rates[unbucket(u[tail], len(rates))],
		Optimizer:   s.Optimizers[unbucket(u[tail+1], len(s.Optimizers))],
	}
}

// Sample draws a config uniformly at random.
func (s Space) Sample(rng *rand.Rand) Config {
	u := make([]float64, s.Dim())
	for i := range u {
		u[i] = rng.Float64()
	}
	return s.Decode(u)
}
