package models

import (
	"math/rand/v2"
)

// flatten reshapes its input to one dimension. Data is already flat, so it
// only changes the reported shape.
type flatten struct {
	name string
	size int
}

func (l *flatten) Name() string { return l.name }
func (l *flatten) Type() string { return "Flatten" }
func (l *flatten) OutputShape() []int { return []int{l.size} }
func (l *flatten) params() []*param { return nil }
func (l *flatten) forward(x []float64, _ bool) []float64 { return x }
func (l *flatten) backward(dy []float64) []float64 { return dy }

// dropout zeroes each input with probability rate during training and scales
// the survivors by 1/(1-rate). It is the identity at inference.
type dropout struct {
	name string
	size int
	rate float64
	rng  *rand.Rand
	mask []float64
}

func (l *dropout) Name() string { return l.name }
func (l *dropout) Type() string { return "Dropout" }
func (l *dropout) OutputShape() []int { return []int{l.size} }
func (l *dropout) params() []*param { return nil }

func (l *dropout) forward(x []float64, training bool) []float64 {
	if !training || l.rate == 0 {
		l.mask = nil
		return x
	}
	keep := 1 / (1 - l.rate)
	if len(l.mask) != len(x) {
		l.mask = make([]float64, len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		if l.rng.Float64() < l.rate {
			l.mask[i] = 0
			continue
		}
		l.mask[i] = keep
		out[i] = v * keep
	}
	return out
}

func (l *dropout) backward(dy []float64) []float64 {
	if l.mask == nil {
		return dy
	}
	dx := make([]float64, len(dy))
	for i, d := range dy {
		dx[i] = d * l.mask[i]
	}
	return dx
}

// dense is a fully connected layer with a sigmoid output. Its backward pass
// expects the gradient with respect to the pre-activation logits, which for
// sigmoid followed by binary cross-entropy is simply p - y.
type dense struct {
	name   string
	in     int
	units  int
	kernel *param
	bias   *param
	x      []float64
}

func newDense(name string, in, units int, rng *rand.Rand) *dense {
	l := &dense{
		name:   name,
		in:     in,
		units:  units,
		kernel: newParam(name+"/kernel", in, units),
		bias:   newParam(name+"/bias", units),
	}
	l.kernel.glorotUniform(rng, in, units)
	return l
}

func (l *dense) Name() string { return l.name }
func (l *dense) Type() string { return "Dense" }
func (l *dense) OutputShape() []int { return []int{l.units} }
func (l *dense) params() []*param { return []*param{l.kernel, l.bias} }

func (l *dense) forward(x []float64, _ bool) []float64 {
	l.x = x
	out := make([]float64, l.units)
	for u := range l.units {
		s := l.bias.value[u]
		for i, v := range x {
			s += v * l.kernel.value[i*l.units+u]
		}
		out[u] = sigmoid(s)
	}
	return out
}

func (l *dense) backward(dz []float64) []float64 {
	dx := make([]float64, l.in)
	for u, d := range dz {
		l.bias.grad[u] += d
		for i, v := range l.x {
			l.kernel.grad[i*l.units+u] += v * d
			dx[i] += l.kernel.value[i*l.units+u] * d
		}
	}
	return dx
}
