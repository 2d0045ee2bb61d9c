package models

import (
	"math"

	"github.com/HatiCode/oceanquake/pkg/hyper"
)

const (
	defaultLearningRate = 1e-3
	defaultEpsilon      = 1e-7
)

// optimizer applies one update from the accumulated gradients.
type optimizer interface {
	step(params []*param)
}

// adam keeps per-weight first and second moment estimates with bias
// correction folded into the step size.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam() *adam {
	return &adam{lr: defaultLearningRate, beta1: 0.9, beta2: 0.999, eps: defaultEpsilon}
}

func (o *adam) step(params []*param) {
	if o.m == nil {
		o.m, o.v = moments(params), moments(params)
	}
	o.t++
	lr := o.lr * math.Sqrt(1-math.Pow(o.beta2, float64(o.t))) / (1 - math.Pow(o.beta1, float64(o.t)))
	for j, p := range params {
		m, v := o.m[j], o.v[j]
		for i, g := range p.grad {
			m[i] = o.beta1*m[i] + (1-o.beta1)*g
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			p.value[i] -= lr * m[i] / (math.Sqrt(v[i]) + o.eps)
		}
	}
}

// rmsprop divides the gradient by a running root mean square.
type rmsprop struct {
	lr, rho, eps float64
	v            [][]float64
}

func newRMSprop() *rmsprop {
	return &rmsprop{lr: defaultLearningRate, rho: 0.9, eps: defaultEpsilon}
}

func (o *rmsprop) step(params []*param) {
	if o.v == nil {
		o.v = moments(params)
	}
	for j, p := range params {
		v := o.v[j]
		for i, g := range p.grad {
			v[i] = o.rho*v[i] + (1-o.rho)*g*g
			p.value[i] -= o.lr * g / (math.Sqrt(v[i]) + o.eps)
		}
	}
}

func moments(params []*param) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = make([]float64, len(p.value))
	}
	return out
}

func optimizerFor(o hyper.Optimizer) (optimizer, bool) {
	switch o {
	case hyper.Adam:
		return newAdam(), true
	case hyper.RMSprop:
		return newRMSprop(), true
	}
	return nil, false
}
