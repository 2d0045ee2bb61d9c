package models

import (
	"math"

	"github.com/HatiCode/oceanquake/pkg/hyper"
)

// activation applies a pointwise function and recovers its derivative from
// the function's output, so backward passes only need the cached outputs.
type activation struct {
	name  string
	apply func(x float64) float64
	deriv func(y float64) float64
}

var (
	reluActivation = activation{
		name: "relu",
		apply: func(x float64) float64 {
			return max(x, 0)
		},
		deriv: func(y float64) float64 {
			if y > 0 {
				return 1
			}
			return 0
		},
	}
	tanhActivation = activation{
		name:  "tanh",
		apply: math.Tanh,
		deriv: func(y float64) float64 {
			return 1 - y*y
		},
	}
)

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func activationFor(a hyper.Activation) (activation, bool) {
	switch a {
	case hyper.ReLU:
		return reluActivation, true
	case hyper.Tanh:
		return tanhActivation, true
	}
	return activation{}, false
}
