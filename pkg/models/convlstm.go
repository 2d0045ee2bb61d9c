package models

import (
	"fmt"
	"math/rand/v2"
)

// Gate order inside the 4*filters pre-activation axis.
const (
	gateInput = iota
	gateForget
	gateCandidate
	gateOutput
	numGates
)

// convLSTM2D is a convolutional LSTM over a sequence of frames.
//
// For every time-step t the four gates are
//
//	z = conv_valid(x_t, kernel) + conv_same(h_{t-1}, recurrent) + bias
//	i, f, o = sigmoid(z_i), sigmoid(z_f), sigmoid(z_o)
//	g = act(z_c)
//	c_t = f*c_{t-1} + i*g
//	h_t = o*act(c_t)
//
// with h_{-1} = c_{-1} = 0. The output is every h_t when returnSequences is
// set and only the last one otherwise.
type convLSTM2D struct {
	name            string
	steps           int
	filters         int
	act             activation
	returnSequences bool

	input     conv2D
	recurrent conv2D

	kernel          *param
	recurrentKernel *param
	bias            *param

	// forward cache, one entry per time-step
	x      []float64
	gates  [][]float64
	cells  [][]float64
	acts   [][]float64
	hidden [][]float64
}

func newConvLSTM2D(name string, steps, h, w, inC, filters, kh, kw int,
	act activation, returnSequences bool, rng *rand.Rand) *convLSTM2D {
	g := numGates * filters
	in := validConv(h, w, inC, g, kh, kw)
	rec := sameConv(in.outH, in.outW, filters, g, kh, kw)

	l := &convLSTM2D{
		name:            name,
		steps:           steps,
		filters:         filters,
		act:             act,
		returnSequences: returnSequences,
		input:           in,
		recurrent:       rec,
		kernel:          newParam(name+"/kernel", kh, kw, inC, g),
		recurrentKernel: newParam(name+"/recurrent_kernel", kh, kw, filters, g),
		bias:            newParam(name+"/bias", g),
	}
	l.kernel.glorotUniform(rng, kh*kw*inC, kh*kw*g)
	l.recurrentKernel.glorotUniform(rng, kh*kw*filters, kh*kw*g)
	for f := range filters {
		l.bias.value[gateForget*filters+f] = 1
	}
	return l
}

func (l *convLSTM2D) Name() string { return l.name }

func (l *convLSTM2D) Type() string { return "ConvLSTM2D" }

func (l *convLSTM2D) OutputShape() []int {
	if l.returnSequences {
		return []int{l.steps, l.input.outH, l.input.outW, l.filters}
	}
	return []int{l.input.outH, l.input.outW, l.filters}
}

func (l *convLSTM2D) params() []*param {
	return []*param{l.kernel, l.recurrentKernel, l.bias}
}

func (l *convLSTM2D) frameIn() int {
	return l.input.inH * l.input.inW * l.input.inC
}

func (l *convLSTM2D) frameOut() int {
	return l.input.outH * l.input.outW * l.filters
}

func (l *convLSTM2D) forward(x []float64, _ bool) []float64 {
	if len(x) != l.steps*l.frameIn() {
		panic(fmt.Sprintf("%s: input length %d, want %d", l.name, len(x), l.steps*l.frameIn()))
	}
	inSize, outSize := l.frameIn(), l.frameOut()
	pixels := l.input.outH * l.input.outW
	F, G := l.filters, numGates*l.filters

	l.x = x
	l.gates = make([][]float64, l.steps)
	l.cells = make([][]float64, l.steps)
	l.acts = make([][]float64, l.steps)
	l.hidden = make([][]float64, l.steps)

	prevH := make([]float64, outSize)
	prevC := make([]float64, outSize)
	for t := range l.steps {
		z := make([]float64, pixels*G)
		for p := range pixels {
			copy(z[p*G:(p+1)*G], l.bias.value)
		}
		l.input.forward(x[t*inSize:(t+1)*inSize], l.kernel.value, z)
		l.recurrent.forward(prevH, l.recurrentKernel.value, z)

		c := make([]float64, outSize)
		a := make([]float64, outSize)
		h := make([]float64, outSize)
		for p := range pixels {
			zp := z[p*G : (p+1)*G]
			for f := range F {
				i := sigmoid(zp[gateInput*F+f])
				fg := sigmoid(zp[gateForget*F+f])
				g := l.act.apply(zp[gateCandidate*F+f])
				o := sigmoid(zp[gateOutput*F+f])
				// z now holds gate outputs
				zp[gateInput*F+f] = i
				zp[gateForget*F+f] = fg
				zp[gateCandidate*F+f] = g
				zp[gateOutput*F+f] = o

				k := p*F + f
				c[k] = fg*prevC[k] + i*g
				a[k] = l.act.apply(c[k])
				h[k] = o * a[k]
			}
		}
		l.gates[t], l.cells[t], l.acts[t], l.hidden[t] = z, c, a, h
		prevH, prevC = h, c
	}

	if !l.returnSequences {
		return l.hidden[l.steps-1]
	}
	out := make([]float64, 0, l.steps*outSize)
	for _, h := range l.hidden {
		out = append(out, h...)
	}
	return out
}

func (l *convLSTM2D) backward(dy []float64) []float64 {
	inSize, outSize := l.frameIn(), l.frameOut()
	pixels := l.input.outH * l.input.outW
	F, G := l.filters, numGates*l.filters

	dx := make([]float64, l.steps*inSize)
	dhNext := make([]float64, outSize)
	dcNext := make([]float64, outSize)
	dz := make([]float64, pixels*G)
	zero := make([]float64, outSize)

	for t := l.steps - 1; t >= 0; t-- {
		z, a := l.gates[t], l.acts[t]
		prevC, prevH := zero, zero
		if t > 0 {
			prevC, prevH = l.cells[t-1], l.hidden[t-1]
		}

		var dh []float64
		switch {
		case l.returnSequences:
			dh = dy[t*outSize : (t+1)*outSize]
		case t == l.steps-1:
			dh = dy
		}

		for p := range pixels {
			zp := z[p*G : (p+1)*G]
			dzp := dz[p*G : (p+1)*G]
			for f := range F {
				k := p*F + f
				i := zp[gateInput*F+f]
				fg := zp[gateForget*F+f]
				g := zp[gateCandidate*F+f]
				o := zp[gateOutput*F+f]

				dhk := dhNext[k]
				if dh != nil {
					dhk += dh[k]
				}
				do := dhk * a[k]
				dc := dcNext[k] + dhk*o*l.act.deriv(a[k])

				dzp[gateInput*F+f] = dc * g * i * (1 - i)
				dzp[gateForget*F+f] = dc * prevC[k] * fg * (1 - fg)
				dzp[gateCandidate*F+f] = dc * i * l.act.deriv(g)
				dzp[gateOutput*F+f] = do * o * (1 - o)
				dcNext[k] = dc * fg
			}
			for j, v := range dzp {
				l.bias.grad[j] += v
			}
		}

		l.input.backward(l.x[t*inSize:(t+1)*inSize], l.kernel.value, dz, l.kernel.grad, dx[t*inSize:(t+1)*inSize])
		clear(dhNext)
		if t > 0 {
			l.recurrent.backward(prevH, l.recurrentKernel.value, dz, l.recurrentKernel.grad, dhNext)
		}
	}
	return dx
}
