package models

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// param is one trainable weight array with its accumulated gradient.
type param struct {
	name  string
	shape []int
	value []float64
	grad  []float64
}

func newParam(name string, shape ...int) *param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &param{
		name:  name,
		shape: shape,
		value: make([]float64, n),
		grad:  make([]float64, n),
	}
}

// glorotUniform fills p from U(-limit, limit) with
// limit = sqrt(6 / (fanIn + fanOut)).
func (p *param) glorotUniform(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.value {
		p.value[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (p *param) zeroGrad() {
	clear(p.grad)
}

// layer is one stage of a sequential network. Layers cache whatever the last
// forward call needs for backward, so a network processes one sample at a
// time.
type layer interface {
	Name() string
	Type() string
	// OutputShape excludes the batch dimension.
	OutputShape() []int
	params() []*param
	forward(x []float64, training bool) []float64
	// backward takes the gradient of the loss with respect to the layer's
	// output, accumulates parameter gradients and returns the gradient with
	// respect to the layer's input.
	backward(dy []float64) []float64
}

func formatShape(shape []int) string {
	parts := make([]string, 0, len(shape)+1)
	parts = append(parts, "None")
	for _, d := range shape {
		parts = append(parts, fmt.Sprint(d))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// conv2D describes one stride-1 2-D convolution over a channels-last frame.
// The kernel is laid out (kh, kw, inC, outC). padY and padX are the leading
// zero-padding rows and columns; positions outside the frame contribute
// nothing.
type conv2D struct {
	inH, inW, inC    int
	outH, outW, outC int
	kh, kw           int
	padY, padX       int
}

// validConv has no padding, so the output shrinks by kernel-1.
func validConv(inH, inW, inC, outC, kh, kw int) conv2D {
	return conv2D{
		inH: inH, inW: inW, inC: inC,
		outH: inH - kh + 1, outW: inW - kw + 1, outC: outC,
		kh: kh, kw: kw,
	}
}

// sameConv pads so the output has the same extent as the input. Odd padding
// totals put the extra row and column at the end.
func sameConv(h, w, inC, outC, kh, kw int) conv2D {
	return conv2D{
		inH: h, inW: w, inC: inC,
		outH: h, outW: w, outC: outC,
		kh: kh, kw: kw,
		padY: (kh - 1) / 2, padX: (kw - 1) / 2,
	}
}

// forward adds the convolution of in with kernel to out.
func (c conv2D) forward(in, kernel, out []float64) {
	for oy := range c.outH {
		for ox := range c.outW {
			row := out[(oy*c.outW+ox)*c.outC : (oy*c.outW+ox+1)*c.outC]
			for dy := range c.kh {
				iy := oy + dy - c.padY
				if iy < 0 || iy >= c.inH {
					continue
				}
				for dx := range c.kw {
					ix := ox + dx - c.padX
					if ix < 0 || ix >= c.inW {
						continue
					}
					inOff := (iy*c.inW + ix) * c.inC
					kOff := (dy*c.kw + dx) * c.inC * c.outC
					for ci := range c.inC {
						v := in[inOff+ci]
						if v == 0 {
							continue
						}
						k := kernel[kOff+ci*c.outC : kOff+(ci+1)*c.outC]
						for g, kv := range k {
							row[g] += v * kv
						}
					}
				}
			}
		}
	}
}

// backward accumulates the kernel gradient into dKernel and, when dIn is not
// nil, the input gradient into dIn, given the output gradient dOut.
func (c conv2D) backward(in, kernel, dOut, dKernel, dIn []float64) {
	for oy := range c.outH {
		for ox := range c.outW {
			drow := dOut[(oy*c.outW+ox)*c.outC : (oy*c.outW+ox+1)*c.outC]
			for dy := range c.kh {
				iy := oy + dy - c.padY
				if iy < 0 || iy >= c.inH {
					continue
				}
				for dx := range c.kw {
					ix := ox + dx - c.padX
					if ix < 0 || ix >= c.inW {
						continue
					}
					inOff := (iy*c.inW + ix) * c.inC
					kOff := (dy*c.kw + dx) * c.inC * c.outC
					for ci := range c.inC {
						lo, hi := kOff+ci*c.outC, kOff+(ci+1)*c.outC
						v := in[inOff+ci]
						if v != 0 {
							dk := dKernel[lo:hi]
							for g, d := range drow {
								dk[g] += v * d
							}
						}
						if dIn != nil {
							k := kernel[lo:hi]
							var s float64
							for g, d := range drow {
								s += k[g] * d
							}
							dIn[inOff+ci] += s
						}
					}
				}
			}
		}
	}
}
