// Package tensor provides the dense 5-D sample tensor shared by the loader,
// the preprocessing stage and the models.
//
// A Tensor holds N independent samples, each a sequence of T frames over an
// H×W grid with C channels. Data is stored row-major with channels last, so the
// value at (n, t, h, w, c) lives at index ((((n*T+t)*H+h)*W+w)*C + c). A single
// sample is therefore a contiguous block of T*H*W*C values, which is what the
// models consume.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrDataFormat is returned when input arrays are malformed or their shapes
// are inconsistent. It is fatal: nothing downstream can recover from it.
var ErrDataFormat = errors.New("data format")

// Shape describes a sample tensor.
type Shape struct {
	N int // samples
	T int // time-steps
	H int // grid height
	W int // grid width
	C int // channels
}

// SampleShape is the shape of one sample.
type SampleShape struct {
	T, H, W, C int
}

// Size returns the number of values in one sample.
func (s SampleShape) Size() int {
	return s.T * s.H * s.W * s.C
}

// String formats the sample shape like (T, H, W, C).
func (s SampleShape) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", s.T, s.H, s.W, s.C)
}

// Sample returns the per-sample part of the shape.
func (s Shape) Sample() SampleShape {
	return SampleShape{T: s.T, H: s.H, W: s.W, C: s.C}
}

// Size returns the total number of values.
func (s Shape) Size() int {
	return s.N * s.Sample().Size()
}

// String formats the shape like (N, T, H, W, C).
func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d, %d)", s.N, s.T, s.H, s.W, s.C)
}

func (s Shape) validate() error {
	if s.N < 0 || s.T <= 0 || s.H <= 0 || s.W <= 0 || s.C <= 0 {
		return fmt.Errorf("%w: invalid shape %s", ErrDataFormat, s)
	}
	return nil
}

// Tensor is a dense float64 tensor of shape (N, T, H, W, C).
type Tensor struct {
	shape Shape
	data  []float64
}

// New allocates a zero-filled tensor.
//
// Panics if any dimension other than N is non-positive.
func New(shape Shape) *Tensor {
	if err := shape.validate(); err != nil {
		panic(err.Error())
	}
	return &Tensor{shape: shape, data: make([]float64, shape.Size())}
}

// FromData wraps data as a tensor of the given shape without copying.
//
// Returns an error wrapping ErrDataFormat if the shape is invalid or the data
// length does not match it.
func FromData(shape Shape, data []float64) (*Tensor, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, fmt.Errorf("%w: shape %s needs %d values, got %d",
			ErrDataFormat, shape, shape.Size(), len(data))
	}
	return &Tensor{shape: shape, data: data}, nil
}

// Shape returns the tensor shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Len returns the number of samples.
func (t *Tensor) Len() int {
	return t.shape.N
}

// Data returns the backing slice.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Sample returns sample n as a view into the backing slice.
func (t *Tensor) Sample(n int) []float64 {
	size := t.shape.Sample().Size()
	return t.data[n*size : (n+1)*size : (n+1)*size]
}

func (t *Tensor) index(n, ts, h, w, c int) int {
	s := t.shape
	return (((n*s.T+ts)*s.H+h)*s.W+w)*s.C + c
}

// At returns the value at (n, t, h, w, c).
func (t *Tensor) At(n, ts, h, w, c int) float64 {
	return t.data[t.index(n, ts, h, w, c)]
}

// Set stores v at (n, t, h, w, c).
func (t *Tensor) Set(n, ts, h, w, c int, v float64) {
	t.data[t.index(n, ts, h, w, c)] = v
}

// Select copies the given samples, in order, into a new tensor.
func (t *Tensor) Select(indices []int) *Tensor {
	shape := t.shape
	shape.N = len(indices)
	out := &Tensor{shape: shape, data: make([]float64, shape.Size())}
	size := shape.Sample().Size()
	for i, n := range indices {
		copy(out.data[i*size:(i+1)*size], t.Sample(n))
	}
	return out
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape, data: data}
}

// Channel calls fn with the flat index of every value belonging to channel c.
func (t *Tensor) Channel(c int, fn func(i int)) {
	for i := c; i < len(t.data); i += t.shape.C {
		fn(i)
	}
}

// CheckFinite returns an error wrapping ErrDataFormat if any value is NaN or
// infinite.
func (t *Tensor) CheckFinite() error {
	for i, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value %v at flat index %d", ErrDataFormat, v, i)
		}
	}
	return nil
}

// CheckLabels validates a label vector against the tensor: one label per
// sample, each exactly 0 or 1.
func CheckLabels(t *Tensor, labels []float64) error {
	if len(labels) != t.Len() {
		return fmt.Errorf("%w: %d labels for %d samples", ErrDataFormat, len(labels), t.Len())
	}
	for i, v := range labels {
		if v != 0 && v != 1 {
			return fmt.Errorf("%w: label %d is %v, want 0 or 1", ErrDataFormat, i, v)
		}
	}
	return nil
}
