package loader

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio/npy"

	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// featuresRank is N, R, T, H, W, C where R is the record container axis.
const featuresRank = 6

func readNPY(path string) ([]int, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", tensor.ErrDataFormat, err)
	}
	defer f.Close()

	r, err := npy.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", tensor.ErrDataFormat, err)
	}
	if r.Header.Descr.Fortran {
		return nil, nil, fmt.Errorf("%w: fortran-ordered arrays are not supported", tensor.ErrDataFormat)
	}

	shape := r.Header.Descr.Shape
	size := 1
	for _, d := range shape {
		size *= d
	}
	raw, err := readValues(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s array: %v", tensor.ErrDataFormat, r.Header.Descr.Type, err)
	}
	return shape, raw, nil
}

// readValues decodes the array body in its stored dtype and widens it to
// float64. The leading byte-order character of the descriptor is handled by
// npyio.
func readValues(r *npy.Reader, size int) ([]float64, error) {
	descr := r.Header.Descr.Type
	if len(descr) < 2 {
		return nil, fmt.Errorf("unsupported dtype %q", descr)
	}
	switch descr[1:] {
	case "f8":
		return readAs[float64](r, size)
	case "f4":
		return readAs[float32](r, size)
	case "i8":
		return readAs[int64](r, size)
	case "i4":
		return readAs[int32](r, size)
	case "i2":
		return readAs[int16](r, size)
	case "i1":
		return readAs[int8](r, size)
	case "u8":
		return readAs[uint64](r, size)
	case "u4":
		return readAs[uint32](r, size)
	case "u2":
		return readAs[uint16](r, size)
	case "u1":
		return readAs[uint8](r, size)
	case "b1":
		buf := make([]bool, size)
		if err := r.Read(&buf); err != nil {
			return nil, err
		}
		out := make([]float64, size)
		for i, v := range buf {
			if v {
				out[i] = 1
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", descr)
	}
}

type number interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func readAs[T number](r *npy.Reader, size int) ([]float64, error) {
	buf := make([]T, size)
	if err := r.Read(&buf); err != nil {
		return nil, err
	}
	out := make([]float64, size)
	for i, v := range buf {
		out[i] = float64(v)
	}
	return out, nil
}

func readFeaturesNPY(path string) (*tensor.Tensor, error) {
	shape, raw, err := readNPY(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != featuresRank {
		return nil, fmt.Errorf("%w: features array has shape %v, want (N, R, T, H, W, C)",
			tensor.ErrDataFormat, shape)
	}
	n, records := shape[0], shape[1]
	if n == 0 || records == 0 {
		return nil, fmt.Errorf("%w: features array has shape %v, need at least one sample and one record element",
			tensor.ErrDataFormat, shape)
	}

	sample := tensor.SampleShape{T: shape[2], H: shape[3], W: shape[4], C: shape[5]}
	size := sample.Size()
	samples := make([][]float64, n)
	for i := range n {
		start := i * records * size
		samples[i] = raw[start : start+size]
	}
	return stack(sample, samples)
}

func readLabelsNPY(path string) ([]float64, error) {
	shape, raw, err := readNPY(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 1 {
		return nil, fmt.Errorf("%w: labels array has shape %v, want (N,)", tensor.ErrDataFormat, shape)
	}
	return raw, nil
}
