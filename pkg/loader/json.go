package loader

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// sampleRank is the nesting depth of one unpacked sample: T, H, W, C.
const sampleRank = 4

func readJSON(path string) (gjson.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", tensor.ErrDataFormat, err)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", tensor.ErrDataFormat)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: top-level value must be an array", tensor.ErrDataFormat)
	}
	return root, nil
}

func readFeaturesJSON(path string) (*tensor.Tensor, error) {
	root, err := readJSON(path)
	if err != nil {
		return nil, err
	}

	var (
		shape   tensor.SampleShape
		samples [][]float64
		walkErr error
	)
	index := 0
	root.ForEach(func(_, record gjson.Result) bool {
		if !record.IsArray() {
			walkErr = fmt.Errorf("%w: sample %d is not a record array", tensor.ErrDataFormat, index)
			return false
		}
		first := record.Get("0")
		if !first.Exists() {
			walkErr = fmt.Errorf("%w: sample %d is an empty record", tensor.ErrDataFormat, index)
			return false
		}

		dims, err := inferDims(first)
		if err != nil {
			walkErr = fmt.Errorf("sample %d: %w", index, err)
			return false
		}
		s := tensor.SampleShape{T: dims[0], H: dims[1], W: dims[2], C: dims[3]}
		if index == 0 {
			shape = s
		} else if s != shape {
			walkErr = fmt.Errorf("%w: sample %d has shape %s, sample 0 has %s",
				tensor.ErrDataFormat, index, s, shape)
			return false
		}

		values := make([]float64, 0, shape.Size())
		values, err = flatten(first, dims, 0, values)
		if err != nil {
			walkErr = fmt.Errorf("sample %d: %w", index, err)
			return false
		}
		samples = append(samples, values)
		index++
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", tensor.ErrDataFormat)
	}

	return stack(shape, samples)
}

// inferDims follows the first element at each nesting level.
func inferDims(r gjson.Result) ([]int, error) {
	dims := make([]int, 0, sampleRank)
	cur := r
	for cur.IsArray() {
		elems := cur.Array()
		dims = append(dims, len(elems))
		if len(elems) == 0 {
			break
		}
		cur = elems[0]
	}
	if len(dims) != sampleRank {
		return nil, fmt.Errorf("%w: sample has %d nested levels, want %d (T, H, W, C)",
			tensor.ErrDataFormat, len(dims), sampleRank)
	}
	for _, d := range dims {
		if d == 0 {
			return nil, fmt.Errorf("%w: sample has an empty dimension", tensor.ErrDataFormat)
		}
	}
	return dims, nil
}

// flatten appends the values of r in row-major order, checking every level
// against dims.
func flatten(r gjson.Result, dims []int, level int, out []float64) ([]float64, error) {
	if level == len(dims) {
		if r.Type != gjson.Number {
			return nil, fmt.Errorf("%w: non-numeric value %q", tensor.ErrDataFormat, r.Raw)
		}
		return append(out, r.Float()), nil
	}
	if !r.IsArray() {
		return nil, fmt.Errorf("%w: ragged array at level %d", tensor.ErrDataFormat, level)
	}
	elems := r.Array()
	if len(elems) != dims[level] {
		return nil, fmt.Errorf("%w: ragged array at level %d: length %d, want %d",
			tensor.ErrDataFormat, level, len(elems), dims[level])
	}
	var err error
	for _, e := range elems {
		out, err = flatten(e, dims, level+1, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readLabelsJSON(path string) ([]float64, error) {
	root, err := readJSON(path)
	if err != nil {
		return nil, err
	}
	elems := root.Array()
	labels := make([]float64, len(elems))
	for i, e := range elems {
		if e.Type != gjson.Number {
			return nil, fmt.Errorf("%w: label %d is not a number", tensor.ErrDataFormat, i)
		}
		labels[i] = e.Float()
	}
	return labels, nil
}

// WriteFeaturesJSON writes x in the record convention Load expects: one
// single-element record per sample wrapping its T×H×W×C array.
func WriteFeaturesJSON(w io.Writer, x *tensor.Tensor) error {
	s := x.Shape()
	records := make([][][][][][]float64, s.N)
	for n := range s.N {
		sample := make([][][][]float64, s.T)
		for t := range s.T {
			frame := make([][][]float64, s.H)
			for h := range s.H {
				row := make([][]float64, s.W)
				for col := range s.W {
					px := make([]float64, s.C)
					for ch := range s.C {
						px[ch] = x.At(n, t, h, col, ch)
					}
					row[col] = px
				}
				frame[h] = row
			}
			sample[t] = frame
		}
		records[n] = [][][][][]float64{sample}
	}
	if err := json.NewEncoder(w).Encode(records); err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	return nil
}

// WriteLabelsJSON writes labels as a flat JSON array.
func WriteLabelsJSON(w io.Writer, labels []float64) error {
	if err := json.NewEncoder(w).Encode(labels); err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	return nil
}
