// Package loader reads feature and label arrays from disk and assembles them
// into a sample tensor and a label vector.
//
// Upstream data engineering stores each sample as a record whose first element
// is the numeric T×H×W×C array. The loader unpacks that first element for every
// record, preserving sample order, and stacks the results into one dense
// tensor. It never reorders, filters or imputes.
//
// Two on-disk formats are understood:
//   - JSON: features are an array of records, labels an array of numbers.
//   - NumPy .npy: features are a 6-D array (N, R, T, H, W, C), labels (N,).
//
// Every failure wraps tensor.ErrDataFormat.
package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// Format selects the on-disk array encoding.
type Format string

const (
	// FormatAuto picks the format from the file extension.
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatNPY  Format = "npy"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, "auto":
		return FormatAuto, nil
	case FormatJSON, FormatNPY:
		return f, nil
	default:
		return "", fmt.Errorf("unknown array format %q (must be auto, json, or npy)", s)
	}
}

// Options configures Load.
type Options struct {
	// Format forces a format for both files. FormatAuto detects per file.
	Format Format
}

// Load reads the feature tensor and label vector.
//
// Returns an error wrapping tensor.ErrDataFormat if either file is unreadable
// or malformed, if samples disagree on shape, if any value is non-finite, if a
// label is not 0 or 1, or if the label count differs from the sample count.
func Load(featuresPath, labelsPath string, opts Options) (*tensor.Tensor, []float64, error) {
	featFormat, err := detect(featuresPath, opts.Format)
	if err != nil {
		return nil, nil, err
	}
	labelFormat, err := detect(labelsPath, opts.Format)
	if err != nil {
		return nil, nil, err
	}

	var x *tensor.Tensor
	switch featFormat {
	case FormatJSON:
		x, err = readFeaturesJSON(featuresPath)
	case FormatNPY:
		x, err = readFeaturesNPY(featuresPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("features %s: %w", featuresPath, err)
	}

	var y []float64
	switch labelFormat {
	case FormatJSON:
		y, err = readLabelsJSON(labelsPath)
	case FormatNPY:
		y, err = readLabelsNPY(labelsPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("labels %s: %w", labelsPath, err)
	}

	if err := x.CheckFinite(); err != nil {
		return nil, nil, fmt.Errorf("features %s: %w", featuresPath, err)
	}
	if err := tensor.CheckLabels(x, y); err != nil {
		return nil, nil, err
	}

	return x, y, nil
}

func detect(path string, forced Format) (Format, error) {
	if forced != FormatAuto {
		return forced, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".npy":
		return FormatNPY, nil
	default:
		return "", fmt.Errorf("%w: cannot detect array format of %q", tensor.ErrDataFormat, path)
	}
}

// stack copies equally shaped samples into one tensor.
func stack(shape tensor.SampleShape, samples [][]float64) (*tensor.Tensor, error) {
	size := shape.Size()
	data := make([]float64, 0, len(samples)*size)
	for _, s := range samples {
		data = append(data, s...)
	}
	return tensor.FromData(tensor.Shape{N: len(samples), T: shape.T, H: shape.H, W: shape.W, C: shape.C}, data)
}
