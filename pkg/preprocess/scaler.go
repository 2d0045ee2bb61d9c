package preprocess

import (
	"errors"
	"fmt"
	"math"

	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// MinMaxScaler maps values linearly so that Min goes to 0 and Max goes to 1.
// A degenerate scaler (Min == Max) maps every value to 0.
type MinMaxScaler struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Degenerate reports whether the fitted range is empty.
func (s MinMaxScaler) Degenerate() bool {
	return s.Max == s.Min
}

// Transform scales one value. Values outside the fitted range map outside
// [0, 1]; they are not clipped.
func (s MinMaxScaler) Transform(v float64) float64 {
	if s.Degenerate() {
		return 0
	}
	return (v - s.Min) / (s.Max - s.Min)
}

// ChannelScalers holds one scaler per channel index.
type ChannelScalers []MinMaxScaler

// FitChannels fits a scaler for every channel of x, flattening across the
// sample, time and spatial dimensions.
//
// Returns an error if x has no samples.
func FitChannels(x *tensor.Tensor) (ChannelScalers, error) {
	if x.Len() == 0 {
		return nil, errors.New("cannot fit scalers on an empty tensor")
	}

	data := x.Data()
	scalers := make(ChannelScalers, x.Shape().C)
	for c := range scalers {
		lo, hi := math.Inf(1), math.Inf(-1)
		x.Channel(c, func(i int) {
			v := data[i]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		})
		scalers[c] = MinMaxScaler{Min: lo, Max: hi}
	}
	return scalers, nil
}

// Transform normalizes x in place, channel by channel. The shape is unchanged.
func (cs ChannelScalers) Transform(x *tensor.Tensor) error {
	if len(cs) != x.Shape().C {
		return fmt.Errorf("%d scalers for %d channels", len(cs), x.Shape().C)
	}
	data := x.Data()
	for c, s := range cs {
		x.Channel(c, func(i int) {
			data[i] = s.Transform(data[i])
		})
	}
	return nil
}
