// Package synth generates synthetic ocean-colour datasets with a planted
// precursor signal, so the pipeline can be exercised without satellite data.
//
// Every sample is a smooth background field per channel, offset and scaled to
// a distinct physical range, plus Gaussian noise. Positive samples also carry
// a blob on channel 0 that intensifies over the time-steps; a classifier that
// learns the blob separates the classes.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// DefaultPositiveFraction is used when Options.PositiveFraction is nil.
const DefaultPositiveFraction = 0.5

// Options configures Generate.
type Options struct {
	Shape tensor.Shape
	// PositiveFraction is the share of samples labelled 1, in [0, 1]. Nil
	// means DefaultPositiveFraction.
	PositiveFraction *float64
	// Signal is the peak anomaly amplitude relative to the background
	// range. Zero means 1.
	Signal float64
	// Noise is the standard deviation of the additive noise relative to the
	// background range. Zero means 0.05.
	Noise float64
	Seed  uint64
}

// channelRange gives channel c its own [offset, offset+scale] range so the
// per-channel scalers have something to do.
func channelRange(c int) (offset, scale float64) {
	return float64(c) * 10, 1 + 4*float64(c)
}

// Generate returns a feature tensor and matching binary labels. Sample order
// is randomized; labels are exactly 0 or 1.
//
// Returns an error if the shape is invalid or a fraction lies outside [0, 1].
func Generate(opts Options) (*tensor.Tensor, []float64, error) {
	s := opts.Shape
	if s.N <= 0 || s.T <= 0 || s.H <= 0 || s.W <= 0 || s.C <= 0 {
		return nil, nil, fmt.Errorf("invalid shape %s", s)
	}
	fraction := DefaultPositiveFraction
	if opts.PositiveFraction != nil {
		fraction = *opts.PositiveFraction
	}
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return nil, nil, fmt.Errorf("positive fraction must be in [0, 1], got %v", fraction)
	}
	if opts.Signal == 0 {
		opts.Signal = 1
	}
	if opts.Noise == 0 {
		opts.Noise = 0.05
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	positives := int(math.Round(fraction * float64(s.N)))
	labels := make([]float64, s.N)
	for i := range positives {
		labels[i] = 1
	}
	rng.Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	x := tensor.New(s)
	for n := range s.N {
		phase := rng.Float64() * 2 * math.Pi
		cy, cx := rng.Float64()*float64(s.H-1), rng.Float64()*float64(s.W-1)
		radius := math.Max(1, float64(min(s.H, s.W))/4)

		for t := range s.T {
			growth := float64(t+1) / float64(s.T)
			for h := range s.H {
				for w := range s.W {
					base := 0.5 + 0.25*math.Sin(phase+0.7*float64(h)+0.3*float64(t))*math.Cos(0.5*float64(w))
					for c := range s.C {
						offset, scale := channelRange(c)
						v := base + opts.Noise*rng.NormFloat64()
						if c == 0 && labels[n] == 1 {
							d2 := (float64(h)-cy)*(float64(h)-cy) + (float64(w)-cx)*(float64(w)-cx)
							v += opts.Signal * growth * math.Exp(-d2/(2*radius*radius))
						}
						x.Set(n, t, h, w, c, offset+scale*v)
					}
				}
			}
		}
	}

	return x, labels, nil
}
