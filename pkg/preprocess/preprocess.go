// Package preprocess partitions a sample tensor into training and testing
// subsets and normalizes every channel with a min-max scaler fitted on the
// training subset only.
//
// The pipeline is:
//
//	TrainTestSplit → FitChannels(train) → Transform(train), Transform(test)
//
// Prepare runs all three steps. The fitted scalers are returned to the caller;
// they are never shared between runs.
package preprocess

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// DefaultTestFraction is the share of samples held out for testing.
const DefaultTestFraction = 0.2

// Split holds the two partitions. TrainIndex and TestIndex map each partition
// sample back to its position in the input tensor.
type Split struct {
	TrainX     *tensor.Tensor
	TrainY     []float64
	TestX      *tensor.Tensor
	TestY      []float64
	TrainIndex []int
	TestIndex  []int
}

// TrainTestSplit shuffles sample indices with a source seeded by seed and
// holds out ceil(testFraction*N) of them for testing. The same seed always
// yields the same partition for the same N.
//
// Returns an error if testFraction is outside (0, 1), if either partition
// would be empty, or (wrapping tensor.ErrDataFormat) if len(y) != N.
func TrainTestSplit(x *tensor.Tensor, y []float64, testFraction float64, seed uint64) (*Split, error) {
	n := x.Len()
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d labels for %d samples", tensor.ErrDataFormat, len(y), n)
	}
	if testFraction <= 0 || testFraction >= 1 || math.IsNaN(testFraction) {
		return nil, fmt.Errorf("test fraction %v must be in (0, 1)", testFraction)
	}

	nTest := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return nil, fmt.Errorf("cannot split %d samples with test fraction %v", n, testFraction)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)

	testIdx := append([]int(nil), perm[:nTest]...)
	trainIdx := append([]int(nil), perm[nTest:]...)

	return &Split{
		TrainX:     x.Select(trainIdx),
		TrainY:     pick(y, trainIdx),
		TestX:      x.Select(testIdx),
		TestY:      pick(y, testIdx),
		TrainIndex: trainIdx,
		TestIndex:  testIdx,
	}, nil
}

func pick(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}

// Options configures Prepare.
type Options struct {
	// TestFraction defaults to DefaultTestFraction when zero.
	TestFraction float64
	Seed         uint64
}

// Prepare splits x and y, fits one scaler per channel on the training
// partition and normalizes both partitions in place.
func Prepare(x *tensor.Tensor, y []float64, opts Options) (*Split, ChannelScalers, error) {
	if opts.TestFraction == 0 {
		opts.TestFraction = DefaultTestFraction
	}

	split, err := TrainTestSplit(x, y, opts.TestFraction, opts.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("split: %w", err)
	}

	scalers, err := FitChannels(split.TrainX)
	if err != nil {
		return nil, nil, fmt.Errorf("fit scalers: %w", err)
	}
	if err := scalers.Transform(split.TrainX); err != nil {
		return nil, nil, fmt.Errorf("transform train: %w", err)
	}
	if err := scalers.Transform(split.TestX); err != nil {
		return nil, nil, fmt.Errorf("transform test: %w", err)
	}

	return split, scalers, nil
}
