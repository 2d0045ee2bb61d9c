package preprocess

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// makeData builds a tensor of random values, offset per channel, and labels
// alternating 0/1.
func makeData(shape tensor.Shape, seed uint64) (*tensor.Tensor, []float64) {
	rng := rand.New(rand.NewPCG(seed, 1))
	x := tensor.New(shape)
	for i := range x.Data() {
		c := i % shape.C
		x.Data()[i] = float64(c*10) + rng.Float64()*float64(c+1)
	}
	y := make([]float64, shape.N)
	for n := range y {
		y[n] = float64(n % 2)
	}
	return x, y
}

func TestTrainTestSplit_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		fraction  float64
		wantTrain int
		wantTest  int
	}{
		{name: "100 at 0.2", n: 100, fraction: 0.2, wantTrain: 80, wantTest: 20},
		{name: "rounds test up", n: 11, fraction: 0.2, wantTrain: 8, wantTest: 3},
		{name: "half", n: 10, fraction: 0.5, wantTrain: 5, wantTest: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := makeData(tensor.Shape{N: tt.n, T: 5, H: 10, W: 10, C: 3}, 1)
			split, err := TrainTestSplit(x, y, tt.fraction, 42)
			if err != nil {
				t.Fatalf("TrainTestSplit() error = %v", err)
			}

			wantTrain := tensor.Shape{N: tt.wantTrain, T: 5, H: 10, W: 10, C: 3}
			wantTest := tensor.Shape{N: tt.wantTest, T: 5, H: 10, W: 10, C: 3}
			if split.TrainX.Shape() != wantTrain {
				t.Errorf("train shape = %v, want %v", split.TrainX.Shape(), wantTrain)
			}
			if split.TestX.Shape() != wantTest {
				t.Errorf("test shape = %v, want %v", split.TestX.Shape(), wantTest)
			}
			if len(split.TrainY) != tt.wantTrain || len(split.TestY) != tt.wantTest {
				t.Errorf("label lengths = %d/%d, want %d/%d",
					len(split.TrainY), len(split.TestY), tt.wantTrain, tt.wantTest)
			}

			// every sample lands in exactly one partition
			all := append(slices.Clone(split.TrainIndex), split.TestIndex...)
			slices.Sort(all)
			for i, v := range all {
				if v != i {
					t.Fatalf("partition indices are not a permutation: %v", all)
				}
			}

			for i, j := range split.TestIndex {
				if split.TestY[i] != y[j] {
					t.Errorf("test label %d = %v, want %v", i, split.TestY[i], y[j])
				}
				if split.TestX.At(i, 0, 0, 0, 0) != x.At(j, 0, 0, 0, 0) {
					t.Errorf("test sample %d does not match source sample %d", i, j)
				}
			}
		})
	}
}

func TestTrainTestSplit_Deterministic(t *testing.T) {
	x, y := makeData(tensor.Shape{N: 50, T: 2, H: 3, W: 3, C: 2}, 7)

	a, err := TrainTestSplit(x, y, 0.2, 123)
	if err != nil {
		t.Fatal(err)
	}
	b, err := TrainTestSplit(x, y, 0.2, 123)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(a.TrainIndex, b.TrainIndex) || !slices.Equal(a.TestIndex, b.TestIndex) {
		t.Error("same seed produced different partitions")
	}

	c, err := TrainTestSplit(x, y, 0.2, 124)
	if err != nil {
		t.Fatal(err)
	}
	if slices.Equal(a.TestIndex, c.TestIndex) {
		t.Error("different seeds produced the same partition")
	}
}

func TestTrainTestSplit_Errors(t *testing.T) {
	x, y := makeData(tensor.Shape{N: 4, T: 1, H: 1, W: 1, C: 1}, 1)

	tests := []struct {
		name       string
		labels     []float64
		fraction   float64
		dataFormat bool
	}{
		{name: "label mismatch", labels: y[:3], fraction: 0.2, dataFormat: true},
		{name: "zero fraction", labels: y, fraction: 0},
		{name: "fraction one", labels: y, fraction: 1},
		{name: "negative fraction", labels: y, fraction: -0.1},
		{name: "empty train", labels: y, fraction: 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TrainTestSplit(x, tt.labels, tt.fraction, 1)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := errors.Is(err, tensor.ErrDataFormat); got != tt.dataFormat {
				t.Errorf("errors.Is(ErrDataFormat) = %v, want %v (%v)", got, tt.dataFormat, err)
			}
		})
	}
}

func TestPrepare_TrainRange(t *testing.T) {
	x, y := makeData(tensor.Shape{N: 40, T: 3, H: 4, W: 4, C: 3}, 3)

	split, scalers, err := Prepare(x, y, Options{Seed: 9})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(scalers) != 3 {
		t.Fatalf("len(scalers) = %d, want 3", len(scalers))
	}
	if split.TestX.Len() != 8 {
		t.Errorf("default fraction held out %d samples, want 8", split.TestX.Len())
	}

	for c := 0; c < 3; c++ {
		lo, hi := 1.0, 0.0
		split.TrainX.Channel(c, func(i int) {
			v := split.TrainX.Data()[i]
			if v < 0 || v > 1 {
				t.Fatalf("channel %d train value %v outside [0, 1]", c, v)
			}
			lo = min(lo, v)
			hi = max(hi, v)
		})
		if lo != 0 || hi != 1 {
			t.Errorf("channel %d train range = [%v, %v], want [0, 1]", c, lo, hi)
		}
	}
}

func TestPrepare_DegenerateChannel(t *testing.T) {
	x, y := makeData(tensor.Shape{N: 10, T: 2, H: 2, W: 2, C: 2}, 5)
	x.Channel(1, func(i int) { x.Data()[i] = 3.5 })

	split, scalers, err := Prepare(x, y, Options{TestFraction: 0.3, Seed: 1})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !scalers[1].Degenerate() {
		t.Fatalf("scaler 1 = %+v, want degenerate", scalers[1])
	}
	for _, part := range []*tensor.Tensor{split.TrainX, split.TestX} {
		part.Channel(1, func(i int) {
			if v := part.Data()[i]; v != 0 {
				t.Fatalf("degenerate channel value = %v, want 0", v)
			}
		})
	}
}

func TestFitChannels_NoLeakage(t *testing.T) {
	x, y := makeData(tensor.Shape{N: 30, T: 2, H: 3, W: 3, C: 2}, 11)

	split, err := TrainTestSplit(x, y, 0.2, 4)
	if err != nil {
		t.Fatal(err)
	}
	before, err := FitChannels(split.TrainX)
	if err != nil {
		t.Fatal(err)
	}

	// perturb only the held-out samples in the source tensor
	perturbed := x.Clone()
	for _, j := range split.TestIndex {
		s := perturbed.Sample(j)
		for i := range s {
			s[i] = s[i]*100 - 1000
		}
	}
	split2, err := TrainTestSplit(perturbed, y, 0.2, 4)
	if err != nil {
		t.Fatal(err)
	}
	after, err := FitChannels(split2.TrainX)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(before, after) {
		t.Errorf("scalers changed after perturbing test data: %v vs %v", before, after)
	}
}

func TestMinMaxScaler_Transform(t *testing.T) {
	s := MinMaxScaler{Min: 2, Max: 6}
	tests := []struct {
		in, want float64
	}{
		{2, 0}, {6, 1}, {4, 0.5}, {10, 2}, {0, -0.5},
	}
	for _, tt := range tests {
		if got := s.Transform(tt.in); got != tt.want {
			t.Errorf("Transform(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestChannelScalers_TransformMismatch(t *testing.T) {
	x := tensor.New(tensor.Shape{N: 1, T: 1, H: 1, W: 1, C: 2})
	if err := (ChannelScalers{{Min: 0, Max: 1}}).Transform(x); err == nil {
		t.Error("expected error for scaler/channel count mismatch")
	}
}

func TestFitChannels_Empty(t *testing.T) {
	x := tensor.New(tensor.Shape{N: 0, T: 1, H: 1, W: 1, C: 1})
	if _, err := FitChannels(x); err == nil {
		t.Error("expected error fitting an empty tensor")
	}
}
