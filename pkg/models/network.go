// Package models builds and trains the ConvLSTM earthquake classifier.
//
// A Network is a sequential stack:
//
//	ConvLSTM2D (input layer, returns sequences)
//	ConvLSTM2D × k (all but the last return sequences)
//	Flatten
//	Dropout(rate)
//	Dense(1, sigmoid)
//
// trained with binary cross-entropy and scored by accuracy. The architecture
// and initial weights are a pure function of the hyperparameter config, the
// sample shape and the seed.
//
// A Network processes samples one at a time and caches intermediate state
// between forward and backward passes; it is not safe for concurrent use.
package models

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// Network is a built, trainable classifier.
type Network struct {
	config hyper.Config
	input  tensor.SampleShape
	seed   uint64
	layers []layer
	opt    optimizer
	rng    *rand.Rand
}

// LayerInfo describes one layer for summaries and inspection.
type LayerInfo struct {
	Name            string
	Type            string
	OutputShape     []int
	Params          int
	ReturnSequences bool
}

// Build constructs the network described by cfg for samples of shape input.
//
// Each ConvLSTM layer uses valid padding on its input convolution, so every
// layer shrinks the grid by kernel-1 along each axis.
//
// Returns an error wrapping ErrConfigurationInvalid if:
//   - cfg has no layers, or an unknown activation or optimizer
//   - a filter count or kernel size is not positive
//   - the dropout rate is outside [0, 1)
//   - a kernel is larger than the spatial extent left by the preceding layers
func Build(cfg hyper.Config, input tensor.SampleShape, seed uint64) (*Network, error) {
	if input.T <= 0 || input.H <= 0 || input.W <= 0 || input.C <= 0 {
		return nil, fmt.Errorf("%w: input shape %v", ErrConfigurationInvalid, input)
	}
	if len(cfg.Layers) == 0 {
		return nil, fmt.Errorf("%w: no ConvLSTM layers", ErrConfigurationInvalid)
	}
	opt, ok := optimizerFor(cfg.Optimizer)
	if !ok {
		return nil, fmt.Errorf("%w: unknown optimizer %q", ErrConfigurationInvalid, cfg.Optimizer)
	}
	if cfg.DropoutRate < 0 || cfg.DropoutRate >= 1 || math.IsNaN(cfg.DropoutRate) {
		return nil, fmt.Errorf("%w: dropout rate %v outside [0, 1)", ErrConfigurationInvalid, cfg.DropoutRate)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))
	n := &Network{
		config: cfg.Clone(),
		input:  input,
		seed:   seed,
		opt:    opt,
		rng:    rng,
	}

	h, w, c := input.H, input.W, input.C
	for i, lc := range cfg.Layers {
		name := "conv_lstm2d"
		if i > 0 {
			name = fmt.Sprintf("conv_lstm2d_%d", i)
		}
		act, ok := activationFor(lc.Activation)
		if !ok {
			return nil, fmt.Errorf("%w: %s: unknown activation %q", ErrConfigurationInvalid, name, lc.Activation)
		}
		if lc.Filters <= 0 || lc.KernelH <= 0 || lc.KernelW <= 0 {
			return nil, fmt.Errorf("%w: %s: filters %d kernel %dx%d must be positive",
				ErrConfigurationInvalid, name, lc.Filters, lc.KernelH, lc.KernelW)
		}
		if lc.KernelH > h || lc.KernelW > w {
			return nil, fmt.Errorf("%w: %s: kernel %dx%d exceeds spatial extent %dx%d",
				ErrConfigurationInvalid, name, lc.KernelH, lc.KernelW, h, w)
		}
		last := i == len(cfg.Layers)-1
		n.layers = append(n.layers,
			newConvLSTM2D(name, input.T, h, w, c, lc.Filters, lc.KernelH, lc.KernelW, act, !last, rng))
		h, w, c = h-lc.KernelH+1, w-lc.KernelW+1, lc.Filters
	}

	size := h * w * c
	n.layers = append(n.layers,
		&flatten{name: "flatten", size: size},
		&dropout{name: "dropout", size: size, rate: cfg.DropoutRate, rng: rng},
		newDense("dense", size, 1, rng),
	)
	return n, nil
}

// Config returns the configuration the network was built from.
func (n *Network) Config() hyper.Config {
	return n.config.Clone()
}

// InputShape returns the sample shape the network accepts.
func (n *Network) InputShape() tensor.SampleShape {
	return n.input
}

// Seed returns the seed the network was built with.
func (n *Network) Seed() uint64 {
	return n.seed
}

// Layers describes every layer in order.
func (n *Network) Layers() []LayerInfo {
	infos := make([]LayerInfo, len(n.layers))
	for i, l := range n.layers {
		info := LayerInfo{
			Name:        l.Name(),
			Type:        l.Type(),
			OutputShape: l.OutputShape(),
		}
		for _, p := range l.params() {
			info.Params += len(p.value)
		}
		if cl, ok := l.(*convLSTM2D); ok {
			info.ReturnSequences = cl.returnSequences
		}
		infos[i] = info
	}
	return infos
}

// ParamCount returns the total number of trainable weights.
func (n *Network) ParamCount() int {
	total := 0
	for _, info := range n.Layers() {
		total += info.Params
	}
	return total
}

// Summary renders a layer table with output shapes and parameter counts.
func (n *Network) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model: %q\n", "sequential")
	tw := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "Layer (type)\tOutput Shape\tParam #")
	for _, info := range n.Layers() {
		fmt.Fprintf(tw, "%s (%s)\t%s\t%d\n", info.Name, info.Type, formatShape(info.OutputShape), info.Params)
	}
	tw.Flush()
	fmt.Fprintf(&b, "Total params: %d\n", n.ParamCount())
	fmt.Fprintf(&b, "Trainable params: %d\n", n.ParamCount())
	fmt.Fprintf(&b, "Non-trainable params: 0\n")
	return b.String()
}

func (n *Network) params() []*param {
	var ps []*param
	for _, l := range n.layers {
		ps = append(ps, l.params()...)
	}
	return ps
}

// Weights returns a copy of every weight array keyed by "<layer>/<name>".
func (n *Network) Weights() map[string][]float64 {
	out := make(map[string][]float64)
	for _, p := range n.params() {
		out[p.name] = slices.Clone(p.value)
	}
	return out
}

// SetWeights replaces every weight array from w, which must hold exactly
// the keys and lengths returned by Weights.
func (n *Network) SetWeights(w map[string][]float64) error {
	ps := n.params()
	if len(w) != len(ps) {
		return fmt.Errorf("got %d weight arrays, want %d", len(w), len(ps))
	}
	for _, p := range ps {
		v, ok := w[p.name]
		if !ok {
			return fmt.Errorf("missing weights %q", p.name)
		}
		if len(v) != len(p.value) {
			return fmt.Errorf("weights %q have %d values, want %d", p.name, len(v), len(p.value))
		}
	}
	for _, p := range ps {
		copy(p.value, w[p.name])
	}
	return nil
}

// forward returns the predicted probability for one sample.
func (n *Network) forward(x []float64, training bool) float64 {
	out := x
	for _, l := range n.layers {
		out = l.forward(out, training)
	}
	return out[0]
}

// backward accumulates gradients for the sample of the last forward call.
func (n *Network) backward(p, y float64) {
	d := []float64{p - y}
	for i := len(n.layers) - 1; i >= 0; i-- {
		d = n.layers[i].backward(d)
	}
}

func (n *Network) zeroGrads(ps []*param) {
	for _, p := range ps {
		p.zeroGrad()
	}
}

func (n *Network) checkInput(x *tensor.Tensor, y []float64) error {
	if got := x.Shape().Sample(); got != n.input {
		return fmt.Errorf("%w: sample shape %v, network expects %v", tensor.ErrDataFormat, got, n.input)
	}
	if y != nil && len(y) != x.Len() {
		return fmt.Errorf("%w: %d labels for %d samples", tensor.ErrDataFormat, len(y), x.Len())
	}
	return nil
}

// EpochStats records one training epoch.
type EpochStats struct {
	Epoch       int           `json:"epoch"`
	Loss        float64       `json:"loss"`
	Accuracy    float64       `json:"accuracy"`
	ValLoss     float64       `json:"val_loss,omitempty"`
	ValAccuracy float64       `json:"val_accuracy,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// History is the per-epoch record of a Fit call.
type History struct {
	Epochs []EpochStats `json:"epochs"`
}

// BestValAccuracy returns the highest validation accuracy and the index of
// the earliest epoch reaching it, or (0, -1) when no epoch ran.
func (h History) BestValAccuracy() (float64, int) {
	best, at := 0.0, -1
	for i, e := range h.Epochs {
		if at < 0 || e.ValAccuracy > best {
			best, at = e.ValAccuracy, i
		}
	}
	return best, at
}

// FitOptions configures Fit.
type FitOptions struct {
	// Epochs defaults to 1 when zero.
	Epochs int
	// BatchSize defaults to 32 when zero.
	BatchSize int
	// ValidationX and ValidationY are evaluated after every epoch when set.
	ValidationX *tensor.Tensor
	ValidationY []float64
	// RestoreBest restores the weights of the epoch with the best validation
	// accuracy once training ends.
	RestoreBest bool
	// OnEpoch is called after every epoch.
	OnEpoch func(EpochStats)
	Logger  *slog.Logger
}

// Fit trains the network with mini-batch gradient descent. Samples are
// shuffled every epoch from the network's seeded source; gradients are
// averaged over each batch before one optimizer step.
//
// Returns the history of completed epochs together with an error if:
//   - the sample shape or label count does not match (tensor.ErrDataFormat)
//   - the loss becomes non-finite (ErrTrainingFailure)
//   - ctx is cancelled (checked before every batch)
func (n *Network) Fit(ctx context.Context, x *tensor.Tensor, y []float64, opts FitOptions) (History, error) {
	var hist History
	if err := n.checkInput(x, y); err != nil {
		return hist, err
	}
	if opts.ValidationX != nil {
		if err := n.checkInput(opts.ValidationX, opts.ValidationY); err != nil {
			return hist, fmt.Errorf("validation: %w", err)
		}
	}
	if x.Len() == 0 {
		return hist, fmt.Errorf("%w: no training samples", tensor.ErrDataFormat)
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ps := n.params()
	n.zeroGrads(ps)

	var best map[string][]float64
	bestAcc := math.Inf(-1)

	for epoch := range opts.Epochs {
		start := time.Now()
		perm := n.rng.Perm(x.Len())
		var lossSum, correct float64

		for lo := 0; lo < len(perm); lo += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			batch := perm[lo:min(lo+opts.BatchSize, len(perm))]
			for _, j := range batch {
				p := n.forward(x.Sample(j), true)
				l := binaryCrossEntropy(p, y[j])
				if math.IsNaN(p) || math.IsNaN(l) || math.IsInf(l, 0) {
					n.zeroGrads(ps)
					return hist, fmt.Errorf("%w: non-finite loss at epoch %d", ErrTrainingFailure, epoch+1)
				}
				lossSum += l
				if predictedClass(p) == y[j] {
					correct++
				}
				n.backward(p, y[j])
			}
			scale := 1 / float64(len(batch))
			for _, p := range ps {
				for i := range p.grad {
					p.grad[i] *= scale
				}
			}
			n.opt.step(ps)
			n.zeroGrads(ps)
		}

		stats := EpochStats{
			Epoch:    epoch + 1,
			Loss:     lossSum / float64(x.Len()),
			Accuracy: correct / float64(x.Len()),
		}
		if opts.ValidationX != nil {
			vl, va, err := n.Evaluate(opts.ValidationX, opts.ValidationY)
			if err != nil {
				return hist, fmt.Errorf("validation: %w", err)
			}
			stats.ValLoss, stats.ValAccuracy = vl, va
			if opts.RestoreBest && va > bestAcc {
				bestAcc, best = va, n.Weights()
			}
		}
		stats.Duration = time.Since(start)
		hist.Epochs = append(hist.Epochs, stats)

		logger.Debug("epoch finished",
			"epoch", stats.Epoch,
			"loss", stats.Loss,
			"accuracy", stats.Accuracy,
			"val_loss", stats.ValLoss,
			"val_accuracy", stats.ValAccuracy,
			"duration_ms", stats.Duration.Milliseconds())
		if opts.OnEpoch != nil {
			opts.OnEpoch(stats)
		}
	}

	if best != nil {
		if err := n.SetWeights(best); err != nil {
			return hist, fmt.Errorf("restore best weights: %w", err)
		}
	}
	return hist, nil
}

// Evaluate returns the mean binary cross-entropy and the accuracy over x
// with dropout disabled.
func (n *Network) Evaluate(x *tensor.Tensor, y []float64) (loss, accuracy float64, err error) {
	if err := n.checkInput(x, y); err != nil {
		return 0, 0, err
	}
	if x.Len() == 0 {
		return 0, 0, fmt.Errorf("%w: no samples to evaluate", tensor.ErrDataFormat)
	}
	var correct float64
	for j := range x.Len() {
		p := n.forward(x.Sample(j), false)
		loss += binaryCrossEntropy(p, y[j])
		if predictedClass(p) == y[j] {
			correct++
		}
	}
	loss /= float64(x.Len())
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, 0, fmt.Errorf("%w: non-finite evaluation loss", ErrTrainingFailure)
	}
	return loss, correct / float64(x.Len()), nil
}

// Predict returns the earthquake probability of every sample.
func (n *Network) Predict(x *tensor.Tensor) ([]float64, error) {
	if err := n.checkInput(x, nil); err != nil {
		return nil, err
	}
	out := make([]float64, x.Len())
	for j := range out {
		out[j] = n.forward(x.Sample(j), false)
	}
	return out, nil
}
