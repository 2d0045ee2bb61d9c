// Command gendata writes a synthetic ocean-colour dataset in the JSON record
// convention read by hypersearch.
//
// Usage:
//
//	gendata -out=data -n=100 -t=5 -h=10 -w=10 -c=3 -positive=0.5 -seed=42
//
// It writes <out>/features.json and <out>/labels.json.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/HatiCode/oceanquake/pkg/tensor"
	"github.com/HatiCode/oceanquake/pkg/synth"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	features, labels, err := generate(cfg)
	if err != nil {
		logger.Error("gendata failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dataset written", "features", features, "labels", labels, "shape", cfg.shape.String())
}

type options struct {
	out   string
	shape tensor.Shape
	synth synth.Options
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("gendata", flag.ContinueOnError)
	fs.StringVar(&o.out, "out", ".", "Output directory")
	fs.IntVar(&o.shape.N, "n", 100, "Samples")
	fs.IntVar(&o.shape.T, "t", 5, "Time-steps per sample")
	fs.IntVar(&o.shape.H, "h", 10, "Grid height")
	fs.IntVar(&o.shape.W, "w", 10, "Grid width")
	fs.IntVar(&o.shape.C, "c", 3, "Channels")
	positive := fs.Float64("positive", synth.DefaultPositiveFraction, "Share of positive samples")
	fs.Float64Var(&o.synth.Signal, "signal", 1, "Precursor amplitude relative to the background range")
	fs.Float64Var(&o.synth.Noise, "noise", 0.05, "Noise deviation relative to the background range")
	fs.Uint64Var(&o.synth.Seed, "seed", 42, "Random seed")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.synth.Shape = o.shape
	o.synth.PositiveFraction = positive
	return o, nil
}
