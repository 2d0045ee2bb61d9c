package tuner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/models"
	"github.com/HatiCode/oceanquake/pkg/preprocess"
)

// TrialSpec is everything a runner needs to execute one trial.
type TrialSpec struct {
	ID        string
	Index     int
	Config    hyper.Config
	Seed      uint64
	Data      *preprocess.Split
	Epochs    int
	BatchSize int
}

// TrialOutcome is the result of a successful trial.
type TrialOutcome struct {
	Score     float64
	BestEpoch int
	History   models.History
	// Network holds the trained weights to checkpoint. It may be nil for
	// runners that do not produce a model.
	Network *models.Network
}

// TrialRunner builds and trains one configuration.
//
// Errors wrapping models.ErrConfigurationInvalid or models.ErrTrainingFailure
// mark the trial failed and the search continues. Context errors stop the
// search. Any other error is fatal.
type TrialRunner interface {
	Run(ctx context.Context, spec TrialSpec) (TrialOutcome, error)
}

// ModelRunner trains a models.Network on the training partition with the test
// partition as validation data. The score is the best epoch's validation
// accuracy and the returned network holds that epoch's weights.
type ModelRunner struct {
	Logger *slog.Logger
	// OnEpoch, when set, is called after every epoch of every trial.
	OnEpoch func(trialID string, stats models.EpochStats)
}

// Run implements TrialRunner.
func (r ModelRunner) Run(ctx context.Context, spec TrialSpec) (TrialOutcome, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	net, err := models.Build(spec.Config, spec.Data.TrainX.Shape().Sample(), spec.Seed)
	if err != nil {
		return TrialOutcome{}, fmt.Errorf("build: %w", err)
	}
	logger.Debug("model built", "trial", spec.ID, "params", net.ParamCount())

	opts := models.FitOptions{
		Epochs:      spec.Epochs,
		BatchSize:   spec.BatchSize,
		ValidationX: spec.Data.TestX,
		ValidationY: spec.Data.TestY,
		RestoreBest: true,
		Logger:      logger.With("trial", spec.ID),
	}
	if r.OnEpoch != nil {
		opts.OnEpoch = func(s models.EpochStats) { r.OnEpoch(spec.ID, s) }
	}

	hist, err := net.Fit(ctx, spec.Data.TrainX, spec.Data.TrainY, opts)
	if err != nil {
		return TrialOutcome{History: hist}, fmt.Errorf("fit: %w", err)
	}

	score, epoch := hist.BestValAccuracy()
	return TrialOutcome{
		Score:     score,
		BestEpoch: epoch + 1,
		History:   hist,
		Network:   net,
	}, nil
}
