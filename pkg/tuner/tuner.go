// Package tuner runs the Bayesian hyperparameter search over ConvLSTM
// architectures.
//
// Trials run strictly one after another: each proposal depends on the
// surrogate posterior accumulated from every earlier trial. A trial that
// cannot be built or diverges is recorded as failed and the search carries
// on; the ledger therefore holds one entry per executed trial, failures
// flagged. The best model is rebuilt from the checkpoint kept in the store.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/models"
	"github.com/HatiCode/oceanquake/pkg/preprocess"
	"github.com/HatiCode/oceanquake/pkg/storage"
)

// Defaults applied by Options when a field is zero.
const (
	DefaultMaxTrials     = 20
	DefaultInitialPoints = 2
	DefaultEpochs        = 50
	DefaultBatchSize     = 32
	DefaultBeta          = 2.6
	DefaultCandidates    = 500
)

// ErrNoCompletedTrials is returned with the result when every trial failed.
var ErrNoCompletedTrials = errors.New("no trial completed")

// StopReason explains why the search ended.
type StopReason string

const (
	StopBudget    StopReason = "budget"
	StopDeadline  StopReason = "deadline"
	StopPlateau   StopReason = "plateau"
	StopCancelled StopReason = "cancelled"
	StopError     StopReason = "error"
)

// Options configures a search.
type Options struct {
	MaxTrials     int
	InitialPoints int
	Seed          uint64
	Epochs        int
	BatchSize     int
	// Beta weighs the posterior deviation in the upper confidence bound.
	Beta float64
	// Candidates is the number of random configurations scored by the
	// acquisition function per guided trial.
	Candidates int
	// MaxDuration stops the search before starting a trial once this much
	// wall-clock time has passed. Zero disables it.
	MaxDuration time.Duration
	// Patience stops the search after this many consecutive trials without
	// a new best score. Zero disables it.
	Patience int
	// Project names the session in the store. A random UUID is used when
	// empty.
	Project string
}

func (o *Options) applyDefaults() {
	if o.MaxTrials == 0 {
		o.MaxTrials = DefaultMaxTrials
	}
	if o.InitialPoints == 0 {
		o.InitialPoints = DefaultInitialPoints
	}
	if o.Epochs == 0 {
		o.Epochs = DefaultEpochs
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Beta == 0 {
		o.Beta = DefaultBeta
	}
	if o.Candidates == 0 {
		o.Candidates = DefaultCandidates
	}
	if o.Project == "" {
		o.Project = uuid.NewString()
	}
}

// WithDefaults returns o with zero fields set to the package defaults. An
// empty Project gets a fresh random name, so callers that need the session
// name before New can read it from the result.
func (o Options) WithDefaults() Options {
	o.applyDefaults()
	return o
}

func (o Options) validate() error {
	switch {
	case o.MaxTrials < 0:
		return fmt.Errorf("max trials must be >= 0, got %d", o.MaxTrials)
	case o.InitialPoints < 0:
		return fmt.Errorf("initial points must be >= 0, got %d", o.InitialPoints)
	case o.Epochs < 0:
		return fmt.Errorf("epochs must be >= 0, got %d", o.Epochs)
	case o.BatchSize < 0:
		return fmt.Errorf("batch size must be >= 0, got %d", o.BatchSize)
	case o.Beta < 0:
		return fmt.Errorf("beta must be >= 0, got %v", o.Beta)
	case o.Candidates < 0:
		return fmt.Errorf("candidates must be >= 0, got %d", o.Candidates)
	case o.MaxDuration < 0:
		return fmt.Errorf("max duration must be >= 0, got %v", o.MaxDuration)
	case o.Patience < 0:
		return fmt.Errorf("patience must be >= 0, got %d", o.Patience)
	}
	return nil
}

// Observer is notified as trials progress. Calls happen on the search
// goroutine.
type Observer interface {
	TrialStarted(id string, index int, cfg hyper.Config)
	TrialFinished(t Trial)
}

type nopObserver struct{}

func (nopObserver) TrialStarted(string, int, hyper.Config) {}
func (nopObserver) TrialFinished(Trial)                    {}

// Result is the outcome of a search.
type Result struct {
	Session string
	// Best is nil when no trial completed.
	Best *Trial
	// Model is the best trial's network rebuilt from its checkpoint.
	Model      *models.Network
	Trials     []Trial
	Completed  int
	Failed     int
	StopReason StopReason
	Elapsed    time.Duration
}

// Tuner drives the search.
type Tuner struct {
	space    hyper.Space
	store    storage.Store
	runner   TrialRunner
	observer Observer
	opts     Options
	logger   *slog.Logger
}

// New creates a tuner over space that persists to store.
//
// Parameters:
//   - space: Search space; every proposal is drawn from and validated against it
//   - store: Trial and checkpoint store (required)
//   - runner: Trial runner (nil uses ModelRunner)
//   - observer: Progress observer (nil disables notifications)
//   - opts: Search options; zero fields take the package defaults
//   - logger: Logger (nil uses slog.Default())
//
// Returns an error if the space or any option is invalid.
//
// Panics if store is nil.
func New(space hyper.Space, store storage.Store, runner TrialRunner, observer Observer, opts Options, logger *slog.Logger) (*Tuner, error) {
	if store == nil {
		panic("store cannot be nil")
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ModelRunner{Logger: logger}
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Tuner{
		space:    space,
		store:    store,
		runner:   runner,
		observer: observer,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Session returns the project name trials are stored under.
func (t *Tuner) Session() string {
	return t.opts.Project
}

// Options returns the effective options after defaults.
func (t *Tuner) Options() Options {
	return t.opts
}

// trialID zero-pads index to the width of the largest index, at least two
// digits.
func trialID(index, maxTrials int) string {
	width := max(2, len(strconv.Itoa(maxTrials-1)))
	return fmt.Sprintf("%0*d", width, index)
}

// Search runs up to MaxTrials trials on data and returns the best trial with
// its rebuilt model and the complete ledger.
//
// Returns an error if:
//   - The store rejects a write or read (fatal; the result holds the trials so far)
//   - The runner returns an error that is not a per-trial failure
//   - ctx is cancelled (the result holds the trials finished so far)
//   - Every trial failed (ErrNoCompletedTrials, with the full result)
func (t *Tuner) Search(ctx context.Context, data *preprocess.Split) (*Result, error) {
	start := time.Now()
	ledger := &Ledger{}
	orc := newOracle(t.space, t.opts.Seed, t.opts.InitialPoints, t.opts.Beta, t.opts.Candidates, t.logger)

	t.logger.Info("search started",
		"session", t.opts.Project,
		"max_trials", t.opts.MaxTrials,
		"initial_points", t.opts.InitialPoints,
		"epochs", t.opts.Epochs,
		"batch_size", t.opts.BatchSize,
		"train_samples", data.TrainX.Len(),
		"test_samples", data.TestX.Len())

	reason := StopBudget
	var bestScore float64
	haveBest := false
	sinceBest := 0

	for i := range t.opts.MaxTrials {
		if err := ctx.Err(); err != nil {
			return t.finish(ctx, ledger, StopCancelled, start, err)
		}
		if t.opts.MaxDuration > 0 && time.Since(start) >= t.opts.MaxDuration {
			reason = StopDeadline
			break
		}
		if t.opts.Patience > 0 && haveBest && sinceBest >= t.opts.Patience {
			reason = StopPlateau
			break
		}

		cfg, guided := orc.next()
		trial, outcome, err := t.runTrial(ctx, data, i, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return t.finish(ctx, ledger, StopCancelled, start, ctx.Err())
			}
			return t.finish(ctx, ledger, StopError, start, fmt.Errorf("trial %s: %w", trial.ID, err))
		}
		trial.Guided = guided

		ledger.Append(trial)
		if err := t.store.PutTrial(ctx, trial.Record(t.opts.Project, time.Now())); err != nil {
			return t.finish(ctx, ledger, StopError, start, fmt.Errorf("store trial %s: %w", trial.ID, err))
		}

		if trial.Completed() {
			orc.observe(trial.Config, trial.Score)
			if !haveBest || trial.Score > bestScore {
				if err := t.checkpoint(ctx, trial, outcome.Network); err != nil {
					return t.finish(ctx, ledger, StopError, start, err)
				}
				bestScore, haveBest, sinceBest = trial.Score, true, 0
			} else {
				sinceBest++
			}
		} else if haveBest {
			sinceBest++
		}

		t.observer.TrialFinished(trial)
		t.logger.Info("trial finished",
			"trial", trial.ID,
			"status", trial.Status,
			"score", trial.Score,
			"reason", trial.Reason,
			"guided", trial.Guided,
			"config", trial.Config.Key(),
			"duration_ms", trial.Duration.Milliseconds())
	}

	return t.finish(ctx, ledger, reason, start, nil)
}

// runTrial executes one trial. A returned error is never a per-trial
// failure; those are folded into the trial.
func (t *Tuner) runTrial(ctx context.Context, data *preprocess.Split, index int, cfg hyper.Config) (Trial, TrialOutcome, error) {
	trial := Trial{
		ID:     trialID(index, t.opts.MaxTrials),
		Index:  index,
		Seed:   t.opts.Seed + uint64(index),
		Config: cfg,
	}
	t.observer.TrialStarted(trial.ID, index, cfg)
	started := time.Now()

	if err := cfg.Validate(t.space); err != nil {
		trial.Duration = time.Since(started)
		return failed(trial, ReasonConfigurationInvalid, err), TrialOutcome{}, nil
	}

	outcome, err := t.runner.Run(ctx, TrialSpec{
		ID:        trial.ID,
		Index:     index,
		Config:    cfg.Clone(),
		Seed:      trial.Seed,
		Data:      data,
		Epochs:    t.opts.Epochs,
		BatchSize: t.opts.BatchSize,
	})
	trial.Duration = time.Since(started)
	trial.History = outcome.History

	switch {
	case err == nil:
		trial.Status = StatusCompleted
		trial.Score = outcome.Score
		trial.BestEpoch = outcome.BestEpoch
		return trial, outcome, nil
	case errors.Is(err, models.ErrConfigurationInvalid):
		return failed(trial, ReasonConfigurationInvalid, err), outcome, nil
	case errors.Is(err, models.ErrTrainingFailure):
		return failed(trial, ReasonTrainingFailure, err), outcome, nil
	}
	return trial, outcome, err
}

func failed(t Trial, reason Reason, err error) Trial {
	t.Status = StatusFailed
	t.Score = 0
	t.Reason = reason
	t.Message = err.Error()
	return t
}

// checkpoint stores the weights of a new best trial.
func (t *Tuner) checkpoint(ctx context.Context, trial Trial, net *models.Network) error {
	if net == nil {
		return nil
	}
	cp := storage.Checkpoint{
		Session: t.opts.Project,
		TrialID: trial.ID,
		Config:  trial.Config.Clone(),
		Input:   net.InputShape(),
		Seed:    net.Seed(),
		Score:   trial.Score,
		Weights: net.Weights(),
		SavedAt: time.Now(),
	}
	if err := t.store.PutCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("store checkpoint %s: %w", trial.ID, err)
	}
	t.logger.Debug("checkpoint stored", "trial", trial.ID, "score", trial.Score)
	return nil
}

// Rebuild reconstructs a trained network from a stored checkpoint.
//
// Returns found=false when the store holds no checkpoint for the trial.
func Rebuild(ctx context.Context, store storage.Store, session, trialID string) (*models.Network, bool, error) {
	cp, found, err := store.GetCheckpoint(ctx, session, trialID)
	if err != nil || !found {
		return nil, found, err
	}
	net, err := models.Build(cp.Config, cp.Input, cp.Seed)
	if err != nil {
		return nil, true, fmt.Errorf("rebuild trial %s: %w", trialID, err)
	}
	if err := net.SetWeights(cp.Weights); err != nil {
		return nil, true, fmt.Errorf("restore trial %s weights: %w", trialID, err)
	}
	return net, true, nil
}

// finish assembles the result. cause is returned unchanged unless it is nil
// and no trial completed.
func (t *Tuner) finish(ctx context.Context, ledger *Ledger, reason StopReason, start time.Time, cause error) (*Result, error) {
	res := &Result{
		Session:    t.opts.Project,
		Trials:     ledger.Trials(),
		StopReason: reason,
	}
	res.Completed, res.Failed = ledger.Counts()

	if best, ok := ledger.Best(); ok {
		res.Best = &best
		// the caller may have cancelled ctx; the checkpoint read must still run
		net, found, err := Rebuild(context.WithoutCancel(ctx), t.store, t.opts.Project, best.ID)
		switch {
		case err != nil && cause == nil:
			cause = err
		case found:
			res.Model = net
		}
	}
	res.Elapsed = time.Since(start)

	t.logger.Info("search finished",
		"session", res.Session,
		"stop_reason", res.StopReason,
		"completed", res.Completed,
		"failed", res.Failed,
		"elapsed_ms", res.Elapsed.Milliseconds())

	if cause == nil && res.Best == nil {
		cause = ErrNoCompletedTrials
	}
	return res, cause
}
