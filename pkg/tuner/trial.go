package tuner

import (
	"slices"
	"sync"
	"time"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/models"
	"github.com/HatiCode/oceanquake/pkg/storage"
)

// Status is the outcome of a trial.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Reason classifies a failed trial.
type Reason string

const (
	ReasonConfigurationInvalid Reason = "configuration_invalid"
	ReasonTrainingFailure      Reason = "training_failure"
)

// Trial is one finalized entry of the ledger. Score and BestEpoch are only
// meaningful when Status is StatusCompleted; Reason and Message only when it
// is StatusFailed.
type Trial struct {
	ID        string
	Index     int
	Seed      uint64
	Config    hyper.Config
	Status    Status
	Score     float64
	BestEpoch int
	Reason    Reason
	Message   string
	History   models.History
	Duration  time.Duration
	Guided    bool
}

// Completed reports whether the trial produced a score.
func (t Trial) Completed() bool {
	return t.Status == StatusCompleted
}

// Record converts the trial to its persisted form.
func (t Trial) Record(session string, finishedAt time.Time) storage.TrialRecord {
	rec := storage.TrialRecord{
		Session:    session,
		ID:         t.ID,
		Index:      t.Index,
		Config:     t.Config.Clone(),
		Status:     string(t.Status),
		Reason:     string(t.Reason),
		Message:    t.Message,
		History:    slices.Clone(t.History.Epochs),
		Duration:   t.Duration,
		FinishedAt: finishedAt,
	}
	if t.Completed() {
		score := t.Score
		rec.Score = &score
		rec.BestEpoch = t.BestEpoch
	}
	return rec
}

// Ledger is the append-only, ordered list of finalized trials.
type Ledger struct {
	mu     sync.RWMutex
	trials []Trial
}

// Append adds a finalized trial.
func (l *Ledger) Append(t Trial) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trials = append(l.trials, t)
}

// Len returns the number of trials recorded.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trials)
}

// Trials returns a copy of the ledger in trial order.
func (l *Ledger) Trials() []Trial {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.trials)
}

// Best returns the completed trial with the highest score, the earliest one
// on ties. ok is false when no trial completed.
func (l *Ledger) Best() (best Trial, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.trials {
		if t.Completed() && (!ok || t.Score > best.Score) {
			best, ok = t, true
		}
	}
	return best, ok
}

// Counts returns the number of completed and failed trials.
func (l *Ledger) Counts() (completed, failed int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.trials {
		if t.Completed() {
			completed++
		} else {
			failed++
		}
	}
	return completed, failed
}
