// Package storage persists search sessions: the trial ledger and the weights
// of the best model found so far.
//
// A session is one search run identified by its project name. Trials are
// appended in order and never rewritten; checkpoints are keyed by trial id.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/models"
	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// TrialRecord is the persisted form of one finished trial.
type TrialRecord struct {
	Session    string              `json:"session"`
	ID         string              `json:"id"`
	Index      int                 `json:"index"`
	Config     hyper.Config        `json:"config"`
	Status     string              `json:"status"`
	Score      *float64            `json:"score,omitempty"`
	BestEpoch  int                 `json:"best_epoch,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Message    string              `json:"message,omitempty"`
	History    []models.EpochStats `json:"history,omitempty"`
	Duration   time.Duration       `json:"duration"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Checkpoint holds everything needed to rebuild a trained network.
type Checkpoint struct {
	Session string               `json:"session"`
	TrialID string               `json:"trial_id"`
	Config  hyper.Config         `json:"config"`
	Input   tensor.SampleShape   `json:"input"`
	Seed    uint64               `json:"seed"`
	Score   float64              `json:"score"`
	Weights map[string][]float64 `json:"weights"`
	SavedAt time.Time            `json:"saved_at"`
}

// Store persists trial records and checkpoints. Implementations are safe for
// concurrent use.
type Store interface {
	PutTrial(ctx context.Context, rec TrialRecord) error
	// ListTrials returns a session's records in the order they were put.
	ListTrials(ctx context.Context, session string) ([]TrialRecord, error)
	PutCheckpoint(ctx context.Context, cp Checkpoint) error
	GetCheckpoint(ctx context.Context, session, trialID string) (Checkpoint, bool, error)
}

// validateName accepts alphanumerics, hyphens and underscores only, so names
// are safe to embed in keys.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name required", kind)
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid %s name %q: only alphanumeric, hyphens, and underscores allowed", kind, name)
		}
	}
	return nil
}
