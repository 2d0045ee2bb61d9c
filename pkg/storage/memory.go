package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type memorySession struct {
	trials      []TrialRecord
	checkpoints map[string]Checkpoint
	updated     time.Time
}

// MemoryStore implements an in-memory store for search sessions.
// It is safe for concurrent use by multiple goroutines.
//
// If TTL is configured, a background goroutine removes sessions that have not
// been written to for longer than the TTL. For searches whose ledger must
// outlive the process, use RedisStore instead.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*memorySession
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a new in-memory store with no TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
	}
}

// NewMemoryStoreWithTTL creates a new in-memory store with automatic
// TTL-based cleanup.
//
// The cleanup goroutine must be stopped by calling Stop() when the store
// is no longer needed to prevent goroutine leaks.
//
// cleanupInterval determines how often the cleanup runs (typically 1 minute).
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := &MemoryStore{
		sessions:      make(map[string]*memorySession),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop shuts down the background cleanup goroutine and blocks until it has
// exited. Calling Stop multiple times or on a store without TTL does nothing.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes sessions idle for longer than the TTL.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}

	now := time.Now()
	for name, sess := range s.sessions {
		if now.Sub(sess.updated) > s.ttl {
			delete(s.sessions, name)
		}
	}
}

// session returns the named session, creating it if needed. Callers hold mu.
func (s *MemoryStore) session(name string) *memorySession {
	sess, ok := s.sessions[name]
	if !ok {
		sess = &memorySession{checkpoints: make(map[string]Checkpoint)}
		s.sessions[name] = sess
	}
	sess.updated = time.Now()
	return sess
}

// PutTrial appends a trial record to its session.
//
// Returns an error if the session or trial id is invalid or the context is
// cancelled.
func (s *MemoryStore) PutTrial(ctx context.Context, rec TrialRecord) error {
	if err := validateName("session", rec.Session); err != nil {
		return err
	}
	if err := validateName("trial", rec.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(rec.Session)
	sess.trials = append(sess.trials, rec)
	return nil
}

// ListTrials returns a copy of the session's records in insertion order. An
// unknown session yields an empty list.
func (s *MemoryStore) ListTrials(ctx context.Context, session string) ([]TrialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[session]
	if !ok {
		return []TrialRecord{}, nil
	}
	return slices.Clone(sess.trials), nil
}

// PutCheckpoint stores a checkpoint, replacing any previous one for the same
// trial.
func (s *MemoryStore) PutCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := validateName("session", cp.Session); err != nil {
		return err
	}
	if err := validateName("trial", cp.TrialID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	weights := make(map[string][]float64, len(cp.Weights))
	for k, v := range cp.Weights {
		weights[k] = slices.Clone(v)
	}
	cp.Weights = weights

	s.mu.Lock()
	defer s.mu.Unlock()

	s.session(cp.Session).checkpoints[cp.TrialID] = cp
	return nil
}

// GetCheckpoint retrieves a trial's checkpoint.
//
// Returns:
//   - checkpoint: The stored checkpoint (zero value if not found)
//   - found: true if a checkpoint exists for this trial, false otherwise
//   - error: Context error if context is canceled, nil otherwise
func (s *MemoryStore) GetCheckpoint(ctx context.Context, session, trialID string) (Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[session]
	if !ok {
		return Checkpoint{}, false, nil
	}
	cp, ok := sess.checkpoints[trialID]
	return cp, ok, nil
}

// Len returns the number of sessions currently stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// String implements fmt.Stringer for log output.
func (s *MemoryStore) String() string {
	return fmt.Sprintf("memory(%d sessions)", s.Len())
}
