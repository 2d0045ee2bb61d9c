package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrClosed is returned by RedisStore methods called after Close.
var ErrClosed = errors.New("redis store is closed")

// RedisStore implements the Store interface using Redis as a backend, so a
// search's ledger and best checkpoint outlive the process and can be read by
// other instances. Every key expires after the configured TTL, refreshed on
// each write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore creates a new Redis-backed store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: Session expiration duration (0 uses default of 7 days)
//
// Returns an error if the connection to Redis fails or if parameters are invalid.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

// conn returns the live client, or ErrClosed once Close has run.
func (r *RedisStore) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, ErrClosed
	}
	return r.client, nil
}

func trialsKey(session string) string {
	return fmt.Sprintf("oceanquake:%s:trials", session)
}

func checkpointKey(session, trialID string) string {
	return fmt.Sprintf("oceanquake:%s:checkpoint:%s", session, trialID)
}

// PutTrial appends a trial record to the session list
// "oceanquake:{session}:trials" and refreshes its TTL.
func (r *RedisStore) PutTrial(ctx context.Context, rec TrialRecord) error {
	if err := validateName("session", rec.Session); err != nil {
		return err
	}
	if err := validateName("trial", rec.ID); err != nil {
		return err
	}

	client, err := r.conn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal trial: %w", err)
	}

	key := trialsKey(rec.Session)
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store trial in redis: %w", err)
	}
	return nil
}

// ListTrials returns the session's records in insertion order.
func (r *RedisStore) ListTrials(ctx context.Context, session string) ([]TrialRecord, error) {
	if err := validateName("session", session); err != nil {
		return nil, err
	}

	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	raw, err := client.LRange(ctx, trialsKey(session), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list trials from redis: %w", err)
	}

	records := make([]TrialRecord, len(raw))
	for i, data := range raw {
		if err := json.Unmarshal([]byte(data), &records[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trial %d: %w", i, err)
		}
	}
	return records, nil
}

// PutCheckpoint stores a checkpoint under
// "oceanquake:{session}:checkpoint:{trial}".
func (r *RedisStore) PutCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := validateName("session", cp.Session); err != nil {
		return err
	}
	if err := validateName("trial", cp.TrialID); err != nil {
		return err
	}

	client, err := r.conn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := client.Set(ctx, checkpointKey(cp.Session, cp.TrialID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store checkpoint in redis: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves a trial's checkpoint.
//
// Returns:
//   - checkpoint: The stored checkpoint (zero value if not found)
//   - found: true if the checkpoint exists, false if not found
//   - error: non-nil if an error occurred (excluding "not found")
func (r *RedisStore) GetCheckpoint(ctx context.Context, session, trialID string) (Checkpoint, bool, error) {
	if err := validateName("session", session); err != nil {
		return Checkpoint{}, false, err
	}
	if err := validateName("trial", trialID); err != nil {
		return Checkpoint{}, false, err
	}

	client, err := r.conn()
	if err != nil {
		return Checkpoint{}, false, err
	}

	data, err := client.Get(ctx, checkpointKey(session, trialID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("failed to get checkpoint from redis: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}

	return err
}

// Ping checks the Redis connection health.
// Returns an error if the connection is unavailable or the store is closed.
func (r *RedisStore) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}
