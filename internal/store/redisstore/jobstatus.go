package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job states as written by the dispatcher and workers. "deferred" is
// accepted on read as an alias for queued (scheduled-but-not-leased jobs).
const (
	StateQueued   = "queued"
	StateDeferred = "deferred"
	StateRunning  = "running"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// ErrNotFound means no live record exists for the job handle, either because
// it was never written or because its TTL expired.
var ErrNotFound = errors.New("job record not found")

// JobRecord is the live, ephemeral view of a dispatched job. The durable
// entity row is authoritative; this record only feeds progress reporting.
type JobRecord struct {
	State     string          `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(jobID string) string { return "genjob:" + jobID }

func (s *Store) set(ctx context.Context, jobID string, rec JobRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if err := s.rdb.Set(ctx, key(jobID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

func (s *Store) SetQueued(ctx context.Context, jobID string) error {
	return s.set(ctx, jobID, JobRecord{State: StateQueued})
}

func (s *Store) SetRunning(ctx context.Context, jobID string) error {
	return s.set(ctx, jobID, JobRecord{State: StateRunning})
}

func (s *Store) SetComplete(ctx context.Context, jobID string, result json.RawMessage) error {
	return s.set(ctx, jobID, JobRecord{State: StateComplete, Result: result})
}

func (s *Store) SetFailed(ctx context.Context, jobID string, errMsg string) error {
	return s.set(ctx, jobID, JobRecord{State: StateFailed, Error: errMsg})
}

func (s *Store) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	raw, err := s.rdb.Get(ctx, key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read job record: %w", err)
	}
	var rec JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return &rec, nil
}
