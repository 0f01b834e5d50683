package generation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/forgemedia/creator-platform/internal/store/redisstore"
)

// StatusView merges the durable entity row with the live job record into a
// single progress report.
type StatusView struct {
	EntityID     string          `json:"entity_id"`
	JobID        *string         `json:"job_id,omitempty"`
	JobStatus    string          `json:"job_status"`
	EntityStatus Status          `json:"entity_status"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
}

const fallbackDuration = 60 * time.Second

// Status reconciles live and durable state for an owned entity.
//
// The live record wins while it exists: a running job reports elapsed-based
// progress capped at 99, and complete/failed records carry the freshest
// result or error. When the live record is gone (TTL expiry, store outage or
// a job that never got a handle) the durable row alone answers, with coarse
// progress: 100 for terminal entities, 50 for in-flight ones, 0 otherwise.
func (s *Service) Status(ctx context.Context, userID uint64, entityID string) (*StatusView, error) {
	e, err := s.repo.GetOwned(ctx, entityID, userID)
	if err != nil {
		return nil, err
	}

	// Never dispatched: nothing to ask the queue backend about.
	if e.JobID == nil {
		view := baseView(e)
		view.JobStatus = string(e.Status)
		if e.Status.Terminal() {
			view.Progress = 100
		}
		return view, nil
	}

	rec, err := s.jobs.Get(ctx, *e.JobID)
	if err != nil {
		if !errors.Is(err, redisstore.ErrNotFound) {
			s.log.WithError(err).WithField("job_id", *e.JobID).Warn("live job record lookup failed")
		}
		return fallbackView(e), nil
	}

	view := baseView(e)

	switch rec.State {
	case redisstore.StateQueued, redisstore.StateDeferred:
		view.JobStatus = redisstore.StateQueued
		view.Progress = 0
	case redisstore.StateRunning:
		view.JobStatus = redisstore.StateRunning
		view.Progress = runningProgress(e, s.expectedDuration(e))
	case redisstore.StateComplete:
		view.JobStatus = redisstore.StateComplete
		view.Progress = 100
		if len(rec.Result) > 0 {
			view.Result = rec.Result
		}
	case redisstore.StateFailed:
		view.JobStatus = redisstore.StateFailed
		view.Progress = 100
		if rec.Error != "" {
			msg := rec.Error
			view.Error = &msg
		}
	default:
		return fallbackView(e), nil
	}
	return view, nil
}

// runningProgress estimates completion from elapsed wall time against the
// variant's expected duration, capped below 100 so a long-running job never
// looks finished. Without a start timestamp it reports a token 10.
func runningProgress(e *Entity, expected time.Duration) int {
	if e.StartedAt == nil {
		return 10
	}
	elapsed := time.Since(*e.StartedAt)
	if expected <= 0 {
		expected = fallbackDuration
	}
	pct := int(elapsed * 100 / expected)
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

func (s *Service) expectedDuration(e *Entity) time.Duration {
	spec, err := s.v.Params(e.Params)
	if err != nil {
		return fallbackDuration
	}
	return spec.ExpectedDuration
}

func baseView(e *Entity) *StatusView {
	return &StatusView{
		EntityID:     e.ID,
		JobID:        e.JobID,
		EntityStatus: e.Status,
		Result:       json.RawMessage(e.Result),
		Error:        e.Error,
	}
}

// fallbackView answers from the durable row alone: the live record expired
// or the store is unreachable, so progress is coarse.
func fallbackView(e *Entity) *StatusView {
	view := baseView(e)
	view.JobStatus = string(e.Status)
	switch e.Status {
	case StatusCompleted:
		view.Progress = 100
	case StatusInProgress, StatusProcessingRemote:
		view.Progress = 50
	}
	return view
}
