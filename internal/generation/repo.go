package generation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when a status write finds the entity in a
// state the transition table does not allow as a source. This includes a
// duplicate terminal write losing the worker/callback race.
var ErrInvalidTransition = errors.New("invalid status transition")

// Repo persists one variant's entities. All status mutations are guarded
// UPDATEs keyed on the allowed source states, so concurrent writers cannot
// both land a terminal state.
type Repo struct {
	db *gorm.DB
	v  Variant
}

func NewRepo(db *gorm.DB, v Variant) *Repo {
	return &Repo{db: db, v: v}
}

func (r *Repo) table(ctx context.Context, db *gorm.DB) *gorm.DB {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Table(r.v.Table)
}

// Create inserts a new PENDING entity. Pass the transaction handle when the
// insert must commit atomically with a credit deduction.
func (r *Repo) Create(ctx context.Context, tx *gorm.DB, e *Entity) error {
	return r.table(ctx, tx).Create(e).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Entity, error) {
	var e Entity
	if err := r.table(ctx, nil).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// GetOwned hides entities belonging to other users behind a not-found.
func (r *Repo) GetOwned(ctx context.Context, id string, userID uint64) (*Entity, error) {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return e, nil
}

func (r *Repo) List(ctx context.Context, userID uint64, limit, offset int) ([]Entity, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var out []Entity
	err := r.table(ctx, nil).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	return out, err
}

// transition performs the guarded status write. Zero rows affected is either
// a missing entity or a disallowed source state.
func (r *Repo) transition(ctx context.Context, id string, to Status, set map[string]any) error {
	set["status"] = to
	set["updated_at"] = time.Now().UTC()

	tx := r.table(ctx, nil).
		Where("id = ? AND status IN ?", id, sourcesOf(to)).
		Updates(set)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// MarkDispatched records the job handle and flips PENDING -> IN_PROGRESS.
// The job_id IS NULL guard keeps the handle immutable once set.
func (r *Repo) MarkDispatched(ctx context.Context, id, jobID string) error {
	now := time.Now().UTC()
	tx := r.table(ctx, nil).
		Where("id = ? AND status = ? AND job_id IS NULL", id, StatusPending).
		Updates(map[string]any{
			"status":     StatusInProgress,
			"job_id":     jobID,
			"started_at": now,
			"updated_at": now,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// MarkProcessingRemote flags that the entity now awaits an engine callback.
func (r *Repo) MarkProcessingRemote(ctx context.Context, id string) error {
	return r.transition(ctx, id, StatusProcessingRemote, map[string]any{})
}

// MarkReviewReady attaches engine output that still needs human approval.
func (r *Repo) MarkReviewReady(ctx context.Context, id string, result []byte) error {
	return r.transition(ctx, id, StatusReviewReady, map[string]any{
		"result": result,
	})
}

// MarkCompleted finishes the entity. A nil result leaves any previously
// attached result (the REVIEW_READY payload) in place.
func (r *Repo) MarkCompleted(ctx context.Context, id string, result []byte) error {
	set := map[string]any{
		"completed_at": time.Now().UTC(),
	}
	if result != nil {
		set["result"] = result
	}
	return r.transition(ctx, id, StatusCompleted, set)
}

// MarkApproved closes the human review step. Unlike MarkCompleted its only
// legal source is REVIEW_READY: an entity still being generated must not be
// completable by an early approve, or the engine's eventual callback would
// be rejected and the content lost.
func (r *Repo) MarkApproved(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tx := r.table(ctx, nil).
		Where("id = ? AND status = ?", id, StatusReviewReady).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// MarkFailed is the only write allowed from every non-terminal state.
// Messages longer than the column are truncated rather than rejected.
func (r *Repo) MarkFailed(ctx context.Context, id, msg string) error {
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return r.transition(ctx, id, StatusFailed, map[string]any{
		"error": msg,
	})
}

// MarkCancelled withdraws a still-PENDING entity.
func (r *Repo) MarkCancelled(ctx context.Context, id string) error {
	return r.transition(ctx, id, StatusCancelled, map[string]any{})
}
