package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgemedia/creator-platform/internal/common"
	"github.com/forgemedia/creator-platform/internal/credits"
	"github.com/forgemedia/creator-platform/internal/models"
	"github.com/forgemedia/creator-platform/internal/plan"
	"github.com/forgemedia/creator-platform/internal/store/redisstore"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dispatcher submits a named unit of work to the durable queue.
type Dispatcher interface {
	PublishTask(ctx context.Context, task, entityID, jobID string) error
}

// JobStatus is the slice of the live job-status store the service needs:
// seeding the queued record at dispatch and reading it back at reconcile.
type JobStatus interface {
	SetQueued(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (*redisstore.JobRecord, error)
}

// ErrOperationNotSupported covers variant-gated operations (cancel, approve)
// invoked on a variant that does not expose them.
var ErrOperationNotSupported = errors.New("operation not supported for this variant")

// Service implements one generation variant's lifecycle. Three instances of
// this one type replace the per-variant copy-paste: everything
// variant-specific lives in the Variant descriptor.
type Service struct {
	db    *gorm.DB
	repo  *Repo
	v     Variant
	queue Dispatcher
	jobs  JobStatus
	log   *logrus.Entry
}

func NewService(db *gorm.DB, v Variant, queue Dispatcher, jobs JobStatus, log *logrus.Logger) *Service {
	return &Service{
		db:    db,
		repo:  NewRepo(db, v),
		v:     v,
		queue: queue,
		jobs:  jobs,
		log:   log.WithField("variant", v.Name),
	}
}

func (s *Service) Variant() Variant { return s.v }

func (s *Service) Repo() *Repo { return s.repo }

const deductRetries = 3

// Launch gates, charges and persists a new entity, then dispatches it.
//
// The credit deduction and the PENDING insert commit in one transaction, so
// a failed insert never leaves a partial spend. Dispatch happens after the
// commit; a dispatch failure marks the already-persisted entity FAILED and
// is NOT surfaced as a launch error - callers always get the entity back and
// discover the failure through the status endpoint. Credits are never
// refunded on downstream failure.
func (s *Service) Launch(ctx context.Context, user *models.User, rawParams []byte) (*Entity, time.Time, error) {
	if err := plan.RequireFeature(user, s.v.Feature); err != nil {
		return nil, time.Time{}, err
	}

	spec, err := s.v.Params(rawParams)
	if err != nil {
		return nil, time.Time{}, err
	}

	var entity *Entity
	for attempt := 0; ; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := credits.Deduct(ctx, tx, user, s.v.Resource, spec.Cost); err != nil {
				return err
			}
			id, err := common.NewULID()
			if err != nil {
				return err
			}
			e := &Entity{
				ID:          id,
				UserID:      user.ID,
				Params:      rawParams,
				Status:      StatusPending,
				ScheduledAt: spec.ScheduledAt,
			}
			if err := s.repo.Create(ctx, tx, e); err != nil {
				return err
			}
			entity = e
			return nil
		})
		if err == nil {
			break
		}
		if errors.Is(err, credits.ErrBalanceChanged) && attempt < deductRetries-1 {
			if err := s.db.WithContext(ctx).First(user, user.ID).Error; err != nil {
				return nil, time.Time{}, err
			}
			continue
		}
		return nil, time.Time{}, err
	}

	estimated := time.Now().Add(spec.ExpectedDuration)
	s.dispatch(ctx, entity)
	return entity, estimated, nil
}

// dispatch records the job handle, flips the entity IN_PROGRESS and enqueues
// the task. An enqueue failure flips the entity to FAILED with the enqueue
// error; there is no retry.
func (s *Service) dispatch(ctx context.Context, e *Entity) {
	jobID, err := common.NewULID()
	if err != nil {
		s.failDispatch(ctx, e, fmt.Errorf("allocate job id: %w", err))
		return
	}

	if err := s.repo.MarkDispatched(ctx, e.ID, jobID); err != nil {
		s.failDispatch(ctx, e, fmt.Errorf("record job handle: %w", err))
		return
	}
	now := time.Now().UTC()
	e.Status = StatusInProgress
	e.JobID = &jobID
	e.StartedAt = &now

	// Best effort: the persisted entity record is the durable source of
	// truth, the live record is only a progress hint.
	if err := s.jobs.SetQueued(ctx, jobID); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Warn("seed live job record failed")
	}

	if err := s.queue.PublishTask(ctx, s.v.TaskName, e.ID, jobID); err != nil {
		s.failDispatch(ctx, e, fmt.Errorf("enqueue task: %w", err))
	}
}

func (s *Service) failDispatch(ctx context.Context, e *Entity, cause error) {
	s.log.WithError(cause).WithField("entity_id", e.ID).Error("dispatch failed")
	msg := cause.Error()
	if err := s.repo.MarkFailed(ctx, e.ID, msg); err != nil {
		s.log.WithError(err).WithField("entity_id", e.ID).Error("mark dispatch failure")
		return
	}
	e.Status = StatusFailed
	e.Error = &msg
}

func (s *Service) Get(ctx context.Context, userID uint64, id string) (*Entity, error) {
	return s.repo.GetOwned(ctx, id, userID)
}

func (s *Service) List(ctx context.Context, userID uint64, limit, offset int) ([]Entity, error) {
	return s.repo.List(ctx, userID, limit, offset)
}

// Cancel withdraws a still-PENDING entity on variants that expose it.
// Credits already spent stay spent.
func (s *Service) Cancel(ctx context.Context, userID uint64, id string) (*Entity, error) {
	if !s.v.AllowCancel {
		return nil, ErrOperationNotSupported
	}
	if _, err := s.repo.GetOwned(ctx, id, userID); err != nil {
		return nil, err
	}
	if err := s.repo.MarkCancelled(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Approve closes the review step: REVIEW_READY -> COMPLETED, keeping the
// result the callback attached. Any other current status is a conflict;
// in particular an entity the engine is still generating cannot be
// approved past its pending callback.
func (s *Service) Approve(ctx context.Context, userID uint64, id string) (*Entity, error) {
	if !s.v.Review {
		return nil, ErrOperationNotSupported
	}
	if _, err := s.repo.GetOwned(ctx, id, userID); err != nil {
		return nil, err
	}
	if err := s.repo.MarkApproved(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// ApplyCallback ingests a completion event from the external workflow
// engine. No ownership check: the engine is not scoped to a user session and
// the shared secret (checked by the handler) is the only trust boundary.
// A payload carrying an error fails the entity; otherwise a non-empty result
// is required and the entity moves to REVIEW_READY (review variants) or
// COMPLETED. Duplicate callbacks on an already-terminal entity surface as
// ErrInvalidTransition.
func (s *Service) ApplyCallback(ctx context.Context, entityID string, result []byte, errMsg string) (*Entity, error) {
	if _, err := s.repo.GetByID(ctx, entityID); err != nil {
		return nil, err
	}

	if errMsg != "" {
		if err := s.repo.MarkFailed(ctx, entityID, errMsg); err != nil {
			return nil, err
		}
		return s.repo.GetByID(ctx, entityID)
	}

	if len(result) == 0 {
		return nil, &ValidationError{Msg: "callback must carry a result or an error"}
	}

	var err error
	if s.v.Review {
		err = s.repo.MarkReviewReady(ctx, entityID, result)
	} else {
		err = s.repo.MarkCompleted(ctx, entityID, result)
	}
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, entityID)
}
