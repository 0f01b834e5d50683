package generation

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a generation entity.
//
//	PENDING -> IN_PROGRESS -> { PROCESSING_REMOTE -> REVIEW_READY -> COMPLETED } | COMPLETED
//
// FAILED is terminal and reachable from any non-terminal state. CANCELLED is
// terminal and only reachable from PENDING, on variants that expose it.
type Status string

const (
	StatusPending          Status = "pending"
	StatusInProgress       Status = "in_progress"
	StatusProcessingRemote Status = "processing_remote"
	StatusReviewReady      Status = "review_ready"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the allowed-transition table, excluding the blanket
// non-terminal -> FAILED edge which CanTransition handles directly.
var transitions = map[Status][]Status{
	StatusPending:          {StatusInProgress, StatusCancelled},
	StatusInProgress:       {StatusProcessingRemote, StatusCompleted},
	StatusProcessingRemote: {StatusReviewReady, StatusCompleted},
	StatusReviewReady:      {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge. Writes to a
// FAILED entity are rejected rather than silently accepted, so FAILED is not
// re-enterable.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every state from which `to` is reachable. The repo uses
// it to build guarded UPDATEs, which is what arbitrates the worker/callback
// race: the loser's write matches zero rows.
func sourcesOf(to Status) []Status {
	var froms []Status
	for _, from := range []Status{
		StatusPending, StatusInProgress, StatusProcessingRemote,
		StatusReviewReady, StatusCompleted, StatusFailed, StatusCancelled,
	} {
		if CanTransition(from, to) {
			froms = append(froms, from)
		}
	}
	return froms
}

// Entity is the persisted unit of generation work. The same shape backs all
// three variant tables; it is a permanent audit record and is never deleted.
type Entity struct {
	ID     string `gorm:"primaryKey;size:26" json:"id"`
	UserID uint64 `gorm:"index;not null" json:"user_id"`

	Params datatypes.JSON `gorm:"not null" json:"params"`
	Status Status         `gorm:"type:varchar(24);index;not null" json:"status"`

	// Queue job handle, set at most once at dispatch.
	JobID *string `gorm:"type:varchar(26);index" json:"job_id"`

	// Result is written only on success paths (COMPLETED / REVIEW_READY);
	// Error only when the entity fails.
	Result datatypes.JSON `json:"result,omitempty"`
	Error  *string        `gorm:"type:varchar(1000)" json:"error,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
