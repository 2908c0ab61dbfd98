package domain

import "time"

// RecordState is the lifecycle state of one subject's enrollment in one activity.
type RecordState string

const (
	// StatePending is transient and only used while a bulk roster replacement
	// is being assembled inside its transaction.
	StatePending    RecordState = "pending"
	StateWaitlisted RecordState = "waitlisted"
	StateConfirmed  RecordState = "confirmed"
	StateCheckedIn  RecordState = "checked_in"
	StateCompleted  RecordState = "completed"
	StateCancelled  RecordState = "cancelled"
)

// HoldsSlot reports whether the state occupies one of the activity's
// confirmed slots. Occupancy is always derived by counting these states.
func (s RecordState) HoldsSlot() bool {
	return s == StateConfirmed || s == StateCheckedIn
}

// CanTransition reports whether the state machine permits moving to next.
// Cancelled is terminal; re-claiming creates a fresh record instead.
func (s RecordState) CanTransition(next RecordState) bool {
	switch s {
	case StatePending:
		return next == StateConfirmed || next == StateCancelled
	case StateWaitlisted:
		return next == StateConfirmed || next == StateCancelled
	case StateConfirmed:
		return next == StateCheckedIn || next == StateCompleted || next == StateCancelled
	case StateCheckedIn:
		return next == StateCompleted || next == StateCancelled
	default:
		return false
	}
}

// ParticipationReached reports whether the subject attended far enough to
// submit feedback or receive a certificate.
func (s RecordState) ParticipationReached() bool {
	return s == StateCheckedIn || s == StateCompleted
}

// EnrollmentRecord captures one subject's relationship to one activity.
// At most one non-cancelled record exists per (subject, activity) pair.
type EnrollmentRecord struct {
	ID          string
	SubjectID   string
	ActivityID  string
	Tag         string
	State       RecordState
	Seq         int64 // insertion sequence, breaks waitlist ties
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CheckedInAt *time.Time
	CompletedAt *time.Time
}

// Active reports whether the record still binds the subject to the activity.
func (r *EnrollmentRecord) Active() bool {
	return r != nil && r.State != StateCancelled
}
