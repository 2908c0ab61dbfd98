// Package events defines the payloads published to collaborating services.
package events

import (
	"fmt"
	"time"
)

// Event types written to the outbox and consumed from collaborators.
const (
	TypeEnrollmentStateChanged = "enrollment.state_changed"
	TypeRosterReplaced         = "roster.replaced"
	TypeActivityStatusChanged  = "activity.status_changed"
)

// Event is implemented by every payload written to the transactional outbox.
type Event interface {
	EventType() string
	PartitionKey() string
	DedupeKey() string
}

// EnrollmentStateChanged is emitted once per enrollment record transition,
// including waitlist promotions and bulk cancellations.
type EnrollmentStateChanged struct {
	RecordID   string    `json:"record_id"`
	ActivityID string    `json:"activity_id"`
	SubjectID  string    `json:"subject_id"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason,omitempty"`
}

func (e EnrollmentStateChanged) EventType() string { return TypeEnrollmentStateChanged }

// PartitionKey keys by activity so consumers observe transitions for one
// activity in order.
func (e EnrollmentStateChanged) PartitionKey() string { return e.ActivityID }

func (e EnrollmentStateChanged) DedupeKey() string {
	return fmt.Sprintf("%s:%s", e.RecordID, e.State)
}

// RosterReplaced is emitted when a coordinator overrides an activity's
// confirmed roster in one step.
type RosterReplaced struct {
	ActivityID string    `json:"activity_id"`
	SubjectIDs []string  `json:"subject_ids"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e RosterReplaced) EventType() string { return TypeRosterReplaced }

func (e RosterReplaced) PartitionKey() string { return e.ActivityID }

func (e RosterReplaced) DedupeKey() string {
	return fmt.Sprintf("%s:roster:%d", e.ActivityID, e.OccurredAt.UnixNano())
}

// ActivityStatusChanged is consumed from the activity-management service when
// an activity is rescheduled, cancelled, or completed.
type ActivityStatusChanged struct {
	ActivityID string    `json:"activity_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}
