package domain

import (
	"context"
	"time"

	"example.com/enrollment/internal/events"
)

// Store is the transactional boundary the enrollment core runs inside.
type Store interface {
	// WithinTx runs fn inside one serializable transaction. Either every
	// write fn performed is committed or none is. Implementations map
	// serialization failures to ErrConflict and duplicate active-pair
	// violations to ErrAlreadyEnrolled.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the reads and writes available inside one transaction.
type Tx interface {
	// Activity returns the activity projection, or nil when unknown.
	Activity(ctx context.Context, activityID string) (*Activity, error)
	// SetActivityStatus projects a collaborator status change locally.
	SetActivityStatus(ctx context.Context, activityID string, status ActivityStatus) error

	// ActiveRecord returns the non-cancelled record for the pair, or nil.
	ActiveRecord(ctx context.Context, subjectID, activityID string) (*EnrollmentRecord, error)
	// ActiveRecords returns all non-cancelled records for the activity in
	// insertion order.
	ActiveRecords(ctx context.Context, activityID string) ([]EnrollmentRecord, error)
	// HoldingRecords returns the records occupying confirmed slots.
	HoldingRecords(ctx context.Context, activityID string) ([]EnrollmentRecord, error)
	// CountHolding counts records occupying confirmed slots.
	CountHolding(ctx context.Context, activityID string) (int, error)
	// NextWaitlisted returns the earliest-created waitlisted record, ties
	// broken by insertion sequence, or nil when the waitlist is empty.
	NextWaitlisted(ctx context.Context, activityID string) (*EnrollmentRecord, error)
	// ListBySubject pages through a subject's records, newest first.
	ListBySubject(ctx context.Context, subjectID string, cursor *Cursor, limit int) ([]EnrollmentRecord, *Cursor, error)

	InsertRecord(ctx context.Context, rec *EnrollmentRecord) error
	UpdateRecord(ctx context.Context, rec *EnrollmentRecord) error

	UpsertFeedback(ctx context.Context, fb Feedback) error

	// AppendEvent stages an outbox event in the same transaction as the
	// state change it describes.
	AppendEvent(ctx context.Context, evt events.Event) error
}

// Cursor models the pagination token for subject listings.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
