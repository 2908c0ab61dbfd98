package domain

import (
	"context"
	"time"

	"example.com/enrollment/internal/events"
)

// WaitlistManager promotes queued subjects into freed slots, FIFO by
// creation time with the insertion sequence as tie-break.
type WaitlistManager struct {
	ledger CapacityLedger
}

// PromoteNext fills one freed slot with the earliest waitlisted record.
// It must run in the same transaction as the release that freed the slot;
// otherwise a concurrent claim could steal it ahead of the queue. Returns
// the promoted record, or nil when the waitlist is empty or capacity is
// already consumed again. Callers freeing several slots promote one at a
// time so capacity is re-checked between promotions.
func (m WaitlistManager) PromoteNext(ctx context.Context, tx Tx, activity *Activity, now time.Time) (*EnrollmentRecord, error) {
	res, err := m.ledger.TryReserve(ctx, tx, activity)
	if err != nil {
		return nil, err
	}
	if res == SlotFull {
		return nil, nil
	}

	next, err := tx.NextWaitlisted(ctx, activity.ID)
	if err != nil || next == nil {
		return nil, err
	}

	next.State = StateConfirmed
	next.UpdatedAt = now
	if err := tx.UpdateRecord(ctx, next); err != nil {
		return nil, err
	}

	err = tx.AppendEvent(ctx, events.EnrollmentStateChanged{
		RecordID:   next.ID,
		ActivityID: next.ActivityID,
		SubjectID:  next.SubjectID,
		State:      string(StateConfirmed),
		OccurredAt: now,
		Reason:     "waitlist_promotion",
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}
