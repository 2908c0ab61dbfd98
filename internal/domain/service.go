// Package domain implements the capacity-constrained enrollment core: the
// record state machine, the capacity ledger, waitlist promotion, and the
// public enrollment operations.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"example.com/enrollment/internal/events"
	"example.com/enrollment/internal/observability"
)

// Outcome tags the result of a successful enrollment operation.
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeWaitlisted Outcome = "waitlisted"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeCheckedIn  Outcome = "checked_in"
	OutcomeCompleted  Outcome = "completed"
)

// ClaimResult reports where a claim landed.
type ClaimResult struct {
	Record  EnrollmentRecord
	Outcome Outcome
}

// CancelResult reports the cancelled record and, when a slot freed up, the
// waitlisted record promoted into it.
type CancelResult struct {
	Record   EnrollmentRecord
	Promoted *EnrollmentRecord
}

// RosterResult reports the roster installed by a bulk replacement.
type RosterResult struct {
	ActivityID string
	Records    []EnrollmentRecord
	Replaced   int // records cancelled to make room
}

// Service is the public operation set composing the ledger, the state
// machine, and the waitlist manager. All state lives in the store; Service
// itself is safe for concurrent use.
type Service struct {
	store    Store
	ledger   CapacityLedger
	waitlist WaitlistManager
	now      func() time.Time
}

// NewService constructs a Service over the given store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

// Claim enrolls subject into activity, confirming when a slot is free and
// waitlisting otherwise. A second claim for an active pair fails with
// ErrAlreadyEnrolled; retries therefore cannot create duplicates.
func (s *Service) Claim(ctx context.Context, subjectID, activityID, tag string) (*ClaimResult, error) {
	var result *ClaimResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		activity, err := tx.Activity(ctx, activityID)
		if err != nil {
			return err
		}
		if activity == nil {
			return ErrNotFound
		}
		if !activity.Claimable() {
			return ErrActivityUnavailable
		}

		existing, err := tx.ActiveRecord(ctx, subjectID, activityID)
		if err != nil {
			return err
		}
		if existing.Active() {
			return ErrAlreadyEnrolled
		}

		res, err := s.ledger.TryReserve(ctx, tx, activity)
		if err != nil {
			return err
		}

		state := StateConfirmed
		outcome := OutcomeConfirmed
		if res == SlotFull {
			state = StateWaitlisted
			outcome = OutcomeWaitlisted
		}

		now := s.now().UTC()
		rec := &EnrollmentRecord{
			ID:         uuid.NewString(),
			SubjectID:  subjectID,
			ActivityID: activityID,
			Tag:        tag,
			State:      state,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}

		if err := tx.AppendEvent(ctx, stateChanged(rec, now, "claim")); err != nil {
			return err
		}

		result = &ClaimResult{Record: *rec, Outcome: outcome}
		return nil
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	observability.RecordClaim(string(result.Outcome), result.Record.UpdatedAt)
	return result, nil
}

// Cancel transitions the subject's active record to cancelled. When the
// record held a confirmed slot, the earliest waitlisted subject is promoted
// inside the same transaction.
func (s *Service) Cancel(ctx context.Context, subjectID, activityID string) (*CancelResult, error) {
	var result *CancelResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		rec, err := tx.ActiveRecord(ctx, subjectID, activityID)
		if err != nil {
			return err
		}
		if !rec.Active() {
			return ErrNotFound
		}
		if !rec.State.CanTransition(StateCancelled) {
			return ErrNotEligible
		}

		now := s.now().UTC()
		freed := s.ledger.Release(rec.State)

		rec.State = StateCancelled
		rec.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, stateChanged(rec, now, "cancel")); err != nil {
			return err
		}

		result = &CancelResult{Record: *rec}
		if !freed {
			return nil
		}

		activity, err := tx.Activity(ctx, activityID)
		if err != nil {
			return err
		}
		if activity == nil {
			return nil
		}
		promoted, err := s.waitlist.PromoteNext(ctx, tx, activity, now)
		if err != nil {
			return err
		}
		result.Promoted = promoted
		return nil
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	if result.Promoted != nil {
		observability.RecordPromotion()
	}
	return result, nil
}

// CheckIn marks a confirmed record as attended. Only activities that support
// check-in accept it. Repeating the call for an already checked-in record is
// a no-op so retries are safe.
func (s *Service) CheckIn(ctx context.Context, subjectID, activityID string) (*ClaimResult, error) {
	var result *ClaimResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		rec, err := tx.ActiveRecord(ctx, subjectID, activityID)
		if err != nil {
			return err
		}
		if !rec.Active() {
			return ErrNotFound
		}
		if rec.State == StateCheckedIn {
			result = &ClaimResult{Record: *rec, Outcome: OutcomeCheckedIn}
			return nil
		}
		if rec.State != StateConfirmed {
			return ErrNotFound
		}

		activity, err := tx.Activity(ctx, activityID)
		if err != nil {
			return err
		}
		if activity == nil || !activity.CheckInEnabled {
			return ErrNotEligible
		}

		now := s.now().UTC()
		rec.State = StateCheckedIn
		rec.CheckedInAt = &now
		rec.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, stateChanged(rec, now, "check_in")); err != nil {
			return err
		}
		result = &ClaimResult{Record: *rec, Outcome: OutcomeCheckedIn}
		return nil
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	return result, nil
}

// Complete marks participation finished, the precondition for feedback and
// certificate issuance. Completing an already completed record is a no-op.
func (s *Service) Complete(ctx context.Context, subjectID, activityID string) (*ClaimResult, error) {
	var result *ClaimResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		rec, err := tx.ActiveRecord(ctx, subjectID, activityID)
		if err != nil {
			return err
		}
		if !rec.Active() {
			return ErrNotFound
		}
		if rec.State == StateCompleted {
			result = &ClaimResult{Record: *rec, Outcome: OutcomeCompleted}
			return nil
		}
		if !rec.State.CanTransition(StateCompleted) {
			return ErrNotFound
		}

		now := s.now().UTC()
		rec.State = StateCompleted
		rec.CompletedAt = &now
		rec.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, stateChanged(rec, now, "complete")); err != nil {
			return err
		}
		result = &ClaimResult{Record: *rec, Outcome: OutcomeCompleted}
		return nil
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	return result, nil
}

// SubmitFeedback upserts the subject's rating for an activity they attended.
func (s *Service) SubmitFeedback(ctx context.Context, subjectID, activityID string, rating int, comment string) error {
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		rec, err := tx.ActiveRecord(ctx, subjectID, activityID)
		if err != nil {
			return err
		}
		if !rec.Active() || !rec.State.ParticipationReached() {
			return ErrNotEligible
		}

		return tx.UpsertFeedback(ctx, Feedback{
			SubjectID:   subjectID,
			ActivityID:  activityID,
			Rating:      rating,
			Comment:     comment,
			SubmittedAt: s.now().UTC(),
		})
	})
	if err != nil {
		s.observeFailure(err)
	}
	return err
}

// ReplaceRoster sets the activity's confirmed roster to exactly subjectIDs
// in one transaction: a partial roster is never observable. The waitlist is
// not consulted; this is a coordinator override. Duplicate subject IDs are
// collapsed before the capacity check.
func (s *Service) ReplaceRoster(ctx context.Context, activityID string, subjectIDs []string, tag string) (*RosterResult, error) {
	subjects := dedupe(subjectIDs)

	var result *RosterResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		activity, err := tx.Activity(ctx, activityID)
		if err != nil {
			return err
		}
		if activity == nil {
			return ErrNotFound
		}
		if activity.Capacity != nil && len(subjects) > *activity.Capacity {
			return ErrCapacityExceeded
		}

		now := s.now().UTC()
		replaced := 0

		holding, err := tx.HoldingRecords(ctx, activityID)
		if err != nil {
			return err
		}
		for i := range holding {
			if err := s.cancelForReplace(ctx, tx, &holding[i], now); err != nil {
				return err
			}
			replaced++
		}

		// Listed subjects may still hold waitlisted or completed records;
		// those must go too or the fresh insert trips the active-pair index.
		for _, subjectID := range subjects {
			rec, err := tx.ActiveRecord(ctx, subjectID, activityID)
			if err != nil {
				return err
			}
			if rec.Active() {
				if err := s.cancelForReplace(ctx, tx, rec, now); err != nil {
					return err
				}
			}
		}

		// Assemble the new roster through the transient pending state, then
		// confirm every row once all inserts have succeeded.
		fresh := make([]*EnrollmentRecord, 0, len(subjects))
		for _, subjectID := range subjects {
			rec := &EnrollmentRecord{
				ID:         uuid.NewString(),
				SubjectID:  subjectID,
				ActivityID: activityID,
				Tag:        tag,
				State:      StatePending,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.InsertRecord(ctx, rec); err != nil {
				return err
			}
			fresh = append(fresh, rec)
		}

		records := make([]EnrollmentRecord, 0, len(fresh))
		for _, rec := range fresh {
			rec.State = StateConfirmed
			if err := tx.UpdateRecord(ctx, rec); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, stateChanged(rec, now, "roster_replace")); err != nil {
				return err
			}
			records = append(records, *rec)
		}

		err = tx.AppendEvent(ctx, events.RosterReplaced{
			ActivityID: activityID,
			SubjectIDs: subjects,
			OccurredAt: now,
		})
		if err != nil {
			return err
		}

		result = &RosterResult{ActivityID: activityID, Records: records, Replaced: replaced}
		return nil
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	observability.RecordRosterReplaced(len(result.Records))
	return result, nil
}

// DeactivateActivity projects a collaborator status change and cancels every
// active record when the activity is no longer running. No promotion happens;
// there is nothing left to promote into. Returns the number of cancellations.
func (s *Service) DeactivateActivity(ctx context.Context, activityID string, status ActivityStatus) (int, error) {
	cancelled := 0
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		activity, err := tx.Activity(ctx, activityID)
		if err != nil {
			return err
		}
		if activity == nil {
			return ErrNotFound
		}
		if err := tx.SetActivityStatus(ctx, activityID, status); err != nil {
			return err
		}
		if status != ActivityStatusCancelled {
			return nil
		}

		now := s.now().UTC()
		active, err := tx.ActiveRecords(ctx, activityID)
		if err != nil {
			return err
		}
		for i := range active {
			rec := &active[i]
			if !rec.State.CanTransition(StateCancelled) {
				continue
			}
			rec.State = StateCancelled
			rec.UpdatedAt = now
			if err := tx.UpdateRecord(ctx, rec); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, stateChanged(rec, now, "activity_cancelled")); err != nil {
				return err
			}
			cancelled++
		}
		return nil
	})
	if err != nil {
		s.observeFailure(err)
		return 0, err
	}
	return cancelled, nil
}

// ListBySubject pages through the caller's enrollment records, newest first.
func (s *Service) ListBySubject(ctx context.Context, subjectID string, cursor *Cursor, limit int) ([]EnrollmentRecord, *Cursor, error) {
	var (
		records []EnrollmentRecord
		next    *Cursor
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		records, next, err = tx.ListBySubject(ctx, subjectID, cursor, limit)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return records, next, nil
}

// Roster returns all active records for an activity in insertion order.
func (s *Service) Roster(ctx context.Context, activityID string) ([]EnrollmentRecord, error) {
	var records []EnrollmentRecord
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		activity, err := tx.Activity(ctx, activityID)
		if err != nil {
			return err
		}
		if activity == nil {
			return ErrNotFound
		}
		records, err = tx.ActiveRecords(ctx, activityID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) cancelForReplace(ctx context.Context, tx Tx, rec *EnrollmentRecord, now time.Time) error {
	rec.State = StateCancelled
	rec.UpdatedAt = now
	if err := tx.UpdateRecord(ctx, rec); err != nil {
		return err
	}
	return tx.AppendEvent(ctx, stateChanged(rec, now, "roster_replace"))
}

func (s *Service) observeFailure(err error) {
	if errors.Is(err, ErrConflict) {
		observability.RecordConflict()
	}
}

func stateChanged(rec *EnrollmentRecord, now time.Time, reason string) events.EnrollmentStateChanged {
	return events.EnrollmentStateChanged{
		RecordID:   rec.ID,
		ActivityID: rec.ActivityID,
		SubjectID:  rec.SubjectID,
		State:      string(rec.State),
		OccurredAt: now,
		Reason:     reason,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
