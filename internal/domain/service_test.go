package domain_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/enrollment/internal/domain"
	"example.com/enrollment/internal/events"
	"example.com/enrollment/internal/persistence/memory"
)

func newFixture(t *testing.T) (*domain.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return domain.NewService(store), store
}

func seedActivity(store *memory.Store, id string, capacity *int, checkIn bool) {
	store.PutActivity(domain.Activity{
		ID:             id,
		Capacity:       capacity,
		Status:         domain.ActivityStatusScheduled,
		CheckInEnabled: checkIn,
	})
}

func intPtr(v int) *int { return &v }

func TestClaimConfirmsUntilCapacityThenWaitlists(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(2), false)

	resA, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeConfirmed, resA.Outcome)

	resB, err := service.Claim(ctx, "subject-b", "yoga-101", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeConfirmed, resB.Outcome)

	resC, err := service.Claim(ctx, "subject-c", "yoga-101", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeWaitlisted, resC.Outcome)
	require.Equal(t, domain.StateWaitlisted, resC.Record.State)
}

func TestClaimUnlimitedCapacityAlwaysConfirms(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "open-run", nil, false)

	for _, subject := range []string{"s1", "s2", "s3", "s4", "s5"} {
		res, err := service.Claim(ctx, subject, "open-run", "")
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	}
}

func TestClaimDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(10), false)

	_, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)

	_, err = service.Claim(ctx, "subject-a", "yoga-101", "")
	require.ErrorIs(t, err, domain.ErrAlreadyEnrolled)

	// A waitlisted record also blocks a second claim.
	seedActivity(store, "full-house", intPtr(0), false)
	res, err := service.Claim(ctx, "subject-b", "full-house", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeWaitlisted, res.Outcome)

	_, err = service.Claim(ctx, "subject-b", "full-house", "")
	require.ErrorIs(t, err, domain.ErrAlreadyEnrolled)
}

func TestClaimUnknownActivity(t *testing.T) {
	service, _ := newFixture(t)

	_, err := service.Claim(context.Background(), "subject-a", "missing", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimUnavailableActivity(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	store.PutActivity(domain.Activity{ID: "cancelled-class", Status: domain.ActivityStatusCancelled})

	_, err := service.Claim(ctx, "subject-a", "cancelled-class", "")
	require.ErrorIs(t, err, domain.ErrActivityUnavailable)
}

func TestClaimAfterCancelCreatesFreshRecord(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(5), false)

	first, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)

	_, err = service.Cancel(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)

	second, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)
	require.NotEqual(t, first.Record.ID, second.Record.ID)
	require.Equal(t, domain.OutcomeConfirmed, second.Outcome)
}

func TestCancelPromotesEarliestWaitlisted(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(1), false)

	_, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)

	resB, err := service.Claim(ctx, "subject-b", "yoga-101", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeWaitlisted, resB.Outcome)

	resC, err := service.Claim(ctx, "subject-c", "yoga-101", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeWaitlisted, resC.Outcome)

	cancel, err := service.Cancel(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)
	require.Equal(t, domain.StateCancelled, cancel.Record.State)
	require.NotNil(t, cancel.Promoted)
	require.Equal(t, "subject-b", cancel.Promoted.SubjectID)
	require.Equal(t, domain.StateConfirmed, cancel.Promoted.State)

	// Next cancellation promotes the remaining waitlisted subject.
	cancel, err = service.Cancel(ctx, "subject-b", "yoga-101")
	require.NoError(t, err)
	require.NotNil(t, cancel.Promoted)
	require.Equal(t, "subject-c", cancel.Promoted.SubjectID)
}

func TestCancelWaitlistedDoesNotPromote(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(1), false)

	_, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)
	_, err = service.Claim(ctx, "subject-b", "yoga-101", "")
	require.NoError(t, err)
	_, err = service.Claim(ctx, "subject-c", "yoga-101", "")
	require.NoError(t, err)

	cancel, err := service.Cancel(ctx, "subject-b", "yoga-101")
	require.NoError(t, err)
	require.Nil(t, cancel.Promoted, "waitlisted record frees no slot")
}

func TestCancelErrors(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(5), true)

	_, err := service.Cancel(ctx, "subject-a", "yoga-101")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)
	_, err = service.Cancel(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)

	// Cancelled is terminal; a second cancel finds no active record.
	_, err = service.Cancel(ctx, "subject-a", "yoga-101")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Completed participation cannot be cancelled.
	_, err = service.Claim(ctx, "subject-b", "yoga-101", "")
	require.NoError(t, err)
	_, err = service.Complete(ctx, "subject-b", "yoga-101")
	require.NoError(t, err)
	_, err = service.Cancel(ctx, "subject-b", "yoga-101")
	require.ErrorIs(t, err, domain.ErrNotEligible)
}

func TestCheckInFlow(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(5), true)

	_, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)

	res, err := service.CheckIn(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCheckedIn, res.Outcome)
	require.NotNil(t, res.Record.CheckedInAt)

	// Retrying is a no-op.
	again, err := service.CheckIn(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)
	require.Equal(t, res.Record.ID, again.Record.ID)
	require.Equal(t, domain.OutcomeCheckedIn, again.Outcome)
}

func TestCheckInRequiresEnabledActivity(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "no-checkin", intPtr(5), false)

	_, err := service.Claim(ctx, "subject-a", "no-checkin", "")
	require.NoError(t, err)

	_, err = service.CheckIn(ctx, "subject-a", "no-checkin")
	require.ErrorIs(t, err, domain.ErrNotEligible)
}

func TestCheckInRequiresConfirmedRecord(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(0), true)

	res, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeWaitlisted, res.Outcome)

	_, err = service.CheckIn(ctx, "subject-a", "yoga-101")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompleteFlow(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(5), true)

	// Completion is allowed straight from confirmed when check-in never happened.
	_, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)
	res, err := service.Complete(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCompleted, res.Outcome)
	require.NotNil(t, res.Record.CompletedAt)

	// And from checked_in.
	_, err = service.Claim(ctx, "subject-b", "yoga-101", "")
	require.NoError(t, err)
	_, err = service.CheckIn(ctx, "subject-b", "yoga-101")
	require.NoError(t, err)
	_, err = service.Complete(ctx, "subject-b", "yoga-101")
	require.NoError(t, err)

	// Idempotent.
	again, err := service.Complete(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCompleted, again.Outcome)
}

func TestSubmitFeedbackEligibility(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(5), true)

	_, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)

	// Confirmed is not enough; participation must be reached.
	err = service.SubmitFeedback(ctx, "subject-a", "yoga-101", 5, "great")
	require.ErrorIs(t, err, domain.ErrNotEligible)

	_, err = service.CheckIn(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)

	err = service.SubmitFeedback(ctx, "subject-a", "yoga-101", 4, "good session")
	require.NoError(t, err)

	fb := store.Feedback("subject-a", "yoga-101")
	require.NotNil(t, fb)
	require.Equal(t, 4, fb.Rating)

	// Resubmission overwrites rather than duplicating.
	err = service.SubmitFeedback(ctx, "subject-a", "yoga-101", 2, "changed my mind")
	require.NoError(t, err)
	fb = store.Feedback("subject-a", "yoga-101")
	require.NotNil(t, fb)
	require.Equal(t, 2, fb.Rating)
	require.Equal(t, "changed my mind", fb.Comment)
}

func TestSubmitFeedbackWithoutRecord(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(5), true)

	err := service.SubmitFeedback(ctx, "subject-a", "yoga-101", 3, "")
	require.ErrorIs(t, err, domain.ErrNotEligible)
}

func TestReplaceRosterInstallsExactSet(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "workshop", intPtr(3), false)

	_, err := service.Claim(ctx, "subject-a", "workshop", "")
	require.NoError(t, err)
	_, err = service.Claim(ctx, "subject-b", "workshop", "")
	require.NoError(t, err)

	res, err := service.ReplaceRoster(ctx, "workshop", []string{"subject-c", "subject-d", "subject-d"}, "cohort-2")
	require.NoError(t, err)
	require.Equal(t, 2, res.Replaced)
	require.Len(t, res.Records, 2, "duplicates collapse")

	roster, err := service.Roster(ctx, "workshop")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	subjects := []string{roster[0].SubjectID, roster[1].SubjectID}
	require.ElementsMatch(t, []string{"subject-c", "subject-d"}, subjects)
	for _, rec := range roster {
		require.Equal(t, domain.StateConfirmed, rec.State)
		require.Equal(t, "cohort-2", rec.Tag)
	}
}

func TestReplaceRosterOversizedRollsBack(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "workshop", intPtr(2), false)

	_, err := service.Claim(ctx, "subject-a", "workshop", "")
	require.NoError(t, err)
	_, err = service.Claim(ctx, "subject-b", "workshop", "")
	require.NoError(t, err)

	_, err = service.ReplaceRoster(ctx, "workshop", []string{"x", "y", "z"}, "")
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	// Prior roster is untouched.
	roster, err := service.Roster(ctx, "workshop")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	subjects := []string{roster[0].SubjectID, roster[1].SubjectID}
	require.ElementsMatch(t, []string{"subject-a", "subject-b"}, subjects)
}

func TestReplaceRosterOverridesWaitlist(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "workshop", intPtr(2), false)

	_, err := service.Claim(ctx, "subject-a", "workshop", "")
	require.NoError(t, err)
	_, err = service.Claim(ctx, "subject-b", "workshop", "")
	require.NoError(t, err)
	waitlisted, err := service.Claim(ctx, "subject-c", "workshop", "")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeWaitlisted, waitlisted.Outcome)

	// The override installs subject-c directly; their waitlisted record is
	// superseded by a fresh confirmed one.
	res, err := service.ReplaceRoster(ctx, "workshop", []string{"subject-c", "subject-d"}, "")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	roster, err := service.Roster(ctx, "workshop")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	for _, rec := range roster {
		require.Equal(t, domain.StateConfirmed, rec.State)
	}

	for _, rec := range store.Records() {
		if rec.ID == waitlisted.Record.ID {
			require.Equal(t, domain.StateCancelled, rec.State)
		}
	}
}

func TestReplaceRosterUnknownActivity(t *testing.T) {
	service, _ := newFixture(t)

	_, err := service.ReplaceRoster(context.Background(), "missing", []string{"a"}, "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeactivateActivityCancelsActiveRecords(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(2), true)

	_, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)
	_, err = service.Claim(ctx, "subject-b", "yoga-101", "")
	require.NoError(t, err)
	_, err = service.Claim(ctx, "subject-c", "yoga-101", "")
	require.NoError(t, err)

	// Completed participation survives the cancellation sweep.
	_, err = service.Complete(ctx, "subject-a", "yoga-101")
	require.NoError(t, err)

	cancelled, err := service.DeactivateActivity(ctx, "yoga-101", domain.ActivityStatusCancelled)
	require.NoError(t, err)
	require.Equal(t, 2, cancelled)

	_, err = service.Claim(ctx, "subject-d", "yoga-101", "")
	require.ErrorIs(t, err, domain.ErrActivityUnavailable)
}

func TestConcurrentClaimsNeverExceedCapacity(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	capacity := 3
	seedActivity(store, "popular", intPtr(capacity), false)

	const claimants = 20
	var wg sync.WaitGroup
	outcomes := make([]domain.Outcome, claimants)
	wg.Add(claimants)
	for i := 0; i < claimants; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := service.Claim(ctx, string(rune('a'+i))+"-subject", "popular", "")
			if err == nil {
				outcomes[i] = res.Outcome
			}
		}(i)
	}
	wg.Wait()

	confirmed := 0
	for _, outcome := range outcomes {
		if outcome == domain.OutcomeConfirmed {
			confirmed++
		}
	}
	require.Equal(t, capacity, confirmed)

	holding := 0
	for _, rec := range store.Records() {
		if rec.State.HoldsSlot() {
			holding++
		}
	}
	require.Equal(t, capacity, holding)
}

func TestClaimEmitsStateChangedEvent(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "yoga-101", intPtr(5), false)

	res, err := service.Claim(ctx, "subject-a", "yoga-101", "")
	require.NoError(t, err)

	evts := store.Events()
	require.Len(t, evts, 1)
	changed, ok := evts[0].(events.EnrollmentStateChanged)
	require.True(t, ok)
	require.Equal(t, res.Record.ID, changed.RecordID)
	require.Equal(t, "confirmed", changed.State)
	require.Equal(t, "claim", changed.Reason)
	require.Equal(t, "yoga-101", changed.PartitionKey())
}

func TestReplaceRosterEmitsRosterReplaced(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	seedActivity(store, "workshop", intPtr(5), false)

	_, err := service.ReplaceRoster(ctx, "workshop", []string{"subject-a", "subject-b"}, "")
	require.NoError(t, err)

	var found bool
	for _, evt := range store.Events() {
		if replaced, ok := evt.(events.RosterReplaced); ok {
			found = true
			require.Equal(t, "workshop", replaced.ActivityID)
			require.Equal(t, []string{"subject-a", "subject-b"}, replaced.SubjectIDs)
		}
	}
	require.True(t, found, "roster.replaced event missing")
}

func TestListBySubjectPages(t *testing.T) {
	ctx := context.Background()
	service, store := newFixture(t)
	for _, id := range []string{"act-1", "act-2", "act-3"} {
		seedActivity(store, id, nil, false)
		_, err := service.Claim(ctx, "subject-a", id, "")
		require.NoError(t, err)
	}

	page, next, err := service.ListBySubject(ctx, "subject-a", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)

	rest, _, err := service.ListBySubject(ctx, "subject-a", next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	seen := map[string]bool{}
	for _, rec := range append(page, rest...) {
		seen[rec.ActivityID] = true
	}
	require.Len(t, seen, 3)
}
