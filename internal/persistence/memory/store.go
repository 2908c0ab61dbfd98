// Package memory provides an in-memory Store for local development and
// unit tests. A single mutex held for the whole transaction gives the same
// serializable semantics the Postgres store provides.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/enrollment/internal/domain"
	"example.com/enrollment/internal/events"
)

// Store keeps all enrollment state in process memory.
type Store struct {
	mu         sync.Mutex
	activities map[string]domain.Activity
	records    map[string]domain.EnrollmentRecord // by record ID
	feedback   map[string]domain.Feedback         // by subject|activity
	events     []events.Event
	seq        int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		activities: make(map[string]domain.Activity),
		records:    make(map[string]domain.EnrollmentRecord),
		feedback:   make(map[string]domain.Feedback),
	}
}

// PutActivity seeds or replaces an activity projection.
func (s *Store) PutActivity(activity domain.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.ID] = activity
}

// Events returns a copy of every event appended by committed transactions.
func (s *Store) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Records returns a copy of every stored record, for test assertions.
func (s *Store) Records() []domain.EnrollmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EnrollmentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sortBySeq(out)
	return out
}

// Feedback returns the stored feedback for the pair, or nil.
func (s *Store) Feedback(subjectID, activityID string) *domain.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fb, ok := s.feedback[subjectID+"|"+activityID]; ok {
		return &fb
	}
	return nil
}

// WithinTx implements domain.Store. The transaction body runs under the
// store lock; on error every mutation is discarded by restoring a snapshot.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapActivities := cloneActivities(s.activities)
	snapRecords := cloneRecords(s.records)
	snapFeedback := cloneFeedback(s.feedback)
	snapEvents := len(s.events)
	snapSeq := s.seq

	if err := fn(&memTx{store: s}); err != nil {
		s.activities = snapActivities
		s.records = snapRecords
		s.feedback = snapFeedback
		s.events = s.events[:snapEvents]
		s.seq = snapSeq
		return err
	}
	return nil
}

type memTx struct {
	store *Store
}

func (t *memTx) Activity(ctx context.Context, activityID string) (*domain.Activity, error) {
	if activity, ok := t.store.activities[activityID]; ok {
		return &activity, nil
	}
	return nil, nil
}

func (t *memTx) SetActivityStatus(ctx context.Context, activityID string, status domain.ActivityStatus) error {
	activity, ok := t.store.activities[activityID]
	if !ok {
		return domain.ErrNotFound
	}
	activity.Status = status
	t.store.activities[activityID] = activity
	return nil
}

func (t *memTx) ActiveRecord(ctx context.Context, subjectID, activityID string) (*domain.EnrollmentRecord, error) {
	for _, rec := range t.store.records {
		if rec.SubjectID == subjectID && rec.ActivityID == activityID && rec.State != domain.StateCancelled {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) ActiveRecords(ctx context.Context, activityID string) ([]domain.EnrollmentRecord, error) {
	out := t.collect(func(rec domain.EnrollmentRecord) bool {
		return rec.ActivityID == activityID && rec.State != domain.StateCancelled
	})
	sortBySeq(out)
	return out, nil
}

func (t *memTx) HoldingRecords(ctx context.Context, activityID string) ([]domain.EnrollmentRecord, error) {
	out := t.collect(func(rec domain.EnrollmentRecord) bool {
		return rec.ActivityID == activityID && rec.State.HoldsSlot()
	})
	sortBySeq(out)
	return out, nil
}

func (t *memTx) CountHolding(ctx context.Context, activityID string) (int, error) {
	count := 0
	for _, rec := range t.store.records {
		if rec.ActivityID == activityID && rec.State.HoldsSlot() {
			count++
		}
	}
	return count, nil
}

func (t *memTx) NextWaitlisted(ctx context.Context, activityID string) (*domain.EnrollmentRecord, error) {
	waiting := t.collect(func(rec domain.EnrollmentRecord) bool {
		return rec.ActivityID == activityID && rec.State == domain.StateWaitlisted
	})
	if len(waiting) == 0 {
		return nil, nil
	}
	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].CreatedAt.Equal(waiting[j].CreatedAt) {
			return waiting[i].Seq < waiting[j].Seq
		}
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})
	out := waiting[0]
	return &out, nil
}

func (t *memTx) ListBySubject(ctx context.Context, subjectID string, cursor *domain.Cursor, limit int) ([]domain.EnrollmentRecord, *domain.Cursor, error) {
	all := t.collect(func(rec domain.EnrollmentRecord) bool {
		return rec.SubjectID == subjectID
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	out := make([]domain.EnrollmentRecord, 0, limit)
	for _, rec := range all {
		if cursor != nil {
			after := rec.CreatedAt.After(cursor.CreatedAt) ||
				(rec.CreatedAt.Equal(cursor.CreatedAt) && rec.ID >= cursor.ID)
			if after {
				continue
			}
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}

	var next *domain.Cursor
	if len(out) == limit {
		last := out[len(out)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, next, nil
}

func (t *memTx) InsertRecord(ctx context.Context, rec *domain.EnrollmentRecord) error {
	if rec.State != domain.StateCancelled {
		existing, _ := t.ActiveRecord(ctx, rec.SubjectID, rec.ActivityID)
		if existing != nil {
			return domain.ErrAlreadyEnrolled
		}
	}
	t.store.seq++
	rec.Seq = t.store.seq
	t.store.records[rec.ID] = *rec
	return nil
}

func (t *memTx) UpdateRecord(ctx context.Context, rec *domain.EnrollmentRecord) error {
	if _, ok := t.store.records[rec.ID]; !ok {
		return domain.ErrNotFound
	}
	t.store.records[rec.ID] = *rec
	return nil
}

func (t *memTx) UpsertFeedback(ctx context.Context, fb domain.Feedback) error {
	t.store.feedback[fb.SubjectID+"|"+fb.ActivityID] = fb
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, evt events.Event) error {
	t.store.events = append(t.store.events, evt)
	return nil
}

func (t *memTx) collect(keep func(domain.EnrollmentRecord) bool) []domain.EnrollmentRecord {
	out := make([]domain.EnrollmentRecord, 0)
	for _, rec := range t.store.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func sortBySeq(records []domain.EnrollmentRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})
}

func cloneActivities(in map[string]domain.Activity) map[string]domain.Activity {
	out := make(map[string]domain.Activity, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRecords(in map[string]domain.EnrollmentRecord) map[string]domain.EnrollmentRecord {
	out := make(map[string]domain.EnrollmentRecord, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneFeedback(in map[string]domain.Feedback) map[string]domain.Feedback {
	out := make(map[string]domain.Feedback, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
