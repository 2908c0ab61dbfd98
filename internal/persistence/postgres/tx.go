package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/enrollment/internal/domain"
	"example.com/enrollment/internal/events"
)

const recordColumns = `record_id, seq, subject_id, activity_id, tag, state, created_at, updated_at, checked_in_at, completed_at`

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) Activity(ctx context.Context, activityID string) (*domain.Activity, error) {
	const query = `SELECT activity_id, capacity, status, check_in_enabled FROM activities WHERE activity_id = $1`

	row := t.tx.QueryRow(ctx, query, activityID)
	var activity domain.Activity
	if err := row.Scan(&activity.ID, &activity.Capacity, &activity.Status, &activity.CheckInEnabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &activity, nil
}

func (t *storeTx) SetActivityStatus(ctx context.Context, activityID string, status domain.ActivityStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE activities SET status = $2, updated_at = NOW() WHERE activity_id = $1`,
		activityID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *storeTx) ActiveRecord(ctx context.Context, subjectID, activityID string) (*domain.EnrollmentRecord, error) {
	query := `SELECT ` + recordColumns + `
        FROM enrollments WHERE subject_id = $1 AND activity_id = $2 AND state <> 'cancelled'`

	row := t.tx.QueryRow(ctx, query, subjectID, activityID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (t *storeTx) ActiveRecords(ctx context.Context, activityID string) ([]domain.EnrollmentRecord, error) {
	query := `SELECT ` + recordColumns + `
        FROM enrollments WHERE activity_id = $1 AND state <> 'cancelled' ORDER BY seq`
	return t.queryRecords(ctx, query, activityID)
}

func (t *storeTx) HoldingRecords(ctx context.Context, activityID string) ([]domain.EnrollmentRecord, error) {
	query := `SELECT ` + recordColumns + `
        FROM enrollments WHERE activity_id = $1 AND state IN ('confirmed', 'checked_in') ORDER BY seq`
	return t.queryRecords(ctx, query, activityID)
}

func (t *storeTx) CountHolding(ctx context.Context, activityID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments
        WHERE activity_id = $1 AND state IN ('confirmed', 'checked_in')`

	var count int
	if err := t.tx.QueryRow(ctx, query, activityID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *storeTx) NextWaitlisted(ctx context.Context, activityID string) (*domain.EnrollmentRecord, error) {
	query := `SELECT ` + recordColumns + `
        FROM enrollments WHERE activity_id = $1 AND state = 'waitlisted'
        ORDER BY created_at, seq LIMIT 1`

	row := t.tx.QueryRow(ctx, query, activityID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (t *storeTx) ListBySubject(ctx context.Context, subjectID string, cursor *domain.Cursor, limit int) ([]domain.EnrollmentRecord, *domain.Cursor, error) {
	args := []interface{}{subjectID, limit}
	query := `SELECT ` + recordColumns + ` FROM enrollments WHERE subject_id = $1`

	if cursor != nil {
		query += ` AND (created_at, record_id) < ($3, $4)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	query += ` ORDER BY created_at DESC, record_id DESC LIMIT $2`

	records, err := t.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(records) == limit {
		last := records[len(records)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return records, next, nil
}

func (t *storeTx) InsertRecord(ctx context.Context, rec *domain.EnrollmentRecord) error {
	const stmt = `INSERT INTO enrollments (record_id, subject_id, activity_id, tag, state, created_at, updated_at, checked_in_at, completed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING seq`

	return t.tx.QueryRow(ctx, stmt,
		rec.ID,
		rec.SubjectID,
		rec.ActivityID,
		rec.Tag,
		rec.State,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.CheckedInAt,
		rec.CompletedAt,
	).Scan(&rec.Seq)
}

func (t *storeTx) UpdateRecord(ctx context.Context, rec *domain.EnrollmentRecord) error {
	const stmt = `UPDATE enrollments
        SET state = $2, tag = $3, updated_at = $4, checked_in_at = $5, completed_at = $6
        WHERE record_id = $1`

	tag, err := t.tx.Exec(ctx, stmt,
		rec.ID,
		rec.State,
		rec.Tag,
		rec.UpdatedAt,
		rec.CheckedInAt,
		rec.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *storeTx) UpsertFeedback(ctx context.Context, fb domain.Feedback) error {
	const stmt = `INSERT INTO feedback (subject_id, activity_id, rating, comment, submitted_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (subject_id, activity_id)
        DO UPDATE SET rating = EXCLUDED.rating, comment = EXCLUDED.comment, submitted_at = EXCLUDED.submitted_at`

	_, err := t.tx.Exec(ctx, stmt, fb.SubjectID, fb.ActivityID, fb.Rating, fb.Comment, fb.SubmittedAt)
	return err
}

// AppendEvent stages an outbox row in the same transaction as the state
// change it describes. The dispatcher delivers it after commit.
func (t *storeTx) AppendEvent(ctx context.Context, evt events.Event) error {
	meta, ok := eventCatalog[evt.EventType()]
	if !ok {
		return fmt.Errorf("unknown event type: %s", evt.EventType())
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = t.tx.Exec(ctx, stmt,
		"enrollment",
		evt.PartitionKey(),
		evt.EventType(),
		meta.Topic,
		meta.SchemaSubject,
		evt.PartitionKey(),
		body,
		evt.DedupeKey(),
	)
	return err
}

func (t *storeTx) queryRecords(ctx context.Context, query string, args ...interface{}) ([]domain.EnrollmentRecord, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.EnrollmentRecord, 0)
	for rows.Next() {
		var rec domain.EnrollmentRecord
		if err := rows.Scan(&rec.ID, &rec.Seq, &rec.SubjectID, &rec.ActivityID, &rec.Tag, &rec.State, &rec.CreatedAt, &rec.UpdatedAt, &rec.CheckedInAt, &rec.CompletedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.EnrollmentRecord, error) {
	var rec domain.EnrollmentRecord
	if err := row.Scan(&rec.ID, &rec.Seq, &rec.SubjectID, &rec.ActivityID, &rec.Tag, &rec.State, &rec.CreatedAt, &rec.UpdatedAt, &rec.CheckedInAt, &rec.CompletedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EventMetadata describes how an outbox event is routed.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeEnrollmentStateChanged: {
		Topic:         "enrollment_events",
		SchemaSubject: "enrollment_events-value",
	},
	events.TypeRosterReplaced: {
		Topic:         "roster_events",
		SchemaSubject: "roster_events-value",
	},
}
