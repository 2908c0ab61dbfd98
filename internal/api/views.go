package api

import (
	"time"

	"example.com/enrollment/internal/domain"
)

// ClaimRequest is the payload for POST /v1/enrollments.
type ClaimRequest struct {
	ActivityID string `json:"activity_id"`
	Tag        string `json:"tag,omitempty"`
}

// FeedbackRequest is the payload for PUT /v1/enrollments/{activity}/feedback.
type FeedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// ReplaceRosterRequest is the payload for PUT /v1/activities/{activity}/roster.
type ReplaceRosterRequest struct {
	SubjectIDs []string `json:"subject_ids"`
	Tag        string   `json:"tag,omitempty"`
}

// EnrollmentView is the wire shape of an enrollment record.
type EnrollmentView struct {
	RecordID    string     `json:"record_id"`
	SubjectID   string     `json:"subject_id"`
	ActivityID  string     `json:"activity_id"`
	Tag         string     `json:"tag,omitempty"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// OperationResponse wraps a single-record operation result.
type OperationResponse struct {
	Result   string          `json:"result"`
	Record   EnrollmentView  `json:"record"`
	Promoted *EnrollmentView `json:"promoted,omitempty"`
}

// ListEnrollmentsResponse pages through the caller's records.
type ListEnrollmentsResponse struct {
	Items      []EnrollmentView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// RosterResponse lists the active records of one activity.
type RosterResponse struct {
	ActivityID string           `json:"activity_id"`
	Items      []EnrollmentView `json:"items"`
	Replaced   int              `json:"replaced,omitempty"`
}

func toEnrollmentView(rec domain.EnrollmentRecord) EnrollmentView {
	return EnrollmentView{
		RecordID:    rec.ID,
		SubjectID:   rec.SubjectID,
		ActivityID:  rec.ActivityID,
		Tag:         rec.Tag,
		State:       string(rec.State),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		CheckedInAt: rec.CheckedInAt,
		CompletedAt: rec.CompletedAt,
	}
}
