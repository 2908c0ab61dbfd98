package domain

import "time"

// Feedback holds one subject's rating for one activity. Resubmission
// overwrites the previous values.
type Feedback struct {
	SubjectID   string
	ActivityID  string
	Rating      int
	Comment     string
	SubmittedAt time.Time
}
