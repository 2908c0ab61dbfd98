package domain

// ActivityStatus mirrors the lifecycle managed by the activity-management
// service. The enrollment core treats activities as read-only input; only the
// event consumer projects status changes into the local table.
type ActivityStatus string

const (
	ActivityStatusScheduled ActivityStatus = "scheduled"
	ActivityStatusCancelled ActivityStatus = "cancelled"
	ActivityStatusCompleted ActivityStatus = "completed"
)

// Activity is the projection of an activity the enrollment core reads.
type Activity struct {
	ID             string
	Capacity       *int // nil means unbounded
	Status         ActivityStatus
	CheckInEnabled bool
}

// Claimable reports whether new claims are accepted for the activity.
func (a Activity) Claimable() bool {
	return a.Status == ActivityStatusScheduled
}
