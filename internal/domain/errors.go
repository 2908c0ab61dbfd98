package domain

import "errors"

var (
	// ErrAlreadyEnrolled indicates a non-cancelled record already exists for the pair.
	ErrAlreadyEnrolled = errors.New("subject already enrolled in activity")
	// ErrActivityUnavailable indicates the activity is not open for claims.
	ErrActivityUnavailable = errors.New("activity is not open for enrollment")
	// ErrCapacityExceeded indicates a roster larger than the activity capacity.
	ErrCapacityExceeded = errors.New("activity capacity exceeded")
	// ErrNotFound indicates no record (or activity) matches the request.
	ErrNotFound = errors.New("enrollment record not found")
	// ErrNotEligible indicates the record state does not permit the operation.
	ErrNotEligible = errors.New("enrollment state does not permit operation")
	// ErrConflict indicates the storage layer could not serialize the
	// transaction. The operation left no partial state and may be retried.
	ErrConflict = errors.New("enrollment transaction conflict")
)
