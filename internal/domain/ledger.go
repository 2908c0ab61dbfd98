package domain

import "context"

// Reservation is the outcome of a capacity check.
type Reservation int

const (
	SlotReserved Reservation = iota
	SlotFull
)

// CapacityLedger performs the atomic check-and-reserve against an activity's
// capacity. It must only be consulted inside the same transaction that writes
// the enrollment record, so two concurrent claims cannot both observe the
// last free slot.
type CapacityLedger struct{}

// TryReserve compares current occupancy to capacity. Unbounded activities
// always reserve.
func (CapacityLedger) TryReserve(ctx context.Context, tx Tx, activity *Activity) (Reservation, error) {
	if activity.Capacity == nil {
		return SlotReserved, nil
	}
	held, err := tx.CountHolding(ctx, activity.ID)
	if err != nil {
		return SlotFull, err
	}
	if held >= *activity.Capacity {
		return SlotFull, nil
	}
	return SlotReserved, nil
}

// Release reports whether a transition out of state frees a confirmed slot.
// Picking a replacement is the waitlist manager's job.
func (CapacityLedger) Release(state RecordState) bool {
	return state.HoldsSlot()
}
