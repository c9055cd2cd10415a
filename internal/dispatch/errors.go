package dispatch

import (
	"errors"
	"fmt"
)

// ErrNoCandidates is the normal empty-result outcome: no eligible
// driver near the pickup. Nothing was created.
var ErrNoCandidates = errors.New("dispatch: no eligible candidates")

// ErrRequestResolved marks operations against a request that already
// reached a terminal state.
var ErrRequestResolved = errors.New("dispatch: request already resolved")

// ValidationError rejects a malformed request synchronously.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispatch: invalid %s: %s", e.Field, e.Reason)
}

// CapacityMismatchError is surfaced to the attempting driver only;
// the request state is untouched and the driver may retry with a
// different vehicle.
type CapacityMismatchError struct {
	DriverID      string
	SeatsRequired int
	Capacity      int // best capacity seen, 0 if no vehicle
}

func (e *CapacityMismatchError) Error() string {
	if e.Capacity == 0 {
		return fmt.Sprintf("dispatch: driver %s has no vehicle for %d seats", e.DriverID, e.SeatsRequired)
	}
	return fmt.Sprintf("dispatch: driver %s vehicle capacity %d cannot take %d seats", e.DriverID, e.Capacity, e.SeatsRequired)
}

// Loss reasons carried by RaceLossError.
const (
	LossTaken       = "taken"        // another driver won first
	LossResolved    = "resolved"     // request expired, cancelled or unknown
	LossNotNotified = "not_notified" // driver was never a candidate
)

// RaceLossError tells a driver their accept attempt arrived too late
// or was never eligible. Purely informational.
type RaceLossError struct {
	RequestID string
	DriverID  string
	Reason    string
}

func (e *RaceLossError) Error() string {
	return fmt.Sprintf("dispatch: accept by %s for %s lost: %s", e.DriverID, e.RequestID, e.Reason)
}

// ReconciliationError is fatal-for-request: a winning accept was
// arbitrated but the ride/booking could not be materialized. It must
// reach an operator; retrying risks matching a second driver to the
// same passenger.
type ReconciliationError struct {
	RequestID   string
	DriverID    string
	PassengerID string
	Stage       string // availability, ride, booking
	Err         error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("dispatch: reconciliation needed for request %s (winner %s, stage %s): %v",
		e.RequestID, e.DriverID, e.Stage, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
