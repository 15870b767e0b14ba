package pkg

import (
	"fmt"
	"time"
)

// InsufficientDataError indicates a history shorter than the minimum number
// of distinct dated observations required for a stable weekly fit.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient historical data: have %d observations, need %d", e.Have, e.Need)
}

// DuplicateObservationError indicates two observations on the same date.
// Callers are expected to supply at most one observation per date; the
// pipeline fails loudly instead of silently picking one.
type DuplicateObservationError struct {
	Date time.Time
}

func (e *DuplicateObservationError) Error() string {
	return fmt.Sprintf("duplicate observation for %s", e.Date.Format("2006-01-02"))
}

// InvalidHorizonError indicates a forecast horizon outside the allowed range.
type InvalidHorizonError struct {
	Horizon int
	Min     int
	Max     int
}

func (e *InvalidHorizonError) Error() string {
	return fmt.Sprintf("invalid forecast horizon %d: must be between %d and %d days", e.Horizon, e.Min, e.Max)
}

// FitError indicates a degenerate or non-converging model fit. It is terminal
// for the request; the engine never falls back to cached or empty output.
type FitError struct {
	Reason string
	Err    error
}

func (e *FitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model fit failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("model fit failed: %s", e.Reason)
}

func (e *FitError) Unwrap() error { return e.Err }

// EmptyFacilitySetError indicates a ranking request with zero facilities.
type EmptyFacilitySetError struct{}

func (e *EmptyFacilitySetError) Error() string {
	return "no facilities to rank"
}
