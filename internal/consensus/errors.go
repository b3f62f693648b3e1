package consensus

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientSignal = errors.New("insufficient signal")
	// ErrTieBreakUnavailable is returned when the score lands in the dead
	// zone and no seed is available. The cycle must go to manual review.
	ErrTieBreakUnavailable = errors.New("tie-break seed unavailable")
)

// InsufficientSignalError reports too few usable votes to resolve a cycle.
type InsufficientSignalError struct {
	Valid    int
	Required int
	Reason   string
}

func (e *InsufficientSignalError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("insufficient signal: %s (valid=%d required=%d)", e.Reason, e.Valid, e.Required)
	}
	return fmt.Sprintf("insufficient signal: valid=%d required=%d", e.Valid, e.Required)
}

func (e *InsufficientSignalError) Unwrap() error { return ErrInsufficientSignal }
