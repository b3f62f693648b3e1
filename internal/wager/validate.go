package wager

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"agrocycle/internal/cycle"
	"agrocycle/internal/outcome"
)

var ErrInvalidWager = errors.New("invalid wager")

// InvalidWagerError is returned when a wager is rejected at submission.
type InvalidWagerError struct {
	Reason string
}

func (e *InvalidWagerError) Error() string {
	return fmt.Sprintf("invalid wager: %s", e.Reason)
}

func (e *InvalidWagerError) Unwrap() error { return ErrInvalidWager }

func invalid(format string, args ...any) error {
	return &InvalidWagerError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a submission against the cycle snapshot it is placed in.
func Validate(info cycle.Info, window cycle.Window, direction string, stake decimal.Decimal) (Direction, error) {
	if !info.WagerEligible(window) {
		return "", invalid("cycle %d is in %s; wagers are accepted during %v", info.CycleID, info.Phase, window)
	}
	d, err := outcome.Parse(direction)
	if err != nil {
		return "", invalid("direction %q must be GOOD or BAD", direction)
	}
	if !stake.IsPositive() {
		return "", invalid("stake must be positive, got %s", stake.String())
	}
	return d, nil
}
