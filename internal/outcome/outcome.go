// Package outcome defines the binary environmental outcome shared by votes,
// wagers, and resolution.
package outcome

import (
	"fmt"
	"strings"
)

type Outcome string

const (
	Good Outcome = "GOOD"
	Bad  Outcome = "BAD"
)

// Parse accepts GOOD/BAD in any case.
func Parse(s string) (Outcome, error) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(s))) {
	case Good:
		return Good, nil
	case Bad:
		return Bad, nil
	}
	return "", fmt.Errorf("invalid outcome %q: want GOOD or BAD", s)
}

// Sign is +1 for GOOD and -1 for BAD.
func (o Outcome) Sign() float64 {
	switch o {
	case Good:
		return 1
	case Bad:
		return -1
	}
	return 0
}

func (o Outcome) Valid() bool { return o == Good || o == Bad }

func (o Outcome) String() string { return string(o) }
