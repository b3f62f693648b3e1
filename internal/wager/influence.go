// Package wager aggregates a cycle's stakes into a read-only pool and derives
// the directional influence the resolution formula consumes.
package wager

import (
	"github.com/shopspring/decimal"

	"agrocycle/internal/outcome"
)

const (
	MinStrength  = 0.5
	MaxStrength  = 2.0
	MaxInfluence = 2.0
)

// Direction is the side a stake backs.
type Direction = outcome.Outcome

// Influence is the signed strength of the stake imbalance. Score lies in
// [-2, 2]; Dominant is nil when stakes are empty or balanced.
type Influence struct {
	Score    float64    `json:"influence"`
	Dominant *Direction `json:"dominant_side"`
	Strength float64    `json:"strength"`
}

// ComputeInfluence maps stake totals to an influence score. Negative inputs
// are treated as zero.
func ComputeInfluence(good, bad decimal.Decimal) Influence {
	if good.IsNegative() {
		good = decimal.Zero
	}
	if bad.IsNegative() {
		bad = decimal.Zero
	}
	total := good.Add(bad)
	if total.IsZero() {
		return Influence{}
	}

	ratio, _ := decimal.Max(good, bad).Div(total).Float64()
	strength := clamp(ratio*2.0, MinStrength, MaxStrength)

	inf := Influence{Strength: strength}
	switch good.Cmp(bad) {
	case 1:
		d := outcome.Good
		inf.Dominant = &d
		inf.Score = strength
	case -1:
		d := outcome.Bad
		inf.Dominant = &d
		inf.Score = -strength
	}
	return inf
}

// Normalized maps Score from [-2, 2] onto [0, 100].
func (i Influence) Normalized() float64 {
	return clamp((i.Score+MaxInfluence)/(2*MaxInfluence)*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
