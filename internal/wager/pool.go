package wager

import (
	"github.com/shopspring/decimal"

	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
)

// Pool is the read-only aggregate over one cycle's wager positions.
type Pool struct {
	CycleID      int64           `json:"cycle_id"`
	GoodStakes   decimal.Decimal `json:"good_stakes"`
	BadStakes    decimal.Decimal `json:"bad_stakes"`
	TotalStakes  decimal.Decimal `json:"total_stakes"`
	Positions    int             `json:"positions"`
	Influence    Influence       `json:"influence"`
	DominantSide *Direction      `json:"dominant_side"`
}

// NewPool sums positions by direction. Positions with an unknown direction or
// a non-positive stake are ignored.
func NewPool(cycleID int64, positions []models.WagerPosition) Pool {
	good, bad := decimal.Zero, decimal.Zero
	n := 0
	for _, p := range positions {
		if !p.Stake.IsPositive() {
			continue
		}
		switch outcome.Outcome(p.Direction) {
		case outcome.Good:
			good = good.Add(p.Stake)
		case outcome.Bad:
			bad = bad.Add(p.Stake)
		default:
			continue
		}
		n++
	}
	pool := PoolFromTotals(cycleID, good, bad)
	pool.Positions = n
	return pool
}

// PoolFromTotals rebuilds a pool from frozen totals.
func PoolFromTotals(cycleID int64, good, bad decimal.Decimal) Pool {
	inf := ComputeInfluence(good, bad)
	return Pool{
		CycleID:      cycleID,
		GoodStakes:   good,
		BadStakes:    bad,
		TotalStakes:  good.Add(bad),
		Influence:    inf,
		DominantSide: inf.Dominant,
	}
}
