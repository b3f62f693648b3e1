package wager

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"agrocycle/internal/cycle"
	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestComputeInfluenceBalanced(t *testing.T) {
	inf := ComputeInfluence(d("50"), d("50"))
	if inf.Score != 0 || inf.Dominant != nil {
		t.Fatalf("balanced stakes: got %+v", inf)
	}
	empty := ComputeInfluence(decimal.Zero, decimal.Zero)
	if empty.Score != 0 || empty.Dominant != nil {
		t.Fatalf("empty stakes: got %+v", empty)
	}
}

func TestComputeInfluenceOneSided(t *testing.T) {
	inf := ComputeInfluence(d("10"), decimal.Zero)
	if inf.Score != 2.0 || inf.Dominant == nil || *inf.Dominant != outcome.Good {
		t.Fatalf("all GOOD: got %+v", inf)
	}
	inf = ComputeInfluence(decimal.Zero, d("3"))
	if inf.Score != -2.0 || inf.Dominant == nil || *inf.Dominant != outcome.Bad {
		t.Fatalf("all BAD: got %+v", inf)
	}
}

func TestComputeInfluenceMonotone(t *testing.T) {
	prev := 0.0
	for _, good := range []string{"51", "60", "75", "90", "100"} {
		g := d(good)
		inf := ComputeInfluence(g, d("100").Sub(g))
		if inf.Score < prev {
			t.Fatalf("influence not monotone at good=%s: %v < %v", good, inf.Score, prev)
		}
		if inf.Score > MaxInfluence || inf.Strength < MinStrength || inf.Strength > MaxStrength {
			t.Fatalf("out of range at good=%s: %+v", good, inf)
		}
		prev = inf.Score
	}
	// 75/25 => ratio 0.75 => strength 1.5
	if got := ComputeInfluence(d("75"), d("25")).Score; got != 1.5 {
		t.Fatalf("expected 1.5, got %v", got)
	}
}

func TestInfluenceNormalized(t *testing.T) {
	cases := map[float64]float64{-2: 0, 0: 50, 2: 100, 1: 75}
	for score, want := range cases {
		if got := (Influence{Score: score}).Normalized(); got != want {
			t.Fatalf("Normalized(%v) = %v, want %v", score, got, want)
		}
	}
}

func TestNewPool(t *testing.T) {
	pool := NewPool(4, []models.WagerPosition{
		{ID: "a", Direction: "GOOD", Stake: d("100")},
		{ID: "b", Direction: "GOOD", Stake: d("50")},
		{ID: "c", Direction: "BAD", Stake: d("150")},
		{ID: "x", Direction: "MAYBE", Stake: d("999")},
		{ID: "z", Direction: "BAD", Stake: decimal.Zero},
	})
	if !pool.GoodStakes.Equal(d("150")) || !pool.BadStakes.Equal(d("150")) || !pool.TotalStakes.Equal(d("300")) {
		t.Fatalf("unexpected totals: %+v", pool)
	}
	if pool.Positions != 3 || pool.DominantSide != nil || pool.Influence.Score != 0 {
		t.Fatalf("unexpected pool: %+v", pool)
	}
}

func TestValidate(t *testing.T) {
	window := cycle.Window{cycle.PhasePlanting}
	planting := cycle.Info{CycleID: 1, Phase: cycle.PhasePlanting}
	working := cycle.Info{CycleID: 1, Phase: cycle.PhaseWorking}

	dir, err := Validate(planting, window, "good", d("1"))
	if err != nil || dir != outcome.Good {
		t.Fatalf("expected GOOD, got %q (%v)", dir, err)
	}

	rejects := []struct {
		info  cycle.Info
		dir   string
		stake decimal.Decimal
	}{
		{working, "GOOD", d("1")},
		{planting, "SUNNY", d("1")},
		{planting, "BAD", decimal.Zero},
		{planting, "BAD", d("-5")},
	}
	for i, tc := range rejects {
		_, err := Validate(tc.info, window, tc.dir, tc.stake)
		if !errors.Is(err, ErrInvalidWager) {
			t.Fatalf("case %d: expected ErrInvalidWager, got %v", i, err)
		}
		var iwe *InvalidWagerError
		if !errors.As(err, &iwe) || iwe.Reason == "" {
			t.Fatalf("case %d: expected InvalidWagerError with reason, got %v", i, err)
		}
	}
}
