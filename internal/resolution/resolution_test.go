package resolution

import (
	"context"
	"sync"
	"testing"

	"agrocycle/internal/consensus"
	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
	"agrocycle/internal/wager"
)

func TestComposeThresholdBoundary(t *testing.T) {
	f := DefaultFormula()

	at := f.Compose(consensus.Result{CycleID: 1, Score: 0}, nil, wager.Influence{})
	if at.FinalScore != 50 || at.Outcome != outcome.Good {
		t.Fatalf("expected 50.00 => GOOD, got %v %s", at.FinalScore, at.Outcome)
	}

	below := f.Compose(consensus.Result{CycleID: 1, Score: 0}, &WeatherScore{NormalizedScore: 49.9975, Source: "test"}, wager.Influence{})
	if below.FinalScore != 49.999 || below.Outcome != outcome.Bad {
		t.Fatalf("expected 49.999 => BAD, got %v %s", below.FinalScore, below.Outcome)
	}
	if below.FormulaVariant != VariantWithWeather || at.FormulaVariant != VariantWithoutWeather {
		t.Fatalf("unexpected variants %s/%s", below.FormulaVariant, at.FormulaVariant)
	}
}

func TestComposeOutcomeUsesUnroundedScore(t *testing.T) {
	// 30*s + 50 = 49.9999996, which rounds to 50.000000 at storage precision.
	calc := DefaultFormula().Compose(consensus.Result{Score: -4e-7 / 30}, nil, wager.Influence{})
	if calc.FinalScore != 50 {
		t.Fatalf("stored score=%v want 50 after rounding", calc.FinalScore)
	}
	if calc.Outcome != outcome.Bad {
		t.Fatalf("outcome=%s want BAD for a raw score below the threshold", calc.Outcome)
	}
}

func TestComposeRange(t *testing.T) {
	f := DefaultFormula()
	hi := f.Compose(consensus.Result{Score: 1}, &WeatherScore{NormalizedScore: 140}, wager.Influence{Score: 2})
	lo := f.Compose(consensus.Result{Score: -1}, &WeatherScore{NormalizedScore: -5}, wager.Influence{Score: -2})
	if hi.FinalScore != 100 || hi.ScoreFraction != 1 {
		t.Fatalf("upper bound: %+v", hi)
	}
	if lo.FinalScore != 0 || lo.ScoreFraction != 0 || lo.Outcome != outcome.Bad {
		t.Fatalf("lower bound: %+v", lo)
	}
	for _, s := range []float64{-1, -0.4, 0, 0.3, 1} {
		for _, inf := range []float64{-2, -1, 0, 1.5, 2} {
			calc := f.Compose(consensus.Result{Score: s}, nil, wager.Influence{Score: inf})
			if calc.FinalScore < 0 || calc.FinalScore > 100 {
				t.Fatalf("score out of range for s=%v inf=%v: %v", s, inf, calc.FinalScore)
			}
		}
	}
}

func TestComposeWithoutWeather(t *testing.T) {
	calc := DefaultFormula().Compose(consensus.Result{CycleID: 9, Score: 0.5, TieBreakApplied: true}, nil, wager.Influence{Score: 1.5})
	// 75*0.6 + 87.5*0.4
	if calc.FinalScore != 80 || calc.ScoreFraction != 0.8 || calc.Outcome != outcome.Good {
		t.Fatalf("got %+v", calc)
	}
	if !calc.Breakdown.TieBreakApplied || calc.Breakdown.WeatherScore != nil || calc.Breakdown.WagerNorm != 87.5 {
		t.Fatalf("unexpected breakdown %+v", calc.Breakdown)
	}
	if calc.Status != models.CalculationStatusResolved {
		t.Fatalf("status = %s", calc.Status)
	}
}

func TestComposeDegraded(t *testing.T) {
	calc := DefaultFormula().ComposeDegraded(4, nil, wager.Influence{Score: -2}, "no votes")
	if !calc.Degraded() || calc.FormulaVariant != VariantDegraded || calc.ScoreFraction != 0 {
		t.Fatalf("got %+v", calc)
	}
	// neutral consensus 50*0.6 + 0*0.4
	if calc.FinalScore != 30 || calc.Outcome != outcome.Bad || calc.Breakdown.DegradedReason != "no votes" {
		t.Fatalf("got %+v", calc)
	}
}

type memStore struct {
	mu      sync.Mutex
	rows    map[int64]*models.FinalWeatherCalculation
	inserts int
	// preempt simulates a concurrent writer that wins the insert race.
	preempt *models.FinalWeatherCalculation
}

func (m *memStore) GetFinalCalculation(_ context.Context, cycleID int64) (*models.FinalWeatherCalculation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[cycleID], nil
}

func (m *memStore) InsertFinalCalculation(_ context.Context, item *models.FinalWeatherCalculation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[int64]*models.FinalWeatherCalculation{}
	}
	if m.preempt != nil {
		m.rows[item.CycleID] = m.preempt
		m.preempt = nil
	}
	if _, ok := m.rows[item.CycleID]; ok {
		return false, nil
	}
	m.inserts++
	m.rows[item.CycleID] = item
	return true, nil
}

func TestComposerResolvesOnce(t *testing.T) {
	store := &memStore{}
	c := NewComposer(DefaultFormula(), store, nil)
	ctx := context.Background()

	first, created, err := c.Resolve(ctx, 5, Inputs{
		Consensus: &consensus.Result{CycleID: 5, Score: 0.8, Outcome: outcome.Good},
		Influence: wager.Influence{Score: 1},
	})
	if err != nil || !created {
		t.Fatalf("first resolve: created=%v err=%v", created, err)
	}

	// different live inputs must not change the stored answer
	second, created, err := c.Resolve(ctx, 5, Inputs{
		Consensus: &consensus.Result{CycleID: 5, Score: -1, Outcome: outcome.Bad},
		Weather:   &WeatherScore{NormalizedScore: 0},
	})
	if err != nil || created {
		t.Fatalf("second resolve: created=%v err=%v", created, err)
	}
	if first.FinalScore != second.FinalScore || first.Outcome != second.Outcome {
		t.Fatalf("recomputed: %+v vs %+v", first, second)
	}

	// a fresh composer reads the stored row
	again, _, err := NewComposer(DefaultFormula(), store, nil).Resolve(ctx, 5, Inputs{})
	if err != nil || again.FinalScore != first.FinalScore || again.Breakdown.ConsensusScore != 0.8 {
		t.Fatalf("stored read: %+v err=%v", again, err)
	}
	if store.inserts != 1 {
		t.Fatalf("inserts = %d, want 1", store.inserts)
	}
}

func TestComposerConflictReturnsStoredRow(t *testing.T) {
	winner, err := ToModel(DefaultFormula().ComposeDegraded(6, nil, wager.Influence{}, "race"))
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	store := &memStore{preempt: winner}
	c := NewComposer(DefaultFormula(), store, nil)

	got, created, err := c.Resolve(context.Background(), 6, Inputs{
		Consensus: &consensus.Result{CycleID: 6, Score: 1, Outcome: outcome.Good},
	})
	if err != nil || created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if !got.Degraded() || got.Breakdown.DegradedReason != "race" {
		t.Fatalf("expected stored degraded row, got %+v", got)
	}
}
