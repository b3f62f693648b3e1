package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agrocycle/internal/config"
	"agrocycle/internal/models"
	memrepository "agrocycle/internal/repository/memory"
)

func TestLimitReasons(t *testing.T) {
	cfg := config.RiskConfig{MaxStake: 50, MaxUserStakePerCycle: 100, MaxPoolStake: 1000}
	exp := exposureSnapshot{User: decimal.NewFromInt(80), Pool: decimal.NewFromInt(990)}

	got := limitReasons(cfg, exp, decimal.NewFromInt(60))
	want := []string{"max_stake", "user_cycle_exposure_cap", "pool_exposure_cap"}
	if len(got) != len(want) {
		t.Fatalf("reasons=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reasons=%v want=%v", got, want)
		}
	}
	if r := limitReasons(cfg, exp, decimal.NewFromInt(10)); len(r) != 0 {
		t.Fatalf("at the cap should pass, got %v", r)
	}
	if r := limitReasons(config.RiskConfig{}, exp, decimal.NewFromInt(1_000_000)); len(r) != 0 {
		t.Fatalf("zero limits should be disabled, got %v", r)
	}
}

func TestCheckWagerReadsStore(t *testing.T) {
	ctx := context.Background()
	repo := memrepository.New()
	for i, w := range []models.WagerPosition{
		{ID: "a", UserID: "alice", CycleID: 4, Direction: "GOOD", Stake: decimal.NewFromInt(30)},
		{ID: "b", UserID: "alice", CycleID: 4, Direction: "BAD", Stake: decimal.NewFromInt(30)},
		{ID: "c", UserID: "alice", CycleID: 3, Direction: "GOOD", Stake: decimal.NewFromInt(500)},
		{ID: "d", UserID: "bob", CycleID: 4, Direction: "GOOD", Stake: decimal.NewFromInt(500)},
	} {
		w.PlacedAt = time.Unix(int64(i), 0)
		if err := repo.InsertWagerPosition(ctx, &w); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	m := &Manager{Config: config.RiskConfig{MaxUserStakePerCycle: 100}, Repo: repo}
	if err := m.CheckWager(ctx, "alice", 4, decimal.NewFromInt(40)); err != nil {
		t.Fatalf("within cap: %v", err)
	}
	err := m.CheckWager(ctx, "alice", 4, decimal.NewFromInt(41))
	var le *LimitError
	if !errors.As(err, &le) || !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err=%v want LimitError", err)
	}
	if le.Reasons[0] != "user_cycle_exposure_cap" {
		t.Fatalf("reasons=%v", le.Reasons)
	}

	m.Config = config.RiskConfig{MaxPoolStake: 600}
	if err := m.CheckWager(ctx, "carol", 4, decimal.NewFromInt(41)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("pool cap: err=%v", err)
	}

	var nilManager *Manager
	if err := nilManager.CheckWager(ctx, "alice", 4, decimal.NewFromInt(1e6)); err != nil {
		t.Fatalf("nil manager: %v", err)
	}
}
