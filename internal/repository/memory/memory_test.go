package memrepository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"agrocycle/internal/models"
	"agrocycle/internal/repository"
	"agrocycle/internal/settlement"
)

func TestCycleRowsAreWrittenOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, err := s.EnsureCycle(ctx, &models.Cycle{ID: 1, StartBlock: 10, EndBlock: 19, Status: models.CycleStatusActive})
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	created, _ = s.EnsureCycle(ctx, &models.Cycle{ID: 1, StartBlock: 99})
	if created {
		t.Fatalf("second ensure should be a no-op")
	}
	c, _ := s.GetCycle(ctx, 1)
	if c == nil || c.StartBlock != 10 {
		t.Fatalf("cycle=%+v", c)
	}
	if missing, _ := s.GetCycle(ctx, 2); missing != nil {
		t.Fatalf("missing cycle should be nil, got %+v", missing)
	}

	votes := []models.Vote{
		{CycleID: 1, SourceID: "b", Prediction: "GOOD"},
		{CycleID: 1, SourceID: "a", Prediction: "BAD"},
	}
	if err := s.InsertVotes(ctx, votes); err != nil {
		t.Fatalf("votes: %v", err)
	}
	if err := s.InsertVotes(ctx, []models.Vote{{CycleID: 1, SourceID: "a", Prediction: "GOOD"}}); err != nil {
		t.Fatalf("dup votes: %v", err)
	}
	got, _ := s.ListVotesByCycle(ctx, 1)
	if len(got) != 2 || got[0].SourceID != "a" || got[0].Prediction != "BAD" {
		t.Fatalf("votes=%+v", got)
	}
}

func TestAdvanceFarmPositionRespectsFromStatuses(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.InsertFarmPosition(ctx, &models.FarmPosition{ID: "f1", UserID: "u", Status: models.FarmStatusPlanted, Stake: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ok, _ := s.AdvanceFarmPosition(ctx, "f1", []string{models.FarmStatusHarvested}, models.FarmStatusHarvested)
	if ok {
		t.Fatalf("advance from wrong status should not apply")
	}
	ok, _ = s.AdvanceFarmPosition(ctx, "f1", []string{models.FarmStatusPlanted}, models.FarmStatusHarvested)
	if !ok {
		t.Fatalf("advance should apply")
	}
	f, _ := s.GetFarmPosition(ctx, "f1")
	if f.Status != models.FarmStatusHarvested || f.CareSteps != 1 {
		t.Fatalf("farm=%+v", f)
	}
}

func TestApplySettlementOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.EnsureCycle(ctx, &models.Cycle{ID: 3, Status: models.CycleStatusResolved})
	_ = s.InsertWagerPosition(ctx, &models.WagerPosition{ID: "w1", UserID: "u", CycleID: 3, Direction: "GOOD", Stake: decimal.NewFromInt(5)})

	payout := decimal.NewFromInt(5)
	batch := settlement.Batch{
		Record: &models.SettlementRecord{CycleID: 3, Outcome: "GOOD", SettledAt: time.Now().UTC()},
		Wagers: []models.WagerPosition{{ID: "w1", Payout: &payout}},
	}
	created, err := s.ApplySettlement(ctx, batch)
	if err != nil || !created {
		t.Fatalf("first apply: created=%v err=%v", created, err)
	}
	zero := decimal.Zero
	batch.Wagers[0].Payout = &zero
	if created, _ := s.ApplySettlement(ctx, batch); created {
		t.Fatalf("second apply should be rejected")
	}
	w, _ := s.ListWagerPositionsByCycle(ctx, 3)
	if len(w) != 1 || w[0].Payout == nil || !w[0].Payout.Equal(payout) {
		t.Fatalf("wagers=%+v", w)
	}
	c, _ := s.GetCycle(ctx, 3)
	if c.Status != models.CycleStatusSettled || c.SettledAt == nil {
		t.Fatalf("cycle=%+v", c)
	}
}

func TestSystemSettingsPrefixAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"feature.a", "feature.b", "other"} {
		if err := s.UpsertSystemSetting(ctx, &models.SystemSetting{Key: k, Value: datatypes.JSON(`true`)}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	_ = s.UpsertSystemSetting(ctx, &models.SystemSetting{Key: "feature.a", Value: datatypes.JSON(`false`)})

	prefix := "feature."
	items, err := s.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Prefix: &prefix})
	if err != nil || len(items) != 2 {
		t.Fatalf("items=%+v err=%v", items, err)
	}
	a, _ := s.GetSystemSettingByKey(ctx, "feature.a")
	if a == nil || string(a.Value) != "false" {
		t.Fatalf("feature.a=%+v", a)
	}
}

func TestFreezeClosesThePool(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.InsertWagerPosition(ctx, &models.WagerPosition{ID: "g", CycleID: 2, Direction: "GOOD", Stake: decimal.NewFromInt(7)})
	_ = s.InsertWagerPosition(ctx, &models.WagerPosition{ID: "b", CycleID: 2, Direction: "BAD", Stake: decimal.NewFromInt(3)})

	item := &models.CycleContext{CycleID: 2, GoodStakes: decimal.NewFromInt(99)}
	created, err := s.FreezeCycleContext(ctx, item)
	if err != nil || !created {
		t.Fatalf("freeze: created=%v err=%v", created, err)
	}
	if !item.GoodStakes.Equal(decimal.NewFromInt(7)) || !item.BadStakes.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("context=%+v", item)
	}
	err = s.InsertWagerPosition(ctx, &models.WagerPosition{ID: "late", CycleID: 2, Direction: "GOOD", Stake: decimal.NewFromInt(1)})
	if !errors.Is(err, repository.ErrPoolFrozen) {
		t.Fatalf("err=%v want ErrPoolFrozen", err)
	}
	if err := s.InsertWagerPosition(ctx, &models.WagerPosition{ID: "next", CycleID: 3, Direction: "GOOD", Stake: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("other cycle: %v", err)
	}
	if again, _ := s.FreezeCycleContext(ctx, &models.CycleContext{CycleID: 2}); again {
		t.Fatalf("second freeze should not apply")
	}
}
