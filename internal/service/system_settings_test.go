package service

import (
	"context"
	"errors"
	"testing"

	"gorm.io/datatypes"

	"agrocycle/internal/models"
	memrepository "agrocycle/internal/repository/memory"
)

func TestEnsureDefaultSwitchesKeepsOperatorValues(t *testing.T) {
	ctx := context.Background()
	repo := memrepository.New()
	svc := &SystemSettingsService{Repo: repo}

	if err := repo.UpsertSystemSetting(ctx, &models.SystemSetting{Key: FeatureAutoSettle, Value: datatypes.JSON("false")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != len(DefaultFeatureSwitches()) {
		t.Fatalf("switches=%+v", all)
	}
	for _, f := range all {
		want := f.Key != FeatureAutoSettle
		if f.Enabled != want {
			t.Fatalf("%s=%v want %v", f.Key, f.Enabled, want)
		}
	}

	if err := svc.SetEnabled(ctx, FeaturePipeline, false, "ops"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := svc.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if svc.IsEnabled(ctx, FeaturePipeline, true) {
		t.Fatalf("restart must not re-enable an operator-disabled switch")
	}
	item, _ := repo.GetSystemSettingByKey(ctx, FeaturePipeline)
	if item == nil || item.UpdatedBy != "ops" {
		t.Fatalf("setting=%+v", item)
	}
}

func TestSetEnabledRejectsUnknownKeys(t *testing.T) {
	svc := &SystemSettingsService{Repo: memrepository.New()}
	if err := svc.SetEnabled(context.Background(), "feature.nope", true, ""); !errors.Is(err, ErrUnknownSwitch) {
		t.Fatalf("err=%v", err)
	}
}

func TestIsEnabledFallback(t *testing.T) {
	ctx := context.Background()
	repo := memrepository.New()
	svc := &SystemSettingsService{Repo: repo}
	if !svc.IsEnabled(ctx, "feature.unknown", true) {
		t.Fatalf("missing key should use fallback")
	}
	_ = repo.UpsertSystemSetting(ctx, &models.SystemSetting{Key: FeaturePipeline, Value: datatypes.JSON(`{"on":1}`)})
	if svc.IsEnabled(ctx, FeaturePipeline, false) {
		t.Fatalf("unreadable value should use fallback")
	}
	var nilSvc *SystemSettingsService
	if nilSvc.IsEnabled(ctx, FeaturePipeline, false) {
		t.Fatalf("nil service should use fallback")
	}
}
