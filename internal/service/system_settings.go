package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"gorm.io/datatypes"

	"agrocycle/internal/models"
	"agrocycle/internal/repository"
)

const (
	FeaturePipeline    = "feature.pipeline"
	FeatureRealWeather = "feature.real_weather"
	FeatureAutoSettle  = "feature.auto_settle"
)

var ErrUnknownSwitch = errors.New("unknown feature switch")

// FeatureSwitch describes one operator-controlled toggle.
type FeatureSwitch struct {
	Key         string `json:"key"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}

var featureCatalog = []FeatureSwitch{
	{Key: FeaturePipeline, Enabled: true, Description: "run analysis when a cycle enters REVEALING"},
	// Also needs weather.enabled and at least one configured source.
	{Key: FeatureRealWeather, Enabled: true, Description: "fold live weather readings into the cycle context"},
	{Key: FeatureAutoSettle, Enabled: true, Description: "settle wagers once a cycle is resolved"},
}

// DefaultFeatureSwitches maps every known switch to its default.
func DefaultFeatureSwitches() map[string]bool {
	out := make(map[string]bool, len(featureCatalog))
	for _, f := range featureCatalog {
		out[f.Key] = f.Enabled
	}
	return out
}

func lookupSwitch(key string) (FeatureSwitch, bool) {
	for _, f := range featureCatalog {
		if f.Key == key {
			return f, true
		}
	}
	return FeatureSwitch{}, false
}

// SystemSettingsService reads and writes feature switches. Stored values
// belong to operators; defaults only fill in missing rows.
type SystemSettingsService struct {
	Repo repository.SettingsRepository
}

func encodeSwitch(enabled bool) datatypes.JSON {
	if enabled {
		return datatypes.JSON("true")
	}
	return datatypes.JSON("false")
}

func decodeSwitch(item *models.SystemSetting) (bool, bool) {
	if item == nil || len(item.Value) == 0 {
		return false, false
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return false, false
	}
	return enabled, true
}

// EnsureDefaultSwitches inserts rows for switches that have none yet.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	for _, f := range featureCatalog {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, f.Key)
		if err != nil {
			return err
		}
		if _, ok := decodeSwitch(existing); ok {
			continue
		}
		item := &models.SystemSetting{
			Key:         f.Key,
			Value:       encodeSwitch(f.Enabled),
			Description: f.Description,
			UpdatedBy:   "defaults",
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// IsEnabled never fails; a missing or unreadable row yields fallback.
func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil {
		return fallback
	}
	if enabled, ok := decodeSwitch(item); ok {
		return enabled
	}
	return fallback
}

// SetEnabled stores a switch value. actor is recorded for audit and may be empty.
func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool, actor string) error {
	f, ok := lookupSwitch(strings.TrimSpace(key))
	if !ok {
		return ErrUnknownSwitch
	}
	if s == nil || s.Repo == nil {
		return nil
	}
	if actor = strings.TrimSpace(actor); actor == "" {
		actor = "api"
	}
	return s.Repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:         f.Key,
		Value:       encodeSwitch(enabled),
		Description: f.Description,
		UpdatedBy:   actor,
	})
}

// List returns every known switch in key order, stored values overriding
// defaults. Rows for keys outside the catalog are ignored.
func (s *SystemSettingsService) List(ctx context.Context) ([]FeatureSwitch, error) {
	out := make([]FeatureSwitch, len(featureCatalog))
	copy(out, featureCatalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if s == nil || s.Repo == nil {
		return out, nil
	}
	prefix := "feature."
	items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Prefix: &prefix, Limit: 500})
	if err != nil {
		return nil, err
	}
	stored := make(map[string]models.SystemSetting, len(items))
	for _, item := range items {
		stored[item.Key] = item
	}
	for i := range out {
		item, ok := stored[out[i].Key]
		if !ok {
			continue
		}
		if enabled, ok := decodeSwitch(&item); ok {
			out[i].Enabled = enabled
			out[i].UpdatedBy = item.UpdatedBy
		}
	}
	return out, nil
}
