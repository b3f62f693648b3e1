// Package memrepository is an in-process Repository used when no database is
// configured and by tests. It enforces the same once-per-cycle keys as the
// gorm store.
package memrepository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"agrocycle/internal/models"
	"agrocycle/internal/repository"
	"agrocycle/internal/settlement"
)

type voteKey struct {
	cycleID  int64
	sourceID string
}

type Store struct {
	mu sync.RWMutex

	cycles       map[int64]models.Cycle
	seeds        map[int64]models.CycleSeed
	contexts     map[int64]models.CycleContext
	votes        map[voteKey]models.Vote
	consensus    map[int64]models.ConsensusRecord
	calculations map[int64]models.FinalWeatherCalculation
	wagers       map[string]models.WagerPosition
	farms        map[string]models.FarmPosition
	settlements  map[int64]models.SettlementRecord
	sources      map[string]models.SignalSource
	settings     map[string]models.SystemSetting

	nextID uint64
}

var _ repository.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		cycles:       map[int64]models.Cycle{},
		seeds:        map[int64]models.CycleSeed{},
		contexts:     map[int64]models.CycleContext{},
		votes:        map[voteKey]models.Vote{},
		consensus:    map[int64]models.ConsensusRecord{},
		calculations: map[int64]models.FinalWeatherCalculation{},
		wagers:       map[string]models.WagerPosition{},
		farms:        map[string]models.FarmPosition{},
		settlements:  map[int64]models.SettlementRecord{},
		sources:      map[string]models.SignalSource{},
		settings:     map[string]models.SystemSetting{},
	}
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

func now() time.Time { return time.Now().UTC() }

func (s *Store) EnsureCycle(_ context.Context, item *models.Cycle) (bool, error) {
	if item == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[item.ID]; ok {
		return false, nil
	}
	if strings.TrimSpace(item.Status) == "" {
		item.Status = models.CycleStatusActive
	}
	item.CreatedAt, item.UpdatedAt = now(), now()
	s.cycles[item.ID] = *item
	return true, nil
}

func (s *Store) GetCycle(_ context.Context, id int64) (*models.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.cycles[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *Store) ListCycles(_ context.Context, params repository.ListCyclesParams) ([]models.Cycle, error) {
	s.mu.RLock()
	out := make([]models.Cycle, 0, len(s.cycles))
	for _, c := range s.cycles {
		if params.Status != nil && strings.TrimSpace(*params.Status) != "" && c.Status != strings.TrimSpace(*params.Status) {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()
	asc := params.Asc != nil && *params.Asc
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})
	return page(out, params.Limit, params.Offset, 50), nil
}

func (s *Store) UpdateCycleStatus(_ context.Context, id int64, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil
	}
	c.Status, c.StatusReason, c.UpdatedAt = status, reason, now()
	if status == models.CycleStatusSettled {
		t := now()
		c.SettledAt = &t
	}
	s.cycles[id] = c
	return nil
}

func (s *Store) InsertCycleSeed(_ context.Context, item *models.CycleSeed) (bool, error) {
	if item == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seeds[item.CycleID]; ok {
		return false, nil
	}
	item.ID, item.CreatedAt = s.id(), now()
	s.seeds[item.CycleID] = *item
	return true, nil
}

func (s *Store) GetCycleSeed(_ context.Context, cycleID int64) (*models.CycleSeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.seeds[cycleID]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *Store) MarkSeedRevealed(_ context.Context, cycleID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.seeds[cycleID]
	if !ok || v.RevealedAt != nil {
		return nil
	}
	v.RevealedAt = &at
	s.seeds[cycleID] = v
	return nil
}

func (s *Store) FreezeCycleContext(_ context.Context, item *models.CycleContext) (bool, error) {
	if item == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[item.CycleID]; ok {
		return false, nil
	}
	item.GoodStakes, item.BadStakes = s.stakes(item.CycleID)
	item.ID, item.CreatedAt = s.id(), now()
	s.contexts[item.CycleID] = *item
	return true, nil
}

func (s *Store) GetCycleContext(_ context.Context, cycleID int64) (*models.CycleContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.contexts[cycleID]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *Store) InsertVotes(_ context.Context, items []models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range items {
		k := voteKey{v.CycleID, v.SourceID}
		if _, ok := s.votes[k]; ok {
			continue
		}
		v.ID, v.CreatedAt = s.id(), now()
		s.votes[k] = v
	}
	return nil
}

func (s *Store) ListVotesByCycle(_ context.Context, cycleID int64) ([]models.Vote, error) {
	s.mu.RLock()
	var out []models.Vote
	for k, v := range s.votes {
		if k.cycleID == cycleID {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *Store) InsertConsensusRecord(_ context.Context, item *models.ConsensusRecord) (bool, error) {
	if item == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consensus[item.CycleID]; ok {
		return false, nil
	}
	item.ID, item.CreatedAt = s.id(), now()
	s.consensus[item.CycleID] = *item
	return true, nil
}

func (s *Store) GetConsensusRecord(_ context.Context, cycleID int64) (*models.ConsensusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.consensus[cycleID]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *Store) GetFinalCalculation(_ context.Context, cycleID int64) (*models.FinalWeatherCalculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.calculations[cycleID]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *Store) InsertFinalCalculation(_ context.Context, item *models.FinalWeatherCalculation) (bool, error) {
	if item == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calculations[item.CycleID]; ok {
		return false, nil
	}
	item.ID, item.CreatedAt = s.id(), now()
	s.calculations[item.CycleID] = *item
	return true, nil
}

func (s *Store) InsertWagerPosition(_ context.Context, item *models.WagerPosition) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, frozen := s.contexts[item.CycleID]; frozen {
		return repository.ErrPoolFrozen
	}
	item.CreatedAt = now()
	s.wagers[item.ID] = *item
	return nil
}

func (s *Store) ListWagerPositions(_ context.Context, params repository.ListWagerPositionsParams) ([]models.WagerPosition, error) {
	s.mu.RLock()
	var out []models.WagerPosition
	for _, w := range s.wagers {
		if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" && w.UserID != strings.TrimSpace(*params.UserID) {
			continue
		}
		if params.CycleID != nil && w.CycleID != *params.CycleID {
			continue
		}
		out = append(out, w)
	}
	s.mu.RUnlock()
	asc := params.Asc != nil && *params.Asc
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.Before(out[j].PlacedAt) == asc
		}
		return out[i].ID < out[j].ID
	})
	return page(out, params.Limit, params.Offset, 200), nil
}

func (s *Store) ListWagerPositionsByCycle(_ context.Context, cycleID int64) ([]models.WagerPosition, error) {
	s.mu.RLock()
	var out []models.WagerPosition
	for _, w := range s.wagers {
		if w.CycleID == cycleID {
			out = append(out, w)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SumWagerStakes(_ context.Context, cycleID int64) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	good, bad := s.stakes(cycleID)
	return good, bad, nil
}

// stakes sums a cycle's wagers by direction. Callers hold s.mu.
func (s *Store) stakes(cycleID int64) (decimal.Decimal, decimal.Decimal) {
	good, bad := decimal.Zero, decimal.Zero
	for _, w := range s.wagers {
		if w.CycleID != cycleID {
			continue
		}
		switch w.Direction {
		case "GOOD":
			good = good.Add(w.Stake)
		case "BAD":
			bad = bad.Add(w.Stake)
		}
	}
	return good, bad
}

func (s *Store) InsertFarmPosition(_ context.Context, item *models.FarmPosition) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.CreatedAt, item.UpdatedAt = now(), now()
	s.farms[item.ID] = *item
	return nil
}

func (s *Store) GetFarmPosition(_ context.Context, id string) (*models.FarmPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.farms[strings.TrimSpace(id)]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *Store) AdvanceFarmPosition(_ context.Context, id string, fromStatuses []string, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.farms[strings.TrimSpace(id)]
	if !ok || strings.TrimSpace(status) == "" {
		return false, nil
	}
	if len(fromStatuses) > 0 && !contains(fromStatuses, f.Status) {
		return false, nil
	}
	f.Status = status
	f.CareSteps++
	f.UpdatedAt = now()
	s.farms[f.ID] = f
	return true, nil
}

func (s *Store) ListFarmPositionsByCycle(_ context.Context, cycleID int64) ([]models.FarmPosition, error) {
	s.mu.RLock()
	var out []models.FarmPosition
	for _, f := range s.farms {
		if f.CycleID == cycleID {
			out = append(out, f)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetSettlementRecord(_ context.Context, cycleID int64) (*models.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.settlements[cycleID]; ok {
		return &v, nil
	}
	return nil, nil
}

// ApplySettlement holds the write lock for the whole batch, which is the
// in-memory equivalent of the gorm transaction.
func (s *Store) ApplySettlement(_ context.Context, batch settlement.Batch) (bool, error) {
	if batch.Record == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[batch.Record.CycleID]; ok {
		return false, nil
	}
	rec := *batch.Record
	rec.ID, rec.CreatedAt = s.id(), now()
	s.settlements[rec.CycleID] = rec

	for _, w := range batch.Wagers {
		if cur, ok := s.wagers[w.ID]; ok {
			cur.Payout = w.Payout
			s.wagers[w.ID] = cur
		}
	}
	for _, f := range batch.Farms {
		if cur, ok := s.farms[f.ID]; ok {
			cur.Status = f.Status
			cur.BaseReward = f.BaseReward
			cur.WeatherModifier = f.WeatherModifier
			cur.FinalReward = f.FinalReward
			cur.UpdatedAt = now()
			s.farms[f.ID] = cur
		}
	}
	if c, ok := s.cycles[rec.CycleID]; ok {
		settledAt := rec.SettledAt
		c.Status = models.CycleStatusSettled
		c.SettledAt = &settledAt
		c.UpdatedAt = now()
		s.cycles[rec.CycleID] = c
	}
	return true, nil
}

func (s *Store) UpsertSignalSource(_ context.Context, item *models.SignalSource) error {
	if item == nil || strings.TrimSpace(item.Name) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sources[item.Name]
	if !ok {
		v := *item
		v.ID, v.CreatedAt, v.UpdatedAt = s.id(), now(), now()
		s.sources[item.Name] = v
		return nil
	}
	cur.Kind = item.Kind
	cur.LastRunAt = item.LastRunAt
	cur.LastError = item.LastError
	cur.HealthStatus = item.HealthStatus
	cur.UpdatedAt = now()
	s.sources[item.Name] = cur
	return nil
}

func (s *Store) ListSignalSources(_ context.Context) ([]models.SignalSource, error) {
	s.mu.RLock()
	out := make([]models.SignalSource, 0, len(s.sources))
	for _, v := range s.sources {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	if item == nil || strings.TrimSpace(item.Key) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(item.Key)
	cur, ok := s.settings[key]
	if !ok {
		v := *item
		v.Key = key
		v.CreatedAt, v.UpdatedAt = now(), now()
		s.settings[key] = v
		return nil
	}
	cur.Value = item.Value
	cur.Description = item.Description
	cur.UpdatedBy = item.UpdatedBy
	cur.UpdatedAt = now()
	s.settings[key] = cur
	return nil
}

func (s *Store) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.settings[strings.TrimSpace(key)]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *Store) ListSystemSettings(_ context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	s.mu.RLock()
	var out []models.SystemSetting
	for k, v := range s.settings {
		if params.Prefix != nil && !strings.HasPrefix(k, strings.TrimSpace(*params.Prefix)) {
			continue
		}
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return page(out, params.Limit, params.Offset, 500), nil
}

func page[T any](items []T, limit, offset, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
