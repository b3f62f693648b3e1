package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agrocycle/internal/models"
	"agrocycle/internal/repository"
	"agrocycle/internal/settlement"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// insertOnce creates item unless the unique key already exists.
func insertOnce(db *gorm.DB, item any) (bool, error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func firstOrNil[T any](query *gorm.DB) (*T, error) {
	var item T
	err := query.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- cycles ---------------------------------------------------------------

func (s *Store) EnsureCycle(ctx context.Context, item *models.Cycle) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	if strings.TrimSpace(item.Status) == "" {
		item.Status = models.CycleStatusActive
	}
	return insertOnce(s.db.WithContext(ctx), item)
}

func (s *Store) GetCycle(ctx context.Context, id int64) (*models.Cycle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.Cycle](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) ListCycles(ctx context.Context, params repository.ListCyclesParams) ([]models.Cycle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Cycle{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "id")
	var items []models.Cycle
	if err := query.Limit(normalizeLimit(params.Limit, 50)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateCycleStatus(ctx context.Context, id int64, status, reason string) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"status":        status,
		"status_reason": reason,
		"updated_at":    time.Now().UTC(),
	}
	if status == models.CycleStatusSettled {
		updates["settled_at"] = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Model(&models.Cycle{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) InsertCycleSeed(ctx context.Context, item *models.CycleSeed) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	return insertOnce(s.db.WithContext(ctx), item)
}

func (s *Store) GetCycleSeed(ctx context.Context, cycleID int64) (*models.CycleSeed, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.CycleSeed](s.db.WithContext(ctx).Where("cycle_id = ?", cycleID))
}

func (s *Store) MarkSeedRevealed(ctx context.Context, cycleID int64, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.CycleSeed{}).
		Where("cycle_id = ? AND revealed_at IS NULL", cycleID).
		Update("revealed_at", at).Error
}

// lockPool takes a transaction-scoped advisory lock on a cycle's wager pool.
// Freezing and wager inserts both take it, so no wager lands between the
// stake totals and the context row.
func lockPool(tx *gorm.DB, cycleID int64) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", poolLockSpace, int32(cycleID)).Error
}

// poolLockSpace namespaces pool locks from other advisory lock users.
const poolLockSpace int32 = 0x61677263

func (s *Store) FreezeCycleContext(ctx context.Context, item *models.CycleContext) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPool(tx, item.CycleID); err != nil {
			return err
		}
		good, bad, err := sumStakes(tx, item.CycleID)
		if err != nil {
			return err
		}
		item.GoodStakes, item.BadStakes = good, bad
		created, err = insertOnce(tx, item)
		return err
	})
	return created, err
}

func (s *Store) GetCycleContext(ctx context.Context, cycleID int64) (*models.CycleContext, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.CycleContext](s.db.WithContext(ctx).Where("cycle_id = ?", cycleID))
}

// --- votes & consensus ----------------------------------------------------

func (s *Store) InsertVotes(ctx context.Context, items []models.Vote) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cycle_id"}, {Name: "source_id"}},
		DoNothing: true,
	}).CreateInBatches(items, 200).Error
}

func (s *Store) ListVotesByCycle(ctx context.Context, cycleID int64) ([]models.Vote, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Vote
	if err := s.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("source_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertConsensusRecord(ctx context.Context, item *models.ConsensusRecord) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	return insertOnce(s.db.WithContext(ctx), item)
}

func (s *Store) GetConsensusRecord(ctx context.Context, cycleID int64) (*models.ConsensusRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.ConsensusRecord](s.db.WithContext(ctx).Where("cycle_id = ?", cycleID))
}

func (s *Store) GetFinalCalculation(ctx context.Context, cycleID int64) (*models.FinalWeatherCalculation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.FinalWeatherCalculation](s.db.WithContext(ctx).Where("cycle_id = ?", cycleID))
}

func (s *Store) InsertFinalCalculation(ctx context.Context, item *models.FinalWeatherCalculation) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	return insertOnce(s.db.WithContext(ctx), item)
}

// --- positions ------------------------------------------------------------

func (s *Store) InsertWagerPosition(ctx context.Context, item *models.WagerPosition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPool(tx, item.CycleID); err != nil {
			return err
		}
		var frozen int64
		if err := tx.Model(&models.CycleContext{}).Where("cycle_id = ?", item.CycleID).Count(&frozen).Error; err != nil {
			return err
		}
		if frozen > 0 {
			return repository.ErrPoolFrozen
		}
		return tx.Create(item).Error
	})
}

func (s *Store) ListWagerPositions(ctx context.Context, params repository.ListWagerPositionsParams) ([]models.WagerPosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.WagerPosition{})
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.CycleID != nil {
		query = query.Where("cycle_id = ?", *params.CycleID)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "placed_at")
	var items []models.WagerPosition
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListWagerPositionsByCycle(ctx context.Context, cycleID int64) ([]models.WagerPosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WagerPosition
	if err := s.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SumWagerStakes(ctx context.Context, cycleID int64) (decimal.Decimal, decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	return sumStakes(s.db.WithContext(ctx), cycleID)
}

func sumStakes(db *gorm.DB, cycleID int64) (decimal.Decimal, decimal.Decimal, error) {
	var rows []struct {
		Direction string
		Total     decimal.Decimal
	}
	err := db.
		Model(&models.WagerPosition{}).
		Select("direction, COALESCE(SUM(stake), 0) AS total").
		Where("cycle_id = ?", cycleID).
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	good, bad := decimal.Zero, decimal.Zero
	for _, r := range rows {
		switch r.Direction {
		case "GOOD":
			good = good.Add(r.Total)
		case "BAD":
			bad = bad.Add(r.Total)
		}
	}
	return good, bad, nil
}

func (s *Store) InsertFarmPosition(ctx context.Context, item *models.FarmPosition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetFarmPosition(ctx context.Context, id string) (*models.FarmPosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.FarmPosition](s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)))
}

func (s *Store) AdvanceFarmPosition(ctx context.Context, id string, fromStatuses []string, status string) (bool, error) {
	if s == nil || s.db == nil || strings.TrimSpace(status) == "" {
		return false, nil
	}
	query := s.db.WithContext(ctx).Model(&models.FarmPosition{}).Where("id = ?", strings.TrimSpace(id))
	if len(fromStatuses) > 0 {
		query = query.Where("status IN ?", fromStatuses)
	}
	res := query.Updates(map[string]any{
		"status":     status,
		"care_steps": gorm.Expr("care_steps + 1"),
		"updated_at": time.Now().UTC(),
	})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListFarmPositionsByCycle(ctx context.Context, cycleID int64) ([]models.FarmPosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.FarmPosition
	if err := s.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- settlement -----------------------------------------------------------

func (s *Store) GetSettlementRecord(ctx context.Context, cycleID int64) (*models.SettlementRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return firstOrNil[models.SettlementRecord](s.db.WithContext(ctx).Where("cycle_id = ?", cycleID))
}

// ApplySettlement writes the record, payouts, farm rewards and cycle status in
// one transaction. The record's unique cycle_id is claimed first so a second
// settlement writes nothing.
func (s *Store) ApplySettlement(ctx context.Context, batch settlement.Batch) (bool, error) {
	if s == nil || s.db == nil || batch.Record == nil {
		return false, nil
	}
	created := false
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := insertOnce(tx, batch.Record)
		if err != nil || !ok {
			return err
		}
		for _, w := range batch.Wagers {
			if err := tx.Model(&models.WagerPosition{}).Where("id = ?", w.ID).Update("payout", w.Payout).Error; err != nil {
				return err
			}
		}
		for _, f := range batch.Farms {
			if err := tx.Model(&models.FarmPosition{}).Where("id = ?", f.ID).Updates(map[string]any{
				"status":           f.Status,
				"base_reward":      f.BaseReward,
				"weather_modifier": f.WeatherModifier,
				"final_reward":     f.FinalReward,
			}).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Cycle{}).Where("id = ?", batch.Record.CycleID).Updates(map[string]any{
			"status":     models.CycleStatusSettled,
			"settled_at": batch.Record.SettledAt,
		}).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// --- sources & settings ---------------------------------------------------

func (s *Store) UpsertSignalSource(ctx context.Context, item *models.SignalSource) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind",
			"last_run_at",
			"last_error",
			"health_status",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSignalSources(ctx context.Context) ([]models.SignalSource, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SignalSource
	if err := s.db.WithContext(ctx).
		Model(&models.SignalSource{}).
		Order("name asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_by",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	return firstOrNil[models.SystemSetting](s.db.WithContext(ctx).Where("key = ?", key))
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	var items []models.SystemSetting
	if err := query.Limit(normalizeLimit(params.Limit, 500)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
