package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"agrocycle/internal/models"
	"agrocycle/internal/settlement"
)

// ErrPoolFrozen rejects a wager whose cycle context is already frozen.
var ErrPoolFrozen = errors.New("wager pool is frozen")

// CycleRepository persists cycles and everything frozen or derived per cycle.
// Insert* methods never overwrite: they report created=false when a row for
// the same key already exists.
type CycleRepository interface {
	EnsureCycle(ctx context.Context, item *models.Cycle) (bool, error)
	GetCycle(ctx context.Context, id int64) (*models.Cycle, error)
	ListCycles(ctx context.Context, params ListCyclesParams) ([]models.Cycle, error)
	UpdateCycleStatus(ctx context.Context, id int64, status, reason string) error

	InsertCycleSeed(ctx context.Context, item *models.CycleSeed) (bool, error)
	GetCycleSeed(ctx context.Context, cycleID int64) (*models.CycleSeed, error)
	MarkSeedRevealed(ctx context.Context, cycleID int64, at time.Time) error

	// FreezeCycleContext totals the cycle's wager stakes into item and stores
	// it, as one step with respect to InsertWagerPosition.
	FreezeCycleContext(ctx context.Context, item *models.CycleContext) (bool, error)
	GetCycleContext(ctx context.Context, cycleID int64) (*models.CycleContext, error)

	InsertVotes(ctx context.Context, items []models.Vote) error
	ListVotesByCycle(ctx context.Context, cycleID int64) ([]models.Vote, error)
	InsertConsensusRecord(ctx context.Context, item *models.ConsensusRecord) (bool, error)
	GetConsensusRecord(ctx context.Context, cycleID int64) (*models.ConsensusRecord, error)

	GetFinalCalculation(ctx context.Context, cycleID int64) (*models.FinalWeatherCalculation, error)
	InsertFinalCalculation(ctx context.Context, item *models.FinalWeatherCalculation) (bool, error)
}

type PositionRepository interface {
	// InsertWagerPosition fails with ErrPoolFrozen once the cycle's context
	// has been frozen.
	InsertWagerPosition(ctx context.Context, item *models.WagerPosition) error
	ListWagerPositions(ctx context.Context, params ListWagerPositionsParams) ([]models.WagerPosition, error)
	ListWagerPositionsByCycle(ctx context.Context, cycleID int64) ([]models.WagerPosition, error)
	SumWagerStakes(ctx context.Context, cycleID int64) (good decimal.Decimal, bad decimal.Decimal, err error)

	InsertFarmPosition(ctx context.Context, item *models.FarmPosition) error
	GetFarmPosition(ctx context.Context, id string) (*models.FarmPosition, error)
	// AdvanceFarmPosition moves the position to status and counts one care
	// step, but only while it is in one of fromStatuses. It reports whether a
	// row changed.
	AdvanceFarmPosition(ctx context.Context, id string, fromStatuses []string, status string) (bool, error)
	ListFarmPositionsByCycle(ctx context.Context, cycleID int64) ([]models.FarmPosition, error)

	GetSettlementRecord(ctx context.Context, cycleID int64) (*models.SettlementRecord, error)
	ApplySettlement(ctx context.Context, batch settlement.Batch) (bool, error)
}

type SettingsRepository interface {
	UpsertSignalSource(ctx context.Context, item *models.SignalSource) error
	ListSignalSources(ctx context.Context) ([]models.SignalSource, error)

	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

// Repository is everything the pipeline, services and handlers need.
type Repository interface {
	CycleRepository
	PositionRepository
	SettingsRepository
}

type ListCyclesParams struct {
	Limit   int
	Offset  int
	Status  *string
	OrderBy string
	Asc     *bool
}

type ListWagerPositionsParams struct {
	Limit   int
	Offset  int
	UserID  *string
	CycleID *int64
	OrderBy string
	Asc     *bool
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
