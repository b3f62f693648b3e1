package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agrocycle/internal/cycle"
	"agrocycle/internal/models"
	"agrocycle/internal/repository"
	"agrocycle/internal/wager"
)

var (
	ErrSchedulerNotReady = errors.New("cycle scheduler has not observed a block yet")
	ErrFarmNotFound      = errors.New("farm position not found")
	ErrInvalidFarmAction = errors.New("invalid farm action")
)

const maxCareSteps = 10

// CycleView reports the scheduler's current cycle. *cycle.Scheduler
// implements it.
type CycleView interface {
	Snapshot() (cycle.Info, bool)
}

// WagerLimiter vets a stake against exposure caps before it is recorded.
type WagerLimiter interface {
	CheckWager(ctx context.Context, userID string, cycleID int64, stake decimal.Decimal) error
}

type WagerService struct {
	Repo   repository.Repository
	Cycles CycleView
	Window cycle.Window
	Risk   WagerLimiter
	Logger *zap.Logger
	Now    func() time.Time
}

// Place records a wager on the current cycle. Wagers close once the cycle's
// pool has been frozen into its context, even if the window still allows them.
func (s *WagerService) Place(ctx context.Context, userID, direction string, stake decimal.Decimal) (*models.WagerPosition, error) {
	if s == nil || s.Repo == nil || s.Cycles == nil {
		return nil, fmt.Errorf("wager service not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &wager.InvalidWagerError{Reason: "user_id is required"}
	}
	info, ok := s.Cycles.Snapshot()
	if !ok {
		return nil, ErrSchedulerNotReady
	}
	dir, err := wager.Validate(info, s.Window, direction, stake)
	if err != nil {
		return nil, err
	}
	if frozen, err := s.Repo.GetCycleContext(ctx, info.CycleID); err != nil {
		return nil, err
	} else if frozen != nil {
		return nil, &wager.InvalidWagerError{Reason: fmt.Sprintf("cycle %d pool is frozen", info.CycleID)}
	}
	if s.Risk != nil {
		if err := s.Risk.CheckWager(ctx, userID, info.CycleID, stake); err != nil {
			return nil, err
		}
	}

	item := &models.WagerPosition{
		ID:        uuid.NewString(),
		UserID:    userID,
		CycleID:   info.CycleID,
		Direction: string(dir),
		Stake:     stake,
		PlacedAt:  nowOr(s.Now),
	}
	// The context check above is a fast path; the store re-checks under the
	// same lock the freeze takes.
	if err := s.Repo.InsertWagerPosition(ctx, item); errors.Is(err, repository.ErrPoolFrozen) {
		return nil, &wager.InvalidWagerError{Reason: fmt.Sprintf("cycle %d pool is frozen", info.CycleID)}
	} else if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("wager placed",
			zap.String("position_id", item.ID),
			zap.String("user_id", userID),
			zap.Int64("cycle_id", item.CycleID),
			zap.String("direction", item.Direction),
			zap.String("stake", stake.String()),
		)
	}
	return item, nil
}

// Pool aggregates a cycle's wagers.
func (s *WagerService) Pool(ctx context.Context, cycleID int64) (wager.Pool, error) {
	positions, err := s.Repo.ListWagerPositionsByCycle(ctx, cycleID)
	if err != nil {
		return wager.Pool{}, err
	}
	return wager.NewPool(cycleID, positions), nil
}

func (s *WagerService) List(ctx context.Context, params repository.ListWagerPositionsParams) ([]models.WagerPosition, error) {
	return s.Repo.ListWagerPositions(ctx, params)
}

// FarmService runs the plant → work → harvest lifecycle. Each action is tied
// to a phase of the farm's own cycle and adds one care step.
type FarmService struct {
	Repo   repository.Repository
	Cycles CycleView
	Logger *zap.Logger
	Now    func() time.Time
}

func farmError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFarmAction, fmt.Sprintf(format, args...))
}

func (s *FarmService) Plant(ctx context.Context, userID string, stake decimal.Decimal) (*models.FarmPosition, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, farmError("user_id is required")
	}
	if !stake.IsPositive() {
		return nil, farmError("stake must be positive")
	}
	info, ok := s.Cycles.Snapshot()
	if !ok {
		return nil, ErrSchedulerNotReady
	}
	if info.Phase != cycle.PhasePlanting {
		return nil, farmError("cycle %d is in %s; planting needs %s", info.CycleID, info.Phase, cycle.PhasePlanting)
	}
	item := &models.FarmPosition{
		ID:        uuid.NewString(),
		UserID:    userID,
		CycleID:   info.CycleID,
		Stake:     stake,
		Status:    models.FarmStatusPlanted,
		PlantedAt: nowOr(s.Now),
	}
	if err := s.Repo.InsertFarmPosition(ctx, item); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("farm planted",
			zap.String("position_id", item.ID),
			zap.String("user_id", userID),
			zap.Int64("cycle_id", item.CycleID),
			zap.String("stake", stake.String()),
		)
	}
	return item, nil
}

// Work tends a planted farm during WORKING. It may be repeated up to the
// care-step cap.
func (s *FarmService) Work(ctx context.Context, id string) (*models.FarmPosition, error) {
	return s.advance(ctx, id, cycle.PhaseWorking,
		[]string{models.FarmStatusPlanted, models.FarmStatusWorked}, models.FarmStatusWorked)
}

// Harvest closes a farm during REVEALING; it is then only touched by settlement.
func (s *FarmService) Harvest(ctx context.Context, id string) (*models.FarmPosition, error) {
	return s.advance(ctx, id, cycle.PhaseRevealing,
		[]string{models.FarmStatusPlanted, models.FarmStatusWorked}, models.FarmStatusHarvested)
}

func (s *FarmService) advance(ctx context.Context, id string, phase cycle.Phase, from []string, to string) (*models.FarmPosition, error) {
	farm, err := s.Repo.GetFarmPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if farm == nil {
		return nil, ErrFarmNotFound
	}
	info, ok := s.Cycles.Snapshot()
	if !ok {
		return nil, ErrSchedulerNotReady
	}
	if current, live := info.Tracked()[farm.CycleID]; !live || current != phase {
		return nil, farmError("farm %s belongs to cycle %d, which is not in %s", farm.ID, farm.CycleID, phase)
	}
	if farm.CareSteps >= maxCareSteps {
		return nil, farmError("farm %s reached %d care steps", farm.ID, maxCareSteps)
	}
	changed, err := s.Repo.AdvanceFarmPosition(ctx, farm.ID, from, to)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, farmError("farm %s is %s", farm.ID, farm.Status)
	}
	updated, err := s.Repo.GetFarmPosition(ctx, farm.ID)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil && updated != nil {
		s.Logger.Debug("farm advanced",
			zap.String("position_id", updated.ID),
			zap.String("status", updated.Status),
			zap.Int("care_steps", updated.CareSteps),
		)
	}
	return updated, nil
}

func nowOr(fn func() time.Time) time.Time {
	if fn != nil {
		return fn()
	}
	return time.Now().UTC()
}
