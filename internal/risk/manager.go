package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agrocycle/internal/config"
	"agrocycle/internal/models"
	"agrocycle/internal/repository"
)

// ErrLimitExceeded wraps every stake-limit rejection.
var ErrLimitExceeded = errors.New("stake limit exceeded")

const pageSize = 500

// LimitError names the limits a wager would breach.
type LimitError struct {
	Reasons []string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLimitExceeded, strings.Join(e.Reasons, ","))
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// ExposureSource is the slice of the position store the manager reads.
type ExposureSource interface {
	ListWagerPositions(ctx context.Context, params repository.ListWagerPositionsParams) ([]models.WagerPosition, error)
	SumWagerStakes(ctx context.Context, cycleID int64) (good, bad decimal.Decimal, err error)
}

// Manager applies per-wager, per-user and per-pool stake caps. Checks run
// before insert and are not atomic with it, so concurrent wagers can overshoot
// a cap by at most one stake each. Zero disables a limit.
type Manager struct {
	Config config.RiskConfig
	Repo   ExposureSource
	Logger *zap.Logger
}

type exposureSnapshot struct {
	User decimal.Decimal
	Pool decimal.Decimal
}

func (m *Manager) CheckWager(ctx context.Context, userID string, cycleID int64, stake decimal.Decimal) error {
	if m == nil || m.Repo == nil || !m.enabled() {
		return nil
	}
	exp, err := m.exposures(ctx, userID, cycleID)
	if err != nil {
		return err
	}
	reasons := limitReasons(m.Config, exp, stake)
	if len(reasons) == 0 {
		return nil
	}
	if m.Logger != nil {
		m.Logger.Info("risk: reject wager",
			zap.String("user_id", userID),
			zap.Int64("cycle_id", cycleID),
			zap.String("stake", stake.String()),
			zap.String("user_exposure", exp.User.String()),
			zap.String("pool_exposure", exp.Pool.String()),
			zap.Strings("reasons", reasons),
		)
	}
	return &LimitError{Reasons: reasons}
}

func (m *Manager) enabled() bool {
	c := m.Config
	return c.MaxStake > 0 || c.MaxUserStakePerCycle > 0 || c.MaxPoolStake > 0
}

func (m *Manager) exposures(ctx context.Context, userID string, cycleID int64) (exposureSnapshot, error) {
	out := exposureSnapshot{User: decimal.Zero, Pool: decimal.Zero}
	if m.Config.MaxPoolStake > 0 {
		good, bad, err := m.Repo.SumWagerStakes(ctx, cycleID)
		if err != nil {
			return out, err
		}
		out.Pool = good.Add(bad)
	}
	if m.Config.MaxUserStakePerCycle <= 0 {
		return out, nil
	}
	for offset := 0; ; offset += pageSize {
		items, err := m.Repo.ListWagerPositions(ctx, repository.ListWagerPositionsParams{
			Limit:   pageSize,
			Offset:  offset,
			UserID:  &userID,
			CycleID: &cycleID,
		})
		if err != nil {
			return out, err
		}
		for _, w := range items {
			out.User = out.User.Add(w.Stake)
		}
		if len(items) < pageSize {
			return out, nil
		}
	}
}

// limitReasons is pure so the caps can be tested without a store.
func limitReasons(cfg config.RiskConfig, exp exposureSnapshot, stake decimal.Decimal) []string {
	var reasons []string
	if cfg.MaxStake > 0 && stake.GreaterThan(decimal.NewFromFloat(cfg.MaxStake)) {
		reasons = append(reasons, "max_stake")
	}
	if cfg.MaxUserStakePerCycle > 0 && exp.User.Add(stake).GreaterThan(decimal.NewFromFloat(cfg.MaxUserStakePerCycle)) {
		reasons = append(reasons, "user_cycle_exposure_cap")
	}
	if cfg.MaxPoolStake > 0 && exp.Pool.Add(stake).GreaterThan(decimal.NewFromFloat(cfg.MaxPoolStake)) {
		reasons = append(reasons, "pool_exposure_cap")
	}
	return reasons
}
