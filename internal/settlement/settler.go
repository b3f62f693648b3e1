package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
)

var (
	// ErrDuplicateSettlement is returned when the cycle already has a
	// settlement record. Nothing is written.
	ErrDuplicateSettlement = errors.New("cycle already settled")
	ErrNotResolved         = errors.New("cycle has no final weather calculation")
	// ErrDegradedResolution blocks payouts against a degraded calculation.
	ErrDegradedResolution = errors.New("cycle resolved in degraded mode; settlement requires review")
)

// Batch is everything a settlement writes. Store.ApplySettlement must write
// it in one transaction and report created=false without writing anything
// when a record for the cycle already exists.
type Batch struct {
	Record *models.SettlementRecord
	Wagers []models.WagerPosition
	Farms  []models.FarmPosition
}

type Store interface {
	GetFinalCalculation(ctx context.Context, cycleID int64) (*models.FinalWeatherCalculation, error)
	GetSettlementRecord(ctx context.Context, cycleID int64) (*models.SettlementRecord, error)
	ListWagerPositionsByCycle(ctx context.Context, cycleID int64) ([]models.WagerPosition, error)
	ListFarmPositionsByCycle(ctx context.Context, cycleID int64) ([]models.FarmPosition, error)
	ApplySettlement(ctx context.Context, batch Batch) (bool, error)
}

type Settler struct {
	Store          Store
	Policy         Policy
	SettleDegraded bool
	Logger         *zap.Logger
	Now            func() time.Time
}

// Settle pays out cycleID once. A repeat call returns the stored result with
// ErrDuplicateSettlement.
func (s *Settler) Settle(ctx context.Context, cycleID int64) (Result, error) {
	if s == nil || s.Store == nil {
		return Result{}, fmt.Errorf("settler not configured")
	}
	if rec, err := s.Store.GetSettlementRecord(ctx, cycleID); err != nil {
		return Result{}, err
	} else if rec != nil {
		return s.stored(rec)
	}

	calc, err := s.Store.GetFinalCalculation(ctx, cycleID)
	if err != nil {
		return Result{}, err
	}
	if calc == nil {
		return Result{}, ErrNotResolved
	}
	if calc.Status == models.CalculationStatusDegraded && !s.SettleDegraded {
		return Result{}, ErrDegradedResolution
	}
	o, err := outcome.Parse(calc.Outcome)
	if err != nil {
		return Result{}, fmt.Errorf("cycle %d: %w", cycleID, err)
	}

	wagers, err := s.Store.ListWagerPositionsByCycle(ctx, cycleID)
	if err != nil {
		return Result{}, err
	}
	farms, err := s.Store.ListFarmPositionsByCycle(ctx, cycleID)
	if err != nil {
		return Result{}, err
	}

	policy := s.Policy
	degraded := calc.Status == models.CalculationStatusDegraded
	if degraded {
		policy = policy.Neutral()
	}
	res := Calculate(cycleID, o, calc.ScoreFraction, wagers, farms, policy)
	res.NeutralWeather = degraded
	if len(res.Payouts) > 0 && res.Winners > 0 && !res.TotalPaid.Equal(res.TotalPool) {
		return Result{}, fmt.Errorf("cycle %d: payouts %s do not conserve pool %s", cycleID, res.TotalPaid, res.TotalPool)
	}

	batch, err := s.batch(res, wagers, farms)
	if err != nil {
		return Result{}, err
	}
	created, err := s.Store.ApplySettlement(ctx, batch)
	if err != nil {
		return Result{}, err
	}
	if !created {
		rec, err := s.Store.GetSettlementRecord(ctx, cycleID)
		if err != nil {
			return Result{}, err
		}
		if rec == nil {
			return Result{}, ErrDuplicateSettlement
		}
		return s.stored(rec)
	}

	if s.Logger != nil {
		s.Logger.Info("cycle settled",
			zap.Int64("cycle_id", cycleID),
			zap.String("outcome", string(res.Outcome)),
			zap.String("total_pool", res.TotalPool.String()),
			zap.String("total_paid", res.TotalPaid.String()),
			zap.Int("winners", res.Winners),
			zap.Int("farms", len(res.Farms)),
		)
	}
	return res, nil
}

func (s *Settler) stored(rec *models.SettlementRecord) (Result, error) {
	var res Result
	if len(rec.Summary) > 0 {
		if err := json.Unmarshal(rec.Summary, &res); err != nil {
			return Result{}, fmt.Errorf("cycle %d settlement summary: %w", rec.CycleID, err)
		}
	}
	return res, ErrDuplicateSettlement
}

func (s *Settler) batch(res Result, wagers []models.WagerPosition, farms []models.FarmPosition) (Batch, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	summary, err := json.Marshal(res)
	if err != nil {
		return Batch{}, err
	}

	payouts := make(map[string]decimal.Decimal, len(res.Payouts))
	for _, p := range res.Payouts {
		payouts[p.PositionID] = p.Payout
	}
	var outWagers []models.WagerPosition
	for _, w := range wagers {
		if p, ok := payouts[w.ID]; ok {
			w.Payout = &p
			outWagers = append(outWagers, w)
		}
	}

	rewards := make(map[string]FarmReward, len(res.Farms))
	for _, f := range res.Farms {
		rewards[f.PositionID] = f
	}
	var outFarms []models.FarmPosition
	for _, f := range farms {
		r, ok := rewards[f.ID]
		if !ok {
			continue
		}
		base, final, mod := r.BaseReward, r.FinalReward, r.WeatherModifier
		f.BaseReward = &base
		f.FinalReward = &final
		f.WeatherModifier = &mod
		f.Status = models.FarmStatusSettled
		outFarms = append(outFarms, f)
	}

	return Batch{
		Record: &models.SettlementRecord{
			CycleID:           res.CycleID,
			Outcome:           string(res.Outcome),
			TotalPool:         res.TotalPool,
			TotalWinningStake: res.TotalWinningStake,
			TotalPaid:         res.TotalPaid,
			TotalFarmRewards:  res.TotalFarmRewards,
			NoWinnerPolicy:    res.NoWinnerPolicy,
			Winners:           res.Winners,
			Summary:           datatypes.JSON(summary),
			SettledAt:         now,
		},
		Wagers: outWagers,
		Farms:  outFarms,
	}, nil
}
