package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"agrocycle/internal/consensus"
	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
	"agrocycle/internal/wager"
)

// Store persists final calculations. Insert must not overwrite an existing
// row for the cycle; it reports whether the row was created.
type Store interface {
	GetFinalCalculation(ctx context.Context, cycleID int64) (*models.FinalWeatherCalculation, error)
	InsertFinalCalculation(ctx context.Context, item *models.FinalWeatherCalculation) (bool, error)
}

// Inputs are the frozen values a cycle resolves from. A nil Consensus means
// consensus failed and the degraded branch is used.
type Inputs struct {
	Consensus      *consensus.Result
	DegradedReason string
	Weather        *WeatherScore
	Influence      wager.Influence
}

// Composer computes a cycle's FinalCalculation exactly once. Later calls
// return the stored result even if inputs have changed.
type Composer struct {
	Formula Formula
	Store   Store
	Logger  *zap.Logger

	mu    sync.Mutex
	cache map[int64]FinalCalculation
}

func NewComposer(formula Formula, store Store, logger *zap.Logger) *Composer {
	return &Composer{Formula: formula, Store: store, Logger: logger}
}

func (c *Composer) Resolve(ctx context.Context, cycleID int64, in Inputs) (FinalCalculation, bool, error) {
	if c == nil {
		return FinalCalculation{}, false, fmt.Errorf("composer not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if calc, ok := c.cache[cycleID]; ok {
		return calc, false, nil
	}
	if c.Store != nil {
		stored, err := c.Store.GetFinalCalculation(ctx, cycleID)
		if err != nil {
			return FinalCalculation{}, false, err
		}
		if stored != nil {
			calc, err := FromModel(stored)
			if err != nil {
				return FinalCalculation{}, false, err
			}
			c.remember(calc)
			return calc, false, nil
		}
	}

	var calc FinalCalculation
	if in.Consensus == nil {
		calc = c.Formula.ComposeDegraded(cycleID, in.Weather, in.Influence, in.DegradedReason)
	} else {
		calc = c.Formula.Compose(*in.Consensus, in.Weather, in.Influence)
		calc.CycleID = cycleID
	}

	if c.Store != nil {
		row, err := ToModel(calc)
		if err != nil {
			return FinalCalculation{}, false, err
		}
		created, err := c.Store.InsertFinalCalculation(ctx, row)
		if err != nil {
			return FinalCalculation{}, false, err
		}
		if !created {
			// another writer won; the stored row is authoritative
			stored, err := c.Store.GetFinalCalculation(ctx, cycleID)
			if err != nil {
				return FinalCalculation{}, false, err
			}
			if stored == nil {
				return FinalCalculation{}, false, fmt.Errorf("final calculation for cycle %d vanished after conflict", cycleID)
			}
			if calc, err = FromModel(stored); err != nil {
				return FinalCalculation{}, false, err
			}
			c.remember(calc)
			return calc, false, nil
		}
	}
	c.remember(calc)

	if c.Logger != nil {
		fields := []zap.Field{
			zap.Int64("cycle_id", cycleID),
			zap.Float64("final_score", calc.FinalScore),
			zap.String("outcome", string(calc.Outcome)),
			zap.String("variant", calc.FormulaVariant),
		}
		if calc.Degraded() {
			c.Logger.Warn("cycle resolved in degraded mode", append(fields, zap.String("reason", in.DegradedReason))...)
		} else {
			c.Logger.Info("cycle resolved", fields...)
		}
	}
	return calc, true, nil
}

func (c *Composer) remember(calc FinalCalculation) {
	if c.cache == nil {
		c.cache = map[int64]FinalCalculation{}
	}
	c.cache[calc.CycleID] = calc
}

func ToModel(calc FinalCalculation) (*models.FinalWeatherCalculation, error) {
	raw, err := json.Marshal(calc.Breakdown)
	if err != nil {
		return nil, err
	}
	return &models.FinalWeatherCalculation{
		CycleID:        calc.CycleID,
		FinalScore:     calc.FinalScore,
		Outcome:        string(calc.Outcome),
		ScoreFraction:  calc.ScoreFraction,
		FormulaVariant: calc.FormulaVariant,
		Status:         calc.Status,
		Breakdown:      datatypes.JSON(raw),
	}, nil
}

func FromModel(m *models.FinalWeatherCalculation) (FinalCalculation, error) {
	o, err := outcome.Parse(m.Outcome)
	if err != nil {
		return FinalCalculation{}, fmt.Errorf("cycle %d: %w", m.CycleID, err)
	}
	calc := FinalCalculation{
		CycleID:        m.CycleID,
		FinalScore:     m.FinalScore,
		Outcome:        o,
		ScoreFraction:  m.ScoreFraction,
		FormulaVariant: m.FormulaVariant,
		Status:         m.Status,
	}
	if len(m.Breakdown) > 0 {
		if err := json.Unmarshal(m.Breakdown, &calc.Breakdown); err != nil {
			return FinalCalculation{}, fmt.Errorf("cycle %d breakdown: %w", m.CycleID, err)
		}
	}
	return calc, nil
}
