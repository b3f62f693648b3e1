// Package resolution turns the consensus, an optional real-weather reading and
// the wager influence into the single final outcome a cycle settles against.
package resolution

import (
	"github.com/shopspring/decimal"

	"agrocycle/internal/config"
	"agrocycle/internal/consensus"
	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
	"agrocycle/internal/wager"
)

const (
	VariantWithWeather    = "with_weather"
	VariantWithoutWeather = "without_weather"
	VariantDegraded       = "degraded"

	DefaultThreshold = 50.0

	// scores are kept to 6 decimal places so the threshold compare is exact
	scorePlaces = 6
)

// WeatherScore is a real-world reading normalized to [0, 100].
type WeatherScore struct {
	NormalizedScore float64 `json:"normalized_score"`
	Source          string  `json:"source"`
}

// ComponentBreakdown records every input and weight behind a final score.
type ComponentBreakdown struct {
	ConsensusScore  float64  `json:"consensus_score"`
	ConsensusNorm   float64  `json:"consensus_normalized"`
	TieBreakApplied bool     `json:"tie_break_applied"`
	WeatherScore    *float64 `json:"weather_score,omitempty"`
	WeatherSource   string   `json:"weather_source,omitempty"`
	WagerInfluence  float64  `json:"wager_influence"`
	WagerNorm       float64  `json:"wager_normalized"`
	ConsensusWeight float64  `json:"consensus_weight"`
	WeatherWeight   float64  `json:"weather_weight"`
	WagerWeight     float64  `json:"wager_weight"`
	Threshold       float64  `json:"threshold"`
	DegradedReason  string   `json:"degraded_reason,omitempty"`
}

// FinalCalculation is the resolved outcome of a cycle.
//
// ScoreFraction is FinalScore/100 and nothing more; it is serialized as
// "confidence" but is not a statistical confidence.
type FinalCalculation struct {
	CycleID        int64              `json:"cycle_id"`
	FinalScore     float64            `json:"final_score"`
	Outcome        outcome.Outcome    `json:"outcome"`
	ScoreFraction  float64            `json:"confidence"`
	FormulaVariant string             `json:"formula_variant"`
	Status         string             `json:"status"`
	Breakdown      ComponentBreakdown `json:"component_breakdown"`
}

func (f FinalCalculation) Degraded() bool {
	return f.Status == models.CalculationStatusDegraded
}

// Formula holds the threshold and the weights of both branches.
type Formula struct {
	Threshold      float64
	WithWeather    config.WeightsWithWeather
	WithoutWeather config.WeightsWithoutWeather
}

func FormulaFromConfig(cfg config.ResolutionConfig) Formula {
	return Formula{
		Threshold:      cfg.Threshold,
		WithWeather:    cfg.WeightsWithWeather,
		WithoutWeather: cfg.WeightsWithoutWeather,
	}
}

// DefaultFormula is 35/40/25 with weather, 60/40 without, threshold 50.
func DefaultFormula() Formula {
	return Formula{
		Threshold:      DefaultThreshold,
		WithWeather:    config.WeightsWithWeather{Consensus: 0.35, Weather: 0.40, Wager: 0.25},
		WithoutWeather: config.WeightsWithoutWeather{Consensus: 0.60, Wager: 0.40},
	}
}

// Compose applies the two-branch formula. A nil realWeather selects the
// without-weather weights.
func (f Formula) Compose(res consensus.Result, realWeather *WeatherScore, influence wager.Influence) FinalCalculation {
	calc := f.compose(res.CycleID, res.Score, realWeather, influence)
	calc.Breakdown.TieBreakApplied = res.TieBreakApplied
	calc.Status = models.CalculationStatusResolved
	return calc
}

// ComposeDegraded is used when consensus could not be reached. Consensus is
// taken as neutral and ScoreFraction is pinned to 0 so the result can never be
// mistaken for a normal resolution.
func (f Formula) ComposeDegraded(cycleID int64, realWeather *WeatherScore, influence wager.Influence, reason string) FinalCalculation {
	calc := f.compose(cycleID, 0, realWeather, influence)
	calc.FormulaVariant = VariantDegraded
	calc.Status = models.CalculationStatusDegraded
	calc.ScoreFraction = 0
	calc.Breakdown.DegradedReason = reason
	return calc
}

func (f Formula) compose(cycleID int64, consensusScore float64, realWeather *WeatherScore, influence wager.Influence) FinalCalculation {
	threshold := f.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	hundred := decimal.NewFromInt(100)
	score := clampDec(decimal.NewFromFloat(consensusScore), decimal.NewFromInt(-1), decimal.NewFromInt(1))
	consensusNorm := score.Add(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(50))
	inf := clampDec(decimal.NewFromFloat(influence.Score), decimal.NewFromInt(-2), decimal.NewFromInt(2))
	wagerNorm := inf.Add(decimal.NewFromInt(2)).Div(decimal.NewFromInt(4)).Mul(hundred)

	b := ComponentBreakdown{
		ConsensusScore: consensusScore,
		ConsensusNorm:  consensusNorm.InexactFloat64(),
		WagerInfluence: influence.Score,
		WagerNorm:      wagerNorm.InexactFloat64(),
		Threshold:      threshold,
	}

	var final decimal.Decimal
	variant := VariantWithoutWeather
	if realWeather != nil {
		variant = VariantWithWeather
		w := clampDec(decimal.NewFromFloat(realWeather.NormalizedScore), decimal.Zero, hundred)
		ws := w.InexactFloat64()
		b.WeatherScore = &ws
		b.WeatherSource = realWeather.Source
		b.ConsensusWeight = f.WithWeather.Consensus
		b.WeatherWeight = f.WithWeather.Weather
		b.WagerWeight = f.WithWeather.Wager
		final = consensusNorm.Mul(decimal.NewFromFloat(f.WithWeather.Consensus)).
			Add(w.Mul(decimal.NewFromFloat(f.WithWeather.Weather))).
			Add(wagerNorm.Mul(decimal.NewFromFloat(f.WithWeather.Wager)))
	} else {
		b.ConsensusWeight = f.WithoutWeather.Consensus
		b.WagerWeight = f.WithoutWeather.Wager
		final = consensusNorm.Mul(decimal.NewFromFloat(f.WithoutWeather.Consensus)).
			Add(wagerNorm.Mul(decimal.NewFromFloat(f.WithoutWeather.Wager)))
	}
	// The outcome is decided on the unrounded score; FinalScore is rounded
	// for storage and display only.
	raw := clampDec(final, decimal.Zero, hundred)
	final = raw.Round(scorePlaces)

	o := outcome.Bad
	if raw.GreaterThanOrEqual(decimal.NewFromFloat(threshold)) {
		o = outcome.Good
	}
	return FinalCalculation{
		CycleID:        cycleID,
		FinalScore:     final.InexactFloat64(),
		Outcome:        o,
		ScoreFraction:  final.Div(hundred).InexactFloat64(),
		FormulaVariant: variant,
		Breakdown:      b,
	}
}

func clampDec(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
