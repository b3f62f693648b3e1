// Package settlement pays out a resolved cycle: pari-mutuel wagers and
// weather-modified farm rewards.
package settlement

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"agrocycle/internal/config"
	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
)

const (
	PolicyRetain = "retain"
	PolicyRefund = "refund"

	amountPlaces = 8
)

type Policy struct {
	NoWinner       string
	FarmGoodBonus  float64
	FarmBadPenalty float64
	FarmFloor      float64
	YieldPerStep   float64
}

func PolicyFromConfig(cfg config.SettlementConfig) Policy {
	return Policy{
		NoWinner:       strings.ToLower(strings.TrimSpace(cfg.NoWinnerPolicy)),
		FarmGoodBonus:  cfg.FarmGoodBonus,
		FarmBadPenalty: cfg.FarmBadPenalty,
		FarmFloor:      cfg.FarmFloor,
		YieldPerStep:   cfg.YieldPerStep,
	}
}

// Neutral drops the weather bonus and penalty so every farm modifier is 1.
// Degraded resolutions settle this way: their confidence says nothing about
// the weather.
func (p Policy) Neutral() Policy {
	p.FarmGoodBonus, p.FarmBadPenalty = 0, 0
	return p
}

func DefaultPolicy() Policy {
	return Policy{NoWinner: PolicyRetain, FarmGoodBonus: 0.5, FarmBadPenalty: 0.5, FarmFloor: 0.1, YieldPerStep: 0.1}
}

type Payout struct {
	PositionID string          `json:"position_id"`
	UserID     string          `json:"user_id"`
	Direction  string          `json:"direction"`
	Stake      decimal.Decimal `json:"stake"`
	Payout     decimal.Decimal `json:"payout"`
	Winner     bool            `json:"winner"`
}

type FarmReward struct {
	PositionID      string          `json:"position_id"`
	UserID          string          `json:"user_id"`
	Stake           decimal.Decimal `json:"stake"`
	CareSteps       int             `json:"care_steps"`
	BaseReward      decimal.Decimal `json:"base_reward"`
	WeatherModifier float64         `json:"weather_modifier"`
	FinalReward     decimal.Decimal `json:"final_reward"`
}

type Result struct {
	CycleID           int64           `json:"cycle_id"`
	Outcome           outcome.Outcome `json:"outcome"`
	TotalPool         decimal.Decimal `json:"total_pool"`
	TotalWinningStake decimal.Decimal `json:"total_winning_stake"`
	TotalPaid         decimal.Decimal `json:"total_paid"`
	Winners           int             `json:"winners"`
	NoWinnerPolicy    string          `json:"no_winner_policy,omitempty"`
	NeutralWeather    bool            `json:"neutral_weather,omitempty"`
	Payouts           []Payout        `json:"payouts"`
	Farms             []FarmReward    `json:"farms"`
	TotalFarmRewards  decimal.Decimal `json:"total_farm_rewards"`
}

// Calculate is pure. Winners split the whole pool in proportion to stake;
// payouts are truncated to 8 places and the remainder goes to the largest
// winning stake (lowest id on ties) so they sum to the pool exactly.
// confidence is the resolution's score fraction in [0, 1].
func Calculate(cycleID int64, o outcome.Outcome, confidence float64, wagers []models.WagerPosition, farms []models.FarmPosition, p Policy) Result {
	res := Result{
		CycleID:           cycleID,
		Outcome:           o,
		TotalPool:         decimal.Zero,
		TotalWinningStake: decimal.Zero,
		TotalPaid:         decimal.Zero,
		TotalFarmRewards:  decimal.Zero,
	}

	sorted := make([]models.WagerPosition, 0, len(wagers))
	for _, w := range wagers {
		if w.Stake.IsPositive() {
			sorted = append(sorted, w)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, w := range sorted {
		res.TotalPool = res.TotalPool.Add(w.Stake)
		if outcome.Outcome(w.Direction) == o {
			res.TotalWinningStake = res.TotalWinningStake.Add(w.Stake)
			res.Winners++
		}
	}

	largest := -1
	for _, w := range sorted {
		po := Payout{PositionID: w.ID, UserID: w.UserID, Direction: w.Direction, Stake: w.Stake, Payout: decimal.Zero}
		switch {
		case res.Winners > 0 && outcome.Outcome(w.Direction) == o:
			po.Winner = true
			po.Payout = w.Stake.Mul(res.TotalPool).Div(res.TotalWinningStake).Truncate(amountPlaces)
			if largest < 0 || w.Stake.GreaterThan(res.Payouts[largest].Stake) {
				largest = len(res.Payouts)
			}
		case res.Winners == 0 && p.NoWinner == PolicyRefund:
			po.Payout = w.Stake
		}
		res.TotalPaid = res.TotalPaid.Add(po.Payout)
		res.Payouts = append(res.Payouts, po)
	}
	if largest >= 0 {
		if rem := res.TotalPool.Sub(res.TotalPaid); !rem.IsZero() {
			res.Payouts[largest].Payout = res.Payouts[largest].Payout.Add(rem)
			res.TotalPaid = res.TotalPool
		}
	}
	if res.Winners == 0 && len(sorted) > 0 {
		res.NoWinnerPolicy = p.NoWinner
		if res.NoWinnerPolicy == "" {
			res.NoWinnerPolicy = PolicyRetain
		}
	}

	modifier := WeatherModifier(o, confidence, p)
	for _, f := range farms {
		if f.Status == models.FarmStatusSettled || !f.Stake.IsPositive() {
			continue
		}
		base := BaseReward(f.Stake, f.CareSteps, p.YieldPerStep)
		final := base.Mul(decimal.NewFromFloat(modifier)).Round(amountPlaces)
		res.Farms = append(res.Farms, FarmReward{
			PositionID:      f.ID,
			UserID:          f.UserID,
			Stake:           f.Stake,
			CareSteps:       f.CareSteps,
			BaseReward:      base,
			WeatherModifier: modifier,
			FinalReward:     final,
		})
		res.TotalFarmRewards = res.TotalFarmRewards.Add(final)
	}
	sort.Slice(res.Farms, func(i, j int) bool { return res.Farms[i].PositionID < res.Farms[j].PositionID })
	return res
}

// BaseReward grows the stake by yieldPerStep for each care step taken.
func BaseReward(stake decimal.Decimal, careSteps int, yieldPerStep float64) decimal.Decimal {
	if careSteps < 0 {
		careSteps = 0
	}
	growth := decimal.NewFromFloat(yieldPerStep).Mul(decimal.NewFromInt(int64(careSteps)))
	return stake.Mul(decimal.NewFromInt(1).Add(growth)).Round(amountPlaces)
}

// WeatherModifier is 1+bonus*confidence for GOOD and
// 1-penalty*(1-confidence) for BAD, never below the floor.
func WeatherModifier(o outcome.Outcome, confidence float64, p Policy) float64 {
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))
	var m float64
	switch o {
	case outcome.Good:
		m = 1 + p.FarmGoodBonus*confidence
	case outcome.Bad:
		m = 1 - p.FarmBadPenalty*(1-confidence)
	default:
		m = 1
	}
	if m < p.FarmFloor {
		m = p.FarmFloor
	}
	return m
}
