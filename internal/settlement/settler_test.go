package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrocycle/internal/models"
)

type stubStore struct {
	calc    *models.FinalWeatherCalculation
	record  *models.SettlementRecord
	wagers  []models.WagerPosition
	farms   []models.FarmPosition
	applied int
}

func (s *stubStore) GetFinalCalculation(context.Context, int64) (*models.FinalWeatherCalculation, error) {
	return s.calc, nil
}

func (s *stubStore) GetSettlementRecord(context.Context, int64) (*models.SettlementRecord, error) {
	return s.record, nil
}

func (s *stubStore) ListWagerPositionsByCycle(context.Context, int64) ([]models.WagerPosition, error) {
	return append([]models.WagerPosition(nil), s.wagers...), nil
}

func (s *stubStore) ListFarmPositionsByCycle(context.Context, int64) ([]models.FarmPosition, error) {
	return append([]models.FarmPosition(nil), s.farms...), nil
}

func (s *stubStore) ApplySettlement(_ context.Context, b Batch) (bool, error) {
	if s.record != nil {
		return false, nil
	}
	s.applied++
	s.record = b.Record
	s.wagers = b.Wagers
	s.farms = b.Farms
	return true, nil
}

func resolvedCalc(outcome string, status string) *models.FinalWeatherCalculation {
	return &models.FinalWeatherCalculation{CycleID: 1, Outcome: outcome, ScoreFraction: 0.8, FinalScore: 80, Status: status}
}

func TestSettlerSettleIsIdempotent(t *testing.T) {
	store := &stubStore{
		calc:   resolvedCalc("GOOD", models.CalculationStatusResolved),
		wagers: scenarioWagers(),
		farms:  []models.FarmPosition{{ID: "f", UserID: "u", Stake: d("10"), Status: models.FarmStatusWorked, CareSteps: 1}},
	}
	s := &Settler{Store: store, Policy: DefaultPolicy()}
	ctx := context.Background()

	first, err := s.Settle(ctx, 1)
	require.NoError(t, err)
	assert.True(t, first.TotalPaid.Equal(d("300")))

	second, err := s.Settle(ctx, 1)
	assert.ErrorIs(t, err, ErrDuplicateSettlement)
	assert.Equal(t, 1, store.applied)
	require.Len(t, second.Payouts, len(first.Payouts))
	for i := range first.Payouts {
		assert.True(t, first.Payouts[i].Payout.Equal(second.Payouts[i].Payout))
	}

	for _, w := range store.wagers {
		require.NotNil(t, w.Payout)
	}
	require.Len(t, store.farms, 1)
	assert.Equal(t, models.FarmStatusSettled, store.farms[0].Status)
	// 10 * 1.1 * (1 + 0.5*0.8)
	assert.True(t, store.farms[0].FinalReward.Equal(d("15.4")), store.farms[0].FinalReward.String())
}

func TestSettlerRefusesDegraded(t *testing.T) {
	store := &stubStore{calc: resolvedCalc("BAD", models.CalculationStatusDegraded), wagers: scenarioWagers()}
	s := &Settler{Store: store, Policy: DefaultPolicy()}

	_, err := s.Settle(context.Background(), 1)
	assert.ErrorIs(t, err, ErrDegradedResolution)
	assert.Zero(t, store.applied)

	s.SettleDegraded = true
	res, err := s.Settle(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.TotalPaid.Equal(d("300")))
}

func TestSettlerDegradedFarmsGetNeutralModifier(t *testing.T) {
	for _, o := range []string{"GOOD", "BAD"} {
		calc := resolvedCalc(o, models.CalculationStatusDegraded)
		calc.ScoreFraction, calc.FinalScore = 0, 30
		store := &stubStore{
			calc:  calc,
			farms: []models.FarmPosition{{ID: "f", UserID: "u", Stake: d("10"), Status: models.FarmStatusHarvested, CareSteps: 2}},
		}
		s := &Settler{Store: store, Policy: DefaultPolicy(), SettleDegraded: true}

		res, err := s.Settle(context.Background(), 1)
		require.NoError(t, err, o)
		assert.True(t, res.NeutralWeather, o)
		require.Len(t, res.Farms, 1, o)
		assert.Equal(t, 1.0, res.Farms[0].WeatherModifier, o)
		// 10 * (1 + 0.1*2), untouched by weather
		assert.True(t, res.Farms[0].FinalReward.Equal(d("12")), "%s: %s", o, res.Farms[0].FinalReward)
	}

	// A confident resolution still applies the modifier.
	store := &stubStore{
		calc:  resolvedCalc("BAD", models.CalculationStatusResolved),
		farms: []models.FarmPosition{{ID: "f", UserID: "u", Stake: d("10"), Status: models.FarmStatusHarvested, CareSteps: 2}},
	}
	res, err := (&Settler{Store: store, Policy: DefaultPolicy()}).Settle(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, res.NeutralWeather)
	assert.InDelta(t, 0.9, res.Farms[0].WeatherModifier, 1e-9)
}

func TestSettlerRequiresResolution(t *testing.T) {
	s := &Settler{Store: &stubStore{}, Policy: DefaultPolicy()}
	_, err := s.Settle(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrNotResolved))
}
