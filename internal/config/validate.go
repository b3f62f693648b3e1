package config

import (
	"fmt"
	"math"
	"strings"
)

const weightTolerance = 1e-9

// Validate rejects configurations the resolution pipeline cannot run with.
func (c Config) Validate() error {
	if err := c.Cycle.Validate(); err != nil {
		return err
	}
	w := c.Resolution.WeightsWithWeather
	if sum := w.Consensus + w.Weather + w.Wager; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("resolution.weights_with_weather must sum to 1, got %v", sum)
	}
	wo := c.Resolution.WeightsWithoutWeather
	if sum := wo.Consensus + wo.Wager; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("resolution.weights_without_weather must sum to 1, got %v", sum)
	}
	if c.Resolution.Threshold < 0 || c.Resolution.Threshold > 100 {
		return fmt.Errorf("resolution.threshold must be within [0,100], got %v", c.Resolution.Threshold)
	}
	switch strings.ToLower(strings.TrimSpace(c.Settlement.NoWinnerPolicy)) {
	case "retain", "refund":
	default:
		return fmt.Errorf("settlement.no_winner_policy must be retain or refund, got %q", c.Settlement.NoWinnerPolicy)
	}
	if r := c.Risk; r.MaxStake < 0 || r.MaxUserStakePerCycle < 0 || r.MaxPoolStake < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}
	if c.Consensus.DeadZone < 0 || c.Consensus.DeadZone >= 1 {
		return fmt.Errorf("consensus.dead_zone must be within [0,1), got %v", c.Consensus.DeadZone)
	}
	return nil
}

// Validate checks the phase layout: the first three phases fit inside a
// cycle, all four cover it, and any SETTLING overflow stays within the next
// cycle's PLANTING.
func (c CycleConfig) Validate() error {
	if c.CycleLength <= 0 {
		return fmt.Errorf("cycle.cycle_length must be positive, got %d", c.CycleLength)
	}
	if c.StartBlock < 0 {
		return fmt.Errorf("cycle.start_block must not be negative, got %d", c.StartBlock)
	}
	if len(c.PhaseLengths) != 4 {
		return fmt.Errorf("cycle.phase_lengths needs 4 entries, got %d", len(c.PhaseLengths))
	}
	var sum int64
	for i, l := range c.PhaseLengths {
		if l <= 0 {
			return fmt.Errorf("cycle.phase_lengths[%d] must be positive, got %d", i, l)
		}
		sum += l
	}
	first3 := sum - c.PhaseLengths[3]
	if first3 > c.CycleLength {
		return fmt.Errorf("cycle.phase_lengths: PLANTING+WORKING+REVEALING (%d) exceed cycle_length (%d)", first3, c.CycleLength)
	}
	if sum < c.CycleLength {
		return fmt.Errorf("cycle.phase_lengths (%d) do not cover cycle_length (%d)", sum, c.CycleLength)
	}
	if overflow := sum - c.CycleLength; overflow > c.PhaseLengths[0] {
		return fmt.Errorf("cycle.phase_lengths: SETTLING overflows %d blocks past the next PLANTING", overflow-c.PhaseLengths[0])
	}
	return nil
}
