package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"agrocycle/internal/consensus"
	"agrocycle/internal/cycle"
	"agrocycle/internal/guard"
	applog "agrocycle/internal/logger"
	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
	"agrocycle/internal/paas"
	"agrocycle/internal/repository"
	"agrocycle/internal/resolution"
	"agrocycle/internal/settlement"
	"agrocycle/internal/signal"
	"agrocycle/internal/wager"
)

var (
	ErrCycleNotFound = errors.New("cycle not found")
	ErrWrongPhase    = errors.New("operation not allowed in the current phase")
)

// SnapshotSource supplies the oracle view vote sources analyze.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (signal.OracleSnapshot, error)
}

// WeatherSource scores real weather for a location.
type WeatherSource interface {
	Score(ctx context.Context, location string) (*resolution.WeatherScore, map[string]any, error)
}

// Notifier receives cycle outcome events. *paas.Client implements it.
type Notifier interface {
	Notify(ctx context.Context, action, level string, details map[string]any) error
}

// Pipeline runs the per-phase side effects of a cycle. It is registered as
// the scheduler's transition handler; every step runs under Guard keyed by
// cycle and phase, so a step completes at most once even when it is reached
// both from its own transition and from a later catch-up.
type Pipeline struct {
	Repo      repository.Repository
	Scheduler *cycle.Scheduler
	Guard     guard.Guard

	Oracle    SnapshotSource
	Weather   WeatherSource
	Collector *signal.Collector
	Engine    *consensus.Engine
	Composer  *resolution.Composer
	Settler   *settlement.Settler

	Locations     []string
	Weights       map[string]float64
	DefaultWeight float64

	Flags    *SystemSettingsService
	Notifier Notifier
	Logger   *zap.Logger

	Rand io.Reader
	Now  func() time.Time

	analysisMu sync.Mutex
	guardOnce  sync.Once
	localGuard guard.Guard
}

// HandleTransition is a cycle.Handler.
func (p *Pipeline) HandleTransition(ctx context.Context, ev cycle.Event) error {
	if p == nil || p.Repo == nil {
		return nil
	}
	if p.Flags != nil && !p.Flags.IsEnabled(ctx, FeaturePipeline, true) {
		return nil
	}
	switch ev.Type {
	case cycle.EventCycleStarted:
		return p.startCycle(ctx, ev.CycleID)
	case cycle.EventCycleEnded:
		return p.endCycle(ctx, ev.CycleID)
	case cycle.EventPhaseChanged:
		switch ev.Phase {
		case cycle.PhaseWorking:
			return p.freezeContext(ctx, ev.CycleID, ev.Block)
		case cycle.PhaseRevealing:
			return p.resolve(ctx, ev.CycleID, ev.Block)
		case cycle.PhaseSettling:
			return p.settle(ctx, ev.CycleID, ev.Block)
		}
	}
	return nil
}

const keyStarted, keyEnded = "STARTED", "ENDED"

func (p *Pipeline) startCycle(ctx context.Context, cycleID int64) error {
	_, err := p.guard().Do(ctx, guard.Key(cycleID, keyStarted), func(ctx context.Context) error {
		commitment := ""
		seed, err := p.ensureSeed(ctx, cycleID)
		if err != nil {
			// The cycle still runs; without a seed a dead-zone consensus
			// goes to manual review instead of a tie-break.
			applog.ForCycle(p.logger(), cycleID).Error("cycle seed unavailable", zap.Error(err))
		} else if seed != nil {
			commitment = seed.Commitment
		}
		start, end := p.bounds(cycleID)
		created, err := p.Repo.EnsureCycle(ctx, &models.Cycle{
			ID:             cycleID,
			StartBlock:     start,
			EndBlock:       end,
			Status:         models.CycleStatusActive,
			SeedCommitment: commitment,
		})
		if err != nil {
			return err
		}
		if created {
			p.logger().Info("cycle started",
				zap.Int64("cycle_id", cycleID),
				zap.Int64("start_block", start),
				zap.Int64("end_block", end),
				zap.String("seed_commitment", commitment),
			)
		}
		return nil
	})
	return err
}

func (p *Pipeline) ensureSeed(ctx context.Context, cycleID int64) (*models.CycleSeed, error) {
	existing, err := p.Repo.GetCycleSeed(ctx, cycleID)
	if err != nil || existing != nil {
		return existing, err
	}
	buf := make([]byte, 32)
	r := p.Rand
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("cycle %d seed: %w", cycleID, err)
	}
	seed := hex.EncodeToString(buf)
	item := &models.CycleSeed{CycleID: cycleID, Seed: seed, Commitment: Commitment(seed)}
	created, err := p.Repo.InsertCycleSeed(ctx, item)
	if err != nil {
		return nil, err
	}
	if !created {
		return p.Repo.GetCycleSeed(ctx, cycleID)
	}
	return item, nil
}

// Commitment is the published hash of a cycle seed.
func Commitment(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// freezeContext records the cycle's location, real-weather reading and wager
// totals at WORKING entry. Nothing about the context changes afterwards.
func (p *Pipeline) freezeContext(ctx context.Context, cycleID, block int64) error {
	if err := p.startCycle(ctx, cycleID); err != nil {
		return err
	}
	_, err := p.guard().Do(ctx, guard.Key(cycleID, string(cycle.PhaseWorking)), func(ctx context.Context) error {
		existing, err := p.Repo.GetCycleContext(ctx, cycleID)
		if err != nil || existing != nil {
			return err
		}
		item := &models.CycleContext{
			CycleID:       cycleID,
			Location:      signal.LocationFor(cycleID, p.Locations),
			FrozenAtBlock: block,
		}
		if p.Weather != nil && (p.Flags == nil || p.Flags.IsEnabled(ctx, FeatureRealWeather, true)) {
			score, details, err := p.Weather.Score(ctx, item.Location)
			switch {
			case err != nil:
				p.logger().Warn("real weather unavailable, freezing context without it",
					zap.Int64("cycle_id", cycleID),
					zap.String("location", item.Location),
					zap.Error(err),
				)
			case score != nil:
				v := score.NormalizedScore
				item.WeatherScore = &v
				item.WeatherSource = score.Source
				if raw, err := json.Marshal(details); err == nil {
					item.WeatherDetails = datatypes.JSON(raw)
				}
			}
		}
		if _, err := p.Repo.FreezeCycleContext(ctx, item); err != nil {
			return err
		}
		p.logger().Info("cycle context frozen",
			zap.Int64("cycle_id", cycleID),
			zap.String("location", item.Location),
			zap.Bool("real_weather", item.WeatherScore != nil),
			zap.String("good_stakes", item.GoodStakes.String()),
			zap.String("bad_stakes", item.BadStakes.String()),
		)
		return nil
	})
	return err
}

// RunAnalysis runs the cycle's REVEALING step if it has not run yet and
// returns the stored consensus. The step runs under the same guard as the
// transition, so votes are collected once per cycle. A cycle that resolved
// degraded has no consensus and the call fails with ErrWrongPhase.
func (p *Pipeline) RunAnalysis(ctx context.Context, cycleID int64) (consensus.Result, error) {
	if stored, err := p.StoredConsensus(ctx, cycleID); err != nil || stored != nil {
		if stored != nil {
			return *stored, nil
		}
		return consensus.Result{}, err
	}
	if err := p.requirePhase(cycleID, cycle.PhaseRevealing); err != nil {
		return consensus.Result{}, err
	}
	var block int64
	if p.Scheduler != nil {
		info, _ := p.Scheduler.Snapshot()
		block = info.Block
	}
	if err := p.resolve(ctx, cycleID, block); err != nil {
		return consensus.Result{}, err
	}
	if stored, err := p.StoredConsensus(ctx, cycleID); err != nil || stored != nil {
		if stored != nil {
			return *stored, nil
		}
		return consensus.Result{}, err
	}
	calc, err := p.Repo.GetFinalCalculation(ctx, cycleID)
	if err != nil {
		return consensus.Result{}, err
	}
	if calc != nil {
		return consensus.Result{}, fmt.Errorf("%w: cycle %d already resolved as %s without a consensus", ErrWrongPhase, cycleID, calc.Status)
	}
	// No calculation and no record: the stored votes could not be resolved
	// (manual review). Recomputing from them reports why.
	return p.analyze(ctx, cycleID)
}

func (p *Pipeline) analyze(ctx context.Context, cycleID int64) (consensus.Result, error) {
	p.analysisMu.Lock()
	defer p.analysisMu.Unlock()

	if stored, err := p.StoredConsensus(ctx, cycleID); err != nil || stored != nil {
		if stored != nil {
			return *stored, nil
		}
		return consensus.Result{}, err
	}

	votes, err := p.roundVotes(ctx, cycleID)
	if err != nil {
		return consensus.Result{}, err
	}

	weights, err := p.weights(ctx)
	if err != nil {
		return consensus.Result{}, err
	}
	seed := ""
	if s, err := p.Repo.GetCycleSeed(ctx, cycleID); err != nil {
		return consensus.Result{}, err
	} else if s != nil {
		seed = s.Seed
	}

	res, err := p.Engine.Calculate(votes, weights, cycleID, seed)
	if err != nil {
		return res, err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return res, err
	}
	created, err := p.Repo.InsertConsensusRecord(ctx, &models.ConsensusRecord{
		CycleID:         cycleID,
		ConsensusScore:  res.Score,
		Outcome:         string(res.Outcome),
		TieBreakApplied: res.TieBreakApplied,
		ValidVotes:      res.ValidVotes(),
		DroppedVotes:    len(res.Dropped),
		Votes:           datatypes.JSON(raw),
	})
	if err != nil {
		return res, err
	}
	if !created {
		if stored, err := p.StoredConsensus(ctx, cycleID); err == nil && stored != nil {
			return *stored, nil
		}
	}
	return res, nil
}

// roundVotes returns the cycle's stored votes, collecting and storing them
// first when none exist. A repeated analysis therefore counts exactly the
// votes on record.
func (p *Pipeline) roundVotes(ctx context.Context, cycleID int64) ([]consensus.Vote, error) {
	stored, err := p.Repo.ListVotesByCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		votes := make([]consensus.Vote, 0, len(stored))
		for _, v := range stored {
			votes = append(votes, consensus.Vote{
				SourceID:   v.SourceID,
				Prediction: outcome.Outcome(v.Prediction),
				Confidence: v.Confidence,
				Reasoning:  v.Reasoning,
			})
		}
		return votes, nil
	}

	snap := signal.OracleSnapshot{FetchedAt: p.now()}
	if p.Oracle != nil {
		s, err := p.Oracle.Snapshot(ctx)
		if err != nil {
			applog.ForCycle(p.logger(), cycleID).Warn("oracle snapshot failed", zap.Error(err))
		} else {
			snap = s
		}
	}

	var votes []consensus.Vote
	if p.Collector != nil {
		var failures []signal.Failure
		votes, failures, err = p.Collector.Collect(ctx, cycleID, snap)
		if err != nil {
			return nil, err
		}
		if len(failures) > 0 {
			p.logger().Warn("vote sources failed",
				zap.Int64("cycle_id", cycleID),
				zap.Int("failed", len(failures)),
				zap.Int("votes", len(votes)),
			)
		}
	}
	if err := p.Repo.InsertVotes(ctx, voteModels(cycleID, votes)); err != nil {
		return nil, err
	}
	return votes, nil
}

// StoredConsensus returns the persisted consensus for a cycle, or nil.
func (p *Pipeline) StoredConsensus(ctx context.Context, cycleID int64) (*consensus.Result, error) {
	rec, err := p.Repo.GetConsensusRecord(ctx, cycleID)
	if err != nil || rec == nil {
		return nil, err
	}
	var res consensus.Result
	if err := json.Unmarshal(rec.Votes, &res); err != nil {
		return nil, fmt.Errorf("cycle %d consensus record: %w", cycleID, err)
	}
	return &res, nil
}

// weights starts from configured weights and zeroes sources an operator has
// deactivated in the signal_sources table.
func (p *Pipeline) weights(ctx context.Context) (map[string]float64, error) {
	var ids []string
	if p.Collector != nil && p.Collector.Registry != nil {
		ids = p.Collector.Registry.IDs()
	}
	def := p.DefaultWeight
	if def <= 0 {
		def = 1
	}
	out := consensus.ResolveWeights(ids, p.Weights, def)
	rows, err := p.Repo.ListSignalSources(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, ok := out[row.Name]; ok && !row.Active {
			out[row.Name] = 0
		}
	}
	return out, nil
}

func voteModels(cycleID int64, votes []consensus.Vote) []models.Vote {
	out := make([]models.Vote, 0, len(votes))
	for _, v := range votes {
		out = append(out, models.Vote{
			CycleID:    cycleID,
			SourceID:   v.SourceID,
			Prediction: string(v.Prediction),
			Confidence: v.Confidence,
			Reasoning:  v.Reasoning,
		})
	}
	return out
}

// resolve runs analysis and composes the cycle's final weather calculation.
// Insufficient signal resolves degraded; a missing tie-break seed sends the
// cycle to manual review with no calculation.
func (p *Pipeline) resolve(ctx context.Context, cycleID, block int64) error {
	if err := p.freezeContext(ctx, cycleID, block); err != nil {
		return err
	}
	_, err := p.guard().Do(ctx, guard.Key(cycleID, string(cycle.PhaseRevealing)), func(ctx context.Context) error {
		if calc, err := p.Repo.GetFinalCalculation(ctx, cycleID); err != nil || calc != nil {
			return err
		}
		cctx, err := p.Repo.GetCycleContext(ctx, cycleID)
		if err != nil {
			return err
		}
		in := resolution.Inputs{}
		if cctx != nil {
			in.Influence = wager.PoolFromTotals(cycleID, cctx.GoodStakes, cctx.BadStakes).Influence
			if cctx.WeatherScore != nil {
				in.Weather = &resolution.WeatherScore{NormalizedScore: *cctx.WeatherScore, Source: cctx.WeatherSource}
			}
		}

		res, err := p.analyze(ctx, cycleID)
		switch {
		case errors.Is(err, consensus.ErrTieBreakUnavailable):
			reason := fmt.Sprintf("consensus score %.6f in dead zone and no seed", res.Score)
			if err := p.Repo.UpdateCycleStatus(ctx, cycleID, models.CycleStatusManualReview, reason); err != nil {
				return err
			}
			applog.ForCycle(p.logger(), cycleID).Warn("cycle needs manual review", zap.String("reason", reason))
			p.notify(ctx, paas.ActionCycleManualReview, "warn", map[string]any{"cycle_id": cycleID, "reason": reason})
			return nil
		case errors.Is(err, consensus.ErrInsufficientSignal):
			in.DegradedReason = err.Error()
		case err != nil:
			return err
		default:
			in.Consensus = &res
		}

		calc, created, err := p.Composer.Resolve(ctx, cycleID, in)
		if err != nil {
			return err
		}
		if err := p.Repo.MarkSeedRevealed(ctx, cycleID, p.now()); err != nil {
			return err
		}
		if !created {
			return nil
		}
		status, action, level := models.CycleStatusResolved, paas.ActionCycleResolved, "info"
		if calc.Degraded() {
			status, action, level = models.CycleStatusDegraded, paas.ActionCycleDegraded, "warn"
		}
		if err := p.Repo.UpdateCycleStatus(ctx, cycleID, status, calc.Breakdown.DegradedReason); err != nil {
			return err
		}
		p.notify(ctx, action, level, map[string]any{
			"cycle_id":        cycleID,
			"final_score":     calc.FinalScore,
			"outcome":         string(calc.Outcome),
			"formula_variant": calc.FormulaVariant,
		})
		return nil
	})
	return err
}

func (p *Pipeline) settle(ctx context.Context, cycleID, block int64) error {
	if p.Flags != nil && !p.Flags.IsEnabled(ctx, FeatureAutoSettle, true) {
		return nil
	}
	if err := p.resolve(ctx, cycleID, block); err != nil {
		return err
	}
	_, err := p.guard().Do(ctx, guard.Key(cycleID, string(cycle.PhaseSettling)), func(ctx context.Context) error {
		_, err := p.Settle(ctx, cycleID)
		switch {
		case errors.Is(err, settlement.ErrDuplicateSettlement):
			applog.ForCycle(p.logger(), cycleID).Debug("cycle already settled")
			return nil
		case errors.Is(err, settlement.ErrDegradedResolution), errors.Is(err, settlement.ErrNotResolved):
			applog.ForCycle(p.logger(), cycleID).Warn("cycle left unsettled", zap.Error(err))
			return nil
		}
		return err
	})
	return err
}

// Settle pays out a resolved cycle. It is refused until the cycle reaches
// SETTLING, so REVEALING harvests still count.
func (p *Pipeline) Settle(ctx context.Context, cycleID int64) (settlement.Result, error) {
	if err := p.requireSettleable(cycleID); err != nil {
		return settlement.Result{}, err
	}
	res, err := p.Settler.Settle(ctx, cycleID)
	if err != nil {
		return res, err
	}
	p.notify(ctx, paas.ActionCycleSettled, "info", map[string]any{
		"cycle_id":   cycleID,
		"outcome":    string(res.Outcome),
		"total_pool": res.TotalPool.String(),
		"total_paid": res.TotalPaid.String(),
		"winners":    res.Winners,
	})
	return res, nil
}

// endCycle marks a cycle that left SETTLING without ever resolving.
func (p *Pipeline) endCycle(ctx context.Context, cycleID int64) error {
	_, err := p.guard().Do(ctx, guard.Key(cycleID, keyEnded), func(ctx context.Context) error {
		c, err := p.Repo.GetCycle(ctx, cycleID)
		if err != nil || c == nil {
			return err
		}
		if c.Status != models.CycleStatusActive {
			return nil
		}
		return p.Repo.UpdateCycleStatus(ctx, cycleID, models.CycleStatusUnresolved, "cycle ended without a final calculation")
	})
	return err
}

func (p *Pipeline) requirePhase(cycleID int64, want cycle.Phase) error {
	if p.Scheduler == nil {
		return nil
	}
	info, ok := p.Scheduler.Snapshot()
	if !ok {
		return fmt.Errorf("%w: scheduler has not observed a block yet", ErrWrongPhase)
	}
	phase, live := info.Tracked()[cycleID]
	if !live || phase != want {
		return fmt.Errorf("%w: cycle %d is not in %s", ErrWrongPhase, cycleID, want)
	}
	return nil
}

// requireSettleable passes for a cycle in SETTLING or one that has ended.
func (p *Pipeline) requireSettleable(cycleID int64) error {
	if p.Scheduler == nil {
		return nil
	}
	info, ok := p.Scheduler.Snapshot()
	if !ok {
		return fmt.Errorf("%w: scheduler has not observed a block yet", ErrWrongPhase)
	}
	phase, live := info.Tracked()[cycleID]
	switch {
	case live && phase == cycle.PhaseSettling:
		return nil
	case !live && cycleID < info.CycleID:
		return nil
	case live:
		return fmt.Errorf("%w: cycle %d is in %s, settlement opens at %s", ErrWrongPhase, cycleID, phase, cycle.PhaseSettling)
	}
	return fmt.Errorf("%w: cycle %d has not started", ErrWrongPhase, cycleID)
}

func (p *Pipeline) bounds(cycleID int64) (int64, int64) {
	if p.Scheduler == nil {
		return 0, 0
	}
	params := p.Scheduler.Params()
	start := params.StartBlock + cycleID*params.CycleLength
	return start, start + params.CycleLength - 1
}

func (p *Pipeline) notify(ctx context.Context, action, level string, details map[string]any) {
	if p.Notifier == nil {
		return
	}
	if err := p.Notifier.Notify(ctx, action, level, details); err != nil {
		p.logger().Debug("notify failed", zap.String("action", action), zap.Error(err))
	}
}

func (p *Pipeline) guard() guard.Guard {
	if p.Guard != nil {
		return p.Guard
	}
	p.guardOnce.Do(func() { p.localGuard = guard.NewLocal() })
	return p.localGuard
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
