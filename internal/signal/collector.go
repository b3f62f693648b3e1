package signal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agrocycle/internal/consensus"
	"agrocycle/internal/models"
)

const defaultSourceTimeout = 3 * time.Second

// SourceStore records per-source health in the signal_sources registry.
type SourceStore interface {
	UpsertSignalSource(ctx context.Context, item *models.SignalSource) error
}

// Failure is a source that produced no vote this round.
type Failure struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

// Collector fans a snapshot out to every registered source. A failing or slow
// source is skipped; it never becomes an implicit vote.
type Collector struct {
	Registry *Registry
	Timeout  time.Duration
	Store    SourceStore
	Logger   *zap.Logger

	mu     sync.Mutex
	health map[string]HealthStatus
}

func NewCollector(reg *Registry, timeout time.Duration, store SourceStore, logger *zap.Logger) *Collector {
	return &Collector{Registry: reg, Timeout: timeout, Store: store, Logger: logger}
}

// Collect returns votes in source id order. It only errors when ctx is done.
func (c *Collector) Collect(ctx context.Context, cycleID int64, snap OracleSnapshot) ([]consensus.Vote, []Failure, error) {
	sources := c.Registry.Sources()
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}

	type slot struct {
		vote consensus.Vote
		err  error
	}
	results := make([]slot, len(sources))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, src := range sources {
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(egCtx, timeout)
			defer cancel()
			a, err := analyze(sctx, src, snap)
			if err != nil {
				results[i].err = err
				return nil
			}
			results[i].vote = consensus.Vote{
				SourceID:   src.ID(),
				Prediction: a.Prediction,
				Confidence: a.Confidence,
				Reasoning:  a.Reasoning,
			}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	votes := make([]consensus.Vote, 0, len(sources))
	var failures []Failure
	for i, src := range sources {
		if err := results[i].err; err != nil {
			failures = append(failures, Failure{SourceID: src.ID(), Error: err.Error()})
			if c.Logger != nil {
				c.Logger.Warn("vote source failed",
					zap.Int64("cycle_id", cycleID),
					zap.String("source_id", src.ID()),
					zap.Error(err),
				)
			}
			c.record(ctx, src, now, "down", stringPtr(err.Error()))
			continue
		}
		votes = append(votes, results[i].vote)
		c.record(ctx, src, now, "healthy", nil)
	}
	return votes, failures, nil
}

// analyze runs one source, turning a panic or an overrun into an error.
func analyze(ctx context.Context, src VoteSource, snap OracleSnapshot) (Analysis, error) {
	type out struct {
		a   Analysis
		err error
	}
	ch := make(chan out, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- out{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		a, err := src.Analyze(ctx, snap)
		ch <- out{a: a, err: err}
	}()
	select {
	case r := <-ch:
		if r.err == nil && !r.a.Prediction.Valid() {
			r.err = fmt.Errorf("invalid prediction %q", r.a.Prediction)
		}
		return r.a, r.err
	case <-ctx.Done():
		return Analysis{}, fmt.Errorf("timed out: %w", ctx.Err())
	}
}

func (c *Collector) Health() map[string]HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]HealthStatus, len(c.health))
	for k, v := range c.health {
		out[k] = v
	}
	return out
}

func (c *Collector) record(ctx context.Context, src VoteSource, ts time.Time, status string, errStr *string) {
	c.mu.Lock()
	if c.health == nil {
		c.health = map[string]HealthStatus{}
	}
	c.health[src.ID()] = HealthStatus{Status: status, LastPollAt: &ts, LastError: errStr}
	c.mu.Unlock()

	if c.Store == nil {
		return
	}
	kind := "custom"
	if p, ok := src.(SourceInfoProvider); ok {
		kind = p.SourceInfo().SourceType
	}
	// Weight and Active only apply on first insert; operators own them after.
	item := &models.SignalSource{
		Name:         src.ID(),
		Kind:         kind,
		Weight:       1,
		Active:       true,
		LastRunAt:    &ts,
		LastError:    errStr,
		HealthStatus: status,
	}
	if err := c.Store.UpsertSignalSource(ctx, item); err != nil && c.Logger != nil {
		c.Logger.Warn("signal source upsert failed", zap.String("source_id", src.ID()), zap.Error(err))
	}
}

func stringPtr(s string) *string {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return &v
}
