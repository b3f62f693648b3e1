package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"agrocycle/internal/outcome"
)

var ErrEmptySnapshot = errors.New("oracle snapshot has no prices")

// Heuristic is a pure function of the snapshot.
type Heuristic func(snap OracleSnapshot) Analysis

// Variant is a registry entry: a tagged heuristic exposed as a VoteSource.
type Variant struct {
	Name string
	Kind string
	Fn   Heuristic
}

func (v Variant) ID() string { return v.Name }

func (v Variant) SourceInfo() SourceInfo { return SourceInfo{SourceType: v.Kind} }

func (v Variant) Analyze(ctx context.Context, snap OracleSnapshot) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	if len(snap.Prices) == 0 {
		return Analysis{}, ErrEmptySnapshot
	}
	a := v.Fn(snap)
	a.Confidence = clamp(a.Confidence, 0.1, 1.0)
	return a, nil
}

var builtin = map[string]Variant{
	"momentum":       {Name: "momentum", Kind: "trend", Fn: momentum},
	"mean_reversion": {Name: "mean_reversion", Kind: "trend", Fn: meanReversion},
	"volatility":     {Name: "volatility", Kind: "risk", Fn: volatility},
	"breadth":        {Name: "breadth", Kind: "market", Fn: breadth},
	"trend_strength": {Name: "trend_strength", Kind: "trend", Fn: trendStrength},
	"data_quality":   {Name: "data_quality", Kind: "oracle", Fn: dataQuality},
	"contrarian":     {Name: "contrarian", Kind: "market", Fn: contrarian},
}

// Names lists the built-in variants.
func Names() []string {
	out := make([]string, 0, len(builtin))
	for k := range builtin {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Registry holds the enabled vote sources in id order.
type Registry struct {
	sources []VoteSource
}

func NewRegistry(enabled []string) (*Registry, error) {
	r := &Registry{}
	seen := map[string]struct{}{}
	for _, raw := range enabled {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		v, ok := builtin[name]
		if !ok {
			return nil, fmt.Errorf("unknown signal source %q", raw)
		}
		seen[name] = struct{}{}
		r.sources = append(r.sources, v)
	}
	sort.Slice(r.sources, func(i, j int) bool { return r.sources[i].ID() < r.sources[j].ID() })
	return r, nil
}

// Register adds a custom source, replacing one with the same id.
func (r *Registry) Register(src VoteSource) {
	if r == nil || src == nil {
		return
	}
	for i, s := range r.sources {
		if s.ID() == src.ID() {
			r.sources[i] = src
			return
		}
	}
	r.sources = append(r.sources, src)
	sort.Slice(r.sources, func(i, j int) bool { return r.sources[i].ID() < r.sources[j].ID() })
}

func (r *Registry) Sources() []VoteSource {
	if r == nil {
		return nil
	}
	return append([]VoteSource(nil), r.sources...)
}

func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s.ID())
	}
	return out
}

func directional(v float64) outcome.Outcome {
	if v >= 0 {
		return outcome.Good
	}
	return outcome.Bad
}

func momentum(snap OracleSnapshot) Analysis {
	avg := mean(snap.changes())
	return Analysis{
		Prediction: directional(avg),
		Confidence: math.Abs(avg) / 5,
		Reasoning:  fmt.Sprintf("average change %.2f%%", avg),
	}
}

// meanReversion expects overextended moves (beyond 3%) to reverse.
func meanReversion(snap OracleSnapshot) Analysis {
	avg := mean(snap.changes())
	if math.Abs(avg) > 3 {
		return Analysis{
			Prediction: directional(-avg),
			Confidence: math.Abs(avg) / 10,
			Reasoning:  fmt.Sprintf("overextended move %.2f%% expected to revert", avg),
		}
	}
	return Analysis{
		Prediction: directional(avg),
		Confidence: 0.2,
		Reasoning:  fmt.Sprintf("move %.2f%% within range", avg),
	}
}

// volatility treats calm markets as stable conditions.
func volatility(snap OracleSnapshot) Analysis {
	sd := stddev(snap.changes())
	if sd <= 2 {
		return Analysis{Prediction: outcome.Good, Confidence: 1 - sd/2*0.8, Reasoning: fmt.Sprintf("low dispersion %.2f", sd)}
	}
	return Analysis{Prediction: outcome.Bad, Confidence: sd / 10, Reasoning: fmt.Sprintf("high dispersion %.2f", sd)}
}

func breadth(snap OracleSnapshot) Analysis {
	up := upShare(snap)
	return Analysis{
		Prediction: directional(up - 0.5),
		Confidence: math.Abs(up-0.5) * 2,
		Reasoning:  fmt.Sprintf("%.0f%% of symbols up", up*100),
	}
}

// trendStrength follows the single largest move.
func trendStrength(snap OracleSnapshot) Analysis {
	var top float64
	for _, c := range snap.changes() {
		if math.Abs(c) > math.Abs(top) {
			top = c
		}
	}
	return Analysis{
		Prediction: directional(top),
		Confidence: math.Abs(top) / 8,
		Reasoning:  fmt.Sprintf("strongest move %.2f%%", top),
	}
}

func dataQuality(snap OracleSnapshot) Analysis {
	q := clamp(snap.DataQuality, 0, 1)
	if q >= 0.5 {
		return Analysis{Prediction: outcome.Good, Confidence: q, Reasoning: fmt.Sprintf("data quality %.2f", q)}
	}
	return Analysis{Prediction: outcome.Bad, Confidence: 1 - q, Reasoning: fmt.Sprintf("data quality %.2f", q)}
}

// contrarian fades the crowd with half the breadth conviction.
func contrarian(snap OracleSnapshot) Analysis {
	up := upShare(snap)
	return Analysis{
		Prediction: directional(0.5 - up),
		Confidence: math.Abs(up-0.5),
		Reasoning:  fmt.Sprintf("fading %.0f%% up breadth", up*100),
	}
}

func upShare(snap OracleSnapshot) float64 {
	ch := snap.changes()
	if len(ch) == 0 {
		return 0.5
	}
	up := 0
	for _, c := range ch {
		if c > 0 {
			up++
		}
	}
	return float64(up) / float64(len(ch))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
