package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"agrocycle/internal/config"
	"agrocycle/internal/models"
	"agrocycle/internal/outcome"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func upSnapshot() OracleSnapshot {
	return OracleSnapshot{
		Prices: map[string]PricePoint{
			"BTCUSDT": {Current: 102, Previous: 100},
			"ETHUSDT": {Current: 51, Previous: 50},
			"SOLUSDT": {Current: 99, Previous: 100},
		},
		DataQuality:      1,
		OraclesAvailable: 3,
	}
}

func TestRegistryVariants(t *testing.T) {
	reg, err := NewRegistry(Names())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if len(reg.Sources()) != 7 {
		t.Fatalf("expected 7 sources, got %v", reg.IDs())
	}
	snap := upSnapshot()
	for _, src := range reg.Sources() {
		a, err := src.Analyze(context.Background(), snap)
		if err != nil {
			t.Fatalf("%s: %v", src.ID(), err)
		}
		if !a.Prediction.Valid() || a.Confidence < 0.1 || a.Confidence > 1 {
			t.Fatalf("%s: bad analysis %+v", src.ID(), a)
		}
		again, _ := src.Analyze(context.Background(), snap)
		if again != a {
			t.Fatalf("%s: not pure: %+v vs %+v", src.ID(), a, again)
		}
	}
	if _, err := NewRegistry([]string{"momentum", "astrology"}); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}

func TestHeuristicDirections(t *testing.T) {
	snap := upSnapshot()
	if a := momentum(snap); a.Prediction != outcome.Good {
		t.Fatalf("momentum: %+v", a)
	}
	if a := breadth(snap); a.Prediction != outcome.Good {
		t.Fatalf("breadth: %+v", a)
	}
	if a := contrarian(snap); a.Prediction != outcome.Bad {
		t.Fatalf("contrarian: %+v", a)
	}
	snap.DataQuality = 0.2
	if a := dataQuality(snap); a.Prediction != outcome.Bad || math.Abs(a.Confidence-0.8) > 1e-9 {
		t.Fatalf("data_quality: %+v", a)
	}
}

func TestVariantRejectsEmptySnapshot(t *testing.T) {
	v := builtin["momentum"]
	if _, err := v.Analyze(context.Background(), OracleSnapshot{}); !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("expected ErrEmptySnapshot, got %v", err)
	}
}

type fixedSource struct {
	id    string
	a     Analysis
	err   error
	delay time.Duration
}

func (f fixedSource) ID() string { return f.id }

func (f fixedSource) Analyze(ctx context.Context, _ OracleSnapshot) (Analysis, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Analysis{}, ctx.Err()
		}
	}
	return f.a, f.err
}

type panicSource struct{}

func (panicSource) ID() string { return "panicky" }

func (panicSource) Analyze(context.Context, OracleSnapshot) (Analysis, error) {
	panic("boom")
}

type recordingStore struct {
	mu    sync.Mutex
	items map[string]models.SignalSource
}

func (r *recordingStore) UpsertSignalSource(_ context.Context, item *models.SignalSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = map[string]models.SignalSource{}
	}
	r.items[item.Name] = *item
	return nil
}

func TestCollectorToleratesFailures(t *testing.T) {
	reg := &Registry{}
	reg.Register(fixedSource{id: "b", a: Analysis{Prediction: outcome.Bad, Confidence: 0.4}})
	reg.Register(fixedSource{id: "a", a: Analysis{Prediction: outcome.Good, Confidence: 0.9}})
	reg.Register(fixedSource{id: "slow", delay: time.Second, a: Analysis{Prediction: outcome.Good, Confidence: 1}})
	reg.Register(fixedSource{id: "err", err: fmt.Errorf("no data")})
	reg.Register(fixedSource{id: "junk", a: Analysis{Prediction: "SUNNY", Confidence: 1}})
	reg.Register(panicSource{})

	store := &recordingStore{}
	c := NewCollector(reg, 50*time.Millisecond, store, nil)
	votes, failures, err := c.Collect(context.Background(), 1, upSnapshot())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(votes) != 2 || votes[0].SourceID != "a" || votes[1].SourceID != "b" {
		t.Fatalf("unexpected votes %+v", votes)
	}
	if len(failures) != 4 {
		t.Fatalf("expected 4 failures, got %+v", failures)
	}
	if got := store.items["slow"].HealthStatus; got != "down" {
		t.Fatalf("slow source health = %q", got)
	}
	if got := c.Health()["a"].Status; got != "healthy" {
		t.Fatalf("a health = %q", got)
	}
}

func TestCollectorCancelled(t *testing.T) {
	reg := &Registry{}
	reg.Register(fixedSource{id: "a", a: Analysis{Prediction: outcome.Good, Confidence: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := NewCollector(reg, time.Second, nil, nil).Collect(ctx, 1, upSnapshot()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOracleSnapshotPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "BTCUSDT":
			fmt.Fprint(w, `{"symbol":"BTCUSDT","lastPrice":"101.5","prevClosePrice":"100"}`)
		case "ETHUSDT":
			fmt.Fprint(w, `{"symbol":"ETHUSDT","lastPrice":"49","prevClosePrice":"50"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := &OracleClient{HTTP: srv.Client(), Endpoint: srv.URL, Symbols: []string{"btcusdt", "ETHUSDT", "DOGEUSDT"}}
	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.OraclesAvailable != 2 || snap.DataQuality != 2.0/3.0 {
		t.Fatalf("unexpected quality %+v", snap)
	}
	if got := snap.Prices["BTCUSDT"].ChangePct(); math.Abs(got-1.5) > 1e-9 {
		t.Fatalf("BTC change = %v", got)
	}
	if c.Health().Status != "degraded" {
		t.Fatalf("health = %+v", c.Health())
	}
}

func TestOracleSnapshotDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := &OracleClient{HTTP: srv.Client(), Endpoint: srv.URL, Symbols: []string{"BTCUSDT"}}
	if _, err := c.Snapshot(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if c.Health().Status != "down" {
		t.Fatalf("health = %+v", c.Health())
	}
}

func TestWeatherScorerWeighted(t *testing.T) {
	ideal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "des moines" || r.URL.Query().Get("appid") != "k1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"list":[{"main":{"temp":72,"humidity":55}}]}`)
	}))
	defer ideal.Close()
	harsh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"list":[{"main":{"temp":112,"humidity":5}}]}`)
	}))
	defer harsh.Close()

	t.Setenv("AGRO_TEST_WEATHER_KEY", "k1")
	s := &WeatherScorer{Sources: []config.WeatherSource{
		{Name: "ideal", Endpoint: ideal.URL, APIKeyEnv: "AGRO_TEST_WEATHER_KEY", Weight: 3},
		{Name: "harsh", Endpoint: harsh.URL, Weight: 1},
	}}
	score, details, err := s.Score(context.Background(), "Des_Moines")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// ideal scores 100, harsh scores 0: (100*3 + 0*1) / 4
	if score.NormalizedScore != 75 || !strings.Contains(score.Source, "ideal") {
		t.Fatalf("unexpected score %+v", score)
	}
	if details["location"] != "des-moines" {
		t.Fatalf("details = %v", details)
	}
}

func TestLocationFor(t *testing.T) {
	locs := []string{"Fresno", " ", "lincoln"}
	if got := LocationFor(0, locs); got != "fresno" {
		t.Fatalf("got %q", got)
	}
	if got := LocationFor(3, locs); got != "lincoln" {
		t.Fatalf("got %q", got)
	}
	if got := LocationFor(1, nil); got != "" {
		t.Fatalf("got %q", got)
	}
}
