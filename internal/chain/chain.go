// Package chain provides block-height sources for the cycle scheduler.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agrocycle/internal/config"
	"agrocycle/internal/cycle"
)

// HTTPSource reads {"height": n} from a status endpoint.
type HTTPSource struct {
	HTTP     *http.Client
	Endpoint string
}

func (s *HTTPSource) Height(ctx context.Context) (int64, error) {
	endpoint := strings.TrimSpace(s.Endpoint)
	if endpoint == "" {
		return 0, fmt.Errorf("chain endpoint not configured")
	}
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("http %d", resp.StatusCode)
	}
	var parsed struct {
		Height *int64 `json:"height"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	if parsed.Height == nil || *parsed.Height < 0 {
		return 0, fmt.Errorf("missing or negative height")
	}
	return *parsed.Height, nil
}

// ClockSource derives a height from wall time for local runs.
type ClockSource struct {
	Genesis  time.Time
	Interval time.Duration
	Now      func() time.Time
}

func (s *ClockSource) Height(context.Context) (int64, error) {
	if s.Interval <= 0 {
		return 0, fmt.Errorf("block interval must be positive")
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	if now.Before(s.Genesis) {
		return 0, nil
	}
	return int64(now.Sub(s.Genesis) / s.Interval), nil
}

// New picks the source named by cfg.Source.
func New(cfg config.ChainConfig) (cycle.BlockSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "http":
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		return &HTTPSource{HTTP: &http.Client{Timeout: timeout}, Endpoint: cfg.Endpoint}, nil
	case "ws":
		return NewWSSource(WSOptions{URL: cfg.Endpoint}), nil
	case "", "clock":
		genesis, err := time.Parse(time.RFC3339, strings.TrimSpace(cfg.GenesisTime))
		if err != nil {
			return nil, fmt.Errorf("chain.genesis_time: %w", err)
		}
		return &ClockSource{Genesis: genesis, Interval: cfg.BlockInterval}, nil
	default:
		return nil, fmt.Errorf("unknown chain.source %q", cfg.Source)
	}
}
