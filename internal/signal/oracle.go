package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OracleClient builds snapshots from a Binance-style 24hr ticker endpoint:
// GET <endpoint>?symbol=BTCUSDT returning lastPrice and prevClosePrice.
type OracleClient struct {
	HTTP   *http.Client
	Logger *zap.Logger

	Endpoint string
	Symbols  []string

	mu        sync.Mutex
	lastPoll  *time.Time
	lastError *string
	status    string
}

func (c *OracleClient) SourceInfo() SourceInfo {
	return SourceInfo{SourceType: "rest_poll", Endpoint: strings.TrimSpace(c.Endpoint)}
}

// Snapshot fetches every symbol. Per-symbol failures lower DataQuality; it
// errors only when nothing could be fetched.
func (c *OracleClient) Snapshot(ctx context.Context) (OracleSnapshot, error) {
	now := time.Now().UTC()
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		c.setHealth(now, "down", stringPtr("missing endpoint"))
		return OracleSnapshot{}, fmt.Errorf("oracle endpoint not configured")
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	symbols := cleanSymbols(c.Symbols)
	if len(symbols) == 0 {
		c.setHealth(now, "degraded", stringPtr("no symbols configured"))
		return OracleSnapshot{}, fmt.Errorf("no oracle symbols configured")
	}

	snap := OracleSnapshot{Prices: map[string]PricePoint{}, FetchedAt: now}
	var errs []string
	for _, sym := range symbols {
		p, err := c.fetchTicker(ctx, endpoint, sym)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", sym, err))
			continue
		}
		snap.Prices[sym] = p
	}
	snap.OraclesAvailable = len(snap.Prices)
	snap.DataQuality = float64(len(snap.Prices)) / float64(len(symbols))

	switch {
	case len(snap.Prices) == 0:
		msg := strings.Join(errs, "; ")
		c.setHealth(now, "down", stringPtr(msg))
		return snap, fmt.Errorf("oracle unavailable: %s", msg)
	case len(errs) > 0:
		c.setHealth(now, "degraded", stringPtr(strings.Join(errs, "; ")))
		if c.Logger != nil {
			c.Logger.Warn("oracle snapshot partial", zap.Strings("errors", errs), zap.Float64("data_quality", snap.DataQuality))
		}
	default:
		c.setHealth(now, "healthy", nil)
	}
	return snap, nil
}

func (c *OracleClient) fetchTicker(ctx context.Context, endpoint, symbol string) (PricePoint, error) {
	u := endpoint
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	u += sep + "symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return PricePoint{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return PricePoint{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PricePoint{}, fmt.Errorf("http %d", resp.StatusCode)
	}
	var parsed struct {
		Symbol         string `json:"symbol"`
		LastPrice      string `json:"lastPrice"`
		PrevClosePrice string `json:"prevClosePrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return PricePoint{}, err
	}
	cur, err := strconv.ParseFloat(strings.TrimSpace(parsed.LastPrice), 64)
	if err != nil || cur <= 0 {
		return PricePoint{}, fmt.Errorf("invalid lastPrice %q", parsed.LastPrice)
	}
	prev, err := strconv.ParseFloat(strings.TrimSpace(parsed.PrevClosePrice), 64)
	if err != nil || prev <= 0 {
		return PricePoint{}, fmt.Errorf("invalid prevClosePrice %q", parsed.PrevClosePrice)
	}
	return PricePoint{Current: cur, Previous: prev}, nil
}

func (c *OracleClient) Health() HealthStatus {
	if c == nil {
		return HealthStatus{Status: "unknown"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.status
	if strings.TrimSpace(status) == "" {
		status = "unknown"
	}
	return HealthStatus{Status: status, LastPollAt: c.lastPoll, LastError: c.lastError}
}

func (c *OracleClient) setHealth(ts time.Time, status string, errStr *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPoll = &ts
	c.status = status
	c.lastError = errStr
}

func cleanSymbols(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		v := strings.ToUpper(strings.TrimSpace(raw))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
