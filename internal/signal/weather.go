package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"agrocycle/internal/config"
	"agrocycle/internal/resolution"
)

const (
	idealTempF    = 72.0
	idealHumidity = 55.0
)

// WeatherScorer reads OpenWeather-compatible forecast endpoints and turns the
// nearest forecast into a growing-conditions score in [0, 100], weighted
// across sources.
type WeatherScorer struct {
	HTTP    *http.Client
	Logger  *zap.Logger
	Sources []config.WeatherSource

	mu        sync.Mutex
	lastPoll  *time.Time
	lastError *string
	status    string
}

type forecast struct {
	TempF    float64
	Humidity float64
}

// GrowingScore maps a forecast to [0, 100]: 70% temperature closeness to
// 72F, 30% humidity closeness to 55%.
func GrowingScore(tempF, humidity float64) float64 {
	t := clamp(100-math.Abs(tempF-idealTempF)*2.5, 0, 100)
	h := clamp(100-math.Abs(humidity-idealHumidity)*2, 0, 100)
	return t*0.7 + h*0.3
}

// Score returns the weighted score for location plus per-source details.
func (c *WeatherScorer) Score(ctx context.Context, location string) (*resolution.WeatherScore, map[string]any, error) {
	now := time.Now().UTC()
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	loc := cleanLocation(location)
	if loc == "" || len(c.Sources) == 0 {
		c.setHealth(now, "degraded", stringPtr("no location or sources configured"))
		return nil, nil, fmt.Errorf("weather scoring not configured")
	}

	type srcResult struct {
		name  string
		score float64
		w     float64
		f     forecast
	}
	var results []srcResult
	var errs []string
	for _, s := range c.Sources {
		key := ""
		if env := strings.TrimSpace(s.APIKeyEnv); env != "" {
			key = strings.TrimSpace(os.Getenv(env))
		}
		f, err := c.fetchForecast(ctx, s.Endpoint, key, loc)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
		w := s.Weight
		if w <= 0 {
			w = 1.0
		}
		results = append(results, srcResult{name: s.Name, score: GrowingScore(f.TempF, f.Humidity), w: w, f: f})
	}

	details := map[string]any{"location": loc}
	items := make([]any, 0, len(results))
	names := make([]string, 0, len(results))
	var sum, sumW float64
	for _, r := range results {
		sum += r.score * r.w
		sumW += r.w
		names = append(names, r.name)
		items = append(items, map[string]any{
			"name": r.name, "temp_f": r.f.TempF, "humidity": r.f.Humidity, "score": r.score, "weight": r.w,
		})
	}
	details["sources"] = items
	if len(errs) > 0 {
		details["errors"] = errs
	}
	if sumW <= 0 {
		msg := strings.Join(errs, "; ")
		c.setHealth(now, "down", stringPtr(msg))
		return nil, details, fmt.Errorf("no successful weather sources: %s", msg)
	}
	c.setHealth(now, "healthy", nil)
	return &resolution.WeatherScore{
		NormalizedScore: clamp(sum/sumW, 0, 100),
		Source:          strings.Join(names, ","),
	}, details, nil
}

// fetchForecast queries <endpoint>?q=<city>&units=imperial[&appid=key] and
// takes the nearest forecast item.
func (c *WeatherScorer) fetchForecast(ctx context.Context, endpoint, apiKey, location string) (forecast, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return forecast{}, fmt.Errorf("empty endpoint")
	}
	q := url.Values{}
	q.Set("q", strings.ReplaceAll(location, "-", " "))
	q.Set("units", "imperial")
	if apiKey != "" {
		q.Set("appid", apiKey)
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+sep+q.Encode(), nil)
	if err != nil {
		return forecast{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return forecast{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return forecast{}, fmt.Errorf("http %d", resp.StatusCode)
	}
	var parsed struct {
		List []struct {
			Main struct {
				Temp     float64 `json:"temp"`
				Humidity float64 `json:"humidity"`
			} `json:"main"`
		} `json:"list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return forecast{}, err
	}
	if len(parsed.List) == 0 {
		return forecast{}, fmt.Errorf("no forecast items")
	}
	m := parsed.List[0].Main
	return forecast{TempF: m.Temp, Humidity: m.Humidity}, nil
}

func (c *WeatherScorer) Health() HealthStatus {
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

func (c *WeatherScorer) setHealth(ts time.Time, status string, errStr *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPoll = &ts
	c.status = status
	c.lastError = errStr
}

// LocationFor picks the frozen location of a cycle: locations[cycleID mod n].
func LocationFor(cycleID int64, locations []string) string {
	var clean []string
	for _, l := range locations {
		if v := cleanLocation(l); v != "" {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 || cycleID < 0 {
		return ""
	}
	return clean[cycleID%int64(len(clean))]
}

func cleanLocation(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	return strings.ReplaceAll(v, "_", "-")
}
