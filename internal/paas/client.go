package paas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Log actions emitted by the resolution pipeline.
const (
	ActionCycleResolved     = "agrocycle_cycle_resolved"
	ActionCycleDegraded     = "agrocycle_cycle_degraded"
	ActionCycleManualReview = "agrocycle_cycle_manual_review"
	ActionCycleSettled      = "agrocycle_cycle_settled"
	ActionHTTPWrite         = "agrocycle_http_write"
	ActionChainPollFailed   = "agrocycle_chain_poll_failed"

	DefaultAgent = "agrocycle-service"
)

// Client talks to the PaaS gateway's auth and log endpoints. A nil *Client is
// valid and drops every call.
type Client struct {
	BaseURL string
	APIKey  string
	Agent   string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	HTTP *http.Client
}

// NewFromEnv returns nil unless AGRO_PAAS_BASE_URL and AGRO_PAAS_API_KEY are set.
func NewFromEnv() *Client {
	base := strings.TrimSpace(os.Getenv("AGRO_PAAS_BASE_URL"))
	key := strings.TrimSpace(os.Getenv("AGRO_PAAS_API_KEY"))
	if base == "" || key == "" {
		return nil
	}
	return &Client{
		BaseURL: base,
		APIKey:  key,
		Agent:   strings.TrimSpace(os.Getenv("AGRO_PAAS_AGENT")),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (c *Client) Login(ctx context.Context) error {
	base := c.base()
	if base == "" {
		return errors.New("paas base url is empty")
	}
	apiKey := strings.TrimSpace(c.APIKey)
	if apiKey == "" {
		return errors.New("paas api key is empty")
	}

	body, _ := json.Marshal(map[string]any{"api_key": apiKey})
	b, status, err := c.post(ctx, base+"/api/v1/auth/login", body, "")
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("paas login http %d: %s", status, strings.TrimSpace(string(b)))
	}
	var lr loginResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return err
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(lr.ExpiresAt))

	c.mu.Lock()
	c.token = strings.TrimSpace(lr.Token)
	c.expiresAt = exp
	c.mu.Unlock()
	return nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// EnsureToken logs in when there is no token or it expires within two minutes.
func (c *Client) EnsureToken(ctx context.Context) error {
	c.mu.RLock()
	tok, exp := c.token, c.expiresAt
	c.mu.RUnlock()
	if strings.TrimSpace(tok) == "" || (!exp.IsZero() && time.Until(exp) < 2*time.Minute) {
		return c.Login(ctx)
	}
	return nil
}

type CreateLogRequest struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Level      string         `json:"level"`
	Details    map[string]any `json:"details"`
	SessionKey string         `json:"session_key"`
	Metadata   map[string]any `json:"metadata"`
}

func (c *Client) CreateLog(ctx context.Context, req CreateLogRequest) error {
	if err := c.EnsureToken(ctx); err != nil {
		return err
	}
	if req.Agent == "" {
		req.Agent = c.agent()
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	b, status, err := c.post(ctx, c.base()+"/api/v1/logs", body, c.Token())
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("paas create log http %d: %s", status, strings.TrimSpace(string(b)))
	}
	return nil
}

// Notify is a best-effort CreateLog bounded to two seconds and detached from
// ctx cancellation, so a finished request still gets its log out.
func (c *Client) Notify(ctx context.Context, action, level string, details map[string]any) error {
	if c == nil {
		return nil
	}
	ctx2, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	return c.CreateLog(ctx2, CreateLogRequest{Action: action, Level: level, Details: details})
}

func (c *Client) post(ctx context.Context, url string, body []byte, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return b, resp.StatusCode, nil
}

func (c *Client) base() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

func (c *Client) agent() string {
	if a := strings.TrimSpace(c.Agent); a != "" {
		return a
	}
	return DefaultAgent
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
