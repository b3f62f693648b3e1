package paas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu     sync.Mutex
	logins int
	logs   []CreateLogRequest
	auth   []string
}

func (g *fakeGateway) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["api_key"] != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		g.mu.Lock()
		g.logins++
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(loginResponse{Token: "tok", ExpiresAt: time.Now().Add(time.Hour).UTC().Format(time.RFC3339)})
	})
	mux.HandleFunc("/api/v1/logs", func(w http.ResponseWriter, r *http.Request) {
		var req CreateLogRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		g.logs = append(g.logs, req)
		g.auth = append(g.auth, r.Header.Get("Authorization"))
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNotifyLogsInOnceAndDefaultsAgent(t *testing.T) {
	g := &fakeGateway{}
	srv := g.server(t)
	c := &Client{BaseURL: srv.URL + "/", APIKey: "k", HTTP: srv.Client()}

	require.NoError(t, c.Notify(context.Background(), ActionCycleResolved, "info", map[string]any{"cycle_id": 3}))
	require.NoError(t, c.Notify(context.Background(), ActionCycleSettled, "info", nil))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, 1, g.logins)
	require.Len(t, g.logs, 2)
	assert.Equal(t, DefaultAgent, g.logs[0].Agent)
	assert.Equal(t, ActionCycleResolved, g.logs[0].Action)
	assert.Equal(t, "Bearer tok", g.auth[1])
}

func TestLoginRejected(t *testing.T) {
	g := &fakeGateway{}
	srv := g.server(t)
	c := &Client{BaseURL: srv.URL, APIKey: "wrong", HTTP: srv.Client()}
	assert.Error(t, c.Login(context.Background()))
	assert.Error(t, (&Client{}).Login(context.Background()))
}

func TestNilClientIsSilent(t *testing.T) {
	var c *Client
	assert.NoError(t, c.Notify(context.Background(), ActionCycleDegraded, "warn", nil))
	LogBestEffort(context.Background(), ActionCycleDegraded, "warn", nil)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("AGRO_PAAS_BASE_URL", "")
	t.Setenv("AGRO_PAAS_API_KEY", "")
	assert.Nil(t, NewFromEnv())

	t.Setenv("AGRO_PAAS_BASE_URL", "http://gw")
	t.Setenv("AGRO_PAAS_API_KEY", "k")
	t.Setenv("AGRO_PAAS_AGENT", "farm-a")
	c := NewFromEnv()
	require.NotNil(t, c)
	assert.Equal(t, "farm-a", c.agent())
}

func TestBearerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("AGRO_AUTH_DISABLED", "")
	t.Setenv("AGRO_REQUIRE_GATEWAY", "1")
	opts := AuthOptionsFromEnv()
	assert.True(t, opts.RequireGateway)
	opts.RequireGateway = false
	r := gin.New()
	r.Use(RequireBearerMiddleware(opts))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/cycles/current", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		path, auth string
		want       int
	}{
		{"/healthz", "", http.StatusOK},
		{"/api/v1/cycles/current", "", http.StatusUnauthorized},
		{"/api/v1/cycles/current", "Bearer x", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.path)
	}
}

func TestWriteAuditMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := &fakeGateway{}
	srv := g.server(t)
	c := &Client{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}

	r := gin.New()
	r.Use(PaaSWriteAuditMiddleware(c, nil))
	r.POST("/api/v1/wagers", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.POST("/api/v1/cycles/:id/settle", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/wagers", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, m := range []string{http.MethodGet, http.MethodPost} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(m, "/api/v1/wagers", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/cycles/7/settle", nil))

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.logs, 2)
	assert.Equal(t, ActionHTTPWrite, g.logs[0].Action)
	assert.Equal(t, "warn", g.logs[0].Level)
	assert.Equal(t, "7", g.logs[1].Details["cycle_id"])
	assert.Equal(t, "info", g.logs[1].Level)
}
