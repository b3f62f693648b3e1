package paas

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthOptions controls RequireBearerMiddleware.
type AuthOptions struct {
	Disabled bool
	// RequireGateway also demands the X-Easyweb3-Project header the gateway
	// stamps on proxied requests.
	RequireGateway bool
	// PublicPaths bypass the check.
	PublicPaths []string
}

func envTrue(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return strings.EqualFold(v, "true") || v == "1"
}

// AuthOptionsFromEnv reads AGRO_AUTH_DISABLED and AGRO_REQUIRE_GATEWAY.
func AuthOptionsFromEnv() AuthOptions {
	return AuthOptions{
		Disabled:       envTrue("AGRO_AUTH_DISABLED"),
		RequireGateway: envTrue("AGRO_REQUIRE_GATEWAY"),
		PublicPaths:    []string{"/healthz", "/readyz"},
	}
}

func RequireBearerMiddleware(opts AuthOptions) gin.HandlerFunc {
	public := make(map[string]struct{}, len(opts.PublicPaths))
	for _, p := range opts.PublicPaths {
		public[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if opts.Disabled {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		if _, ok := public[p]; ok {
			c.Next()
			return
		}
		if !protected(p) {
			c.Next()
			return
		}
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if opts.RequireGateway && strings.TrimSpace(c.GetHeader("X-Easyweb3-Project")) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-Easyweb3-Project"})
			return
		}
		c.Next()
	}
}

func protected(path string) bool {
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/swagger") || path == "/docs"
}

// PaaSWriteAuditMiddleware logs every non-GET API call. Cycle and farm ids in
// the route are lifted into the log details.
func PaaSWriteAuditMiddleware(p *Client, logger *zap.Logger) gin.HandlerFunc {
	if p == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}

		status := c.Writer.Status()
		details := map[string]any{
			"method":   method,
			"path":     path,
			"route":    c.FullPath(),
			"status":   status,
			"duration": time.Since(start).String(),
			"project":  strings.TrimSpace(c.GetHeader("X-Easyweb3-Project")),
			"role":     strings.TrimSpace(c.GetHeader("X-Easyweb3-Role")),
		}
		if id := c.Param("id"); id != "" {
			if strings.HasPrefix(c.FullPath(), "/api/v1/farms") {
				details["farm_id"] = id
			} else {
				details["cycle_id"] = id
			}
		}
		if err := p.Notify(c.Request.Context(), ActionHTTPWrite, levelFromStatus(status), details); err != nil && logger != nil {
			logger.Debug("paas audit log failed", zap.Error(err))
		}
	}
}

func levelFromStatus(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "warn"
	}
	return "info"
}
