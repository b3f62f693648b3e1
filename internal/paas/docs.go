package paas

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Agrocycle Service

Block-gated weather resolution: each cycle moves through PLANTING, WORKING,
REVEALING and SETTLING by block height; at REVEALING the service collects
source votes, computes consensus and a final weather score, and SETTLING pays
out wagers and farm rewards.

## Access via PaaS

Base path (through gateway):
- /api/v1/services/agrocycle/

## Auth

All /api/* routes require a Bearer token (validated by the PaaS gateway).
Health endpoints are public.

## Routes

- GET /healthz
- GET /readyz
- GET /swagger/index.html
- GET /api/v1/cycles
- GET /api/v1/cycles/current
- GET /api/v1/cycles/:id
- POST /api/v1/cycles/:id/analysis
- GET /api/v1/cycles/:id/consensus
- POST /api/v1/cycles/:id/settle
- GET /api/v1/cycles/:id/pool
- POST /api/v1/wagers
- GET /api/v1/wagers
- POST /api/v1/farms
- POST /api/v1/farms/:id/work
- POST /api/v1/farms/:id/harvest
- GET /api/v1/sources
- GET /api/v1/settings
- PUT /api/v1/settings/:key
- GET /api/v1/events/ws
`)
	})
}
