package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agrocycle/internal/repository"
	"agrocycle/internal/signal"
)

type SourceHandler struct {
	Repo      repository.SettingsRepository
	Collector *signal.Collector
}

func (h *SourceHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/sources", h.list)
}

type sourceView struct {
	Name         string     `json:"name"`
	Kind         string     `json:"kind"`
	Weight       float64    `json:"weight"`
	Active       bool       `json:"active"`
	HealthStatus string     `json:"health_status"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
}

// @Summary Vote sources and their health
// @Tags sources
// @Success 200 {object} envelope
// @Router /api/v1/sources [get]
func (h *SourceHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	rows, err := h.Repo.ListSignalSources(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	live := map[string]signal.HealthStatus{}
	if h.Collector != nil {
		live = h.Collector.Health()
	}
	out := make([]sourceView, 0, len(rows))
	for _, row := range rows {
		v := sourceView{
			Name:         row.Name,
			Kind:         row.Kind,
			Weight:       row.Weight,
			Active:       row.Active,
			HealthStatus: row.HealthStatus,
			LastRunAt:    row.LastRunAt,
			LastError:    row.LastError,
		}
		// The in-process view is fresher than the last upsert.
		if hs, ok := live[row.Name]; ok {
			v.HealthStatus, v.LastRunAt, v.LastError = hs.Status, hs.LastPollAt, hs.LastError
		}
		out = append(out, v)
	}
	Ok(c, out, map[string]any{"count": len(out)})
}
