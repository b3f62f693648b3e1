package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agrocycle/internal/service"
)

type SettingsHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/settings", h.list)
	r.PUT("/api/v1/settings/:key", h.update)
}

type updateSettingRequest struct {
	Enabled *bool `json:"enabled"`
}

// @Summary Feature switches
// @Tags settings
// @Success 200 {object} envelope
// @Router /api/v1/settings [get]
func (h *SettingsHandler) list(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	items, err := h.Settings.List(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	Ok(c, items, nil)
}

// @Summary Toggle a feature switch
// @Tags settings
// @Accept json
// @Param key path string true "feature key"
// @Param body body updateSettingRequest true "switch"
// @Success 200 {object} envelope
// @Failure 400 {object} envelope
// @Router /api/v1/settings/{key} [put]
func (h *SettingsHandler) update(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		Error(c, http.StatusBadRequest, "enabled is required", nil)
		return
	}
	// The gateway stamps the caller's role; direct calls record "api".
	actor := c.GetHeader("X-Easyweb3-Role")
	if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled, actor); err != nil {
		fail(c, err, map[string]any{"key": key})
		return
	}
	Ok(c, map[string]bool{key: *req.Enabled}, nil)
}
