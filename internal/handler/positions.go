package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"agrocycle/internal/repository"
	"agrocycle/internal/service"
)

type PositionHandler struct {
	Wagers *service.WagerService
	Farms  *service.FarmService
}

func (h *PositionHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/wagers", h.placeWager)
	r.GET("/api/v1/wagers", h.listWagers)
	farms := r.Group("/api/v1/farms")
	farms.POST("", h.plant)
	farms.POST("/:id/work", h.work)
	farms.POST("/:id/harvest", h.harvest)
}

type placeWagerRequest struct {
	UserID    string          `json:"user_id"`
	Direction string          `json:"direction"`
	Stake     decimal.Decimal `json:"stake"`
}

// @Summary Place a wager on the current cycle
// @Tags wagers
// @Accept json
// @Param body body placeWagerRequest true "wager"
// @Success 200 {object} envelope
// @Failure 400 {object} envelope
// @Failure 503 {object} envelope
// @Router /api/v1/wagers [post]
func (h *PositionHandler) placeWager(c *gin.Context) {
	if h.Wagers == nil {
		Error(c, http.StatusInternalServerError, "wager service unavailable", nil)
		return
	}
	var req placeWagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	w, err := h.Wagers.Place(c.Request.Context(), req.UserID, req.Direction, req.Stake)
	if err != nil {
		fail(c, err, nil)
		return
	}
	Ok(c, w, nil)
}

// @Summary List wagers
// @Tags wagers
// @Param user_id query string false "user"
// @Param cycle_id query int false "cycle"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param order_by query string false "placed_at|stake"
// @Param ascending query bool false "ascending"
// @Success 200 {object} envelope
// @Router /api/v1/wagers [get]
func (h *PositionHandler) listWagers(c *gin.Context) {
	if h.Wagers == nil {
		Error(c, http.StatusInternalServerError, "wager service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	orderBy := "placed_at"
	if strings.TrimSpace(c.Query("order_by")) == "stake" {
		orderBy = "stake"
	}
	items, err := h.Wagers.List(c.Request.Context(), repository.ListWagerPositionsParams{
		Limit:   limit,
		Offset:  offset,
		UserID:  strQueryPtr(c, "user_id"),
		CycleID: int64QueryPtr(c, "cycle_id"),
		OrderBy: orderBy,
		Asc:     boolQueryPtr(c, "ascending"),
	})
	if err != nil {
		fail(c, err, nil)
		return
	}
	OkPage(c, items, limit, offset, len(items))
}

type plantRequest struct {
	UserID string          `json:"user_id"`
	Stake  decimal.Decimal `json:"stake"`
}

// @Summary Plant a farm in the current cycle
// @Tags farms
// @Accept json
// @Param body body plantRequest true "farm"
// @Success 200 {object} envelope
// @Failure 400 {object} envelope
// @Router /api/v1/farms [post]
func (h *PositionHandler) plant(c *gin.Context) {
	if h.Farms == nil {
		Error(c, http.StatusInternalServerError, "farm service unavailable", nil)
		return
	}
	var req plantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	farm, err := h.Farms.Plant(c.Request.Context(), req.UserID, req.Stake)
	if err != nil {
		fail(c, err, nil)
		return
	}
	Ok(c, farm, nil)
}

// @Summary Tend a farm during WORKING
// @Tags farms
// @Param id path string true "farm id"
// @Success 200 {object} envelope
// @Failure 400 {object} envelope
// @Failure 404 {object} envelope
// @Router /api/v1/farms/{id}/work [post]
func (h *PositionHandler) work(c *gin.Context) {
	if h.Farms == nil {
		Error(c, http.StatusInternalServerError, "farm service unavailable", nil)
		return
	}
	farm, err := h.Farms.Work(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		fail(c, err, map[string]any{"farm_id": c.Param("id")})
		return
	}
	Ok(c, farm, nil)
}

// @Summary Harvest a farm during REVEALING
// @Tags farms
// @Param id path string true "farm id"
// @Success 200 {object} envelope
// @Failure 400 {object} envelope
// @Failure 404 {object} envelope
// @Router /api/v1/farms/{id}/harvest [post]
func (h *PositionHandler) harvest(c *gin.Context) {
	if h.Farms == nil {
		Error(c, http.StatusInternalServerError, "farm service unavailable", nil)
		return
	}
	farm, err := h.Farms.Harvest(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		fail(c, err, map[string]any{"farm_id": c.Param("id")})
		return
	}
	Ok(c, farm, nil)
}
