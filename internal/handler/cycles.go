package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agrocycle/internal/cycle"
	"agrocycle/internal/models"
	"agrocycle/internal/repository"
	"agrocycle/internal/resolution"
	"agrocycle/internal/service"
	"agrocycle/internal/settlement"
)

type CycleHandler struct {
	Repo      repository.Repository
	Scheduler *cycle.Scheduler
	Pipeline  *service.Pipeline
	Wagers    *service.WagerService
	Window    cycle.Window
}

func (h *CycleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/cycles")
	g.GET("", h.list)
	g.GET("/current", h.current)
	g.GET("/:id", h.get)
	g.POST("/:id/analysis", h.analysis)
	g.GET("/:id/consensus", h.consensus)
	g.POST("/:id/settle", h.settle)
	g.GET("/:id/pool", h.pool)
}

type currentCycleResponse struct {
	cycle.Status
	WagerEligible bool `json:"wager_eligible"`
}

// @Summary Current cycle and phase
// @Tags cycles
// @Success 200 {object} envelope
// @Failure 503 {object} envelope
// @Router /api/v1/cycles/current [get]
func (h *CycleHandler) current(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	st := h.Scheduler.Status()
	if !st.Initialized {
		fail(c, service.ErrSchedulerNotReady, nil)
		return
	}
	Ok(c, currentCycleResponse{Status: st, WagerEligible: st.Info.WagerEligible(h.Window)}, nil)
}

// @Summary List cycles
// @Tags cycles
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param status query string false "active|resolved|degraded|manual_review|settled|unresolved"
// @Param ascending query bool false "ascending by id"
// @Success 200 {object} envelope
// @Router /api/v1/cycles [get]
func (h *CycleHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListCycles(c.Request.Context(), repository.ListCyclesParams{
		Limit:   limit,
		Offset:  offset,
		Status:  strQueryPtr(c, "status"),
		OrderBy: "id",
		Asc:     boolQueryPtr(c, "ascending"),
	})
	if err != nil {
		fail(c, err, nil)
		return
	}
	OkPage(c, items, limit, offset, len(items))
}

type cycleDetail struct {
	Cycle       *models.Cycle                `json:"cycle"`
	Context     *models.CycleContext         `json:"context,omitempty"`
	Calculation *resolution.FinalCalculation `json:"calculation,omitempty"`
	Settlement  *settlement.Result           `json:"settlement,omitempty"`
	// Seed is only shown once revealed.
	Seed *string `json:"seed,omitempty"`
}

// @Summary Cycle detail
// @Tags cycles
// @Param id path int true "cycle id"
// @Success 200 {object} envelope
// @Failure 404 {object} envelope
// @Router /api/v1/cycles/{id} [get]
func (h *CycleHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := cycleIDParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid cycle id", nil)
		return
	}
	ctx := c.Request.Context()
	item, err := h.Repo.GetCycle(ctx, id)
	if err != nil {
		fail(c, err, nil)
		return
	}
	if item == nil {
		fail(c, service.ErrCycleNotFound, nil)
		return
	}
	out := cycleDetail{Cycle: item}
	if out.Context, err = h.Repo.GetCycleContext(ctx, id); err != nil {
		fail(c, err, nil)
		return
	}
	if m, err := h.Repo.GetFinalCalculation(ctx, id); err != nil {
		fail(c, err, nil)
		return
	} else if m != nil {
		calc, err := resolution.FromModel(m)
		if err != nil {
			fail(c, err, nil)
			return
		}
		out.Calculation = &calc
	}
	if rec, err := h.Repo.GetSettlementRecord(ctx, id); err != nil {
		fail(c, err, nil)
		return
	} else if rec != nil {
		var res settlement.Result
		if err := json.Unmarshal(rec.Summary, &res); err == nil {
			out.Settlement = &res
		}
	}
	if seed, err := h.Repo.GetCycleSeed(ctx, id); err == nil && seed != nil && seed.RevealedAt != nil {
		s := seed.Seed
		out.Seed = &s
	}
	Ok(c, out, nil)
}

// @Summary Run analysis for a cycle in REVEALING
// @Tags cycles
// @Param id path int true "cycle id"
// @Success 200 {object} envelope
// @Failure 409 {object} envelope
// @Failure 422 {object} envelope
// @Failure 503 {object} envelope
// @Router /api/v1/cycles/{id}/analysis [post]
func (h *CycleHandler) analysis(c *gin.Context) {
	if h.Pipeline == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	id, ok := cycleIDParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid cycle id", nil)
		return
	}
	res, err := h.Pipeline.RunAnalysis(c.Request.Context(), id)
	if err != nil {
		fail(c, err, map[string]any{"cycle_id": id})
		return
	}
	Ok(c, res, nil)
}

// @Summary Stored consensus for a cycle
// @Tags cycles
// @Param id path int true "cycle id"
// @Success 200 {object} envelope
// @Failure 404 {object} envelope
// @Router /api/v1/cycles/{id}/consensus [get]
func (h *CycleHandler) consensus(c *gin.Context) {
	if h.Pipeline == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	id, ok := cycleIDParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid cycle id", nil)
		return
	}
	res, err := h.Pipeline.StoredConsensus(c.Request.Context(), id)
	if err != nil {
		fail(c, err, nil)
		return
	}
	if res == nil {
		Error(c, http.StatusNotFound, "consensus not computed", nil)
		return
	}
	Ok(c, res, nil)
}

// @Summary Settle a resolved cycle
// @Tags cycles
// @Param id path int true "cycle id"
// @Success 200 {object} envelope
// @Failure 409 {object} envelope
// @Router /api/v1/cycles/{id}/settle [post]
func (h *CycleHandler) settle(c *gin.Context) {
	if h.Pipeline == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	id, ok := cycleIDParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid cycle id", nil)
		return
	}
	res, err := h.Pipeline.Settle(c.Request.Context(), id)
	if errors.Is(err, settlement.ErrDuplicateSettlement) {
		fail(c, err, map[string]any{"settlement": res})
		return
	}
	if err != nil {
		fail(c, err, map[string]any{"cycle_id": id})
		return
	}
	Ok(c, res, nil)
}

// @Summary Wager pool for a cycle
// @Tags cycles
// @Param id path int true "cycle id"
// @Success 200 {object} envelope
// @Router /api/v1/cycles/{id}/pool [get]
func (h *CycleHandler) pool(c *gin.Context) {
	if h.Wagers == nil {
		Error(c, http.StatusInternalServerError, "wager service unavailable", nil)
		return
	}
	id, ok := cycleIDParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid cycle id", nil)
		return
	}
	pool, err := h.Wagers.Pool(c.Request.Context(), id)
	if err != nil {
		fail(c, err, nil)
		return
	}
	Ok(c, pool, map[string]any{"normalized_influence": pool.Influence.Normalized()})
}
