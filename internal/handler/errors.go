package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agrocycle/internal/consensus"
	"agrocycle/internal/risk"
	"agrocycle/internal/service"
	"agrocycle/internal/settlement"
	"agrocycle/internal/wager"
)

// statusFor maps domain errors to HTTP statuses; anything unknown is treated
// as an upstream (store) failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wager.ErrInvalidWager), errors.Is(err, service.ErrInvalidFarmAction), errors.Is(err, risk.ErrLimitExceeded),
		errors.Is(err, service.ErrUnknownSwitch):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrFarmNotFound), errors.Is(err, service.ErrCycleNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrDuplicateSettlement),
		errors.Is(err, settlement.ErrNotResolved),
		errors.Is(err, settlement.ErrDegradedResolution),
		errors.Is(err, service.ErrWrongPhase):
		return http.StatusConflict
	case errors.Is(err, consensus.ErrInsufficientSignal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, consensus.ErrTieBreakUnavailable), errors.Is(err, service.ErrSchedulerNotReady):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func fail(c *gin.Context, err error, meta map[string]any) {
	Error(c, statusFor(err), err.Error(), meta)
}
