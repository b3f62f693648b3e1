package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agrocycle/internal/cycle"
)

const eventWriteTimeout = 5 * time.Second

type EventsHandler struct {
	Scheduler *cycle.Scheduler
	Logger    *zap.Logger
	// OriginPatterns is passed to websocket.Accept; empty means same-origin.
	OriginPatterns []string
}

func (h *EventsHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/events/ws", h.stream)
}

// eventMessage is one frame on the stream. The first frame is always a
// snapshot of the scheduler state.
type eventMessage struct {
	Kind   string        `json:"kind"`
	Status *cycle.Status `json:"status,omitempty"`
	Event  *cycle.Event  `json:"event,omitempty"`
}

// @Summary Stream phase transitions
// @Tags events
// @Success 101
// @Router /api/v1/events/ws [get]
func (h *EventsHandler) stream(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		h.logger().Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, cancel := h.Scheduler.Subscribe(32)
	defer cancel()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())

	st := h.Scheduler.Status()
	if err := write(ctx, conn, eventMessage{Kind: "snapshot", Status: &st}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "scheduler stopped")
				return
			}
			if err := write(ctx, conn, eventMessage{Kind: "transition", Event: &ev}); err != nil {
				h.logger().Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg eventMessage) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func (h *EventsHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
