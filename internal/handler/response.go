package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// envelope wraps every JSON body. Reason is a stable snake_case form of the
// HTTP status so clients need not parse Message.
type envelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Reason  string         `json:"reason,omitempty"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, envelope{Message: "ok", Data: data, Meta: meta})
}

// OkPage is Ok for list endpoints; has_next is a hint that a full page came back.
func OkPage(c *gin.Context, data any, limit, offset, count int) {
	if offset < 0 {
		offset = 0
	}
	Ok(c, data, map[string]any{
		"limit":    limit,
		"offset":   offset,
		"count":    count,
		"has_next": limit > 0 && count >= limit,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, envelope{
		Code:    status,
		Message: message,
		Reason:  reasonFor(status),
		Meta:    meta,
	})
}

func reasonFor(status int) string {
	text := strings.ToLower(http.StatusText(status))
	if text == "" {
		return "error"
	}
	return strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(text)
}
