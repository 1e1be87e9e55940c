package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthChecker interface {
	Health(ctx context.Context) error
}

type healthController struct {
	history   HealthChecker
	converter string
}

// NewHealthController reports the job history backend and the converter binary path.
func NewHealthController(history HealthChecker, converter string) *healthController {
	return &healthController{history: history, converter: converter}
}

func (h *healthController) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok", "converter": h.converter}
	if h.history != nil {
		if err := h.history.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["history"] = err.Error()
		}
	}
	c.JSON(status, body)
}
