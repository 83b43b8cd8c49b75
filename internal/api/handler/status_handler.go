package handler

import (
	"net/http"
	"time"

	"github.com/cuongbtq/ms-media-worker/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// Health handles GET /health and GET /healthz.
// It answers ok whatever the broker state, so the process stays alive while reconnecting.
func (h *StatusHandler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Status handles GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	resp := dto.StatusResponse{
		Service:     h.service,
		Version:     h.version,
		WorkerID:    h.workerID,
		WorkerState: "disabled",
		Ledger:      "disabled",
	}

	if h.ledger {
		resp.Ledger = "enabled"
		if h.ledgerHealth != nil && h.ledgerHealth(c.Request.Context()) != nil {
			resp.Ledger = "unreachable"
		}
	}

	if h.worker != nil {
		stats := h.worker.Stats()
		resp.WorkerState = h.worker.State().String()
		resp.Channel = h.worker.Channel()
		resp.Stats = dto.StatsDTO{
			InFlight:  stats.InFlight,
			Completed: stats.Completed,
			Failed:    stats.Failed,
			Discarded: stats.Discarded,
		}
	}

	if h.connection != nil {
		snap := h.connection.Health()
		resp.Transport = string(h.connection.Mode())
		resp.Connection = dto.ConnectionDTO{
			State:   string(snap.State),
			Attempt: snap.Attempt,
			DelayMs: snap.DelayMillis(),
			Since:   snap.Since.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, resp)
}
