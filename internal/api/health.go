package api

import (
	"net/http"
	"time"
)

const healthTimeLayout = "2006-01-02T15:04:05.000Z07:00"

type healthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

// handleHealth processes GET /health. It does not touch the store.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) error {
	now := time.Now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: now.UTC().Format(healthTimeLayout),
		Uptime:    now.Sub(h.started).Seconds(),
	})
	return nil
}
