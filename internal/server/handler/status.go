package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the runtime status (mode, estimator, feed state).
type StatusHandler struct {
	mode      string
	costs     CostService
	startedAt time.Time
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler for the given mode.
func NewStatusHandler(mode string, costs CostService, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, costs: costs, startedAt: startedAt, now: time.Now}
}

// GetStatus responds with the mode, estimator strategy, feed state and the
// age of the live snapshot (null when there is none).
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	var age *float64
	if snap, err := h.costs.Snapshot(); err == nil {
		secs := snap.Age(now).Seconds()
		age = &secs
	}

	req := h.costs.Request()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":                 h.mode,
		"estimator":            h.costs.EstimatorName(),
		"feed_state":           h.costs.State(),
		"snapshot_age_seconds": age,
		"uptime_seconds":       int64(now.Sub(h.startedAt).Seconds()),
		"trade": map[string]any{
			"symbol":   req.Symbol,
			"quantity": req.Quantity,
			"fee_rate": req.FeeRate,
		},
	})
}
