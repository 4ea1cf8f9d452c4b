package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/walker"
)

const (
	defaultBookLevels = 10
	maxBookLevels     = 400
)

// BookHandler serves the live order book.
type BookHandler struct {
	costs CostService
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(costs CostService) *BookHandler {
	return &BookHandler{costs: costs}
}

type bookResponse struct {
	Exchange   string              `json:"exchange"`
	Symbol     string              `json:"symbol"`
	Timestamp  time.Time           `json:"timestamp"`
	ReceivedAt time.Time           `json:"received_at"`
	Asks       []domain.PriceLevel `json:"asks"`
	Bids       []domain.PriceLevel `json:"bids"`
	Summary    walker.Summary      `json:"summary"`
	Depth      walker.DepthLadder  `json:"depth"`
}

// GetBook returns the top N valid levels per side with a summary and the
// cumulative depth ladder.
// GET /api/book?levels=N
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	levels := defaultBookLevels
	if v := r.URL.Query().Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "levels must be a positive integer")
			return
		}
		levels = min(n, maxBookLevels)
	}

	snap, err := h.costs.Snapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bookResponse{
		Exchange:   snap.Exchange,
		Symbol:     snap.Symbol,
		Timestamp:  snap.Timestamp,
		ReceivedAt: snap.ReceivedAt,
		Asks:       top(walker.ValidAsks(snap.Asks), levels),
		Bids:       top(walker.ValidBids(snap.Bids), levels),
		Summary:    walker.Summarize(snap),
		Depth:      walker.Depth(snap, levels),
	})
}

func top(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}
