package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// CostService is the part of the cost service the HTTP layer needs.
type CostService interface {
	EstimatorName() string
	State() domain.ConnState
	Request() domain.TradeRequest
	Snapshot() (domain.OrderBookSnapshot, error)
	Latest() (domain.CostEstimate, error)
	Quote(req domain.TradeRequest) (domain.CostEstimate, error)
	SetRequest(ctx context.Context, req domain.TradeRequest) (domain.CostEstimate, error)
}

// EstimateHandler serves live estimates, ad-hoc quotes and history.
type EstimateHandler struct {
	costs  CostService
	store  domain.EstimateStore
	logger *slog.Logger
}

// NewEstimateHandler creates an EstimateHandler. store may be nil when
// history is not persisted.
func NewEstimateHandler(costs CostService, store domain.EstimateStore, logger *slog.Logger) *EstimateHandler {
	return &EstimateHandler{
		costs:  costs,
		store:  store,
		logger: logger.With(slog.String("handler", "estimate")),
	}
}

// tradeBody is the JSON body of POST /api/estimate and PUT /api/trade.
// Omitted fields fall back to the active request.
type tradeBody struct {
	Symbol   string           `json:"symbol"`
	Quantity *decimal.Decimal `json:"quantity"`
	FeeTier  string           `json:"fee_tier"`
}

func (h *EstimateHandler) decodeRequest(r *http.Request) (domain.TradeRequest, error) {
	var body tradeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return domain.TradeRequest{}, domainErr("malformed JSON body")
	}

	req := h.costs.Request()
	if body.Symbol != "" {
		req.Symbol = body.Symbol
	}
	if body.Quantity != nil {
		req.Quantity = *body.Quantity
	}
	if body.FeeTier != "" {
		fee, err := domain.ParseFeeTier(body.FeeTier)
		if err != nil {
			return domain.TradeRequest{}, err
		}
		req.FeeRate = fee
	}
	return req, req.Validate()
}

// GetLatest returns the latest applied estimate.
// GET /api/estimate
func (h *EstimateHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	est, err := h.costs.Latest()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// Quote walks the live book for the posted request without changing the
// active request.
// POST /api/estimate
func (h *EstimateHandler) Quote(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	est, err := h.costs.Quote(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// SetTrade replaces the active request and returns its estimate. When no
// live book is available the request is still accepted (202).
// PUT /api/trade
func (h *EstimateHandler) SetTrade(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	est, err := h.costs.SetRequest(r.Context(), req)
	switch {
	case err == nil:
		h.logger.InfoContext(r.Context(), "trade request updated",
			slog.String("symbol", req.Symbol),
			slog.String("quantity", req.Quantity.String()),
			slog.String("fee_rate", req.FeeRate.String()),
		)
		writeJSON(w, http.StatusOK, est)
	case isNoSnapshot(err):
		writeJSON(w, http.StatusAccepted, map[string]any{
			"request": req,
			"status":  "accepted; waiting for a live order book",
		})
	default:
		writeDomainError(w, err)
	}
}

// ListHistory returns persisted estimates for a symbol, newest first.
// GET /api/estimates?symbol=&limit=&offset=&since=&until=
func (h *EstimateHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "estimate history is not enabled")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = h.costs.Request().Symbol
	}
	list, err := h.store.List(r.Context(), symbol, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list estimates failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []domain.CostEstimate{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetByID returns one persisted estimate.
// GET /api/estimates/{id}
func (h *EstimateHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "estimate history is not enabled")
		return
	}
	est, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}
