package estimator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/metrics"
	"github.com/alanyoungcy/bookcost/internal/walker"
)

// Fallback reasoning texts.
const (
	reasonRateLimited = "External estimation failed due to API rate limits. Please try again later or check your API plan."
	reasonBreakerOpen = "External estimation is temporarily disabled after repeated failures."
)

var errUpstreamRateLimited = errors.New("upstream rate limited")

// ExternalConfig configures the HTTP estimator.
type ExternalConfig struct {
	URL             string
	APIKey          string
	Timeout         time.Duration
	MaxLevels       int
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// AskLevel is one entry of the ask snapshot sent upstream.
type AskLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// ExternalRequest is the JSON body posted to the estimation endpoint.
type ExternalRequest struct {
	SpotAsset       string     `json:"spotAsset"`
	TradeQuantity   float64    `json:"tradeQuantity"`
	BestAskPrice    float64    `json:"bestAskPrice"`
	AskBookSnapshot []AskLevel `json:"askBookSnapshot"`
}

// ExternalResponse is the JSON body returned by the estimation endpoint.
type ExternalResponse struct {
	EstimatedSlippageValue float64           `json:"estimatedSlippageValue"`
	Confidence             domain.Confidence `json:"confidence"`
	Reasoning              string            `json:"reasoning,omitempty"`
}

// ExternalEstimator asks an HTTP model for the slippage figure and uses the
// book walk for everything else. Failures never surface as errors: they
// degrade to a zero-slippage, low-confidence estimate.
type ExternalEstimator struct {
	cfg     ExternalConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewExternalEstimator builds the estimator with its limiter and breaker.
func NewExternalEstimator(cfg ExternalConfig, logger *slog.Logger) *ExternalEstimator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxLevels <= 0 {
		cfg.MaxLevels = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	log := logger.With(slog.String("component", "external_estimator"))
	failures := cfg.BreakerFailures
	st := gobreaker.Settings{
		Name:    "external_estimator",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &ExternalEstimator{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  log,
	}
}

func (*ExternalEstimator) Name() string { return domain.SourceExternal }

// Estimate returns the walk's fill, VWAP and fee combined with the external
// slippage value.
func (e *ExternalEstimator) Estimate(ctx context.Context, snap domain.OrderBookSnapshot, req domain.TradeRequest) (domain.CostEstimate, error) {
	est := walker.Estimate(snap, req)
	est.Source = domain.SourceExternal

	// Nothing to ask about: the walk result is exact.
	if est.FilledQuantity.IsZero() {
		return est, nil
	}

	if !e.limiter.Allow() {
		metrics.ExternalFailuresTotal.WithLabelValues("local_rate_limit").Inc()
		return fallback(est, reasonRateLimited), nil
	}

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.call(ctx, e.buildRequest(snap, req, est.BestAsk))
	})
	if err != nil {
		reason, label := classify(err)
		metrics.ExternalFailuresTotal.WithLabelValues(label).Inc()
		e.logger.Warn("external estimate failed", slog.String("error", err.Error()))
		return fallback(est, reason), nil
	}

	resp := out.(ExternalResponse)
	est.Slippage = domain.FiniteDecimal(resp.EstimatedSlippageValue)
	est.Confidence = resp.Confidence
	est.Reasoning = resp.Reasoning
	est.NetCost = est.Slippage.Add(est.Fee).Add(est.MarketImpact)
	return est, nil
}

func (e *ExternalEstimator) buildRequest(snap domain.OrderBookSnapshot, req domain.TradeRequest, bestAsk decimal.Decimal) ExternalRequest {
	asks := walker.ValidAsks(snap.Asks)
	if len(asks) > e.cfg.MaxLevels {
		asks = asks[:e.cfg.MaxLevels]
	}
	levels := make([]AskLevel, len(asks))
	for i, l := range asks {
		levels[i] = AskLevel{Price: l.Price.InexactFloat64(), Quantity: l.Quantity.InexactFloat64()}
	}
	symbol := req.Symbol
	if symbol == "" {
		symbol = snap.Symbol
	}
	return ExternalRequest{
		SpotAsset:       symbol,
		TradeQuantity:   req.Quantity.InexactFloat64(),
		BestAskPrice:    bestAsk.InexactFloat64(),
		AskBookSnapshot: levels,
	}
}

func (e *ExternalEstimator) call(ctx context.Context, body ExternalRequest) (ExternalResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return ExternalResponse{}, fmt.Errorf("estimator: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return ExternalResponse{}, fmt.Errorf("estimator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return ExternalResponse{}, fmt.Errorf("estimator: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ExternalResponse{}, fmt.Errorf("estimator: status %d: %w", resp.StatusCode, errUpstreamRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ExternalResponse{}, fmt.Errorf("estimator: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out ExternalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ExternalResponse{}, fmt.Errorf("estimator: decode response: %w", err)
	}
	if !out.Confidence.Valid() {
		return ExternalResponse{}, fmt.Errorf("estimator: invalid confidence %q", out.Confidence)
	}
	return out, nil
}

func classify(err error) (reason, label string) {
	switch {
	case errors.Is(err, errUpstreamRateLimited):
		return reasonRateLimited, "upstream_rate_limit"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return reasonBreakerOpen, "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("External estimation failed: %v", err), "timeout"
	default:
		return fmt.Sprintf("External estimation failed: %v", err), "error"
	}
}

func fallback(est domain.CostEstimate, reasoning string) domain.CostEstimate {
	est.Slippage = decimal.Zero
	est.Confidence = domain.ConfidenceLow
	est.Reasoning = reasoning
	est.NetCost = est.Fee.Add(est.MarketImpact)
	return est
}
