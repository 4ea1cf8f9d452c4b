package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MakerTakerUnavailable is the only value the maker/taker proportion ever
// takes. No classifier exists.
const MakerTakerUnavailable = "N/A"

// Confidence grades how much an estimate can be trusted.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the known grades.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Estimate sources.
const (
	SourceWalk     = "walk"
	SourceExternal = "external"
)

// TradeRequest describes the hypothetical market buy being costed.
type TradeRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	FeeRate  decimal.Decimal `json:"fee_rate"`
}

// Validate checks the fee rate range. A non-positive quantity is allowed and
// yields a zero estimate.
func (r TradeRequest) Validate() error {
	if r.FeeRate.IsNegative() || r.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: fee rate %s outside [0,1)", ErrInvalidRequest, r.FeeRate)
	}
	return nil
}

// ParseFeeTier accepts either a percentage ("0.1%") or a plain fraction
// ("0.001") and returns the fee rate as a fraction.
func ParseFeeTier(tier string) (decimal.Decimal, error) {
	s := strings.TrimSpace(tier)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty fee tier", ErrInvalidRequest)
	}
	pct := strings.HasSuffix(s, "%")
	if pct {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: fee tier %q", ErrInvalidRequest, tier)
	}
	if pct {
		rate = rate.Div(decimal.NewFromInt(100))
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: fee tier %q outside [0,1)", ErrInvalidRequest, tier)
	}
	return rate, nil
}

// CostEstimate is the result of costing a TradeRequest against one snapshot.
// Slippage is a currency amount: (VWAP - BestAsk) * FilledQuantity.
type CostEstimate struct {
	ID                   string          `json:"id,omitempty"`
	Symbol               string          `json:"symbol"`
	RequestedQuantity    decimal.Decimal `json:"requested_quantity"`
	FilledQuantity       decimal.Decimal `json:"filled_quantity"`
	VWAP                 decimal.Decimal `json:"vwap"`
	BestAsk              decimal.Decimal `json:"best_ask"`
	Slippage             decimal.Decimal `json:"slippage"`
	Fee                  decimal.Decimal `json:"fee"`
	MarketImpact         decimal.Decimal `json:"market_impact"`
	NetCost              decimal.Decimal `json:"net_cost"`
	FeeRate              decimal.Decimal `json:"fee_rate"`
	FullyFilled          bool            `json:"fully_filled"`
	LevelsConsumed       int             `json:"levels_consumed"`
	MakerTakerProportion string          `json:"maker_taker_proportion"`
	Source               string          `json:"source"`
	Confidence           Confidence      `json:"confidence"`
	Reasoning            string          `json:"reasoning,omitempty"`
	Sequence             uint64          `json:"sequence"`
	Latency              time.Duration   `json:"latency_ns"`
	BookTimestamp        time.Time       `json:"book_timestamp"`
	ComputedAt           time.Time       `json:"computed_at"`
}

// Notional returns the quote amount spent on the filled quantity.
func (e CostEstimate) Notional() decimal.Decimal {
	return e.VWAP.Mul(e.FilledQuantity)
}
