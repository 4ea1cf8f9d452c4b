// Package walker costs a market buy by walking the ask side of an order book.
// Everything here is pure: no I/O, no shared state, safe for concurrent use.
package walker

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// Estimate walks the valid asks of snap in ascending price order and fills
// req.Quantity. A thin book yields a partial fill with FullyFilled=false. A
// non-positive quantity is trivially filled at zero cost.
func Estimate(snap domain.OrderBookSnapshot, req domain.TradeRequest) domain.CostEstimate {
	est := domain.CostEstimate{
		Symbol:               req.Symbol,
		RequestedQuantity:    req.Quantity,
		FeeRate:              req.FeeRate,
		MakerTakerProportion: domain.MakerTakerUnavailable,
		Source:               domain.SourceWalk,
		Confidence:           domain.ConfidenceHigh,
		BookTimestamp:        snap.Timestamp,
	}
	if est.Symbol == "" {
		est.Symbol = snap.Symbol
	}

	if !req.Quantity.IsPositive() {
		est.FullyFilled = true
		return est
	}

	asks := ValidAsks(snap.Asks)
	if len(asks) == 0 {
		return est
	}

	remaining := req.Quantity
	filled := decimal.Zero
	notional := decimal.Zero
	for _, lvl := range asks {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, lvl.Quantity)
		filled = filled.Add(take)
		notional = notional.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
		est.LevelsConsumed++
	}

	vwap := notional.Div(filled)
	best := asks[0].Price

	est.FilledQuantity = filled
	est.VWAP = vwap
	est.BestAsk = best
	est.Slippage = vwap.Sub(best).Mul(filled)
	est.Fee = notional.Mul(req.FeeRate)
	est.NetCost = est.Slippage.Add(est.Fee).Add(est.MarketImpact)
	est.FullyFilled = filled.GreaterThanOrEqual(req.Quantity)
	return est
}

// ValidAsks returns the valid levels of asks sorted ascending by price. The
// input slice is never modified.
func ValidAsks(asks []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(asks))
	for _, l := range asks {
		if l.Valid() {
			out = append(out, l)
		}
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) }) {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	}
	return out
}

// ValidBids returns the valid levels of bids sorted descending by price.
func ValidBids(bids []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(bids))
	for _, l := range bids {
		if l.Valid() {
			out = append(out, l)
		}
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) }) {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	}
	return out
}
