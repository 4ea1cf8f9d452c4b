package walker

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// DepthPoint is one level of a cumulative depth ladder.
type DepthPoint struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// DepthLadder holds cumulative depth for both sides of the book.
type DepthLadder struct {
	Bids []DepthPoint `json:"bids"`
	Asks []DepthPoint `json:"asks"`
}

// Depth builds cumulative depth for at most levels valid entries per side.
// levels <= 0 means every level.
func Depth(snap domain.OrderBookSnapshot, levels int) DepthLadder {
	return DepthLadder{
		Bids: cumulate(ValidBids(snap.Bids), levels),
		Asks: cumulate(ValidAsks(snap.Asks), levels),
	}
}

func cumulate(side []domain.PriceLevel, levels int) []DepthPoint {
	if levels > 0 && len(side) > levels {
		side = side[:levels]
	}
	out := make([]DepthPoint, len(side))
	total := decimal.Zero
	for i, l := range side {
		total = total.Add(l.Quantity)
		out[i] = DepthPoint{Price: l.Price, Quantity: l.Quantity, Cumulative: total}
	}
	return out
}

// Summary is the top-of-book view of a snapshot.
type Summary struct {
	BestBid       decimal.Decimal `json:"best_bid"`
	BestAsk       decimal.Decimal `json:"best_ask"`
	Spread        decimal.Decimal `json:"spread"`
	SpreadPercent decimal.Decimal `json:"spread_percent"`
	Mid           decimal.Decimal `json:"mid"`
	AskLevels     int             `json:"ask_levels"`
	BidLevels     int             `json:"bid_levels"`
}

// Summarize reports best prices and the spread. Spread, spread percent and
// mid are zero unless both sides have a valid level.
func Summarize(snap domain.OrderBookSnapshot) Summary {
	var s Summary
	bid, hasBid := snap.BestBid()
	ask, hasAsk := snap.BestAsk()
	if hasBid {
		s.BestBid = bid
	}
	if hasAsk {
		s.BestAsk = ask
	}
	for _, l := range snap.Asks {
		if l.Valid() {
			s.AskLevels++
		}
	}
	for _, l := range snap.Bids {
		if l.Valid() {
			s.BidLevels++
		}
	}
	if !hasBid || !hasAsk {
		return s
	}
	s.Spread = ask.Sub(bid)
	s.SpreadPercent = s.Spread.Div(ask).Mul(decimal.NewFromInt(100))
	s.Mid = ask.Add(bid).Div(decimal.NewFromInt(2))
	return s
}
