package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+quantity rung of an order book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Valid reports whether the level can take part in a book walk. Both price
// and quantity must be strictly positive.
func (l PriceLevel) Valid() bool {
	return l.Price.IsPositive() && l.Quantity.IsPositive()
}

// ParseLevel converts a wire [price, quantity] string pair into a PriceLevel.
// It returns ErrInvalidLevel for unparsable or non-positive values.
func ParseLevel(price, quantity string) (PriceLevel, error) {
	p, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: price %q", ErrInvalidLevel, price)
	}
	q, err := decimal.NewFromString(strings.TrimSpace(quantity))
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: quantity %q", ErrInvalidLevel, quantity)
	}
	lvl := PriceLevel{Price: p, Quantity: q}
	if !lvl.Valid() {
		return PriceLevel{}, fmt.Errorf("%w: %s@%s", ErrInvalidLevel, q, p)
	}
	return lvl, nil
}

// OrderBookSnapshot is a full, immutable view of one book at a point in time.
// Every feed message produces a new snapshot; snapshots are never patched.
type OrderBookSnapshot struct {
	Exchange   string       `json:"exchange"`
	Symbol     string       `json:"symbol"`
	Asks       []PriceLevel `json:"asks"` // ascending by price
	Bids       []PriceLevel `json:"bids"` // descending by price
	Timestamp  time.Time    `json:"timestamp"`
	ReceivedAt time.Time    `json:"received_at"`
}

// BestAsk returns the lowest valid ask price. It does not rely on the asks
// being sorted.
func (s OrderBookSnapshot) BestAsk() (decimal.Decimal, bool) {
	return bestPrice(s.Asks, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
}

// BestBid returns the highest valid bid price.
func (s OrderBookSnapshot) BestBid() (decimal.Decimal, bool) {
	return bestPrice(s.Bids, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
}

// Empty reports whether the snapshot has no levels on either side.
func (s OrderBookSnapshot) Empty() bool {
	return len(s.Asks) == 0 && len(s.Bids) == 0
}

// Age returns how long ago the snapshot was received relative to now.
func (s OrderBookSnapshot) Age(now time.Time) time.Duration {
	if s.ReceivedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ReceivedAt)
}

func bestPrice(levels []PriceLevel, better func(a, b decimal.Decimal) bool) (decimal.Decimal, bool) {
	best, found := decimal.Zero, false
	for _, l := range levels {
		if !l.Valid() {
			continue
		}
		if !found || better(l.Price, best) {
			best, found = l.Price, true
		}
	}
	return best, found
}

// FiniteDecimal converts f to a decimal, mapping NaN and ±Inf to zero.
// decimal.NewFromFloat panics on non-finite input.
func FiniteDecimal(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}
