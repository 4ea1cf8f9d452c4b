// Package gomarket adapts the GoMarket L2 order book stream into domain
// snapshots.
package gomarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// flexString unmarshals from a JSON string or number so price and size
// fields decode whichever way the venue sends them. Any other JSON value
// decodes to the empty string, which fails level parsing and is counted as
// dropped instead of rejecting the whole frame.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

// wireLevel is one [price, quantity] entry. A non-array entry decodes to an
// empty level.
type wireLevel []flexString

func (l *wireLevel) UnmarshalJSON(data []byte) error {
	var entry []flexString
	if err := json.Unmarshal(data, &entry); err != nil {
		*l = nil
		return nil
	}
	*l = entry
	return nil
}

// BookMessage is one full L2 frame as sent on the wire:
//
//	{"timestamp":"2025-05-04T10:39:13Z","exchange":"OKX","symbol":"BTC-USDT-SWAP",
//	 "asks":[["95445.5","9.06"],...],"bids":[["95445.4","1104.23"],...]}
type BookMessage struct {
	Timestamp flexString  `json:"timestamp"`
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Asks      []wireLevel `json:"asks"`
	Bids      []wireLevel `json:"bids"`
}

// ToDomainSnapshot converts a wire frame into an immutable snapshot. Entries
// that do not parse into a valid level are dropped and counted.
func ToDomainSnapshot(m *BookMessage, receivedAt time.Time) (domain.OrderBookSnapshot, int) {
	snap := domain.OrderBookSnapshot{
		Exchange:   strings.ToLower(m.Exchange),
		Symbol:     m.Symbol,
		Timestamp:  parseTimestamp(string(m.Timestamp), receivedAt),
		ReceivedAt: receivedAt,
	}
	var dropped int
	snap.Asks, dropped = convertLevels(m.Asks)
	bids, n := convertLevels(m.Bids)
	snap.Bids = bids
	return snap, dropped + n
}

func convertLevels(raw []wireLevel) ([]domain.PriceLevel, int) {
	out := make([]domain.PriceLevel, 0, len(raw))
	dropped := 0
	for _, entry := range raw {
		if len(entry) < 2 {
			dropped++
			continue
		}
		lvl, err := domain.ParseLevel(string(entry[0]), string(entry[1]))
		if err != nil {
			dropped++
			continue
		}
		out = append(out, lvl)
	}
	return out, dropped
}

// parseTimestamp accepts RFC3339 strings and unix epoch values in seconds or
// milliseconds, falling back to the receive time.
func parseTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	return fallback
}
