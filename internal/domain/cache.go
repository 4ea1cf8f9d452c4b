package domain

import (
	"context"
	"time"
)

// Pub/sub channel for feed status events.
const ChannelStatus = "ch:status"

// BookChannel is the pub/sub channel for snapshots of symbol.
func BookChannel(symbol string) string { return "ch:book:" + symbol }

// EstimateChannel is the pub/sub channel for estimates of symbol.
func EstimateChannel(symbol string) string { return "ch:estimate:" + symbol }

// SnapshotCache keeps the latest order book per exchange and symbol.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, exchange, symbol string) (OrderBookSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub fan-out of book, estimate and status events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
