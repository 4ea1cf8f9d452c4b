// Package estimator provides interchangeable cost estimation strategies and
// the guard that keeps slow results from overwriting newer ones.
package estimator

import (
	"context"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/walker"
)

// CostEstimator costs a trade request against a snapshot.
type CostEstimator interface {
	Name() string
	Estimate(ctx context.Context, snap domain.OrderBookSnapshot, req domain.TradeRequest) (domain.CostEstimate, error)
}

// WalkEstimator is the deterministic book walk.
type WalkEstimator struct{}

// NewWalkEstimator returns the book-walking strategy.
func NewWalkEstimator() *WalkEstimator { return &WalkEstimator{} }

func (*WalkEstimator) Name() string { return domain.SourceWalk }

// Estimate never fails.
func (*WalkEstimator) Estimate(_ context.Context, snap domain.OrderBookSnapshot, req domain.TradeRequest) (domain.CostEstimate, error) {
	return walker.Estimate(snap, req), nil
}
