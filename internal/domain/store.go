package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EstimateStore persists computed cost estimates.
type EstimateStore interface {
	Insert(ctx context.Context, est CostEstimate) error
	GetByID(ctx context.Context, id string) (CostEstimate, error)
	List(ctx context.Context, symbol string, opts ListOpts) ([]CostEstimate, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
