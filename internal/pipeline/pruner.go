package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EstimateDeleter removes stored estimates older than a cutoff.
type EstimateDeleter interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Pruner enforces the estimate history retention window.
type Pruner struct {
	store     EstimateDeleter
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner creates a pruner keeping retention worth of estimates.
func NewPruner(store EstimateDeleter, retention time.Duration, logger *slog.Logger) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		logger:    logger.With(slog.String("component", "estimate_pruner")),
		now:       time.Now,
	}
}

// Run deletes everything older than the retention window once.
func (p *Pruner) Run(ctx context.Context) error {
	cutoff := p.now().UTC().Add(-p.retention)
	n, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: prune estimates before %v: %w", cutoff, err)
	}
	p.logger.Info("pruned estimates", slog.Time("cutoff", cutoff), slog.Int64("deleted", n))
	return nil
}

// RunCron runs the pruner on a 5-field cron schedule until ctx is cancelled.
func (p *Pruner) RunCron(ctx context.Context, cronExpr string) error {
	p.logger.Info("pruner cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, p.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: parse cron %q: %w", cronExpr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := p.Run(ctx); err != nil {
				p.logger.Error("prune run failed", slog.String("error", err.Error()))
			}
		}
	}
}
