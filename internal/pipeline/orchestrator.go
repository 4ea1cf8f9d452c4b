// Package pipeline runs the background data jobs: snapshot archival to
// object storage and estimate history retention.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs whichever background jobs are configured.
type Orchestrator struct {
	archiver  *SnapshotArchiver
	pruner    *Pruner
	pruneCron string
	logger    *slog.Logger
}

// NewOrchestrator accepts nil for jobs that are disabled.
func NewOrchestrator(archiver *SnapshotArchiver, pruner *Pruner, pruneCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		archiver:  archiver,
		pruner:    pruner,
		pruneCron: pruneCron,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Enabled reports whether any job is configured.
func (o *Orchestrator) Enabled() bool {
	return o.archiver != nil || (o.pruner != nil && o.pruneCron != "")
}

// Run blocks until ctx is cancelled or a job fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting snapshot archiver")
			return ignoreCanceled(o.archiver.Run(ctx))
		})
	}
	if o.pruner != nil && o.pruneCron != "" {
		g.Go(func() error {
			return ignoreCanceled(o.pruner.RunCron(ctx, o.pruneCron))
		})
	}

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
