// Package service holds the cost service: the single owner of the active
// trade request, the live snapshot and the latest estimate.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/estimator"
	"github.com/alanyoungcy/bookcost/internal/metrics"
	"github.com/alanyoungcy/bookcost/internal/walker"
)

// SnapshotSink receives every live snapshot, e.g. the archiver.
type SnapshotSink interface {
	Add(snap domain.OrderBookSnapshot)
}

// Deps are the collaborators of CostService. Only Estimator is required.
type Deps struct {
	Estimator estimator.CostEstimator
	Cache     domain.SnapshotCache
	Bus       domain.SignalBus
	Store     domain.EstimateStore
	Sink      SnapshotSink
}

// EstimateListener is called after an estimate has been applied.
type EstimateListener func(domain.CostEstimate)

// CostService recomputes the estimate once per snapshot or request change.
// With an asynchronous estimator each computation runs on its own goroutine
// and only the most recently issued one may become the latest estimate.
type CostService struct {
	deps   Deps
	async  bool
	seq    estimator.Sequencer
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup

	// mu guards the fields below. Sequence numbers are issued and committed
	// with mu held, so mu is always taken before the sequencer lock.
	mu        sync.RWMutex
	req       domain.TradeRequest
	state     domain.ConnState
	snap      domain.OrderBookSnapshot
	hasSnap   bool
	latest    domain.CostEstimate
	hasEst    bool
	listeners []EstimateListener
}

// NewCostService creates the service with req as the active request. The
// external estimator runs asynchronously; the walk runs inline.
func NewCostService(deps Deps, req domain.TradeRequest, logger *slog.Logger) *CostService {
	return &CostService{
		deps:   deps,
		async:  deps.Estimator.Name() != domain.SourceWalk,
		logger: logger.With(slog.String("component", "cost_service")),
		now:    time.Now,
		req:    req,
		state:  domain.StateDisconnected,
	}
}

// OnEstimate registers a listener for applied estimates.
func (s *CostService) OnEstimate(fn EstimateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// EstimatorName reports the active strategy.
func (s *CostService) EstimatorName() string { return s.deps.Estimator.Name() }

// Request returns the active trade request.
func (s *CostService) Request() domain.TradeRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.req
}

// State returns the last feed state seen by the service.
func (s *CostService) State() domain.ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the live snapshot, ErrStale when the feed is down or
// ErrNoSnapshot before the first frame.
func (s *CostService) Snapshot() (domain.OrderBookSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Live() {
		return domain.OrderBookSnapshot{}, domain.ErrStale
	}
	if !s.hasSnap {
		return domain.OrderBookSnapshot{}, domain.ErrNoSnapshot
	}
	return s.snap, nil
}

// Latest returns the most recent applied estimate. Nothing is returned while
// the feed is not connected.
func (s *CostService) Latest() (domain.CostEstimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Live() {
		return domain.CostEstimate{}, domain.ErrStale
	}
	if !s.hasEst {
		return domain.CostEstimate{}, domain.ErrNoSnapshot
	}
	return s.latest, nil
}

// HandleState records a feed state change. Leaving the connected state drops
// the snapshot and estimate and invalidates computations in flight.
func (s *CostService) HandleState(ctx context.Context, change domain.StateChange) {
	s.mu.Lock()
	s.state = change.To
	if !change.To.Live() {
		s.seq.Begin()
		s.snap, s.hasSnap = domain.OrderBookSnapshot{}, false
		s.latest, s.hasEst = domain.CostEstimate{}, false
	}
	s.mu.Unlock()

	s.publish(ctx, domain.ChannelStatus, statusEvent{
		Event:  "feed_status",
		State:  change.To,
		From:   change.From,
		Reason: change.Reason,
		At:     s.now().UTC(),
	})
}

// HandleSnapshot stores a live snapshot, fans it out and recomputes the
// estimate. Snapshots arriving while not connected are ignored.
func (s *CostService) HandleSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) {
	s.mu.Lock()
	if !s.state.Live() {
		s.mu.Unlock()
		return
	}
	s.snap, s.hasSnap = snap, true
	req := s.req
	seq := s.seq.Begin()
	s.mu.Unlock()

	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetSnapshot(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "cache snapshot failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Sink != nil {
		s.deps.Sink.Add(snap)
	}
	s.publish(ctx, domain.BookChannel(snap.Symbol), newBookEvent(snap))

	if s.async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _, _ = s.compute(ctx, seq, snap, req)
		}()
		return
	}
	_, _, _ = s.compute(ctx, seq, snap, req)
}

// SetRequest replaces the active request and, when a live snapshot exists,
// computes its estimate before returning. The request is kept even when no
// snapshot is available yet.
func (s *CostService) SetRequest(ctx context.Context, req domain.TradeRequest) (domain.CostEstimate, error) {
	if err := req.Validate(); err != nil {
		return domain.CostEstimate{}, err
	}

	s.mu.Lock()
	if req.Symbol == "" {
		req.Symbol = s.req.Symbol
	}
	s.req = req
	snap, live := s.snap, s.state.Live() && s.hasSnap
	var seq uint64
	if live {
		seq = s.seq.Begin()
	}
	s.mu.Unlock()

	if !live {
		return domain.CostEstimate{}, fmt.Errorf("service: set request: %w", domain.ErrNoSnapshot)
	}
	// A newer snapshot may supersede this result before it is applied; it is
	// still the estimate for req against the book it was computed on.
	est, _, err := s.compute(ctx, seq, snap, req)
	if err != nil {
		return domain.CostEstimate{}, fmt.Errorf("service: set request: %w", err)
	}
	return est, nil
}

// Quote walks the live book for req without touching the service state.
func (s *CostService) Quote(req domain.TradeRequest) (domain.CostEstimate, error) {
	if err := req.Validate(); err != nil {
		return domain.CostEstimate{}, err
	}
	snap, err := s.Snapshot()
	if err != nil {
		return domain.CostEstimate{}, err
	}
	if req.Symbol == "" {
		req.Symbol = snap.Symbol
	}
	start := s.now()
	est := walker.Estimate(snap, req)
	est.Latency = s.now().Sub(start)
	est.ComputedAt = s.now().UTC()
	return est, nil
}

// Wait blocks until asynchronous computations in flight have finished.
func (s *CostService) Wait() { s.wg.Wait() }

func (s *CostService) compute(ctx context.Context, seq uint64, snap domain.OrderBookSnapshot, req domain.TradeRequest) (domain.CostEstimate, bool, error) {
	start := s.now()
	est, err := s.deps.Estimator.Estimate(ctx, snap, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "estimate failed", slog.String("error", err.Error()))
		return domain.CostEstimate{}, false, err
	}
	est.Latency = s.now().Sub(start)
	est.Sequence = seq
	est.ID = uuid.NewString()
	est.ComputedAt = s.now().UTC()
	metrics.EstimateLatencySeconds.WithLabelValues(est.Source).Observe(est.Latency.Seconds())

	s.mu.Lock()
	applied := s.seq.Commit(seq, func() {
		s.latest, s.hasEst = est, true
	})
	s.mu.Unlock()
	if !applied {
		s.logger.DebugContext(ctx, "discarded stale estimate", slog.Uint64("sequence", seq))
		return est, false, nil
	}

	fill := "full"
	if !est.FullyFilled {
		fill = "partial"
	}
	metrics.EstimatesTotal.WithLabelValues(est.Source, fill).Inc()
	s.publish(ctx, domain.EstimateChannel(est.Symbol), est)

	if s.deps.Store != nil {
		if err := s.deps.Store.Insert(ctx, est); err != nil {
			s.logger.WarnContext(ctx, "store estimate failed", slog.String("error", err.Error()))
		}
	}

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(est)
	}
	return est, true, nil
}

func (s *CostService) publish(ctx context.Context, channel string, v any) {
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.deps.Bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
