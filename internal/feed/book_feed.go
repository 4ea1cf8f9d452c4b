// Package feed manages the live order book connection: its state machine,
// reconnect backoff and the latest snapshot.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/metrics"
	"github.com/alanyoungcy/bookcost/internal/platform/gomarket"
)

const (
	defaultBaseDelay = 5 * time.Second
	defaultMaxDelay  = 60 * time.Second
)

// Source is a single reconnectable stream connection.
type Source interface {
	Connect(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
	OnBook(h gomarket.BookHandler)
	Close() error
}

// SnapshotHandler receives every snapshot that arrives while connected.
type SnapshotHandler func(domain.OrderBookSnapshot)

// Options tunes reconnect backoff.
type Options struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// BookFeed owns the connection lifecycle for one book stream. It is the only
// component that reconnects.
type BookFeed struct {
	src    Source
	sm     *StateMachine
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	latest   domain.OrderBookSnapshot
	hasSnap  bool
	handlers []SnapshotHandler

	// gate serialises delivery. The latest frame read before the feed has
	// finished moving to connected is held in pending until open is set.
	gate    sync.Mutex
	open    bool
	pending *gomarket.BookUpdate
}

// NewBookFeed wires src to a new state machine.
func NewBookFeed(src Source, opts Options, logger *slog.Logger) *BookFeed {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = defaultMaxDelay
		if opts.MaxDelay < opts.BaseDelay {
			opts.MaxDelay = opts.BaseDelay
		}
	}
	f := &BookFeed{
		src:    src,
		sm:     NewStateMachine(),
		opts:   opts,
		logger: logger.With(slog.String("component", "book_feed")),
		sleep:  sleepCtx,
	}
	metrics.SetFeedState(f.sm.State())
	f.sm.Observe(f.onStateChange)
	src.OnBook(f.onBook)
	return f
}

// OnSnapshot registers a handler for live snapshots.
func (f *BookFeed) OnSnapshot(h SnapshotHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

// OnStateChange registers an observer of connection state changes.
func (f *BookFeed) OnStateChange(fn StateObserver) { f.sm.Observe(fn) }

// State returns the current connection state.
func (f *BookFeed) State() domain.ConnState { return f.sm.State() }

// Latest returns the last snapshot received on a live connection. It is
// cleared whenever the connection drops.
func (f *BookFeed) Latest() (domain.OrderBookSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.hasSnap
}

// Run connects and keeps reconnecting with exponential backoff until ctx is
// cancelled. It always returns ctx.Err().
func (f *BookFeed) Run(ctx context.Context) error {
	delay := f.opts.BaseDelay
	for {
		f.move(domain.StateConnecting, "")
		err := f.src.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				f.move(domain.StateDisconnected, "shutdown")
				return ctx.Err()
			}
			f.move(domain.StateError, err.Error())
			f.logger.Warn("feed connect failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
		} else {
			f.move(domain.StateConnected, "")
			f.openGate()
			delay = f.opts.BaseDelay
			f.logger.Info("feed connected")

			select {
			case <-ctx.Done():
				_ = f.src.Close()
				f.move(domain.StateDisconnected, "shutdown")
				return ctx.Err()
			case <-f.src.Done():
			}

			cause := f.src.Err()
			reason := "connection closed"
			if cause != nil {
				reason = cause.Error()
			}
			if cause == nil || errors.Is(cause, domain.ErrWSDisconnect) {
				f.move(domain.StateDisconnected, reason)
			} else {
				f.move(domain.StateError, reason)
			}
			f.logger.Warn("feed dropped, reconnecting",
				slog.String("reason", reason),
				slog.Duration("retry_in", delay),
			)
		}

		metrics.FeedReconnectsTotal.Inc()
		if err := f.sleep(ctx, delay); err != nil {
			f.move(domain.StateDisconnected, "shutdown")
			return err
		}
		delay = nextDelay(delay, f.opts.MaxDelay)
	}
}

func (f *BookFeed) move(next domain.ConnState, reason string) {
	if err := f.sm.Transition(next, reason); err != nil {
		f.logger.Error("feed state", slog.String("error", err.Error()))
	}
}

func (f *BookFeed) onStateChange(c domain.StateChange) {
	metrics.SetFeedState(c.To)
	if c.To.Live() {
		return
	}
	f.gate.Lock()
	f.open, f.pending = false, nil
	f.gate.Unlock()

	f.mu.Lock()
	f.latest = domain.OrderBookSnapshot{}
	f.hasSnap = false
	f.mu.Unlock()
}

// openGate starts live delivery, flushing a frame that arrived while the
// connection was still being reported as connecting.
func (f *BookFeed) openGate() {
	f.gate.Lock()
	defer f.gate.Unlock()
	if !f.sm.State().Live() {
		return
	}
	f.open = true
	if f.pending != nil {
		u := *f.pending
		f.pending = nil
		f.deliver(u)
	}
}

func (f *BookFeed) onBook(u gomarket.BookUpdate) {
	f.gate.Lock()
	defer f.gate.Unlock()
	if !f.open {
		if st := f.sm.State(); st == domain.StateConnecting || st.Live() {
			f.pending = &u
		}
		return
	}
	f.deliver(u)
}

// deliver records and fans out one update. Callers hold gate.
func (f *BookFeed) deliver(u gomarket.BookUpdate) {
	snap := u.Snapshot
	metrics.SnapshotsTotal.WithLabelValues(snap.Exchange, snap.Symbol).Inc()
	if u.Dropped > 0 {
		metrics.InvalidLevelsTotal.WithLabelValues(snap.Exchange, snap.Symbol).Add(float64(u.Dropped))
		f.logger.Debug("dropped invalid levels", slog.Int("count", u.Dropped))
	}

	f.mu.Lock()
	f.latest = snap
	f.hasSnap = true
	handlers := f.handlers
	f.mu.Unlock()

	for _, h := range handlers {
		h(snap)
	}
}

func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
