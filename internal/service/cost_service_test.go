package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/estimator"
	"github.com/alanyoungcy/bookcost/internal/walker"
)

type fakeBus struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = make(map[string][][]byte)
	}
	b.msgs[channel] = append(b.msgs[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs[channel])
}

type fakeCache struct{ sets atomic.Int32 }

func (c *fakeCache) SetSnapshot(context.Context, domain.OrderBookSnapshot) error {
	c.sets.Add(1)
	return nil
}

func (c *fakeCache) GetSnapshot(context.Context, string, string) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, domain.ErrNotFound
}

type fakeStore struct {
	mu      sync.Mutex
	inserts []domain.CostEstimate
}

func (s *fakeStore) Insert(_ context.Context, est domain.CostEstimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, est)
	return nil
}

func (s *fakeStore) GetByID(context.Context, string) (domain.CostEstimate, error) {
	return domain.CostEstimate{}, domain.ErrNotFound
}

func (s *fakeStore) List(context.Context, string, domain.ListOpts) ([]domain.CostEstimate, error) {
	return nil, nil
}

func (s *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeSink struct{ adds atomic.Int32 }

func (s *fakeSink) Add(domain.OrderBookSnapshot) { s.adds.Add(1) }

// blockingCache parks SetSnapshot until release is closed.
type blockingCache struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingCache) SetSnapshot(context.Context, domain.OrderBookSnapshot) error {
	c.entered <- struct{}{}
	<-c.release
	return nil
}

func (c *blockingCache) GetSnapshot(context.Context, string, string) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, domain.ErrNotFound
}

// gatedEstimator walks the book but holds the first call until release is
// closed.
type gatedEstimator struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedEstimator() *gatedEstimator {
	return &gatedEstimator{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedEstimator) Name() string { return domain.SourceExternal }

func (g *gatedEstimator) Estimate(_ context.Context, snap domain.OrderBookSnapshot, req domain.TradeRequest) (domain.CostEstimate, error) {
	if g.calls.Add(1) == 1 {
		g.started <- struct{}{}
		<-g.release
	}
	est := walker.Estimate(snap, req)
	est.Source = domain.SourceExternal
	return est, nil
}

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func book(bestAsk int64) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Exchange: "okx",
		Symbol:   "BTC-USDT-SWAP",
		Asks: []domain.PriceLevel{
			{Price: decimal.NewFromInt(bestAsk), Quantity: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(bestAsk + 1), Quantity: decimal.NewFromInt(2)},
		},
		Bids: []domain.PriceLevel{{Price: decimal.NewFromInt(bestAsk - 1), Quantity: decimal.NewFromInt(3)}},
	}
}

func tradeReq(qty int64) domain.TradeRequest {
	return domain.TradeRequest{
		Symbol:   "BTC-USDT-SWAP",
		Quantity: decimal.NewFromInt(qty),
		FeeRate:  decimal.RequireFromString("0.001"),
	}
}

func connect(ctx context.Context, svc *CostService) {
	svc.HandleState(ctx, domain.StateChange{From: domain.StateDisconnected, To: domain.StateConnecting})
	svc.HandleState(ctx, domain.StateChange{From: domain.StateConnecting, To: domain.StateConnected})
}

func TestCostServiceWalkInline(t *testing.T) {
	ctx := context.Background()
	bus, cache, store, sink := &fakeBus{}, &fakeCache{}, &fakeStore{}, &fakeSink{}
	svc := NewCostService(Deps{
		Estimator: estimator.NewWalkEstimator(),
		Bus:       bus, Cache: cache, Store: store, Sink: sink,
	}, tradeReq(2), discard())

	var heard []domain.CostEstimate
	svc.OnEstimate(func(e domain.CostEstimate) { heard = append(heard, e) })

	connect(ctx, svc)
	svc.HandleSnapshot(ctx, book(100))

	est, err := svc.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), est.Sequence)
	assert.NotEmpty(t, est.ID)
	assert.True(t, est.VWAP.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, est.FullyFilled)
	assert.False(t, est.ComputedAt.IsZero())

	assert.Equal(t, int32(1), cache.sets.Load())
	assert.Equal(t, int32(1), sink.adds.Load())
	assert.Len(t, store.inserts, 1)
	assert.Len(t, heard, 1)
	assert.Equal(t, 1, bus.count(domain.BookChannel("BTC-USDT-SWAP")))
	assert.Equal(t, 1, bus.count(domain.EstimateChannel("BTC-USDT-SWAP")))
	assert.Equal(t, 2, bus.count(domain.ChannelStatus))

	var evt bookEvent
	require.NoError(t, json.Unmarshal(bus.msgs[domain.BookChannel("BTC-USDT-SWAP")][0], &evt))
	assert.True(t, evt.Spread.Equal(decimal.NewFromInt(1)))
}

func TestCostServiceIgnoresSnapshotsWhileDown(t *testing.T) {
	ctx := context.Background()
	svc := NewCostService(Deps{Estimator: estimator.NewWalkEstimator()}, tradeReq(1), discard())

	svc.HandleSnapshot(ctx, book(100))
	_, err := svc.Latest()
	assert.ErrorIs(t, err, domain.ErrStale)
	_, err = svc.Snapshot()
	assert.ErrorIs(t, err, domain.ErrStale)
}

func TestCostServiceDropsStateOnDisconnect(t *testing.T) {
	ctx := context.Background()
	svc := NewCostService(Deps{Estimator: estimator.NewWalkEstimator()}, tradeReq(1), discard())
	connect(ctx, svc)
	svc.HandleSnapshot(ctx, book(100))
	_, err := svc.Latest()
	require.NoError(t, err)

	svc.HandleState(ctx, domain.StateChange{From: domain.StateConnected, To: domain.StateError, Reason: "read timeout"})
	_, err = svc.Latest()
	assert.ErrorIs(t, err, domain.ErrStale)

	svc.HandleState(ctx, domain.StateChange{From: domain.StateError, To: domain.StateConnecting})
	svc.HandleState(ctx, domain.StateChange{From: domain.StateConnecting, To: domain.StateConnected})
	_, err = svc.Latest()
	assert.ErrorIs(t, err, domain.ErrNoSnapshot, "the old estimate must not come back")

	svc.HandleSnapshot(ctx, book(101))
	est, err := svc.Latest()
	require.NoError(t, err)
	assert.True(t, est.BestAsk.Equal(decimal.NewFromInt(101)))
}

func TestCostServiceLastRequestWins(t *testing.T) {
	ctx := context.Background()
	gate := newGatedEstimator()
	svc := NewCostService(Deps{Estimator: gate}, tradeReq(1), discard())
	connect(ctx, svc)

	svc.HandleSnapshot(ctx, book(100))
	<-gate.started
	svc.HandleSnapshot(ctx, book(200))
	require.Eventually(t, func() bool {
		_, err := svc.Latest()
		return err == nil
	}, time.Second, 5*time.Millisecond)

	close(gate.release)
	svc.Wait()

	est, err := svc.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), est.Sequence)
	assert.True(t, est.BestAsk.Equal(decimal.NewFromInt(200)), "slow stale result must not overwrite the newer one")
}

func TestCostServiceRequestChangeDuringSnapshotFanOut(t *testing.T) {
	ctx := context.Background()
	cache := &blockingCache{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewCostService(Deps{Estimator: estimator.NewWalkEstimator(), Cache: cache}, tradeReq(1), discard())
	connect(ctx, svc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.HandleSnapshot(ctx, book(100))
	}()
	<-cache.entered

	est, err := svc.SetRequest(ctx, tradeReq(3))
	require.NoError(t, err)
	assert.True(t, est.RequestedQuantity.Equal(decimal.NewFromInt(3)))

	close(cache.release)
	<-done

	latest, err := svc.Latest()
	require.NoError(t, err)
	assert.True(t, latest.RequestedQuantity.Equal(decimal.NewFromInt(3)), "estimate for the replaced request must not win")
	assert.Equal(t, est.ID, latest.ID)
}

func TestCostServiceDiscardsInFlightAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	gate := newGatedEstimator()
	svc := NewCostService(Deps{Estimator: gate}, tradeReq(1), discard())
	connect(ctx, svc)

	svc.HandleSnapshot(ctx, book(100))
	<-gate.started
	svc.HandleState(ctx, domain.StateChange{From: domain.StateConnected, To: domain.StateDisconnected})
	close(gate.release)
	svc.Wait()

	svc.HandleState(ctx, domain.StateChange{From: domain.StateDisconnected, To: domain.StateConnecting})
	svc.HandleState(ctx, domain.StateChange{From: domain.StateConnecting, To: domain.StateConnected})
	_, err := svc.Latest()
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestCostServiceSetRequest(t *testing.T) {
	ctx := context.Background()
	svc := NewCostService(Deps{Estimator: estimator.NewWalkEstimator()}, tradeReq(1), discard())

	bad := tradeReq(1)
	bad.FeeRate = decimal.NewFromInt(2)
	_, err := svc.SetRequest(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.SetRequest(ctx, tradeReq(2))
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
	assert.True(t, svc.Request().Quantity.Equal(decimal.NewFromInt(2)), "request is kept without a book")

	connect(ctx, svc)
	svc.HandleSnapshot(ctx, book(100))

	noSymbol := tradeReq(3)
	noSymbol.Symbol = ""
	est, err := svc.SetRequest(ctx, noSymbol)
	require.NoError(t, err)
	assert.True(t, est.FilledQuantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "BTC-USDT-SWAP", svc.Request().Symbol)

	latest, err := svc.Latest()
	require.NoError(t, err)
	assert.Equal(t, est.ID, latest.ID)
}

func TestCostServiceQuoteIsPure(t *testing.T) {
	ctx := context.Background()
	svc := NewCostService(Deps{Estimator: estimator.NewWalkEstimator()}, tradeReq(1), discard())

	_, err := svc.Quote(tradeReq(1))
	assert.ErrorIs(t, err, domain.ErrStale)

	connect(ctx, svc)
	svc.HandleSnapshot(ctx, book(100))
	before, err := svc.Latest()
	require.NoError(t, err)

	q, err := svc.Quote(tradeReq(10))
	require.NoError(t, err)
	assert.False(t, q.FullyFilled)
	assert.True(t, q.FilledQuantity.Equal(decimal.NewFromInt(3)))

	after, err := svc.Latest()
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.True(t, svc.Request().Quantity.Equal(decimal.NewFromInt(1)))
}
