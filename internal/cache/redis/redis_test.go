package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

func sampleSnapshot() domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Exchange:  "okx",
		Symbol:    "BTC-USDT-SWAP",
		Asks:      []domain.PriceLevel{{Price: decimal.RequireFromString("95445.5"), Quantity: decimal.RequireFromString("9.06")}},
		Bids:      []domain.PriceLevel{{Price: decimal.RequireFromString("95445.4"), Quantity: decimal.RequireFromString("1104.23")}},
		Timestamp: time.Date(2025, 5, 4, 10, 39, 13, 0, time.UTC),
	}
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewSnapshotCache(Wrap(db), 30*time.Second)
	ctx := context.Background()

	snap := sampleSnapshot()
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet("book:okx:BTC-USDT-SWAP", data, 30*time.Second).SetVal("OK")
	mock.ExpectGet("book:okx:BTC-USDT-SWAP").SetVal(string(data))

	require.NoError(t, cache.SetSnapshot(ctx, snap))
	got, err := cache.GetSnapshot(ctx, "okx", "BTC-USDT-SWAP")
	require.NoError(t, err)

	assert.Equal(t, snap.Symbol, got.Symbol)
	require.Len(t, got.Asks, 1)
	assert.True(t, got.Asks[0].Price.Equal(snap.Asks[0].Price))
	assert.True(t, got.Timestamp.Equal(snap.Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewSnapshotCache(Wrap(db), time.Minute)

	mock.ExpectGet("book:okx:ETH-USDT").RedisNil()
	_, err := cache.GetSnapshot(context.Background(), "okx", "ETH-USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectGet("book:okx:ETH-USDT").SetErr(errors.New("connection reset"))
	_, err = cache.GetSnapshot(context.Background(), "okx", "ETH-USDT")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBusPublish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewSignalBus(Wrap(db))

	payload := []byte(`{"state":"connected"}`)
	mock.ExpectPublish(domain.ChannelStatus, payload).SetVal(2)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelStatus, payload))

	mock.ExpectPublish(domain.BookChannel("BTC-USDT-SWAP"), payload).SetErr(errors.New("down"))
	assert.Error(t, bus.Publish(context.Background(), "ch:book:BTC-USDT-SWAP", payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:estimate:*"))
	assert.False(t, hasPattern(domain.ChannelStatus))
}

func TestRateLimiterAllow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(Wrap(db))
	now := time.UnixMicro(1_700_000_000_000_000)
	rl.now = func() time.Time { return now }

	sha := rl.slidingWindow.Hash()
	keys := []string{"ratelimit:api:1.2.3.4"}
	window := time.Minute

	mock.ExpectEvalSha(sha, keys, now.UnixMicro(), window.Microseconds(), 2).
		SetVal([]interface{}{int64(1), int64(1)})
	mock.ExpectEvalSha(sha, keys, now.UnixMicro(), window.Microseconds(), 2).
		SetVal([]interface{}{int64(0), int64(2)})

	ok, err := rl.Allow(context.Background(), "api:1.2.3.4", 2, window)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rl.Allow(context.Background(), "api:1.2.3.4", 2, window)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
