package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

type putCall struct {
	path        string
	contentType string
	body        []byte
}

type fakeWriter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.calls = append(w.calls, putCall{path: path, contentType: contentType, body: b})
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func snap(i int64) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Exchange: "okx",
		Symbol:   "BTC-USDT-SWAP",
		Asks:     []domain.PriceLevel{{Price: decimal.NewFromInt(100 + i), Quantity: decimal.NewFromInt(1)}},
	}
}

func TestArchiverSamplesAndFlushes(t *testing.T) {
	w := &fakeWriter{}
	a := NewSnapshotArchiver(w, ArchiverConfig{Prefix: "books", SampleEvery: 2}, discard())
	a.now = func() time.Time { return time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC) }

	for i := int64(1); i <= 5; i++ {
		a.Add(snap(i))
	}
	require.NoError(t, a.Flush(context.Background()))
	require.Len(t, w.calls, 1)

	call := w.calls[0]
	assert.Regexp(t, regexp.MustCompile(`^books/okx/BTC-USDT-SWAP/2025/05/04/1746352800-[0-9a-f-]{36}\.jsonl$`), call.path)
	assert.Equal(t, ndjsonContentType, call.contentType)

	var prices []string
	sc := bufio.NewScanner(bytes.NewReader(call.body))
	for sc.Scan() {
		var s domain.OrderBookSnapshot
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		prices = append(prices, s.Asks[0].Price.String())
	}
	assert.Equal(t, []string{"102", "104"}, prices)

	// Nothing pending means nothing uploaded.
	require.NoError(t, a.Flush(context.Background()))
	assert.Len(t, w.calls, 1)
}

func TestArchiverFlushError(t *testing.T) {
	a := NewSnapshotArchiver(&fakeWriter{err: errors.New("denied")}, ArchiverConfig{}, discard())
	a.Add(snap(1))
	assert.ErrorContains(t, a.Flush(context.Background()), "denied")
}

func TestArchiverRunFlushesWhenFull(t *testing.T) {
	w := &fakeWriter{}
	a := NewSnapshotArchiver(w, ArchiverConfig{MaxBuffered: 2, FlushInterval: time.Hour}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Add(snap(1))
	a.Add(snap(2))
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.calls) == 1
	}, time.Second, 5*time.Millisecond)

	a.Add(snap(3))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.calls, 2, "shutdown flushes the remainder")
}

type fakeDeleter struct {
	before time.Time
	n      int64
}

func (d *fakeDeleter) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	d.before = before
	return d.n, nil
}

func TestPrunerRun(t *testing.T) {
	d := &fakeDeleter{n: 12}
	p := NewPruner(d, 72*time.Hour, discard())
	now := time.Date(2025, 5, 4, 3, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, now.Add(-72*time.Hour), d.before)
}

func TestNextCronTime(t *testing.T) {
	base := time.Date(2025, 5, 4, 10, 7, 30, 0, time.UTC) // Sunday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 5, 4, 10, 8, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 5, 4, 10, 15, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 5, 5, 3, 0, 0, 0, time.UTC)},
		{"30 9 * * 1-5", time.Date(2025, 5, 5, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 6 *", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"* * *", "61 * * * *", "*/0 * * * *", "a * * * *", "5-1 * * * *"} {
		_, err := nextCronTime(bad, base)
		assert.Error(t, err, bad)
	}
}
