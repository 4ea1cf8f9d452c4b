package gomarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = `{"timestamp":"2025-05-04T10:39:13Z","exchange":"OKX","symbol":"BTC-USDT-SWAP",
"asks":[["95445.5","9.06"],["95446.0",1.5],["abc","1"],["95447","-5"]],
"bids":[["95445.4","1104.23"],["95440"]]}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestToDomainSnapshot(t *testing.T) {
	var msg BookMessage
	require.NoError(t, json.Unmarshal([]byte(frame), &msg))

	recv := time.Date(2025, 5, 4, 10, 39, 14, 0, time.UTC)
	snap, dropped := ToDomainSnapshot(&msg, recv)

	assert.Equal(t, "okx", snap.Exchange)
	assert.Equal(t, "BTC-USDT-SWAP", snap.Symbol)
	assert.Equal(t, 3, dropped)
	require.Len(t, snap.Asks, 2)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "1.5", snap.Asks[1].Quantity.String())
	assert.True(t, snap.Timestamp.Equal(time.Date(2025, 5, 4, 10, 39, 13, 0, time.UTC)))
	assert.Equal(t, recv, snap.ReceivedAt)
}

func TestToDomainSnapshotSkipsMalformedEntries(t *testing.T) {
	raw := `{"exchange":"OKX","symbol":"BTC-USDT-SWAP",
"asks":[["100","1"],[true,"2"],["101",{}],{"price":"102"},"103",["104","3"]],
"bids":[[null,"1"],["99","4"]]}`

	var msg BookMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	snap, dropped := ToDomainSnapshot(&msg, time.Now())
	assert.Equal(t, 5, dropped)
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, "104", snap.Asks[1].Price.String())
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "99", snap.Bids[0].Price.String())
}

func TestParseTimestamp(t *testing.T) {
	fallback := time.Unix(42, 0)
	assert.Equal(t, time.UnixMilli(1714819153123), parseTimestamp("1714819153123", fallback))
	assert.Equal(t, time.Unix(1714819153, 0), parseTimestamp("1714819153", fallback))
	assert.Equal(t, fallback, parseTimestamp("yesterday", fallback))
	assert.Equal(t, fallback, parseTimestamp("", fallback))
}

func TestWSClientReceivesBook(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		<-release
	}))
	defer srv.Close()

	client := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), testLogger())
	updates := make(chan BookUpdate, 4)
	client.OnBook(func(u BookUpdate) { updates <- u })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	select {
	case u := <-updates:
		assert.Equal(t, "BTC-USDT-SWAP", u.Snapshot.Symbol)
		assert.Equal(t, 3, u.Dropped)
	case <-ctx.Done():
		t.Fatal("no book update received")
	}
	assert.NoError(t, client.Err())

	close(release)
	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("session did not end after server closed")
	}
	assert.Error(t, client.Err())

	require.NoError(t, client.Close())
	assert.Error(t, client.Connect(ctx))
}

func TestWSClientConnectFailure(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:1/ws", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, client.Connect(ctx))
}
