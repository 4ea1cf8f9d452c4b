package gomarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next frame or pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// BookUpdate carries a decoded snapshot and the number of wire entries that
// had to be dropped while decoding it.
type BookUpdate struct {
	Snapshot domain.OrderBookSnapshot
	Dropped  int
}

// BookHandler is called for every full book frame.
type BookHandler func(BookUpdate)

// WSClient is a single-connection client for the GoMarket L2 stream, e.g.
// "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP".
// It never reconnects on its own. Callers watch Done and call Connect again.
type WSClient struct {
	url    string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
	err    error
	closed bool

	handlerMu sync.RWMutex
	handlers  []BookHandler
}

// NewWSClient creates a client for wsURL.
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	done := make(chan struct{})
	close(done)
	return &WSClient{
		url:    wsURL,
		logger: logger.With(slog.String("component", "gomarket_ws")),
		now:    time.Now,
		done:   done,
	}
}

// URL returns the endpoint this client dials.
func (w *WSClient) URL() string { return w.url }

// Connect dials the stream and starts the read and ping loops. Any previous
// session is torn down first.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("gomarket/ws: %w", domain.ErrWSDisconnect)
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("gomarket/ws: connect: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	w.conn = conn
	w.err = nil
	w.done = make(chan struct{})

	go w.readLoop(conn, w.done)
	go w.pingLoop(conn, w.done)
	return nil
}

// Done is closed when the current session ends for any reason.
func (w *WSClient) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Err returns why the last session ended, or nil while it is alive.
func (w *WSClient) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// OnBook registers a handler for decoded book frames.
func (w *WSClient) OnBook(h BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Close ends the current session and prevents further connects.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.conn == nil {
		return nil
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = w.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	var readErr error
	defer func() {
		_ = conn.Close()
		w.mu.Lock()
		if w.closed {
			readErr = domain.ErrWSDisconnect
		}
		if w.done == done {
			w.err = fmt.Errorf("gomarket/ws: read: %w", readErr)
			w.conn = nil
		}
		w.mu.Unlock()
		close(done)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = errors.Join(domain.ErrWSDisconnect, err)
			}
			readErr = err
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage decodes a frame and dispatches it. Frames that are not book
// messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var msg BookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.Debug("dropping undecodable frame", slog.String("error", err.Error()))
		return
	}
	if msg.Asks == nil && msg.Bids == nil {
		return
	}

	snap, dropped := ToDomainSnapshot(&msg, w.now())
	update := BookUpdate{Snapshot: snap, Dropped: dropped}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}
