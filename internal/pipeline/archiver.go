package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/metrics"
)

const ndjsonContentType = "application/x-ndjson"

// ArchiverConfig tunes snapshot sampling and flushing.
type ArchiverConfig struct {
	Prefix        string
	SampleEvery   int
	FlushInterval time.Duration
	MaxBuffered   int
}

type batch struct {
	exchange string
	symbol   string
	buf      bytes.Buffer
	count    int
}

// SnapshotArchiver samples live snapshots into JSON-lines batches and ships
// them to object storage. Objects are keyed
// <prefix>/<exchange>/<symbol>/YYYY/MM/DD/<unix>-<uuid>.jsonl.
type SnapshotArchiver struct {
	writer domain.BlobWriter
	cfg    ArchiverConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	seen     uint64
	buffered int
	batches  map[string]*batch
	full     chan struct{}
}

// NewSnapshotArchiver creates an archiver writing through w.
func NewSnapshotArchiver(w domain.BlobWriter, cfg ArchiverConfig, logger *slog.Logger) *SnapshotArchiver {
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 1000
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "snapshots"
	}
	return &SnapshotArchiver{
		writer:  w,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "snapshot_archiver")),
		now:     time.Now,
		batches: make(map[string]*batch),
		full:    make(chan struct{}, 1),
	}
}

// Add offers a snapshot. Only every SampleEvery-th snapshot is kept.
func (a *SnapshotArchiver) Add(snap domain.OrderBookSnapshot) {
	line, err := json.Marshal(snap)
	if err != nil {
		a.logger.Warn("marshal snapshot", slog.String("error", err.Error()))
		return
	}

	a.mu.Lock()
	a.seen++
	if a.seen%uint64(a.cfg.SampleEvery) != 0 {
		a.mu.Unlock()
		return
	}
	key := snap.Exchange + "/" + snap.Symbol
	b, ok := a.batches[key]
	if !ok {
		b = &batch{exchange: snap.Exchange, symbol: snap.Symbol}
		a.batches[key] = b
	}
	b.buf.Write(line)
	b.buf.WriteByte('\n')
	b.count++
	a.buffered++
	isFull := a.buffered >= a.cfg.MaxBuffered
	a.mu.Unlock()

	if isFull {
		select {
		case a.full <- struct{}{}:
		default:
		}
	}
}

// Run flushes on every interval tick or when the buffer fills, and once more
// on shutdown.
func (a *SnapshotArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.Flush(flushCtx); err != nil {
				a.logger.Error("final flush failed", slog.String("error", err.Error()))
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
		case <-a.full:
		}
		if err := a.Flush(ctx); err != nil {
			a.logger.Error("flush failed", slog.String("error", err.Error()))
		}
	}
}

// Flush uploads every pending batch. Batches that fail to upload are dropped
// and reported in the returned error.
func (a *SnapshotArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.batches
	a.batches = make(map[string]*batch)
	a.buffered = 0
	a.mu.Unlock()

	var firstErr error
	for _, b := range pending {
		if b.count == 0 {
			continue
		}
		path := a.objectKey(b.exchange, b.symbol)
		if err := a.writer.Put(ctx, path, &b.buf, ndjsonContentType); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("pipeline: archive %s: %w", path, err)
			}
			continue
		}
		metrics.ArchivedSnapshotsTotal.Add(float64(b.count))
		a.logger.Info("archived snapshots",
			slog.String("path", path),
			slog.Int("count", b.count),
		)
	}
	return firstErr
}

func (a *SnapshotArchiver) objectKey(exchange, symbol string) string {
	t := a.now().UTC()
	return fmt.Sprintf("%s/%s/%s/%s/%d-%s.jsonl",
		a.cfg.Prefix, exchange, symbol, t.Format("2006/01/02"), t.Unix(), uuid.NewString())
}
