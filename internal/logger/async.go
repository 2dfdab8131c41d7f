package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from log writing with a buffered
// channel and a worker pool. Handle never blocks: when the buffer is full
// the record is dropped and counted, and the count is reported once on
// Close.
type AsyncHandler struct {
	inner   slog.Handler
	buf     chan slog.Record
	wg      *sync.WaitGroup
	dropped *atomic.Int64
	once    *sync.Once
}

// NewAsyncHandler creates an AsyncHandler with the given buffer capacity and
// worker count, both clamped to at least 1.
func NewAsyncHandler(inner slog.Handler, bufferSize, workers int) *AsyncHandler {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	h := &AsyncHandler{
		inner:   inner,
		buf:     make(chan slog.Record, bufferSize),
		wg:      &sync.WaitGroup{},
		dropped: &atomic.Int64{},
		once:    &sync.Once{},
	}
	for range workers {
		h.wg.Add(1)
		go h.pump()
	}
	return h
}

func (h *AsyncHandler) pump() {
	defer h.wg.Done()
	for rec := range h.buf {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the buffer is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.buf <- rec:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a new AsyncHandler sharing the same buffer but wrapping a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithAttrs(attrs),
		buf:     h.buf,
		wg:      h.wg,
		dropped: h.dropped,
		once:    h.once,
	}
}

// WithGroup returns a new AsyncHandler sharing the same buffer but wrapping a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithGroup(name),
		buf:     h.buf,
		wg:      h.wg,
		dropped: h.dropped,
		once:    h.once,
	}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close drains the buffer, stops the workers and, when records were lost,
// writes one final synchronous record with the drop count. Safe to call
// more than once.
func (h *AsyncHandler) Close() {
	h.once.Do(func() {
		close(h.buf)
		h.wg.Wait()
		if n := h.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
			rec.AddAttrs(slog.Int64("count", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}
