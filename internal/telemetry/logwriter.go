package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gateway "github.com/amppool/gateway/internal"
)

const (
	defaultLogWriterWorkers = 5
	logQueueBufferSize      = 1000
	logWriteTimeout         = 10 * time.Second
)

// LogStore is the persistence interface the log writer pool drains into.
type LogStore interface {
	InsertLog(ctx context.Context, rec *gateway.RequestLog) error
}

// LogWriter is a bounded pool of workers draining a single shared queue of
// request-log rows. Unlike a drop-on-full recorder, Enqueue blocks until the
// row is admitted -- queueing is acceptable backpressure, silently losing a
// row is not.
type LogWriter struct {
	store   LogStore
	ch      chan *gateway.RequestLog
	workers int
	metrics *Metrics
}

// NewLogWriter creates a LogWriter backed by store with the given worker
// count (defaulting to 5 when workers <= 0).
func NewLogWriter(store LogStore, workers int, metrics *Metrics) *LogWriter {
	if workers <= 0 {
		workers = defaultLogWriterWorkers
	}
	return &LogWriter{
		store:   store,
		ch:      make(chan *gateway.RequestLog, logQueueBufferSize),
		workers: workers,
		metrics: metrics,
	}
}

// Name returns the worker identifier.
func (w *LogWriter) Name() string { return "log_writer" }

// Enqueue admits rec to the shared queue, blocking until there is room or
// ctx is done. It never drops a row silently.
func (w *LogWriter) Enqueue(ctx context.Context, rec *gateway.RequestLog) error {
	select {
	case w.ch <- rec:
		w.reportDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled, at which
// point it drains whatever remains in the queue before returning.
func (w *LogWriter) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (w *LogWriter) loop(ctx context.Context) {
	for {
		select {
		case rec := <-w.ch:
			w.write(rec)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain flushes whatever is already queued without accepting new admits;
// called once per worker on shutdown.
func (w *LogWriter) drain() {
	for {
		select {
		case rec := <-w.ch:
			w.write(rec)
		default:
			return
		}
	}
}

func (w *LogWriter) write(rec *gateway.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
	defer cancel()

	if err := w.store.InsertLog(ctx, rec); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "request log insert failed",
			slog.String("request_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	w.reportDepth()
}

func (w *LogWriter) reportDepth() {
	if w.metrics != nil {
		w.metrics.LogQueueDepth.Set(float64(len(w.ch)))
	}
}
