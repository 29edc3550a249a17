package repository

import (
	"context"
	"time"

	"github.com/helpinghands/auth-service/internal/util/logger"
)

// AsyncWriter runs fire-and-forget durable writes on a single background
// goroutine behind a bounded queue. Enqueue never blocks; when the queue
// is full the write is dropped with a log line, since durable rows are a
// recovery aid rather than the source of truth.
type AsyncWriter struct {
	ch   chan func(ctx context.Context) error
	stop chan struct{}
	done chan struct{}
}

func NewAsyncWriter(capacity int) *AsyncWriter {
	if capacity <= 0 {
		capacity = 256
	}
	w := &AsyncWriter{
		ch:   make(chan func(ctx context.Context) error, capacity),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue schedules one write. Returns false when the queue was full.
func (w *AsyncWriter) Enqueue(fn func(ctx context.Context) error) bool {
	select {
	case w.ch <- fn:
		return true
	default:
		logger.Warnf("async writer queue full, dropping write")
		return false
	}
}

// Stop drains pending writes, bounded by ctx.
func (w *AsyncWriter) Stop(ctx context.Context) {
	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
}

func (w *AsyncWriter) loop() {
	defer close(w.done)
	for {
		select {
		case fn := <-w.ch:
			w.run(fn)
		case <-w.stop:
			for {
				select {
				case fn := <-w.ch:
					w.run(fn)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) run(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Errorf("async write failed: %v", err)
	}
}
