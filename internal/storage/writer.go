package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MirrorWriter saves status records from its own goroutine. Enqueue never
// blocks; a full queue drops the record and every write is bounded by a
// timeout.
type MirrorWriter struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
	queue   chan StatusRecord
	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	wg      sync.WaitGroup
}

type MirrorStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func NewMirrorWriter(store Store, queueSize int, timeout time.Duration, logger *slog.Logger) *MirrorWriter {
	if queueSize <= 0 {
		queueSize = 16
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &MirrorWriter{
		store:   store,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan StatusRecord, queueSize),
	}
}

func (w *MirrorWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case rec := <-w.queue:
				w.write(rec)
			case <-ctx.Done():
				w.drain()
				return
			}
		}
	}()
}

func (w *MirrorWriter) Enqueue(rec StatusRecord) bool {
	select {
	case w.queue <- rec:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

func (w *MirrorWriter) drain() {
	for {
		select {
		case rec := <-w.queue:
			w.write(rec)
		default:
			return
		}
	}
}

func (w *MirrorWriter) write(rec StatusRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.store.SaveStatus(ctx, rec); err != nil {
		w.failed.Add(1)
		if w.logger != nil {
			w.logger.Warn("status mirror write failed", "error", err, "instance_id", rec.InstanceID)
		}
		return
	}
	w.written.Add(1)
}

// Wait blocks until the writer goroutine has drained and exited.
func (w *MirrorWriter) Wait() {
	w.wg.Wait()
}

func (w *MirrorWriter) Stats() MirrorStats {
	return MirrorStats{Written: w.written.Load(), Dropped: w.dropped.Load(), Failed: w.failed.Load()}
}
