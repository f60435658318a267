package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WriteFunc durably stores one full snapshot.
type WriteFunc[T any] func(ctx context.Context, snapshot T) error

// SnapshotWriter persists whole-state snapshots off the caller's path.
// Submitting never blocks; when writes fall behind only the newest pending
// snapshot is kept, since each one supersedes the last.
type SnapshotWriter[T any] struct {
	write   WriteFunc[T]
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	pending *T
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	metrics   SnapshotWriterMetrics
	onFailure func(error)
}

// SnapshotWriterMetrics provides statistics about writes.
type SnapshotWriterMetrics struct {
	Submitted uint64    `json:"submitted"`
	Written   uint64    `json:"written"`
	Coalesced uint64    `json:"coalesced"`
	Errors    uint64    `json:"errors"`
	LastWrite time.Time `json:"last_write"`
}

// NewSnapshotWriter starts the background writer. timeout bounds each write.
func NewSnapshotWriter[T any](write WriteFunc[T], timeout time.Duration, log *zap.Logger) *SnapshotWriter[T] {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &SnapshotWriter[T]{
		write:   write,
		timeout: timeout,
		log:     log,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// OnFailure registers a hook called after every failed write.
func (w *SnapshotWriter[T]) OnFailure(fn func(error)) {
	w.mu.Lock()
	w.onFailure = fn
	w.mu.Unlock()
}

// Submit queues snapshot for writing and returns immediately.
func (w *SnapshotWriter[T]) Submit(snapshot T) {
	atomic.AddUint64(&w.metrics.Submitted, 1)
	w.mu.Lock()
	if w.pending != nil {
		atomic.AddUint64(&w.metrics.Coalesced, 1)
	}
	w.pending = &snapshot
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Flush writes the pending snapshot, if any, on the calling goroutine.
func (w *SnapshotWriter[T]) Flush() error {
	w.mu.Lock()
	snap := w.pending
	w.pending = nil
	w.mu.Unlock()
	if snap == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.write(ctx, *snap); err != nil {
		atomic.AddUint64(&w.metrics.Errors, 1)
		w.mu.Lock()
		hook := w.onFailure
		w.mu.Unlock()
		if hook != nil {
			hook(err)
		}
		return err
	}
	atomic.AddUint64(&w.metrics.Written, 1)
	w.mu.Lock()
	w.metrics.LastWrite = time.Now()
	w.mu.Unlock()
	return nil
}

func (w *SnapshotWriter[T]) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.wake:
			if err := w.Flush(); err != nil {
				w.log.Error("snapshot write failed", zap.Error(err))
			}
		case <-w.done:
			if err := w.Flush(); err != nil {
				w.log.Error("final snapshot write failed", zap.Error(err))
			}
			return
		}
	}
}

// GetMetrics returns a copy of the writer counters.
func (w *SnapshotWriter[T]) GetMetrics() SnapshotWriterMetrics {
	w.mu.Lock()
	last := w.metrics.LastWrite
	w.mu.Unlock()
	return SnapshotWriterMetrics{
		Submitted: atomic.LoadUint64(&w.metrics.Submitted),
		Written:   atomic.LoadUint64(&w.metrics.Written),
		Coalesced: atomic.LoadUint64(&w.metrics.Coalesced),
		Errors:    atomic.LoadUint64(&w.metrics.Errors),
		LastWrite: last,
	}
}

// Close stops the writer after a final flush.
func (w *SnapshotWriter[T]) Close() error {
	close(w.done)
	w.wg.Wait()
	return nil
}
