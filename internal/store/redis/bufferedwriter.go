package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/barisx/Indicators/internal/model"
)

// TrendWriter publishes one trend result. *Writer implements it.
type TrendWriter interface {
	WriteTrend(ctx context.Context, r model.TrendResult) error
}

// BufferedWriter wraps a TrendWriter with a circuit breaker. Results that
// cannot be written are kept in order and retried before newer ones, so
// consumers of the result stream never see an instrument's ticks reordered.
// When the buffer is full the oldest result is dropped.
type BufferedWriter struct {
	writer TrendWriter
	cb     *CircuitBreaker

	mu     sync.Mutex
	buffer []model.TrendResult
	maxBuf int

	OnBuffer func()          // a result was buffered
	OnDrop   func()          // the oldest buffered result was dropped
	OnFlush  func(count int) // buffered results were written
}

// NewBufferedWriter creates a BufferedWriter. maxBufferSize <= 0 means 10000.
func NewBufferedWriter(w TrendWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedWriter{
		writer: w,
		cb:     cb,
		buffer: make([]model.TrendResult, 0, 256),
		maxBuf: maxBufferSize,
	}
}

// WriteTrend writes r through the breaker, or buffers it when the breaker
// is open or older results are still pending. Only a write error from a
// call the breaker let through is returned; r is buffered in that case too.
func (bw *BufferedWriter) WriteTrend(ctx context.Context, r model.TrendResult) error {
	if bw.PendingCount() > 0 {
		bw.enqueue(r)
		bw.Flush(ctx)
		return nil
	}

	err := bw.cb.Execute(func() error { return bw.writer.WriteTrend(ctx, r) })
	if err == nil {
		return nil
	}
	bw.enqueue(r)
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

func (bw *BufferedWriter) enqueue(r model.TrendResult) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	bw.buffer = append(bw.buffer, r)
	bw.trimLocked()
	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

func (bw *BufferedWriter) trimLocked() {
	for len(bw.buffer) > bw.maxBuf {
		bw.buffer = bw.buffer[1:]
		if bw.OnDrop != nil {
			bw.OnDrop()
		}
	}
}

// Flush writes buffered results oldest first and stops at the first
// failure. Returns the number written.
func (bw *BufferedWriter) Flush(ctx context.Context) int {
	bw.mu.Lock()
	pending := bw.buffer
	bw.buffer = make([]model.TrendResult, 0, 256)
	bw.mu.Unlock()

	n := 0
	for n < len(pending) {
		r := pending[n]
		if err := bw.cb.Execute(func() error { return bw.writer.WriteTrend(ctx, r) }); err != nil {
			break
		}
		n++
	}

	if n < len(pending) {
		bw.mu.Lock()
		rest := pending[n:len(pending):len(pending)]
		bw.buffer = append(rest, bw.buffer...)
		bw.trimLocked()
		bw.mu.Unlock()
	}

	if n > 0 {
		log.Printf("[buffered-writer] flushed %d buffered results", n)
		if bw.OnFlush != nil {
			bw.OnFlush(n)
		}
	}
	return n
}

// Run writes results from in until ctx is cancelled or in is closed,
// retrying buffered results every retryInterval.
func (bw *BufferedWriter) Run(ctx context.Context, in <-chan model.TrendResult, retryInterval time.Duration) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if bw.PendingCount() > 0 {
				bw.Flush(ctx)
			}
		case r, ok := <-in:
			if !ok {
				return
			}
			if err := bw.WriteTrend(ctx, r); err != nil {
				log.Printf("[buffered-writer] %v (buffered)", err)
			}
		}
	}
}

// PendingCount returns the number of buffered results.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
