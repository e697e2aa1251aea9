// Package bus distributes trend results from the processing goroutine to
// independent consumers.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/barisx/Indicators/internal/model"
)

type subscriber struct {
	name string
	ch   chan model.TrendResult
}

// FanOut copies each trend result from one input channel to every named
// subscriber. A full subscriber misses the result; the classifier is
// never held up by a slow consumer.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int
	log     *slog.Logger

	// OnDrop, when set, replaces the default warning for a missed result.
	OnDrop func(name string, res model.TrendResult)
}

// New creates a FanOut whose subscriber channels hold bufSize results.
func New(bufSize int, log *slog.Logger) *FanOut {
	if log == nil {
		log = slog.Default()
	}
	return &FanOut{bufSize: bufSize, log: log}
}

// Subscribe registers name and returns its channel. Results published
// before the call are not replayed.
func (f *FanOut) Subscribe(name string) <-chan model.TrendResult {
	sub := subscriber{name: name, ch: make(chan model.TrendResult, f.bufSize)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub.ch
}

// Run publishes input until it closes or ctx ends, then closes every
// subscriber channel.
func (f *FanOut) Run(ctx context.Context, input <-chan model.TrendResult) {
	defer f.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-input:
			if !ok {
				return
			}
			f.publish(res)
		}
	}
}

func (f *FanOut) publish(res model.TrendResult) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		select {
		case sub.ch <- res:
			continue
		default:
		}
		if f.OnDrop != nil {
			f.OnDrop(sub.name, res)
			continue
		}
		f.log.Warn("subscriber full, dropping trend",
			slog.String("subscriber", sub.name),
			slog.String("key", res.Key()),
			slog.Int64("seq", res.Seq))
	}
}

func (f *FanOut) closeAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		close(sub.ch)
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats reports fill levels in subscription order.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(f.subs))
	for _, sub := range f.subs {
		stats = append(stats, ChannelStat{Name: sub.name, Len: len(sub.ch), Cap: cap(sub.ch)})
	}
	return stats
}
