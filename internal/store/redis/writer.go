package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"github.com/barisx/Indicators/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr         string // Redis address, e.g. "localhost:6379"
	Password     string
	DB           int
	StreamMaxLen int64 // approximate MAXLEN for result streams
}

// Writer publishes trend and indicator results to Redis.
type Writer struct {
	client *goredis.Client
	maxLen int64
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client, maxLen: maxLen}, nil
}

// WriteTrend publishes one trend result in a single pipeline:
// XADD trend:{ex}:{tok}, SET trend:latest:{ex}:{tok}, PUBLISH pub:trend:{ex}:{tok}.
func (w *Writer) WriteTrend(ctx context.Context, r model.TrendResult) error {
	jsonBytes := r.JSON()
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: r.StreamKey(),
		MaxLen: w.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, r.LatestKey(), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, r.PubSubChannel(), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trend pipeline %s seq=%d: %w", r.Key(), r.Seq, err)
	}
	return nil
}

// WriteIndicatorBatch writes multiple indicator results in a single pipeline.
// Committed, ready results get XADD + SET + PUBLISH; live previews are
// published only. Not-ready committed results are skipped.
func (w *Writer) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) error {
	pipe := w.client.Pipeline()
	queued := 0
	for i := range results {
		ind := &results[i]
		if !ind.Ready && !ind.Live {
			continue
		}

		jsonBytes := ind.JSON()
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
		queued++

		if ind.Live {
			pipe.Publish(ctx, ind.PubSubChannel(), jsonData)
			continue
		}

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ind.StreamKey(),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, ind.LatestKey(), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, ind.PubSubChannel(), jsonData)
	}
	if queued == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indicator batch pipeline (%d results): %w", queued, err)
	}
	return nil
}

// ReadLatestTrend loads the most recent published result for an
// instrument key. Returns (nil, nil) when none exists.
func (w *Writer) ReadLatestTrend(ctx context.Context, key string) (*model.TrendResult, error) {
	data, err := w.client.Get(ctx, "trend:latest:"+key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get latest trend %s: %w", key, err)
	}
	r, err := model.ParseTrendResult(data)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
