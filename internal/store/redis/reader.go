package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/barisx/Indicators/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string        // consumer group name, e.g. "trendengine"
	ConsumerName  string        // unique consumer name, e.g. hostname
	BatchSize     int64         // XREADGROUP COUNT
	Block         time.Duration // XREADGROUP BLOCK
}

// Reader reads line-detector frames from Redis Streams via Consumer Groups.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
	batchSize     int64
	block         time.Duration

	// OnBadMessage is called for every entry that could not be decoded.
	// The entry is ACKed regardless so it cannot poison the group.
	OnBadMessage func(stream, id string, err error)
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	group := cfg.ConsumerGroup
	if group == "" {
		group = "trendengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	block := cfg.Block
	if block <= 0 {
		block = 2 * time.Second
	}

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
		batchSize:     batch,
		block:         block,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// EnsureConsumerGroup creates the consumer group on each stream if it does
// not exist yet. startID is "$" for new frames only or "0" for the backlog.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string, startID string) error {
	if startID == "" {
		startID = "$"
	}
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, startID).Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// StreamKeys maps "EXCHANGE:TOKEN" instrument keys to frame stream keys.
func StreamKeys(instruments []string) []string {
	streams := make([]string, 0, len(instruments))
	for _, k := range instruments {
		streams = append(streams, model.FrameStreamPrefix+k)
	}
	return streams
}

// DiscoverFrameStreams scans Redis for existing frame streams.
func (r *Reader) DiscoverFrameStreams(ctx context.Context) ([]string, error) {
	var (
		cursor  uint64
		streams []string
	)
	for {
		keys, next, err := r.client.ScanType(ctx, cursor, model.FrameStreamPrefix+"*", 200, "stream").Result()
		if err != nil {
			return nil, fmt.Errorf("scan frame streams: %w", err)
		}
		streams = append(streams, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(streams)
	return streams, nil
}

// StreamSet is the set of frame streams a consumer reads. Discovery may
// grow it while ConsumeFrames is running; the consumer picks up additions
// on its next read.
type StreamSet struct {
	mu      sync.RWMutex
	streams []string
	seen    map[string]bool
}

// NewStreamSet creates a set holding streams.
func NewStreamSet(streams ...string) *StreamSet {
	s := &StreamSet{seen: make(map[string]bool)}
	s.Add(streams...)
	return s
}

// Add inserts streams and returns the ones that were not already present.
func (s *StreamSet) Add(streams ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, st := range streams {
		if st == "" || s.seen[st] {
			continue
		}
		s.seen[st] = true
		s.streams = append(s.streams, st)
		added = append(added, st)
	}
	return added
}

// List returns a copy of the current streams.
func (s *StreamSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.streams))
	copy(out, s.streams)
	return out
}

// Len returns the number of streams.
func (s *StreamSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// readArgs builds the XREADGROUP stream args: [s1, s2, ..., ">", ">", ...].
func readArgs(streams []string) []string {
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}
	return args
}

// errNoData is returned by decodeMessage for entries without a data field.
var errNoData = errors.New("missing data field")

// decodeMessage extracts the frame from a stream entry's "data" field.
func decodeMessage(msg goredis.XMessage) (model.Frame, error) {
	var raw []byte
	switch v := msg.Values["data"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return model.Frame{}, errNoData
	}
	return model.ParseFrame(raw)
}

// ConsumeFrames reads frames from every stream in set using the consumer
// group and sends them to out, in stream order per instrument. Each entry
// is ACKed after it has been handed off. Returns when ctx is cancelled.
func (r *Reader) ConsumeFrames(ctx context.Context, set *StreamSet, out chan<- model.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams := set.List()
		if len(streams) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.block):
			}
			continue
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  readArgs(streams),
			Count:    r.batchSize,
			Block:    r.block,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			if err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// deliver decodes msgs, hands them to out and ACKs each one.
func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.Frame) error {
	for _, msg := range msgs {
		f, err := decodeMessage(msg)
		if err != nil {
			if r.OnBadMessage != nil {
				r.OnBadMessage(stream, msg.ID, err)
			} else {
				log.Printf("[redis-reader] bad frame %s/%s: %v", stream, msg.ID, err)
			}
			// ACK even on bad message to avoid poison pill
			r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
			continue
		}

		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
	}
	return nil
}

// RecoverPending redelivers this consumer's unACKed frames from a previous
// run before live consumption starts. Returns the number recovered.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Frame) (int, error) {
	total := 0
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Start:    "-",
				End:      "+",
				Count:    r.batchSize,
				Consumer: r.consumerName,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}

			if err := r.deliver(ctx, stream, claimed, out); err != nil {
				return total, err
			}
			total += len(claimed)

			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return total, nil
}

// ReclaimStaleMessages XCLAIMs PEL entries idle longer than minIdle that
// belong to other consumers in the group.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream string, minIdle time.Duration, batchSize int64) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}

	log.Printf("[redis-reader] reclaimed %d stale PEL entries from %s", len(claimed), stream)
	return claimed, nil
}

// StartPELReclaimer periodically reclaims frames stuck with dead consumers
// and redelivers them to out. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, set *StreamSet, interval, minIdle time.Duration, out chan<- model.Frame, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range set.List() {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, minIdle, 50)
				if err != nil {
					log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
					continue
				}
				if err := r.deliver(ctx, stream, claimed, out); err != nil {
					return
				}
				total += len(claimed)
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
