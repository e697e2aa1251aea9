// Package trendengine wires the frame consumer, the per-instrument
// classifiers and smoothers, and the result publishers into one service.
package trendengine

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/barisx/Indicators/internal/bus"
	"github.com/barisx/Indicators/internal/config"
	"github.com/barisx/Indicators/internal/gateway"
	"github.com/barisx/Indicators/internal/indicator"
	"github.com/barisx/Indicators/internal/metrics"
	"github.com/barisx/Indicators/internal/model"
	"github.com/barisx/Indicators/internal/notification"
	redisstore "github.com/barisx/Indicators/internal/store/redis"
)

// Service is the top-level orchestrator for the trend engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server

	reader   *redisstore.Reader
	writer   *redisstore.Writer
	buffered *redisstore.BufferedWriter

	processor *Processor
	fanout    *bus.FanOut
	hub       *gateway.Hub
	alerts    *notification.Dispatcher // nil when no channel is configured

	streams  *redisstore.StreamSet
	frameCh  chan model.Frame
	resultCh chan model.TrendResult

	wg sync.WaitGroup
}

// New creates a Service from cfg. It connects to Redis and builds the
// smoother engine; nothing runs until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := indicator.NewEngine(cfg.Indicators)
	if err != nil {
		return nil, fmt.Errorf("indicator engine: %w", err)
	}

	svc := &Service{
		cfg:      cfg,
		log:      logger,
		prom:     metrics.NewMetrics(),
		health:   metrics.NewHealthStatus(),
		streams:  redisstore.NewStreamSet(),
		frameCh:  make(chan model.Frame, 5000),
		resultCh: make(chan model.TrendResult, cfg.FanoutBuffer),
	}
	svc.processor = NewProcessor(cfg.Classifier.TrendConfig(), cfg.KDiffCap, engine, svc.prom, logger)

	// ---- Connect to Redis ----
	svc.reader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		ConsumerGroup: cfg.Redis.ConsumerGroup,
		ConsumerName:  cfg.Redis.ConsumerName,
		BatchSize:     cfg.Redis.BatchSize,
		Block:         cfg.Redis.Block,
	})
	if err != nil {
		return nil, err
	}
	svc.reader.OnBadMessage = func(stream, id string, err error) {
		svc.prom.FrameErrors.WithLabelValues("decode").Inc()
		svc.log.Warn("undecodable frame", slog.String("stream", stream), slog.String("id", id), slog.Any("error", err))
	}

	svc.writer, err = redisstore.New(redisstore.WriterConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		StreamMaxLen: cfg.Redis.StreamMaxLen,
	})
	if err != nil {
		svc.reader.Close()
		return nil, err
	}

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.BreakerState) {
		log.Printf("[trendengine] redis publisher circuit %s -> %s", from, to)
	}
	svc.buffered = redisstore.NewBufferedWriter(timedWriter{w: svc.writer, prom: svc.prom}, cb, 0)

	// ---- Result bus ----
	svc.fanout = bus.New(cfg.FanoutBuffer, svc.log)
	svc.fanout.OnDrop = func(name string, _ model.TrendResult) {
		svc.prom.FanoutDropsTotal.WithLabelValues(name).Inc()
	}

	svc.hub = gateway.NewHub(gateway.HubConfig{
		ClientBuffer: cfg.HTTP.ClientBuffer,
		PingInterval: cfg.HTTP.PingInterval,
	})
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }

	if cfg.Notify.Enabled() {
		svc.alerts = notification.NewDispatcher(cfg.Notify.Timeout, notifiers(cfg.Notify)...)
		svc.alerts.OnSent = func(a notification.Alert, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			svc.prom.AlertsTotal.WithLabelValues(result).Inc()
		}
	}

	svc.server = metrics.NewServer(cfg.HTTP.Addr, svc.health)
	gateway.RegisterRoutes(svc.server, svc.hub, svc.writer.ReadLatestTrend)

	names := make([]string, 0, len(cfg.Indicators))
	for _, ic := range cfg.Indicators {
		names = append(names, ic.Name())
	}
	svc.health.SetSmoothers(names)
	svc.health.SetRedisConnected(true)

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.log.Info("starting trend engine",
		slog.String("redis", cfg.Redis.Addr),
		slog.String("http", cfg.HTTP.Addr),
		slog.Int("instruments", len(cfg.Instruments)))

	// ---- Discover / build streams ----
	initial, err := svc.buildStreams(ctx)
	if err != nil {
		return err
	}
	if err := svc.addStreams(ctx, initial); err != nil {
		return err
	}
	svc.log.Info("consuming frame streams", slog.Int("count", svc.streams.Len()), slog.Any("streams", svc.streams.List()))

	// ---- Start subsystems, downstream first ----
	redisSub := svc.fanout.Subscribe("redis")
	wsSub := svc.fanout.Subscribe("ws")

	svc.server.Start()
	svc.goRun(func() { svc.buffered.Run(ctx, redisSub, time.Second) })
	svc.goRun(func() { svc.hub.Run(ctx, wsSub) })
	if svc.alerts != nil {
		alertSub := svc.fanout.Subscribe("notify")
		svc.goRun(func() { svc.alerts.Run(ctx, alertSub) })
	}
	svc.goRun(func() { svc.fanout.Run(ctx, svc.resultCh) })
	svc.goRun(func() { svc.processLoop(ctx) })

	// ---- Recover pending frames from a previous run ----
	if n, err := svc.reader.RecoverPending(ctx, svc.streams.List(), svc.frameCh); err != nil {
		svc.log.Warn("pending recovery interrupted", slog.Any("error", err))
	} else if n > 0 {
		svc.prom.PELMessagesReclaimed.Add(float64(n))
		svc.log.Info("recovered pending frames", slog.Int("count", n))
	}

	svc.goRun(func() { svc.consume(ctx) })
	svc.goRun(func() {
		svc.reader.StartPELReclaimer(ctx, svc.streams, cfg.Redis.PELInterval, cfg.Redis.PELMinIdle, svc.frameCh,
			func(count int) {
				svc.prom.PELMessagesReclaimed.Add(float64(count))
				log.Printf("[trendengine] reclaimed %d stale PEL frames", count)
			})
	})
	if len(cfg.Instruments) == 0 {
		svc.goRun(func() { svc.discoverLoop(ctx) })
	}
	svc.goRun(func() { svc.saturationLoop(ctx) })
	svc.health.StartLivenessChecker(ctx, svc.reader.Client(), cfg.HTTP.LivenessPeriod)

	svc.log.Info("trend engine running")

	<-ctx.Done()

	svc.shutdown()
	return nil
}

// notifiers builds the alert channels cfg enables.
func notifiers(cfg config.NotifyConfig) []notification.Notifier {
	var ns []notification.Notifier
	if cfg.Log {
		ns = append(ns, notification.NewLogNotifier())
	}
	if cfg.WebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramToken != "" {
		ns = append(ns, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	return ns
}

func (svc *Service) goRun(fn func()) {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		fn()
	}()
}

// shutdown stops the HTTP server, drains pending writes and closes Redis.
func (svc *Service) shutdown() {
	svc.log.Info("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.server.Stop(shutCtx)
	svc.wg.Wait()

	if n := svc.buffered.PendingCount(); n > 0 {
		flushed := svc.buffered.Flush(shutCtx)
		svc.log.Info("flushed buffered trend results", slog.Int("flushed", flushed), slog.Int("pending", n))
	}

	svc.writer.Close()
	svc.reader.Close()
	svc.log.Info("shutdown complete")
}

// buildStreams returns the configured instrument streams, or the streams
// currently present in Redis when no instruments are configured.
func (svc *Service) buildStreams(ctx context.Context) ([]string, error) {
	if len(svc.cfg.Instruments) > 0 {
		return redisstore.StreamKeys(svc.cfg.Instruments), nil
	}
	streams, err := svc.reader.DiscoverFrameStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover frame streams: %w", err)
	}
	return streams, nil
}

// addStreams creates the consumer group on streams not yet consumed and
// then adds them to the live set, so the consumer never reads a stream
// without a group.
func (svc *Service) addStreams(ctx context.Context, streams []string) error {
	known := make(map[string]bool, svc.streams.Len())
	for _, s := range svc.streams.List() {
		known[s] = true
	}
	var fresh []string
	for _, s := range streams {
		if !known[s] {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := svc.reader.EnsureConsumerGroup(ctx, fresh, svc.cfg.Redis.StartID); err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}
	svc.streams.Add(fresh...)
	return nil
}

// discoverLoop picks up frame streams for instruments that appear after
// start-up.
func (svc *Service) discoverLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.Redis.DiscoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			found, err := svc.reader.DiscoverFrameStreams(ctx)
			if err != nil {
				log.Printf("[trendengine] stream discovery error: %v", err)
				continue
			}
			before := svc.streams.Len()
			if err := svc.addStreams(ctx, found); err != nil {
				log.Printf("[trendengine] %v", err)
				continue
			}
			if n := svc.streams.Len() - before; n > 0 {
				svc.log.Info("discovered frame streams", slog.Int("new", n), slog.Int("total", svc.streams.Len()))
			}
		}
	}
}

// consume runs the consumer-group reader until ctx is cancelled.
func (svc *Service) consume(ctx context.Context) {
	svc.health.SetConsumerOK(true)
	err := svc.reader.ConsumeFrames(ctx, svc.streams, svc.frameCh)
	if ctx.Err() == nil {
		svc.health.SetConsumerOK(false)
		svc.log.Error("frame consumer stopped", slog.Any("error", err))
	}
}

// processLoop is the single goroutine that owns all classifier and
// smoother state.
func (svc *Service) processLoop(ctx context.Context) {
	var evict <-chan time.Time
	if idle := svc.cfg.InstrumentIdle; idle > 0 {
		every := idle / 2
		if every < time.Second {
			every = time.Second
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		evict = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-evict:
			if keys := svc.processor.EvictIdle(svc.cfg.InstrumentIdle); len(keys) > 0 {
				svc.health.SetInstruments(svc.processor.Len())
				svc.log.Info("evicted idle instruments", slog.Any("keys", keys))
			}
		case f := <-svc.frameCh:
			svc.health.SetLastFrameTime(time.Now())

			out, err := svc.processor.Handle(ctx, f)
			if err != nil {
				continue
			}
			svc.health.SetInstruments(svc.processor.Len())

			select {
			case svc.resultCh <- out.Trend:
			case <-ctx.Done():
				return
			}

			if svc.cfg.Redis.PublishIndicator && len(out.Indicators) > 0 {
				start := time.Now()
				if err := svc.writer.WriteIndicatorBatch(ctx, out.Indicators); err != nil {
					log.Printf("[trendengine] indicator publish error: %v", err)
				}
				svc.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
			}
		}
	}
}

// saturationLoop samples channel fill levels for the saturation gauge.
func (svc *Service) saturationLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.prom.ChannelSaturationPct.WithLabelValues("frames").Set(pct(len(svc.frameCh), cap(svc.frameCh)))
			svc.prom.ChannelSaturationPct.WithLabelValues("results").Set(pct(len(svc.resultCh), cap(svc.resultCh)))
			for _, st := range svc.fanout.ChannelStats() {
				svc.prom.ChannelSaturationPct.WithLabelValues("fanout_" + st.Name).Set(pct(st.Len, st.Cap))
			}
		}
	}
}

func pct(n, c int) float64 {
	if c == 0 {
		return 0
	}
	return float64(n) / float64(c) * 100
}

// timedWriter records publish latency for every trend write.
type timedWriter struct {
	w    *redisstore.Writer
	prom *metrics.Metrics
}

func (t timedWriter) WriteTrend(ctx context.Context, r model.TrendResult) error {
	start := time.Now()
	err := t.w.WriteTrend(ctx, r)
	t.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
	return err
}
