package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trend engine.
type Metrics struct {
	FramesTotal      prometheus.Counter
	FrameErrors      *prometheus.CounterVec // labels: reason
	TransitionsTotal *prometheus.CounterVec // labels: to
	ProjectionLevel  *prometheus.GaugeVec   // labels: key
	Instruments      prometheus.Gauge

	// Classifier + smoother compute latency per frame
	ComputeDur      prometheus.Histogram
	IndicatorsTotal prometheus.Counter
	KDiffTrimmed    prometheus.Counter

	RedisWriteDur        prometheus.Histogram
	PELMessagesReclaimed prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	WSClients prometheus.Gauge

	AlertsTotal *prometheus.CounterVec // labels: result
}

// NewMetrics registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	latencyBuckets := []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001}

	m := &Metrics{
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_frames_total",
			Help: "Total frames consumed from the line detector",
		}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_frame_errors_total",
			Help: "Frames rejected before or during classification",
		}, []string{"reason"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_transitions_total",
			Help: "Trend transitions by resulting state",
		}, []string{"to"}),
		ProjectionLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendengine_projection_level",
			Help: "Latest projection level per instrument",
		}, []string{"key"}),
		Instruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_instruments",
			Help: "Instruments with live classifier state",
		}),

		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendengine_compute_duration_seconds",
			Help:    "Registry apply + smoothers + classifier latency per frame",
			Buckets: latencyBuckets,
		}),
		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_indicators_total",
			Help: "Total smoother values computed",
		}),
		KDiffTrimmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_kdiff_trimmed_total",
			Help: "Size-difference history entries archived by the cap",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendengine_redis_write_duration_seconds",
			Help:    "Redis publish pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),
		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_pel_messages_reclaimed_total",
			Help: "Pending frames recovered from a previous run",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_fanout_drops_total",
			Help: "Trend results dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_ws_clients",
			Help: "Connected WebSocket clients",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_alerts_total",
			Help: "Transition alert deliveries by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.FramesTotal,
		m.FrameErrors,
		m.TransitionsTotal,
		m.ProjectionLevel,
		m.Instruments,
		m.ComputeDur,
		m.IndicatorsTotal,
		m.KDiffTrimmed,
		m.RedisWriteDur,
		m.PELMessagesReclaimed,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.WSClients,
		m.AlertsTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	LastFrameTime  time.Time `json:"last_frame_time"`
	ConsumerOK     bool      `json:"consumer_ok"`
	Instruments    int       `json:"instruments"`
	Smoothers      []string  `json:"smoothers"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastFrameTime(t time.Time) {
	h.mu.Lock()
	h.LastFrameTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetConsumerOK(v bool) {
	h.mu.Lock()
	h.ConsumerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetInstruments(n int) {
	h.mu.Lock()
	h.Instruments = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetSmoothers(names []string) {
	h.mu.Lock()
	h.Smoothers = names
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.ConsumerOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.ConsumerOK {
		overallStatus = "unhealthy"
	}

	frameAge := ""
	if !h.LastFrameTime.IsZero() {
		frameAge = time.Since(h.LastFrameTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string   `json:"status"`
		Uptime         string   `json:"uptime"`
		LastFrameTime  string   `json:"last_frame_time"`
		FrameAge       string   `json:"frame_age"`
		RedisConnected bool     `json:"redis_connected"`
		RedisLatencyMs float64  `json:"redis_latency_ms"`
		ConsumerOK     bool     `json:"consumer_ok"`
		Instruments    int      `json:"instruments"`
		Smoothers      []string `json:"smoothers"`
		LastCheckAt    string   `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		LastFrameTime:  h.LastFrameTime.Format(time.RFC3339),
		FrameAge:       frameAge,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		ConsumerOK:     h.ConsumerOK,
		Instruments:    h.Instruments,
		Smoothers:      h.Smoothers,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz, plus any
// extra handlers the service mounts.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handle mounts an additional handler. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
