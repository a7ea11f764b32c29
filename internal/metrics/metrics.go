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

// Metrics holds all Prometheus metrics for the signal recorder.
type Metrics struct {
	ChecksTotal   *prometheus.CounterVec // labels: label (BUY/SELL/HOLD/No Data)
	CheckFailures *prometheus.CounterVec // labels: stage (fetch/append)
	FetchDur      prometheus.Histogram
	AppendDur     prometheus.Histogram

	// Delivery side
	WSClients            prometheus.Gauge
	WSMessagesSent       prometheus.Counter
	BusDropsTotal        *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name
	NotificationsSent    *prometheus.CounterVec // labels: channel

	// Live publisher
	RedisPublishes       prometheus.Counter
	RedisPublishFailures prometheus.Counter
	RedisBreakerState    prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips    prometheus.Counter

	// Ambient state
	SessionAlive prometheus.Gauge // 0=dead, 1=alive
	MarketState  prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics builds the recorder's collectors and registers them with the
// default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigserver_checks_total",
			Help: "Completed checks by recorded label",
		}, []string{"label"}),
		CheckFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigserver_check_failures_total",
			Help: "Checks aborted by stage (fetch or append)",
		}, []string{"stage"}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigserver_fetch_duration_seconds",
			Help:    "Candle window fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		AppendDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigserver_append_duration_seconds",
			Help:    "Signal log append latency (open+insert+close)",
			Buckets: prometheus.DefBuckets,
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigserver_ws_clients",
			Help: "Currently connected websocket clients",
		}),
		WSMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigserver_ws_messages_sent_total",
			Help: "Websocket envelopes written to clients",
		}),
		BusDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigserver_bus_drops_total",
			Help: "Signals dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigserver_channel_saturation_pct",
			Help: "Bus channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigserver_notifications_sent_total",
			Help: "Alerts delivered per notifier channel",
		}, []string{"channel"}),

		RedisPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigserver_redis_publishes_total",
			Help: "Signals published to the Redis stream",
		}),
		RedisPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigserver_redis_publish_failures_total",
			Help: "Failed Redis publish attempts",
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigserver_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigserver_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		SessionAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigserver_session_alive",
			Help: "Broker session state (0=dead, 1=alive)",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigserver_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.ChecksTotal,
		m.CheckFailures,
		m.FetchDur,
		m.AppendDur,
		m.WSClients,
		m.WSMessagesSent,
		m.BusDropsTotal,
		m.ChannelSaturationPct,
		m.NotificationsSent,
		m.RedisPublishes,
		m.RedisPublishFailures,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.SessionAlive,
		m.MarketState,
	)

	return m
}

// HealthStatus aggregates component state for the /healthz report.
type HealthStatus struct {
	mu sync.RWMutex

	// SessionRequired is false in staging, where no broker login exists
	// and session state must not degrade health.
	SessionRequired bool

	SessionAlive   bool
	SQLiteOK       bool
	RedisEnabled   bool
	RedisConnected bool
	MarketOpen     bool
	LastSignalAt   time.Time

	SQLiteLatencyMs float64
	RedisLatencyMs  float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus starts the uptime clock. Set SessionRequired before
// serving when the deployment has a broker login to watch.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetSessionAlive(v bool) {
	h.mu.Lock()
	h.SessionAlive = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSignalAt(t time.Time) {
	h.mu.Lock()
	h.LastSignalAt = t
	h.mu.Unlock()
}

// CheckStore probes the signal log. probe is typically siglog's Ping;
// the store opens per operation, so there is no held connection to ping
// directly.
func (h *HealthStatus) CheckStore(probe func() error) {
	start := time.Now()
	err := probe()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = msSince(start)
	h.LastCheckAt = time.Now()
}

// CheckRedis records Redis reachability and round-trip latency.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = msSince(start)
	h.LastCheckAt = time.Now()
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// StartLivenessChecker probes the store (and Redis when enabled) every
// interval so /healthz latencies stay fresh. The first round runs
// immediately.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, storeProbe func() error, interval time.Duration) {
	round := func() {
		if storeProbe != nil {
			h.CheckStore(storeProbe)
		}
		if rdb != nil {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			h.CheckRedis(probeCtx, rdb)
			cancel()
		}
	}
	go func() {
		round()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				round()
			}
		}
	}()
}

// healthReport is the /healthz payload.
type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	SessionRequired bool    `json:"session_required"`
	SessionAlive    bool    `json:"session_alive"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	MarketOpen      bool    `json:"market_open"`
	LastSignalAt    string  `json:"last_signal_at,omitempty"`
	LastCheckAt     string  `json:"last_check_at"`
}

// overall folds component state into one word. Must be called with h.mu
// held. A dead session or unreachable Redis degrades; only a broken
// signal log makes the recorder unhealthy, because checks cannot record
// without it.
func (h *HealthStatus) overall() string {
	switch {
	case !h.SQLiteOK:
		return "unhealthy"
	case h.SessionRequired && !h.SessionAlive:
		return "degraded"
	case h.RedisEnabled && !h.RedisConnected:
		return "degraded"
	}
	return "healthy"
}

// ServeHTTP answers /healthz with a JSON report. Anything but "healthy"
// responds 503 so load balancer probes see it.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rep := healthReport{
		Status:          h.overall(),
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SessionRequired: h.SessionRequired,
		SessionAlive:    h.SessionAlive,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		MarketOpen:      h.MarketOpen,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if !h.LastSignalAt.IsZero() {
		rep.LastSignalAt = h.LastSignalAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server exposes /metrics and /healthz on their own listener, kept off
// the API port so scrapes keep working while the API drains.
type Server struct {
	srv *http.Server
}

// NewServer wires the Prometheus handler and the health report.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] serving /metrics and /healthz on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] serve: %v", err)
		}
	}()
}

// Stop drains the listener.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
