package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// HealthStatus represents the health of the backtest process and its
// optional dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	RunsCompleted  int       `json:"runs_completed"`
	RunsFailed     int       `json:"runs_failed"`
	BarsReplayed   int       `json:"bars_replayed"`
	LastStrategy   string    `json:"last_strategy"`
	LastError      string    `json:"last_error,omitempty"`
	LastRunAt      time.Time `json:"last_run_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// RunFinished records the outcome of one backtest run.
func (h *HealthStatus) RunFinished(strategy string, bars int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastStrategy = strategy
	h.LastRunAt = time.Now()
	h.BarsReplayed += bars
	if err != nil {
		h.RunsFailed++
		h.LastError = err.Error()
		return
	}
	h.RunsCompleted++
	h.LastError = ""
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
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
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// state returns the overall status and HTTP code. Disabled dependencies
// never degrade health.
func (h *HealthStatus) state() (string, int) {
	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	switch {
	case redisDown && sqliteDown:
		return "unhealthy", http.StatusServiceUnavailable
	case redisDown || sqliteDown || h.LastError != "":
		return "degraded", http.StatusServiceUnavailable
	}
	return "healthy", http.StatusOK
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus, httpCode := h.state()

	lastRun := ""
	if !h.LastRunAt.IsZero() {
		lastRun = h.LastRunAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RunsCompleted   int     `json:"runs_completed"`
		RunsFailed      int     `json:"runs_failed"`
		BarsReplayed    int     `json:"bars_replayed"`
		LastStrategy    string  `json:"last_strategy,omitempty"`
		LastError       string  `json:"last_error,omitempty"`
		LastRunAt       string  `json:"last_run_at,omitempty"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RunsCompleted:   h.RunsCompleted,
		RunsFailed:      h.RunsFailed,
		BarsReplayed:    h.BarsReplayed,
		LastStrategy:    h.LastStrategy,
		LastError:       h.LastError,
		LastRunAt:       lastRun,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
	log  *zap.Logger
}

// NewServer creates a metrics and health server. metricsHandler is
// usually promhttp.HandlerFor on the recorder's registry.
func NewServer(addr string, metricsHandler http.Handler, health *HealthStatus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		log:  log.Named("metrics"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts an extra handler, such as the progress stream. Call it
// before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
