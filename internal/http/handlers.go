// Package httpapi exposes the devalue websocket relay's operational
// surface: liveness/readiness probes, Prometheus-compatible metrics, and an
// admin-gated endpoint to trigger an out-of-band replay dump of the
// recorder's buffered chunk-stream sessions.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/katt/devalue-go/internal/logging"
	"github.com/katt/devalue-go/internal/replay"
)

// ReadinessProvider exposes relay state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// StatsFunc returns cumulative stream and chunk throughput statistics.
type StatsFunc func() (streamsActive, chunksServed int)

// ReplayDumper triggers an out-of-band replay dump and optionally returns
// the artifact location.
type ReplayDumper interface {
	DumpReplay(ctx context.Context) (string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context) (string, error)

// DumpReplay implements ReplayDumper.
func (f ReplayDumperFunc) DumpReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger        *logging.Logger
	Readiness     ReadinessProvider
	Stats         StatsFunc
	Replay        ReplayDumper
	AdminToken    string
	RateLimiter   RateLimiter
	TimeSource    func() time.Time
	ReplayStats   func() replay.Stats
	ReplayStorage func() replay.StorageStats
}

// HandlerSet bundles the relay's operational HTTP handlers.
type HandlerSet struct {
	logger        *logging.Logger
	readiness     ReadinessProvider
	stats         StatsFunc
	replay        ReplayDumper
	adminToken    string
	rateLimiter   RateLimiter
	now           func() time.Time
	replayStats   func() replay.Stats
	replayStorage func() replay.StorageStats
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:        logger,
		readiness:     opts.Readiness,
		stats:         opts.Stats,
		replay:        opts.Replay,
		adminToken:    strings.TrimSpace(opts.AdminToken),
		rateLimiter:   opts.RateLimiter,
		now:           now,
		replayStats:   opts.ReplayStats,
		replayStorage: opts.ReplayStorage,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/dump", h.ReplayDumpHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports relay readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			resp.Clients = clients
			resp.PendingClients = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunksServed, streamsActive := h.metricsStats()
		pending, uptime := h.pendingAndUptime()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP devalue_uptime_seconds Relay uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE devalue_uptime_seconds gauge\n")
		fmt.Fprintf(w, "devalue_uptime_seconds %.0f\n", uptime)

		fmt.Fprintf(w, "# HELP devalue_clients Current connected websocket relay clients.\n")
		fmt.Fprintf(w, "# TYPE devalue_clients gauge\n")
		fmt.Fprintf(w, "devalue_clients %d\n", streamsActive)

		fmt.Fprintf(w, "# HELP devalue_pending_clients Pending websocket handshakes awaiting upgrade.\n")
		fmt.Fprintf(w, "# TYPE devalue_pending_clients gauge\n")
		fmt.Fprintf(w, "devalue_pending_clients %d\n", pending)

		fmt.Fprintf(w, "# HELP devalue_chunks_served_total Total encoded chunks delivered across all streams.\n")
		fmt.Fprintf(w, "# TYPE devalue_chunks_served_total counter\n")
		fmt.Fprintf(w, "devalue_chunks_served_total %d\n", chunksServed)

		if h.replayStats != nil {
			stats := h.replayStats()
			fmt.Fprintf(w, "# HELP devalue_replay_buffer_frames Buffered replay chunks awaiting flush.\n")
			fmt.Fprintf(w, "# TYPE devalue_replay_buffer_frames gauge\n")
			fmt.Fprintf(w, "devalue_replay_buffer_frames %d\n", stats.BufferedFrames)
			fmt.Fprintf(w, "# HELP devalue_replay_buffer_bytes Buffered replay payload size in bytes.\n")
			fmt.Fprintf(w, "# TYPE devalue_replay_buffer_bytes gauge\n")
			fmt.Fprintf(w, "devalue_replay_buffer_bytes %d\n", stats.BufferedBytes)
			fmt.Fprintf(w, "# HELP devalue_replay_dumps_total Replay dumps completed successfully.\n")
			fmt.Fprintf(w, "# TYPE devalue_replay_dumps_total counter\n")
			fmt.Fprintf(w, "devalue_replay_dumps_total %d\n", stats.Dumps)
		}
		if h.replayStorage != nil {
			storage := h.replayStorage()
			fmt.Fprintf(w, "# HELP devalue_replay_storage_sessions Replay sessions currently retained.\n")
			fmt.Fprintf(w, "# TYPE devalue_replay_storage_sessions gauge\n")
			fmt.Fprintf(w, "devalue_replay_storage_sessions %d\n", storage.Matches)
			fmt.Fprintf(w, "# HELP devalue_replay_storage_headers Replay header documents currently present.\n")
			fmt.Fprintf(w, "# TYPE devalue_replay_storage_headers gauge\n")
			fmt.Fprintf(w, "devalue_replay_storage_headers %d\n", storage.Headers)
			fmt.Fprintf(w, "# HELP devalue_replay_storage_bytes Total on-disk size of retained replays in bytes.\n")
			fmt.Fprintf(w, "# TYPE devalue_replay_storage_bytes gauge\n")
			fmt.Fprintf(w, "devalue_replay_storage_bytes %d\n", storage.Bytes)
			if !storage.LastSweep.IsZero() {
				fmt.Fprintf(w, "# HELP devalue_replay_storage_last_sweep_timestamp_seconds Unix timestamp of the last replay retention sweep.\n")
				fmt.Fprintf(w, "# TYPE devalue_replay_storage_last_sweep_timestamp_seconds gauge\n")
				fmt.Fprintf(w, "devalue_replay_storage_last_sweep_timestamp_seconds %d\n", storage.LastSweep.Unix())
			}
		}
	}
}

// ReplayDumpHandler authorises and triggers an out-of-band replay dump.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("replay dump denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.replay == nil {
			reqLogger.Warn("replay dump denied: no dumper configured")
			http.Error(w, "replay dumping is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.DumpReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay dump trigger failed", logging.Error(err))
			http.Error(w, "failed to trigger replay dump", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay dump triggered")
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) metricsStats() (chunksServed, streamsActive int) {
	if h.stats != nil {
		streamsActive, chunksServed = h.stats()
		return chunksServed, streamsActive
	}
	if h.readiness != nil {
		streamsActive, _ = h.readiness.SnapshotClientCounts()
	}
	return
}

func (h *HandlerSet) pendingAndUptime() (pending int, uptime float64) {
	if h.readiness == nil {
		return 0, 0
	}
	_, pending = h.readiness.SnapshotClientCounts()
	return pending, h.readiness.Uptime().Seconds()
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
