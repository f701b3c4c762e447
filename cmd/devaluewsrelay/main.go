// Command devaluewsrelay is a small websocket server demonstrating
// EncodeStream over a live connection: every accepted client receives a
// demo value containing a resolving Future and a ticking Sequence. An
// admin-gated endpoint can roll whatever the in-memory replay recorder has
// buffered to disk as a gzip-compressed JSON file, which replay.Load reads
// back.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	devalue "github.com/katt/devalue-go"
	"github.com/katt/devalue-go/internal/auth"
	configpkg "github.com/katt/devalue-go/internal/config"
	httpapi "github.com/katt/devalue-go/internal/http"
	"github.com/katt/devalue-go/internal/logging"
	"github.com/katt/devalue-go/internal/ratelimit"
	"github.com/katt/devalue-go/internal/replay"
	"github.com/katt/devalue-go/internal/transport/wsstream"
)

// Always allow localhost for dev convenience, matching the origin policy
// demo relays in this idiom ship with.
var localHosts = map[string]struct{}{
	"127.0.0.1": {},
	"localhost": {},
	"::1":       {},
}

type relay struct {
	logger *logging.Logger
	cfg    *configpkg.Config

	verifier *auth.HMACTokenVerifier

	startedAt  time.Time
	startupErr error

	mu      sync.RWMutex
	clients int
	pending int

	streamsActive int64
	chunksServed  int64

	recorder *replay.Recorder
	cleaner  *replay.Cleaner
}

func (r *relay) SnapshotClientCounts() (clients, pending int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients, r.pending
}

func (r *relay) StartupError() error { return r.startupErr }

func (r *relay) Uptime() time.Duration { return time.Since(r.startedAt) }

func (r *relay) stats() (streamsActive, chunksServed int) {
	return int(atomic.LoadInt64(&r.streamsActive)), int(atomic.LoadInt64(&r.chunksServed))
}

func (r *relay) demoValue(sessionID string) any {
	tick := 0
	seq := devalue.NewSequence(func(ctx context.Context) (any, bool, error) {
		if tick >= 5 {
			return nil, true, nil
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		tick++
		return tick, false, nil
	}, nil)

	future := devalue.NewFuture(func(ctx context.Context) (any, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return fmt.Sprintf("session %s ready", sessionID), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	return map[string]any{
		"session": sessionID,
		"ready":   future,
		"ticks":   seq,
	}
}

func buildOriginChecker(logger *logging.Logger, allowlist []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, origin := range allowlist {
		allowed[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := strings.ToLower(origin)
		if _, ok := allowed[host]; ok {
			return true
		}
		for local := range localHosts {
			if strings.Contains(host, local) {
				return true
			}
		}
		logger.Warn("rejecting websocket origin", logging.String("origin", origin))
		return false
	}
}

func (r *relay) serveWS(upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqLogger := r.logger.With(logging.String("remote_addr", req.RemoteAddr))

		if r.verifier != nil {
			token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
			if _, err := r.verifier.Verify(token); err != nil {
				reqLogger.Warn("rejecting websocket connection: authentication failed", logging.Error(err))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		if r.cfg.MaxClients > 0 {
			r.mu.Lock()
			if r.clients+r.pending >= r.cfg.MaxClients {
				r.mu.Unlock()
				reqLogger.Warn("refusing websocket connection: client limit reached")
				http.Error(w, "service unavailable: client limit reached", http.StatusServiceUnavailable)
				return
			}
			r.pending++
			r.mu.Unlock()
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.mu.Lock()
			if r.pending > 0 {
				r.pending--
			}
			r.mu.Unlock()
			reqLogger.Error("websocket upgrade failed", logging.Error(err))
			return
		}
		defer conn.Close()

		sessionID := req.RemoteAddr
		r.mu.Lock()
		if r.pending > 0 {
			r.pending--
		}
		r.clients++
		r.mu.Unlock()
		atomic.AddInt64(&r.streamsActive, 1)
		defer func() {
			r.mu.Lock()
			r.clients--
			r.mu.Unlock()
			atomic.AddInt64(&r.streamsActive, -1)
		}()

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()

		value := r.demoValue(sessionID)

		opts := []devalue.EncodeOption{
			devalue.WithOnFrame(func(id uint64, status int) {
				atomic.AddInt64(&r.chunksServed, 1)
			}),
		}
		if err := wsstream.WriteStream(ctx, conn, value, r.cfg.PingInterval, opts...); err != nil {
			reqLogger.Warn("websocket stream ended", logging.Error(err))
		}
	}
}

func buildHandler(r *relay, upgrader websocket.Upgrader) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.serveWS(upgrader))

	var limiter httpapi.RateLimiter
	if r.cfg.RateLimitWindow > 0 && r.cfg.RateLimitBurst > 0 {
		limiter = ratelimit.NewSlidingWindowLimiter(r.cfg.RateLimitWindow, r.cfg.RateLimitBurst, nil)
	}

	opsHandlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:    r.logger,
		Readiness: r,
		Stats:     r.stats,
		Replay: httpapi.ReplayDumperFunc(func(ctx context.Context) (string, error) {
			if r.recorder == nil {
				return "", fmt.Errorf("replay recorder not configured")
			}
			return r.recorder.Roll(fmt.Sprintf("relay-%d", time.Now().UnixNano()))
		}),
		ReplayStats: func() replay.Stats {
			if r.recorder == nil {
				return replay.Stats{}
			}
			return r.recorder.Snapshot()
		},
		ReplayStorage: func() replay.StorageStats {
			if r.cleaner == nil {
				return replay.StorageStats{}
			}
			return r.cleaner.Stats()
		},
		AdminToken:  r.cfg.AuthSecret,
		RateLimiter: limiter,
	})
	opsHandlers.Register(mux)

	return logging.HTTPTraceMiddleware(r.logger)(mux)
}

func main() {
	startedAt := time.Now()

	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var verifier *auth.HMACTokenVerifier
	if cfg.AuthSecret != "" {
		verifier, err = auth.NewHMACTokenVerifier(cfg.AuthSecret, 0)
		if err != nil {
			logger.Fatal("failed to configure websocket authenticator", logging.Error(err))
		}
		logger.Info("websocket HMAC authentication enabled")
	} else {
		logger.Info("websocket authentication disabled")
	}

	if cfg.ReplayDir == "" {
		cfg.ReplayDir = "storage/replays"
	}
	recorder, err := replay.NewRecorder(cfg.ReplayDir, nil)
	if err != nil {
		logger.Fatal("failed to initialise replay recorder", logging.Error(err))
	}

	cleaner := replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{MaxAge: cfg.ReplayRetention}, logger)
	cleanerCtx, cleanerCancel := context.WithCancel(context.Background())
	go cleaner.Run(cleanerCtx, time.Hour)
	defer cleanerCancel()

	r := &relay{
		logger:     logger,
		cfg:        cfg,
		verifier:   verifier,
		startedAt:  startedAt,
		startupErr: nil,
		recorder:   recorder,
		cleaner:    cleaner,
	}

	upgrader := websocket.Upgrader{CheckOrigin: buildOriginChecker(logger.With(logging.String("component", "origin-check")), cfg.AllowedOrigins)}

	handler := buildHandler(r, upgrader)
	server := &http.Server{Addr: cfg.WSAddr, Handler: handler}

	logger.Info("relay listening", logging.String("address", cfg.WSAddr))

	if cfg.TLSCertPath != "" {
		if err := server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath); err != nil {
			logger.Fatal("relay server terminated", logging.Error(err))
		}
		return
	}

	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("relay server terminated", logging.Error(err))
	}
}
