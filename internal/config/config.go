package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultWSAddr is the default TCP address the websocket relay listens on.
	DefaultWSAddr = ":43127"
	// DefaultPingInterval controls the keepalive cadence for relay WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 256

	// DefaultSinkBuffer is the per-producer decoder sink buffer depth.
	DefaultSinkBuffer = 1

	// DefaultRateLimitWindow bounds how frequently an admin-guarded endpoint may be hit.
	DefaultRateLimitWindow = time.Minute
	// DefaultRateLimitBurst sets how many requests may be made per window.
	DefaultRateLimitBurst = 60

	// DefaultLogLevel controls verbosity for devalue logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "devalue.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultReplayRetention controls how long captured chunk-stream sessions are kept on disk.
	DefaultReplayRetention = 7 * 24 * time.Hour
)

// Config captures all runtime tunables for the devalue websocket relay
// (cmd/devaluewsrelay).
type Config struct {
	WSAddr          string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	TLSCertPath     string
	TLSKeyPath      string
	AuthSecret      string

	SinkBuffer int

	RateLimitWindow time.Duration
	RateLimitBurst  int

	Logging LoggingConfig

	ReplayDir       string
	ReplayRetention time.Duration
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads devalue's runtime configuration from environment variables,
// applying sane defaults and accumulating descriptive errors for every
// invalid override before returning.
func Load() (*Config, error) {
	cfg := &Config{
		WSAddr:          getString("DEVALUE_WS_ADDR", DefaultWSAddr),
		AllowedOrigins:  parseList(os.Getenv("DEVALUE_WS_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxClients:      DefaultMaxClients,
		TLSCertPath:     strings.TrimSpace(os.Getenv("DEVALUE_TLS_CERT")),
		TLSKeyPath:      strings.TrimSpace(os.Getenv("DEVALUE_TLS_KEY")),
		AuthSecret:      strings.TrimSpace(os.Getenv("DEVALUE_AUTH_SECRET")),
		SinkBuffer:      DefaultSinkBuffer,
		RateLimitWindow: DefaultRateLimitWindow,
		RateLimitBurst:  DefaultRateLimitBurst,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("DEVALUE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("DEVALUE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		ReplayDir:       strings.TrimSpace(getString("DEVALUE_REPLAY_DIR", "replays")),
		ReplayRetention: DefaultReplayRetention,
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_WS_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_WS_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_WS_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_WS_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_WS_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_WS_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_SINK_BUFFER")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_SINK_BUFFER must be a positive integer, got %q", raw))
		} else {
			cfg.SinkBuffer = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("DEVALUE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_RATE_LIMIT_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_RATE_LIMIT_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.RateLimitWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_RATE_LIMIT_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_RATE_LIMIT_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.RateLimitBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DEVALUE_REPLAY_RETENTION")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DEVALUE_REPLAY_RETENTION must be a positive duration, got %q", raw))
		} else {
			cfg.ReplayRetention = duration
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "DEVALUE_TLS_CERT and DEVALUE_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
