package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEVALUE_WS_ADDR", "")
	t.Setenv("DEVALUE_WS_ALLOWED_ORIGINS", "")
	t.Setenv("DEVALUE_WS_MAX_PAYLOAD_BYTES", "")
	t.Setenv("DEVALUE_WS_PING_INTERVAL", "")
	t.Setenv("DEVALUE_WS_MAX_CLIENTS", "")
	t.Setenv("DEVALUE_TLS_CERT", "")
	t.Setenv("DEVALUE_TLS_KEY", "")
	t.Setenv("DEVALUE_AUTH_SECRET", "")
	t.Setenv("DEVALUE_SINK_BUFFER", "")
	t.Setenv("DEVALUE_LOG_LEVEL", "")
	t.Setenv("DEVALUE_LOG_PATH", "")
	t.Setenv("DEVALUE_LOG_MAX_SIZE_MB", "")
	t.Setenv("DEVALUE_LOG_MAX_BACKUPS", "")
	t.Setenv("DEVALUE_LOG_MAX_AGE_DAYS", "")
	t.Setenv("DEVALUE_LOG_COMPRESS", "")
	t.Setenv("DEVALUE_RATE_LIMIT_WINDOW", "")
	t.Setenv("DEVALUE_RATE_LIMIT_BURST", "")
	t.Setenv("DEVALUE_REPLAY_DIR", "")
	t.Setenv("DEVALUE_REPLAY_RETENTION", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.WSAddr != DefaultWSAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultWSAddr, cfg.WSAddr)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no allowed origins, got %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("expected default max payload %d, got %d", DefaultMaxPayloadBytes, cfg.MaxPayloadBytes)
	}
	if cfg.PingInterval != DefaultPingInterval {
		t.Fatalf("expected default ping interval %v, got %v", DefaultPingInterval, cfg.PingInterval)
	}
	if cfg.MaxClients != DefaultMaxClients {
		t.Fatalf("expected default max clients %d, got %d", DefaultMaxClients, cfg.MaxClients)
	}
	if cfg.TLSCertPath != "" || cfg.TLSKeyPath != "" {
		t.Fatalf("expected TLS paths to be empty, got cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected auth secret to be empty by default")
	}
	if cfg.SinkBuffer != DefaultSinkBuffer {
		t.Fatalf("expected default sink buffer %d, got %d", DefaultSinkBuffer, cfg.SinkBuffer)
	}
	if cfg.RateLimitWindow != DefaultRateLimitWindow {
		t.Fatalf("expected default rate limit window %v, got %v", DefaultRateLimitWindow, cfg.RateLimitWindow)
	}
	if cfg.RateLimitBurst != DefaultRateLimitBurst {
		t.Fatalf("expected default rate limit burst %d, got %d", DefaultRateLimitBurst, cfg.RateLimitBurst)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("expected default log path %q, got %q", DefaultLogPath, cfg.Logging.Path)
	}
	if cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("expected default log max size %d, got %d", DefaultLogMaxSizeMB, cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups != DefaultLogMaxBackups {
		t.Fatalf("expected default log max backups %d, got %d", DefaultLogMaxBackups, cfg.Logging.MaxBackups)
	}
	if cfg.Logging.MaxAgeDays != DefaultLogMaxAgeDays {
		t.Fatalf("expected default log max age %d, got %d", DefaultLogMaxAgeDays, cfg.Logging.MaxAgeDays)
	}
	if cfg.Logging.Compress != DefaultLogCompress {
		t.Fatalf("expected default log compress %t, got %t", DefaultLogCompress, cfg.Logging.Compress)
	}
	if cfg.ReplayDir != "replays" {
		t.Fatalf("expected default replay dir %q, got %q", "replays", cfg.ReplayDir)
	}
	if cfg.ReplayRetention != DefaultReplayRetention {
		t.Fatalf("expected default replay retention %v, got %v", DefaultReplayRetention, cfg.ReplayRetention)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEVALUE_WS_ADDR", "127.0.0.1:9000")
	t.Setenv("DEVALUE_WS_ALLOWED_ORIGINS", "https://example.com, https://demo.local")
	t.Setenv("DEVALUE_WS_MAX_PAYLOAD_BYTES", "2048")
	t.Setenv("DEVALUE_WS_PING_INTERVAL", "45s")
	t.Setenv("DEVALUE_WS_MAX_CLIENTS", "12")
	t.Setenv("DEVALUE_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("DEVALUE_TLS_KEY", "/tmp/key.pem")
	t.Setenv("DEVALUE_AUTH_SECRET", "s3cret")
	t.Setenv("DEVALUE_SINK_BUFFER", "4")
	t.Setenv("DEVALUE_LOG_LEVEL", "debug")
	t.Setenv("DEVALUE_LOG_PATH", "/var/log/devalue.log")
	t.Setenv("DEVALUE_LOG_MAX_SIZE_MB", "512")
	t.Setenv("DEVALUE_LOG_MAX_BACKUPS", "4")
	t.Setenv("DEVALUE_LOG_MAX_AGE_DAYS", "2")
	t.Setenv("DEVALUE_LOG_COMPRESS", "false")
	t.Setenv("DEVALUE_RATE_LIMIT_WINDOW", "2m")
	t.Setenv("DEVALUE_RATE_LIMIT_BURST", "3")
	t.Setenv("DEVALUE_REPLAY_DIR", "/var/run/replays")
	t.Setenv("DEVALUE_REPLAY_RETENTION", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.WSAddr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr: %q", cfg.WSAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://example.com" || cfg.AllowedOrigins[1] != "https://demo.local" {
		t.Fatalf("unexpected allowed origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != 2048 {
		t.Fatalf("expected overridden max payload, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.PingInterval.String() != "45s" {
		t.Fatalf("expected ping interval 45s, got %v", cfg.PingInterval)
	}
	if cfg.MaxClients != 12 {
		t.Fatalf("expected max clients 12, got %d", cfg.MaxClients)
	}
	if cfg.TLSCertPath != "/tmp/cert.pem" || cfg.TLSKeyPath != "/tmp/key.pem" {
		t.Fatalf("unexpected TLS paths cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
	if cfg.AuthSecret != "s3cret" {
		t.Fatalf("expected overridden auth secret, got %q", cfg.AuthSecret)
	}
	if cfg.SinkBuffer != 4 {
		t.Fatalf("expected sink buffer 4, got %d", cfg.SinkBuffer)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Path != "/var/log/devalue.log" {
		t.Fatalf("unexpected log path %q", cfg.Logging.Path)
	}
	if cfg.Logging.MaxSizeMB != 512 {
		t.Fatalf("expected log max size 512, got %d", cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups != 4 {
		t.Fatalf("expected log max backups 4, got %d", cfg.Logging.MaxBackups)
	}
	if cfg.Logging.MaxAgeDays != 2 {
		t.Fatalf("expected log max age 2, got %d", cfg.Logging.MaxAgeDays)
	}
	if cfg.Logging.Compress {
		t.Fatalf("expected log compression disabled")
	}
	if cfg.RateLimitWindow != 2*time.Minute {
		t.Fatalf("expected rate limit window 2m, got %v", cfg.RateLimitWindow)
	}
	if cfg.RateLimitBurst != 3 {
		t.Fatalf("expected rate limit burst 3, got %d", cfg.RateLimitBurst)
	}
	if cfg.ReplayDir != "/var/run/replays" {
		t.Fatalf("expected replay dir override, got %q", cfg.ReplayDir)
	}
	if cfg.ReplayRetention != 48*time.Hour {
		t.Fatalf("expected replay retention 48h, got %v", cfg.ReplayRetention)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("DEVALUE_WS_MAX_PAYLOAD_BYTES", "-5")
	t.Setenv("DEVALUE_WS_PING_INTERVAL", "abc")
	t.Setenv("DEVALUE_WS_MAX_CLIENTS", "-1")
	t.Setenv("DEVALUE_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("DEVALUE_TLS_KEY", "")
	t.Setenv("DEVALUE_SINK_BUFFER", "0")
	t.Setenv("DEVALUE_LOG_MAX_SIZE_MB", "-1")
	t.Setenv("DEVALUE_LOG_MAX_BACKUPS", "-2")
	t.Setenv("DEVALUE_LOG_MAX_AGE_DAYS", "-3")
	t.Setenv("DEVALUE_LOG_COMPRESS", "notabool")
	t.Setenv("DEVALUE_RATE_LIMIT_WINDOW", "-")
	t.Setenv("DEVALUE_RATE_LIMIT_BURST", "0")
	t.Setenv("DEVALUE_REPLAY_RETENTION", "-1h")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"DEVALUE_WS_MAX_PAYLOAD_BYTES",
		"DEVALUE_WS_PING_INTERVAL",
		"DEVALUE_WS_MAX_CLIENTS",
		"DEVALUE_TLS_CERT",
		"DEVALUE_SINK_BUFFER",
		"DEVALUE_LOG_MAX_SIZE_MB",
		"DEVALUE_LOG_MAX_BACKUPS",
		"DEVALUE_LOG_MAX_AGE_DAYS",
		"DEVALUE_LOG_COMPRESS",
		"DEVALUE_RATE_LIMIT_WINDOW",
		"DEVALUE_RATE_LIMIT_BURST",
		"DEVALUE_REPLAY_RETENTION",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadIgnoresEmptyAllowedOrigins(t *testing.T) {
	t.Setenv("DEVALUE_WS_ALLOWED_ORIGINS", " , ,https://ok.example, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://ok.example" {
		t.Fatalf("expected single cleaned origin, got %#v", cfg.AllowedOrigins)
	}
}

func TestLoadAllowsUnlimitedClients(t *testing.T) {
	t.Setenv("DEVALUE_WS_MAX_CLIENTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.MaxClients != 0 {
		t.Fatalf("expected zero to disable limit, got %d", cfg.MaxClients)
	}
}

func TestLoadWithCustomTLSPair(t *testing.T) {
	certFile := createTempFile(t)
	keyFile := createTempFile(t)

	t.Setenv("DEVALUE_TLS_CERT", certFile)
	t.Setenv("DEVALUE_TLS_KEY", keyFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.TLSCertPath != certFile || cfg.TLSKeyPath != keyFile {
		t.Fatalf("unexpected TLS pair cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
}

func createTempFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "devalue-config-test-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	name := f.Name()
	f.Close()
	t.Cleanup(func() { _ = os.Remove(name) })
	return name
}
