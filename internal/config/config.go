// Package config loads the environment-sourced daemon configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the optional settings.
const (
	DefaultBucket       = "documents"
	DefaultPollInterval = time.Minute
	DefaultQRPort       = 8077
	DefaultReconnectMin = time.Second
	DefaultReconnectMax = 2 * time.Minute
)

// Config holds every setting the daemon reads from the environment.
type Config struct {
	// Required.
	SupabaseURL string // SUPABASE_URL: storage backend base URL
	SupabaseKey string // SUPABASE_KEY: storage backend API key
	GroupJID    string // WA_GROUP_JID: target group identifier
	StateDir    string // STATE_DIR: credentials, ledger, lock and logs

	// Optional with defaults.
	Bucket       string        // BUCKET_NAME
	PollInterval time.Duration // POLL_INTERVAL
	QRPort       int           // QR_PORT
	ReconnectMin time.Duration // RECONNECT_MIN_BACKOFF
	ReconnectMax time.Duration // RECONNECT_MAX_BACKOFF

	// Optional without default. Empty disables the outbox and inbox features.
	DatabaseURL string // DATABASE_URL
}

// RelationalEnabled reports whether the outbox/inbox backend is configured.
func (c *Config) RelationalEnabled() bool {
	return c.DatabaseURL != ""
}

// Load reads the configuration from the environment. When envFile is
// non-empty that file is loaded first; variables already present in the
// environment always win. A missing ./.env is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		SupabaseURL: strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseKey: os.Getenv("SUPABASE_KEY"),
		GroupJID:    os.Getenv("WA_GROUP_JID"),
		StateDir:    os.Getenv("STATE_DIR"),
		Bucket:      os.Getenv("BUCKET_NAME"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	var missing []string
	for _, v := range []struct {
		name  string
		value string
	}{
		{"SUPABASE_URL", cfg.SupabaseURL},
		{"SUPABASE_KEY", cfg.SupabaseKey},
		{"WA_GROUP_JID", cfg.GroupJID},
		{"STATE_DIR", cfg.StateDir},
	} {
		if v.value == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if !strings.Contains(cfg.GroupJID, "@") {
		return nil, fmt.Errorf("WA_GROUP_JID %q is not a JID (expected something like 1234567890@g.us)", cfg.GroupJID)
	}

	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.ReconnectMin, err = durationEnv("RECONNECT_MIN_BACKOFF", DefaultReconnectMin); err != nil {
		return nil, err
	}
	if cfg.ReconnectMax, err = durationEnv("RECONNECT_MAX_BACKOFF", DefaultReconnectMax); err != nil {
		return nil, err
	}
	if cfg.ReconnectMin <= 0 || cfg.ReconnectMax < cfg.ReconnectMin {
		return nil, fmt.Errorf("reconnect backoff bounds invalid: min=%s max=%s", cfg.ReconnectMin, cfg.ReconnectMax)
	}

	if cfg.QRPort, err = portEnv("QR_PORT", DefaultQRPort); err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (expected e.g. 30s, 1m): %w", name, raw, err)
	}
	return d, nil
}

func portEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	p, err := strconv.Atoi(raw)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("%s: %q is not a valid port", name, raw)
	}
	return p, nil
}
