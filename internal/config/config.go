// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/xs2event-gateway/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIKey   string `kong:"help='XS2Event API key (overrides config).',env='XS2EVENT_API_KEY'"`
	RulesDSN string `kong:"help='Rule store DSN (overrides config).',env='RULES_DSN'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Rules    RulesConfig    `toml:"rules"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds the XS2Event connection and retry settings.
type UpstreamConfig struct {
	BaseURL          string `toml:"base_url"`
	APIKey           string `toml:"api_key"`
	TimeoutMS        int    `toml:"timeout_ms"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
	IdleConnections  int    `toml:"idle_connections"`
	// MaxRetries is the total attempt budget. An omitted key selects the
	// default; an explicit 0 disables upstream calls.
	MaxRetries           int   `toml:"max_retries"`
	BackoffMS            int   `toml:"backoff_ms"`
	MaxBackoffMS         int   `toml:"max_backoff_ms"`
	StreamThresholdBytes int64 `toml:"stream_threshold_bytes"`

	maxRetriesSet bool
}

// maxBackoffCeilingMS bounds every computed upstream backoff.
const maxBackoffCeilingMS = 10_000

// RulesConfig selects the pricing rule store.
type RulesConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// reservedPrefixes are routes owned by the gateway itself.
var reservedPrefixes = []string{"/api/v1", "/pricing", "/admin", "/healthz", "/gateway/status"}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/xs2event-gateway/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// TOML cannot tell an explicit 0 from an omitted key, so presence of
	// max_retries is decoded separately.
	var presence struct {
		Upstream struct {
			MaxRetries *int `toml:"max_retries"`
		} `toml:"upstream"`
	}
	if err := toml.Unmarshal(data, &presence); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Upstream.maxRetriesSet = presence.Upstream.MaxRetries != nil

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.APIKey != "" {
		c.Upstream.APIKey = cli.APIKey
	}
	if cli.RulesDSN != "" {
		c.Rules.DSN = cli.RulesDSN
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// validate reports every problem in the file at once rather than stopping
// at the first one.
func (c *Config) validate() error {
	return errors.Join(
		c.Upstream.validate(),
		c.Server.validate(),
		c.Rules.validate(),
		c.Log.validate(),
		c.Metrics.validate(),
	)
}

func (u *UpstreamConfig) validate() error {
	var errs []error
	if u.APIKey == "" || u.APIKey == "YOUR_API_KEY_HERE" {
		errs = append(errs, errors.New("upstream.api_key is required (set it in config or XS2EVENT_API_KEY)"))
	}

	switch parsed, err := url.Parse(u.BaseURL); {
	case u.BaseURL == "":
		errs = append(errs, errors.New("upstream.base_url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("upstream.base_url is not a valid URL: %w", err))
	case parsed.Scheme != "https":
		errs = append(errs, fmt.Errorf("upstream.base_url must use HTTPS; got %q", u.BaseURL))
	}

	for _, f := range []struct {
		name string
		v    int64
	}{
		{"timeout_ms", int64(u.TimeoutMS)},
		{"connect_timeout_ms", int64(u.ConnectTimeoutMS)},
		{"idle_connections", int64(u.IdleConnections)},
		{"backoff_ms", int64(u.BackoffMS)},
		{"max_backoff_ms", int64(u.MaxBackoffMS)},
		{"stream_threshold_bytes", u.StreamThresholdBytes},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("upstream.%s must be non-negative; got %d", f.name, f.v))
		}
	}
	if u.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("upstream.max_retries must be >= 0; got %d", u.MaxRetries))
	}
	if u.BackoffMS > maxBackoffCeilingMS {
		errs = append(errs, fmt.Errorf("upstream.backoff_ms must be at most %d; got %d", maxBackoffCeilingMS, u.BackoffMS))
	}
	if u.MaxBackoffMS > maxBackoffCeilingMS {
		errs = append(errs, fmt.Errorf("upstream.max_backoff_ms must be at most %d; got %d", maxBackoffCeilingMS, u.MaxBackoffMS))
	}
	if u.MaxBackoffMS > 0 && u.BackoffMS > u.MaxBackoffMS {
		errs = append(errs, fmt.Errorf("upstream.backoff_ms (%d) exceeds upstream.max_backoff_ms (%d)", u.BackoffMS, u.MaxBackoffMS))
	}
	return errors.Join(errs...)
}

func (s *ServerConfig) validate() error {
	var errs []error
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 0-65535; got %d", s.Port))
	}
	if s.BodyMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("server.body_max_bytes must be non-negative; got %d", s.BodyMaxBytes))
	}
	if s.RateLimit.Enabled && s.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", s.RateLimit.RequestsPerSecond))
	}
	return errors.Join(errs...)
}

func (r *RulesConfig) validate() error {
	switch r.Driver {
	case "", "sqlite3":
		return nil
	case "postgres":
		if r.DSN == "" {
			return errors.New("rules.dsn is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("rules.driver must be one of: sqlite3, postgres; got %q", r.Driver)
	}
}

func (l *LogConfig) validate() error {
	var errs []error
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "json", "text", "":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", l.Format))
	}
	return errors.Join(errs...)
}

// validate checks the metrics path only when metrics are served.
func (m *MetricsConfig) validate() error {
	if !m.Enabled || m.Path == "" {
		return nil
	}
	if m.Path[0] != '/' {
		return fmt.Errorf("metrics.path must start with '/'; got %q", m.Path)
	}
	for _, reserved := range reservedPrefixes {
		if m.Path == reserved || strings.HasPrefix(m.Path, reserved+"/") {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", m.Path, reserved)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutMS == 0 {
		c.Upstream.TimeoutMS = 30_000
	}
	if c.Upstream.ConnectTimeoutMS == 0 {
		c.Upstream.ConnectTimeoutMS = 5_000
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if !c.Upstream.maxRetriesSet {
		c.Upstream.MaxRetries = 3
	}
	if c.Upstream.BackoffMS == 0 {
		c.Upstream.BackoffMS = 1_000
	}
	if c.Upstream.MaxBackoffMS == 0 {
		c.Upstream.MaxBackoffMS = maxBackoffCeilingMS
	}
	if c.Upstream.StreamThresholdBytes == 0 {
		c.Upstream.StreamThresholdBytes = 1024 * 1024 // 1 MB
	}
	if c.Rules.Driver == "" {
		c.Rules.Driver = "sqlite3"
	}
	if c.Rules.DSN == "" {
		c.Rules.DSN = "file:rules.db?_foreign_keys=on"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Timeout returns the per-attempt upstream timeout.
func (u *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutMS) * time.Millisecond
}

// ConnectTimeout returns the upstream dial timeout.
func (u *UpstreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(u.ConnectTimeoutMS) * time.Millisecond
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file carries the upstream API key.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
