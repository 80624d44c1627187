// Package config handles Praetor configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/praetor-sec/praetor/internal/types"
)

// Config is the top-level Praetor configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Detection DetectionConfig `yaml:"detection"`
	Storage   StorageConfig   `yaml:"storage"`
	Web       WebConfig       `yaml:"web"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig configures core service behavior.
type ServiceConfig struct {
	Hostname string `yaml:"hostname"`
	DataDir  string `yaml:"data_dir"`
}

// DetectionConfig tunes the alerting engine.
type DetectionConfig struct {
	Interval          time.Duration             `yaml:"interval"`           // scheduler tick
	Window            time.Duration             `yaml:"window"`             // detector query window
	DedupTTL          time.Duration             `yaml:"dedup_ttl"`          // dedup cache expiry
	CorrelationWindow time.Duration             `yaml:"correlation_window"` // ± around firstOccurrence
	CorrelationLimit  int                       `yaml:"correlation_limit"`
	Thresholds        types.DetectionThresholds `yaml:"thresholds"`
}

// StorageConfig controls the persistence layer.
type StorageConfig struct {
	Driver string `yaml:"driver"` // only "sqlite" is supported
	DSN    string `yaml:"dsn"`    // file path or :memory:
}

// WebConfig controls the HTTP API server.
type WebConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // e.g., 127.0.0.1:8443
	TLSCert    string `yaml:"tls_cert,omitempty"`
	TLSKey     string `yaml:"tls_key,omitempty"`
	SessionKey string `yaml:"session_key"`
	TOTPIssuer string `yaml:"totp_issuer"`
}

// NotifyConfig controls out-of-band alert delivery channels.
type NotifyConfig struct {
	MinSeverity string          `yaml:"min_severity"` // lowest severity dispatched
	Webhook     *WebhookConfig  `yaml:"webhook,omitempty"`
	Telegram    *TelegramConfig `yaml:"telegram,omitempty"`
}

// WebhookConfig configures the generic HTTP webhook channel.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret,omitempty"` // HMAC-SHA256 signing key
	Headers map[string]string `yaml:"headers,omitempty"`
}

// TelegramConfig configures the Telegram notification channel.
type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, console
	Output     string `yaml:"output"` // stdout, or a file path (rotated)
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ResolveEnv replaces ${VAR} references in config strings with their env values.
func ResolveEnv(s string) string {
	if len(s) > 3 && s[0] == '$' && s[1] == '{' && s[len(s)-1] == '}' {
		envKey := s[2 : len(s)-1]
		if v := os.Getenv(envKey); v != "" {
			return v
		}
	}
	return s
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		Service: ServiceConfig{
			Hostname: hostname,
			DataDir:  "./data",
		},
		Detection: DetectionConfig{
			Interval:          5 * time.Minute,
			Window:            1 * time.Hour,
			DedupTTL:          1 * time.Hour,
			CorrelationWindow: 1 * time.Hour,
			CorrelationLimit:  10,
			Thresholds:        types.DefaultThresholds(),
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "./data/praetor.db",
		},
		Web: WebConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8443",
			TOTPIssuer: "Praetor",
		},
		Notify: NotifyConfig{
			MinSeverity: "high",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// Load reads a YAML config file and merges it with defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate checks required fields and constraints, clamping soft limits.
func (c *Config) Validate() error {
	if c.Service.DataDir == "" {
		return fmt.Errorf("service.data_dir is required")
	}
	if c.Storage.Driver != "sqlite" {
		return fmt.Errorf("storage.driver must be 'sqlite', got %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Web.Enabled && c.Web.ListenAddr == "" {
		return fmt.Errorf("web.listen_addr is required when web is enabled")
	}
	if c.Notify.Webhook != nil && c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url is required when webhook is enabled")
	}
	if c.Notify.Telegram != nil && c.Notify.Telegram.Enabled && c.Notify.Telegram.BotToken == "" {
		return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
	}

	if c.Detection.Interval < 30*time.Second {
		c.Detection.Interval = 30 * time.Second
	}
	if c.Detection.Window <= 0 {
		c.Detection.Window = 1 * time.Hour
	}
	if c.Detection.DedupTTL <= 0 {
		c.Detection.DedupTTL = 1 * time.Hour
	}
	if c.Detection.CorrelationWindow <= 0 {
		c.Detection.CorrelationWindow = 1 * time.Hour
	}
	if c.Detection.CorrelationLimit < 1 {
		c.Detection.CorrelationLimit = 10
	}
	if err := validateThresholds(&c.Detection.Thresholds); err != nil {
		return err
	}

	// Resolve env vars for secrets.
	if c.Web.SessionKey != "" {
		c.Web.SessionKey = ResolveEnv(c.Web.SessionKey)
	}
	if c.Notify.Webhook != nil && c.Notify.Webhook.Secret != "" {
		c.Notify.Webhook.Secret = ResolveEnv(c.Notify.Webhook.Secret)
	}
	if c.Notify.Telegram != nil && c.Notify.Telegram.BotToken != "" {
		c.Notify.Telegram.BotToken = ResolveEnv(c.Notify.Telegram.BotToken)
	}

	return nil
}

// validateThresholds replaces non-positive thresholds with defaults. A zero
// threshold would alert on every event group, which is never intended.
func validateThresholds(th *types.DetectionThresholds) error {
	def := types.DefaultThresholds()
	if th.FailedLoginsPerIP < 1 {
		th.FailedLoginsPerIP = def.FailedLoginsPerIP
	}
	if th.FailedLoginsPerUser < 1 {
		th.FailedLoginsPerUser = def.FailedLoginsPerUser
	}
	if th.RateLimitHits < 1 {
		th.RateLimitHits = def.RateLimitHits
	}
	if th.UnauthorizedAccess < 1 {
		th.UnauthorizedAccess = def.UnauthorizedAccess
	}
	if th.ConcurrentSessions < 1 {
		th.ConcurrentSessions = def.ConcurrentSessions
	}
	if th.PermissionDenials < 1 {
		th.PermissionDenials = def.PermissionDenials
	}
	if th.DataExports < 1 {
		th.DataExports = def.DataExports
	}
	return nil
}
