// Package config loads and validates the changetrail configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CTL_ prefix (e.g. CTL_DATABASE_HOST
// overrides database.host in the YAML). The same binary runs with a config.yaml
// in local development and with pure environment variables in containerized
// deployments.
//
// Audit filter settings (exclusion patterns, allowlist, category toggles,
// retention horizon) are part of this configuration and are read once at
// startup. They are carried as an explicit value object into the event filter
// and recorder rather than through a mutable global.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Export    ExportConfig    `mapstructure:"export"`
	Retention RetentionConfig `mapstructure:"retention"`
	Shipping  ShippingConfig  `mapstructure:"shipping"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the host:port listen address
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// AuthConfig holds authentication configuration.
//
// ServiceTokenHash is the bcrypt hash of the shared token that machine event
// sources present as a bearer credential. Only the hash is stored in
// configuration; the raw token never appears in config files or env dumps.
type AuthConfig struct {
	ServiceTokenHash string        `mapstructure:"service_token_hash"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	ActionTokenTTL   time.Duration `mapstructure:"action_token_ttl"`
}

// AuditConfig holds the change-event filter settings. Loaded once at startup;
// the compiled form (see filter.NewOptionFilter) is immutable afterwards.
type AuditConfig struct {
	// Per-category toggles for the generic change-event ingest.
	LogOptionChanges bool `mapstructure:"log_option_changes"`
	LogPostChanges   bool `mapstructure:"log_post_changes"`
	LogUserChanges   bool `mapstructure:"log_user_changes"`
	LogPluginChanges bool `mapstructure:"log_plugin_changes"`
	LogThemeChanges  bool `mapstructure:"log_theme_changes"`
	LogMediaChanges  bool `mapstructure:"log_media_changes"`
	LogMenuChanges   bool `mapstructure:"log_menu_changes"`
	LogWidgetChanges bool `mapstructure:"log_widget_changes"`

	// LogRoleDefinitions controls whether changes to the stored role
	// definitions option are recorded. Off by default: role definition blobs
	// are large and churn on plugin activation.
	LogRoleDefinitions bool `mapstructure:"log_role_definitions"`

	// RolesOptionKey is the option name under which the framework stores its
	// role definitions.
	RolesOptionKey string `mapstructure:"roles_option_key"`

	// OptionExclusions are wildcard patterns (one per entry, * only) for
	// option names that should never be recorded.
	OptionExclusions []string `mapstructure:"option_exclusions"`

	// OptionAllowlist are exact option names that are always recorded even
	// when they match an exclusion pattern.
	OptionAllowlist []string `mapstructure:"option_allowlist"`
}

// ExportConfig holds CSV export limits
type ExportConfig struct {
	// MaxRows is the hard cap on exportable rows per request.
	MaxRows int `mapstructure:"max_rows"`
	// ChunkSize is the number of rows fetched per database round-trip.
	ChunkSize int `mapstructure:"chunk_size"`
	// PageSize is the default admin listing page size.
	PageSize int `mapstructure:"page_size"`
}

// RetentionConfig holds the automatic cleanup settings
type RetentionConfig struct {
	// Days is the retention horizon; entries older than this are deleted by
	// the daily sweep. Valid range 1-365.
	Days int `mapstructure:"days"`
	// CheckIntervalHours determines how often the sweep runs (default 24).
	CheckIntervalHours int `mapstructure:"check_interval_hours"`
}

// ShippingConfig holds the external audit-entry forwarding settings. Recorded
// entries can additionally be shipped to a webhook (SIEM or log aggregator)
// and/or an NDJSON file, independently of the database write. Both are off by
// default; shipping failures never affect recording.
type ShippingConfig struct {
	Webhook WebhookShippingConfig `mapstructure:"webhook"`
	File    FileShippingConfig    `mapstructure:"file"`
}

// WebhookShippingConfig configures forwarding entries to an HTTP endpoint.
type WebhookShippingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	// AuthHeader, when set, is sent as the Authorization header value.
	AuthHeader string        `mapstructure:"auth_header"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// BatchSize > 0 batches entries into a single JSON array per request;
	// 0 sends each entry individually.
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// FileShippingConfig configures appending entries to a local NDJSON file with
// size-based rotation.
type FileShippingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// DefaultOptionExclusions is the built-in exclusion pattern set applied when
// audit.option_exclusions is not configured. It covers the option families
// that change on nearly every request and would otherwise flood the log.
func DefaultOptionExclusions() []string {
	return []string{
		// Transients (also caught by the built-in prefix skip, listed for
		// completeness so operators see the full picture in one place).
		"_transient_*",
		"_site_transient_*",

		// Cron bookkeeping.
		"cron",
		"doing_cron",

		// Asset versions.
		"__*_asset_version",
		"*_version_*",

		// Hit counters and analytics.
		"*hit_count*",
		"*page_views*",
		"*visitor_count*",

		// Role definitions (unless explicitly enabled).
		"user_roles",
		"*_user_roles",

		// Sessions and cache.
		"*_session_*",
		"*_cache_*",

		// Temporary data.
		"*_temp_*",
		"*_tmp_*",

		// Auto-generated state.
		"rewrite_rules",
		"*_doing_*",
		"*_processing_*",
	}
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; since every key here is a non-empty hardcoded string, any error
// indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Auth
		"auth.service_token_hash",
		"auth.session_ttl",
		"auth.action_token_ttl",

		// Audit
		"audit.log_option_changes",
		"audit.log_post_changes",
		"audit.log_user_changes",
		"audit.log_plugin_changes",
		"audit.log_theme_changes",
		"audit.log_media_changes",
		"audit.log_menu_changes",
		"audit.log_widget_changes",
		"audit.log_role_definitions",
		"audit.roles_option_key",
		"audit.option_exclusions",
		"audit.option_allowlist",

		// Export
		"export.max_rows",
		"export.chunk_size",
		"export.page_size",

		// Retention
		"retention.days",
		"retention.check_interval_hours",

		// Shipping
		"shipping.webhook.enabled",
		"shipping.webhook.url",
		"shipping.webhook.auth_header",
		"shipping.webhook.timeout",
		"shipping.webhook.batch_size",
		"shipping.webhook.flush_interval",
		"shipping.file.enabled",
		"shipping.file.path",
		"shipping.file.max_size_mb",
		"shipping.file.max_backups",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.prometheus_port",

		// Security
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/changetrail")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("CTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "changetrail")
	v.SetDefault("database.user", "changetrail")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Auth defaults
	v.SetDefault("auth.session_ttl", "12h")
	v.SetDefault("auth.action_token_ttl", "5m")

	// Audit defaults: every category on except role definitions.
	v.SetDefault("audit.log_option_changes", true)
	v.SetDefault("audit.log_post_changes", true)
	v.SetDefault("audit.log_user_changes", true)
	v.SetDefault("audit.log_plugin_changes", true)
	v.SetDefault("audit.log_theme_changes", true)
	v.SetDefault("audit.log_media_changes", true)
	v.SetDefault("audit.log_menu_changes", true)
	v.SetDefault("audit.log_widget_changes", true)
	v.SetDefault("audit.log_role_definitions", false)
	v.SetDefault("audit.roles_option_key", "user_roles")
	v.SetDefault("audit.option_exclusions", DefaultOptionExclusions())
	v.SetDefault("audit.option_allowlist", []string{})

	// Export defaults
	v.SetDefault("export.max_rows", 50000)
	v.SetDefault("export.chunk_size", 1000)
	v.SetDefault("export.page_size", 50)

	// Retention defaults
	v.SetDefault("retention.days", 21)
	v.SetDefault("retention.check_interval_hours", 24)

	// Shipping defaults: forwarding is opt-in.
	v.SetDefault("shipping.webhook.enabled", false)
	v.SetDefault("shipping.webhook.timeout", "10s")
	v.SetDefault("shipping.webhook.batch_size", 0)
	v.SetDefault("shipping.webhook.flush_interval", "5s")
	v.SetDefault("shipping.file.enabled", false)
	v.SetDefault("shipping.file.max_size_mb", 100)
	v.SetDefault("shipping.file.max_backups", 3)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9090)

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)
}

// Validate checks configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Retention.Days < 1 || c.Retention.Days > 365 {
		return fmt.Errorf("retention.days must be between 1 and 365, got %d", c.Retention.Days)
	}
	if c.Export.MaxRows < 1 {
		return fmt.Errorf("export.max_rows must be positive, got %d", c.Export.MaxRows)
	}
	if c.Export.ChunkSize < 1 {
		return fmt.Errorf("export.chunk_size must be positive, got %d", c.Export.ChunkSize)
	}
	if c.Export.PageSize < 1 {
		return fmt.Errorf("export.page_size must be positive, got %d", c.Export.PageSize)
	}
	if c.Audit.RolesOptionKey == "" {
		return fmt.Errorf("audit.roles_option_key must not be empty")
	}
	if c.Shipping.Webhook.Enabled && c.Shipping.Webhook.URL == "" {
		return fmt.Errorf("shipping.webhook.url must be set when webhook shipping is enabled")
	}
	if c.Shipping.File.Enabled && c.Shipping.File.Path == "" {
		return fmt.Errorf("shipping.file.path must be set when file shipping is enabled")
	}
	return nil
}
