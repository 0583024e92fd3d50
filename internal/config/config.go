// Package config loads and validates the data API configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the MDA_ prefix (e.g., MDA_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs with a config.yaml in
// local development and with pure environment variables in containers.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/missionsdata/missions-api/internal/serializer"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "MDA"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	API       APIConfig       `mapstructure:"api"`
	XML       XMLConfig       `mapstructure:"xml"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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

// CacheConfig holds the Redis read-through cache settings for people group queries.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys APIKeyConfig `mapstructure:"api_keys"`
	Admin   AdminConfig  `mapstructure:"admin"`
}

// APIKeyConfig controls where API keys are read from on requests and how new keys look.
type APIKeyConfig struct {
	Header     string `mapstructure:"header"`
	QueryParam string `mapstructure:"query_param"`
	Prefix     string `mapstructure:"prefix"`
}

// AdminConfig holds the admin session token settings.
type AdminConfig struct {
	// JWTSecret signs admin session tokens (HS256). Falls back to MDA_JWT_SECRET
	// when empty.
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	CookieName string        `mapstructure:"cookie_name"`
}

// APIConfig holds request-level defaults for the data endpoints.
type APIConfig struct {
	MaxPageSize      int    `mapstructure:"max_page_size"`
	DefaultSortField string `mapstructure:"default_sort_field"`
}

// XMLConfig holds the default wrapper tags used when a sequence is rendered as XML.
// Both must be set or both left empty.
type XMLConfig struct {
	CollectionTag string `mapstructure:"collection_tag"`
	ItemTag       string `mapstructure:"item_tag"`
}

// UsageConfig controls the API key usage meter.
type UsageConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
	TLS  TLSConfig  `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// envKeys lists every key bound to an environment variable. AutomaticEnv alone does
// not reach nested keys during Unmarshal.
var envKeys = []string{
	"server.host",
	"server.port",
	"server.base_url",
	"server.read_timeout",
	"server.write_timeout",
	"server.shutdown_timeout",

	"database.host",
	"database.port",
	"database.name",
	"database.user",
	"database.password",
	"database.ssl_mode",
	"database.max_connections",
	"database.min_idle_connections",

	"cache.enabled",
	"cache.addr",
	"cache.password",
	"cache.db",
	"cache.ttl",

	"auth.api_keys.header",
	"auth.api_keys.query_param",
	"auth.api_keys.prefix",
	"auth.admin.jwt_secret",
	"auth.admin.token_ttl",
	"auth.admin.cookie_name",

	"api.max_page_size",
	"api.default_sort_field",

	"xml.collection_tag",
	"xml.item_tag",

	"usage.flush_interval",

	"security.cors.allowed_origins",
	"security.cors.allowed_methods",
	"security.tls.enabled",
	"security.tls.cert_file",
	"security.tls.key_file",

	"logging.level",
	"logging.format",

	"telemetry.service_name",
	"telemetry.metrics.enabled",
	"telemetry.metrics.port",
}

// bindEnvVars explicitly binds environment variables to config keys.
// viper.BindEnv only errors when called with zero keys, so any error here is a programming bug.
func bindEnvVars(v *viper.Viper) error {
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the configuration whenever the config file changes and hands each
// valid result to onChange. Invalid edits are logged and skipped. Without a config
// file there is nothing to watch and Watch returns nil.
func Watch(configPath string, onChange func(*Config)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/missions-api")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Cache.Password = expandEnv(cfg.Cache.Password)
	cfg.Auth.Admin.JWTSecret = expandEnv(cfg.Auth.Admin.JWTSecret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "missions_api")
	v.SetDefault("database.user", "missions")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "5m")

	v.SetDefault("auth.api_keys.header", "X-API-Key")
	v.SetDefault("auth.api_keys.query_param", "api_key")
	v.SetDefault("auth.api_keys.prefix", "mda")
	v.SetDefault("auth.admin.token_ttl", "8h")
	v.SetDefault("auth.admin.cookie_name", "admin_session")

	v.SetDefault("api.max_page_size", 500)
	v.SetDefault("api.default_sort_field", "name")

	v.SetDefault("xml.collection_tag", "")
	v.SetDefault("xml.item_tag", "")

	v.SetDefault("usage.flush_interval", "30s")

	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "OPTIONS"})
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.service_name", "missions-api")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when the cache is enabled")
	}

	if (c.XML.CollectionTag == "") != (c.XML.ItemTag == "") {
		return fmt.Errorf("xml.collection_tag and xml.item_tag must be set together")
	}
	for key, tag := range map[string]string{"xml.collection_tag": c.XML.CollectionTag, "xml.item_tag": c.XML.ItemTag} {
		if tag != "" && !serializer.ValidName(tag) {
			return fmt.Errorf("%s %q is not a valid XML element name", key, tag)
		}
	}

	if c.API.MaxPageSize < 1 {
		return fmt.Errorf("api.max_page_size must be positive, got %d", c.API.MaxPageSize)
	}

	if c.Telemetry.Metrics.Enabled {
		if p := c.Telemetry.Metrics.Port; p < 1 || p > 65535 {
			return fmt.Errorf("invalid metrics port: %d", p)
		}
		if c.Telemetry.Metrics.Port == c.Server.Port {
			return fmt.Errorf("telemetry.metrics.port must differ from server.port")
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AdminSecret returns the admin token signing secret, falling back to MDA_JWT_SECRET.
func (c *AuthConfig) AdminSecret() string {
	if c.Admin.JWTSecret != "" {
		return c.Admin.JWTSecret
	}
	return os.Getenv(EnvPrefix + "_JWT_SECRET")
}
