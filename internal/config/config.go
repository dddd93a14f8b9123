package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the service-level configuration loaded from config.yaml and
// STINGER_* environment variables. Pipeline configs (which guardrails run)
// are loaded separately, see pipeline.go.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`

	// DefaultPreset selects the pipeline used when a request names none.
	DefaultPreset string `mapstructure:"default_preset"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

// AuthConfig holds the accepted API key hashes. Keys are never stored in
// clear; each entry is the hex SHA-256 of a valid key.
type AuthConfig struct {
	RequireAuth  bool     `mapstructure:"require_auth"`
	APIKeyHashes []string `mapstructure:"api_key_hashes"`
}

type RateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Backend           string `mapstructure:"backend"` // memory or redis
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	RequestsPerHour   int    `mapstructure:"requests_per_hour"`
	RequestsPerDay    int    `mapstructure:"requests_per_day"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type AuditConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Destination   string        `mapstructure:"destination"`
	RedactPII     bool          `mapstructure:"redact_pii"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LimitsConfig bounds request payloads on the HTTP surface.
type LimitsConfig struct {
	MaxBodyBytes    int64 `mapstructure:"max_body_bytes"`
	MaxTextBytes    int   `mapstructure:"max_text_bytes"`
	MaxContextBytes int   `mapstructure:"max_context_bytes"`
	MaxPresetChars  int   `mapstructure:"max_preset_chars"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

func Load(configPath string) (*Config, error) {
	viper.Reset()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/stinger")
	}

	setDefaults()

	viper.SetEnvPrefix("STINGER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown", "15s")

	viper.SetDefault("auth.require_auth", false)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.backend", "memory")
	viper.SetDefault("rate_limit.requests_per_minute", 60)
	viper.SetDefault("rate_limit.requests_per_hour", 1000)
	viper.SetDefault("rate_limit.requests_per_day", 10000)

	viper.SetDefault("redis.url", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.destination", "stdout")
	viper.SetDefault("audit.redact_pii", false)
	viper.SetDefault("audit.buffer_size", 1000)
	viper.SetDefault("audit.flush_interval", "1s")

	viper.SetDefault("limits.max_body_bytes", 1<<20)
	viper.SetDefault("limits.max_text_bytes", 100*1024)
	viper.SetDefault("limits.max_context_bytes", 10*1024)
	viper.SetDefault("limits.max_preset_chars", 50)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("logging.output_path", "stdout")

	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{"Accept", "Content-Type", "X-API-Key"})
	viper.SetDefault("cors.allow_credentials", false)
	viper.SetDefault("cors.max_age", 300)

	viper.SetDefault("default_preset", "customer_service")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return fmt.Errorf("invalid rate limit backend: %s", c.RateLimit.Backend)
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	return nil
}
