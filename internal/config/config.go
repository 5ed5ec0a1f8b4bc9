package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/italolelis/assetflow/internal/telemetry"
)

// Config holds the asset service settings read from the environment.
type Config struct {
	DBPath        string        `envconfig:"DB_PATH" default:"assetflow.db"`
	LocalDir      string        `envconfig:"LOCAL_DIR" default:"assets"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"INFO"`
	TokenCacheTTL time.Duration `envconfig:"TOKEN_CACHE_TTL" default:"10m"`
	PresignExpiry time.Duration `envconfig:"PRESIGN_EXPIRY" default:"5m"`
	MaxUploadSize int64         `envconfig:"MAX_UPLOAD_SIZE" default:"536870912"`

	OrphanCheckInterval time.Duration `envconfig:"ORPHAN_CHECK_INTERVAL" default:"1h"`
	OrphanGracePeriod   time.Duration `envconfig:"ORPHAN_GRACE_PERIOD" default:"15m"`
	DiscordWebhookURL   string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool          `split_words:"true" default:"true"`
		ServiceName  string        `split_words:"true" default:"assetflow"`
		OTLPEndpoint string        `envconfig:"OTLP_ENDPOINT"`
		OTLPInterval time.Duration `envconfig:"OTLP_INTERVAL" default:"30s"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"5m"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	return parseLevel(c.LogLevel)
}

// TelemetryConfig converts the telemetry settings for telemetry.New.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		OTLPInterval:   c.Telemetry.OTLPInterval,
	}
}

// ClientConfig holds the download client settings. Command line flags take
// precedence over these values.
type ClientConfig struct {
	Server      string        `envconfig:"SERVER" default:"http://localhost:8080"`
	Token       string        `envconfig:"TOKEN"`
	MaxParallel int           `envconfig:"MAX_PARALLEL" default:"5"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"30s"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"INFO"`
}

// LoadClientConfig reads the ASSETFLOW_ prefixed environment variables.
func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process("assetflow", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) SlogLevel() slog.Level {
	return parseLevel(c.LogLevel)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
