// Package config provides environment-based configuration management.
// Every value comes from the environment (optionally seeded from a .env file).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// DBConfig holds MariaDB connection parameters
type DBConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"3306"`
	User     string `env:"USER" envDefault:"root"`
	Password string `env:"PASS"`
	Database string `env:"NAME" envDefault:"shop_assist"`
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"` // Format: host:port
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Env             string        `env:"ENV" envDefault:"production"`
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigin      string        `env:"CORS_ORIGIN" envDefault:"*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// AuthConfig holds the admin token secret.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
}

// CozeConfig holds chat provider credentials and relay tuning.
// Either APIToken (personal access token) or the OAuth app triple must be set.
type CozeConfig struct {
	BaseURL        string        `env:"BASE_URL" envDefault:"https://api.coze.cn"`
	BotID          string        `env:"BOT_ID"`
	APIToken       string        `env:"API_TOKEN"`
	AppID          string        `env:"APP_ID"`
	KeyID          string        `env:"KEY_ID"`
	PrivateKeyPath string        `env:"PRIVATE_KEY_PATH"`
	DatasetID      string        `env:"DATASET_ID"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	PollAttempts   int           `env:"POLL_ATTEMPTS" envDefault:"30"`
	StreamTimeout  time.Duration `env:"STREAM_TIMEOUT" envDefault:"2m"`
}

// EverShopConfig holds storefront API access and the webhook signing secret.
type EverShopConfig struct {
	BaseURL       string `env:"BASE_URL" envDefault:"http://localhost:3000"`
	Email         string `env:"ADMIN_EMAIL"`
	Password      string `env:"ADMIN_PASSWORD"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

// QueueConfig controls the webhook job queue.
type QueueConfig struct {
	Attempts           int           `env:"ATTEMPTS" envDefault:"3"`
	BackoffBase        time.Duration `env:"BACKOFF_BASE" envDefault:"2s"`
	Concurrency        int           `env:"CONCURRENCY" envDefault:"4"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	CompletedRetention int           `env:"COMPLETED_RETENTION" envDefault:"100"`
	CleanGrace         time.Duration `env:"CLEAN_GRACE" envDefault:"24h"`
	CleanInterval      time.Duration `env:"CLEAN_INTERVAL" envDefault:"1h"`
}

// FeatureConfig gates proactive messages.
type FeatureConfig struct {
	SendOrderConfirmation bool   `env:"ORDER_CONFIRMATION" envDefault:"true"`
	SendWelcomeMessage    bool   `env:"WELCOME_MESSAGE" envDefault:"true"`
	DefaultShopID         string `env:"DEFAULT_SHOP_ID" envDefault:"default"`
}

// RelayConfig tunes the real-time relay.
type RelayConfig struct {
	TypingTimeout time.Duration `env:"TYPING_TIMEOUT" envDefault:"3s"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `env:"ENABLED" envDefault:"false"`
	Endpoint    string `env:"EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"shop-assist"`
}

// Config aggregates all configuration sections
type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	DB        DBConfig        `envPrefix:"DB_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Auth      AuthConfig
	Coze      CozeConfig      `envPrefix:"COZE_"`
	EverShop  EverShopConfig  `envPrefix:"EVERSHOP_"`
	Queue     QueueConfig     `envPrefix:"QUEUE_"`
	Features  FeatureConfig   `envPrefix:"FEATURE_"`
	Relay     RelayConfig     `envPrefix:"RELAY_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
}

// Load reads configuration from the environment, seeding it from .env when present.
// Returns error if critical variables are missing
func Load() (*Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()
	return Parse()
}

// Parse reads configuration from the current environment without touching .env.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.DB.Password == "" {
		return fmt.Errorf("DB_PASS environment variable is required")
	}
	if c.Auth.JWTSecret == "" && !c.App.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if strings.TrimSpace(c.Coze.APIToken) == "" {
		if c.Coze.AppID == "" || c.Coze.KeyID == "" || c.Coze.PrivateKeyPath == "" {
			return fmt.Errorf("COZE_API_TOKEN or COZE_APP_ID, COZE_KEY_ID and COZE_PRIVATE_KEY_PATH are required")
		}
	}
	if c.Queue.Attempts <= 0 {
		c.Queue.Attempts = 3
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 1
	}
	if c.Coze.PollAttempts <= 0 {
		c.Coze.PollAttempts = 30
	}
	return nil
}

// IsDevelopment reports whether the process runs in development mode.
func (a AppConfig) IsDevelopment() bool {
	return strings.EqualFold(a.Env, "development")
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}
