package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the billing service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Billing   BillingConfig
	Worker    WorkerConfig
	Gifts     GiftConfig
	Payments  PaymentsConfig
	Signaling SignalingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string // postgres or memory
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN builds a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr is host:port.
func (c RedisConfig) Addr() string { return c.Host + ":" + c.Port }

type JWTConfig struct {
	SecretKey string
}

// BillingConfig drives the billing clock, balance guard and revenue split.
type BillingConfig struct {
	TickInterval     time.Duration
	PlatformTakeBps  int64 // platform share in basis points, 3000 = 30%
	MaxLedgerRetries int
	RetryBackoff     time.Duration
	LedgerTimeout    time.Duration
	Currency         string
}

// WorkerConfig drives the settlement worker.
type WorkerConfig struct {
	Interval      time.Duration
	SessionExpiry time.Duration
	BatchSize     int
}

type GiftConfig struct {
	RateLimit  int
	RateWindow time.Duration
}

type PaymentsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type SignalingConfig struct {
	Secret string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

var envBindings = map[string]string{
	"server.port":                "HTTP_PORT",
	"server.allowed_origins":     "CORS_ALLOWED_ORIGINS",
	"database.driver":            "DATABASE_DRIVER",
	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"redis.host":                 "REDIS_HOST",
	"redis.port":                 "REDIS_PORT",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"jwt.secret_key":             "JWT_SECRET_KEY",
	"billing.tick_interval":      "BILLING_TICK_INTERVAL",
	"billing.platform_take_bps":  "BILLING_PLATFORM_TAKE_BPS",
	"billing.max_ledger_retries": "BILLING_MAX_LEDGER_RETRIES",
	"billing.retry_backoff":      "BILLING_RETRY_BACKOFF",
	"billing.ledger_timeout":     "BILLING_LEDGER_TIMEOUT",
	"billing.currency":           "BILLING_CURRENCY",
	"worker.interval":            "WORKER_INTERVAL",
	"worker.session_expiry":      "WORKER_SESSION_EXPIRY",
	"worker.batch_size":          "WORKER_BATCH_SIZE",
	"gifts.rate_limit":           "GIFTS_RATE_LIMIT",
	"gifts.rate_window":          "GIFTS_RATE_WINDOW",
	"payments.base_url":          "PAYMENTS_BASE_URL",
	"payments.api_key":           "PAYMENTS_API_KEY",
	"payments.timeout":           "PAYMENTS_TIMEOUT",
	"signaling.secret":           "SIGNALING_SECRET",
	"log.level":                  "LOG_LEVEL",
	"log.pretty":                 "LOG_PRETTY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "readerline")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("billing.tick_interval", time.Minute)
	v.SetDefault("billing.platform_take_bps", 3000)
	v.SetDefault("billing.max_ledger_retries", 3)
	v.SetDefault("billing.retry_backoff", 200*time.Millisecond)
	v.SetDefault("billing.ledger_timeout", 5*time.Second)
	v.SetDefault("billing.currency", "usd")

	v.SetDefault("worker.interval", time.Minute)
	v.SetDefault("worker.session_expiry", 5*time.Minute)
	v.SetDefault("worker.batch_size", 100)

	v.SetDefault("gifts.rate_limit", 30)
	v.SetDefault("gifts.rate_window", time.Minute)

	v.SetDefault("payments.timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configuration from the optional file at path (a .env, yaml or
// toml file), lets environment variables override it, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{SecretKey: v.GetString("jwt.secret_key")},
		Billing: BillingConfig{
			TickInterval:     v.GetDuration("billing.tick_interval"),
			PlatformTakeBps:  v.GetInt64("billing.platform_take_bps"),
			MaxLedgerRetries: v.GetInt("billing.max_ledger_retries"),
			RetryBackoff:     v.GetDuration("billing.retry_backoff"),
			LedgerTimeout:    v.GetDuration("billing.ledger_timeout"),
			Currency:         v.GetString("billing.currency"),
		},
		Worker: WorkerConfig{
			Interval:      v.GetDuration("worker.interval"),
			SessionExpiry: v.GetDuration("worker.session_expiry"),
			BatchSize:     v.GetInt("worker.batch_size"),
		},
		Gifts: GiftConfig{
			RateLimit:  v.GetInt("gifts.rate_limit"),
			RateWindow: v.GetDuration("gifts.rate_window"),
		},
		Payments: PaymentsConfig{
			BaseURL: v.GetString("payments.base_url"),
			APIKey:  v.GetString("payments.api_key"),
			Timeout: v.GetDuration("payments.timeout"),
		},
		Signaling: SignalingConfig{Secret: v.GetString("signaling.secret")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the billing engine cannot run safely with.
func (c *Config) Validate() error {
	if c.Billing.TickInterval <= 0 {
		return errors.New("billing.tick_interval must be positive")
	}
	if c.Billing.PlatformTakeBps < 0 || c.Billing.PlatformTakeBps > 10000 {
		return fmt.Errorf("billing.platform_take_bps must be within [0, 10000], got %d", c.Billing.PlatformTakeBps)
	}
	if c.Billing.MaxLedgerRetries < 1 {
		return errors.New("billing.max_ledger_retries must be at least 1")
	}
	if c.Worker.Interval <= 0 {
		return errors.New("worker.interval must be positive")
	}
	if c.Worker.SessionExpiry < 2*c.Billing.TickInterval {
		return fmt.Errorf("worker.session_expiry (%s) must be at least twice billing.tick_interval (%s)",
			c.Worker.SessionExpiry, c.Billing.TickInterval)
	}
	if c.Worker.BatchSize <= 0 {
		return errors.New("worker.batch_size must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	return nil
}
