package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"

	DispatchLog   = "log"
	DispatchKafka = "kafka"
	DispatchRedis = "redis"
	DispatchNATS  = "nats"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	StoreDriver  string        `env:"STORE_DRIVER" default:"memory"`
	RedisURL     string        `env:"REDIS_URL"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	BoltPath     string        `env:"BOLT_PATH" default:"orderpulse.db"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" default:"5s"`

	DispatchDriver string   `env:"DISPATCH_DRIVER" default:"log"`
	KafkaBrokers   []string `env:"KAFKA_BROKERS"`
	KafkaTopic     string   `env:"KAFKA_TOPIC" default:"order-status"`
	DispatchStream string   `env:"DISPATCH_STREAM" default:"orderpulse:dispatch"`
	NATSURL        string   `env:"NATS_URL"`
	NATSSubject    string   `env:"NATS_SUBJECT" default:"orderpulse.order_status"`
	DispatchBuffer int      `env:"DISPATCH_BUFFER" default:"1024"`

	MailboxSize           int           `env:"MAILBOX_SIZE" default:"256"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL" default:"30s"`
	SessionIdleTimeout    time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"90s"`
	NotificationRetention time.Duration `env:"NOTIFICATION_RETENTION" default:"0s"`
	ActorPassivateAfter   time.Duration `env:"ACTOR_PASSIVATE_AFTER" default:"5m"`

	MaxWebSocketConnections int      `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	AllowedOrigins          []string `env:"ALLOWED_ORIGINS"`
	APIRateLimit            float64  `env:"API_RATE_LIMIT" default:"20"`
	APIRateBurst            int      `env:"API_RATE_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_DRIVER=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
		if err := validateSSLMode(cfg); err != nil {
			return err
		}
	case StoreBolt:
		if cfg.BoltPath == "" {
			return errors.New("BOLT_PATH is required when STORE_DRIVER=bolt")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.DispatchDriver {
	case DispatchLog:
	case DispatchKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when DISPATCH_DRIVER=kafka")
		}
	case DispatchRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when DISPATCH_DRIVER=redis")
		}
	case DispatchNATS:
		if cfg.NATSURL == "" {
			return errors.New("NATS_URL is required when DISPATCH_DRIVER=nats")
		}
	default:
		return fmt.Errorf("unknown DISPATCH_DRIVER %q", cfg.DispatchDriver)
	}

	if cfg.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if cfg.MailboxSize < 1 {
		return errors.New("MAILBOX_SIZE must be at least 1")
	}
	if cfg.DispatchBuffer < 1 {
		return errors.New("DISPATCH_BUFFER must be at least 1")
	}
	if cfg.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return errors.New("SESSION_IDLE_TIMEOUT must be positive")
	}
	if cfg.NotificationRetention < 0 {
		return errors.New("NOTIFICATION_RETENTION must not be negative")
	}
	if cfg.ActorPassivateAfter < 0 {
		return errors.New("ACTOR_PASSIVATE_AFTER must not be negative")
	}
	return nil
}

func validateSSLMode(cfg *Config) error {
	if cfg.AppEnv != "production" {
		return nil
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
