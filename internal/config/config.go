package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rl1809/movie-rental/internal/port"
)

const (
	ServiceName    = "movie-rental"
	ServiceVersion = "0.1.0"
)

const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

const (
	defaultHTTPAddr       = ":8080"
	defaultGRPCAddr       = ":50051"
	defaultKafkaTopic     = "rental-events"
	defaultMaxOpenConns   = 50
	defaultShutdownPeriod = 10 * time.Second
)

type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	StoreDriver    string
	MySQLDSN       string
	PostgresDSN    string
	LockMode       port.LockMode
	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string
	OtelEndpoint   string
	Env            string
	MaxOpenConns   int
	ShutdownPeriod time.Duration
}

func (c *Config) Development() bool {
	return c.Env == "development"
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		HTTPAddr:       valueOr(getenv("HTTP_ADDR"), defaultHTTPAddr),
		GRPCAddr:       valueOr(getenv("GRPC_ADDR"), defaultGRPCAddr),
		StoreDriver:    strings.ToLower(valueOr(getenv("STORE_DRIVER"), DriverMemory)),
		MySQLDSN:       getenv("MYSQL_DSN"),
		PostgresDSN:    getenv("POSTGRES_DSN"),
		LockMode:       port.LockMode(strings.ToLower(valueOr(getenv("LOCK_MODE"), string(port.LockOptimistic)))),
		RedisAddr:      getenv("REDIS_ADDR"),
		KafkaTopic:     valueOr(getenv("KAFKA_TOPIC"), defaultKafkaTopic),
		OtelEndpoint:   getenv("OTEL_ENDPOINT"),
		Env:            valueOr(getenv("APP_ENV"), "production"),
		MaxOpenConns:   defaultMaxOpenConns,
		ShutdownPeriod: defaultShutdownPeriod,
	}

	if brokers := getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if v := getenv("MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_OPEN_CONNS must be a positive integer, got %q", v)
		}
		cfg.MaxOpenConns = n
	}

	if v := getenv("SHUTDOWN_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("SHUTDOWN_PERIOD must be a positive duration, got %q", v)
		}
		cfg.ShutdownPeriod = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN environment variable is required for driver %s", c.StoreDriver)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN environment variable is required for driver %s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, mysql, postgres, got %q", c.StoreDriver)
	}

	switch c.LockMode {
	case port.LockOptimistic, port.LockPessimistic:
	default:
		return fmt.Errorf("LOCK_MODE must be optimistic or pessimistic, got %q", c.LockMode)
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC environment variable is required when KAFKA_BROKERS is set")
	}
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
