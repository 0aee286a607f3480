package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/movie-rental/internal/port"
)

func envOf(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, port.LockOptimistic, cfg.LockMode)
	assert.Equal(t, 50, cfg.MaxOpenConns)
	assert.Equal(t, 10*time.Second, cfg.ShutdownPeriod)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.Development())
}

func TestFromEnv_Full(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"HTTP_ADDR":       ":9090",
		"STORE_DRIVER":    "Postgres",
		"POSTGRES_DSN":    "postgres://localhost/rentals",
		"LOCK_MODE":       "pessimistic",
		"KAFKA_BROKERS":   "kafka-1:9092, kafka-2:9092,",
		"KAFKA_TOPIC":     "rentals",
		"APP_ENV":         "development",
		"MAX_OPEN_CONNS":  "12",
		"SHUTDOWN_PERIOD": "3s",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, port.LockPessimistic, cfg.LockMode)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "rentals", cfg.KafkaTopic)
	assert.Equal(t, 12, cfg.MaxOpenConns)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.True(t, cfg.Development())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"mysql without dsn", map[string]string{"STORE_DRIVER": "mysql"}},
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres"}},
		{"unknown lock mode", map[string]string{"LOCK_MODE": "none"}},
		{"bad max conns", map[string]string{"MAX_OPEN_CONNS": "-1"}},
		{"bad shutdown period", map[string]string{"SHUTDOWN_PERIOD": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envOf(tt.vars))
			assert.Error(t, err)
		})
	}
}
