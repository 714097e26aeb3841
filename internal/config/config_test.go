package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Addr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Stock.LowThreshold)
	assert.Equal(t, uint64(3), cfg.Purchase.MaxRetries)
	assert.Equal(t, 20*time.Millisecond, cfg.Purchase.InitialBackoff)
	assert.False(t, cfg.Postgres.AutoMigrate)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("STOCK_LOW_THRESHOLD", "3")
	t.Setenv("HTTP_ADDR", ":9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Len(t, cfg.Kafka.Brokers, 2)
	assert.Equal(t, 3, cfg.Stock.LowThreshold)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.yaml")
	body := "service_name: sweets-test\nhttp:\n  addr: \":7000\"\nstock:\n  low_threshold: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sweets-test", cfg.ServiceName)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, 4, cfg.Stock.LowThreshold)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(Log{Level: "debug", Env: "prod"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(Log{Level: "loud"})
	assert.Error(t, err)
}
