package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hunter_bot/internal/broker"
	"hunter_bot/internal/journal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
service:
  name: hunter_test
broker:
  platform: MT5
  server: ${TEST_MT5_SERVER}
  login: 5012345
  password: ${TEST_MT5_PASSWORD}
  bridge_url: http://127.0.0.1:9000
paper:
  quotes:
    EURUSD: {bid: 1.1, ask: 1.1002}
general:
  update_interval: 0.5
executor:
  max_retries: 5
  retry_delay: 250ms
journal:
  driver: sqlite
  dsn: ":memory:"
`

func TestParseFull(t *testing.T) {
	t.Setenv("TEST_MT5_SERVER", "Demo-Server")
	t.Setenv("TEST_MT5_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "hunter_test", cfg.Service.Name)
	assert.Equal(t, "Demo-Server", cfg.Broker.Server)
	assert.Equal(t, "s3cret", cfg.Broker.Password)
	assert.Equal(t, int64(5012345), cfg.Broker.Login)
	assert.Equal(t, 500*time.Millisecond, cfg.General.UpdateInterval)
	assert.Equal(t, 5*time.Second, cfg.General.StopTimeout)
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.RetryDelay)

	bc := cfg.BrokerConfig()
	assert.Equal(t, broker.PlatformMT5, bc.Platform)
	assert.Equal(t, 10*time.Second, bc.Timeout)
	require.Contains(t, bc.Paper.Quotes, "EURUSD")
	assert.InDelta(t, 1.1002, bc.Paper.Quotes["EURUSD"].Ask, 1e-12)

	assert.Equal(t, journal.Config{Driver: "sqlite", DSN: ":memory:"}, cfg.JournalConfig())
	assert.Equal(t, 500*time.Millisecond, cfg.MonitorConfig().UpdateInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.ExecutorConfig().RetryDelay)
}

func TestParseMissingEnv(t *testing.T) {
	t.Setenv("TEST_MT5_SERVER", "Demo-Server")
	os.Unsetenv("TEST_MT5_PASSWORD")

	_, err := Parse([]byte(sample))
	require.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "TEST_MT5_PASSWORD")
}

func TestParseMissingRequired(t *testing.T) {
	_, err := Parse([]byte(`
broker:
  platform: PAPER
  server: x
  login: 1
  password: y
`))
	require.ErrorIs(t, err, ErrMissingSetting)
	assert.Contains(t, err.Error(), "general.update_interval")
}

func TestParseEnvOverride(t *testing.T) {
	t.Setenv("HUNTER_GENERAL_UPDATE_INTERVAL", "2")
	t.Setenv("HUNTER_BROKER_PLATFORM", "PAPER")

	cfg, err := Parse([]byte(`
broker:
  platform: MT5
  server: x
  login: 1
  password: y
general:
  update_interval: 1
`))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.General.UpdateInterval)
	assert.Equal(t, "PAPER", cfg.Broker.Platform)
}

func TestParseRejectsZeroInterval(t *testing.T) {
	_, err := Parse([]byte(`
broker: {platform: PAPER, server: x, login: 1, password: y}
general: {update_interval: 0}
`))
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker: {platform: PAPER, server: paper, login: 1, password: x}
general: {update_interval: 1s}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.General.UpdateInterval)
	assert.Equal(t, journal.DriverMemory, cfg.Journal.Driver)
	assert.True(t, cfg.Instructions.Autosave)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
