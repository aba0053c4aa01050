package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerConfigDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewLedgerConfigHolder(Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultLedgerConfig(), holder.Get())
}

func TestLedgerConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yml")
	content := []byte(`ledger:
  sweep:
    enabled: true
    interval: 15m
    onRead: false
    batchSize: 10
    timeout: 5s
  retry:
    maxAttempts: 5
    initialInterval: 10ms
    maxInterval: 200ms
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewLedgerConfigHolder(Config{LedgerConfigPath: path})
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 15*time.Minute, cfg.Sweep.Interval)
	assert.False(t, cfg.Sweep.OnRead)
	assert.Equal(t, 10, cfg.Sweep.BatchSize)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.InitialInterval)
}

func TestLedgerConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  retry:\n    maxAttempts: 0\n"), 0o600))

	_, err := NewLedgerConfigHolder(Config{LedgerConfigPath: path})
	assert.Error(t, err)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Config{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, time.UTC, Config{}.Location())
}
