package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789-test-secret"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_SKIP_SIG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.True(t, cfg.Shard.Enabled)
	assert.Equal(t, 8, cfg.Shard.Count)
	assert.Equal(t, "transfers", cfg.Shard.TablePrefix)
	assert.Equal(t, 4, cfg.Shard.FanOutWorkers)
	assert.Equal(t, int64(1_000_000), cfg.Transfer.MinAmountMicros)
	assert.Equal(t, int64(500_000_000_000_000), cfg.Transfer.MaxAmountMicros)
	assert.Equal(t, 10*time.Second, cfg.Transfer.RailTimeout)
	assert.Equal(t, int32(500), cfg.Archive.BatchSize)
	assert.Equal(t, "redis", cfg.Events.Bus)
	require.Contains(t, cfg.Rails, "RAIL_A")
	assert.Equal(t, 10*time.Second, cfg.Rails["RAIL_A"].Timeout)
}

func TestLoadRailOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_SKIP_SIG", "true")
	t.Setenv("RAIL_B_URL", "http://clearing.local/")
	t.Setenv("RAIL_B_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://clearing.local", cfg.Rails["RAIL_B"].BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Rails["RAIL_B"].Timeout)
}

func TestLoadRejectsNonPowerOfTwoShardCount(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_SKIP_SIG", "true")
	t.Setenv("SHARD_COUNT", "6")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "power of two")
}

func TestLoadShardCountIgnoredWhenDisabled(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_SKIP_SIG", "true")
	t.Setenv("SHARDING_ENABLED", "false")
	t.Setenv("SHARD_COUNT", "6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Shard.Enabled)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownBus(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_SKIP_SIG", "true")
	t.Setenv("EVENT_BUS", "kafka")

	_, err := Load()
	require.Error(t, err)
}
