package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8004", cfg.ServicePort)
	assert.Equal(t, "50051", cfg.GRPCPort)
	assert.Equal(t, 0.1, cfg.DeclineRate)
	assert.Equal(t, 0.0, cfg.RefundDeclineRate)
	assert.Equal(t, 500*time.Millisecond, cfg.GatewayLatency)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DECLINE_RATE", "1")
	t.Setenv("GATEWAY_LATENCY", "0s")
	t.Setenv("STORAGE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.DeclineRate)
	assert.Zero(t, cfg.GatewayLatency)
	assert.Equal(t, "postgres", cfg.StorageDriver)
}
