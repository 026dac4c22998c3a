package cache

import (
	"context"
	"testing"

	"github.com/Domenick1991/guardbooking/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsRedis(t *testing.T) {
	testCases := []struct {
		name     string
		ledger   string
		limiter  string
		expected bool
	}{
		{name: "all memory", ledger: config.DriverMemory, limiter: config.DriverMemory, expected: false},
		{name: "postgres ledger", ledger: config.DriverPostgres, limiter: config.DriverMemory, expected: false},
		{name: "redis ledger", ledger: config.DriverRedis, limiter: config.DriverMemory, expected: true},
		{name: "redis limiter", ledger: config.DriverPostgres, limiter: config.DriverRedis, expected: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Ledger.Driver = tc.ledger
			cfg.RateLimit.Driver = tc.limiter
			assert.Equal(t, tc.expected, NeedsRedis(cfg))
		})
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Nil(t, client)
}
