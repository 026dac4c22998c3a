package bootstrap

import (
	"context"
	"testing"

	"github.com/Domenick1991/guardbooking/config"
	"github.com/Domenick1991/guardbooking/internal/events"
	"github.com/Domenick1991/guardbooking/internal/ledger"
	"github.com/Domenick1991/guardbooking/internal/repository"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDeps_InMemory(t *testing.T) {
	log, hook := test.NewNullLogger()
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	cfg.Ledger.Driver = config.DriverMemory
	cfg.RateLimit.Driver = config.DriverMemory
	cfg.Events.Driver = config.DriverLog

	d, err := OpenDeps(context.Background(), cfg, log)
	require.NoError(t, err)
	defer d.Close()

	assert.Nil(t, d.Pool)
	assert.Nil(t, d.Redis)
	assert.IsType(t, &repository.MemoryStore{}, d.Bookings)
	assert.IsType(t, &ledger.MemoryLedger{}, d.Ledger)
	assert.IsType(t, &events.LogPublisher{}, d.Publisher)
	assert.NotNil(t, d.MemoryLimits)
	assert.Len(t, hook.Entries, 2)
}

func TestOpenDeps_PostgresPoolIsLazy(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.Events.Driver = config.DriverKafka

	// pgxpool connects on first use, so construction succeeds without a server
	d, err := OpenDeps(context.Background(), cfg, log)
	require.NoError(t, err)
	require.NotNil(t, d.Pool)
	assert.IsType(t, &ledger.PGLedger{}, d.Ledger)
	assert.IsType(t, &events.KafkaProducer{}, d.Publisher)
	assert.NoError(t, d.Close())
}

func TestOpenDeps_RedisUnreachable(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	cfg.Ledger.Driver = config.DriverRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	d, err := OpenDeps(context.Background(), cfg, log)
	assert.Error(t, err)
	assert.Nil(t, d)
}
