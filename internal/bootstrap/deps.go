package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/guardbooking/config"
	"github.com/Domenick1991/guardbooking/internal/cache"
	"github.com/Domenick1991/guardbooking/internal/events"
	"github.com/Domenick1991/guardbooking/internal/ledger"
	"github.com/Domenick1991/guardbooking/internal/ratelimit"
	"github.com/Domenick1991/guardbooking/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Deps are the storage and broker clients selected by the *.driver settings.
type Deps struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Bookings  repository.BookingRepository
	Methods   repository.PaymentMethodRepository
	Ledger    ledger.Ledger
	Limits    ratelimit.Store
	Publisher events.Publisher

	// MemoryLimits is set when limits are kept in process and need purging.
	MemoryLimits *ratelimit.MemoryStore

	closers []func() error
}

// OpenDeps connects everything cfg asks for. On error whatever was opened is
// closed again.
func OpenDeps(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Deps, error) {
	d := &Deps{}
	if err := d.open(ctx, cfg, log); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Deps) open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	var err error
	if cfg.Storage.Driver == config.DriverPostgres || cfg.Ledger.Driver == config.DriverPostgres {
		d.Pool, err = pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		d.closers = append(d.closers, func() error { d.Pool.Close(); return nil })
	}
	if cache.NeedsRedis(cfg) {
		d.Redis, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, d.Redis.Close)
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		d.Bookings = repository.NewBookingRepository(d.Pool)
		d.Methods = repository.NewPaymentMethodRepository(d.Pool)
	default:
		log.Warn("bookings are kept in memory and lost on restart")
		store := repository.NewMemoryStore()
		d.Bookings, d.Methods = store, store
	}

	switch cfg.Ledger.Driver {
	case config.DriverPostgres:
		d.Ledger = ledger.NewPGLedger(d.Pool, cfg.Ledger.Lease)
	case config.DriverRedis:
		d.Ledger = ledger.NewRedisLedger(d.Redis, cfg.Ledger.Lease, cfg.Ledger.Retention)
	default:
		log.Warn("idempotency ledger is process local; run a single instance")
		d.Ledger = ledger.NewMemoryLedger(cfg.Ledger.Lease)
	}

	switch cfg.RateLimit.Driver {
	case config.DriverRedis:
		d.Limits = ratelimit.NewRedisStore(d.Redis)
	default:
		d.MemoryLimits = ratelimit.NewMemoryStore()
		d.Limits = d.MemoryLimits
	}

	switch cfg.Events.Driver {
	case config.DriverKafka:
		p := events.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, log)
		d.Publisher = p
		d.closers = append(d.closers, p.Close)
	case config.DriverRabbitMQ:
		p, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		d.Publisher = p
		d.closers = append(d.closers, p.Close)
	default:
		d.Publisher = events.NewLogPublisher(log)
	}

	return nil
}

// Close releases connections in reverse order of opening.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}
