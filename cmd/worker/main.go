package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/guardbooking/config"
	"github.com/Domenick1991/guardbooking/internal/bootstrap"
	"github.com/Domenick1991/guardbooking/internal/events"
	"github.com/Domenick1991/guardbooking/internal/obs"
	"github.com/sirupsen/logrus"
)

// The worker turns booking events into notifications and purges idempotency
// records past their retention.
func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := obs.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the worker publishes nothing
	cfg.Events.Driver = config.DriverLog
	deps, err := bootstrap.OpenDeps(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open dependencies")
	}
	defer deps.Close()

	consumer := events.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.EventsTopic)
	defer consumer.Close()
	notifier := events.NewNotifier(events.NewLogSender(log))

	go func() {
		err := consumer.Consume(ctx, func(ctx context.Context, ev events.Event) error {
			if err := notifier.Handle(ctx, ev); err != nil {
				// delivery is best effort; keep consuming
				log.WithError(err).WithField("booking_id", ev.BookingID).Warn("notify")
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("consumer stopped")
		}
	}()

	purgeTicker := time.NewTicker(cfg.Ledger.PurgeInterval)
	defer purgeTicker.Stop()

	log.Info("worker started")
	for {
		select {
		case <-purgeTicker.C:
			cutoff := time.Now().Add(-cfg.Ledger.Retention)
			n, err := deps.Ledger.Purge(ctx, cutoff)
			if err != nil {
				log.WithError(err).Error("purge idempotency records")
				continue
			}
			if n > 0 {
				log.WithField("purged", n).Info("purged idempotency records")
			}
		case <-ctx.Done():
			log.Info("shutting down")
			return
		}
	}
}
