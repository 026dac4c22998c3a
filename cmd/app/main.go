package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/guardbooking/api"
	"github.com/Domenick1991/guardbooking/config"
	"github.com/Domenick1991/guardbooking/internal/bootstrap"
	"github.com/Domenick1991/guardbooking/internal/gateway"
	"github.com/Domenick1991/guardbooking/internal/obs"
	"github.com/Domenick1991/guardbooking/internal/ratelimit"
	"github.com/Domenick1991/guardbooking/internal/service/reconcile"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

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
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Env,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.WithError(err).Fatal("init tracing")
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.WithError(err).Warn("shutdown tracing")
		}
	}()

	deps, err := bootstrap.OpenDeps(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open dependencies")
	}
	defer deps.Close()
	if deps.MemoryLimits != nil {
		go deps.MemoryLimits.Run(ctx, cfg.RateLimit.PurgeInterval)
	}

	gw, err := gateway.NewOmiseGateway(cfg.Gateway.PublicKey, cfg.Gateway.SecretKey, cfg.Gateway.Timeout)
	if err != nil {
		log.WithError(err).Fatal("payment gateway")
	}
	limiter := ratelimit.New(deps.Limits, cfg.RateLimit.Policies, ratelimit.WithLogger(log))

	engine := reconcile.NewEngine(
		deps.Bookings,
		deps.Methods,
		deps.Ledger,
		gw,
		limiter,
		deps.Publisher,
		cfg.Pricing,
		reconcile.WithLogger(log),
		reconcile.WithCurrency(cfg.Gateway.Currency),
		reconcile.WithWebhookSecret(cfg.Webhook.Secret, cfg.Webhook.SignatureTolerance),
	)

	router := api.NewRouter(engine, limiter, api.RouterConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTIssuer:      cfg.Auth.Issuer,
		WebhookTimeout: cfg.Webhook.ProcessingTimeout,
		WebhookAction:  reconcile.ActionWebhook,
	}, log)

	if err := bootstrap.Run(ctx, cfg, router, log); err != nil {
		log.WithError(err).Error("server error")
		stop()
		deps.Close()
		os.Exit(1)
	}
}
