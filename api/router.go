package api

import (
	"context"
	"time"

	"github.com/Domenick1991/guardbooking/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Limiter interface {
	Admit(ctx context.Context, identity, action string) ratelimit.Decision
}

// Service is everything the HTTP surface needs from the engine.
type Service interface {
	BookingService
	PaymentMethodService
	WebhookService
}

type RouterConfig struct {
	JWTSecret      string
	JWTIssuer      string
	WebhookTimeout time.Duration
	WebhookAction  string
}

// NewRouter builds the /api/v1 surface.
func NewRouter(svc Service, limiter Limiter, cfg RouterConfig, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))

	v1 := r.Group("/api/v1")

	authed := v1.Group("", JWTIdentity(cfg.JWTSecret, cfg.JWTIssuer))
	NewBookingHandler(svc, log).Register(authed.Group("/bookings"))
	NewPaymentMethodHandler(svc, log).Register(authed.Group("/payment-methods"))

	hooks := v1.Group("/webhooks", RateLimitByIP(limiter, cfg.WebhookAction))
	NewWebhookHandler(svc, cfg.WebhookTimeout, log).Register(hooks)

	return r
}
