// Package reconcile keeps bookings and payments consistent with the payment
// provider. Every client action and webhook that can move money goes through
// the idempotency ledger first: it is reserved, applied once, and either
// committed with its outcome or released so a retry starts clean.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/guardbooking/internal/booking"
	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/Domenick1991/guardbooking/internal/events"
	"github.com/Domenick1991/guardbooking/internal/gateway"
	"github.com/Domenick1991/guardbooking/internal/ledger"
	"github.com/Domenick1991/guardbooking/internal/ratelimit"
	"github.com/Domenick1991/guardbooking/internal/repository"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Rate-limited actions.
const (
	ActionPaymentAttempt    = "payment_attempt"
	ActionRefundRequest     = "refund_request"
	ActionPaymentMethod     = "payment_method"
	ActionWebhook           = "webhook"
	ActionBookingTransition = "booking_transition"
)

var tracer = otel.Tracer("github.com/Domenick1991/guardbooking/internal/service/reconcile")

type Limiter interface {
	Admit(ctx context.Context, identity, action string) ratelimit.Decision
}

// Result is what a money-moving operation reports. Replayed is set when the
// outcome was read back from the ledger instead of being produced now.
type Result struct {
	Snapshot domain.ResultSnapshot
	Replayed bool
}

type Engine struct {
	bookings           repository.BookingRepository
	methods            repository.PaymentMethodRepository
	ledger             ledger.Ledger
	gateway            gateway.Gateway
	limiter            Limiter
	publisher          events.Publisher
	pricing            booking.FeePolicy
	currency           string
	webhookSecret      string
	signatureTolerance time.Duration
	log                logrus.FieldLogger
	now                func() time.Time
}

type Option func(*Engine)

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithWebhookSecret(secret string, tolerance time.Duration) Option {
	return func(e *Engine) {
		e.webhookSecret = secret
		e.signatureTolerance = tolerance
	}
}

func WithCurrency(currency string) Option {
	return func(e *Engine) { e.currency = currency }
}

func NewEngine(
	bookings repository.BookingRepository,
	methods repository.PaymentMethodRepository,
	l ledger.Ledger,
	gw gateway.Gateway,
	limiter Limiter,
	publisher events.Publisher,
	pricing booking.FeePolicy,
	opts ...Option,
) *Engine {
	e := &Engine{
		bookings:  bookings,
		methods:   methods,
		ledger:    l,
		gateway:   gw,
		limiter:   limiter,
		publisher: publisher,
		pricing:   pricing,
		currency:  "USD",
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) admit(ctx context.Context, identity, action string) error {
	d := e.limiter.Admit(ctx, identity, action)
	if d.Allowed {
		return nil
	}
	e.log.WithFields(logrus.Fields{"identity": identity, "action": action, "retry_after": d.RetryAfterSeconds}).Info("request throttled")
	return domain.Throttled(d.RetryAfterSeconds)
}

// runOnce is the ledger protocol shared by every money-moving operation.
func (e *Engine) runOnce(ctx context.Context, key domain.IdempotencyKey, apply func(context.Context) (domain.ResultSnapshot, error)) (Result, error) {
	log := e.log.WithFields(logrus.Fields{"event_source": key.Source, "event_id": key.EventID})

	r, err := e.ledger.CheckAndReserve(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if r.AlreadyApplied() {
		log.Debug("event already applied, returning stored outcome")
		return Result{Snapshot: *r.Applied, Replayed: true}, nil
	}

	snap, err := apply(ctx)
	if err != nil {
		// the caller may have given up; the release must still happen
		if relErr := e.ledger.Release(context.WithoutCancel(ctx), r); relErr != nil {
			log.WithError(relErr).Warn("release reservation")
		}
		if domain.KindOf(err) == domain.KindConfiguration {
			log.WithError(err).Error("payment provider configuration error")
		}
		return Result{}, err
	}

	if err := e.ledger.Commit(context.WithoutCancel(ctx), r, snap); err != nil {
		// effects are persisted; a redelivery will hit the state machine
		// preconditions instead of repeating them
		log.WithError(err).Error("commit idempotency record")
	}
	return Result{Snapshot: snap}, nil
}

func (e *Engine) loadBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := e.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("booking", id)
		}
		return nil, fmt.Errorf("load booking %s: %w", id, err)
	}
	return b, nil
}

// persist writes an outcome, turning a lost race into InvalidBookingState so
// the reservation is released and the retry re-evaluates.
func (e *Engine) persist(ctx context.Context, out repository.Outcome) error {
	err := e.bookings.ApplyOutcome(ctx, out)
	if errors.Is(err, repository.ErrConflict) {
		id := ""
		if out.Booking != nil {
			id = out.Booking.ID
		} else if len(out.Payments) > 0 {
			id = out.Payments[0].BookingID
		}
		return domain.InvalidBookingState("booking %s was changed concurrently", id)
	}
	if err != nil {
		return fmt.Errorf("apply outcome: %w", err)
	}
	return nil
}

// activePayment returns the booking's pending or succeeded payment, if any.
func (e *Engine) activePayment(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error) {
	payments, err := e.bookings.ListPayments(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	for i := range payments {
		if payments[i].Status.Active() {
			return &payments[i], nil
		}
	}
	return nil, nil
}

// publish runs after the outcome is persisted. A broker failure is logged and
// does not undo the transition.
func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"booking_id": ev.BookingID, "event_type": ev.Type}).Warn("publish booking event")
	}
}

func snapshotOf(outcome string, b *domain.Booking, p *domain.PaymentTransaction) domain.ResultSnapshot {
	s := domain.ResultSnapshot{Outcome: outcome}
	if b != nil {
		s.BookingID = b.ID
		s.BookingStatus = b.Status
	}
	if p != nil {
		s.PaymentID = p.ID
		s.PaymentStatus = p.Status
		if s.BookingID == "" {
			s.BookingID = p.BookingID
		}
	}
	return s
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
