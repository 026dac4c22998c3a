package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Domenick1991/guardbooking/internal/booking"
	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/Domenick1991/guardbooking/internal/events"
	"github.com/Domenick1991/guardbooking/internal/gateway"
	"github.com/Domenick1991/guardbooking/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type QuoteInput struct {
	Actor       domain.Actor
	TotalAmount int64
	Currency    string
}

// CreateQuote opens a booking in quote state. The fee split is checked now
// but frozen only at confirmation.
func (e *Engine) CreateQuote(ctx context.Context, in QuoteInput) (*domain.Booking, error) {
	if in.Actor.Role != domain.RoleClient {
		return nil, domain.Forbidden("only clients can request a quote")
	}
	if _, err := e.pricing.Split(in.TotalAmount); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = e.currency
	}

	b := &domain.Booking{
		ID:          uuid.NewString(),
		ClientID:    in.Actor.ID,
		Status:      domain.BookingStatusQuote,
		Currency:    currency,
		TotalAmount: in.TotalAmount,
	}
	if err := e.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"booking_id": b.ID, "client_id": b.ClientID}).Info("quote created")
	return b, nil
}

func (e *Engine) GetBooking(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error) {
	b, err := e.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSee(*b) {
		// do not reveal that the booking exists
		return nil, domain.NotFound("booking", id)
	}
	return b, nil
}

type RefundInput struct {
	Actor     domain.Actor
	BookingID string
	Reason    string
	EventID   string
}

// RefundBooking cancels a booking, returning the client's money first when
// it is held.
func (e *Engine) RefundBooking(ctx context.Context, in RefundInput) (res Result, err error) {
	ctx, span := startSpan(ctx, "reconcile.RefundBooking",
		attribute.String("booking.id", in.BookingID), attribute.String("event.id", in.EventID))
	defer func() { endSpan(span, err) }()

	if in.EventID == "" {
		return Result{}, domain.Validation("idempotency key is required")
	}
	if err := e.admit(ctx, in.Actor.ID, ActionRefundRequest); err != nil {
		return Result{}, err
	}

	key := domain.IdempotencyKey{Source: domain.EventSourceClientRefund, EventID: in.EventID}
	return e.runOnce(ctx, key, func(ctx context.Context) (domain.ResultSnapshot, error) {
		return e.refundBooking(ctx, in)
	})
}

func (e *Engine) refundBooking(ctx context.Context, in RefundInput) (domain.ResultSnapshot, error) {
	log := e.log.WithFields(logrus.Fields{"booking_id": in.BookingID, "event_id": in.EventID})

	b, err := e.loadBooking(ctx, in.BookingID)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	if in.Actor.Role != domain.RoleOperator && b.ClientID != in.Actor.ID {
		return domain.ResultSnapshot{}, domain.Forbidden("booking belongs to another client")
	}
	if b.Status.IsTerminal() {
		return domain.ResultSnapshot{}, domain.InvalidBookingState("booking %s is already %s", b.ID, b.Status)
	}

	var pay *domain.PaymentTransaction
	if b.PaymentRef != "" {
		pay, err = e.bookings.GetPayment(ctx, b.PaymentRef)
		if err != nil {
			return domain.ResultSnapshot{}, err
		}
	}

	if !pay.HoldsFunds() {
		next, err := booking.Transition(*b, domain.BookingStatusCancelled, booking.Evidence{Payment: pay}, e.now())
		if err != nil {
			return domain.ResultSnapshot{}, err
		}
		if err := e.persist(ctx, repository.Outcome{Booking: next}); err != nil {
			return domain.ResultSnapshot{}, err
		}
		log.WithField("reason", in.Reason).Info("booking cancelled without refund")
		e.publish(ctx, events.StatusChanged(*next, b.Status, in.Reason))
		return snapshotOf(domain.OutcomeCancelled, next, pay), nil
	}

	refund, err := e.gateway.Refund(ctx, pay.GatewayTransactionID, pay.Amount-pay.RefundedAmount)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}

	next, refunded, err := e.cancelWithRefund(ctx, b, pay, refund)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	log.WithFields(logrus.Fields{"refund_id": refund.GatewayRefundID, "reason": in.Reason}).Info("booking refunded")
	e.publish(ctx, events.StatusChanged(*next, b.Status, in.Reason))
	return snapshotOf(domain.OutcomeRefunded, next, refunded), nil
}

// cancelWithRefund persists a refund that already happened at the provider.
// The money has moved, so the write ignores caller cancellation and a lost
// race is retried against fresh copies rather than released for the client
// to repeat.
func (e *Engine) cancelWithRefund(ctx context.Context, b *domain.Booking, pay *domain.PaymentTransaction, refund gateway.RefundResult) (*domain.Booking, *domain.PaymentTransaction, error) {
	const attempts = 3
	ctx = context.WithoutCancel(ctx)
	current, before := b, pay
	for i := 0; ; i++ {
		refunded := *before
		refunded.Status = domain.PaymentStatusRefunded
		refunded.RefundedAmount = before.Amount
		refunded.GatewayRefundID = refund.GatewayRefundID

		out := repository.Outcome{Payments: []*domain.PaymentTransaction{&refunded}}
		next := current
		if !current.Status.IsTerminal() {
			var err error
			next, err = booking.Transition(*current, domain.BookingStatusCancelled,
				booking.Evidence{Payment: before, RefundRef: refunded.GatewayRefundID}, e.now())
			if err != nil {
				return nil, nil, err
			}
			out.Booking = next
		}
		err := e.bookings.ApplyOutcome(ctx, out)
		if err == nil {
			return next, &refunded, nil
		}
		if errors.Is(err, repository.ErrConflict) && i < attempts-1 {
			if current, err = e.loadBooking(ctx, b.ID); err != nil {
				return nil, nil, err
			}
			if before, err = e.bookings.GetPayment(ctx, pay.ID); err != nil {
				return nil, nil, err
			}
			continue
		}
		e.log.WithError(err).WithFields(logrus.Fields{"booking_id": b.ID, "refund_id": refund.GatewayRefundID}).
			Error("refund issued but not recorded; the refund webhook will reconcile it")
		if errors.Is(err, repository.ErrConflict) {
			return nil, nil, domain.InvalidBookingState("booking %s was changed concurrently", b.ID)
		}
		return nil, nil, fmt.Errorf("apply outcome: %w", err)
	}
}

type AdvanceInput struct {
	Actor     domain.Actor
	BookingID string
	Target    domain.BookingStatus
	GuardID   string
}

// AdvanceBooking moves a paid booking through the guard workflow. Operators
// assign guards; the assigned guard (or an operator) moves it onward.
func (e *Engine) AdvanceBooking(ctx context.Context, in AdvanceInput) (*domain.Booking, error) {
	if err := e.admit(ctx, in.Actor.ID, ActionBookingTransition); err != nil {
		return nil, err
	}
	if !in.Target.Valid() {
		return nil, domain.Validation("unknown booking status %q", in.Target)
	}
	if in.Target == domain.BookingStatusCancelled || in.Target == domain.BookingStatusConfirmed {
		return nil, domain.Validation("%s is reached through payment or refund, not directly", in.Target)
	}

	b, err := e.loadBooking(ctx, in.BookingID)
	if err != nil {
		return nil, err
	}
	switch {
	case in.Actor.Role == domain.RoleOperator:
	case in.Actor.Role == domain.RoleGuard && in.Target != domain.BookingStatusAssigned && b.GuardID == in.Actor.ID:
	default:
		return nil, domain.Forbidden("not allowed to move this booking")
	}

	next, err := booking.Transition(*b, in.Target, booking.Evidence{GuardID: in.GuardID}, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.persist(ctx, repository.Outcome{Booking: next}); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"booking_id": b.ID, "from": b.Status, "to": next.Status}).Info("booking advanced")
	e.publish(ctx, events.StatusChanged(*next, b.Status, ""))
	return next, nil
}
