package reconcile

import (
	"context"
	"errors"
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

type ConfirmPaymentInput struct {
	Actor     domain.Actor
	BookingID string
	// PaymentNonce is a one-time card token from the client SDK, or the id of
	// a card saved with AttachPaymentMethod.
	PaymentNonce string
	// EventID is the client's idempotency key.
	EventID string
}

// ConfirmPayment charges the client for a quoted booking and confirms it. A
// declined card is not an error: the result carries the declined outcome and
// is replayed verbatim for the same key.
func (e *Engine) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (res Result, err error) {
	ctx, span := startSpan(ctx, "reconcile.ConfirmPayment",
		attribute.String("booking.id", in.BookingID), attribute.String("event.id", in.EventID))
	defer func() { endSpan(span, err) }()

	if in.EventID == "" {
		return Result{}, domain.Validation("idempotency key is required")
	}
	if in.BookingID == "" || in.PaymentNonce == "" {
		return Result{}, domain.Validation("booking id and payment nonce are required")
	}
	if err := e.admit(ctx, in.Actor.ID, ActionPaymentAttempt); err != nil {
		return Result{}, err
	}

	key := domain.IdempotencyKey{Source: domain.EventSourceClientConfirm, EventID: in.EventID}
	return e.runOnce(ctx, key, func(ctx context.Context) (domain.ResultSnapshot, error) {
		return e.chargeBooking(ctx, in)
	})
}

func (e *Engine) chargeBooking(ctx context.Context, in ConfirmPaymentInput) (domain.ResultSnapshot, error) {
	log := e.log.WithFields(logrus.Fields{"booking_id": in.BookingID, "event_id": in.EventID})

	// one charge in flight per booking, whatever key the client used
	lock, err := e.ledger.CheckAndReserve(ctx, domain.IdempotencyKey{Source: domain.EventSourceChargeLock, EventID: in.BookingID})
	if err != nil {
		if errors.Is(err, domain.ErrEventInFlight) {
			return domain.ResultSnapshot{}, domain.InvalidBookingState("a payment for booking %s is already in progress", in.BookingID)
		}
		return domain.ResultSnapshot{}, err
	}
	defer func() {
		if err := e.ledger.Release(context.WithoutCancel(ctx), lock); err != nil {
			log.WithError(err).Warn("release charge lock")
		}
	}()

	b, err := e.loadBooking(ctx, in.BookingID)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	if b.ClientID != in.Actor.ID {
		return domain.ResultSnapshot{}, domain.Forbidden("booking belongs to another client")
	}
	if b.Status != domain.BookingStatusQuote {
		return domain.ResultSnapshot{}, domain.InvalidBookingState("booking %s is %s, not awaiting payment", b.ID, b.Status)
	}
	active, err := e.activePayment(ctx, b.ID)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	if active != nil {
		return domain.ResultSnapshot{}, domain.InvalidBookingState("booking %s already has a %s payment", b.ID, active.Status)
	}
	breakdown, err := e.pricing.Split(b.TotalAmount)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}

	req := gateway.ChargeRequest{
		Amount:   b.TotalAmount,
		Currency: b.Currency,
		Source:   in.PaymentNonce,
		Metadata: map[string]string{"booking_id": b.ID, "event_id": in.EventID},
	}
	if strings.HasPrefix(in.PaymentNonce, "card_") {
		m, err := e.methods.Get(ctx, in.Actor.ID, in.PaymentNonce)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ResultSnapshot{}, domain.NotFound("payment method", in.PaymentNonce)
			}
			return domain.ResultSnapshot{}, err
		}
		req.CustomerID = m.CustomerID
	}

	charge, err := e.gateway.Charge(ctx, req)
	if err != nil {
		var gwErr *domain.Error
		if !errors.As(err, &gwErr) || gwErr.Kind != domain.KindGatewayRejected {
			// unavailable or misconfigured: no transaction is recorded, the
			// settlement webhook is authoritative if the charge went through
			log.WithError(err).Warn("charge did not complete")
			return domain.ResultSnapshot{}, err
		}
		charge = gateway.ChargeResult{Status: gateway.ChargeFailed, FailureCode: gwErr.DeclineCode, FailureMessage: gwErr.Message}
	}

	// the charge call has returned, so what it did is recorded even if the
	// caller has gone away
	ctx = context.WithoutCancel(ctx)
	pay := &domain.PaymentTransaction{
		ID:                   uuid.NewString(),
		GatewayTransactionID: charge.GatewayTransactionID,
		BookingID:            b.ID,
		Amount:               b.TotalAmount,
		Currency:             b.Currency,
	}

	switch charge.Status {
	case gateway.ChargeSucceeded:
		pay.Status = domain.PaymentStatusSucceeded
		next, err := booking.Transition(*b, domain.BookingStatusConfirmed, booking.Evidence{Payment: pay, Breakdown: &breakdown}, e.now())
		if err != nil {
			return domain.ResultSnapshot{}, err
		}
		if err := e.persist(ctx, repository.Outcome{Booking: next, Payments: []*domain.PaymentTransaction{pay}}); err != nil {
			log.WithError(err).WithField("gateway_transaction_id", pay.GatewayTransactionID).
				Error("charge succeeded but booking could not be confirmed; settlement webhook will reconcile it")
			return domain.ResultSnapshot{}, err
		}
		log.WithField("payment_id", pay.ID).Info("booking confirmed")
		e.publish(ctx, events.StatusChanged(*next, b.Status, "payment confirmed"))
		return snapshotOf(domain.OutcomeConfirmed, next, pay), nil

	case gateway.ChargePending:
		pay.Status = domain.PaymentStatusPending
		if err := e.persist(ctx, repository.Outcome{Payments: []*domain.PaymentTransaction{pay}}); err != nil {
			return domain.ResultSnapshot{}, err
		}
		log.WithField("payment_id", pay.ID).Info("charge pending settlement")
		return snapshotOf(domain.OutcomePending, b, pay), nil

	default:
		pay.Status = domain.PaymentStatusFailed
		pay.FailureCode = charge.FailureCode
		pay.FailureMessage = charge.FailureMessage
		if err := e.persist(ctx, repository.Outcome{Payments: []*domain.PaymentTransaction{pay}}); err != nil {
			return domain.ResultSnapshot{}, err
		}
		log.WithField("decline_code", charge.FailureCode).Info("charge declined")
		snap := snapshotOf(domain.OutcomeDeclined, b, pay)
		snap.DeclineCode = charge.FailureCode
		snap.DeclineMessage = gateway.DeclineMessage(charge.FailureCode, charge.FailureMessage)
		return snap, nil
	}
}
