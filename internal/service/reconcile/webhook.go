package reconcile

import (
	"context"
	"errors"

	"github.com/Domenick1991/guardbooking/internal/booking"
	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/Domenick1991/guardbooking/internal/events"
	"github.com/Domenick1991/guardbooking/internal/gateway"
	"github.com/Domenick1991/guardbooking/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// HandleWebhook verifies, parses and applies one provider notification.
// Nothing is read or written before the signature checks out.
func (e *Engine) HandleWebhook(ctx context.Context, payload []byte, signature string) (res Result, err error) {
	ctx, span := startSpan(ctx, "reconcile.HandleWebhook")
	defer func() { endSpan(span, err) }()

	if err := gateway.VerifySignature(payload, signature, e.webhookSecret, e.signatureTolerance, e.now()); err != nil {
		e.log.WithError(err).Warn("webhook rejected")
		return Result{}, err
	}
	ev, err := gateway.ParseWebhook(payload)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("event.id", ev.EventID()), attribute.String("event.kind", ev.Kind()))

	key := domain.IdempotencyKey{Source: domain.EventSourceWebhook, EventID: ev.EventID()}
	return e.runOnce(ctx, key, func(ctx context.Context) (domain.ResultSnapshot, error) {
		return e.applyWebhook(ctx, ev)
	})
}

func (e *Engine) applyWebhook(ctx context.Context, ev gateway.WebhookEvent) (domain.ResultSnapshot, error) {
	log := e.log.WithFields(logrus.Fields{"event_id": ev.EventID(), "kind": ev.Kind()})

	switch ev := ev.(type) {
	case gateway.ChargeSucceededEvent:
		return e.settleCharge(ctx, ev, log)
	case gateway.ChargeFailedEvent:
		return e.failCharge(ctx, ev, log)
	case gateway.DisputeOpenedEvent:
		return e.openDispute(ctx, ev, log)
	case gateway.RefundSettledEvent:
		return e.settleRefund(ctx, ev, log)
	case gateway.RecurringEvent:
		log.Info("recurring billing event ignored")
	default:
		log.Warn("unknown webhook kind acknowledged without effect")
	}
	return domain.ResultSnapshot{Outcome: domain.OutcomeIgnored}, nil
}

// paymentFor finds the payment an event refers to and its booking. ok is
// false when either is unknown here.
func (e *Engine) paymentFor(ctx context.Context, gatewayID string) (*domain.PaymentTransaction, *domain.Booking, bool, error) {
	if gatewayID == "" {
		return nil, nil, false, nil
	}
	pay, err := e.bookings.GetPaymentByGatewayID(ctx, gatewayID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	b, err := e.loadBooking(ctx, pay.BookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return pay, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return pay, b, true, nil
}

// paymentFromMetadata reconstructs a payment the client path never recorded,
// typically because the charge call timed out.
func (e *Engine) paymentFromMetadata(ctx context.Context, ref gateway.ChargeRef) (*domain.PaymentTransaction, *domain.Booking, bool, error) {
	if ref.BookingID == "" || ref.GatewayTransactionID == "" {
		return nil, nil, false, nil
	}
	b, err := e.loadBooking(ctx, ref.BookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	amount, currency := ref.Amount, ref.Currency
	if amount == 0 {
		amount = b.TotalAmount
	}
	if currency == "" {
		currency = b.Currency
	}
	return &domain.PaymentTransaction{
		ID:                   uuid.NewString(),
		GatewayTransactionID: ref.GatewayTransactionID,
		BookingID:            b.ID,
		Status:               domain.PaymentStatusPending,
		Amount:               amount,
		Currency:             currency,
	}, b, true, nil
}

func (e *Engine) settleCharge(ctx context.Context, ev gateway.ChargeSucceededEvent, log logrus.FieldLogger) (domain.ResultSnapshot, error) {
	pay, b, ok, err := e.paymentFor(ctx, ev.GatewayTransactionID)
	if err == nil && !ok && pay == nil {
		pay, b, ok, err = e.paymentFromMetadata(ctx, ev.ChargeRef)
	}
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	if !ok {
		log.WithField("gateway_transaction_id", ev.GatewayTransactionID).Warn("settlement for unknown charge ignored")
		return domain.ResultSnapshot{Outcome: domain.OutcomeIgnored}, nil
	}
	log = log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": pay.ID})

	switch pay.Status {
	case domain.PaymentStatusSucceeded, domain.PaymentStatusRefunded, domain.PaymentStatusPartiallyRefunded:
		return snapshotOf(domain.OutcomeNoop, b, pay), nil
	}

	settled := *pay
	settled.Status = domain.PaymentStatusSucceeded
	settled.FailureCode, settled.FailureMessage = "", ""

	other, err := e.activePayment(ctx, b.ID)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	takesPayment := b.Status == domain.BookingStatusQuote &&
		(other == nil || other.ID == pay.ID) &&
		settled.Amount == b.TotalAmount

	if takesPayment {
		breakdown, err := e.pricing.Split(b.TotalAmount)
		if err != nil {
			return domain.ResultSnapshot{}, err
		}
		next, err := booking.Transition(*b, domain.BookingStatusConfirmed, booking.Evidence{Payment: &settled, Breakdown: &breakdown}, e.now())
		if err != nil {
			return domain.ResultSnapshot{}, err
		}
		if err := e.persist(ctx, repository.Outcome{Booking: next, Payments: []*domain.PaymentTransaction{&settled}}); err != nil {
			return domain.ResultSnapshot{}, err
		}
		log.Info("booking confirmed by settlement webhook")
		e.publish(ctx, events.StatusChanged(*next, b.Status, "payment settled"))
		return snapshotOf(domain.OutcomeConfirmed, next, &settled), nil
	}

	// The booking is paid by another charge, cancelled, or moved on. Keeping
	// this money would be a double charge.
	refund, err := e.gateway.Refund(ctx, settled.GatewayTransactionID, settled.Amount)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	settled.Status = domain.PaymentStatusRefunded
	settled.RefundedAmount = settled.Amount
	settled.GatewayRefundID = refund.GatewayRefundID
	if err := e.persist(context.WithoutCancel(ctx), repository.Outcome{Payments: []*domain.PaymentTransaction{&settled}}); err != nil {
		log.WithError(err).WithField("refund_id", refund.GatewayRefundID).Error("orphan refund issued but not recorded")
		return domain.ResultSnapshot{}, err
	}
	log.WithField("booking_status", b.Status).Warn("orphan charge refunded")
	return snapshotOf(domain.OutcomeOrphanRefunded, b, &settled), nil
}

func (e *Engine) failCharge(ctx context.Context, ev gateway.ChargeFailedEvent, log logrus.FieldLogger) (domain.ResultSnapshot, error) {
	pay, b, ok, err := e.paymentFor(ctx, ev.GatewayTransactionID)
	if err == nil && !ok && pay == nil {
		pay, b, ok, err = e.paymentFromMetadata(ctx, ev.ChargeRef)
	}
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	if !ok {
		log.WithField("gateway_transaction_id", ev.GatewayTransactionID).Warn("failure for unknown charge ignored")
		return domain.ResultSnapshot{Outcome: domain.OutcomeIgnored}, nil
	}
	log = log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": pay.ID})

	if pay.Status != domain.PaymentStatusPending && pay.Status != domain.PaymentStatusSucceeded {
		return snapshotOf(domain.OutcomeNoop, b, pay), nil
	}

	wasSettled := pay.Status == domain.PaymentStatusSucceeded
	failed := *pay
	failed.Status = domain.PaymentStatusFailed
	failed.FailureCode = ev.FailureCode
	failed.FailureMessage = ev.FailureMessage

	out := repository.Outcome{Payments: []*domain.PaymentTransaction{&failed}}
	var next *domain.Booking
	paysBooking := b.PaymentRef == pay.ID
	if wasSettled && paysBooking && (b.Status == domain.BookingStatusConfirmed || b.Status == domain.BookingStatusAssigned) {
		// the money never arrived, so there is nothing to refund
		next, err = booking.Transition(*b, domain.BookingStatusCancelled, booking.Evidence{Payment: &failed}, e.now())
		if err != nil {
			return domain.ResultSnapshot{}, err
		}
		out.Booking = next
	} else if wasSettled && paysBooking && !b.Status.IsTerminal() {
		log.WithField("booking_status", b.Status).Error("late payment failure on a booking already in service; needs manual review")
	}

	if err := e.persist(ctx, out); err != nil {
		return domain.ResultSnapshot{}, err
	}
	if next != nil {
		log.Warn("booking cancelled after late payment failure")
		e.publish(ctx, events.StatusChanged(*next, b.Status, "payment failed after settlement"))
		return snapshotOf(domain.OutcomeCancelled, next, &failed), nil
	}
	log.Info("payment marked failed")
	snap := snapshotOf(domain.OutcomePaymentFailed, b, &failed)
	snap.DeclineCode = ev.FailureCode
	snap.DeclineMessage = gateway.DeclineMessage(ev.FailureCode, ev.FailureMessage)
	return snap, nil
}

func (e *Engine) openDispute(ctx context.Context, ev gateway.DisputeOpenedEvent, log logrus.FieldLogger) (domain.ResultSnapshot, error) {
	pay, b, ok, err := e.paymentFor(ctx, ev.GatewayTransactionID)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	if !ok {
		log.WithField("gateway_transaction_id", ev.GatewayTransactionID).Warn("dispute for unknown charge ignored")
		return domain.ResultSnapshot{Outcome: domain.OutcomeIgnored}, nil
	}
	if pay.DisputedAt != nil {
		return snapshotOf(domain.OutcomeNoop, b, pay), nil
	}

	disputed := *pay
	now := e.now()
	disputed.DisputedAt = &now
	if err := e.persist(ctx, repository.Outcome{Payments: []*domain.PaymentTransaction{&disputed}}); err != nil {
		return domain.ResultSnapshot{}, err
	}
	log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": pay.ID, "dispute_id": ev.DisputeID}).Warn("payment disputed")
	e.publish(ctx, events.Disputed(*b, pay.ID))
	return snapshotOf(domain.OutcomeDisputed, b, &disputed), nil
}

func (e *Engine) settleRefund(ctx context.Context, ev gateway.RefundSettledEvent, log logrus.FieldLogger) (domain.ResultSnapshot, error) {
	pay, b, ok, err := e.paymentFor(ctx, ev.GatewayTransactionID)
	if err != nil {
		return domain.ResultSnapshot{}, err
	}
	if !ok {
		log.WithField("gateway_transaction_id", ev.GatewayTransactionID).Warn("refund for unknown charge ignored")
		return domain.ResultSnapshot{Outcome: domain.OutcomeIgnored}, nil
	}
	// refunds issued through this service are recorded when issued
	if ev.GatewayRefundID != "" && ev.GatewayRefundID == pay.GatewayRefundID {
		return snapshotOf(domain.OutcomeNoop, b, pay), nil
	}
	if pay.Status != domain.PaymentStatusSucceeded && pay.Status != domain.PaymentStatusPartiallyRefunded {
		return snapshotOf(domain.OutcomeNoop, b, pay), nil
	}

	before := *pay
	refunded := *pay
	amount := ev.Amount
	if amount <= 0 || refunded.RefundedAmount+amount > refunded.Amount {
		amount = refunded.Amount - refunded.RefundedAmount
	}
	refunded.RefundedAmount += amount
	refunded.GatewayRefundID = ev.GatewayRefundID
	if refunded.GatewayRefundID == "" {
		refunded.GatewayRefundID = "event:" + ev.EventID()
	}
	if refunded.RefundedAmount >= refunded.Amount {
		refunded.Status = domain.PaymentStatusRefunded
	} else {
		refunded.Status = domain.PaymentStatusPartiallyRefunded
	}

	out := repository.Outcome{Payments: []*domain.PaymentTransaction{&refunded}}
	var next *domain.Booking
	if refunded.Status == domain.PaymentStatusRefunded && !b.Status.IsTerminal() && b.PaymentRef == pay.ID {
		next, err = booking.Transition(*b, domain.BookingStatusCancelled, booking.Evidence{Payment: &before, RefundRef: refunded.GatewayRefundID}, e.now())
		if err != nil {
			return domain.ResultSnapshot{}, err
		}
		out.Booking = next
	}
	if err := e.persist(ctx, out); err != nil {
		return domain.ResultSnapshot{}, err
	}

	log = log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": pay.ID, "refunded_amount": refunded.RefundedAmount})
	if next != nil {
		log.Info("booking cancelled by provider refund")
		e.publish(ctx, events.StatusChanged(*next, b.Status, "refunded at provider"))
		return snapshotOf(domain.OutcomeRefunded, next, &refunded), nil
	}
	log.Info("refund recorded")
	return snapshotOf(domain.OutcomeRefunded, b, &refunded), nil
}
