// Package booking holds the booking lifecycle rules. Transition is pure: it
// validates a move and returns the updated booking, leaving persistence and
// gateway calls to the reconciliation engine.
package booking

import (
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
)

var forward = map[domain.BookingStatus]domain.BookingStatus{
	domain.BookingStatusQuote:     domain.BookingStatusConfirmed,
	domain.BookingStatusConfirmed: domain.BookingStatusAssigned,
	domain.BookingStatusAssigned:  domain.BookingStatusAccepted,
	domain.BookingStatusAccepted:  domain.BookingStatusEnRoute,
	domain.BookingStatusEnRoute:   domain.BookingStatusActive,
	domain.BookingStatusActive:    domain.BookingStatusCompleted,
}

// Evidence carries what a transition needs to be justified.
type Evidence struct {
	Payment   *domain.PaymentTransaction
	Breakdown *Breakdown
	GuardID   string
	RefundRef string
}

// AllowedNext lists the states reachable from s in one step.
func AllowedNext(s domain.BookingStatus) []domain.BookingStatus {
	if s.IsTerminal() || !s.Valid() {
		return nil
	}
	return []domain.BookingStatus{forward[s], domain.BookingStatusCancelled}
}

func CanTransition(from, to domain.BookingStatus) bool {
	for _, next := range AllowedNext(from) {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies target to a copy of b. On error b is left untouched and
// nothing is returned.
func Transition(b domain.Booking, target domain.BookingStatus, ev Evidence, now time.Time) (*domain.Booking, error) {
	from := b.Status
	if !CanTransition(from, target) {
		return nil, domain.InvalidTransition(from, target, "")
	}

	switch target {
	case domain.BookingStatusConfirmed:
		if ev.Payment == nil || ev.Payment.Status != domain.PaymentStatusSucceeded {
			return nil, domain.InvalidTransition(from, target, "a succeeded payment is required")
		}
		if ev.Payment.BookingID != b.ID {
			return nil, domain.InvalidTransition(from, target, "payment belongs to another booking")
		}
		if ev.Breakdown == nil {
			return nil, domain.InvalidTransition(from, target, "fee breakdown is required")
		}
		if ev.Breakdown.Total() != b.TotalAmount {
			return nil, domain.InvalidTransition(from, target, "fee breakdown does not match booking total")
		}
		b.ProcessingFee = ev.Breakdown.ProcessingFee
		b.PlatformCut = ev.Breakdown.PlatformCut
		b.GuardPayout = ev.Breakdown.GuardPayout
		b.PaymentRef = ev.Payment.ID
		b.ConfirmedAt = stamp(b.ConfirmedAt, now)

	case domain.BookingStatusAssigned:
		if ev.GuardID == "" {
			return nil, domain.InvalidTransition(from, target, "a matched guard is required")
		}
		b.GuardID = ev.GuardID

	case domain.BookingStatusActive:
		b.StartedAt = stamp(b.StartedAt, now)

	case domain.BookingStatusCompleted:
		b.CompletedAt = stamp(b.CompletedAt, now)

	case domain.BookingStatusCancelled:
		if ev.Payment.HoldsFunds() && ev.RefundRef == "" {
			return nil, domain.InvalidTransition(from, target, "a refund must accompany cancellation of a paid booking")
		}
		if ev.RefundRef != "" {
			b.RefundRef = ev.RefundRef
		}
		b.CancelledAt = stamp(b.CancelledAt, now)
	}

	b.Status = target
	if now.After(b.UpdatedAt) {
		b.UpdatedAt = now
	}
	return &b, nil
}

// stamp sets a lifecycle timestamp once and never moves it.
func stamp(current *time.Time, now time.Time) *time.Time {
	if current != nil {
		return current
	}
	t := now
	return &t
}
