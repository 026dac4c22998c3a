package domain

import (
	"fmt"
	"time"
)

type EventSource string

const (
	EventSourceWebhook       EventSource = "webhook"
	EventSourceClientConfirm EventSource = "client-confirm"
	EventSourceClientRefund  EventSource = "client-refund"

	// EventSourceChargeLock keys short-lived per-booking locks held while a
	// charge is in flight. They are always released, never committed.
	EventSourceChargeLock EventSource = "charge-lock"
)

type IdempotencyKey struct {
	Source  EventSource
	EventID string
}

func (k IdempotencyKey) String() string {
	return fmt.Sprintf("%s:%s", k.Source, k.EventID)
}

// Outcome codes stored in a ResultSnapshot.
const (
	OutcomeConfirmed      = "confirmed"
	OutcomeDeclined       = "declined"
	OutcomePending        = "pending"
	OutcomeCancelled      = "cancelled"
	OutcomeRefunded       = "refunded"
	OutcomeOrphanRefunded = "orphan_refunded"
	OutcomePaymentFailed  = "payment_failed"
	OutcomeDisputed       = "disputed"
	OutcomeNoop           = "noop"
	OutcomeIgnored        = "ignored"
)

// ResultSnapshot is the outcome applied for one event. Replays of the same
// event return it verbatim.
type ResultSnapshot struct {
	Outcome        string        `json:"outcome"`
	BookingID      string        `json:"booking_id,omitempty"`
	BookingStatus  BookingStatus `json:"booking_status,omitempty"`
	PaymentID      string        `json:"payment_id,omitempty"`
	PaymentStatus  PaymentStatus `json:"payment_status,omitempty"`
	DeclineCode    string        `json:"decline_code,omitempty"`
	DeclineMessage string        `json:"decline_message,omitempty"`
}

type IdempotencyState string

const (
	IdempotencyReserved IdempotencyState = "reserved"
	IdempotencyApplied  IdempotencyState = "applied"
)

type IdempotencyRecord struct {
	Key              IdempotencyKey
	State            IdempotencyState
	ReservationToken string
	ReservedAt       time.Time
	AppliedAt        *time.Time
	Result           *ResultSnapshot
}
