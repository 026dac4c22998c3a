package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
)

// WebhookEvent is one of ChargeSucceeded, ChargeFailed, DisputeOpened,
// RefundSettled, RecurringEvent or UnknownEvent.
type WebhookEvent interface {
	EventID() string
	Kind() string
	isWebhookEvent()
}

// EventMeta is common to every delivery.
type EventMeta struct {
	ID         string
	RawKind    string
	OccurredAt time.Time
}

func (m EventMeta) EventID() string { return m.ID }
func (m EventMeta) Kind() string    { return m.RawKind }
func (EventMeta) isWebhookEvent()   {}

// ChargeRef identifies the charge an event is about. BookingID comes from the
// metadata set at charge time and may be empty for charges made elsewhere.
type ChargeRef struct {
	GatewayTransactionID string
	BookingID            string
	Amount               int64
	Currency             string
}

type ChargeSucceededEvent struct {
	EventMeta
	ChargeRef
}

type ChargeFailedEvent struct {
	EventMeta
	ChargeRef
	FailureCode    string
	FailureMessage string
}

type DisputeOpenedEvent struct {
	EventMeta
	ChargeRef
	DisputeID string
}

type RefundSettledEvent struct {
	EventMeta
	ChargeRef
	GatewayRefundID string
}

// RecurringEvent covers subscription and invoice notifications. Bookings are
// one-off, so these are acknowledged and never applied.
type RecurringEvent struct {
	EventMeta
}

type UnknownEvent struct {
	EventMeta
}

type envelope struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	Data      struct {
		Object               string         `json:"object"`
		ID                   string         `json:"id"`
		Charge               string         `json:"charge"`
		GatewayTransactionID string         `json:"gateway_transaction_id"`
		ChargeID             string         `json:"charge_id"`
		BookingID            string         `json:"booking_id"`
		Status               string         `json:"status"`
		Amount               int64          `json:"amount"`
		Currency             string         `json:"currency"`
		FailureCode          string         `json:"failure_code"`
		FailureMessage       string         `json:"failure_message"`
		RefundID             string         `json:"refund_id"`
		DisputeID            string         `json:"dispute_id"`
		Metadata             map[string]any `json:"metadata"`
	} `json:"data"`
}

// chargeID finds the charge across the shapes a delivery can take: our own
// flat fields, a charge object, or a refund or dispute object pointing at it.
func (e *envelope) chargeID() string {
	d := e.Data
	id := firstNonEmpty(d.GatewayTransactionID, d.ChargeID, d.Charge)
	if id == "" && d.Object == "charge" {
		id = d.ID
	}
	return id
}

// objectID returns data.id when data is an object of the given type.
func (e *envelope) objectID(object string) string {
	if e.Data.Object == object {
		return e.Data.ID
	}
	return ""
}

func metadataString(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// ParseWebhook decodes a verified delivery into its typed event. Both "kind"
// and the provider's "key" field name the event type.
func ParseWebhook(payload []byte) (WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.Validation("webhook payload is not valid JSON: %v", err)
	}
	if env.ID == "" {
		return nil, domain.Validation("webhook payload has no event id")
	}
	kind := env.Kind
	if kind == "" {
		kind = env.Key
	}

	meta := EventMeta{ID: env.ID, RawKind: kind, OccurredAt: env.CreatedAt}
	d := env.Data
	ref := ChargeRef{
		GatewayTransactionID: env.chargeID(),
		BookingID:            firstNonEmpty(d.BookingID, metadataString(d.Metadata, "booking_id")),
		Amount:               d.Amount,
		Currency:             strings.ToUpper(d.Currency),
	}

	switch kind {
	case "charge.succeeded":
		return ChargeSucceededEvent{EventMeta: meta, ChargeRef: ref}, nil
	case "charge.failed":
		return ChargeFailedEvent{EventMeta: meta, ChargeRef: ref, FailureCode: d.FailureCode, FailureMessage: d.FailureMessage}, nil
	case "charge.complete":
		switch d.Status {
		case "successful", "succeeded":
			return ChargeSucceededEvent{EventMeta: meta, ChargeRef: ref}, nil
		case "failed", "expired", "reversed":
			return ChargeFailedEvent{EventMeta: meta, ChargeRef: ref, FailureCode: d.FailureCode, FailureMessage: d.FailureMessage}, nil
		}
		return UnknownEvent{EventMeta: meta}, nil
	case "dispute.opened", "charge.dispute.opened", "dispute.create":
		return DisputeOpenedEvent{EventMeta: meta, ChargeRef: ref, DisputeID: firstNonEmpty(d.DisputeID, env.objectID("dispute"))}, nil
	case "refund.settled", "refund.create":
		return RefundSettledEvent{EventMeta: meta, ChargeRef: ref, GatewayRefundID: firstNonEmpty(d.RefundID, env.objectID("refund"))}, nil
	}
	if strings.HasPrefix(kind, "subscription.") || strings.HasPrefix(kind, "schedule.") || strings.HasPrefix(kind, "invoice.") {
		return RecurringEvent{EventMeta: meta}, nil
	}
	return UnknownEvent{EventMeta: meta}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
