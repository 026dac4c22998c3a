package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TypeBookingStatusChanged = "booking.status_changed"
	TypePaymentDisputed      = "payment.disputed"
)

// Event is published after a reconciliation step has been persisted.
type Event struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	BookingID  string               `json:"booking_id"`
	ClientID   string               `json:"client_id"`
	GuardID    string               `json:"guard_id,omitempty"`
	From       domain.BookingStatus `json:"from,omitempty"`
	To         domain.BookingStatus `json:"to,omitempty"`
	PaymentID  string               `json:"payment_id,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

func StatusChanged(b domain.Booking, from domain.BookingStatus, reason string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeBookingStatusChanged,
		BookingID:  b.ID,
		ClientID:   b.ClientID,
		GuardID:    b.GuardID,
		From:       from,
		To:         b.Status,
		PaymentID:  b.PaymentRef,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

func Disputed(b domain.Booking, paymentID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypePaymentDisputed,
		BookingID:  b.ID,
		ClientID:   b.ClientID,
		GuardID:    b.GuardID,
		PaymentID:  paymentID,
		OccurredAt: time.Now().UTC(),
	}
}

func Decode(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher only logs. Used when no broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.WithFields(logrus.Fields{
		"event_type": ev.Type,
		"booking_id": ev.BookingID,
		"from":       ev.From,
		"to":         ev.To,
	}).Info("booking event")
	return nil
}

var _ Publisher = (*LogPublisher)(nil)
