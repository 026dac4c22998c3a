package events

import (
	"context"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/sirupsen/logrus"
)

// Notification is one message to one party about a booking.
type Notification struct {
	Recipient string
	BookingID string
	Subject   string
}

// Sender delivers notifications. The worker ships with a logging sender; a
// real mail or push integration plugs in here.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type LogSender struct {
	log logrus.FieldLogger
}

func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.log.WithFields(logrus.Fields{"recipient": n.Recipient, "booking_id": n.BookingID}).Info(n.Subject)
	return nil
}

type Notifier struct {
	sender Sender
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Handle turns an event into the notifications the client and guard should
// get. Events nobody cares about produce none.
func (n *Notifier) Handle(ctx context.Context, ev Event) error {
	for _, msg := range Notifications(ev) {
		if err := n.sender.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func Notifications(ev Event) []Notification {
	client := func(subject string) Notification {
		return Notification{Recipient: "client:" + ev.ClientID, BookingID: ev.BookingID, Subject: subject}
	}
	guard := func(subject string) Notification {
		return Notification{Recipient: "guard:" + ev.GuardID, BookingID: ev.BookingID, Subject: subject}
	}

	if ev.Type == TypePaymentDisputed {
		return []Notification{{Recipient: "operations", BookingID: ev.BookingID, Subject: "payment " + ev.PaymentID + " disputed"}}
	}
	if ev.Type != TypeBookingStatusChanged {
		return nil
	}

	switch ev.To {
	case domain.BookingStatusConfirmed:
		return []Notification{client("booking confirmed, payment received")}
	case domain.BookingStatusAssigned:
		return []Notification{client("a guard has been assigned"), guard("new booking assigned to you")}
	case domain.BookingStatusEnRoute:
		return []Notification{client("your guard is on the way")}
	case domain.BookingStatusCompleted:
		return []Notification{client("booking completed")}
	case domain.BookingStatusCancelled:
		out := []Notification{client("booking cancelled")}
		if ev.GuardID != "" {
			out = append(out, guard("booking cancelled"))
		}
		return out
	}
	return nil
}
