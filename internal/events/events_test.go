package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func TestStatusChanged_RoundTripsThroughDecode(t *testing.T) {
	b := domain.Booking{ID: "b1", ClientID: "c1", Status: domain.BookingStatusConfirmed, PaymentRef: "p1"}
	ev := StatusChanged(b, domain.BookingStatusQuote, "payment")

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, TypeBookingStatusChanged, got.Type)
	assert.Equal(t, domain.BookingStatusQuote, got.From)
	assert.Equal(t, domain.BookingStatusConfirmed, got.To)
	assert.Equal(t, "p1", got.PaymentID)
	assert.NotEmpty(t, got.ID)
}

func TestNotifications(t *testing.T) {
	tests := []struct {
		name       string
		ev         Event
		recipients []string
	}{
		{"confirmed", Event{Type: TypeBookingStatusChanged, ClientID: "c1", To: domain.BookingStatusConfirmed}, []string{"client:c1"}},
		{"assigned", Event{Type: TypeBookingStatusChanged, ClientID: "c1", GuardID: "g1", To: domain.BookingStatusAssigned}, []string{"client:c1", "guard:g1"}},
		{"cancelled before assignment", Event{Type: TypeBookingStatusChanged, ClientID: "c1", To: domain.BookingStatusCancelled}, []string{"client:c1"}},
		{"cancelled after assignment", Event{Type: TypeBookingStatusChanged, ClientID: "c1", GuardID: "g1", To: domain.BookingStatusCancelled}, []string{"client:c1", "guard:g1"}},
		{"accepted is silent", Event{Type: TypeBookingStatusChanged, ClientID: "c1", To: domain.BookingStatusAccepted}, nil},
		{"dispute", Event{Type: TypePaymentDisputed, PaymentID: "p1"}, []string{"operations"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, n := range Notifications(tt.ev) {
				got = append(got, n.Recipient)
			}
			assert.Equal(t, tt.recipients, got)
		})
	}
}

func TestNotifier_HandleStopsOnSendError(t *testing.T) {
	sender := &MockSender{}
	sender.On("Send", mock.Anything, mock.MatchedBy(func(n Notification) bool { return n.Recipient == "client:c1" })).
		Return(errors.New("smtp down")).Once()

	err := NewNotifier(sender).Handle(context.Background(), Event{
		Type: TypeBookingStatusChanged, ClientID: "c1", GuardID: "g1", To: domain.BookingStatusAssigned,
	})

	assert.Error(t, err)
	sender.AssertExpectations(t)
	sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestLogPublisher(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewLogPublisher(logger)

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeBookingStatusChanged, BookingID: "b1"}))

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "b1", hook.LastEntry().Data["booking_id"])
}

func TestNewKafkaProducer(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewKafkaProducer([]string{"localhost:9092"}, "booking-events", logger)
	assert.NotNil(t, p)
	assert.NoError(t, p.Close())
}
