package domain

import "time"

type BookingStatus string

const (
	BookingStatusQuote     BookingStatus = "quote"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusAssigned  BookingStatus = "assigned"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusEnRoute   BookingStatus = "en_route"
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusQuote, BookingStatusConfirmed, BookingStatusAssigned, BookingStatusAccepted,
		BookingStatusEnRoute, BookingStatusActive, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// Booking amounts are minor currency units. The fee breakdown is zero until
// the booking is confirmed and never changes afterwards.
type Booking struct {
	ID            string
	ClientID      string
	GuardID       string
	Status        BookingStatus
	Currency      string
	TotalAmount   int64
	ProcessingFee int64
	PlatformCut   int64
	GuardPayout   int64
	PaymentRef    string
	RefundRef     string
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	UpdatedAt     time.Time
	Version       int64
}

// BreakdownBalanced reports whether the frozen fee split adds up to the total.
func (b *Booking) BreakdownBalanced() bool {
	return b.TotalAmount == b.ProcessingFee+b.PlatformCut+b.GuardPayout
}
