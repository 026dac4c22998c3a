package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Active reports whether the transaction blocks a new charge for its booking.
func (s PaymentStatus) Active() bool {
	return s == PaymentStatusPending || s == PaymentStatusSucceeded
}

type PaymentTransaction struct {
	ID                   string
	GatewayTransactionID string
	BookingID            string
	Status               PaymentStatus
	Amount               int64
	RefundedAmount       int64
	Currency             string
	FailureCode          string
	FailureMessage       string
	GatewayRefundID      string
	DisputedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	// Version is 0 until the transaction is first stored.
	Version int64
}

// HoldsFunds reports whether money captured by this transaction has not been
// returned to the client yet.
func (p *PaymentTransaction) HoldsFunds() bool {
	if p == nil {
		return false
	}
	settled := p.Status == PaymentStatusSucceeded || p.Status == PaymentStatusPartiallyRefunded
	return settled && p.RefundedAmount < p.Amount
}

// SavedPaymentMethod is a card stored on the gateway customer.
type SavedPaymentMethod struct {
	ID         string
	CustomerID string
	ClientID   string
	Brand      string
	Last4      string
	IsDefault  bool
	CreatedAt  time.Time
}
