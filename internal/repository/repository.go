package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/guardbooking/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a conditional write lost: the booking version moved on,
	// or a second active payment was recorded for the same booking.
	ErrConflict = errors.New("write conflict")
)

// Outcome is everything one reconciliation step changes, written atomically.
// Booking is updated only if its Version still matches storage; on success
// its Version is incremented in place. Payments with Version 0 are inserted;
// the rest are updated under the same version check.
type Outcome struct {
	Booking  *domain.Booking
	Payments []*domain.PaymentTransaction
}

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetPayment(ctx context.Context, id string) (*domain.PaymentTransaction, error)
	GetPaymentByGatewayID(ctx context.Context, gatewayTransactionID string) (*domain.PaymentTransaction, error)
	ListPayments(ctx context.Context, bookingID string) ([]domain.PaymentTransaction, error)
	ApplyOutcome(ctx context.Context, out Outcome) error
}

type PaymentMethodRepository interface {
	GetCustomerID(ctx context.Context, clientID string) (string, error)
	SaveCustomerID(ctx context.Context, clientID, customerID string) error
	Save(ctx context.Context, m domain.SavedPaymentMethod) error
	Get(ctx context.Context, clientID, methodID string) (*domain.SavedPaymentMethod, error)
	List(ctx context.Context, clientID string) ([]domain.SavedPaymentMethod, error)
	Delete(ctx context.Context, clientID, methodID string) error
	SetDefault(ctx context.Context, clientID, methodID string) error
}
