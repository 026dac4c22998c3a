// Package ledger records which external events have been applied. A caller
// must reserve an event before producing side effects, then either commit
// the outcome or release the reservation so a redelivery can retry cleanly.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
)

// ErrReservationLost is returned by Commit and Release when the caller's
// reservation expired and was taken over, or was already resolved.
var ErrReservationLost = errors.New("idempotency reservation no longer held")

// Reservation is the result of CheckAndReserve. Exactly one of Token and
// Applied is set.
type Reservation struct {
	Key     domain.IdempotencyKey
	Token   string
	Applied *domain.ResultSnapshot
}

func (r Reservation) AlreadyApplied() bool { return r.Applied != nil }

type Ledger interface {
	// CheckAndReserve returns a held reservation, the stored outcome of an
	// applied event, or domain.ErrEventInFlight while another caller holds
	// the key.
	CheckAndReserve(ctx context.Context, key domain.IdempotencyKey) (Reservation, error)
	Commit(ctx context.Context, r Reservation, result domain.ResultSnapshot) error
	Release(ctx context.Context, r Reservation) error
	Get(ctx context.Context, key domain.IdempotencyKey) (*domain.IdempotencyRecord, error)
	// Purge deletes applied records older than the cutoff.
	Purge(ctx context.Context, appliedBefore time.Time) (int64, error)
}
