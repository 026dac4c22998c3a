package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/google/uuid"
)

// MemoryLedger is a process-local ledger. It only protects against duplicates
// within one instance.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[domain.IdempotencyKey]*domain.IdempotencyRecord
	lease   time.Duration
	now     func() time.Time
}

func NewMemoryLedger(lease time.Duration) *MemoryLedger {
	return &MemoryLedger{
		records: make(map[domain.IdempotencyKey]*domain.IdempotencyRecord),
		lease:   lease,
		now:     time.Now,
	}
}

func (l *MemoryLedger) CheckAndReserve(_ context.Context, key domain.IdempotencyKey) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if rec, ok := l.records[key]; ok {
		if rec.State == domain.IdempotencyApplied {
			snap := *rec.Result
			return Reservation{Key: key, Applied: &snap}, nil
		}
		if l.lease <= 0 || now.Sub(rec.ReservedAt) < l.lease {
			return Reservation{}, domain.EventInFlight(key)
		}
	}

	token := uuid.NewString()
	l.records[key] = &domain.IdempotencyRecord{
		Key:              key,
		State:            domain.IdempotencyReserved,
		ReservationToken: token,
		ReservedAt:       now,
	}
	return Reservation{Key: key, Token: token}, nil
}

func (l *MemoryLedger) Commit(_ context.Context, r Reservation, result domain.ResultSnapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[r.Key]
	if !ok || rec.State != domain.IdempotencyReserved || rec.ReservationToken != r.Token {
		return ErrReservationLost
	}
	now := l.now()
	rec.State = domain.IdempotencyApplied
	rec.AppliedAt = &now
	rec.Result = &result
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, r Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[r.Key]
	if !ok || rec.State != domain.IdempotencyReserved || rec.ReservationToken != r.Token {
		return ErrReservationLost
	}
	delete(l.records, r.Key)
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, key domain.IdempotencyKey) (*domain.IdempotencyRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return nil, domain.NotFound("idempotency record", key.String())
	}
	cp := *rec
	return &cp, nil
}

func (l *MemoryLedger) Purge(_ context.Context, appliedBefore time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for key, rec := range l.records {
		if rec.State == domain.IdempotencyApplied && rec.AppliedAt.Before(appliedBefore) {
			delete(l.records, key)
			n++
		}
	}
	return n, nil
}

var _ Ledger = (*MemoryLedger)(nil)
