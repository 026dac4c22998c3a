package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGLedger struct {
	db    *pgxpool.Pool
	lease time.Duration
}

func NewPGLedger(db *pgxpool.Pool, lease time.Duration) *PGLedger {
	return &PGLedger{db: db, lease: lease}
}

// CheckAndReserve inserts a reservation, or takes over one whose lease ran
// out, in a single statement. No row back means someone else owns the key.
func (l *PGLedger) CheckAndReserve(ctx context.Context, key domain.IdempotencyKey) (Reservation, error) {
	now := time.Now().UTC()
	token := uuid.NewString()

	var got string
	err := l.db.QueryRow(ctx, `
		INSERT INTO idempotency_records (event_source, event_id, state, reservation_token, reserved_at)
		VALUES ($1, $2, 'reserved', $3, $4)
		ON CONFLICT (event_source, event_id) DO UPDATE
			SET reservation_token = EXCLUDED.reservation_token, reserved_at = EXCLUDED.reserved_at
			WHERE idempotency_records.state = 'reserved' AND idempotency_records.reserved_at < $5
		RETURNING reservation_token`,
		key.Source, key.EventID, token, now, now.Add(-l.lease)).Scan(&got)
	if err == nil {
		return Reservation{Key: key, Token: got}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, fmt.Errorf("reserve %s: %w", key, err)
	}

	rec, err := l.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// released between our insert and read; the caller retries
			return Reservation{}, domain.EventInFlight(key)
		}
		return Reservation{}, err
	}
	if rec.State == domain.IdempotencyApplied && rec.Result != nil {
		return Reservation{Key: key, Applied: rec.Result}, nil
	}
	return Reservation{}, domain.EventInFlight(key)
}

func (l *PGLedger) Commit(ctx context.Context, r Reservation, result domain.ResultSnapshot) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	tag, err := l.db.Exec(ctx, `
		UPDATE idempotency_records SET state = 'applied', applied_at = now(), result = $4
		WHERE event_source = $1 AND event_id = $2 AND state = 'reserved' AND reservation_token = $3`,
		r.Key.Source, r.Key.EventID, r.Token, payload)
	if err != nil {
		return fmt.Errorf("commit %s: %w", r.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationLost
	}
	return nil
}

func (l *PGLedger) Release(ctx context.Context, r Reservation) error {
	tag, err := l.db.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE event_source = $1 AND event_id = $2 AND state = 'reserved' AND reservation_token = $3`,
		r.Key.Source, r.Key.EventID, r.Token)
	if err != nil {
		return fmt.Errorf("release %s: %w", r.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationLost
	}
	return nil
}

func (l *PGLedger) Get(ctx context.Context, key domain.IdempotencyKey) (*domain.IdempotencyRecord, error) {
	rec := domain.IdempotencyRecord{Key: key}
	var payload []byte
	err := l.db.QueryRow(ctx, `
		SELECT state, reservation_token, reserved_at, applied_at, result
		FROM idempotency_records WHERE event_source = $1 AND event_id = $2`,
		key.Source, key.EventID).Scan(&rec.State, &rec.ReservationToken, &rec.ReservedAt, &rec.AppliedAt, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("idempotency record", key.String())
		}
		return nil, err
	}
	if len(payload) > 0 {
		var snap domain.ResultSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("decode result for %s: %w", key, err)
		}
		rec.Result = &snap
	}
	return &rec, nil
}

func (l *PGLedger) Purge(ctx context.Context, appliedBefore time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM idempotency_records WHERE state = 'applied' AND applied_at < $1`, appliedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Ledger = (*PGLedger)(nil)
