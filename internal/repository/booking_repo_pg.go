package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, client_id, COALESCE(guard_id, ''), status, currency, total_amount, processing_fee,
	platform_cut, guard_payout, COALESCE(payment_ref, ''), COALESCE(refund_ref, ''), created_at, confirmed_at,
	started_at, completed_at, cancelled_at, updated_at, version`

const paymentColumns = `id, COALESCE(gateway_transaction_id, ''), booking_id, status, amount, refunded_amount,
	currency, COALESCE(failure_code, ''), COALESCE(failure_message, ''), COALESCE(gateway_refund_id, ''),
	disputed_at, created_at, updated_at, version`

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

func (r *PGBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	_, err := r.db.Exec(ctx, `INSERT INTO bookings (id, client_id, status, currency, total_amount, processing_fee,
		platform_cut, guard_payout, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $6, $7)`,
		b.ID, b.ClientID, b.Status, b.Currency, b.TotalAmount, now, b.Version)
	return err
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	return scanBooking(row)
}

func (r *PGBookingRepository) GetPayment(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE id=$1`, id)
	return scanPayment(row)
}

func (r *PGBookingRepository) GetPaymentByGatewayID(ctx context.Context, gatewayTransactionID string) (*domain.PaymentTransaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE gateway_transaction_id=$1`, gatewayTransactionID)
	return scanPayment(row)
}

func (r *PGBookingRepository) ListPayments(ctx context.Context, bookingID string) ([]domain.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE booking_id=$1 ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.PaymentTransaction, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ApplyOutcome writes the booking and its payments in one transaction. The
// partial unique index on active payments and the version predicates all
// surface as ErrConflict.
func (r *PGBookingRepository) ApplyOutcome(ctx context.Context, out Outcome) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, p := range out.Payments {
		if err := writePayment(ctx, tx, p, now); err != nil {
			return err
		}
	}

	if b := out.Booking; b != nil {
		res, err := tx.Exec(ctx, `UPDATE bookings SET status=$3, guard_id=NULLIF($4, ''), processing_fee=$5, platform_cut=$6,
			guard_payout=$7, payment_ref=NULLIF($8, ''), refund_ref=NULLIF($9, ''), confirmed_at=$10, started_at=$11,
			completed_at=$12, cancelled_at=$13, updated_at=$14, version=version+1
			WHERE id=$1 AND version=$2`,
			b.ID, b.Version, b.Status, b.GuardID, b.ProcessingFee, b.PlatformCut, b.GuardPayout, b.PaymentRef,
			b.RefundRef, b.ConfirmedAt, b.StartedAt, b.CompletedAt, b.CancelledAt, now)
		if err != nil {
			return mapWriteErr(err)
		}
		if res.RowsAffected() == 0 {
			return ErrConflict
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapWriteErr(err)
	}
	for _, p := range out.Payments {
		p.Version++
	}
	if out.Booking != nil {
		out.Booking.Version++
		out.Booking.UpdatedAt = now
	}
	return nil
}

// writePayment inserts a payment that was never stored and otherwise updates
// it only if nobody has written it since it was read.
func writePayment(ctx context.Context, tx pgx.Tx, p *domain.PaymentTransaction, now time.Time) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if p.Version == 0 {
		_, err := tx.Exec(ctx, `INSERT INTO payment_transactions (id, gateway_transaction_id, booking_id, status, amount,
			refunded_amount, currency, failure_code, failure_message, gateway_refund_id, disputed_at, created_at, updated_at, version)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, 1)`,
			p.ID, p.GatewayTransactionID, p.BookingID, p.Status, p.Amount, p.RefundedAmount, p.Currency,
			p.FailureCode, p.FailureMessage, p.GatewayRefundID, p.DisputedAt, p.CreatedAt, p.UpdatedAt)
		return mapWriteErr(err)
	}

	res, err := tx.Exec(ctx, `UPDATE payment_transactions SET gateway_transaction_id=NULLIF($3, ''), status=$4,
		refunded_amount=$5, failure_code=NULLIF($6, ''), failure_message=NULLIF($7, ''), gateway_refund_id=NULLIF($8, ''),
		disputed_at=$9, updated_at=$10, version=version+1
		WHERE id=$1 AND version=$2`,
		p.ID, p.Version, p.GatewayTransactionID, p.Status, p.RefundedAmount, p.FailureCode, p.FailureMessage,
		p.GatewayRefundID, p.DisputedAt, p.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if res.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.ClientID, &b.GuardID, &b.Status, &b.Currency, &b.TotalAmount, &b.ProcessingFee,
		&b.PlatformCut, &b.GuardPayout, &b.PaymentRef, &b.RefundRef, &b.CreatedAt, &b.ConfirmedAt,
		&b.StartedAt, &b.CompletedAt, &b.CancelledAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanPayment(row pgx.Row) (*domain.PaymentTransaction, error) {
	var p domain.PaymentTransaction
	err := row.Scan(&p.ID, &p.GatewayTransactionID, &p.BookingID, &p.Status, &p.Amount, &p.RefundedAmount,
		&p.Currency, &p.FailureCode, &p.FailureMessage, &p.GatewayRefundID, &p.DisputedAt, &p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// mapWriteErr turns unique violations into ErrConflict.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

var _ BookingRepository = (*PGBookingRepository)(nil)
