package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGPaymentMethodRepository struct {
	db *pgxpool.Pool
}

func NewPaymentMethodRepository(db *pgxpool.Pool) PaymentMethodRepository {
	return &PGPaymentMethodRepository{db: db}
}

func (r *PGPaymentMethodRepository) GetCustomerID(ctx context.Context, clientID string) (string, error) {
	var customerID string
	err := r.db.QueryRow(ctx, `SELECT customer_id FROM gateway_customers WHERE client_id=$1`, clientID).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return customerID, err
}

func (r *PGPaymentMethodRepository) SaveCustomerID(ctx context.Context, clientID, customerID string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO gateway_customers (client_id, customer_id) VALUES ($1, $2)
		ON CONFLICT (client_id) DO NOTHING`, clientID, customerID)
	return err
}

// Save inserts a card. The first card a client saves becomes the default.
func (r *PGPaymentMethodRepository) Save(ctx context.Context, m domain.SavedPaymentMethod) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payment_methods (id, customer_id, client_id, brand, last4, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, NOT EXISTS (SELECT 1 FROM payment_methods WHERE client_id=$3), $6)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.CustomerID, m.ClientID, m.Brand, m.Last4, m.CreatedAt)
	return err
}

func (r *PGPaymentMethodRepository) Get(ctx context.Context, clientID, methodID string) (*domain.SavedPaymentMethod, error) {
	var m domain.SavedPaymentMethod
	err := r.db.QueryRow(ctx, `SELECT id, customer_id, client_id, brand, last4, is_default, created_at
		FROM payment_methods WHERE client_id=$1 AND id=$2`, clientID, methodID).
		Scan(&m.ID, &m.CustomerID, &m.ClientID, &m.Brand, &m.Last4, &m.IsDefault, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PGPaymentMethodRepository) List(ctx context.Context, clientID string) ([]domain.SavedPaymentMethod, error) {
	rows, err := r.db.Query(ctx, `SELECT id, customer_id, client_id, brand, last4, is_default, created_at
		FROM payment_methods WHERE client_id=$1 ORDER BY created_at`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]domain.SavedPaymentMethod, 0)
	for rows.Next() {
		var m domain.SavedPaymentMethod
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.ClientID, &m.Brand, &m.Last4, &m.IsDefault, &m.CreatedAt); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (r *PGPaymentMethodRepository) Delete(ctx context.Context, clientID, methodID string) error {
	res, err := r.db.Exec(ctx, `DELETE FROM payment_methods WHERE client_id=$1 AND id=$2`, clientID, methodID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGPaymentMethodRepository) SetDefault(ctx context.Context, clientID, methodID string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default = (id = $2) WHERE client_id=$1`, clientID, methodID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	var found bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_methods WHERE client_id=$1 AND id=$2)`, clientID, methodID).Scan(&found); err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

var _ PaymentMethodRepository = (*PGPaymentMethodRepository)(nil)
