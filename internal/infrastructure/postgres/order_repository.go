package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository struct {
	db *pgxpool.Pool
}

func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, buyer_id, session_id, reservation_token, draft, payment_method, payment,
	shipping_address, status, sub_orders, created_at, updated_at`

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.BuyerID, o.SessionID, o.ReservationToken, o.Draft, string(o.PaymentMethod), o.Payment,
		o.ShippingAddress, string(o.Status), o.SubOrders, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.one(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) FindBySession(ctx context.Context, buyerID, sessionID string) (*domain.Order, error) {
	return r.one(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 AND session_id = $2`, buyerID, sessionID)
}

// ApplyTransitions locks the order row, applies the changes in memory and writes
// the sub-orders and the recomputed status back in the same transaction.
func (r *OrderRepository) ApplyTransitions(ctx context.Context, id string, changes []domain.Change, now time.Time) (_ *domain.Order, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	o, err := r.one(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if err = o.Apply(changes, now); err != nil {
		return nil, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE orders SET status = $2, sub_orders = $3, updated_at = $4 WHERE id = $1`,
		o.ID, string(o.Status), o.SubOrders, o.UpdatedAt.UTC(),
	); err != nil {
		return nil, fmt.Errorf("repository: failed to update order: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return o, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *OrderRepository) one(ctx context.Context, q querier, sql string, args ...any) (*domain.Order, error) {
	var (
		o              domain.Order
		method, status string
		pay            *payment.Record
	)
	err := q.QueryRow(ctx, sql, args...).Scan(
		&o.ID, &o.BuyerID, &o.SessionID, &o.ReservationToken, &o.Draft, &method, &pay,
		&o.ShippingAddress, &status, &o.SubOrders, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to scan order: %w", err)
	}
	o.PaymentMethod = payment.Method(method)
	o.Payment = pay
	o.Status = domain.Status(status)
	return &o, nil
}
