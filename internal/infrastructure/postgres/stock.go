package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockStore guards inventory with single-statement conditional updates.
type StockStore struct {
	db *pgxpool.Pool
}

func NewStockStore(db *pgxpool.Pool) *StockStore {
	return &StockStore{db: db}
}

func (s *StockStore) TryDecrement(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE inventory SET available = available - $2, updated_at = now()
		WHERE product_id = $1 AND available >= $2`,
		productID, qty,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to decrement stock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *StockStore) Increment(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO inventory (product_id, available) VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE
		SET available = inventory.available + EXCLUDED.available, updated_at = now()`,
		productID, qty,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to increment stock: %w", err)
	}
	return nil
}

func (s *StockStore) Available(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT available FROM inventory WHERE product_id = $1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("repository: failed to read stock: %w", err)
	}
	return n, nil
}

// SetLevel overwrites a product's level. Used for seeding.
func (s *StockStore) SetLevel(ctx context.Context, productID string, available int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO inventory (product_id, available) VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE SET available = EXCLUDED.available, updated_at = now()`,
		productID, available,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to set stock: %w", err)
	}
	return nil
}
