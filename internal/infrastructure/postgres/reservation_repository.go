package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReservationRepository also implements domain.Ledger over the inventory table.
type ReservationRepository struct {
	db *pgxpool.Pool
}

func NewReservationRepository(db *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationColumns = `token, buyer_id, lines, status, created_at, expires_at, updated_at`

func (r *ReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.Token, res.BuyerID, res.Lines, string(res.Status), res.CreatedAt, res.ExpiresAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert reservation: %w", err)
	}
	return nil
}

func (r *ReservationRepository) Get(ctx context.Context, token string) (*domain.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	return res, err
}

// Transition is one conditional UPDATE; when no row matches it tells a missing
// reservation apart from one in the wrong state.
func (r *ReservationRepository) Transition(ctx context.Context, token string, from []domain.ReservationStatus, next domain.ReservationStatus, now time.Time) (*domain.Reservation, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	res, err := scanReservation(r.db.QueryRow(ctx, `
		UPDATE reservations SET status = $3, updated_at = $4
		WHERE token = $1 AND status = ANY($2)
		RETURNING `+reservationColumns,
		token, allowed, string(next), now.UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := r.Get(ctx, token); gerr != nil {
			return nil, gerr
		}
		return nil, domain.ErrReservationClosed
	}
	return res, err
}

func (r *ReservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'held' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list expired reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	err := row.Scan(&res.Token, &res.BuyerID, &res.Lines, &status, &res.CreatedAt, &res.ExpiresAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to scan reservation: %w", err)
	}
	res.Status = domain.ReservationStatus(status)
	return &res, nil
}

// ReserveAll decrements every line and inserts the reservation in one transaction.
// Lines are locked in product order so concurrent reservations cannot deadlock.
func (r *ReservationRepository) ReserveAll(ctx context.Context, res *domain.Reservation) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, l := range sortedLines(res.Lines) {
		if l.Quantity <= 0 {
			return domain.ErrInvalidQuantity
		}
		tag, err := tx.Exec(ctx, `
			UPDATE inventory SET available = available - $2, updated_at = now()
			WHERE product_id = $1 AND available >= $2`,
			l.ProductID, l.Quantity,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to decrement stock: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return &domain.InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
		}
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.Token, res.BuyerID, res.Lines, string(res.Status), res.CreatedAt, res.ExpiresAt, res.UpdatedAt,
	); err != nil {
		return fmt.Errorf("repository: failed to insert reservation: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return nil
}

// CloseAndRestock moves the reservation out of one of from and returns its stock in
// the same transaction.
func (r *ReservationRepository) CloseAndRestock(ctx context.Context, token string, from []domain.ReservationStatus, next domain.ReservationStatus, now time.Time) (_ *domain.Reservation, err error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	res, err := scanReservation(tx.QueryRow(ctx, `
		UPDATE reservations SET status = $3, updated_at = $4
		WHERE token = $1 AND status = ANY($2)
		RETURNING `+reservationColumns,
		token, allowed, string(next), now.UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err = r.Get(ctx, token); err != nil {
			return nil, err
		}
		err = domain.ErrReservationClosed
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if err = restockTx(ctx, tx, res.Lines); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return res, nil
}

func (r *ReservationRepository) Restock(ctx context.Context, lines []domain.Line) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = restockTx(ctx, tx, lines); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return nil
}

func restockTx(ctx context.Context, tx pgx.Tx, lines []domain.Line) error {
	for _, l := range sortedLines(lines) {
		if l.Quantity <= 0 {
			return domain.ErrInvalidQuantity
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory (product_id, available) VALUES ($1, $2)
			ON CONFLICT (product_id) DO UPDATE
			SET available = inventory.available + EXCLUDED.available, updated_at = now()`,
			l.ProductID, l.Quantity,
		); err != nil {
			return fmt.Errorf("repository: failed to increment stock: %w", err)
		}
	}
	return nil
}

func sortedLines(lines []domain.Line) []domain.Line {
	out := slices.Clone(lines)
	slices.SortFunc(out, func(a, b domain.Line) int { return strings.Compare(a.ProductID, b.ProductID) })
	return out
}
