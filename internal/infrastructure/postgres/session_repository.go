package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `gateway_order_id, id, buyer_id, order_id, fingerprint, reservation_token, draft,
	shipping_address, method, amount, currency, status, transaction_id, record, failure_reason,
	created_at, expires_at, updated_at`

// Create relies on the partial unique index over open sessions. Sessions that
// lapsed without a callback are closed first so they do not hold the slot.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		UPDATE payment_sessions SET status = 'failed', failure_reason = 'expired', updated_at = $3
		WHERE buyer_id = $1 AND fingerprint = $2 AND status IN ('created', 'authorized') AND expires_at <= $3`,
		s.BuyerID, s.Fingerprint, s.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("repository: failed to close lapsed sessions: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.GatewayOrderID, s.ID, s.BuyerID, s.OrderID, s.Fingerprint, s.ReservationToken, s.Draft,
		s.ShippingAddress, string(s.Method), s.Amount, s.Currency, string(s.Status), s.TransactionID, s.Record,
		s.FailureReason, s.CreatedAt.UTC(), s.ExpiresAt.UTC(), s.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return domain.ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("repository: failed to insert session: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindOpen(ctx context.Context, buyerID, fingerprint string, now time.Time) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM payment_sessions
		WHERE buyer_id = $1 AND fingerprint = $2 AND status IN ('created', 'authorized') AND expires_at > $3`,
		buyerID, fingerprint, now.UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	return s, err
}

func (r *SessionRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM payment_sessions WHERE gateway_order_id = $1`, gatewayOrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	return s, err
}

// Claim is a conditional UPDATE; the row lock it takes serializes concurrent
// verifications so exactly one sees a returned row.
func (r *SessionRepository) Claim(ctx context.Context, gatewayOrderID string, rec domain.Record, now time.Time) (*domain.Session, bool, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		UPDATE payment_sessions
		SET status = 'verified', transaction_id = $2, record = $3, updated_at = $4
		WHERE gateway_order_id = $1 AND status IN ('created', 'authorized')
		RETURNING `+sessionColumns,
		gatewayOrderID, rec.TransactionID, rec, now.UTC(),
	))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	stored, err := r.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *SessionRepository) MarkFailed(ctx context.Context, gatewayOrderID, reason string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_sessions SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE gateway_order_id = $1`,
		gatewayOrderID, reason, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to mark session failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s              domain.Session
		method, status string
	)
	err := row.Scan(
		&s.GatewayOrderID, &s.ID, &s.BuyerID, &s.OrderID, &s.Fingerprint, &s.ReservationToken, &s.Draft,
		&s.ShippingAddress, &method, &s.Amount, &s.Currency, &status, &s.TransactionID, &s.Record,
		&s.FailureReason, &s.CreatedAt, &s.ExpiresAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to scan session: %w", err)
	}
	s.Method = domain.Method(method)
	s.Status = domain.SessionStatus(status)
	return &s, nil
}
