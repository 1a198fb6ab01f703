package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

type SessionRepository struct {
	mu        sync.Mutex
	byGateway map[string]*domain.Session
	open      map[string]string // buyer|fingerprint -> gateway order id
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byGateway: make(map[string]*domain.Session),
		open:      make(map[string]string),
	}
}

func openKey(buyerID, fingerprint string) string { return buyerID + "|" + fingerprint }

func (r *SessionRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := openKey(s.BuyerID, s.Fingerprint)
	if gw, ok := r.open[key]; ok {
		if existing := r.byGateway[gw]; existing != nil && existing.Open(s.CreatedAt) {
			return domain.ErrSessionExists
		}
	}
	r.byGateway[s.GatewayOrderID] = s.Clone()
	r.open[key] = s.GatewayOrderID
	return nil
}

func (r *SessionRepository) FindOpen(_ context.Context, buyerID, fingerprint string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gw, ok := r.open[openKey(buyerID, fingerprint)]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s := r.byGateway[gw]
	if s == nil || !s.Open(now) {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *SessionRepository) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byGateway[gatewayOrderID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *SessionRepository) Claim(_ context.Context, gatewayOrderID string, rec domain.Record, now time.Time) (*domain.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byGateway[gatewayOrderID]
	if !ok {
		return nil, false, domain.ErrSessionNotFound
	}
	if s.Status != domain.SessionCreated && s.Status != domain.SessionAuthorized {
		return s.Clone(), false, nil
	}
	s.Status = domain.SessionVerified
	s.TransactionID = rec.TransactionID
	s.Record = &rec
	s.UpdatedAt = now.UTC()
	delete(r.open, openKey(s.BuyerID, s.Fingerprint))
	return s.Clone(), true, nil
}

func (r *SessionRepository) MarkFailed(_ context.Context, gatewayOrderID, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byGateway[gatewayOrderID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Status = domain.SessionFailed
	s.FailureReason = reason
	s.UpdatedAt = now.UTC()
	key := openKey(s.BuyerID, s.Fingerprint)
	if r.open[key] == gatewayOrderID {
		delete(r.open, key)
	}
	return nil
}
