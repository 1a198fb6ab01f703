package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type OrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]*domain.Order
	bySession map[string]string // buyer|session -> order id
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]*domain.Order),
		bySession: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(_ context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return domain.ErrConflict
	}
	key := ""
	if o.SessionID != "" {
		key = o.BuyerID + "|" + o.SessionID
		if _, exists := r.bySession[key]; exists {
			return domain.ErrConflict
		}
	}
	r.orders[o.ID] = o.Clone()
	if key != "" {
		r.bySession[key] = o.ID
	}
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) FindBySession(_ context.Context, buyerID, sessionID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySession[buyerID+"|"+sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.orders[id].Clone(), nil
}

func (r *OrderRepository) ApplyTransitions(_ context.Context, id string, changes []domain.Change, now time.Time) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := stored.Clone()
	if err := next.Apply(changes, now); err != nil {
		return nil, err
	}
	r.orders[id] = next
	return next.Clone(), nil
}
