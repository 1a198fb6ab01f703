package memory

import (
	"context"
	"sync"
	"sync/atomic"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

// StockStore keeps one atomic counter per product. Decrements are compare-and-swap
// loops, so no lock is held while stock changes hands.
type StockStore struct {
	mu     sync.RWMutex // guards the map, not the levels
	levels map[string]*atomic.Int64
}

func NewStockStore() *StockStore {
	return &StockStore{levels: make(map[string]*atomic.Int64)}
}

// Set overwrites a product's level. Used for seeding.
func (s *StockStore) Set(productID string, available int) {
	s.level(productID).Store(int64(available))
}

func (s *StockStore) SetLevel(_ context.Context, productID string, available int) error {
	s.Set(productID, available)
	return nil
}

func (s *StockStore) TryDecrement(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	l, ok := s.levels[productID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	for {
		cur := l.Load()
		if cur < int64(qty) {
			return false, nil
		}
		if l.CompareAndSwap(cur, cur-int64(qty)) {
			return true, nil
		}
	}
}

func (s *StockStore) Increment(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	s.level(productID).Add(int64(qty))
	return nil
}

func (s *StockStore) Available(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	l, ok := s.levels[productID]
	s.mu.RUnlock()
	if !ok {
		return 0, domain.ErrNotFound
	}
	return int(l.Load()), nil
}

func (s *StockStore) level(productID string) *atomic.Int64 {
	s.mu.RLock()
	l, ok := s.levels[productID]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.levels[productID]; ok {
		return l
	}
	l = new(atomic.Int64)
	s.levels[productID] = l
	return l
}
