package memory

import (
	"context"
	"sync"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
)

type CartStore struct {
	mu    sync.RWMutex
	carts map[string][]pricing.CartLine
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string][]pricing.CartLine)}
}

func (c *CartStore) Put(_ context.Context, buyerID string, lines []pricing.CartLine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[buyerID] = append([]pricing.CartLine(nil), lines...)
	return nil
}

func (c *CartStore) Lines(_ context.Context, buyerID string) ([]pricing.CartLine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]pricing.CartLine(nil), c.carts[buyerID]...), nil
}

func (c *CartStore) Clear(_ context.Context, buyerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, buyerID)
	return nil
}
