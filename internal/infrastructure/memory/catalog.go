package memory

import (
	"context"
	"sync"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
)

type Catalog struct {
	mu       sync.RWMutex
	products map[string]pricing.Product
}

func NewCatalog(products ...pricing.Product) *Catalog {
	c := &Catalog{products: make(map[string]pricing.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *Catalog) Put(_ context.Context, p pricing.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	return nil
}

func (c *Catalog) Products(_ context.Context, ids []string) (map[string]pricing.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]pricing.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
