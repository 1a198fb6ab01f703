package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
)

// Seed is the on-disk fixture format for running the service without a database.
type Seed struct {
	Products []SeedProduct                 `json:"products"`
	Carts    map[string][]pricing.CartLine `json:"carts"`
}

type SeedProduct struct {
	ID          string `json:"id"`
	VendorID    string `json:"vendorId"`
	UnitPrice   int64  `json:"unitPrice"`
	Purchasable bool   `json:"purchasable"`
	Stock       int    `json:"stock"`
}

func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read seed: %w", err)
	}
	var s Seed
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("memory: decode seed: %w", err)
	}
	return &s, nil
}

// The writers below are satisfied by both the memory and the postgres stores.
type CatalogWriter interface {
	Put(ctx context.Context, p pricing.Product) error
}

type StockWriter interface {
	SetLevel(ctx context.Context, productID string, available int) error
}

type CartWriter interface {
	Put(ctx context.Context, buyerID string, lines []pricing.CartLine) error
}

func (s *Seed) Apply(ctx context.Context, catalog CatalogWriter, stock StockWriter, carts CartWriter) error {
	for _, p := range s.Products {
		product := pricing.Product{ID: p.ID, VendorID: p.VendorID, UnitPrice: p.UnitPrice, Purchasable: p.Purchasable}
		if err := catalog.Put(ctx, product); err != nil {
			return fmt.Errorf("memory: seed product %s: %w", p.ID, err)
		}
		if err := stock.SetLevel(ctx, p.ID, p.Stock); err != nil {
			return fmt.Errorf("memory: seed stock %s: %w", p.ID, err)
		}
	}
	if carts == nil {
		return nil
	}
	for buyer, lines := range s.Carts {
		if err := carts.Put(ctx, buyer, lines); err != nil {
			return err
		}
	}
	return nil
}
