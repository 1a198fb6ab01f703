package postgres

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Catalog struct {
	db *pgxpool.Pool
}

func NewCatalog(db *pgxpool.Pool) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) Products(ctx context.Context, ids []string) (map[string]pricing.Product, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id, vendor_id, unit_price, purchasable FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	out := make(map[string]pricing.Product, len(ids))
	for rows.Next() {
		var p pricing.Product
		if err := rows.Scan(&p.ID, &p.VendorID, &p.UnitPrice, &p.Purchasable); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to read products: %w", err)
	}
	return out, nil
}

func (c *Catalog) Put(ctx context.Context, p pricing.Product) error {
	_, err := c.db.Exec(ctx, `
		INSERT INTO products (id, vendor_id, unit_price, purchasable) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET vendor_id = EXCLUDED.vendor_id, unit_price = EXCLUDED.unit_price,
		    purchasable = EXCLUDED.purchasable, updated_at = now()`,
		p.ID, p.VendorID, p.UnitPrice, p.Purchasable,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to upsert product: %w", err)
	}
	return nil
}
