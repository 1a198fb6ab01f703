package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCarts struct {
	linesFn func(ctx context.Context, buyerID string) ([]domain.CartLine, error)
	cleared []string
}

func (s *stubCarts) Lines(ctx context.Context, buyerID string) ([]domain.CartLine, error) {
	return s.linesFn(ctx, buyerID)
}

func (s *stubCarts) Clear(_ context.Context, buyerID string) error {
	s.cleared = append(s.cleared, buyerID)
	return nil
}

type stubCatalog map[string]domain.Product

func (c stubCatalog) Products(_ context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

var policy = domain.Policy{
	Currency:              "INR",
	TaxRate:               decimal.RequireFromString("0.18"),
	FreeShippingThreshold: 500,
	PriceTolerance:        decimal.RequireFromString("0.02"),
}

func TestBuilderPricesServerSideCart(t *testing.T) {
	carts := &stubCarts{linesFn: func(_ context.Context, buyerID string) ([]domain.CartLine, error) {
		assert.Equal(t, "buyer-1", buyerID)
		return []domain.CartLine{{ProductID: "A", Quantity: 2, UnitPriceAtAdd: 100}}, nil
	}}
	b := NewBuilder(carts, stubCatalog{"A": {ID: "A", VendorID: "v1", UnitPrice: 100, Purchasable: true}}, policy, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	d, err := b.Execute(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.EqualValues(t, 236, d.Total())
	assert.Equal(t, fixed, d.QuotedAt())

	require.NoError(t, b.Clear(context.Background(), "buyer-1"))
	assert.Equal(t, []string{"buyer-1"}, carts.cleared)
}

func TestBuilderFailures(t *testing.T) {
	cartErr := errors.New("redis down")
	tests := []struct {
		name     string
		buyer    string
		lines    []domain.CartLine
		linesErr error
		want     error
	}{
		{name: "no buyer", buyer: "", want: application.ErrValidation},
		{name: "cart provider down", buyer: "b", linesErr: cartErr, want: ErrCartUnavailable},
		{name: "empty cart", buyer: "b", want: domain.ErrEmptyCart},
		{name: "product gone", buyer: "b", lines: []domain.CartLine{{ProductID: "X", Quantity: 1, UnitPriceAtAdd: 5}}, want: domain.ErrStaleCart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := &stubCarts{linesFn: func(context.Context, string) ([]domain.CartLine, error) {
				return tt.lines, tt.linesErr
			}}
			b := NewBuilder(carts, stubCatalog{}, policy, nil)

			_, err := b.Execute(context.Background(), tt.buyer)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
