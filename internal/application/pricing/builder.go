package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	pricingService = "pricing-service"
	useCaseBuild   = "pricing.build"
	peerCart       = "cart"
	peerCatalog    = "catalog"
)

var ErrCartUnavailable = errors.New("pricing: cart provider failure")

// CartProvider owns the buyer's cart; the checkout core only reads and clears it.
type CartProvider interface {
	Lines(ctx context.Context, buyerID string) ([]domain.CartLine, error)
	Clear(ctx context.Context, buyerID string) error
}

// Catalog returns current product data keyed by id. Unknown ids are simply absent.
type Catalog interface {
	Products(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// Builder turns the buyer's server-side cart into a priced draft.
type Builder struct {
	carts   CartProvider
	catalog Catalog
	policy  domain.Policy
	now     func() time.Time
	obs     application.Instruments
}

func NewBuilder(carts CartProvider, catalog Catalog, policy domain.Policy, tel observability.Observability) *Builder {
	return &Builder{
		carts:   carts,
		catalog: catalog,
		policy:  policy,
		now:     time.Now,
		obs:     application.NewInstruments(tel, pricingService),
	}
}

func (b *Builder) Policy() domain.Policy { return b.policy }

// Execute builds a draft for the buyer id.
func (b *Builder) Execute(ctx context.Context, buyerID string) (_ domain.Draft, err error) {
	ctx, run := b.obs.Begin(ctx, useCaseBuild, "BuildDraft", attribute.String("buyer.id", buyerID))
	defer func() { run.End(err) }()

	if buyerID == "" {
		run.Fail("BUYER_ID_REQUIRED")
		return domain.Draft{}, application.Validation("buyer id is required")
	}

	start := time.Now()
	lines, err := b.carts.Lines(ctx, buyerID)
	b.obs.External(peerCart, "lines", start, err)
	if err != nil {
		run.Fail("CART_LOOKUP_FAILED")
		return domain.Draft{}, fmt.Errorf("%w: %w", ErrCartUnavailable, err)
	}
	if len(lines) == 0 {
		run.Fail("CART_EMPTY")
		return domain.Draft{}, domain.ErrEmptyCart
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	start = time.Now()
	products, err := b.catalog.Products(ctx, ids)
	b.obs.External(peerCatalog, "products", start, err)
	if err != nil {
		run.Fail("CATALOG_LOOKUP_FAILED")
		return domain.Draft{}, fmt.Errorf("pricing: catalog: %w", err)
	}

	draft, err := domain.Build(lines, products, b.policy, b.now())
	if err != nil {
		var stale *domain.StaleCartError
		if errors.As(err, &stale) {
			run.Fail("CART_STALE")
			run.Annotate(observability.F("product_id", stale.ProductID), observability.F("reason", stale.Reason))
		} else {
			run.Fail("DRAFT_INVALID")
		}
		return domain.Draft{}, err
	}

	run.Span().SetAttributes(attribute.Int64("draft.total", draft.Total()))
	run.Annotate(observability.F("draft_total", draft.Total()), observability.F("lines", draft.Len()))
	return draft, nil
}

// Clear empties the buyer's cart after an order commits.
func (b *Builder) Clear(ctx context.Context, buyerID string) error {
	start := time.Now()
	err := b.carts.Clear(ctx, buyerID)
	b.obs.External(peerCart, "clear", start, err)
	return err
}
