package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReservationTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewReservationRepository()
	require.NoError(t, repo.Insert(ctx, &inventory.Reservation{
		Token: "r1", Status: inventory.ReservationHeld, ExpiresAt: now.Add(time.Minute),
		Lines: []inventory.Line{{ProductID: "A", Quantity: 1}},
	}))

	_, err := repo.Transition(ctx, "r1", []inventory.ReservationStatus{inventory.ReservationHeld}, inventory.ReservationConfirmed, now)
	require.NoError(t, err)
	_, err = repo.Transition(ctx, "r1", []inventory.ReservationStatus{inventory.ReservationHeld}, inventory.ReservationExpired, now)
	assert.ErrorIs(t, err, inventory.ErrReservationClosed)
	_, err = repo.Transition(ctx, "nope", []inventory.ReservationStatus{inventory.ReservationHeld}, inventory.ReservationExpired, now)
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
}

func TestReservationListExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewReservationRepository()
	for i, ttl := range []time.Duration{-2 * time.Minute, -time.Minute, time.Minute} {
		require.NoError(t, repo.Insert(ctx, &inventory.Reservation{
			Token: string(rune('a' + i)), Status: inventory.ReservationHeld, ExpiresAt: now.Add(ttl),
		}))
	}
	expired, err := repo.ListExpired(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].Token)
}

func TestSessionClaimHappensOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	require.NoError(t, repo.Create(ctx, &payment.Session{
		ID: "s1", GatewayOrderID: "gw1", BuyerID: "b", Fingerprint: "fp",
		Status: payment.SessionCreated, CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := repo.Claim(ctx, "gw1", payment.Record{TransactionID: "pay_1"}, now)
			assert.NoError(t, err)
			if claimed {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)

	s, err := repo.GetByGatewayOrderID(ctx, "gw1")
	require.NoError(t, err)
	assert.Equal(t, payment.SessionVerified, s.Status)
	assert.Equal(t, "pay_1", s.Record.TransactionID)

	_, err = repo.FindOpen(ctx, "b", "fp", now)
	assert.ErrorIs(t, err, payment.ErrSessionNotFound)
}

func TestSessionCreateRejectsSecondOpenSession(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	s := &payment.Session{GatewayOrderID: "gw1", BuyerID: "b", Fingerprint: "fp", Status: payment.SessionCreated, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, repo.Create(ctx, s))

	dup := *s
	dup.GatewayOrderID = "gw2"
	assert.ErrorIs(t, repo.Create(ctx, &dup), payment.ErrSessionExists)

	require.NoError(t, repo.MarkFailed(ctx, "gw1", "declined", now))
	assert.NoError(t, repo.Create(ctx, &dup))
}

func testOrder(t *testing.T) *order.Order {
	t.Helper()
	d, err := pricing.Build(
		[]pricing.CartLine{{ProductID: "A", Quantity: 1, UnitPriceAtAdd: 100}, {ProductID: "B", Quantity: 1, UnitPriceAtAdd: 100}},
		map[string]pricing.Product{
			"A": {ID: "A", VendorID: "v1", UnitPrice: 100, Purchasable: true},
			"B": {ID: "B", VendorID: "v2", UnitPrice: 100, Purchasable: true},
		},
		pricing.Policy{Currency: "INR", TaxRate: decimal.Zero, PriceTolerance: decimal.Zero}, now)
	require.NoError(t, err)
	o, err := order.New(order.NewParams{ID: "o1", BuyerID: "b", SessionID: "s1", Draft: d, Method: payment.MethodCOD, Now: now})
	require.NoError(t, err)
	return o
}

func TestOrderInsertRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	o := testOrder(t)
	require.NoError(t, repo.Insert(ctx, o))

	assert.ErrorIs(t, repo.Insert(ctx, o), order.ErrConflict)

	sameSession := o.Clone()
	sameSession.ID = "o2"
	assert.ErrorIs(t, repo.Insert(ctx, sameSession), order.ErrConflict)

	found, err := repo.FindBySession(ctx, "b", "s1")
	require.NoError(t, err)
	assert.Equal(t, "o1", found.ID)
}

func TestOrderConcurrentVendorUpdatesKeepAggregate(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Insert(ctx, testOrder(t)))

	var wg sync.WaitGroup
	for _, v := range []string{"v1", "v2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ApplyTransitions(ctx, "o1", []order.Change{{VendorID: v, From: order.StatusPending, To: order.StatusProcessing}}, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)
	assert.Equal(t, order.Aggregate(got.SubOrders), got.Status)
}

func TestSeedApply(t *testing.T) {
	ctx := context.Background()
	seed := &Seed{
		Products: []SeedProduct{{ID: "A", VendorID: "v1", UnitPrice: 100, Purchasable: true, Stock: 3}},
		Carts:    map[string][]pricing.CartLine{"b": {{ProductID: "A", Quantity: 1, UnitPriceAtAdd: 100}}},
	}
	catalog, stock, carts := NewCatalog(), NewStockStore(), NewCartStore()
	require.NoError(t, seed.Apply(ctx, catalog, stock, carts))

	products, _ := catalog.Products(ctx, []string{"A", "Z"})
	assert.Len(t, products, 1)
	left, _ := stock.Available(ctx, "A")
	assert.Equal(t, 3, left)
	lines, _ := carts.Lines(ctx, "b")
	assert.Len(t, lines, 1)
}
