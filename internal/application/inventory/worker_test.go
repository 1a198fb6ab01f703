package inventory

import (
	"context"
	"testing"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerMap map[string]domoutbox.Handler

func (h handlerMap) Subscribe(name string, fn domoutbox.Handler) { h[name] = fn }

type restockFn func(ctx context.Context, in RestockInput) (int, error)

func (f restockFn) Execute(ctx context.Context, in RestockInput) (int, error) { return f(ctx, in) }

func TestWorkerRestocksCancelledSubOrders(t *testing.T) {
	subs := handlerMap{}
	var got RestockInput
	NewWorker(subs, restockFn(func(_ context.Context, in RestockInput) (int, error) {
		got = in
		return 1, nil
	}), nil).Start()

	h, ok := subs["order.suborder_cancelled"]
	require.True(t, ok)
	require.NoError(t, h(context.Background(), domorder.SubOrderCancelledEvent{
		OrderID: "o1", VendorID: "v1", Lines: []domain.Line{{ProductID: "A", Quantity: 1}},
	}))
	assert.Equal(t, "o1", got.OrderID)
	assert.Len(t, got.Lines, 1)
}

func TestWorkerSkipsStockAlreadyReturned(t *testing.T) {
	subs := handlerMap{}
	calls := 0
	NewWorker(subs, restockFn(func(context.Context, RestockInput) (int, error) {
		calls++
		return 1, nil
	}), nil).Start()

	require.NoError(t, subs["order.suborder_cancelled"](context.Background(), domorder.SubOrderCancelledEvent{
		OrderID: "o1", VendorID: "v1", Lines: []domain.Line{{ProductID: "A", Quantity: 1}}, StockReturned: true,
	}))
	assert.Zero(t, calls)
}
