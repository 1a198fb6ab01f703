package order

import (
	"context"
	"errors"
	"testing"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerMap map[string]domoutbox.Handler

func (h handlerMap) Subscribe(name string, fn domoutbox.Handler) { h[name] = fn }

type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, n)
	return nil
}

func TestNotificationWorkerOnPlacedOrder(t *testing.T) {
	h := newHarness(t, 0)
	ord := placeTwoVendorOrder(t, h, dompay.MethodCOD)

	subs := handlerMap{}
	notes := &recordingNotifier{}
	NewNotificationWorker(h.orders, subs, notes, nil).Start()

	placed := h.pub.named(domain.PlacedEvent{}.EventName())
	require.Len(t, placed, 1)
	require.NoError(t, subs[domain.PlacedEvent{}.EventName()](context.Background(), placed[0]))

	require.Len(t, notes.got, 3)
	assert.Equal(t, Notification{Recipient: "buyer-1", Role: RoleBuyer, Kind: KindOrderPlaced, OrderID: ord.ID, Status: domain.StatusPending}, notes.got[0])
	assert.Equal(t, "v1", notes.got[1].Recipient)
	assert.Equal(t, "v2", notes.got[2].Recipient)
	assert.Equal(t, KindNewOrder, notes.got[2].Kind)
}

func TestNotificationWorkerSkipsSupersededChanges(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	ord := placeTwoVendorOrder(t, h, dompay.MethodCOD)

	for _, to := range []domain.Status{domain.StatusProcessing, domain.StatusShipped} {
		_, err := h.status.UpdateVendorStatus(ctx, VendorStatusInput{OrderID: ord.ID, VendorID: "v1", ItemIndex: 0, Status: to})
		require.NoError(t, err)
	}

	subs := handlerMap{}
	notes := &recordingNotifier{}
	NewNotificationWorker(h.orders, subs, notes, nil).Start()
	handle := subs[domain.StatusChangedEvent{}.EventName()]

	for _, e := range h.pub.named(domain.StatusChangedEvent{}.EventName()) {
		require.NoError(t, handle(ctx, e))
	}
	require.Len(t, notes.got, 1, "Processing was overtaken by Shipped")
	assert.Equal(t, domain.StatusShipped, notes.got[0].Status)
	assert.Equal(t, "v1", notes.got[0].VendorID)
}

func TestNotificationWorkerSurfacesFailures(t *testing.T) {
	subs := handlerMap{}
	notes := &recordingNotifier{err: errors.New("smtp down")}
	NewNotificationWorker(newHarness(t, 0).orders, subs, notes, nil).Start()

	err := subs[domain.PlacedEvent{}.EventName()](context.Background(), domain.PlacedEvent{OrderID: "o1", BuyerID: "b1"})
	assert.ErrorContains(t, err, "smtp down")

	err = subs[domain.StatusChangedEvent{}.EventName()](context.Background(), domain.StatusChangedEvent{OrderID: "missing", VendorID: "v1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), Notification{Recipient: "b1", Kind: KindOrderPlaced}))
}
