package order

import (
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/shipping"
	"github.com/shopspring/decimal"
)

// VendorSubOrder tracks fulfillment of the draft lines belonging to one vendor.
type VendorSubOrder struct {
	VendorID    string    `json:"vendorId"`
	ItemIndices []int     `json:"itemIndices"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Order struct {
	ID               string
	BuyerID          string
	SessionID        string
	ReservationToken string
	Draft            pricing.Draft
	PaymentMethod    payment.Method
	Payment          *payment.Record
	ShippingAddress  shipping.Address
	Status           Status
	SubOrders        []VendorSubOrder
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type NewParams struct {
	ID               string
	BuyerID          string
	SessionID        string
	ReservationToken string
	Draft            pricing.Draft
	Method           payment.Method
	Payment          *payment.Record
	ShippingAddress  shipping.Address
	Now              time.Time
}

// New creates a Pending order with one Pending sub-order per distinct vendor, in the
// order vendors first appear in the draft.
func New(p NewParams) (*Order, error) {
	if p.ID == "" || p.BuyerID == "" {
		return nil, fmt.Errorf("%w: id and buyer are required", ErrInvalidOrder)
	}
	if p.Draft.IsZero() {
		return nil, fmt.Errorf("%w: draft has no lines", ErrInvalidOrder)
	}
	if p.Method.RequiresGateway() {
		if p.Payment == nil {
			return nil, fmt.Errorf("%w: %s orders need a verified payment", ErrInvalidOrder, p.Method)
		}
		if p.Payment.Amount != p.Draft.Total() {
			return nil, fmt.Errorf("%w: paid %d but draft total is %d", ErrInvalidOrder, p.Payment.Amount, p.Draft.Total())
		}
	}

	now := p.Now.UTC()
	var subs []VendorSubOrder
	pos := make(map[string]int)
	for i, line := range p.Draft.Lines() {
		idx, ok := pos[line.VendorID]
		if !ok {
			idx = len(subs)
			pos[line.VendorID] = idx
			subs = append(subs, VendorSubOrder{VendorID: line.VendorID, Status: StatusPending, UpdatedAt: now})
		}
		subs[idx].ItemIndices = append(subs[idx].ItemIndices, i)
	}

	o := &Order{
		ID:               p.ID,
		BuyerID:          p.BuyerID,
		SessionID:        p.SessionID,
		ReservationToken: p.ReservationToken,
		Draft:            p.Draft,
		PaymentMethod:    p.Method,
		Payment:          p.Payment,
		ShippingAddress:  p.ShippingAddress,
		SubOrders:        subs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	o.Status = Aggregate(o.SubOrders)
	return o, nil
}

// SubOrderForItem returns the sub-order owning the draft line at itemIndex.
func (o *Order) SubOrderForItem(itemIndex int) (VendorSubOrder, error) {
	for _, s := range o.SubOrders {
		for _, i := range s.ItemIndices {
			if i == itemIndex {
				return s, nil
			}
		}
	}
	return VendorSubOrder{}, fmt.Errorf("%w: %d", ErrItemNotFound, itemIndex)
}

func (o *Order) SubOrder(vendorID string) (VendorSubOrder, bool) {
	for _, s := range o.SubOrders {
		if s.VendorID == vendorID {
			return s, true
		}
	}
	return VendorSubOrder{}, false
}

// Change is one sub-order transition, keyed on the state the caller last observed.
type Change struct {
	VendorID string
	From     Status
	To       Status
}

// Apply validates and applies changes all-or-nothing, then recomputes Status.
// A sub-order no longer in From yields ErrConflict; a move the table forbids yields
// *InvalidTransitionError.
func (o *Order) Apply(changes []Change, now time.Time) error {
	if len(changes) == 0 {
		return nil
	}
	idx := make(map[string]int, len(o.SubOrders))
	for i, s := range o.SubOrders {
		idx[s.VendorID] = i
	}
	for _, c := range changes {
		i, ok := idx[c.VendorID]
		if !ok {
			return fmt.Errorf("%w: no sub-order for vendor %s", ErrNotFound, c.VendorID)
		}
		if !CanTransition(c.From, c.To) {
			return &InvalidTransitionError{VendorID: c.VendorID, From: c.From, To: c.To}
		}
		if cur := o.SubOrders[i].Status; cur != c.From {
			return fmt.Errorf("%w: vendor %s sub-order is %s, expected %s", ErrConflict, c.VendorID, cur, c.From)
		}
	}
	now = now.UTC()
	for _, c := range changes {
		i := idx[c.VendorID]
		o.SubOrders[i].Status = c.To
		o.SubOrders[i].UpdatedAt = now
	}
	o.Status = Aggregate(o.SubOrders)
	o.UpdatedAt = now
	return nil
}

// CancelAll builds the changes that cancel every live sub-order. It refuses once any
// live sub-order has shipped.
func (o *Order) CancelAll() ([]Change, error) {
	var changes []Change
	for _, s := range o.SubOrders {
		if s.Status == StatusCancelled {
			continue
		}
		if !CanTransition(s.Status, StatusCancelled) {
			return nil, &InvalidTransitionError{VendorID: s.VendorID, From: s.Status, To: StatusCancelled}
		}
		changes = append(changes, Change{VendorID: s.VendorID, From: s.Status, To: StatusCancelled})
	}
	if len(changes) == 0 {
		return nil, &InvalidTransitionError{From: StatusCancelled, To: StatusCancelled}
	}
	return changes, nil
}

// StockLines lists what a sub-order took out of inventory.
func (o *Order) StockLines(vendorID string) []inventory.Line {
	sub, ok := o.SubOrder(vendorID)
	if !ok {
		return nil
	}
	lines := make([]inventory.Line, 0, len(sub.ItemIndices))
	for _, i := range sub.ItemIndices {
		if l, ok := o.Draft.Line(i); ok {
			lines = append(lines, inventory.Line{ProductID: l.ProductID, Quantity: l.Quantity})
		}
	}
	return lines
}

// Refunds returns what goes back to the buyer for each sub-order cancelled by
// changes: its lines plus a proportional share of tax. When the batch leaves the whole
// order cancelled, its last cancellation also absorbs shipping and rounding so that
// refunds over the order's life sum to the amount paid. o must already reflect changes.
func (o *Order) Refunds(changes []Change) map[string]int64 {
	out := make(map[string]int64)
	if o.Payment == nil {
		return out
	}
	last := ""
	for _, c := range changes {
		if c.To != StatusCancelled {
			continue
		}
		sub, ok := o.SubOrder(c.VendorID)
		if !ok {
			continue
		}
		out[c.VendorID] = o.share(sub)
		last = c.VendorID
	}
	if last != "" && o.Status == StatusCancelled {
		remainder := o.Payment.Amount
		for _, s := range o.SubOrders {
			remainder -= o.share(s)
		}
		out[last] += remainder
	}
	return out
}

func (o *Order) share(sub VendorSubOrder) int64 {
	lines := o.Draft.VendorSubtotal(sub.ItemIndices)
	if o.Draft.Subtotal() == 0 {
		return lines
	}
	tax := decimal.NewFromInt(o.Draft.Tax()).
		Mul(decimal.NewFromInt(lines)).
		Div(decimal.NewFromInt(o.Draft.Subtotal())).
		Round(0).IntPart()
	return lines + tax
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	c.SubOrders = make([]VendorSubOrder, len(o.SubOrders))
	for i, s := range o.SubOrders {
		s.ItemIndices = append([]int(nil), s.ItemIndices...)
		c.SubOrders[i] = s
	}
	return &c
}
