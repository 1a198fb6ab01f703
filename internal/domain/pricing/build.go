package pricing

import "time"

// Build prices cart lines against current catalog data. A line whose product is gone,
// unpurchasable, or has drifted beyond the policy tolerance fails the whole build with
// a *StaleCartError; within tolerance the current price is charged.
func Build(cart []CartLine, products map[string]Product, policy Policy, now time.Time) (Draft, error) {
	if len(cart) == 0 {
		return Draft{}, ErrEmptyCart
	}

	lines := make([]Line, 0, len(cart))
	var subtotal int64
	for _, c := range cart {
		if c.Quantity <= 0 {
			return Draft{}, ErrInvalidQuantity
		}
		p, ok := products[c.ProductID]
		if !ok || !p.Purchasable {
			return Draft{}, &StaleCartError{ProductID: c.ProductID, Reason: ReasonUnavailable, Quoted: c.UnitPriceAtAdd}
		}
		if !policy.withinTolerance(c.UnitPriceAtAdd, p.UnitPrice) {
			return Draft{}, &StaleCartError{
				ProductID: c.ProductID,
				Reason:    ReasonPriceChanged,
				Quoted:    c.UnitPriceAtAdd,
				Current:   p.UnitPrice,
			}
		}
		line := Line{ProductID: p.ID, VendorID: p.VendorID, Quantity: c.Quantity, UnitPrice: p.UnitPrice}
		lines = append(lines, line)
		subtotal += line.Total()
	}

	tax := policy.tax(subtotal)
	shipping := policy.shipping(subtotal)
	return Draft{
		lines:    lines,
		subtotal: subtotal,
		tax:      tax,
		shipping: shipping,
		total:    subtotal + tax + shipping,
		currency: policy.Currency,
		quotedAt: now.UTC(),
	}, nil
}
