package pricing

import "github.com/shopspring/decimal"

// Policy holds the tax and shipping parameters applied when a cart is priced.
type Policy struct {
	Currency              string
	TaxRate               decimal.Decimal
	FreeShippingThreshold int64
	FlatShippingFee       int64
	// PriceTolerance is the largest relative drift between the price a line was added
	// at and the current catalog price that is still charged without a re-quote.
	PriceTolerance decimal.Decimal
}

func (p Policy) tax(subtotal int64) int64 {
	return decimal.NewFromInt(subtotal).Mul(p.TaxRate).Round(0).IntPart()
}

func (p Policy) shipping(subtotal int64) int64 {
	if subtotal >= p.FreeShippingThreshold {
		return 0
	}
	return p.FlatShippingFee
}

func (p Policy) withinTolerance(quoted, current int64) bool {
	if quoted == current {
		return true
	}
	if quoted <= 0 {
		return false
	}
	drift := decimal.NewFromInt(current - quoted).Abs().Div(decimal.NewFromInt(quoted))
	return drift.LessThanOrEqual(p.PriceTolerance)
}
