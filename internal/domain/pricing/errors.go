package pricing

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart       = errors.New("pricing: cart is empty")
	ErrInvalidQuantity = errors.New("pricing: quantity must be greater than zero")
	ErrInvalidDraft    = errors.New("pricing: draft totals are inconsistent")
	// ErrStaleCart matches every *StaleCartError.
	ErrStaleCart = errors.New("pricing: cart is stale")
)

const (
	ReasonUnavailable      = "product_unavailable"
	ReasonPriceChanged     = "price_changed"
	ReasonTotalMismatch    = "total_mismatch"
	ReasonCurrencyMismatch = "currency_mismatch"
)

// StaleCartError asks the client to re-quote. Quoted and Current are minor units.
type StaleCartError struct {
	ProductID string
	Reason    string
	Quoted    int64
	Current   int64
	// Currency is the draft's currency when the client quoted another one.
	Currency string
}

func (e *StaleCartError) Error() string {
	switch e.Reason {
	case ReasonUnavailable:
		return fmt.Sprintf("pricing: product %s is no longer available", e.ProductID)
	case ReasonCurrencyMismatch:
		return fmt.Sprintf("pricing: cart is priced in %s", e.Currency)
	case ReasonTotalMismatch:
		return fmt.Sprintf("pricing: quoted total %d does not match current total %d", e.Quoted, e.Current)
	default:
		return fmt.Sprintf("pricing: price of %s changed from %d to %d", e.ProductID, e.Quoted, e.Current)
	}
}

func (e *StaleCartError) Is(target error) bool { return target == ErrStaleCart }
