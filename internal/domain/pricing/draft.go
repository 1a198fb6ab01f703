package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CartLine is what the cart provider hands over: the buyer's intent plus the price
// they saw when the line was added.
type CartLine struct {
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	UnitPriceAtAdd int64  `json:"unitPriceAtAdd"`
}

// Product is the catalog's current view of a sellable item.
type Product struct {
	ID          string
	VendorID    string
	UnitPrice   int64
	Purchasable bool
}

type Line struct {
	ProductID string `json:"productId"`
	VendorID  string `json:"vendorId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

func (l Line) Total() int64 { return l.UnitPrice * int64(l.Quantity) }

// Draft is a priced, immutable snapshot of a cart. Totals are computed once when the
// draft is built and never recomputed downstream.
type Draft struct {
	lines    []Line
	subtotal int64
	tax      int64
	shipping int64
	total    int64
	currency string
	quotedAt time.Time
}

func (d Draft) Lines() []Line {
	return append([]Line(nil), d.lines...)
}

func (d Draft) Line(i int) (Line, bool) {
	if i < 0 || i >= len(d.lines) {
		return Line{}, false
	}
	return d.lines[i], true
}

func (d Draft) Len() int            { return len(d.lines) }
func (d Draft) Subtotal() int64     { return d.subtotal }
func (d Draft) Tax() int64          { return d.tax }
func (d Draft) Shipping() int64     { return d.shipping }
func (d Draft) Total() int64        { return d.total }
func (d Draft) Currency() string    { return d.currency }
func (d Draft) QuotedAt() time.Time { return d.quotedAt }
func (d Draft) IsZero() bool        { return len(d.lines) == 0 }

// Fingerprint identifies the draft's content (lines and totals, not the quote time),
// so two quotes of the same cart at the same prices collide.
func (d Draft) Fingerprint() string {
	var b strings.Builder
	for _, l := range d.lines {
		fmt.Fprintf(&b, "%s:%s:%d:%d;", l.ProductID, l.VendorID, l.Quantity, l.UnitPrice)
	}
	fmt.Fprintf(&b, "|%d|%d|%d|%d|%s", d.subtotal, d.tax, d.shipping, d.total, d.currency)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VendorSubtotal sums the given line indices.
func (d Draft) VendorSubtotal(indices []int) int64 {
	var sum int64
	for _, i := range indices {
		if l, ok := d.Line(i); ok {
			sum += l.Total()
		}
	}
	return sum
}

// Restore rebuilds a draft read back from storage.
func Restore(lines []Line, subtotal, tax, shipping, total int64, currency string, quotedAt time.Time) (Draft, error) {
	if len(lines) == 0 {
		return Draft{}, ErrEmptyCart
	}
	var sum int64
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Draft{}, ErrInvalidQuantity
		}
		sum += l.Total()
	}
	if sum != subtotal || subtotal+tax+shipping != total {
		return Draft{}, ErrInvalidDraft
	}
	return Draft{
		lines:    append([]Line(nil), lines...),
		subtotal: subtotal,
		tax:      tax,
		shipping: shipping,
		total:    total,
		currency: currency,
		quotedAt: quotedAt.UTC(),
	}, nil
}

type draftJSON struct {
	Lines    []Line    `json:"lines"`
	Subtotal int64     `json:"subtotal"`
	Tax      int64     `json:"tax"`
	Shipping int64     `json:"shipping"`
	Total    int64     `json:"total"`
	Currency string    `json:"currency"`
	QuotedAt time.Time `json:"quotedAt"`
}

func (d Draft) MarshalJSON() ([]byte, error) {
	return json.Marshal(draftJSON{
		Lines:    d.lines,
		Subtotal: d.subtotal,
		Tax:      d.tax,
		Shipping: d.shipping,
		Total:    d.total,
		Currency: d.currency,
		QuotedAt: d.quotedAt,
	})
}

func (d *Draft) UnmarshalJSON(data []byte) error {
	var w draftJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	restored, err := Restore(w.Lines, w.Subtotal, w.Tax, w.Shipping, w.Total, w.Currency, w.QuotedAt)
	if err != nil {
		return err
	}
	*d = restored
	return nil
}
