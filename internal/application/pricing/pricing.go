package pricing

import "errors"

var (
	ErrInvalidQuantity  = errors.New("pricing: quantity must be greater than zero")
	ErrNegativePrice    = errors.New("pricing: unit price must be zero or greater")
	ErrNoLines          = errors.New("pricing: at least one line is required")
	ErrInvalidPolicy    = errors.New("pricing: tax rate and shipping fee must be zero or greater")
	ErrSubtotalOverflow = errors.New("pricing: subtotal overflows the minor-unit range")
)

// Policy is the fixed pricing rule set. All amounts are minor units; the tax
// rate is expressed in basis points so the arithmetic stays integral.
type Policy struct {
	TaxRateBps       int64
	FreeShippingOver int64
	ShippingFee      int64
}

// LineInput is a (unit price, quantity) pair snapshotted at reservation time.
type LineInput struct {
	UnitPrice int64
	Quantity  int
}

type Totals struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Total    int64
}

// Price computes subtotal, tax, shipping and total. Pure and deterministic:
// no I/O, no floating point. Tax is rounded half-up once, on the subtotal,
// not per line. Shipping is waived only when the subtotal is strictly above
// the free-shipping threshold.
func (p Policy) Price(lines []LineInput) (Totals, error) {
	if p.TaxRateBps < 0 || p.ShippingFee < 0 || p.FreeShippingOver < 0 {
		return Totals{}, ErrInvalidPolicy
	}
	if len(lines) == 0 {
		return Totals{}, ErrNoLines
	}

	var subtotal int64
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Totals{}, ErrInvalidQuantity
		}
		if l.UnitPrice < 0 {
			return Totals{}, ErrNegativePrice
		}
		lineTotal := l.UnitPrice * int64(l.Quantity)
		if l.UnitPrice != 0 && lineTotal/l.UnitPrice != int64(l.Quantity) {
			return Totals{}, ErrSubtotalOverflow
		}
		if subtotal+lineTotal < subtotal {
			return Totals{}, ErrSubtotalOverflow
		}
		subtotal += lineTotal
	}

	totals := Totals{
		Subtotal: subtotal,
		Tax:      roundHalfUpBps(subtotal, p.TaxRateBps),
		Shipping: p.ShippingFee,
	}
	if subtotal > p.FreeShippingOver {
		totals.Shipping = 0
	}
	totals.Total = totals.Subtotal + totals.Tax + totals.Shipping
	return totals, nil
}

// LineTotal snapshots a single line's total, using the same arithmetic as
// Price so order lines and the subtotal can never disagree.
func LineTotal(unitPrice int64, quantity int) int64 {
	return unitPrice * int64(quantity)
}

// roundHalfUpBps applies a basis-point rate with round-half-up at the minor
// unit. Only defined for non-negative amounts, which Price guarantees.
func roundHalfUpBps(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}
