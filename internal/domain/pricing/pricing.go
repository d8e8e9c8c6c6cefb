// Package pricing computes checkout totals. It is pure: no I/O, no state.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Config holds the store-wide pricing parameters.
type Config struct {
	// FreeShippingThreshold is the subtotal at or above which shipping is free.
	FreeShippingThreshold decimal.Decimal
	// ShippingFee is the flat charge applied below the threshold.
	ShippingFee decimal.Decimal
	// TaxRate is a fraction, e.g. 0.05 for 5%.
	TaxRate decimal.Decimal
}

// DefaultConfig returns the marketplace defaults: free shipping from 500,
// otherwise 40, and 5% tax.
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: decimal.NewFromInt(500),
		ShippingFee:           decimal.NewFromInt(40),
		TaxRate:               decimal.RequireFromString("0.05"),
	}
}

// Line is a priced quantity.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns UnitPrice × Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Totals is the breakdown shown to the buyer and fixed on the order.
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Calculate sums the lines and derives shipping, tax and total.
// Tax is rounded half-up to 2 decimal places; the total is
// subtotal + shipping + tax with no further rounding.
func (c Config) Calculate(lines []Line) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal())
	}

	shipping := c.ShippingFee
	if subtotal.GreaterThanOrEqual(c.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	// decimal.Round rounds half away from zero, which is half-up for
	// non-negative amounts.
	tax := subtotal.Mul(c.TaxRate).Round(2)

	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}

// MinorUnits converts an amount to the gateway's integer minor currency
// units (paise, cents), rounding to the nearest unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
