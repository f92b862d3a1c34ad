// Package pricing computes line-item prices in currency minor units.
package pricing

import (
	"fmt"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places of the currency.
const MinorUnits = 2

var ErrInvalidInput = apperr.New(apperr.ErrValidation, "invalid pricing input")

// Money is an amount in currency minor units (cents).
type Money int64

// FromDecimal rounds d half-up to the currency minor unit.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.Round(MinorUnits).Shift(MinorUnits).IntPart())
}

// Decimal returns m as a fixed-point decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MinorUnits)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(MinorUnits)
}

// Sum adds amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}

// Price returns (base + Σ addOns) * quantity rounded half-up to the minor
// unit. Removed base ingredients never reduce the price, so they are not an
// input.
func Price(base decimal.Decimal, addOns []decimal.Decimal, quantity int) (Money, error) {
	if quantity < 1 {
		return 0, fmt.Errorf("%w: quantity %d must be at least 1", ErrInvalidInput, quantity)
	}
	if base.IsNegative() {
		return 0, fmt.Errorf("%w: negative base price %s", ErrInvalidInput, base)
	}

	unit := base
	for _, p := range addOns {
		if p.IsNegative() {
			return 0, fmt.Errorf("%w: negative add-on price %s", ErrInvalidInput, p)
		}
		unit = unit.Add(p)
	}

	return FromDecimal(unit.Mul(decimal.NewFromInt(int64(quantity)))), nil
}
