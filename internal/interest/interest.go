// Package interest computes simple, non-compounding deposit returns.
package interest

import (
	"fmt"

	"piggybank/internal/core"

	"github.com/shopspring/decimal"
)

var monthsPercent = decimal.NewFromInt(12 * 100)

// Result is the outcome of a return computation, rounded to cents.
type Result struct {
	Interest core.Money
	Total    core.Money
}

// ComputeReturn returns principal * rate * months / 1200 and principal plus
// that interest. The product is kept exact and only rounded half-up to cents
// at the end.
func ComputeReturn(principal core.Money, annualRatePercent decimal.Decimal, termMonths int) (Result, error) {
	if err := principal.Validate(); err != nil {
		return Result{}, err
	}
	if annualRatePercent.IsNegative() {
		return Result{}, fmt.Errorf("%w: %s", core.ErrInvalidRate, annualRatePercent)
	}
	if !core.IsSupportedTerm(termMonths) {
		return Result{}, fmt.Errorf("%w: %d months", core.ErrInvalidTerm, termMonths)
	}

	raw := principal.Decimal().
		Mul(annualRatePercent).
		Mul(decimal.NewFromInt(int64(termMonths))).
		Div(monthsPercent)

	total := core.MoneyFromDecimal(principal.Decimal().Add(raw))
	return Result{
		Interest: total.Sub(principal),
		Total:    total,
	}, nil
}
