// Package money holds the fixed-point arithmetic shared by bills and purchase
// orders. Every amount is a shopspring decimal rounded to two places, half up
// on the cent.
package money

import "github.com/shopspring/decimal"

func init() {
	// Amounts travel as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

var hundred = decimal.NewFromInt(100)

// Round2 rounds to cents. Ties round away from zero, which is half up for the
// non-negative amounts this package deals with.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal is price x quantity, rounded to cents.
func LineTotal(price decimal.Decimal, qty int) decimal.Decimal {
	return Round2(price.Mul(decimal.NewFromInt(int64(qty))))
}

// BillTotals is the arithmetic breakdown of one bill.
type BillTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Taxable  decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeBill derives discount, tax and total from a subtotal. A discount
// larger than the subtotal is capped at the subtotal, never rejected.
func ComputeBill(subtotal, discount, taxPercentage decimal.Decimal) BillTotals {
	subtotal = Round2(subtotal)
	capped := Round2(discount)
	if capped.GreaterThan(subtotal) {
		capped = subtotal
	}
	taxable := Round2(subtotal.Sub(capped))
	tax := Round2(taxable.Mul(taxPercentage).Div(hundred))
	return BillTotals{
		Subtotal: subtotal,
		Discount: capped,
		Taxable:  taxable,
		Tax:      tax,
		Total:    Round2(taxable.Add(tax)),
	}
}

// PurchaseOrderTotal is max(0, subTotal - discount + tax).
func PurchaseOrderTotal(subTotal, discount, tax decimal.Decimal) decimal.Decimal {
	total := Round2(subTotal.Sub(discount).Add(tax))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Sum adds amounts and rounds the result.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return Round2(total)
}
