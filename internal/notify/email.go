package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"sareebill/backend/internal/domain"
)

var printer = message.NewPrinter(language.MustParse("en-IN"))

func formatAmount(d decimal.Decimal) string {
	return printer.Sprint(number.Decimal(d.InexactFloat64(), number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// PurchaseOrderEmail renders the subject and plain-text body sent to a
// supplier when an order is submitted.
func PurchaseOrderEmail(shop domain.Shop, supplier domain.Supplier, po domain.PurchaseOrder) (string, string) {
	subject := fmt.Sprintf("Purchase Order #%d from %s", po.ID, shop.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", supplier.Name)
	fmt.Fprintf(&b, "%s has placed purchase order #%d.\n\n", shop.Name, po.ID)
	for _, item := range po.Items {
		name := item.SareeName
		if name == "" {
			name = fmt.Sprintf("Saree #%d", item.SareeID)
		}
		line := item.UnitCost.Mul(decimal.NewFromInt(int64(item.QtyOrdered)))
		fmt.Fprintf(&b, "- %s x %d @ %s = %s\n", name, item.QtyOrdered, formatAmount(item.UnitCost), formatAmount(line))
	}
	fmt.Fprintf(&b, "\nSubtotal: %s\n", formatAmount(po.SubTotal))
	if !po.Discount.IsZero() {
		fmt.Fprintf(&b, "Discount: %s\n", formatAmount(po.Discount))
	}
	if !po.Tax.IsZero() {
		fmt.Fprintf(&b, "Tax: %s\n", formatAmount(po.Tax))
	}
	fmt.Fprintf(&b, "Total: %s\n", formatAmount(po.TotalAmount))
	if po.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", po.Notes)
	}
	fmt.Fprintf(&b, "\nRegards,\n%s\n", shop.Name)
	return subject, b.String()
}
