package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillUnpaid  BillStatus = "UNPAID"
	BillPartial BillStatus = "PARTIAL"
	BillPaid    BillStatus = "PAID"
)

// DeriveBillStatus maps the amount paid against the bill total.
func DeriveBillStatus(paid, total decimal.Decimal) BillStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return BillPaid
	case paid.IsPositive():
		return BillPartial
	default:
		return BillUnpaid
	}
}

type Bill struct {
	ID          int64           `json:"id"`
	ShopID      int64           `json:"shop_id"`
	CustomerID  *int64          `json:"customer_id"`
	UserID      int64           `json:"user_id"`
	CashierName string          `json:"cashier_name,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Tax         decimal.Decimal `json:"tax"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      BillStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []BillItem      `json:"items,omitempty"`
}

// BillItem carries the unit price as it was when the line was sold.
type BillItem struct {
	ID        int64           `json:"id"`
	BillID    int64           `json:"bill_id"`
	SareeID   int64           `json:"saree_id"`
	SareeName string          `json:"saree_name,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type EditRequestStatus string

const (
	EditNone     EditRequestStatus = "NONE"
	EditPending  EditRequestStatus = "PENDING"
	EditApproved EditRequestStatus = "APPROVED"
	EditRejected EditRequestStatus = "REJECTED"
	EditUsed     EditRequestStatus = "USED"
)

type EditRequest struct {
	ID          int64             `json:"id"`
	BillID      int64             `json:"bill_id"`
	RequesterID int64             `json:"requester_id"`
	Reason      string            `json:"reason"`
	Status      EditRequestStatus `json:"status"`
	ManagerID   *int64            `json:"manager_id,omitempty"`
	ManagerNote string            `json:"manager_note,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
	RespondedAt *time.Time        `json:"responded_at,omitempty"`
	UsedAt      *time.Time        `json:"used_at,omitempty"`
}

type POStatus string

const (
	PODraft     POStatus = "DRAFT"
	POOrdered   POStatus = "ORDERED"
	POReceived  POStatus = "RECEIVED"
	POCancelled POStatus = "CANCELLED"
)

type PurchaseOrder struct {
	ID          int64               `json:"id"`
	ShopID      int64               `json:"shop_id"`
	SupplierID  int64               `json:"supplier_id"`
	Status      POStatus            `json:"status"`
	Notes       string              `json:"notes,omitempty"`
	SubTotal    decimal.Decimal     `json:"sub_total"`
	Discount    decimal.Decimal     `json:"discount"`
	Tax         decimal.Decimal     `json:"tax"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	CreatedBy   int64               `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
	OrderedAt   *time.Time          `json:"ordered_at,omitempty"`
	ReceivedAt  *time.Time          `json:"received_at,omitempty"`
	Items       []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderItem struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	SareeID     int64           `json:"saree_id"`
	SareeName   string          `json:"saree_name,omitempty"`
	QtyOrdered  int             `json:"qty_ordered"`
	QtyReceived int             `json:"qty_received"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Remaining is the quantity still expected from the supplier.
func (i PurchaseOrderItem) Remaining() int {
	if i.QtyReceived >= i.QtyOrdered {
		return 0
	}
	return i.QtyOrdered - i.QtyReceived
}
