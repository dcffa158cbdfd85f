package domain

import "github.com/shopspring/decimal"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      int64  `json:"shop_id"`
	ExpiresAt   string `json:"expires_at"`
}

type BillLineRequest struct {
	SareeID  int64 `json:"saree_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"gt=0"`
}

type CreateBillRequest struct {
	ShopID           int64             `json:"shop_id" validate:"required,gt=0"`
	CustomerID       *int64            `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Items            []BillLineRequest `json:"items" validate:"required,min=1,dive"`
	Discount         decimal.Decimal   `json:"discount"`
	PaymentMethod    string            `json:"payment_method" validate:"required"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	AmountPaid       decimal.Decimal   `json:"amount_paid"`
}

// BillSummary is the arithmetic result of creating or editing a bill.
type BillSummary struct {
	BillID      int64           `json:"bill_id"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Tax         decimal.Decimal `json:"tax"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Paid        decimal.Decimal `json:"paid"`
	Status      BillStatus      `json:"status"`
}

type BillDetail struct {
	Bill          Bill            `json:"bill"`
	TaxPercentage decimal.Decimal `json:"tax_percentage"`
	Items         []BillItem      `json:"items"`
	Payments      []Payment       `json:"payments"`
	Paid          decimal.Decimal `json:"paid"`
	Due           decimal.Decimal `json:"due"`
}

type BillListResponse struct {
	Bills        []Bill `json:"bills"`
	NextBeforeID int64  `json:"next_before_id,omitempty"`
}

type AddPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required"`
	Reference string          `json:"reference,omitempty"`
}

type AddPaymentResponse struct {
	OK      bool            `json:"ok"`
	Payment Payment         `json:"payment"`
	Status  BillStatus      `json:"status"`
	Paid    decimal.Decimal `json:"paid"`
	Due     decimal.Decimal `json:"due"`
}

type UpdateBillRequest struct {
	Items    []BillLineRequest `json:"items" validate:"required,min=1,dive"`
	Discount decimal.Decimal   `json:"discount"`
}

type UpdateBillResponse struct {
	OK bool `json:"ok"`
	BillSummary
}

type EditApprovalRequest struct {
	Reason string `json:"reason"`
}

type EditDecisionRequest struct {
	Decision string  `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Note     *string `json:"note,omitempty"`
}

// EditRequestState is the latest edit request for a bill. Status is NONE and
// Request is nil when nothing was ever requested.
type EditRequestState struct {
	BillID  int64             `json:"bill_id"`
	Status  EditRequestStatus `json:"status"`
	Request *EditRequest      `json:"request,omitempty"`
}

type SareeCreateRequest struct {
	ShopID       int64           `json:"shop_id" validate:"required,gt=0"`
	Name         string          `json:"name" validate:"required"`
	Type         string          `json:"type,omitempty"`
	Color        string          `json:"color,omitempty"`
	Design       string          `json:"design,omitempty"`
	Price        decimal.Decimal `json:"price"`
	OpeningStock int             `json:"opening_stock" validate:"gte=0"`
}

type StockAdjustmentRequest struct {
	Direction string `json:"direction" validate:"required,oneof=IN OUT"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	Note      string `json:"note,omitempty"`
}

type StockAdjustmentResponse struct {
	Movement      StockMovement `json:"movement"`
	StockQuantity int           `json:"stock_quantity"`
}

// StockLedgerView pairs the materialized quantity with the movement history.
type StockLedgerView struct {
	Saree          Saree           `json:"saree"`
	LedgerQuantity int             `json:"ledger_quantity"`
	Movements      []StockMovement `json:"movements"`
}

type PurchaseOrderCreateRequest struct {
	ShopID     int64           `json:"shop_id" validate:"required,gt=0"`
	SupplierID int64           `json:"supplier_id" validate:"required,gt=0"`
	Notes      string          `json:"notes,omitempty"`
	Discount   decimal.Decimal `json:"discount"`
	Tax        decimal.Decimal `json:"tax"`
}

type PurchaseOrderItemInput struct {
	SareeID    int64           `json:"saree_id" validate:"required,gt=0"`
	QtyOrdered int             `json:"qty_ordered" validate:"gte=0"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

// PurchaseOrderItemsRequest replaces the item set. Discount and Tax are
// optional patches of the header amounts.
type PurchaseOrderItemsRequest struct {
	Items    []PurchaseOrderItemInput `json:"items" validate:"dive"`
	Discount *decimal.Decimal         `json:"discount,omitempty"`
	Tax      *decimal.Decimal         `json:"tax,omitempty"`
}

type ReceiveLineRequest struct {
	POItemID int64 `json:"po_item_id" validate:"required,gt=0"`
	Qty      int   `json:"qty" validate:"gte=0"`
}

type ReceiveItemsRequest struct {
	Items []ReceiveLineRequest `json:"items" validate:"required,min=1,dive"`
}

type ReceivedLine struct {
	POItemID  int64 `json:"po_item_id"`
	SareeID   int64 `json:"saree_id"`
	Requested int   `json:"requested"`
	Received  int   `json:"received"`
}

type ReceiveItemsResponse struct {
	OK            bool           `json:"ok"`
	FullyReceived bool           `json:"fullyReceived"`
	Received      []ReceivedLine `json:"received"`
	PurchaseOrder PurchaseOrder  `json:"purchase_order"`
}

type PurchaseOrderResponse struct {
	POID          int64         `json:"po_id"`
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
}
