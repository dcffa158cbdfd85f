package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

// Actor is the identity resolved from a bearer token.
type Actor struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	ShopID   int64  `json:"shop_id"`
}

// CanManage reports whether the actor holds manager capability for its shop.
func (a Actor) CanManage() bool {
	return a.Role == RoleOwner || a.Role == RoleManager
}

type Shop struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"owner_id"`
	Name          string          `json:"name"`
	AddressLine   string          `json:"address_line,omitempty"`
	City          string          `json:"city,omitempty"`
	State         string          `json:"state,omitempty"`
	Pincode       string          `json:"pincode,omitempty"`
	TaxPercentage decimal.Decimal `json:"tax_percentage"`
	SecretCode    string          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Saree is a priced, quantity-tracked inventory item. StockQuantity is the
// projection of the item's stock movements.
type Saree struct {
	ID            int64           `json:"id"`
	ShopID        int64           `json:"shop_id"`
	Name          string          `json:"name"`
	Type          string          `json:"type,omitempty"`
	Color         string          `json:"color,omitempty"`
	Design        string          `json:"design,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
}

type MovementSource string

const (
	MovementPurchase      MovementSource = "PURCHASE"
	MovementSale          MovementSource = "SALE"
	MovementAdjustmentIn  MovementSource = "ADJUSTMENT_IN"
	MovementAdjustmentOut MovementSource = "ADJUSTMENT_OUT"
	MovementReturnIn      MovementSource = "RETURN_IN"
	MovementReturnOut     MovementSource = "RETURN_OUT"
)

// Valid reports whether s is a known movement source.
func (s MovementSource) Valid() bool {
	switch s {
	case MovementPurchase, MovementSale, MovementAdjustmentIn, MovementAdjustmentOut, MovementReturnIn, MovementReturnOut:
		return true
	}
	return false
}

// Inbound reports whether movements of this source add stock.
func (s MovementSource) Inbound() bool {
	return s == MovementPurchase || s == MovementAdjustmentIn || s == MovementReturnIn
}

// StockMovement is an immutable ledger row. QuantityChange is signed.
type StockMovement struct {
	ID             int64               `json:"id"`
	ShopID         int64               `json:"shop_id"`
	SareeID        int64               `json:"saree_id"`
	SourceType     MovementSource      `json:"source_type"`
	SourceID       *int64              `json:"source_id,omitempty"`
	QuantityChange int                 `json:"quantity_change"`
	UnitValue      decimal.NullDecimal `json:"unit_value"`
	Note           string              `json:"note,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

type Customer struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shop_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Supplier struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shop_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type UserAccount struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	ShopID    int64     `json:"shop_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ShopID        int64     `json:"shop_id"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "Cash"
	PaymentCard PaymentMethod = "Card"
	PaymentUPI  PaymentMethod = "UPI"
)

// ParsePaymentMethod accepts any casing of Cash, Card or UPI.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash":
		return PaymentCash, true
	case "card":
		return PaymentCard, true
	case "upi":
		return PaymentUPI, true
	}
	return "", false
}

// RequiresReference reports whether a payment by this method must carry a
// transaction reference.
func (m PaymentMethod) RequiresReference() bool {
	return m == PaymentCard || m == PaymentUPI
}

type Payment struct {
	ID        int64           `json:"id"`
	BillID    int64           `json:"bill_id"`
	Method    PaymentMethod   `json:"method"`
	Reference string          `json:"reference,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
