package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"sareebill/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrApprovalRequired  = errors.New("approval required")
	ErrBusy              = errors.New("resource busy")
)

// Tx is the unit of work handed to Repository.WithTx. Every write performed
// through a Tx commits or rolls back together. Lock* methods take row locks
// that are held until the transaction ends; callers lock sarees in ascending
// id order.
type Tx interface {
	GetShop(ctx context.Context, shopID int64) (*domain.Shop, error)
	GetCustomer(ctx context.Context, customerID int64) (*domain.Customer, error)
	GetSupplier(ctx context.Context, supplierID int64) (*domain.Supplier, error)

	LockSarees(ctx context.Context, shopID int64, sareeIDs []int64) (map[int64]domain.Saree, error)
	GetSarees(ctx context.Context, shopID int64, sareeIDs []int64) (map[int64]domain.Saree, error)
	InsertSaree(ctx context.Context, saree domain.Saree) (*domain.Saree, error)
	// ApplyStockDelta returns ErrInsufficientStock when the result would be negative.
	ApplyStockDelta(ctx context.Context, sareeID int64, delta int) (int, error)
	InsertMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)

	LockBill(ctx context.Context, billID int64) (*domain.Bill, error)
	InsertBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	ReplaceBillItems(ctx context.Context, billID int64, items []domain.BillItem) ([]domain.BillItem, error)
	UpdateBill(ctx context.Context, bill domain.Bill) error
	DeleteBill(ctx context.Context, billID int64) error
	InsertPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	SumPayments(ctx context.Context, billID int64) (decimal.Decimal, error)

	FindPendingEditRequest(ctx context.Context, billID int64) (*domain.EditRequest, error)
	FindApprovedEditRequest(ctx context.Context, billID int64, requesterID int64) (*domain.EditRequest, error)
	GetEditRequest(ctx context.Context, requestID int64) (*domain.EditRequest, error)
	LockEditRequest(ctx context.Context, requestID int64) (*domain.EditRequest, error)
	InsertEditRequest(ctx context.Context, req domain.EditRequest) (*domain.EditRequest, error)
	UpdateEditRequest(ctx context.Context, req domain.EditRequest) error

	InsertPurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	LockPurchaseOrder(ctx context.Context, poID int64) (*domain.PurchaseOrder, error)
	ReplacePurchaseOrderItems(ctx context.Context, poID int64, items []domain.PurchaseOrderItem) ([]domain.PurchaseOrderItem, error)
	UpdatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) error
	UpdatePurchaseOrderItemReceived(ctx context.Context, itemID int64, qtyReceived int) error

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)
	GetShop(ctx context.Context, shopID int64) (*domain.Shop, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, supplierID int64) (*domain.Supplier, error)
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUser(ctx context.Context, userID int64) (*domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)

	GetSaree(ctx context.Context, sareeID int64) (*domain.Saree, error)
	ListMovements(ctx context.Context, sareeID int64, limit int) ([]domain.StockMovement, error)
	SumMovements(ctx context.Context, sareeID int64) (int, error)

	GetBill(ctx context.Context, billID int64) (*domain.Bill, error)
	// GetBillDetail reads the bill header, items, payments and the shop tax
	// rate from one consistent snapshot. Paid and Due are left zero.
	GetBillDetail(ctx context.Context, billID int64) (*domain.BillDetail, error)
	// ListBillsByShop pages newest first. beforeID > 0 returns only bills with
	// a smaller id.
	ListBillsByShop(ctx context.Context, shopID int64, beforeID int64, limit int) ([]domain.Bill, error)
	ListBillItems(ctx context.Context, billID int64) ([]domain.BillItem, error)
	ListPayments(ctx context.Context, billID int64) ([]domain.Payment, error)
	GetEditRequest(ctx context.Context, requestID int64) (*domain.EditRequest, error)
	GetLatestEditRequest(ctx context.Context, billID int64) (*domain.EditRequest, error)

	GetPurchaseOrder(ctx context.Context, poID int64) (*domain.PurchaseOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
