package memory

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/store"
)

// memTx mutates a private dataset copy. The store mutex is held for the
// whole unit of work, so the Lock* methods need no extra bookkeeping.
type memTx struct {
	d *dataset
}

func (t *memTx) GetShop(_ context.Context, shopID int64) (*domain.Shop, error) {
	return getShop(t.d, shopID)
}

func (t *memTx) GetCustomer(_ context.Context, customerID int64) (*domain.Customer, error) {
	customer, ok := t.d.customers[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (t *memTx) GetSupplier(_ context.Context, supplierID int64) (*domain.Supplier, error) {
	return getSupplier(t.d, supplierID)
}

func (t *memTx) LockSarees(ctx context.Context, shopID int64, sareeIDs []int64) (map[int64]domain.Saree, error) {
	return t.GetSarees(ctx, shopID, sareeIDs)
}

// GetSarees omits ids that are unknown or belong to another shop.
func (t *memTx) GetSarees(_ context.Context, shopID int64, sareeIDs []int64) (map[int64]domain.Saree, error) {
	result := make(map[int64]domain.Saree, len(sareeIDs))
	for _, id := range sareeIDs {
		saree, ok := t.d.sarees[id]
		if !ok || saree.ShopID != shopID {
			continue
		}
		result[id] = saree
	}
	return result, nil
}

func (t *memTx) InsertSaree(_ context.Context, saree domain.Saree) (*domain.Saree, error) {
	if _, ok := t.d.shops[saree.ShopID]; !ok {
		return nil, store.ErrNotFound
	}
	saree.ID = t.d.nextID()
	saree.StockQuantity = 0
	if saree.CreatedAt.IsZero() {
		saree.CreatedAt = time.Now().UTC()
	}
	t.d.sarees[saree.ID] = saree
	return &saree, nil
}

func (t *memTx) ApplyStockDelta(_ context.Context, sareeID int64, delta int) (int, error) {
	saree, ok := t.d.sarees[sareeID]
	if !ok {
		return 0, store.ErrNotFound
	}
	next := saree.StockQuantity + delta
	if next < 0 {
		return saree.StockQuantity, store.ErrInsufficientStock
	}
	saree.StockQuantity = next
	t.d.sarees[sareeID] = saree
	return next, nil
}

func (t *memTx) InsertMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	movement.ID = t.d.nextID()
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	t.d.movements = append(t.d.movements, movement)
	return &movement, nil
}

func (t *memTx) LockBill(_ context.Context, billID int64) (*domain.Bill, error) {
	bill, ok := t.d.bills[billID]
	if !ok {
		return nil, store.ErrNotFound
	}
	bill.Items = slices.Clone(t.d.billItems[billID])
	return &bill, nil
}

func (t *memTx) InsertBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	now := time.Now().UTC()
	bill.ID = t.d.nextID()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	bill.UpdatedAt = bill.CreatedAt
	items := t.storeBillItems(bill.ID, bill.Items)
	bill.Items = nil
	t.d.bills[bill.ID] = bill
	bill.Items = items
	return &bill, nil
}

func (t *memTx) ReplaceBillItems(_ context.Context, billID int64, items []domain.BillItem) ([]domain.BillItem, error) {
	if _, ok := t.d.bills[billID]; !ok {
		return nil, store.ErrNotFound
	}
	return t.storeBillItems(billID, items), nil
}

func (t *memTx) storeBillItems(billID int64, items []domain.BillItem) []domain.BillItem {
	saved := make([]domain.BillItem, 0, len(items))
	for _, item := range items {
		item.ID = t.d.nextID()
		item.BillID = billID
		saved = append(saved, item)
	}
	t.d.billItems[billID] = saved
	return slices.Clone(saved)
}

func (t *memTx) UpdateBill(_ context.Context, bill domain.Bill) error {
	current, ok := t.d.bills[bill.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.CustomerID = bill.CustomerID
	current.Subtotal = bill.Subtotal
	current.Discount = bill.Discount
	current.Tax = bill.Tax
	current.TotalAmount = bill.TotalAmount
	current.Status = bill.Status
	current.UpdatedAt = time.Now().UTC()
	t.d.bills[bill.ID] = current
	return nil
}

func (t *memTx) DeleteBill(_ context.Context, billID int64) error {
	if _, ok := t.d.bills[billID]; !ok {
		return store.ErrNotFound
	}
	delete(t.d.bills, billID)
	delete(t.d.billItems, billID)
	delete(t.d.payments, billID)
	for id, req := range t.d.edits {
		if req.BillID == billID {
			delete(t.d.edits, id)
		}
	}
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	if _, ok := t.d.bills[payment.BillID]; !ok {
		return nil, store.ErrNotFound
	}
	payment.ID = t.d.nextID()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	t.d.payments[payment.BillID] = append(t.d.payments[payment.BillID], payment)
	return &payment, nil
}

func (t *memTx) SumPayments(_ context.Context, billID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, payment := range t.d.payments[billID] {
		total = total.Add(payment.Amount)
	}
	return total, nil
}

func (t *memTx) FindPendingEditRequest(_ context.Context, billID int64) (*domain.EditRequest, error) {
	return t.findEditRequest(billID, 0, domain.EditPending)
}

// FindApprovedEditRequest returns the oldest approved, unused request the
// requester holds on the bill.
func (t *memTx) FindApprovedEditRequest(_ context.Context, billID int64, requesterID int64) (*domain.EditRequest, error) {
	return t.findEditRequest(billID, requesterID, domain.EditApproved)
}

func (t *memTx) findEditRequest(billID, requesterID int64, status domain.EditRequestStatus) (*domain.EditRequest, error) {
	var found *domain.EditRequest
	for _, req := range t.d.edits {
		if req.BillID != billID || req.Status != status {
			continue
		}
		if requesterID > 0 && req.RequesterID != requesterID {
			continue
		}
		if found == nil || req.ID < found.ID {
			copyReq := req
			found = &copyReq
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (t *memTx) GetEditRequest(_ context.Context, requestID int64) (*domain.EditRequest, error) {
	return getEditRequest(t.d, requestID)
}

func (t *memTx) LockEditRequest(_ context.Context, requestID int64) (*domain.EditRequest, error) {
	return getEditRequest(t.d, requestID)
}

func (t *memTx) InsertEditRequest(_ context.Context, req domain.EditRequest) (*domain.EditRequest, error) {
	if _, ok := t.d.bills[req.BillID]; !ok {
		return nil, store.ErrNotFound
	}
	if req.Status == domain.EditPending {
		if _, err := t.findEditRequest(req.BillID, 0, domain.EditPending); err == nil {
			return nil, store.ErrConflict
		}
	}
	req.ID = t.d.nextID()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	t.d.edits[req.ID] = req
	return &req, nil
}

func (t *memTx) UpdateEditRequest(_ context.Context, req domain.EditRequest) error {
	if _, ok := t.d.edits[req.ID]; !ok {
		return store.ErrNotFound
	}
	t.d.edits[req.ID] = req
	return nil
}

func (t *memTx) InsertPurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if _, ok := t.d.suppliers[po.SupplierID]; !ok {
		return nil, store.ErrNotFound
	}
	po.ID = t.d.nextID()
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.Status == "" {
		po.Status = domain.PODraft
	}
	po.Items = t.storeOrderItems(po.ID, po.Items)
	t.d.orders[po.ID] = clonePurchaseOrder(po)
	return &po, nil
}

func (t *memTx) LockPurchaseOrder(_ context.Context, poID int64) (*domain.PurchaseOrder, error) {
	return getPurchaseOrder(t.d, poID)
}

func (t *memTx) ReplacePurchaseOrderItems(_ context.Context, poID int64, items []domain.PurchaseOrderItem) ([]domain.PurchaseOrderItem, error) {
	po, ok := t.d.orders[poID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, item := range po.Items {
		delete(t.d.orderItemPO, item.ID)
	}
	po.Items = t.storeOrderItems(poID, items)
	t.d.orders[poID] = po
	return slices.Clone(po.Items), nil
}

func (t *memTx) storeOrderItems(poID int64, items []domain.PurchaseOrderItem) []domain.PurchaseOrderItem {
	saved := make([]domain.PurchaseOrderItem, 0, len(items))
	for _, item := range items {
		item.ID = t.d.nextID()
		item.POID = poID
		t.d.orderItemPO[item.ID] = poID
		saved = append(saved, item)
	}
	return saved
}

func (t *memTx) UpdatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) error {
	current, ok := t.d.orders[po.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Status = po.Status
	current.Notes = po.Notes
	current.SubTotal = po.SubTotal
	current.Discount = po.Discount
	current.Tax = po.Tax
	current.TotalAmount = po.TotalAmount
	current.OrderedAt = po.OrderedAt
	current.ReceivedAt = po.ReceivedAt
	t.d.orders[po.ID] = current
	return nil
}

func (t *memTx) UpdatePurchaseOrderItemReceived(_ context.Context, itemID int64, qtyReceived int) error {
	poID, ok := t.d.orderItemPO[itemID]
	if !ok {
		return store.ErrNotFound
	}
	po := t.d.orders[poID]
	for i := range po.Items {
		if po.Items[i].ID == itemID {
			po.Items[i].QtyReceived = qtyReceived
		}
	}
	t.d.orders[poID] = po
	return nil
}

func (t *memTx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	return insertAuditLog(t.d, entry)
}
