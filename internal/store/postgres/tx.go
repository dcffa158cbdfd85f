package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/store"
)

const (
	sareeColumns = `id, shop_id, name, COALESCE(type, ''), COALESCE(color, ''), COALESCE(design, ''), price, stock_quantity, created_at`
	billColumns  = `b.id, b.shop_id, b.customer_id, b.user_id, b.subtotal, b.discount, b.tax, b.total_amount, b.status, b.created_at, b.updated_at`
	editColumns  = `id, bill_id, requester_id, reason, status, manager_id, COALESCE(manager_note, ''), requested_at, responded_at, used_at`
	poColumns    = `id, shop_id, supplier_id, status, COALESCE(notes, ''), sub_total, discount, tax, total_amount, created_by, created_at, ordered_at, received_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetShop(ctx context.Context, shopID int64) (*domain.Shop, error) {
	return getShop(ctx, t.tx, shopID)
}

func (t *pgTx) GetCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	var c domain.Customer
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, shop_id, name, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (t *pgTx) GetSupplier(ctx context.Context, supplierID int64) (*domain.Supplier, error) {
	return getSupplier(ctx, t.tx, supplierID)
}

// LockSarees takes row locks in ascending id order.
func (t *pgTx) LockSarees(ctx context.Context, shopID int64, sareeIDs []int64) (map[int64]domain.Saree, error) {
	return t.selectSarees(ctx, shopID, sareeIDs, "FOR UPDATE")
}

func (t *pgTx) GetSarees(ctx context.Context, shopID int64, sareeIDs []int64) (map[int64]domain.Saree, error) {
	return t.selectSarees(ctx, shopID, sareeIDs, "")
}

func (t *pgTx) selectSarees(ctx context.Context, shopID int64, sareeIDs []int64, lock string) (map[int64]domain.Saree, error) {
	result := make(map[int64]domain.Saree, len(sareeIDs))
	if len(sareeIDs) == 0 {
		return result, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sareeColumns+`
		FROM sarees
		WHERE shop_id = $1 AND id = ANY($2)
		ORDER BY id
		`+lock, shopID, sareeIDs)
	if err != nil {
		return nil, mapError(err)
	}
	for rows.Next() {
		saree, err := scanSaree(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		result[saree.ID] = saree
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapError(err)
	}
	_ = rows.Close()
	return result, nil
}

func (t *pgTx) InsertSaree(ctx context.Context, saree domain.Saree) (*domain.Saree, error) {
	saree.StockQuantity = 0
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sarees (shop_id, name, type, color, design, price, stock_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING id, created_at
	`, saree.ShopID, saree.Name, nullIfEmpty(saree.Type), nullIfEmpty(saree.Color), nullIfEmpty(saree.Design), saree.Price).Scan(&saree.ID, &saree.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	saree.CreatedAt = saree.CreatedAt.UTC()
	return &saree, nil
}

func (t *pgTx) ApplyStockDelta(ctx context.Context, sareeID int64, delta int) (int, error) {
	var qty int
	err := t.tx.QueryRowContext(ctx, `
		UPDATE sarees
		SET stock_quantity = stock_quantity + $2
		WHERE id = $1 AND stock_quantity + $2 >= 0
		RETURNING stock_quantity
	`, sareeID, delta).Scan(&qty)
	if err == nil {
		return qty, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sarees WHERE id = $1)`, sareeID).Scan(&exists); err != nil {
			return 0, mapError(err)
		}
		if !exists {
			return 0, store.ErrNotFound
		}
		return 0, store.ErrInsufficientStock
	}
	return 0, mapError(err)
}

func (t *pgTx) InsertMovement(ctx context.Context, m domain.StockMovement) (*domain.StockMovement, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO stock_movements (shop_id, saree_id, source_type, source_id, quantity_change, unit_value, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, m.ShopID, m.SareeID, string(m.SourceType), nullID(m.SourceID), m.QuantityChange, m.UnitValue, nullIfEmpty(m.Note)).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (t *pgTx) LockBill(ctx context.Context, billID int64) (*domain.Bill, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills b WHERE b.id = $1 FOR UPDATE`, billID)
	bill, err := scanBill(row, false)
	if err != nil {
		return nil, mapError(err)
	}
	items, err := listBillItems(ctx, t.tx, billID, true)
	if err != nil {
		return nil, err
	}
	bill.Items = items
	return &bill, nil
}

func (t *pgTx) InsertBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO bills (shop_id, customer_id, user_id, subtotal, discount, tax, total_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, bill.ShopID, nullID(bill.CustomerID), bill.UserID, bill.Subtotal, bill.Discount, bill.Tax, bill.TotalAmount, string(bill.Status)).Scan(
		&bill.ID, &bill.CreatedAt, &bill.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	bill.CreatedAt = bill.CreatedAt.UTC()
	bill.UpdatedAt = bill.UpdatedAt.UTC()
	items, err := t.insertBillItems(ctx, bill.ID, bill.Items)
	if err != nil {
		return nil, err
	}
	bill.Items = items
	return &bill, nil
}

func (t *pgTx) ReplaceBillItems(ctx context.Context, billID int64, items []domain.BillItem) ([]domain.BillItem, error) {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM bill_items WHERE bill_id = $1`, billID); err != nil {
		return nil, mapError(err)
	}
	return t.insertBillItems(ctx, billID, items)
}

func (t *pgTx) insertBillItems(ctx context.Context, billID int64, items []domain.BillItem) ([]domain.BillItem, error) {
	saved := make([]domain.BillItem, 0, len(items))
	for _, item := range items {
		item.BillID = billID
		if err := t.tx.QueryRowContext(ctx, `
			INSERT INTO bill_items (bill_id, saree_id, quantity, price, line_total)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, billID, item.SareeID, item.Quantity, item.Price, item.LineTotal).Scan(&item.ID); err != nil {
			return nil, mapError(err)
		}
		saved = append(saved, item)
	}
	return saved, nil
}

func (t *pgTx) UpdateBill(ctx context.Context, bill domain.Bill) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bills
		SET customer_id = $2, subtotal = $3, discount = $4, tax = $5, total_amount = $6, status = $7, updated_at = now()
		WHERE id = $1
	`, bill.ID, nullID(bill.CustomerID), bill.Subtotal, bill.Discount, bill.Tax, bill.TotalAmount, string(bill.Status))
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

// DeleteBill relies on ON DELETE CASCADE for items, payments and edit requests.
func (t *pgTx) DeleteBill(ctx context.Context, billID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, billID)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) InsertPayment(ctx context.Context, p domain.Payment) (*domain.Payment, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO payments (bill_id, method, reference, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, p.BillID, string(p.Method), nullIfEmpty(p.Reference), p.Amount).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (t *pgTx) SumPayments(ctx context.Context, billID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE bill_id = $1`, billID).Scan(&total)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return total, nil
}

func (t *pgTx) FindPendingEditRequest(ctx context.Context, billID int64) (*domain.EditRequest, error) {
	return getEditRequest(ctx, t.tx, "bill_id = $1 AND status = 'PENDING' ORDER BY id LIMIT 1", "", billID)
}

func (t *pgTx) FindApprovedEditRequest(ctx context.Context, billID int64, requesterID int64) (*domain.EditRequest, error) {
	return getEditRequest(ctx, t.tx, "bill_id = $1 AND requester_id = $2 AND status = 'APPROVED' ORDER BY id LIMIT 1", "FOR UPDATE", billID, requesterID)
}

func (t *pgTx) GetEditRequest(ctx context.Context, requestID int64) (*domain.EditRequest, error) {
	return getEditRequest(ctx, t.tx, "id = $1", "", requestID)
}

func (t *pgTx) LockEditRequest(ctx context.Context, requestID int64) (*domain.EditRequest, error) {
	return getEditRequest(ctx, t.tx, "id = $1", "FOR UPDATE", requestID)
}

func (t *pgTx) InsertEditRequest(ctx context.Context, req domain.EditRequest) (*domain.EditRequest, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO bill_edit_requests (bill_id, requester_id, reason, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, requested_at
	`, req.BillID, req.RequesterID, req.Reason, string(req.Status)).Scan(&req.ID, &req.RequestedAt)
	if err != nil {
		return nil, mapError(err)
	}
	req.RequestedAt = req.RequestedAt.UTC()
	return &req, nil
}

func (t *pgTx) UpdateEditRequest(ctx context.Context, req domain.EditRequest) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bill_edit_requests
		SET status = $2, manager_id = $3, manager_note = $4, responded_at = $5, used_at = $6
		WHERE id = $1
	`, req.ID, string(req.Status), nullID(req.ManagerID), nullIfEmpty(req.ManagerNote), nullTimePtr(req.RespondedAt), nullTimePtr(req.UsedAt))
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) InsertPurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.Status == "" {
		po.Status = domain.PODraft
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO purchase_orders (shop_id, supplier_id, status, notes, sub_total, discount, tax, total_amount, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, po.ShopID, po.SupplierID, string(po.Status), nullIfEmpty(po.Notes), po.SubTotal, po.Discount, po.Tax, po.TotalAmount, po.CreatedBy).Scan(
		&po.ID, &po.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	po.CreatedAt = po.CreatedAt.UTC()
	items, err := t.insertOrderItems(ctx, po.ID, po.Items)
	if err != nil {
		return nil, err
	}
	po.Items = items
	return &po, nil
}

func (t *pgTx) LockPurchaseOrder(ctx context.Context, poID int64) (*domain.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, t.tx, poID, true)
}

func (t *pgTx) ReplacePurchaseOrderItems(ctx context.Context, poID int64, items []domain.PurchaseOrderItem) ([]domain.PurchaseOrderItem, error) {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM purchase_order_items WHERE po_id = $1`, poID); err != nil {
		return nil, mapError(err)
	}
	return t.insertOrderItems(ctx, poID, items)
}

func (t *pgTx) insertOrderItems(ctx context.Context, poID int64, items []domain.PurchaseOrderItem) ([]domain.PurchaseOrderItem, error) {
	saved := make([]domain.PurchaseOrderItem, 0, len(items))
	for _, item := range items {
		item.POID = poID
		if err := t.tx.QueryRowContext(ctx, `
			INSERT INTO purchase_order_items (po_id, saree_id, qty_ordered, qty_received, unit_cost)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, poID, item.SareeID, item.QtyOrdered, item.QtyReceived, item.UnitCost).Scan(&item.ID); err != nil {
			return nil, mapError(err)
		}
		saved = append(saved, item)
	}
	return saved, nil
}

func (t *pgTx) UpdatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, notes = $3, sub_total = $4, discount = $5, tax = $6, total_amount = $7, ordered_at = $8, received_at = $9
		WHERE id = $1
	`, po.ID, string(po.Status), nullIfEmpty(po.Notes), po.SubTotal, po.Discount, po.Tax, po.TotalAmount, nullTimePtr(po.OrderedAt), nullTimePtr(po.ReceivedAt))
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) UpdatePurchaseOrderItemReceived(ctx context.Context, itemID int64, qtyReceived int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE purchase_order_items SET qty_received = $2 WHERE id = $1`, itemID, qtyReceived)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return insertAuditLog(ctx, t.tx, entry)
}

func getShop(ctx context.Context, q queryer, shopID int64) (*domain.Shop, error) {
	var shop domain.Shop
	var ownerID sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT id, owner_id, name, COALESCE(address_line, ''), COALESCE(city, ''), COALESCE(state, ''),
			COALESCE(pincode, ''), tax_percentage, COALESCE(secret_code, ''), created_at
		FROM shops
		WHERE id = $1
	`, shopID).Scan(&shop.ID, &ownerID, &shop.Name, &shop.AddressLine, &shop.City, &shop.State,
		&shop.Pincode, &shop.TaxPercentage, &shop.SecretCode, &shop.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	shop.OwnerID = ownerID.Int64
	shop.CreatedAt = shop.CreatedAt.UTC()
	return &shop, nil
}

func getSupplier(ctx context.Context, q queryer, supplierID int64) (*domain.Supplier, error) {
	var s domain.Supplier
	err := q.QueryRowContext(ctx, `
		SELECT id, shop_id, name, COALESCE(email, ''), COALESCE(phone, ''), created_at
		FROM suppliers
		WHERE id = $1
	`, supplierID).Scan(&s.ID, &s.ShopID, &s.Name, &s.Email, &s.Phone, &s.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func getEditRequest(ctx context.Context, q queryer, where string, lock string, args ...any) (*domain.EditRequest, error) {
	var req domain.EditRequest
	var managerID sql.NullInt64
	var respondedAt, usedAt sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT `+editColumns+` FROM bill_edit_requests WHERE `+where+` `+lock, args...).Scan(
		&req.ID, &req.BillID, &req.RequesterID, &req.Reason, &req.Status, &managerID, &req.ManagerNote,
		&req.RequestedAt, &respondedAt, &usedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if managerID.Valid {
		id := managerID.Int64
		req.ManagerID = &id
	}
	req.RequestedAt = req.RequestedAt.UTC()
	req.RespondedAt = timePtr(respondedAt)
	req.UsedAt = timePtr(usedAt)
	return &req, nil
}

func getPurchaseOrder(ctx context.Context, q queryer, poID int64, lock bool) (*domain.PurchaseOrder, error) {
	query := `SELECT ` + poColumns + ` FROM purchase_orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var po domain.PurchaseOrder
	var orderedAt, receivedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, poID).Scan(
		&po.ID, &po.ShopID, &po.SupplierID, &po.Status, &po.Notes, &po.SubTotal, &po.Discount, &po.Tax,
		&po.TotalAmount, &po.CreatedBy, &po.CreatedAt, &orderedAt, &receivedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	po.CreatedAt = po.CreatedAt.UTC()
	po.OrderedAt = timePtr(orderedAt)
	po.ReceivedAt = timePtr(receivedAt)

	itemQuery := `
		SELECT i.id, i.po_id, i.saree_id, COALESCE(s.name, ''), i.qty_ordered, i.qty_received, i.unit_cost
		FROM purchase_order_items i
		LEFT JOIN sarees s ON s.id = i.saree_id
		WHERE i.po_id = $1
		ORDER BY i.id`
	if lock {
		itemQuery += ` FOR UPDATE OF i`
	}
	rows, err := q.QueryContext(ctx, itemQuery, poID)
	if err != nil {
		return nil, mapError(err)
	}
	po.Items = make([]domain.PurchaseOrderItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.POID, &item.SareeID, &item.SareeName, &item.QtyOrdered, &item.QtyReceived, &item.UnitCost); err != nil {
			_ = rows.Close()
			return nil, err
		}
		po.Items = append(po.Items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapError(err)
	}
	_ = rows.Close()
	return &po, nil
}

func listBillItems(ctx context.Context, q queryer, billID int64, lock bool) ([]domain.BillItem, error) {
	query := `
		SELECT i.id, i.bill_id, i.saree_id, COALESCE(s.name, ''), i.quantity, i.price, i.line_total
		FROM bill_items i
		LEFT JOIN sarees s ON s.id = i.saree_id
		WHERE i.bill_id = $1
		ORDER BY i.id`
	if lock {
		query += ` FOR UPDATE OF i`
	}
	rows, err := q.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, mapError(err)
	}
	items := make([]domain.BillItem, 0, 8)
	for rows.Next() {
		var item domain.BillItem
		if err := rows.Scan(&item.ID, &item.BillID, &item.SareeID, &item.SareeName, &item.Quantity, &item.Price, &item.LineTotal); err != nil {
			_ = rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapError(err)
	}
	_ = rows.Close()
	return items, nil
}

func insertAuditLog(ctx context.Context, q queryer, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var shopID, actorID any
	if entry.ShopID > 0 {
		shopID = entry.ShopID
	}
	if entry.ActorID > 0 {
		actorID = entry.ActorID
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_logs (id, shop_id, actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, shopID, actorID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, nullIfEmpty(entry.Detail), entry.CreatedAt)
	return mapError(err)
}

func scanSaree(row rowScanner) (domain.Saree, error) {
	var s domain.Saree
	if err := row.Scan(&s.ID, &s.ShopID, &s.Name, &s.Type, &s.Color, &s.Design, &s.Price, &s.StockQuantity, &s.CreatedAt); err != nil {
		return domain.Saree{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func scanBill(row rowScanner, withCashier bool) (domain.Bill, error) {
	var b domain.Bill
	var customerID sql.NullInt64
	dest := []any{&b.ID, &b.ShopID, &customerID, &b.UserID, &b.Subtotal, &b.Discount, &b.Tax, &b.TotalAmount, &b.Status, &b.CreatedAt, &b.UpdatedAt}
	if withCashier {
		dest = append(dest, &b.CashierName)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.Bill{}, err
	}
	if customerID.Valid {
		id := customerID.Int64
		b.CustomerID = &id
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
