package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/money"
	"sareebill/backend/internal/store"
)

const (
	defaultBillPage = 50
	maxBillPage     = 200
)

// CreateBill turns a cart into a bill in one unit of work: stock rows are
// locked in ascending id order, validated, decremented through SALE
// movements, and the initial payment is recorded if one was taken.
func (s *Service) CreateBill(ctx context.Context, req domain.CreateBillRequest) (domain.BillSummary, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BillSummary{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.BillSummary{}, err
	}
	if err := requireShop(actor, req.ShopID); err != nil {
		return domain.BillSummary{}, err
	}
	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		return domain.BillSummary{}, fmt.Errorf("%w: payment_method must be Cash, Card or UPI", store.ErrInvalidInput)
	}
	if req.Discount.IsNegative() {
		return domain.BillSummary{}, fmt.Errorf("%w: discount must not be negative", store.ErrInvalidInput)
	}
	if req.AmountPaid.IsNegative() {
		return domain.BillSummary{}, fmt.Errorf("%w: amount_paid must not be negative", store.ErrInvalidInput)
	}
	paid := money.Round2(req.AmountPaid)
	reference := strings.TrimSpace(req.PaymentReference)
	if paid.IsPositive() && method.RequiresReference() && reference == "" {
		return domain.BillSummary{}, fmt.Errorf("%w: payment_reference is required for %s", store.ErrInvalidInput, method)
	}

	ids := make([]int64, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, line.SareeID)
	}

	var summary domain.BillSummary
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		shop, err := tx.GetShop(ctx, req.ShopID)
		if err != nil {
			return err
		}
		if req.CustomerID != nil {
			customer, err := tx.GetCustomer(ctx, *req.CustomerID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err != nil || customer.ShopID != shop.ID {
				return fmt.Errorf("%w: customer %d", store.ErrNotFound, *req.CustomerID)
			}
		}

		sarees, err := tx.LockSarees(ctx, shop.ID, uniqueSorted(ids))
		if err != nil {
			return err
		}
		items, subtotal, err := priceLines(req.Items, sarees, nil, nil)
		if err != nil {
			return err
		}

		totals := money.ComputeBill(subtotal, req.Discount, shop.TaxPercentage)
		bill, err := tx.InsertBill(ctx, domain.Bill{
			ShopID:      shop.ID,
			CustomerID:  req.CustomerID,
			UserID:      actor.UserID,
			Subtotal:    totals.Subtotal,
			Discount:    totals.Discount,
			Tax:         totals.Tax,
			TotalAmount: totals.Total,
			Status:      domain.DeriveBillStatus(paid, totals.Total),
			Items:       items,
		})
		if err != nil {
			return err
		}

		for _, item := range bill.Items {
			if _, _, err := appendMovement(ctx, tx, domain.StockMovement{
				ShopID:         shop.ID,
				SareeID:        item.SareeID,
				SourceType:     domain.MovementSale,
				SourceID:       &bill.ID,
				QuantityChange: -item.Quantity,
				UnitValue:      unitValue(item.Price),
				Note:           fmt.Sprintf("bill #%d", bill.ID),
			}); err != nil {
				return err
			}
		}

		if paid.IsPositive() {
			if _, err := tx.InsertPayment(ctx, domain.Payment{
				BillID:    bill.ID,
				Method:    method,
				Reference: reference,
				Amount:    paid,
			}); err != nil {
				return err
			}
		}

		summary = domain.BillSummary{
			BillID:      bill.ID,
			Subtotal:    bill.Subtotal,
			Discount:    bill.Discount,
			Tax:         bill.Tax,
			TotalAmount: bill.TotalAmount,
			Paid:        paid,
			Status:      bill.Status,
		}
		return nil
	})
	if err != nil {
		return domain.BillSummary{}, err
	}

	s.logAudit(ctx, req.ShopID, "bill_create", "bill", summary.BillID,
		fmt.Sprintf("items=%d,total=%s,paid=%s,status=%s", len(req.Items), summary.TotalAmount.StringFixed(2), paid.StringFixed(2), summary.Status))
	return summary, nil
}

// priceLines validates every line against the locked stock and builds the
// bill items. Repeated saree ids are kept as separate lines but draw on one
// running balance. keepPrice supplies the price snapshot for sarees already
// on the bill; other lines take the saree's current price. available, when
// non-nil, replaces the stock quantity as the starting balance.
func priceLines(lines []domain.BillLineRequest, sarees map[int64]domain.Saree, keepPrice map[int64]decimal.Decimal, available map[int64]int) ([]domain.BillItem, decimal.Decimal, error) {
	remaining := make(map[int64]int, len(sarees))
	for id, saree := range sarees {
		remaining[id] = saree.StockQuantity
		if qty, ok := available[id]; ok {
			remaining[id] = qty
		}
	}

	items := make([]domain.BillItem, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		saree, ok := sarees[line.SareeID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: saree %d", store.ErrNotFound, line.SareeID)
		}
		if line.Quantity > remaining[line.SareeID] {
			return nil, decimal.Zero, fmt.Errorf("%w: %s has %d available, requested %d", store.ErrInsufficientStock, saree.Name, remaining[line.SareeID], line.Quantity)
		}
		remaining[line.SareeID] -= line.Quantity

		price := saree.Price
		if snap, ok := keepPrice[line.SareeID]; ok {
			price = snap
		}
		lineTotal := money.LineTotal(price, line.Quantity)
		items = append(items, domain.BillItem{
			SareeID:   saree.ID,
			SareeName: saree.Name,
			Quantity:  line.Quantity,
			Price:     price,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	return items, money.Round2(subtotal), nil
}

// GetBill assembles the bill view. Bills of another shop read as not found.
// The cache generation is taken before the store read, so a view loaded
// while a writer commits is stored under a generation readers have left.
func (s *Service) GetBill(ctx context.Context, billID int64) (domain.BillDetail, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BillDetail{}, err
	}

	version, err := s.billCache.Version(ctx, billID)
	useCache := err == nil
	if err != nil {
		s.logger.Warn("bill cache version read failed", slog.Int64("bill_id", billID), slog.Any("error", err))
	}
	if useCache {
		if cached, ok, err := s.billCache.Get(ctx, billID, version); err != nil {
			s.logger.Warn("bill cache read failed", slog.Int64("bill_id", billID), slog.Any("error", err))
		} else if ok && cached != nil {
			if cached.Bill.ShopID != actor.ShopID {
				return domain.BillDetail{}, fmt.Errorf("%w: bill %d", store.ErrNotFound, billID)
			}
			return *cached, nil
		}
	}

	detail, err := s.repo.GetBillDetail(ctx, billID)
	if err != nil {
		return domain.BillDetail{}, err
	}
	if detail.Bill.ShopID != actor.ShopID {
		return domain.BillDetail{}, fmt.Errorf("%w: bill %d", store.ErrNotFound, billID)
	}

	amounts := make([]decimal.Decimal, 0, len(detail.Payments))
	for _, p := range detail.Payments {
		amounts = append(amounts, p.Amount)
	}
	detail.Paid = money.Sum(amounts...)
	detail.Due = money.Round2(detail.Bill.TotalAmount.Sub(detail.Paid))

	if useCache {
		if err := s.billCache.Set(ctx, billID, version, detail, s.billCacheTTL); err != nil {
			s.logger.Warn("bill cache write failed", slog.Int64("bill_id", billID), slog.Any("error", err))
		}
	}
	return *detail, nil
}

// ListBillsByShop returns the newest bills first with their line items, one
// page at a time. Pass the previous page's NextBeforeID to continue; it is
// zero on the last page.
func (s *Service) ListBillsByShop(ctx context.Context, shopID int64, beforeID int64, limit int) (domain.BillListResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BillListResponse{}, err
	}
	if err := requireShop(actor, shopID); err != nil {
		return domain.BillListResponse{}, err
	}
	if beforeID < 0 {
		return domain.BillListResponse{}, fmt.Errorf("%w: before_id must not be negative", store.ErrInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultBillPage
	case limit > maxBillPage:
		limit = maxBillPage
	}

	bills, err := s.repo.ListBillsByShop(ctx, shopID, beforeID, limit+1)
	if err != nil {
		return domain.BillListResponse{}, err
	}
	var next int64
	if len(bills) > limit {
		bills = bills[:limit]
		next = bills[limit-1].ID
	}
	for i := range bills {
		items, err := s.repo.ListBillItems(ctx, bills[i].ID)
		if err != nil {
			return domain.BillListResponse{}, err
		}
		bills[i].Items = items
	}
	return domain.BillListResponse{Bills: bills, NextBeforeID: next}, nil
}

// AddPayment records one more payment and re-derives the status from the
// payment total.
func (s *Service) AddPayment(ctx context.Context, billID int64, req domain.AddPaymentRequest) (domain.AddPaymentResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.AddPaymentResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.AddPaymentResponse{}, err
	}
	method, ok := domain.ParsePaymentMethod(req.Method)
	if !ok {
		return domain.AddPaymentResponse{}, fmt.Errorf("%w: method must be Cash, Card or UPI", store.ErrInvalidInput)
	}
	amount := money.Round2(req.Amount)
	if !amount.IsPositive() {
		return domain.AddPaymentResponse{}, fmt.Errorf("%w: amount must be greater than 0", store.ErrInvalidInput)
	}
	reference := strings.TrimSpace(req.Reference)
	if method.RequiresReference() && reference == "" {
		return domain.AddPaymentResponse{}, fmt.Errorf("%w: reference is required for %s", store.ErrInvalidInput, method)
	}

	var resp domain.AddPaymentResponse
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bill, err := lockShopBill(ctx, tx, actor, billID)
		if err != nil {
			return err
		}
		payment, err := tx.InsertPayment(ctx, domain.Payment{BillID: bill.ID, Method: method, Reference: reference, Amount: amount})
		if err != nil {
			return err
		}
		paid, err := tx.SumPayments(ctx, bill.ID)
		if err != nil {
			return err
		}
		bill.Status = domain.DeriveBillStatus(paid, bill.TotalAmount)
		if err := tx.UpdateBill(ctx, *bill); err != nil {
			return err
		}
		resp = domain.AddPaymentResponse{
			OK:      true,
			Payment: *payment,
			Status:  bill.Status,
			Paid:    money.Round2(paid),
			Due:     money.Round2(bill.TotalAmount.Sub(paid)),
		}
		return nil
	})
	if err != nil {
		return domain.AddPaymentResponse{}, err
	}

	s.invalidateBill(ctx, billID)
	s.logAudit(ctx, actor.ShopID, "payment_add", "bill", billID, fmt.Sprintf("method=%s,amount=%s,status=%s", method, amount.StringFixed(2), resp.Status))
	return resp, nil
}

// UpdateBillFull replaces the bill's item set, reconciling stock by the per
// saree difference between the old and new sets. Cashiers need an approved,
// unused edit request, which is consumed in the same unit of work.
func (s *Service) UpdateBillFull(ctx context.Context, billID int64, req domain.UpdateBillRequest) (domain.UpdateBillResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.UpdateBillResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.UpdateBillResponse{}, err
	}
	if req.Discount.IsNegative() {
		return domain.UpdateBillResponse{}, fmt.Errorf("%w: discount must not be negative", store.ErrInvalidInput)
	}

	var summary domain.BillSummary
	var consumed *domain.EditRequest
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bill, err := lockShopBill(ctx, tx, actor, billID)
		if err != nil {
			return err
		}

		if !actor.CanManage() {
			approval, err := tx.FindApprovedEditRequest(ctx, bill.ID, actor.UserID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: bill %d needs an approved edit request", store.ErrApprovalRequired, bill.ID)
			}
			if err != nil {
				return err
			}
			consumed = approval
		}

		oldQty := make(map[int64]int)
		keepPrice := make(map[int64]decimal.Decimal)
		for _, item := range bill.Items {
			oldQty[item.SareeID] += item.Quantity
			if _, ok := keepPrice[item.SareeID]; !ok {
				keepPrice[item.SareeID] = item.Price
			}
		}
		newQty := make(map[int64]int)
		ids := make([]int64, 0, len(bill.Items)+len(req.Items))
		for _, item := range bill.Items {
			ids = append(ids, item.SareeID)
		}
		for _, line := range req.Items {
			newQty[line.SareeID] += line.Quantity
			ids = append(ids, line.SareeID)
		}
		ids = uniqueSorted(ids)

		sarees, err := tx.LockSarees(ctx, bill.ShopID, ids)
		if err != nil {
			return err
		}
		// Quantity already held by this bill counts as available to it.
		available := make(map[int64]int, len(sarees))
		for id, saree := range sarees {
			available[id] = saree.StockQuantity + oldQty[id]
		}
		items, subtotal, err := priceLines(req.Items, sarees, keepPrice, available)
		if err != nil {
			return err
		}

		for _, id := range ids {
			delta := newQty[id] - oldQty[id]
			if delta == 0 {
				continue
			}
			movement := domain.StockMovement{
				ShopID:         bill.ShopID,
				SareeID:        id,
				SourceID:       &bill.ID,
				SourceType:     domain.MovementSale,
				QuantityChange: -delta,
				Note:           fmt.Sprintf("bill #%d edit", bill.ID),
			}
			if saree, ok := sarees[id]; ok {
				price := saree.Price
				if snap, ok := keepPrice[id]; ok {
					price = snap
				}
				movement.UnitValue = unitValue(price)
			}
			if delta < 0 {
				movement.SourceType = domain.MovementReturnIn
			}
			if _, _, err := appendMovement(ctx, tx, movement); err != nil {
				return err
			}
		}

		if _, err := tx.ReplaceBillItems(ctx, bill.ID, items); err != nil {
			return err
		}
		shop, err := tx.GetShop(ctx, bill.ShopID)
		if err != nil {
			return err
		}
		totals := money.ComputeBill(subtotal, req.Discount, shop.TaxPercentage)
		paid, err := tx.SumPayments(ctx, bill.ID)
		if err != nil {
			return err
		}
		bill.Subtotal = totals.Subtotal
		bill.Discount = totals.Discount
		bill.Tax = totals.Tax
		bill.TotalAmount = totals.Total
		bill.Status = domain.DeriveBillStatus(paid, totals.Total)
		if err := tx.UpdateBill(ctx, *bill); err != nil {
			return err
		}

		if consumed != nil {
			now := s.now()
			consumed.Status = domain.EditUsed
			consumed.UsedAt = &now
			if err := tx.UpdateEditRequest(ctx, *consumed); err != nil {
				return err
			}
		}

		summary = domain.BillSummary{
			BillID:      bill.ID,
			Subtotal:    bill.Subtotal,
			Discount:    bill.Discount,
			Tax:         bill.Tax,
			TotalAmount: bill.TotalAmount,
			Paid:        money.Round2(paid),
			Status:      bill.Status,
		}
		return nil
	})
	if err != nil {
		return domain.UpdateBillResponse{}, err
	}

	s.invalidateBill(ctx, billID)
	detail := fmt.Sprintf("items=%d,total=%s,status=%s", len(req.Items), summary.TotalAmount.StringFixed(2), summary.Status)
	if consumed != nil {
		detail += fmt.Sprintf(",edit_request=%d", consumed.ID)
	}
	s.logAudit(ctx, actor.ShopID, "bill_update", "bill", billID, detail)
	return domain.UpdateBillResponse{OK: true, BillSummary: summary}, nil
}

// DeleteBill restores the stock held by the bill through RETURN_IN movements
// and removes the bill with its items, payments and edit requests.
func (s *Service) DeleteBill(ctx context.Context, billID int64) error {
	actor, err := requireManager(ctx)
	if err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bill, err := lockShopBill(ctx, tx, actor, billID)
		if err != nil {
			return err
		}
		held := make(map[int64]int)
		ids := make([]int64, 0, len(bill.Items))
		for _, item := range bill.Items {
			held[item.SareeID] += item.Quantity
			ids = append(ids, item.SareeID)
		}
		ids = uniqueSorted(ids)
		if _, err := tx.LockSarees(ctx, bill.ShopID, ids); err != nil {
			return err
		}
		for _, id := range ids {
			if _, _, err := appendMovement(ctx, tx, domain.StockMovement{
				ShopID:         bill.ShopID,
				SareeID:        id,
				SourceType:     domain.MovementReturnIn,
				SourceID:       &bill.ID,
				QuantityChange: held[id],
				Note:           fmt.Sprintf("bill #%d deleted", bill.ID),
			}); err != nil {
				return err
			}
		}
		return tx.DeleteBill(ctx, bill.ID)
	})
	if err != nil {
		return err
	}

	s.invalidateBill(ctx, billID)
	s.logAudit(ctx, actor.ShopID, "bill_delete", "bill", billID, "")
	return nil
}

// lockShopBill locks the bill and hides bills of other shops.
func lockShopBill(ctx context.Context, tx store.Tx, actor domain.Actor, billID int64) (*domain.Bill, error) {
	bill, err := tx.LockBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.ShopID != actor.ShopID {
		return nil, fmt.Errorf("%w: bill %d", store.ErrNotFound, billID)
	}
	return bill, nil
}
