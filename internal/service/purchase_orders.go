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
	"sareebill/backend/internal/notify"
	"sareebill/backend/internal/store"
)

// CreatePurchaseOrder opens a DRAFT order against a supplier of the actor's shop.
func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if err := requireShop(actor, req.ShopID); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if req.Discount.IsNegative() || req.Tax.IsNegative() {
		return domain.PurchaseOrderResponse{}, fmt.Errorf("%w: discount and tax must not be negative", store.ErrInvalidInput)
	}

	var created domain.PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		supplier, err := tx.GetSupplier(ctx, req.SupplierID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err != nil || supplier.ShopID != req.ShopID {
			return fmt.Errorf("%w: supplier %d", store.ErrNotFound, req.SupplierID)
		}
		discount := money.Round2(req.Discount)
		tax := money.Round2(req.Tax)
		po, err := tx.InsertPurchaseOrder(ctx, domain.PurchaseOrder{
			ShopID:      req.ShopID,
			SupplierID:  supplier.ID,
			Status:      domain.PODraft,
			Notes:       strings.TrimSpace(req.Notes),
			SubTotal:    decimal.Zero,
			Discount:    discount,
			Tax:         tax,
			TotalAmount: money.PurchaseOrderTotal(decimal.Zero, discount, tax),
			CreatedBy:   actor.UserID,
		})
		if err != nil {
			return err
		}
		created = *po
		return nil
	})
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if created.Items == nil {
		created.Items = []domain.PurchaseOrderItem{}
	}

	s.logAudit(ctx, created.ShopID, "po_create", "purchase_order", created.ID, fmt.Sprintf("supplier=%d", created.SupplierID))
	return domain.PurchaseOrderResponse{POID: created.ID, PurchaseOrder: created}, nil
}

// SetPurchaseOrderItems replaces the item set of a DRAFT order.
func (s *Service) SetPurchaseOrderItems(ctx context.Context, poID int64, req domain.PurchaseOrderItemsRequest) (domain.PurchaseOrderResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	for i, item := range req.Items {
		if item.UnitCost.IsNegative() {
			return domain.PurchaseOrderResponse{}, fmt.Errorf("%w: items[%d].unit_cost must not be negative", store.ErrInvalidInput, i)
		}
	}
	if (req.Discount != nil && req.Discount.IsNegative()) || (req.Tax != nil && req.Tax.IsNegative()) {
		return domain.PurchaseOrderResponse{}, fmt.Errorf("%w: discount and tax must not be negative", store.ErrInvalidInput)
	}

	var updated domain.PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		po, err := lockShopPurchaseOrder(ctx, tx, actor, poID)
		if err != nil {
			return err
		}
		if po.Status != domain.PODraft {
			return fmt.Errorf("%w: purchase order %d is %s, items can only change while DRAFT", store.ErrConflict, po.ID, po.Status)
		}

		ids := make([]int64, 0, len(req.Items))
		for _, item := range req.Items {
			ids = append(ids, item.SareeID)
		}
		sarees, err := tx.GetSarees(ctx, po.ShopID, uniqueSorted(ids))
		if err != nil {
			return err
		}

		items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
		lineTotals := make([]decimal.Decimal, 0, len(req.Items))
		for _, in := range req.Items {
			saree, ok := sarees[in.SareeID]
			if !ok {
				return fmt.Errorf("%w: saree %d", store.ErrNotFound, in.SareeID)
			}
			cost := money.Round2(in.UnitCost)
			items = append(items, domain.PurchaseOrderItem{
				SareeID:    saree.ID,
				SareeName:  saree.Name,
				QtyOrdered: in.QtyOrdered,
				UnitCost:   cost,
			})
			lineTotals = append(lineTotals, money.LineTotal(cost, in.QtyOrdered))
		}
		saved, err := tx.ReplacePurchaseOrderItems(ctx, po.ID, items)
		if err != nil {
			return err
		}
		for i := range saved {
			saved[i].SareeName = sarees[saved[i].SareeID].Name
		}

		if req.Discount != nil {
			po.Discount = money.Round2(*req.Discount)
		}
		if req.Tax != nil {
			po.Tax = money.Round2(*req.Tax)
		}
		po.SubTotal = money.Sum(lineTotals...)
		po.TotalAmount = money.PurchaseOrderTotal(po.SubTotal, po.Discount, po.Tax)
		if err := tx.UpdatePurchaseOrder(ctx, *po); err != nil {
			return err
		}
		po.Items = saved
		updated = *po
		return nil
	})
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, updated.ShopID, "po_set_items", "purchase_order", updated.ID, fmt.Sprintf("items=%d,total=%s", len(updated.Items), updated.TotalAmount.StringFixed(2)))
	return domain.PurchaseOrderResponse{POID: updated.ID, PurchaseOrder: updated}, nil
}

// SubmitPurchaseOrder moves a DRAFT order to ORDERED. The supplier email is
// sent after commit and its outcome never affects the result.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, poID int64) (domain.PurchaseOrderResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	var (
		submitted domain.PurchaseOrder
		shop      *domain.Shop
		supplier  *domain.Supplier
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		po, err := lockShopPurchaseOrder(ctx, tx, actor, poID)
		if err != nil {
			return err
		}
		if po.Status != domain.PODraft {
			return fmt.Errorf("%w: purchase order %d is %s, only DRAFT can be submitted", store.ErrConflict, po.ID, po.Status)
		}
		if len(po.Items) == 0 {
			return fmt.Errorf("%w: purchase order %d has no items", store.ErrInvalidInput, po.ID)
		}
		for _, item := range po.Items {
			if item.QtyOrdered <= 0 {
				return fmt.Errorf("%w: purchase order item %d has no quantity ordered", store.ErrInvalidInput, item.ID)
			}
		}

		po.Status = domain.POOrdered
		if po.OrderedAt == nil {
			now := s.now()
			po.OrderedAt = &now
		}
		if err := tx.UpdatePurchaseOrder(ctx, *po); err != nil {
			return err
		}
		if shop, err = tx.GetShop(ctx, po.ShopID); err != nil {
			return err
		}
		if supplier, err = tx.GetSupplier(ctx, po.SupplierID); err != nil {
			return err
		}
		submitted = *po
		return nil
	})
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, submitted.ShopID, "po_submit", "purchase_order", submitted.ID, fmt.Sprintf("supplier=%d,total=%s", submitted.SupplierID, submitted.TotalAmount.StringFixed(2)))

	if strings.TrimSpace(supplier.Email) == "" {
		s.logger.Info("supplier has no email, skipping purchase order notification",
			slog.Int64("po_id", submitted.ID), slog.Int64("supplier_id", supplier.ID))
	} else {
		named := submitted
		if full, err := s.repo.GetPurchaseOrder(ctx, submitted.ID); err == nil {
			named = *full
		}
		subject, body := notify.PurchaseOrderEmail(*shop, *supplier, named)
		s.notifyAsync(supplier.Email, subject, body, slog.Int64("po_id", submitted.ID))
	}

	return domain.PurchaseOrderResponse{POID: submitted.ID, PurchaseOrder: submitted}, nil
}

// ReceiveItems books deliveries against an ORDERED (or already RECEIVED)
// order. Each line receives at most what is still outstanding.
func (s *Service) ReceiveItems(ctx context.Context, poID int64, req domain.ReceiveItemsRequest) (domain.ReceiveItemsResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.ReceiveItemsResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.ReceiveItemsResponse{}, err
	}

	var resp domain.ReceiveItemsResponse
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		po, err := lockShopPurchaseOrder(ctx, tx, actor, poID)
		if err != nil {
			return err
		}
		if po.Status != domain.POOrdered && po.Status != domain.POReceived {
			return fmt.Errorf("%w: purchase order %d is %s, only ORDERED or RECEIVED can be received", store.ErrConflict, po.ID, po.Status)
		}

		byID := make(map[int64]int, len(po.Items))
		for i, item := range po.Items {
			byID[item.ID] = i
		}
		ids := make([]int64, 0, len(req.Items))
		for _, line := range req.Items {
			idx, ok := byID[line.POItemID]
			if !ok {
				return fmt.Errorf("%w: purchase order item %d", store.ErrNotFound, line.POItemID)
			}
			ids = append(ids, po.Items[idx].SareeID)
		}
		if _, err := tx.LockSarees(ctx, po.ShopID, uniqueSorted(ids)); err != nil {
			return err
		}

		received := make([]domain.ReceivedLine, 0, len(req.Items))
		for _, line := range req.Items {
			if line.Qty == 0 {
				continue
			}
			item := &po.Items[byID[line.POItemID]]
			n := min(item.Remaining(), line.Qty)
			if n > 0 {
				if _, _, err := appendMovement(ctx, tx, domain.StockMovement{
					ShopID:         po.ShopID,
					SareeID:        item.SareeID,
					SourceType:     domain.MovementPurchase,
					SourceID:       &po.ID,
					QuantityChange: n,
					UnitValue:      unitValue(item.UnitCost),
					Note:           fmt.Sprintf("purchase order #%d", po.ID),
				}); err != nil {
					return err
				}
				item.QtyReceived += n
				if err := tx.UpdatePurchaseOrderItemReceived(ctx, item.ID, item.QtyReceived); err != nil {
					return err
				}
			}
			received = append(received, domain.ReceivedLine{
				POItemID:  item.ID,
				SareeID:   item.SareeID,
				Requested: line.Qty,
				Received:  n,
			})
		}

		ordered, got := 0, 0
		for _, item := range po.Items {
			ordered += item.QtyOrdered
			got += item.QtyReceived
		}
		fully := got >= ordered
		if fully {
			po.Status = domain.POReceived
			if po.ReceivedAt == nil {
				now := s.now()
				po.ReceivedAt = &now
			}
			if err := tx.UpdatePurchaseOrder(ctx, *po); err != nil {
				return err
			}
		}

		resp = domain.ReceiveItemsResponse{OK: true, FullyReceived: fully, Received: received, PurchaseOrder: *po}
		return nil
	})
	if err != nil {
		return domain.ReceiveItemsResponse{}, err
	}

	s.logAudit(ctx, resp.PurchaseOrder.ShopID, "po_receive", "purchase_order", poID, fmt.Sprintf("lines=%d,fully_received=%t,status=%s", len(resp.Received), resp.FullyReceived, resp.PurchaseOrder.Status))
	return resp, nil
}

// GetPurchaseOrder returns the order with its items. Orders of other shops
// read as not found.
func (s *Service) GetPurchaseOrder(ctx context.Context, poID int64) (domain.PurchaseOrder, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	po, err := s.repo.GetPurchaseOrder(ctx, poID)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if po.ShopID != actor.ShopID {
		return domain.PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", store.ErrNotFound, poID)
	}
	return *po, nil
}

func lockShopPurchaseOrder(ctx context.Context, tx store.Tx, actor domain.Actor, poID int64) (*domain.PurchaseOrder, error) {
	po, err := tx.LockPurchaseOrder(ctx, poID)
	if err != nil {
		return nil, err
	}
	if po.ShopID != actor.ShopID {
		return nil, fmt.Errorf("%w: purchase order %d", store.ErrNotFound, poID)
	}
	return po, nil
}
