package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/money"
	"sareebill/backend/internal/store"
)

// appendMovement is the only path that changes a saree's stock quantity. The
// movement row and the quantity update share the caller's transaction.
func appendMovement(ctx context.Context, tx store.Tx, m domain.StockMovement) (*domain.StockMovement, int, error) {
	if !m.SourceType.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown movement source %q", store.ErrInvalidInput, m.SourceType)
	}
	if m.QuantityChange == 0 {
		return nil, 0, fmt.Errorf("%w: movement quantity must not be zero", store.ErrInvalidInput)
	}
	if m.SourceType.Inbound() != (m.QuantityChange > 0) {
		return nil, 0, fmt.Errorf("%w: %s movement cannot change stock by %d", store.ErrInvalidInput, m.SourceType, m.QuantityChange)
	}

	qty, err := tx.ApplyStockDelta(ctx, m.SareeID, m.QuantityChange)
	if err != nil {
		return nil, 0, err
	}
	saved, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return nil, 0, err
	}
	return saved, qty, nil
}

// uniqueSorted returns the distinct ids in ascending order, the order in
// which rows are locked.
func uniqueSorted(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// RegisterSaree adds a saree to the actor's shop and books any opening stock
// as an IN movement in the same transaction.
func (s *Service) RegisterSaree(ctx context.Context, req domain.SareeCreateRequest) (domain.Saree, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Saree{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateStruct(req); err != nil {
		return domain.Saree{}, err
	}
	if err := requireShop(actor, req.ShopID); err != nil {
		return domain.Saree{}, err
	}
	if req.Price.IsNegative() {
		return domain.Saree{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
	}

	var created domain.Saree
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetShop(ctx, req.ShopID); err != nil {
			return err
		}
		saree, err := tx.InsertSaree(ctx, domain.Saree{
			ShopID: req.ShopID,
			Name:   req.Name,
			Type:   strings.TrimSpace(req.Type),
			Color:  strings.TrimSpace(req.Color),
			Design: strings.TrimSpace(req.Design),
			Price:  money.Round2(req.Price),
		})
		if err != nil {
			return err
		}
		if req.OpeningStock > 0 {
			_, qty, err := appendMovement(ctx, tx, domain.StockMovement{
				ShopID:         saree.ShopID,
				SareeID:        saree.ID,
				SourceType:     domain.MovementAdjustmentIn,
				QuantityChange: req.OpeningStock,
				Note:           "opening stock",
			})
			if err != nil {
				return err
			}
			saree.StockQuantity = qty
		}
		created = *saree
		return nil
	})
	if err != nil {
		return domain.Saree{}, err
	}

	s.logAudit(ctx, created.ShopID, "saree_create", "saree", created.ID, fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.StockQuantity))
	return created, nil
}

// AdjustStock records a manual ADJUSTMENT_IN or ADJUSTMENT_OUT movement.
func (s *Service) AdjustStock(ctx context.Context, sareeID int64, req domain.StockAdjustmentRequest) (domain.StockAdjustmentResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.StockAdjustmentResponse{}, err
	}
	req.Direction = strings.ToUpper(strings.TrimSpace(req.Direction))
	if err := s.validateStruct(req); err != nil {
		return domain.StockAdjustmentResponse{}, err
	}

	source, delta := domain.MovementAdjustmentIn, req.Quantity
	if req.Direction == "OUT" {
		source, delta = domain.MovementAdjustmentOut, -req.Quantity
	}

	var resp domain.StockAdjustmentResponse
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sarees, err := tx.LockSarees(ctx, actor.ShopID, []int64{sareeID})
		if err != nil {
			return err
		}
		saree, ok := sarees[sareeID]
		if !ok {
			return fmt.Errorf("%w: saree %d", store.ErrNotFound, sareeID)
		}
		if delta < 0 && saree.StockQuantity < -delta {
			return fmt.Errorf("%w: saree %d has %d in stock, cannot remove %d", store.ErrInsufficientStock, sareeID, saree.StockQuantity, -delta)
		}
		movement, qty, err := appendMovement(ctx, tx, domain.StockMovement{
			ShopID:         saree.ShopID,
			SareeID:        saree.ID,
			SourceType:     source,
			QuantityChange: delta,
			Note:           strings.TrimSpace(req.Note),
		})
		if err != nil {
			return err
		}
		resp = domain.StockAdjustmentResponse{Movement: *movement, StockQuantity: qty}
		return nil
	})
	if err != nil {
		return domain.StockAdjustmentResponse{}, err
	}

	s.logAudit(ctx, actor.ShopID, "stock_adjust", "saree", sareeID, fmt.Sprintf("source=%s,change=%d", source, delta))
	return resp, nil
}

// StockLedger returns the saree, its recent movements and the quantity
// recomputed from the full movement history.
func (s *Service) StockLedger(ctx context.Context, sareeID int64, limit int) (domain.StockLedgerView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockLedgerView{}, err
	}
	saree, err := s.repo.GetSaree(ctx, sareeID)
	if err != nil {
		return domain.StockLedgerView{}, err
	}
	if saree.ShopID != actor.ShopID {
		return domain.StockLedgerView{}, fmt.Errorf("%w: saree %d", store.ErrNotFound, sareeID)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	movements, err := s.repo.ListMovements(ctx, sareeID, limit)
	if err != nil {
		return domain.StockLedgerView{}, err
	}
	total, err := s.repo.SumMovements(ctx, sareeID)
	if err != nil {
		return domain.StockLedgerView{}, err
	}
	return domain.StockLedgerView{Saree: *saree, LedgerQuantity: total, Movements: movements}, nil
}

func unitValue(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}
