package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/store"
)

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	shop, err := s.CreateShop(ctx, domain.Shop{Name: "Test Silks", TaxPercentage: decimal.NewFromInt(10)})
	require.NoError(t, err)

	var sareeID int64
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		saree, err := tx.InsertSaree(ctx, domain.Saree{ShopID: shop.ID, Name: "A", Price: decimal.NewFromInt(100)})
		if err != nil {
			return err
		}
		sareeID = saree.ID
		_, err = tx.ApplyStockDelta(ctx, saree.ID, 5)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.ApplyStockDelta(ctx, sareeID, -3); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, domain.StockMovement{ShopID: shop.ID, SareeID: sareeID, SourceType: domain.MovementSale, QuantityChange: -3}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	saree, err := s.GetSaree(ctx, sareeID)
	require.NoError(t, err)
	require.Equal(t, 5, saree.StockQuantity)
	movements, err := s.ListMovements(ctx, sareeID, 0)
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestApplyStockDeltaRejectsNegative(t *testing.T) {
	s := New()
	ctx := context.Background()
	shop, err := s.CreateShop(ctx, domain.Shop{Name: "Test Silks"})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		saree, err := tx.InsertSaree(ctx, domain.Saree{ShopID: shop.ID, Name: "A"})
		if err != nil {
			return err
		}
		_, err = tx.ApplyStockDelta(ctx, saree.ID, -1)
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestGetSareesScopesToShop(t *testing.T) {
	s := New()
	ctx := context.Background()
	shopA, _ := s.CreateShop(ctx, domain.Shop{Name: "A"})
	shopB, _ := s.CreateShop(ctx, domain.Shop{Name: "B"})

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		saree, err := tx.InsertSaree(ctx, domain.Saree{ShopID: shopA.ID, Name: "A"})
		if err != nil {
			return err
		}
		got, err := tx.LockSarees(ctx, shopB.ID, []int64{saree.ID})
		require.NoError(t, err)
		require.Empty(t, got)
		got, err = tx.LockSarees(ctx, shopA.ID, []int64{saree.ID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestSingleOpenPendingEditRequest(t *testing.T) {
	s := New()
	ctx := context.Background()
	shop, _ := s.CreateShop(ctx, domain.Shop{Name: "A"})

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bill, err := tx.InsertBill(ctx, domain.Bill{ShopID: shop.ID, UserID: 1, Status: domain.BillUnpaid})
		if err != nil {
			return err
		}
		if _, err := tx.InsertEditRequest(ctx, domain.EditRequest{BillID: bill.ID, RequesterID: 1, Reason: "typo", Status: domain.EditPending}); err != nil {
			return err
		}
		_, err = tx.InsertEditRequest(ctx, domain.EditRequest{BillID: bill.ID, RequesterID: 1, Reason: "again", Status: domain.EditPending})
		return err
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestNewSeededLedgerMatchesStock(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	user, err := s.GetUserByUsername(ctx, "Cashier")
	require.NoError(t, err)
	require.Equal(t, domain.RoleCashier, user.Role)

	for id, saree := range s.data.sarees {
		sum, err := s.SumMovements(ctx, id)
		require.NoError(t, err)
		require.Equal(t, saree.StockQuantity, sum, saree.Name)
	}
}
