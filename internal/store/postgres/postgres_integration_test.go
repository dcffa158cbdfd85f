package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/service"
	"sareebill/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("SAREEBILL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SAREEBILL_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, 2*time.Second)
	require.NoError(t, err, "new store")
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx), "migrate")
	return s
}

func seedShop(t *testing.T, s *Store) (*domain.Shop, domain.Actor, domain.Actor) {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	shop, err := s.CreateShop(ctx, domain.Shop{Name: fmt.Sprintf("IT Silks %d", stamp), TaxPercentage: decimal.NewFromInt(10)})
	require.NoError(t, err, "create shop")
	actor := func(role string) domain.Actor {
		user, err := s.CreateUser(ctx, domain.UserAccount{
			Username: fmt.Sprintf("it-%s-%d", role, stamp),
			Password: "x",
			FullName: role,
			Role:     role,
			ShopID:   shop.ID,
		})
		require.NoError(t, err, "create user")
		return domain.Actor{UserID: user.ID, Username: user.Username, Role: user.Role, ShopID: shop.ID}
	}
	return shop, actor(domain.RoleManager), actor(domain.RoleCashier)
}

func registerSaree(t *testing.T, svc *service.Service, manager domain.Actor, name string, price int64, stock int) domain.Saree {
	t.Helper()
	saree, err := svc.RegisterSaree(service.WithActor(context.Background(), manager), domain.SareeCreateRequest{
		ShopID:       manager.ShopID,
		Name:         name,
		Price:        decimal.NewFromInt(price),
		OpeningStock: stock,
	})
	require.NoError(t, err, "register saree")
	return saree
}

func stockOf(t *testing.T, s *Store, sareeID int64) int {
	t.Helper()
	saree, err := s.GetSaree(context.Background(), sareeID)
	require.NoError(t, err, "get saree")
	return saree.StockQuantity
}

func TestConcurrentBillsNeverOversell(t *testing.T) {
	s := openTestStore(t)
	shop, manager, cashier := seedShop(t, s)
	svc := service.New(s, service.Options{})
	saree := registerSaree(t, svc, manager, "IT Banarasi", 100, 10)

	const workers = 8
	var ok atomic.Int32
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := svc.CreateBill(service.WithActor(context.Background(), cashier), domain.CreateBillRequest{
				ShopID:        shop.ID,
				Items:         []domain.BillLineRequest{{SareeID: saree.ID, Quantity: 3}},
				PaymentMethod: "Cash",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrBusy):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stock := stockOf(t, s, saree.ID)
	assert.GreaterOrEqual(t, stock, 0)
	assert.LessOrEqual(t, ok.Load(), int32(3))
	assert.Equal(t, 10-3*int(ok.Load()), stock)

	sum, err := s.SumMovements(context.Background(), saree.ID)
	require.NoError(t, err)
	assert.Equal(t, stock, sum, "ledger sum")
}

func TestDeleteBillRestocksAndCascades(t *testing.T) {
	s := openTestStore(t)
	shop, manager, cashier := seedShop(t, s)
	svc := service.New(s, service.Options{})
	saree := registerSaree(t, svc, manager, "IT Chanderi", 250, 5)

	bill, err := svc.CreateBill(service.WithActor(context.Background(), cashier), domain.CreateBillRequest{
		ShopID:           shop.ID,
		Items:            []domain.BillLineRequest{{SareeID: saree.ID, Quantity: 3}},
		PaymentMethod:    "UPI",
		PaymentReference: "UPI-IT-1",
		AmountPaid:       decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BillPartial, bill.Status)
	assert.True(t, bill.TotalAmount.Equal(decimal.NewFromInt(825)), "total %s", bill.TotalAmount)

	require.NoError(t, svc.DeleteBill(service.WithActor(context.Background(), manager), bill.BillID))
	assert.Equal(t, 5, stockOf(t, s, saree.ID))

	_, err = s.GetBill(context.Background(), bill.BillID)
	require.ErrorIs(t, err, store.ErrNotFound)
	payments, err := s.ListPayments(context.Background(), bill.BillID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestSinglePendingEditRequestPerBill(t *testing.T) {
	s := openTestStore(t)
	shop, manager, cashier := seedShop(t, s)
	svc := service.New(s, service.Options{})
	saree := registerSaree(t, svc, manager, "IT Paithani", 90, 2)

	cashierCtx := service.WithActor(context.Background(), cashier)
	bill, err := svc.CreateBill(cashierCtx, domain.CreateBillRequest{
		ShopID:        shop.ID,
		Items:         []domain.BillLineRequest{{SareeID: saree.ID, Quantity: 1}},
		PaymentMethod: "Cash",
	})
	require.NoError(t, err)

	var created, conflicts atomic.Int32
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := svc.RequestEditApproval(cashierCtx, bill.BillID, domain.EditApprovalRequest{Reason: "fix qty"})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, store.ErrConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(3), conflicts.Load())
}

func TestFailedEditRollsBackApprovalAndStock(t *testing.T) {
	s := openTestStore(t)
	shop, manager, cashier := seedShop(t, s)
	svc := service.New(s, service.Options{})
	saree := registerSaree(t, svc, manager, "IT Kanjeevaram", 100, 10)

	cashierCtx := service.WithActor(context.Background(), cashier)
	bill, err := svc.CreateBill(cashierCtx, domain.CreateBillRequest{
		ShopID:        shop.ID,
		Items:         []domain.BillLineRequest{{SareeID: saree.ID, Quantity: 2}},
		PaymentMethod: "Cash",
	})
	require.NoError(t, err)
	req, err := svc.RequestEditApproval(cashierCtx, bill.BillID, domain.EditApprovalRequest{Reason: "wrong quantity"})
	require.NoError(t, err)
	_, err = svc.RespondToRequest(service.WithActor(context.Background(), manager), req.ID, domain.EditDecisionRequest{Decision: "APPROVE"})
	require.NoError(t, err)

	_, err = svc.UpdateBillFull(cashierCtx, bill.BillID, domain.UpdateBillRequest{Items: []domain.BillLineRequest{{SareeID: saree.ID, Quantity: 99}}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	state, err := svc.LatestEditRequest(cashierCtx, bill.BillID)
	require.NoError(t, err)
	assert.Equal(t, domain.EditApproved, state.Status)
	assert.Equal(t, 8, stockOf(t, s, saree.ID))

	resp, err := svc.UpdateBillFull(cashierCtx, bill.BillID, domain.UpdateBillRequest{Items: []domain.BillLineRequest{{SareeID: saree.ID, Quantity: 4}}})
	require.NoError(t, err)
	assert.True(t, resp.Subtotal.Equal(decimal.NewFromInt(400)), "subtotal %s", resp.Subtotal)
	assert.Equal(t, 6, stockOf(t, s, saree.ID))

	state, err = svc.LatestEditRequest(cashierCtx, bill.BillID)
	require.NoError(t, err)
	assert.Equal(t, domain.EditUsed, state.Status)
}

func TestBillDetailAndPaging(t *testing.T) {
	s := openTestStore(t)
	shop, manager, cashier := seedShop(t, s)
	svc := service.New(s, service.Options{})
	saree := registerSaree(t, svc, manager, "IT Tussar", 100, 5)

	cashierCtx := service.WithActor(context.Background(), cashier)
	ids := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		bill, err := svc.CreateBill(cashierCtx, domain.CreateBillRequest{
			ShopID:        shop.ID,
			Items:         []domain.BillLineRequest{{SareeID: saree.ID, Quantity: 1}},
			PaymentMethod: "Cash",
			AmountPaid:    decimal.NewFromInt(50),
		})
		require.NoError(t, err)
		ids = append(ids, bill.BillID)
	}

	detail, err := s.GetBillDetail(context.Background(), ids[0])
	require.NoError(t, err)
	assert.True(t, detail.TaxPercentage.Equal(decimal.NewFromInt(10)))
	assert.Len(t, detail.Items, 1)
	assert.Len(t, detail.Payments, 1)

	page, err := s.ListBillsByShop(context.Background(), shop.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	rest, err := s.ListBillsByShop(context.Background(), shop.ID, page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)
}
