package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/store/memory"
)

type fixture struct {
	svc      *Service
	repo     *memory.Store
	shop     *domain.Shop
	owner    domain.Actor
	manager  domain.Actor
	cashier  domain.Actor
	cashier2 domain.Actor
	notifier *recordingNotifier
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

type sentMessage struct {
	to, subject, body string
}

func (r *recordingNotifier) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{to: to, subject: subject, body: body})
	return r.err
}

func (r *recordingNotifier) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newFixture builds a shop with a 10% tax rate and one user per role.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()

	shop, err := repo.CreateShop(ctx, domain.Shop{Name: "Test Silks", TaxPercentage: dec("10")})
	require.NoError(t, err)

	actor := func(username, role string) domain.Actor {
		user, err := repo.CreateUser(ctx, domain.UserAccount{Username: username, Password: "x", FullName: username, Role: role, ShopID: shop.ID})
		require.NoError(t, err)
		return domain.Actor{UserID: user.ID, Username: user.Username, Role: user.Role, ShopID: shop.ID}
	}

	notifier := &recordingNotifier{}
	f := &fixture{
		repo:     repo,
		shop:     shop,
		owner:    actor("owner", domain.RoleOwner),
		manager:  actor("manager", domain.RoleManager),
		cashier:  actor("cashier", domain.RoleCashier),
		cashier2: actor("cashier2", domain.RoleCashier),
		notifier: notifier,
	}
	f.svc = New(repo, Options{Notifier: notifier})
	return f
}

func (f *fixture) as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func (f *fixture) saree(t *testing.T, name string, price string, stock int) domain.Saree {
	t.Helper()
	saree, err := f.svc.RegisterSaree(f.as(f.manager), domain.SareeCreateRequest{
		ShopID:       f.shop.ID,
		Name:         name,
		Price:        dec(price),
		OpeningStock: stock,
	})
	require.NoError(t, err)
	return saree
}

func (f *fixture) stock(t *testing.T, sareeID int64) int {
	t.Helper()
	saree, err := f.repo.GetSaree(context.Background(), sareeID)
	require.NoError(t, err)
	return saree.StockQuantity
}

// requireLedgerConsistent checks that the materialized quantity equals the
// movement sum.
func (f *fixture) requireLedgerConsistent(t *testing.T, sareeIDs ...int64) {
	t.Helper()
	for _, id := range sareeIDs {
		sum, err := f.repo.SumMovements(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, f.stock(t, id), sum, "saree %d", id)
	}
}

func (f *fixture) sellCash(t *testing.T, actor domain.Actor, sareeID int64, qty int, paid string) domain.BillSummary {
	t.Helper()
	summary, err := f.svc.CreateBill(f.as(actor), domain.CreateBillRequest{
		ShopID:        f.shop.ID,
		Items:         []domain.BillLineRequest{{SareeID: sareeID, Quantity: qty}},
		PaymentMethod: "Cash",
		AmountPaid:    dec(paid),
	})
	require.NoError(t, err)
	return summary
}
