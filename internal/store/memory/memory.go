package memory

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/store"
)

// Store is an in-process Repository. WithTx runs against a private copy of
// the dataset and swaps it in on success, so a failed unit of work leaves no
// trace.
type Store struct {
	mu   sync.RWMutex
	data *dataset
}

type dataset struct {
	seq int64

	shops       map[int64]domain.Shop
	customers   map[int64]domain.Customer
	suppliers   map[int64]domain.Supplier
	users       map[int64]domain.UserAccount
	sarees      map[int64]domain.Saree
	movements   []domain.StockMovement
	bills       map[int64]domain.Bill
	billItems   map[int64][]domain.BillItem
	payments    map[int64][]domain.Payment
	edits       map[int64]domain.EditRequest
	orders      map[int64]domain.PurchaseOrder
	orderItemPO map[int64]int64
	auditLogs   []domain.AuditLog
}

func newDataset() *dataset {
	return &dataset{
		shops:       make(map[int64]domain.Shop),
		customers:   make(map[int64]domain.Customer),
		suppliers:   make(map[int64]domain.Supplier),
		users:       make(map[int64]domain.UserAccount),
		sarees:      make(map[int64]domain.Saree),
		movements:   make([]domain.StockMovement, 0, 64),
		bills:       make(map[int64]domain.Bill),
		billItems:   make(map[int64][]domain.BillItem),
		payments:    make(map[int64][]domain.Payment),
		edits:       make(map[int64]domain.EditRequest),
		orders:      make(map[int64]domain.PurchaseOrder),
		orderItemPO: make(map[int64]int64),
		auditLogs:   make([]domain.AuditLog, 0, 64),
	}
}

func (d *dataset) nextID() int64 {
	d.seq++
	return d.seq
}

func (d *dataset) clone() *dataset {
	dup := &dataset{
		seq:         d.seq,
		shops:       cloneMap(d.shops),
		customers:   cloneMap(d.customers),
		suppliers:   cloneMap(d.suppliers),
		users:       cloneMap(d.users),
		sarees:      cloneMap(d.sarees),
		movements:   slices.Clone(d.movements),
		bills:       make(map[int64]domain.Bill, len(d.bills)),
		billItems:   make(map[int64][]domain.BillItem, len(d.billItems)),
		payments:    make(map[int64][]domain.Payment, len(d.payments)),
		edits:       cloneMap(d.edits),
		orders:      make(map[int64]domain.PurchaseOrder, len(d.orders)),
		orderItemPO: cloneMap(d.orderItemPO),
		auditLogs:   slices.Clone(d.auditLogs),
	}
	for id, bill := range d.bills {
		dup.bills[id] = bill
	}
	for id, items := range d.billItems {
		dup.billItems[id] = slices.Clone(items)
	}
	for id, payments := range d.payments {
		dup.payments[id] = slices.Clone(payments)
	}
	for id, po := range d.orders {
		dup.orders[id] = clonePurchaseOrder(po)
	}
	return dup
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dup := make(map[K]V, len(src))
	for k, v := range src {
		dup[k] = v
	}
	return dup
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newDataset()}
}

// NewSeeded returns a store holding one demo shop with an owner, a manager,
// a cashier, a handful of sarees, a walk-in customer and a supplier.
// Passwords come from SEED_OWNER_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD, falling back to dev defaults.
func NewSeeded() *Store {
	s := New()
	d := s.data
	now := time.Now().UTC()

	passwords := map[string]string{
		domain.RoleOwner:   envOr("SEED_OWNER_PASSWORD", "owner123"),
		domain.RoleManager: envOr("SEED_MANAGER_PASSWORD", "manager123"),
		domain.RoleCashier: envOr("SEED_CASHIER_PASSWORD", "cashier123"),
	}
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials", slog.String("override", "SEED_OWNER_PASSWORD, SEED_MANAGER_PASSWORD, SEED_CASHIER_PASSWORD"))
	}

	shop := domain.Shop{
		ID:            d.nextID(),
		Name:          "Lakshmi Silks",
		City:          "Chennai",
		State:         "Tamil Nadu",
		TaxPercentage: decimal.NewFromInt(5),
		CreatedAt:     now,
	}

	for _, u := range []struct {
		username string
		fullName string
		role     string
	}{
		{"owner", "Shop Owner", domain.RoleOwner},
		{"manager", "Floor Manager", domain.RoleManager},
		{"cashier", "Counter Cashier", domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(passwords[u.role]), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("memory store failed to hash seed password", slog.String("username", u.username), slog.Any("error", err))
			os.Exit(1)
		}
		user := domain.UserAccount{
			ID:        d.nextID(),
			Username:  u.username,
			Password:  string(hash),
			FullName:  u.fullName,
			Role:      u.role,
			ShopID:    shop.ID,
			Active:    true,
			CreatedAt: now,
		}
		d.users[user.ID] = user
		if u.role == domain.RoleOwner {
			shop.OwnerID = user.ID
		}
	}
	d.shops[shop.ID] = shop

	for _, seed := range []struct {
		name   string
		kind   string
		color  string
		price  string
		opened int
	}{
		{"Kanchipuram Pattu", "silk", "maroon", "12500.00", 8},
		{"Banarasi Katan", "silk", "gold", "9800.00", 6},
		{"Chettinad Cotton", "cotton", "mustard", "1450.00", 25},
		{"Mysore Crepe", "crepe", "emerald", "5200.00", 10},
		{"Chanderi Handloom", "cotton-silk", "peach", "3100.00", 15},
	} {
		saree := domain.Saree{
			ID:            d.nextID(),
			ShopID:        shop.ID,
			Name:          seed.name,
			Type:          seed.kind,
			Color:         seed.color,
			Price:         decimal.RequireFromString(seed.price),
			StockQuantity: seed.opened,
			CreatedAt:     now,
		}
		d.sarees[saree.ID] = saree
		d.movements = append(d.movements, domain.StockMovement{
			ID:             d.nextID(),
			ShopID:         shop.ID,
			SareeID:        saree.ID,
			SourceType:     domain.MovementAdjustmentIn,
			QuantityChange: seed.opened,
			Note:           "opening stock",
			CreatedAt:      now,
		})
	}

	customer := domain.Customer{ID: d.nextID(), ShopID: shop.ID, Name: "Walk-in Customer", CreatedAt: now}
	d.customers[customer.ID] = customer
	supplier := domain.Supplier{ID: d.nextID(), ShopID: shop.ID, Name: "Kanchi Weavers Co-op", Email: "orders@kanchiweavers.example", CreatedAt: now}
	d.suppliers[supplier.ID] = supplier

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &memTx{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) CreateShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop.Name = strings.TrimSpace(shop.Name)
	if shop.Name == "" || shop.TaxPercentage.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	shop.ID = s.data.nextID()
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}
	s.data.shops[shop.ID] = shop
	return &shop, nil
}

func (s *Store) GetShop(_ context.Context, shopID int64) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getShop(s.data, shopID)
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.data.shops[customer.ShopID]; !ok {
		return nil, store.ErrNotFound
	}
	customer.ID = s.data.nextID()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.data.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.data.shops[supplier.ShopID]; !ok {
		return nil, store.ErrNotFound
	}
	supplier.ID = s.data.nextID()
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.data.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) GetSupplier(_ context.Context, supplierID int64) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSupplier(s.data, supplierID)
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.data.users {
		if existing.Username == user.Username {
			return nil, store.ErrConflict
		}
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	user.ID = s.data.nextID()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.data.users[user.ID] = user
	return &user, nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.data.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username = strings.ToLower(strings.TrimSpace(username))
	for _, user := range s.data.users {
		if user.Username == username {
			copyUser := user
			return &copyUser, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSaree(_ context.Context, sareeID int64) (*domain.Saree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saree, ok := s.data.sarees[sareeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &saree, nil
}

// ListMovements returns the newest movements first.
func (s *Store) ListMovements(_ context.Context, sareeID int64, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	for i := len(s.data.movements) - 1; i >= 0; i-- {
		m := s.data.movements[i]
		if m.SareeID != sareeID {
			continue
		}
		result = append(result, m)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) SumMovements(_ context.Context, sareeID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, m := range s.data.movements {
		if m.SareeID == sareeID {
			total += m.QuantityChange
		}
	}
	return total, nil
}

func (s *Store) GetBill(_ context.Context, billID int64) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.data.bills[billID]
	if !ok {
		return nil, store.ErrNotFound
	}
	bill.CashierName = cashierName(s.data, bill.UserID)
	bill.Items = billItemsWithNames(s.data, billID)
	return &bill, nil
}

func (s *Store) GetBillDetail(_ context.Context, billID int64) (*domain.BillDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.data.bills[billID]
	if !ok {
		return nil, store.ErrNotFound
	}
	shop, err := getShop(s.data, bill.ShopID)
	if err != nil {
		return nil, err
	}
	bill.CashierName = cashierName(s.data, bill.UserID)
	return &domain.BillDetail{
		Bill:          bill,
		TaxPercentage: shop.TaxPercentage,
		Items:         billItemsWithNames(s.data, billID),
		Payments:      sortedPayments(s.data, billID),
	}, nil
}

// ListBillsByShop returns the newest bills first, without items. Ids grow
// with creation time, so id order is the page order.
func (s *Store) ListBillsByShop(_ context.Context, shopID int64, beforeID int64, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0)
	for _, bill := range s.data.bills {
		if bill.ShopID != shopID || (beforeID > 0 && bill.ID >= beforeID) {
			continue
		}
		bill.CashierName = cashierName(s.data, bill.UserID)
		bills = append(bills, bill)
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		return cmpInt64(b.ID, a.ID)
	})
	if limit > 0 && len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (s *Store) ListBillItems(_ context.Context, billID int64) ([]domain.BillItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return billItemsWithNames(s.data, billID), nil
}

func (s *Store) ListPayments(_ context.Context, billID int64) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPayments(s.data, billID), nil
}

func sortedPayments(d *dataset, billID int64) []domain.Payment {
	payments := slices.Clone(d.payments[billID])
	if payments == nil {
		payments = []domain.Payment{}
	}
	slices.SortStableFunc(payments, func(a, b domain.Payment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	return payments
}

func (s *Store) GetEditRequest(_ context.Context, requestID int64) (*domain.EditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEditRequest(s.data, requestID)
}

func (s *Store) GetLatestEditRequest(_ context.Context, billID int64) (*domain.EditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.EditRequest
	for _, req := range s.data.edits {
		if req.BillID != billID {
			continue
		}
		if latest == nil || req.RequestedAt.After(latest.RequestedAt) || (req.RequestedAt.Equal(latest.RequestedAt) && req.ID > latest.ID) {
			copyReq := req
			latest = &copyReq
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, poID int64) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, err := getPurchaseOrder(s.data, poID)
	if err != nil {
		return nil, err
	}
	for i := range po.Items {
		po.Items[i].SareeName = s.data.sarees[po.Items[i].SareeID].Name
	}
	return po, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAuditLog(s.data, entry)
}

func (s *Store) ListAuditLogs(_ context.Context, shopID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0)
	for i := len(s.data.auditLogs) - 1; i >= 0; i-- {
		entry := s.data.auditLogs[i]
		if shopID > 0 && entry.ShopID != shopID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func getShop(d *dataset, shopID int64) (*domain.Shop, error) {
	shop, ok := d.shops[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shop, nil
}

func getSupplier(d *dataset, supplierID int64) (*domain.Supplier, error) {
	supplier, ok := d.suppliers[supplierID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func getEditRequest(d *dataset, requestID int64) (*domain.EditRequest, error) {
	req, ok := d.edits[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &req, nil
}

func getPurchaseOrder(d *dataset, poID int64) (*domain.PurchaseOrder, error) {
	po, ok := d.orders[poID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := clonePurchaseOrder(po)
	return &dup, nil
}

func insertAuditLog(d *dataset, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	d.auditLogs = append(d.auditLogs, entry)
	if len(d.auditLogs) > 5000 {
		d.auditLogs = d.auditLogs[len(d.auditLogs)-5000:]
	}
	return nil
}

func cashierName(d *dataset, userID int64) string {
	user, ok := d.users[userID]
	if !ok {
		return ""
	}
	if user.FullName != "" {
		return user.FullName
	}
	return user.Username
}

func billItemsWithNames(d *dataset, billID int64) []domain.BillItem {
	items := slices.Clone(d.billItems[billID])
	if items == nil {
		return []domain.BillItem{}
	}
	for i := range items {
		items[i].SareeName = d.sarees[items[i].SareeID].Name
	}
	return items
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
