package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the pool and verifies connectivity. lockTimeout bounds how long
// a unit of work waits for a row lock before failing with store.ErrBusy.
func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, lockTimeout: lockTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if s.lockTimeout > 0 {
		if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return mapError(err)
		}
	}

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	return mapError(sqlTx.Commit())
}

func (s *Store) CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	shop.Name = strings.TrimSpace(shop.Name)
	if shop.Name == "" || shop.TaxPercentage.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	var ownerID any
	if shop.OwnerID > 0 {
		ownerID = shop.OwnerID
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shops (owner_id, name, address_line, city, state, pincode, tax_percentage, secret_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, ownerID, shop.Name, nullIfEmpty(shop.AddressLine), nullIfEmpty(shop.City), nullIfEmpty(shop.State),
		nullIfEmpty(shop.Pincode), shop.TaxPercentage, nullIfEmpty(shop.SecretCode)).Scan(&shop.ID, &shop.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	shop.CreatedAt = shop.CreatedAt.UTC()
	return &shop, nil
}

func (s *Store) GetShop(ctx context.Context, shopID int64) (*domain.Shop, error) {
	return getShop(ctx, s.db, shopID)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (shop_id, name, phone, email)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, customer.ShopID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email)).Scan(&customer.ID, &customer.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidInput
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO suppliers (shop_id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, supplier.ShopID, supplier.Name, nullIfEmpty(supplier.Email), nullIfEmpty(supplier.Phone)).Scan(&supplier.ID, &supplier.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

func (s *Store) GetSupplier(ctx context.Context, supplierID int64) (*domain.Supplier, error) {
	return getSupplier(ctx, s.db, supplierID)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	var shopID any
	if user.ShopID > 0 {
		shopID = user.ShopID
	}
	user.Active = true
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password, full_name, role, shop_id, active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING id, created_at
	`, user.Username, user.Password, user.FullName, user.Role, shopID).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*domain.UserAccount, error) {
	return s.getUser(ctx, "id = $1", userID)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	return s.getUser(ctx, "username = $1", strings.ToLower(strings.TrimSpace(username)))
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*domain.UserAccount, error) {
	var user domain.UserAccount
	var shopID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, full_name, role, shop_id, active, created_at
		FROM users
		WHERE `+where, arg).Scan(
		&user.ID, &user.Username, &user.Password, &user.FullName, &user.Role, &shopID, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	user.ShopID = shopID.Int64
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) GetSaree(ctx context.Context, sareeID int64) (*domain.Saree, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sareeColumns+` FROM sarees WHERE id = $1`, sareeID)
	saree, err := scanSaree(row)
	if err != nil {
		return nil, mapError(err)
	}
	return &saree, nil
}

func (s *Store) ListMovements(ctx context.Context, sareeID int64, limit int) ([]domain.StockMovement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, saree_id, source_type, source_id, quantity_change, unit_value, COALESCE(note, ''), created_at
		FROM stock_movements
		WHERE saree_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, sareeID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		var sourceID sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ShopID, &m.SareeID, &m.SourceType, &sourceID, &m.QuantityChange, &m.UnitValue, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		if sourceID.Valid {
			id := sourceID.Int64
			m.SourceID = &id
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) SumMovements(ctx context.Context, sareeID int64) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity_change), 0) FROM stock_movements WHERE saree_id = $1
	`, sareeID).Scan(&total)
	if err != nil {
		return 0, mapError(err)
	}
	return total, nil
}

func (s *Store) GetBill(ctx context.Context, billID int64) (*domain.Bill, error) {
	return getBill(ctx, s.db, billID)
}

// GetBillDetail runs its reads in one read-only repeatable-read transaction
// so the header and the payments agree with each other.
func (s *Store) GetBillDetail(ctx context.Context, billID int64) (*domain.BillDetail, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	bill, err := getBill(ctx, sqlTx, billID)
	if err != nil {
		return nil, err
	}
	shop, err := getShop(ctx, sqlTx, bill.ShopID)
	if err != nil {
		return nil, err
	}
	payments, err := listPayments(ctx, sqlTx, billID)
	if err != nil {
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, mapError(err)
	}

	items := bill.Items
	bill.Items = nil
	return &domain.BillDetail{
		Bill:          *bill,
		TaxPercentage: shop.TaxPercentage,
		Items:         items,
		Payments:      payments,
	}, nil
}

func getBill(ctx context.Context, q queryer, billID int64) (*domain.Bill, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+billColumns+`, COALESCE(NULLIF(u.full_name, ''), u.username, '')
		FROM bills b
		LEFT JOIN users u ON u.id = b.user_id
		WHERE b.id = $1
	`, billID)
	bill, err := scanBill(row, true)
	if err != nil {
		return nil, mapError(err)
	}
	items, err := listBillItems(ctx, q, billID, false)
	if err != nil {
		return nil, err
	}
	bill.Items = items
	return &bill, nil
}

// ListBillsByShop pages by id, which is assigned in creation order.
func (s *Store) ListBillsByShop(ctx context.Context, shopID int64, beforeID int64, limit int) ([]domain.Bill, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+billColumns+`, COALESCE(NULLIF(u.full_name, ''), u.username, '')
		FROM bills b
		LEFT JOIN users u ON u.id = b.user_id
		WHERE b.shop_id = $1 AND ($2::bigint = 0 OR b.id < $2::bigint)
		ORDER BY b.id DESC
		LIMIT $3
	`, shopID, beforeID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, limit)
	for rows.Next() {
		bill, err := scanBill(rows, true)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) ListBillItems(ctx context.Context, billID int64) ([]domain.BillItem, error) {
	return listBillItems(ctx, s.db, billID, false)
}

func (s *Store) ListPayments(ctx context.Context, billID int64) ([]domain.Payment, error) {
	return listPayments(ctx, s.db, billID)
}

func listPayments(ctx context.Context, q queryer, billID int64) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, bill_id, method, COALESCE(reference, ''), amount, created_at
		FROM payments
		WHERE bill_id = $1
		ORDER BY created_at, id
	`, billID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Method, &p.Reference, &p.Amount, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) GetEditRequest(ctx context.Context, requestID int64) (*domain.EditRequest, error) {
	return getEditRequest(ctx, s.db, "id = $1", "", requestID)
}

func (s *Store) GetLatestEditRequest(ctx context.Context, billID int64) (*domain.EditRequest, error) {
	return getEditRequest(ctx, s.db, "bill_id = $1 ORDER BY requested_at DESC, id DESC LIMIT 1", "", billID)
}

func (s *Store) GetPurchaseOrder(ctx context.Context, poID int64) (*domain.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, s.db, poID, false)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return insertAuditLog(ctx, s.db, entry)
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(shop_id, 0), COALESCE(actor_id, 0), actor_username, actor_role, action,
			entity_type, entity_id, COALESCE(detail, ''), created_at
		FROM audit_logs
		WHERE ($1::bigint = 0 OR shop_id = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, shopID, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.ActorID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// mapError translates driver errors into store sentinels. Errors that are
// already sentinels pass through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrBusy, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.ConstraintName)
		case "55P03", "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrBusy, pgErr.Message)
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func nullTimePtr(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullID(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
