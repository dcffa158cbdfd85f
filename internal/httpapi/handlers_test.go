package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/service"
	"sareebill/backend/internal/store/memory"
)

type testAPI struct {
	api  *API
	repo *memory.Store
	svc  *service.Service
}

// newTestAPI builds a full API with a seeded in-memory store, real
// AuthManager and real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{Logger: logger})
	auth := NewAuthManager("test-secret-key-test-secret-key!", time.Hour, repo)
	t.Cleanup(svc.Wait)

	return &testAPI{api: New(svc, auth, "*", logger), repo: repo, svc: svc}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.api.Handler().ServeHTTP(rec, req)
	return rec
}

// expectStatus fails the test with the response body when the code differs.
func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
}

func (ta *testAPI) login(t *testing.T, username, password string) domain.LoginResponse {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	expectStatus(t, rec, http.StatusOK)
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	return resp
}

func (ta *testAPI) registerSaree(t *testing.T, token string, name string, price int64, stock int) domain.Saree {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/api/v1/inventory", token, domain.SareeCreateRequest{
		Name:         name,
		Price:        decimal.NewFromInt(price),
		OpeningStock: stock,
	})
	expectStatus(t, rec, http.StatusCreated)
	var body struct {
		Saree domain.Saree `json:"saree"`
	}
	decodeBody(t, rec, &body)
	return body.Saree
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest), "decode body")
}

func expectReason(t *testing.T, rec *httptest.ResponseRecorder, status int, reason string) {
	t.Helper()
	expectStatus(t, rec, status)
	var body errorResponse
	decodeBody(t, rec, &body)
	require.Equal(t, reason, body.Reason, "error: %s", body.Error)
}

func TestHandleHealth(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/healthz", "", nil)

	expectStatus(t, rec, http.StatusOK)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["ok"])
}

func TestBillingRoutesRequireBearerToken(t *testing.T) {
	ta := newTestAPI(t)

	expectReason(t, ta.do(t, http.MethodGet, "/api/v1/billing/1", "", nil), http.StatusUnauthorized, "UNAUTHORIZED")
	expectReason(t, ta.do(t, http.MethodGet, "/api/v1/billing/1", "not-a-jwt", nil), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestBillLifecycleOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	manager := ta.login(t, "manager", "manager123")
	cashier := ta.login(t, "cashier", "cashier123")
	saree := ta.registerSaree(t, manager.AccessToken, "Test Banarasi", 100, 5)

	rec := ta.do(t, http.MethodPost, "/api/v1/billing", cashier.AccessToken, map[string]any{
		"items":          []map[string]any{{"saree_id": saree.ID, "quantity": 3}},
		"payment_method": "Cash",
		"amount_paid":    100,
	})
	expectStatus(t, rec, http.StatusCreated)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	// Seeded shop charges 5%.
	assert.Equal(t, 315.0, raw["total_amount"])
	assert.Equal(t, "PARTIAL", raw["status"])
	billID := int64(raw["bill_id"].(float64))
	billPath := "/api/v1/billing/" + itoa(billID)

	rec = ta.do(t, http.MethodGet, billPath, cashier.AccessToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var detail domain.BillDetail
	decodeBody(t, rec, &detail)
	assert.Len(t, detail.Items, 1)
	assert.True(t, detail.Due.Equal(decimal.NewFromInt(215)), "due %s", detail.Due)

	rec = ta.do(t, http.MethodPost, billPath+"/payments", cashier.AccessToken, map[string]any{"amount": 215, "method": "UPI", "reference": "UPI-123"})
	expectStatus(t, rec, http.StatusOK)
	var payment domain.AddPaymentResponse
	decodeBody(t, rec, &payment)
	assert.Equal(t, domain.BillPaid, payment.Status)

	rec = ta.do(t, http.MethodGet, "/api/v1/billing/shop/"+itoa(cashier.ShopID), cashier.AccessToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var list domain.BillListResponse
	decodeBody(t, rec, &list)
	require.Len(t, list.Bills, 1)
	assert.Equal(t, billID, list.Bills[0].ID)
	assert.Zero(t, list.NextBeforeID)

	expectReason(t, ta.do(t, http.MethodDelete, billPath, cashier.AccessToken, nil), http.StatusForbidden, "FORBIDDEN")

	expectStatus(t, ta.do(t, http.MethodDelete, billPath, manager.AccessToken, nil), http.StatusOK)
	got, err := ta.repo.GetSaree(context.Background(), saree.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
	expectReason(t, ta.do(t, http.MethodGet, billPath, manager.AccessToken, nil), http.StatusNotFound, "NOT_FOUND")
}

func TestListBillsPagesWithBeforeID(t *testing.T) {
	ta := newTestAPI(t)
	manager := ta.login(t, "manager", "manager123")
	cashier := ta.login(t, "cashier", "cashier123")
	saree := ta.registerSaree(t, manager.AccessToken, "Test Kota", 100, 5)

	for i := 0; i < 3; i++ {
		expectStatus(t, ta.do(t, http.MethodPost, "/api/v1/billing", cashier.AccessToken, map[string]any{
			"items":          []map[string]any{{"saree_id": saree.ID, "quantity": 1}},
			"payment_method": "Cash",
		}), http.StatusCreated)
	}
	listPath := "/api/v1/billing/shop/" + itoa(cashier.ShopID)

	rec := ta.do(t, http.MethodGet, listPath+"?limit=2", cashier.AccessToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var first domain.BillListResponse
	decodeBody(t, rec, &first)
	require.Len(t, first.Bills, 2)
	require.Equal(t, first.Bills[1].ID, first.NextBeforeID)

	rec = ta.do(t, http.MethodGet, listPath+"?limit=2&before_id="+itoa(first.NextBeforeID), cashier.AccessToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var second domain.BillListResponse
	decodeBody(t, rec, &second)
	require.Len(t, second.Bills, 1)
	assert.Less(t, second.Bills[0].ID, first.Bills[1].ID)
	assert.Zero(t, second.NextBeforeID)

	expectReason(t, ta.do(t, http.MethodGet, listPath+"?before_id=abc", cashier.AccessToken, nil), http.StatusBadRequest, "VALIDATION")
}

func TestCreateBillErrorsOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	manager := ta.login(t, "manager", "manager123")
	cashier := ta.login(t, "cashier", "cashier123")
	saree := ta.registerSaree(t, manager.AccessToken, "Test Chiffon", 100, 2)

	expectReason(t, ta.do(t, http.MethodPost, "/api/v1/billing", cashier.AccessToken, map[string]any{
		"items":          []map[string]any{{"saree_id": saree.ID, "quantity": 3}},
		"payment_method": "Cash",
	}), http.StatusConflict, "INSUFFICIENT_STOCK")

	expectReason(t, ta.do(t, http.MethodPost, "/api/v1/billing", cashier.AccessToken, map[string]any{
		"items":          []map[string]any{},
		"payment_method": "Cash",
	}), http.StatusBadRequest, "VALIDATION")

	expectReason(t, ta.do(t, http.MethodPost, "/api/v1/billing", cashier.AccessToken, map[string]any{
		"items":          []map[string]any{{"saree_id": saree.ID, "quantity": 1}},
		"payment_method": "Cash",
		"unknown_field":  true,
	}), http.StatusBadRequest, "VALIDATION")

	expectReason(t, ta.do(t, http.MethodGet, "/api/v1/billing/abc", cashier.AccessToken, nil), http.StatusBadRequest, "VALIDATION")
	expectReason(t, ta.do(t, http.MethodGet, "/api/v1/billing/shop/999", cashier.AccessToken, nil), http.StatusForbidden, "FORBIDDEN")
}

func TestEditApprovalOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	manager := ta.login(t, "manager", "manager123")
	cashier := ta.login(t, "cashier", "cashier123")
	saree := ta.registerSaree(t, manager.AccessToken, "Test Georgette", 100, 10)

	rec := ta.do(t, http.MethodPost, "/api/v1/billing", cashier.AccessToken, map[string]any{
		"items":          []map[string]any{{"saree_id": saree.ID, "quantity": 2}},
		"payment_method": "Cash",
	})
	var summary domain.BillSummary
	decodeBody(t, rec, &summary)
	billPath := "/api/v1/billing/" + itoa(summary.BillID)
	edit := map[string]any{"items": []map[string]any{{"saree_id": saree.ID, "quantity": 4}}, "discount": 0}

	expectReason(t, ta.do(t, http.MethodPut, billPath+"/full", cashier.AccessToken, edit), http.StatusForbidden, "APPROVAL_REQUIRED")

	rec = ta.do(t, http.MethodPost, billPath+"/edit-requests", cashier.AccessToken, map[string]any{"reason": "customer added two"})
	expectStatus(t, rec, http.StatusCreated)
	var created struct {
		OK      bool               `json:"ok"`
		Request domain.EditRequest `json:"request"`
	}
	decodeBody(t, rec, &created)

	expectReason(t, ta.do(t, http.MethodPost, billPath+"/edit-requests", cashier.AccessToken, map[string]any{"reason": "again"}), http.StatusConflict, "CONFLICT")

	rec = ta.do(t, http.MethodGet, billPath+"/edit-requests/latest", cashier.AccessToken, nil)
	var state domain.EditRequestState
	decodeBody(t, rec, &state)
	assert.Equal(t, domain.EditPending, state.Status)

	respondPath := "/api/v1/billing/edit-requests/" + itoa(created.Request.ID) + "/respond"
	expectReason(t, ta.do(t, http.MethodPost, respondPath, cashier.AccessToken, map[string]any{"decision": "APPROVE"}), http.StatusForbidden, "FORBIDDEN")

	expectStatus(t, ta.do(t, http.MethodPost, respondPath, manager.AccessToken, map[string]any{"decision": "APPROVE", "note": "ok"}), http.StatusOK)

	rec = ta.do(t, http.MethodPut, billPath+"/full", cashier.AccessToken, edit)
	expectStatus(t, rec, http.StatusOK)
	var updated domain.UpdateBillResponse
	decodeBody(t, rec, &updated)
	assert.True(t, updated.OK)
	assert.True(t, updated.Subtotal.Equal(decimal.NewFromInt(400)), "subtotal %s", updated.Subtotal)

	expectReason(t, ta.do(t, http.MethodPut, billPath+"/full", cashier.AccessToken, edit), http.StatusForbidden, "APPROVAL_REQUIRED")
}

func TestPurchaseOrderOverHTTP(t *testing.T) {
	ta := newTestAPI(t)
	manager := ta.login(t, "manager", "manager123")
	cashier := ta.login(t, "cashier", "cashier123")
	saree := ta.registerSaree(t, manager.AccessToken, "Test Tussar", 100, 0)
	supplier, err := ta.repo.CreateSupplier(context.Background(), domain.Supplier{ShopID: manager.ShopID, Name: "Test Weavers"})
	require.NoError(t, err)

	expectReason(t, ta.do(t, http.MethodPost, "/api/v1/po", cashier.AccessToken, map[string]any{"supplier_id": supplier.ID}), http.StatusForbidden, "FORBIDDEN")

	rec := ta.do(t, http.MethodPost, "/api/v1/po", manager.AccessToken, map[string]any{"supplier_id": supplier.ID})
	expectStatus(t, rec, http.StatusCreated)
	var created domain.PurchaseOrderResponse
	decodeBody(t, rec, &created)
	poPath := "/api/v1/po/" + itoa(created.POID)

	expectStatus(t, ta.do(t, http.MethodPost, poPath+"/items", manager.AccessToken, map[string]any{
		"items": []map[string]any{{"saree_id": saree.ID, "qty_ordered": 10, "unit_cost": 55.5}},
	}), http.StatusOK)

	expectStatus(t, ta.do(t, http.MethodPost, poPath+"/submit", manager.AccessToken, nil), http.StatusOK)
	expectReason(t, ta.do(t, http.MethodPost, poPath+"/submit", manager.AccessToken, nil), http.StatusConflict, "CONFLICT")

	rec = ta.do(t, http.MethodGet, poPath, manager.AccessToken, nil)
	var got struct {
		PurchaseOrder domain.PurchaseOrder `json:"purchase_order"`
	}
	decodeBody(t, rec, &got)
	assert.Equal(t, domain.POOrdered, got.PurchaseOrder.Status)
	require.Len(t, got.PurchaseOrder.Items, 1)

	rec = ta.do(t, http.MethodPost, poPath+"/receive", manager.AccessToken, map[string]any{
		"items": []map[string]any{{"po_item_id": got.PurchaseOrder.Items[0].ID, "qty": 15}},
	})
	expectStatus(t, rec, http.StatusOK)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, true, raw["ok"])
	assert.Equal(t, true, raw["fullyReceived"])

	rec = ta.do(t, http.MethodGet, "/api/v1/inventory/"+itoa(saree.ID)+"/movements", cashier.AccessToken, nil)
	var ledger domain.StockLedgerView
	decodeBody(t, rec, &ledger)
	assert.Equal(t, 10, ledger.Saree.StockQuantity)
	assert.Equal(t, 10, ledger.LedgerQuantity)
}

func TestInventoryAdjustmentsAndAuditLogs(t *testing.T) {
	ta := newTestAPI(t)
	owner := ta.login(t, "owner", "owner123")
	cashier := ta.login(t, "cashier", "cashier123")
	saree := ta.registerSaree(t, owner.AccessToken, "Test Organza", 100, 2)
	adjustPath := "/api/v1/inventory/" + itoa(saree.ID) + "/adjustments"

	expectReason(t, ta.do(t, http.MethodPost, adjustPath, cashier.AccessToken, map[string]any{"direction": "IN", "quantity": 1}), http.StatusForbidden, "FORBIDDEN")
	expectReason(t, ta.do(t, http.MethodPost, adjustPath, owner.AccessToken, map[string]any{"direction": "OUT", "quantity": 3}), http.StatusConflict, "INSUFFICIENT_STOCK")

	rec := ta.do(t, http.MethodPost, adjustPath, owner.AccessToken, map[string]any{"direction": "IN", "quantity": 3, "note": "recount"})
	expectStatus(t, rec, http.StatusCreated)
	var adjusted domain.StockAdjustmentResponse
	decodeBody(t, rec, &adjusted)
	assert.Equal(t, 5, adjusted.StockQuantity)

	expectReason(t, ta.do(t, http.MethodGet, "/api/v1/audit-logs", cashier.AccessToken, nil), http.StatusForbidden, "FORBIDDEN")

	rec = ta.do(t, http.MethodGet, "/api/v1/audit-logs?limit=10", owner.AccessToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var logs struct {
		AuditLogs []domain.AuditLog `json:"audit_logs"`
	}
	decodeBody(t, rec, &logs)
	assert.GreaterOrEqual(t, len(logs.AuditLogs), 2, "saree_create and stock_adjust entries")

	expectReason(t, ta.do(t, http.MethodGet, "/api/v1/audit-logs?date=yesterday", owner.AccessToken, nil), http.StatusBadRequest, "VALIDATION")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
