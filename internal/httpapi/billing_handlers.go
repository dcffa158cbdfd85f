package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/service"
)

func (a *API) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBillRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ShopID == 0 {
		actor, _ := service.ActorFromContext(r.Context())
		req.ShopID = actor.ShopID
	}

	summary, err := a.service.CreateBill(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (a *API) handleGetBill(w http.ResponseWriter, r *http.Request) {
	billID, ok := pathID(w, r, "billID")
	if !ok {
		return
	}
	detail, err := a.service.GetBill(r.Context(), billID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleListBills(w http.ResponseWriter, r *http.Request) {
	shopID, ok := pathID(w, r, "shopID")
	if !ok {
		return
	}
	var beforeID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("before_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION", "before_id must be a positive integer")
			return
		}
		beforeID = parsed
	}
	bills, err := a.service.ListBillsByShop(r.Context(), shopID, beforeID, parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

func (a *API) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	billID, ok := pathID(w, r, "billID")
	if !ok {
		return
	}
	var req domain.AddPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.service.AddPayment(r.Context(), billID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUpdateBillFull(w http.ResponseWriter, r *http.Request) {
	billID, ok := pathID(w, r, "billID")
	if !ok {
		return
	}
	var req domain.UpdateBillRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.service.UpdateBillFull(r.Context(), billID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	billID, ok := pathID(w, r, "billID")
	if !ok {
		return
	}
	if err := a.service.DeleteBill(r.Context(), billID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleRequestEdit(w http.ResponseWriter, r *http.Request) {
	billID, ok := pathID(w, r, "billID")
	if !ok {
		return
	}
	var req domain.EditApprovalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	created, err := a.service.RequestEditApproval(r.Context(), billID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "request": created})
}

func (a *API) handleLatestEditRequest(w http.ResponseWriter, r *http.Request) {
	billID, ok := pathID(w, r, "billID")
	if !ok {
		return
	}
	state, err := a.service.LatestEditRequest(r.Context(), billID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handleRespondEditRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	var req domain.EditDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := a.service.RespondToRequest(r.Context(), requestID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "request": updated})
}
