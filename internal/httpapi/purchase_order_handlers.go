package httpapi

import (
	"net/http"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/service"
)

func (a *API) handleCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseOrderCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ShopID == 0 {
		actor, _ := service.ActorFromContext(r.Context())
		req.ShopID = actor.ShopID
	}
	resp, err := a.service.CreatePurchaseOrder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, ok := pathID(w, r, "poID")
	if !ok {
		return
	}
	po, err := a.service.GetPurchaseOrder(r.Context(), poID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleSetPurchaseOrderItems(w http.ResponseWriter, r *http.Request) {
	poID, ok := pathID(w, r, "poID")
	if !ok {
		return
	}
	var req domain.PurchaseOrderItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.service.SetPurchaseOrderItems(r.Context(), poID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "purchase_order": resp.PurchaseOrder})
}

func (a *API) handleSubmitPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, ok := pathID(w, r, "poID")
	if !ok {
		return
	}
	resp, err := a.service.SubmitPurchaseOrder(r.Context(), poID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "purchase_order": resp.PurchaseOrder})
}

func (a *API) handleReceivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, ok := pathID(w, r, "poID")
	if !ok {
		return
	}
	var req domain.ReceiveItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.service.ReceiveItems(r.Context(), poID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
