package httpapi

import (
	"net/http"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/service"
)

func (a *API) handleRegisterSaree(w http.ResponseWriter, r *http.Request) {
	var req domain.SareeCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ShopID == 0 {
		actor, _ := service.ActorFromContext(r.Context())
		req.ShopID = actor.ShopID
	}
	saree, err := a.service.RegisterSaree(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"saree": saree})
}

func (a *API) handleStockLedger(w http.ResponseWriter, r *http.Request) {
	sareeID, ok := pathID(w, r, "sareeID")
	if !ok {
		return
	}
	view, err := a.service.StockLedger(r.Context(), sareeID, parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	sareeID, ok := pathID(w, r, "sareeID")
	if !ok {
		return
	}
	var req domain.StockAdjustmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.service.AdjustStock(r.Context(), sareeID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
