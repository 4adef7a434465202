package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/transfa/ledger-service/internal/domain"
)

type statusUpdateRequest struct {
	Status string `json:"status"`
}

func purchaseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid purchase request ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *LedgerHandlers) CreatePurchaseRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.NewPurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pr, err := h.service.CreatePurchaseRequest(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, "create_purchase_request", err)
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

func (h *LedgerHandlers) ListPurchaseRequestsHandler(w http.ResponseWriter, r *http.Request) {
	prs, err := h.service.ListPurchaseRequests(r.Context())
	if err != nil {
		writeServiceError(w, h.log, "list_purchase_requests", err)
		return
	}
	if prs == nil {
		prs = []domain.PurchaseRequest{}
	}
	writeJSON(w, http.StatusOK, prs)
}

func (h *LedgerHandlers) GetPurchaseRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	pr, err := h.service.GetPurchaseRequest(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, "get_purchase_request", err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (h *LedgerHandlers) ListPurchaseRequestsByPhoneHandler(w http.ResponseWriter, r *http.Request) {
	prs, err := h.service.ListPurchaseRequestsByPhone(r.Context(), chi.URLParam(r, "phoneNumber"))
	if err != nil {
		writeServiceError(w, h.log, "list_purchase_requests_by_phone", err)
		return
	}
	writeJSON(w, http.StatusOK, prs)
}

// UpdatePurchaseStatusHandler moves a request along its lifecycle. Approving
// pays the vendor before the response is written.
func (h *LedgerHandlers) UpdatePurchaseStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	var req statusUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pr, err := h.service.UpdatePurchaseStatus(r.Context(), id, req.Status)
	if err != nil {
		writeServiceError(w, h.log, "update_purchase_status", err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (h *LedgerHandlers) RetryPayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	pr, err := h.service.RetryPayout(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, "retry_payout", err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}
