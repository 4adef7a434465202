package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/transfa/ledger-service/internal/domain"
)

// CreateInwardTransferHandler records an inward transfer. A transfer with no
// matching wallet is accepted as unmatched with 202.
func (h *LedgerHandlers) CreateInwardTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.InwardFundsTransfer
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.service.CreateInwardTransfer(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, "create_inward_transfer", err)
		return
	}
	if t.Status == domain.InwardUnmatched {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"message":  "Beneficiary wallet not found; transfer recorded as unmatched",
			"transfer": t,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": "Inward transfer credited", "transfer": t})
}

func (h *LedgerHandlers) ListInwardTransfersHandler(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.service.ListInwardTransfers(r.Context())
	if err != nil {
		writeServiceError(w, h.log, "list_inward_transfers", err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func inwardID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid inward transfer ID")
		return 0, false
	}
	return id, true
}

func (h *LedgerHandlers) GetInwardTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := inwardID(w, r)
	if !ok {
		return
	}
	t, err := h.service.GetInwardTransfer(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, "get_inward_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *LedgerHandlers) MatchInwardTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := inwardID(w, r)
	if !ok {
		return
	}
	var req acctNoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.service.MatchInwardTransfer(r.Context(), id, req.AcctNo)
	if err != nil {
		writeServiceError(w, h.log, "match_inward_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Inward transfer credited", "transfer": t})
}
