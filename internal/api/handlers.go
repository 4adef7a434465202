/**
 * @description
 * This file contains the HTTP handlers for the wallet and ledger endpoints.
 * Handlers parse the request, call the application service and write the
 * response. Errors are mapped onto HTTP statuses in one place (errors.go).
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/shopspring/decimal: request amounts.
 * - internal/app, internal/domain: service logic and models.
 */

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
	jobs    *app.Jobs
	log     *logrus.Entry
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service, jobs *app.Jobs, logger logrus.FieldLogger) *LedgerHandlers {
	return &LedgerHandlers{service: service, jobs: jobs, log: logger.WithField("component", "api")}
}

type amountRequest struct {
	AcctNo      string          `json:"acct_no"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type repayRequest struct {
	AcctNo      string          `json:"acct_no"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	Description string          `json:"description"`
}

type acctNoRequest struct {
	AcctNo string `json:"acct_no"`
}

type finalizeTransferRequest struct {
	AcctNo string `json:"acct_no"`
	OTP    string `json:"otp"`
}

type postingResponse struct {
	Message string          `json:"message"`
	TxnID   int64           `json:"txnId"`
	Wallet  domain.Wallet   `json:"wallet"`
	Amount  decimal.Decimal `json:"amount"`
}

func newPostingResponse(message string, res *domain.PostingResult) postingResponse {
	return postingResponse{Message: message, TxnID: res.TxnID, Wallet: res.Wallet, Amount: res.Entry.Amount}
}

// OpenWalletHandler opens a wallet, or returns the existing one.
func (h *LedgerHandlers) OpenWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req app.OpenWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wallet, created, err := h.service.OpenWallet(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, "open_wallet", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, wallet)
}

func (h *LedgerHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.GetWallet(r.Context(), chi.URLParam(r, "acct_no"))
	if err != nil {
		writeServiceError(w, h.log, "get_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (h *LedgerHandlers) GetAccountNameHandler(w http.ResponseWriter, r *http.Request) {
	acctNo := chi.URLParam(r, "acct_no")
	name, err := h.service.GetAccountName(r.Context(), acctNo)
	if err != nil {
		writeServiceError(w, h.log, "get_account_name", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"acct_no": acctNo, "name": name})
}

func (h *LedgerHandlers) ListWalletTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	txns, err := h.service.ListWalletTransactions(r.Context())
	if err != nil {
		writeServiceError(w, h.log, "list_wallet_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

func (h *LedgerHandlers) ResetWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req acctNoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wallet, err := h.service.ResetWallet(r.Context(), req.AcctNo)
	if err != nil {
		writeServiceError(w, h.log, "reset_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Wallet reset successfully", "wallet": wallet})
}

func (h *LedgerHandlers) CreditWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.service.CreditWallet(r.Context(), req.AcctNo, req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, h.log, "credit_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, newPostingResponse("Wallet credited successfully", res))
}

// DisburseLoanHandler disburses a loan and returns the computed schedule.
func (h *LedgerHandlers) DisburseLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req app.DisburseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, schedule, err := h.service.DisburseLoan(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, "disburse_loan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Loan disbursed successfully",
		"txnId":    res.TxnID,
		"wallet":   res.Wallet,
		"schedule": schedule,
	})
}

func (h *LedgerHandlers) RepayLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	source, err := domain.ParseRepaymentSource(req.Source)
	if err != nil {
		writeServiceError(w, h.log, "loan_repay", err)
		return
	}
	res, err := h.service.RepayLoan(r.Context(), req.AcctNo, req.Amount, source, req.Description)
	if err != nil {
		writeServiceError(w, h.log, "loan_repay", err)
		return
	}
	writeJSON(w, http.StatusOK, newPostingResponse("Loan repayment successful", res))
}

// CashWalletHandler processes a batch of withdrawals. Item failures are
// reported per item; the batch itself always succeeds.
func (h *LedgerHandlers) CashWalletHandler(w http.ResponseWriter, r *http.Request) {
	var items []domain.WithdrawalItem
	if !decodeJSON(w, r, &items) {
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "No withdrawal data provided")
		return
	}
	results := h.service.CashWallet(r.Context(), items)
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Withdrawal processing completed", "results": results})
}

func (h *LedgerHandlers) GetTransferCodeHandler(w http.ResponseWriter, r *http.Request) {
	wd, err := h.service.GetTransferCode(r.Context(), chi.URLParam(r, "acct_no"))
	if err != nil {
		writeServiceError(w, h.log, "get_transfer_code", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"acct_no":       wd.AcctNo,
		"transfer_code": wd.TransferCode,
		"reference":     wd.Reference,
		"status":        wd.Status,
		"expires_at":    wd.TransferCodeExpiresAt,
	})
}

func (h *LedgerHandlers) FinalizeTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req finalizeTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	transfer, err := h.service.FinalizeTransfer(r.Context(), req.AcctNo, req.OTP)
	if err != nil {
		writeServiceError(w, h.log, "finalize_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Transfer finalized", "transfer": transfer})
}

func (h *LedgerHandlers) FundWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req app.FundWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	auth, err := h.service.FundWallet(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, "fund_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (h *LedgerHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	credit, already, err := h.service.VerifyPayment(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeServiceError(w, h.log, "verify_payment", err)
		return
	}
	message := "Wallet funded successfully"
	if already {
		message = "Payment already credited"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": message, "credit": credit})
}

func (h *LedgerHandlers) ListGLTransactionsByAcctNoHandler(w http.ResponseWriter, r *http.Request) {
	txns, err := h.service.ListGLTransactionsByAcctNo(r.Context(), chi.URLParam(r, "acct_no"))
	if err != nil {
		writeServiceError(w, h.log, "list_gl_by_acct", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

// PostManualGLHandler books an operator GL entry. createdBy defaults to the caller.
func (h *LedgerHandlers) PostManualGLHandler(w http.ResponseWriter, r *http.Request) {
	var req app.ManualGLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CreatedBy == "" {
		if caller, ok := CallerFromContext(r.Context()); ok {
			req.CreatedBy = caller
		}
	}
	res, err := h.service.PostManualGL(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, "post_manual_gl", err)
		return
	}
	writeJSON(w, http.StatusCreated, newPostingResponse("GL transaction posted", res))
}

func queryInt(r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil && v >= 0
}

func (h *LedgerHandlers) ListGLTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset")
	if !ok {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	txns, err := h.service.ListGLTransactions(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.log, "list_gl", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

// TriggerLoanRepaymentHandler runs the repayment sweep on demand.
func (h *LedgerHandlers) TriggerLoanRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobs.ProcessLoanRepayments(r.Context())
	if err != nil {
		writeServiceError(w, h.log, "trigger_loan_repayment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Loan repayment job completed", "summary": summary})
}

func (h *LedgerHandlers) ListBanksHandler(w http.ResponseWriter, r *http.Request) {
	banks, err := h.service.ListBanks(r.Context())
	if err != nil {
		writeServiceError(w, h.log, "list_banks", err)
		return
	}
	writeJSON(w, http.StatusOK, banks)
}
