/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their handlers, and applies the middleware
 * stack: request logging, panic recovery, timeouts, CORS and authentication.
 *
 * The Paystack webhook sits outside the authenticated group; it is protected by
 * its HMAC signature instead.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser-based back-office clients.
 * - github.com/sirupsen/logrus: request logging.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	InternalAPIKey string
	JWKSURL        string
	AllowedOrigins []string
	// Logger receives the per-request log lines. Nil uses the logrus default.
	Logger logrus.FieldLogger
}

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, webhook http.Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", internalKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Method(http.MethodPost, "/webhook/paystack", webhook)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.InternalAPIKey, NewJWKSKeySource(cfg.JWKSURL)))

		r.Route("/wallet", func(r chi.Router) {
			r.Post("/", h.OpenWalletHandler)
			r.Get("/transactions", h.ListWalletTransactionsHandler)
			r.Get("/transfer-code/{acct_no}", h.GetTransferCodeHandler)
			r.Post("/credit-wallet", h.CreditWalletHandler)
			r.Post("/disburse", h.DisburseLoanHandler)
			r.Post("/loan-repay", h.RepayLoanHandler)
			r.Post("/cash-wallet", h.CashWalletHandler)
			r.Post("/finalize-transfer", h.FinalizeTransferHandler)
			r.Post("/fund-wallet", h.FundWalletHandler)
			r.Post("/verify-payment/{reference}", h.VerifyPaymentHandler)
			r.Post("/reset-wallet", h.ResetWalletHandler)
			r.Get("/{acct_no}", h.GetWalletHandler)
			r.Get("/{acct_no}/account-name", h.GetAccountNameHandler)
		})

		r.Get("/transaction/{acct_no}", h.ListGLTransactionsByAcctNoHandler)
		r.Post("/gl-transactions", h.PostManualGLHandler)
		r.Get("/gl-transactions", h.ListGLTransactionsHandler)

		r.Post("/loan/trigger-loan-repayment", h.TriggerLoanRepaymentHandler)
		r.Get("/paystack/banks", h.ListBanksHandler)

		r.Route("/purchase-requests", func(r chi.Router) {
			r.Post("/purchase", h.CreatePurchaseRequestHandler)
			r.Get("/", h.ListPurchaseRequestsHandler)
			r.Get("/phone/{phoneNumber}", h.ListPurchaseRequestsByPhoneHandler)
			r.Get("/{id}", h.GetPurchaseRequestHandler)
			r.Patch("/{id}/status", h.UpdatePurchaseStatusHandler)
			r.Put("/{id}/status", h.UpdatePurchaseStatusHandler)
			r.Post("/{id}/retry-payout", h.RetryPayoutHandler)
		})

		r.Route("/inwardfundstransfer", func(r chi.Router) {
			r.Post("/", h.CreateInwardTransferHandler)
			r.Get("/", h.ListInwardTransfersHandler)
			r.Get("/{id}", h.GetInwardTransferHandler)
			r.Post("/{id}/match", h.MatchInwardTransferHandler)
		})
	})

	return r
}
