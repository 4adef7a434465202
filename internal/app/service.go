/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct orchestrates every money movement: wallet credits, loan disbursements and
 * repayments, manual GL entries, cash-outs, gateway funding, inward transfers and
 * the purchase request workflow. It coordinates between the repository, the Paystack
 * client, the Redis-backed helpers and the message broker.
 *
 * Key features:
 * - All balance changes go through store.ApplyPosting (or a workflow method that
 *   embeds a posting), so wallet, history and GL legs commit together.
 * - A `ledger.posting.applied` event is published after every commit, best-effort.
 *
 * @dependencies
 * - github.com/sirupsen/logrus: structured logging.
 * - github.com/go-playground/validator/v10: per-item validation of batch input.
 * - internal/domain, internal/store: domain models and data access.
 * - pkg/paystackclient, pkg/rabbitmq: external service communication.
 */

package app

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paystackclient"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

// GatewayExchange is where verified webhooks are forwarded for async handling.
const GatewayExchange = "ledger.gateway"

// PaymentGateway is the subset of the Paystack API the service uses.
type PaymentGateway interface {
	ListBanks(ctx context.Context) ([]paystackclient.Bank, error)
	CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error)
	InitiateTransfer(ctx context.Context, recipient string, amountKobo int64, reason, reference string) (*paystackclient.Transfer, error)
	FinalizeTransfer(ctx context.Context, transferCode, otp string) (*paystackclient.Transfer, error)
	InitializeTransaction(ctx context.Context, req paystackclient.InitializeRequest) (*paystackclient.Authorization, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystackclient.Verification, error)
}

// RateLimiter counts attempts per scope and subject within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Options carries the tunables of the service.
type Options struct {
	GL                   domain.GLAccounts
	LoanTerms            domain.LoanTerms
	TransferCodeTTL      time.Duration
	WithdrawalRateLimit  int
	LedgerEventsExchange string
	CallbackURL          string
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo      store.Repository
	gateway   PaymentGateway
	banks     *BankDirectory
	limiter   RateLimiter
	publisher rabbitmq.Publisher
	opts      Options
	validate  *validator.Validate
	log       *logrus.Entry
	now       func() time.Time
}

// NewService creates a new ledger service instance. limiter may be nil.
func NewService(repo store.Repository, gateway PaymentGateway, banks *BankDirectory, limiter RateLimiter, publisher rabbitmq.Publisher, opts Options, logger logrus.FieldLogger) *Service {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	if opts.TransferCodeTTL <= 0 {
		opts.TransferCodeTTL = 30 * time.Minute
	}
	if opts.LedgerEventsExchange == "" {
		opts.LedgerEventsExchange = "ledger.events"
	}
	if opts.LoanTerms.RepaymentPeriod == 0 {
		opts.LoanTerms = domain.DefaultLoanTerms()
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		banks:     banks,
		limiter:   limiter,
		publisher: publisher,
		opts:      opts,
		validate:  NewValidator(),
		log:       logger.WithField("component", "ledger_service"),
		now:       time.Now,
	}
}

// apply commits p and publishes the resulting posting event.
func (s *Service) apply(ctx context.Context, p domain.Posting) (*domain.PostingResult, error) {
	res, err := s.repo.ApplyPosting(ctx, p)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"txn_id":  res.TxnID,
		"acct_no": res.Wallet.AcctNo,
		"kind":    res.Kind,
		"amount":  res.Entry.Amount.String(),
	}).Info("posting applied")
	s.publishPosting(ctx, res)
	return res, nil
}

func (s *Service) publishPosting(ctx context.Context, res *domain.PostingResult) {
	if res == nil {
		return
	}
	event := domain.NewLedgerPostingEvent(res, s.now())
	if err := s.publisher.Publish(ctx, s.opts.LedgerEventsExchange, domain.EventLedgerPostingApplied, event); err != nil {
		s.log.WithFields(logrus.Fields{"txn_id": res.TxnID, "error": err}).Warn("failed to publish posting event")
	}
}

func requireAcctNo(acctNo string) error {
	if !domain.ValidAcctNo(acctNo) {
		return domain.Invalidf("acct_no must be a 10-digit account number")
	}
	return nil
}

// OpenWalletRequest is the input for opening a wallet.
type OpenWalletRequest struct {
	AcctNo     string `json:"acct_no" validate:"required,numeric,len=10"`
	CustomerID int64  `json:"customer_id" validate:"required,gt=0"`
	Name       string `json:"name"`
}

// OpenWallet ensures a wallet exists for acct_no. It returns the existing
// wallet with created=false when one is already open.
func (s *Service) OpenWallet(ctx context.Context, req OpenWalletRequest) (*domain.Wallet, bool, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, false, ValidationError(err)
	}

	existing, err := s.repo.FindWalletByAcctNo(ctx, req.AcctNo)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}

	id, err := s.repo.NextValue(ctx, domain.CounterWalletID)
	if err != nil {
		return nil, false, err
	}
	wallet, created, err := s.repo.CreateWallet(ctx, &domain.Wallet{
		ID:         id,
		AcctNo:     req.AcctNo,
		CustomerID: req.CustomerID,
		Name:       req.Name,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.WithFields(logrus.Fields{"acct_no": wallet.AcctNo, "wallet_id": wallet.ID}).Info("wallet opened")
	}
	return wallet, created, nil
}

// GetWallet returns the wallet with its history.
func (s *Service) GetWallet(ctx context.Context, acctNo string) (*domain.Wallet, error) {
	if err := requireAcctNo(acctNo); err != nil {
		return nil, err
	}
	return s.repo.FindWalletByAcctNo(ctx, acctNo)
}

// GetAccountName returns the display name on a wallet.
func (s *Service) GetAccountName(ctx context.Context, acctNo string) (string, error) {
	w, err := s.GetWallet(ctx, acctNo)
	if err != nil {
		return "", err
	}
	return w.Name, nil
}

func (s *Service) ListWalletTransactions(ctx context.Context) ([]domain.WalletTransaction, error) {
	return s.repo.ListWalletTransactions(ctx)
}

// ResetWallet zeroes the balances of a wallet and clears its history.
func (s *Service) ResetWallet(ctx context.Context, acctNo string) (*domain.Wallet, error) {
	if err := requireAcctNo(acctNo); err != nil {
		return nil, err
	}
	w, err := s.repo.ResetWallet(ctx, acctNo)
	if err != nil {
		return nil, err
	}
	s.log.WithField("acct_no", acctNo).Warn("wallet reset")
	return w, nil
}

// CreditWallet funds a wallet.
func (s *Service) CreditWallet(ctx context.Context, acctNo string, amount decimal.Decimal, description string) (*domain.PostingResult, error) {
	if err := requireAcctNo(acctNo); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	return s.apply(ctx, domain.CreditPosting(acctNo, amount, description, s.opts.GL))
}

// DisburseRequest is the input for a direct loan disbursement. Nil terms use
// the configured defaults.
type DisburseRequest struct {
	AcctNo          string           `json:"acct_no"`
	Amount          decimal.Decimal  `json:"amount"`
	InterestRate    *decimal.Decimal `json:"interest_rate,omitempty"`
	RepaymentPeriod *int             `json:"repayment_period,omitempty"`
	Description     string           `json:"description"`
}

// DisburseLoan capitalizes principal plus interest onto the loan balance.
func (s *Service) DisburseLoan(ctx context.Context, req DisburseRequest) (*domain.PostingResult, domain.LoanSchedule, error) {
	if err := requireAcctNo(req.AcctNo); err != nil {
		return nil, domain.LoanSchedule{}, err
	}
	terms := s.opts.LoanTerms
	if req.InterestRate != nil {
		terms.InterestRate = *req.InterestRate
	}
	if req.RepaymentPeriod != nil {
		terms.RepaymentPeriod = *req.RepaymentPeriod
	}
	schedule, err := terms.Compute(req.Amount)
	if err != nil {
		return nil, domain.LoanSchedule{}, err
	}
	res, err := s.apply(ctx, domain.DisbursementPosting(req.AcctNo, schedule, req.Description, s.opts.GL))
	if err != nil {
		return nil, domain.LoanSchedule{}, err
	}
	return res, schedule, nil
}

// RepayLoan pays down the loan balance from source.
func (s *Service) RepayLoan(ctx context.Context, acctNo string, amount decimal.Decimal, source domain.RepaymentSource, description string) (*domain.PostingResult, error) {
	if err := requireAcctNo(acctNo); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	return s.apply(ctx, domain.RepaymentPosting(acctNo, amount, source, description, s.opts.GL))
}

// AutoRepay sweeps min(wallet, loan) from the wallet into the loan.
func (s *Service) AutoRepay(ctx context.Context, acctNo string) (*domain.PostingResult, error) {
	return s.apply(ctx, domain.AutoRepaymentPosting(acctNo, s.opts.GL))
}

// ManualGLRequest is an operator-entered GL adjustment.
type ManualGLRequest struct {
	AcctNo      string          `json:"acct_no"`
	GLAcctNo    string          `json:"glAcctNo"`
	TxnType     string          `json:"txnType"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedBy   string          `json:"createdBy"`
}

// PostManualGL books a GL entry against a wallet with the wallet pool as contra.
func (s *Service) PostManualGL(ctx context.Context, req ManualGLRequest) (*domain.PostingResult, error) {
	if err := requireAcctNo(req.AcctNo); err != nil {
		return nil, err
	}
	if !domain.ValidGLAcctNo(req.GLAcctNo) {
		return nil, domain.Invalidf("%s is not a valid 13-digit GL Account Number", req.GLAcctNo)
	}
	txnType, err := domain.ParseGLTxnType(req.TxnType)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	return s.apply(ctx, domain.ManualGLPosting(req.AcctNo, req.GLAcctNo, txnType, req.Amount, req.Description, req.CreatedBy, s.opts.GL))
}

// ListGLTransactionsByAcctNo returns the GL legs of a wallet, newest first.
func (s *Service) ListGLTransactionsByAcctNo(ctx context.Context, acctNo string) ([]domain.GLTransaction, error) {
	if err := requireAcctNo(acctNo); err != nil {
		return nil, err
	}
	txns, err := s.repo.ListGLTransactionsByAcctNo(ctx, acctNo)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, domain.ErrTransactionsNotFound
	}
	return txns, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ListGLTransactions pages through the GL log, newest first.
func (s *Service) ListGLTransactions(ctx context.Context, limit, offset int) ([]domain.GLTransaction, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListGLTransactions(ctx, limit, offset)
}

// ListBanks returns the banks Paystack can pay out to.
func (s *Service) ListBanks(ctx context.Context) ([]paystackclient.Bank, error) {
	return s.banks.Banks(ctx)
}
