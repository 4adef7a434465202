/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * required by the ledger-service. Money movement goes through ApplyPosting (or the
 * workflow methods that embed a posting) so that the wallet row, its history, the
 * GL legs and the snapshot record are always written in one unit of work.
 *
 * @dependencies
 * - github.com/google/uuid: purchase request identifiers.
 * - internal/domain: the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// Repository defines the set of methods for interacting with storage.
type Repository interface {
	// Sequence generator
	NextValue(ctx context.Context, counter string) (int64, error)

	// Wallet methods
	// CreateWallet inserts w unless a wallet with the same acct_no exists, in
	// which case the existing wallet is returned with created=false.
	CreateWallet(ctx context.Context, w *domain.Wallet) (wallet *domain.Wallet, created bool, err error)
	FindWalletByAcctNo(ctx context.Context, acctNo string) (*domain.Wallet, error)
	ListWalletsWithOutstandingLoan(ctx context.Context) ([]domain.Wallet, error)
	ListWalletTransactions(ctx context.Context) ([]domain.WalletTransaction, error)
	ResetWallet(ctx context.Context, acctNo string) (*domain.Wallet, error)

	// Ledger methods
	ApplyPosting(ctx context.Context, p domain.Posting) (*domain.PostingResult, error)
	ListGLTransactionsByAcctNo(ctx context.Context, acctNo string) ([]domain.GLTransaction, error)
	ListGLTransactions(ctx context.Context, limit, offset int) ([]domain.GLTransaction, error)

	// Withdrawal methods
	FindWithdrawalByReference(ctx context.Context, reference string) (*domain.Withdrawal, error)
	UpdateWithdrawalTransfer(ctx context.Context, reference string, update WithdrawalUpdate) (*domain.Withdrawal, error)
	FindActiveTransferCode(ctx context.Context, acctNo string, now time.Time) (*domain.Withdrawal, error)

	// External credit methods
	FindExternalCreditByReference(ctx context.Context, reference string) (*domain.ExternalCredit, error)

	// Purchase request methods
	CreatePurchaseRequest(ctx context.Context, pr *domain.PurchaseRequest) error
	FindPurchaseRequestByID(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error)
	FindPurchaseRequestByReference(ctx context.Context, reference string) (*domain.PurchaseRequest, error)
	ListPurchaseRequests(ctx context.Context) ([]domain.PurchaseRequest, error)
	ListPurchaseRequestsByPhone(ctx context.Context, phone string) ([]domain.PurchaseRequest, error)
	// TransitionPurchaseRequest moves a request from -> to only if it is still in
	// from. A request in any other state yields domain.ErrInvalidTransition.
	TransitionPurchaseRequest(ctx context.Context, id uuid.UUID, from, to domain.PurchaseStatus, reference string) (*domain.PurchaseRequest, error)
	UpdatePurchaseTransfer(ctx context.Context, id uuid.UUID, update PurchaseTransferUpdate) (*domain.PurchaseRequest, error)
	// SettlePurchaseRequest locks the request behind reference, applies the
	// posting returned by build and marks it Paid, all in one transaction. An
	// already-Paid request is returned unchanged with settled=false.
	SettlePurchaseRequest(ctx context.Context, reference string, build func(pr *domain.PurchaseRequest) (domain.Posting, error)) (pr *domain.PurchaseRequest, settled bool, err error)

	// Inward funds transfer methods
	// RecordInwardTransfer persists t and, when the beneficiary wallet exists,
	// applies the posting from build in the same transaction. The returned
	// result is nil when the transfer was recorded as unmatched.
	RecordInwardTransfer(ctx context.Context, t *domain.InwardFundsTransfer, build func(t *domain.InwardFundsTransfer) domain.Posting) (*domain.PostingResult, error)
	MatchInwardTransfer(ctx context.Context, id int64, acctNo string, build func(t *domain.InwardFundsTransfer) domain.Posting) (*domain.InwardFundsTransfer, *domain.PostingResult, error)
	FindInwardTransfer(ctx context.Context, id int64) (*domain.InwardFundsTransfer, error)
	ListInwardTransfers(ctx context.Context) ([]domain.InwardFundsTransfer, error)

	// Gateway identity checks
	CreateCustomerIdentification(ctx context.Context, ci *domain.CustomerIdentification) error
}

// WithdrawalUpdate carries the gateway-side fields of a withdrawal. Empty
// strings and nil pointers leave the stored value unchanged.
type WithdrawalUpdate struct {
	RecipientCode         string
	TransferCode          string
	TransferCodeExpiresAt *time.Time
	Status                string
	FailureReason         string
}

// PurchaseTransferUpdate carries the gateway-side fields of a purchase payout.
// Empty strings leave the stored value unchanged. Reference is replaced only
// when a failed payout is retried under a fresh transfer reference.
type PurchaseTransferUpdate struct {
	RecipientCode  string
	TransferCode   string
	TransferStatus string
	FailureReason  string
	Reference      string
}
