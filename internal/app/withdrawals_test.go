package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paystackclient"
)

func withdrawalItem(amount string) domain.WithdrawalItem {
	return domain.WithdrawalItem{
		AcctNo:        "8012345678",
		Amount:        dec(amount),
		BankCode:      "058",
		AccountNumber: "0123456789",
	}
}

func TestCashWallet_SuccessStoresTransferCode(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	ctx := context.Background()

	results := env.svc.CashWallet(ctx, []domain.WithdrawalItem{withdrawalItem("60")})
	require.Len(t, results, 1)
	assert.Equal(t, WithdrawalSucceeded, results[0].Status)
	assert.NotEmpty(t, results[0].TransferCode)
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("40")))

	wd, err := env.svc.GetTransferCode(ctx, "8012345678")
	require.NoError(t, err)
	assert.Equal(t, results[0].TransferCode, wd.TransferCode)
	assert.Equal(t, "otp", wd.Status)

	transfer, err := env.svc.FinalizeTransfer(ctx, "8012345678", "123456")
	require.NoError(t, err)
	assert.Equal(t, "success", transfer.Status)
}

func TestCashWallet_RejectedTransferIsRefunded(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	env.gateway.transferFn = func(string, int64, string) (*paystackclient.Transfer, error) {
		return nil, &paystackclient.APIError{StatusCode: 400, Message: "Insufficient balance"}
	}

	results := env.svc.CashWallet(context.Background(), []domain.WithdrawalItem{withdrawalItem("60")})
	require.Len(t, results, 1)
	assert.Equal(t, WithdrawalFailed, results[0].Status)
	assert.Contains(t, results[0].Message, "Insufficient balance")

	w := env.wallet(t, "8012345678")
	assert.True(t, w.WalletBalance.Equal(dec("100")))
	require.Len(t, w.Transactions, 3)
	assert.Equal(t, domain.TxnCredit, w.Transactions[2].Type)

	wd, err := env.repo.FindWithdrawalByReference(context.Background(), results[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, wd.Status)
}

func TestCashWallet_UnknownOutcomeKeepsFundsDebited(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	env.gateway.transferFn = func(string, int64, string) (*paystackclient.Transfer, error) {
		return nil, fmt.Errorf("initiate_transfer: %w", paystackclient.ErrOutcomeUnknown)
	}

	results := env.svc.CashWallet(context.Background(), []domain.WithdrawalItem{withdrawalItem("60")})
	require.Len(t, results, 1)
	assert.Equal(t, WithdrawalUnknown, results[0].Status)
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("40")))

	wd, err := env.repo.FindWithdrawalByReference(context.Background(), results[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferUnknown, wd.Status)
}

// refundFailingRepo fails every withdrawal refund posting.
type refundFailingRepo struct {
	store.Repository
}

func (r refundFailingRepo) ApplyPosting(ctx context.Context, p domain.Posting) (*domain.PostingResult, error) {
	if strings.HasPrefix(p.IdempotencyKey, "withdrawal-refund:") {
		return nil, errors.New("connection reset by peer")
	}
	return r.Repository.ApplyPosting(ctx, p)
}

func TestCashWallet_FailedRefundIsPendingReconciliation(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	env.svc.repo = refundFailingRepo{Repository: env.repo}
	env.gateway.transferFn = func(string, int64, string) (*paystackclient.Transfer, error) {
		return nil, &paystackclient.APIError{StatusCode: 400, Message: "Insufficient balance"}
	}

	results := env.svc.CashWallet(context.Background(), []domain.WithdrawalItem{withdrawalItem("60")})
	require.Len(t, results, 1)
	assert.Equal(t, WithdrawalPending, results[0].Status)
	assert.Contains(t, results[0].Message, "pending reconciliation")
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("40")))

	wd, err := env.repo.FindWithdrawalByReference(context.Background(), results[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, wd.Status)
	assert.Contains(t, wd.FailureReason, "refund failed")
	assert.Contains(t, wd.FailureReason, "Insufficient balance")
}

func TestCashWallet_ItemsFailIndependently(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)

	bad := withdrawalItem("10")
	bad.AccountNumber = "12"
	results := env.svc.CashWallet(context.Background(), []domain.WithdrawalItem{
		withdrawalItem("500"),
		bad,
		withdrawalItem("30"),
	})
	require.Len(t, results, 3)
	assert.Equal(t, WithdrawalFailed, results[0].Status)
	assert.Contains(t, results[0].Message, "insufficient funds")
	assert.Equal(t, WithdrawalFailed, results[1].Status)
	assert.Contains(t, results[1].Message, "account_number")
	assert.Equal(t, WithdrawalSucceeded, results[2].Status)

	assert.Len(t, env.gateway.transfers, 1)
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("70")))
}

func TestCashWallet_RecipientFailureLeavesWalletUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	env.gateway.recipientErr = &paystackclient.APIError{StatusCode: 422, Message: "Account number is invalid"}

	results := env.svc.CashWallet(context.Background(), []domain.WithdrawalItem{withdrawalItem("60")})
	require.Len(t, results, 1)
	assert.Equal(t, WithdrawalFailed, results[0].Status)
	assert.Empty(t, results[0].Reference)
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("100")))
}

type fixedLimiter struct {
	count int
}

func (l *fixedLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.count++
	return l.count, 42, nil
}

func TestCashWallet_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	env.svc.limiter = &fixedLimiter{count: 10}

	results := env.svc.CashWallet(context.Background(), []domain.WithdrawalItem{withdrawalItem("10")})
	require.Len(t, results, 1)
	assert.Equal(t, WithdrawalFailed, results[0].Status)
	assert.Contains(t, results[0].Message, "42 seconds")
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("100")))
}

func TestGetTransferCode_ExpiredIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	ctx := context.Background()

	results := env.svc.CashWallet(ctx, []domain.WithdrawalItem{withdrawalItem("10")})
	require.Equal(t, WithdrawalSucceeded, results[0].Status)

	env.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err := env.svc.GetTransferCode(ctx, "8012345678")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCashWallet_RejectsSubKoboAmount(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)

	results := env.svc.CashWallet(context.Background(), []domain.WithdrawalItem{withdrawalItem("0.005")})
	require.Len(t, results, 1)
	assert.Equal(t, WithdrawalFailed, results[0].Status)
	assert.Contains(t, results[0].Message, "at most 2 decimal places")
	assert.Empty(t, env.gateway.transfers)
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("100")))
}
