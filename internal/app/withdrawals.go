package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paystackclient"
)

// Per-item outcomes of a cash-wallet batch.
const (
	WithdrawalSucceeded = "success"
	WithdrawalFailed    = "failed"
	WithdrawalUnknown   = "unknown"
	// WithdrawalPending means the transfer was rejected but the refund did
	// not post; the funds stay debited until reconciled.
	WithdrawalPending = "pending"
)

// CashWallet processes a batch of withdrawals. Each item succeeds or fails on
// its own; one bad item never blocks the rest.
func (s *Service) CashWallet(ctx context.Context, items []domain.WithdrawalItem) []domain.WithdrawalResult {
	results := make([]domain.WithdrawalResult, 0, len(items))
	for _, item := range items {
		res := s.withdraw(ctx, item)
		entry := s.log.WithFields(logrus.Fields{"acct_no": item.AcctNo, "status": res.Status, "reference": res.Reference})
		if res.Status == WithdrawalSucceeded {
			entry.Info("withdrawal processed")
		} else {
			entry.WithField("message", res.Message).Warn("withdrawal not completed")
		}
		results = append(results, res)
	}
	return results
}

func failedWithdrawal(item domain.WithdrawalItem, reference string, err error) domain.WithdrawalResult {
	return domain.WithdrawalResult{AcctNo: item.AcctNo, Status: WithdrawalFailed, Message: err.Error(), Reference: reference}
}

func (s *Service) withdraw(ctx context.Context, item domain.WithdrawalItem) domain.WithdrawalResult {
	if err := s.validate.Struct(item); err != nil {
		return failedWithdrawal(item, "", ValidationError(err))
	}
	if err := domain.ValidateAmount(item.Amount); err != nil {
		return failedWithdrawal(item, "", err)
	}

	if s.limiter != nil && s.opts.WithdrawalRateLimit > 0 {
		count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "withdrawal", item.AcctNo, s.opts.WithdrawalRateLimit, time.Minute)
		if err != nil {
			s.log.WithFields(logrus.Fields{"acct_no": item.AcctNo, "error": err}).Warn("rate limiter unavailable; allowing withdrawal")
		} else if count > s.opts.WithdrawalRateLimit {
			return failedWithdrawal(item, "", domain.Invalidf("too many withdrawals; retry in %d seconds", retryAfter))
		}
	}

	wallet, err := s.repo.FindWalletByAcctNo(ctx, item.AcctNo)
	if err != nil {
		return failedWithdrawal(item, "", err)
	}
	if wallet.WalletBalance.LessThan(item.Amount) {
		return failedWithdrawal(item, "", fmt.Errorf("%w: wallet balance %s is below %s", domain.ErrInsufficientFunds, wallet.WalletBalance, item.Amount))
	}

	name := strings.TrimSpace(item.Name)
	if name == "" {
		name = wallet.Name
	}
	recipient, err := s.gateway.CreateTransferRecipient(ctx, name, item.AccountNumber, item.BankCode)
	if err != nil {
		return failedWithdrawal(item, "", domain.Upstream("create transfer recipient", err))
	}

	wd := &domain.Withdrawal{
		AcctNo:        item.AcctNo,
		Amount:        item.Amount,
		Description:   item.Description,
		BankCode:      item.BankCode,
		AccountNumber: item.AccountNumber,
		RecipientCode: recipient,
		Reference:     domain.NewWithdrawalReference(),
		Status:        domain.TransferPending,
	}
	if _, err := s.apply(ctx, domain.WithdrawalPosting(wd, s.opts.GL)); err != nil {
		return failedWithdrawal(item, "", err)
	}

	reason := wd.Description
	if reason == "" {
		reason = "Wallet withdrawal"
	}
	transfer, err := s.gateway.InitiateTransfer(ctx, recipient, domain.ToKobo(wd.Amount), reason, wd.Reference)
	switch {
	case errors.Is(err, paystackclient.ErrOutcomeUnknown):
		s.markWithdrawal(ctx, wd.Reference, store.WithdrawalUpdate{Status: domain.TransferUnknown})
		return domain.WithdrawalResult{
			AcctNo:    item.AcctNo,
			Status:    WithdrawalUnknown,
			Message:   "transfer outcome unknown; awaiting gateway confirmation",
			Reference: wd.Reference,
		}
	case err != nil:
		return s.rejectWithdrawal(ctx, item, wd, domain.Upstream("initiate transfer", err))
	case !domain.TransferAccepted(transfer.Status):
		msg := fmt.Sprintf("transfer rejected with status %q", transfer.Status)
		return s.rejectWithdrawal(ctx, item, wd, domain.Upstream("initiate transfer", errors.New(msg)))
	}

	expiresAt := s.now().Add(s.opts.TransferCodeTTL)
	s.markWithdrawal(ctx, wd.Reference, store.WithdrawalUpdate{
		TransferCode:          transfer.TransferCode,
		TransferCodeExpiresAt: &expiresAt,
		Status:                strings.ToLower(transfer.Status),
	})
	return domain.WithdrawalResult{
		AcctNo:       item.AcctNo,
		Status:       WithdrawalSucceeded,
		Reference:    wd.Reference,
		TransferCode: transfer.TransferCode,
	}
}

// rejectWithdrawal refunds a withdrawal the gateway turned down. When the
// refund cannot post, the withdrawal stays pending with the reason recorded.
func (s *Service) rejectWithdrawal(ctx context.Context, item domain.WithdrawalItem, wd *domain.Withdrawal, cause error) domain.WithdrawalResult {
	reason := cause.Error()
	if err := s.refundWithdrawal(ctx, wd, domain.TransferFailed, reason); err != nil {
		s.markWithdrawal(ctx, wd.Reference, store.WithdrawalUpdate{FailureReason: "refund failed: " + reason})
		return domain.WithdrawalResult{
			AcctNo:    item.AcctNo,
			Status:    WithdrawalPending,
			Message:   "transfer failed and the refund did not post; pending reconciliation",
			Reference: wd.Reference,
		}
	}
	return failedWithdrawal(item, wd.Reference, cause)
}

// markWithdrawal records gateway state on a committed withdrawal. Failures are
// logged; the webhook reconciles the record later.
func (s *Service) markWithdrawal(ctx context.Context, reference string, update store.WithdrawalUpdate) {
	if _, err := s.repo.UpdateWithdrawalTransfer(ctx, reference, update); err != nil {
		s.log.WithFields(logrus.Fields{"reference": reference, "error": err}).Error("failed to update withdrawal")
	}
}

// refundWithdrawal returns the funds of a failed or reversed withdrawal. The
// refund posting is keyed on the reference, so a replay is a no-op.
func (s *Service) refundWithdrawal(ctx context.Context, wd *domain.Withdrawal, status, reason string) error {
	_, err := s.apply(ctx, domain.WithdrawalRefundPosting(wd, reason, s.opts.GL))
	if err != nil && !errors.Is(err, domain.ErrDuplicatePosting) {
		s.log.WithFields(logrus.Fields{"reference": wd.Reference, "error": err}).Error("withdrawal refund failed")
		return fmt.Errorf("refund withdrawal %s: %w", wd.Reference, err)
	}
	s.markWithdrawal(ctx, wd.Reference, store.WithdrawalUpdate{Status: status, FailureReason: reason})
	return nil
}

// GetTransferCode returns the latest unexpired transfer code for acctNo.
func (s *Service) GetTransferCode(ctx context.Context, acctNo string) (*domain.Withdrawal, error) {
	if err := requireAcctNo(acctNo); err != nil {
		return nil, err
	}
	return s.repo.FindActiveTransferCode(ctx, acctNo, s.now())
}

// FinalizeTransfer completes the OTP step of the latest withdrawal on acctNo.
func (s *Service) FinalizeTransfer(ctx context.Context, acctNo, otp string) (*paystackclient.Transfer, error) {
	if strings.TrimSpace(otp) == "" {
		return nil, domain.Invalidf("otp is required")
	}
	wd, err := s.GetTransferCode(ctx, acctNo)
	if err != nil {
		return nil, err
	}
	transfer, err := s.gateway.FinalizeTransfer(ctx, wd.TransferCode, otp)
	if err != nil {
		return nil, domain.Upstream("finalize transfer", err)
	}
	if status := strings.ToLower(transfer.Status); status != "" {
		s.markWithdrawal(ctx, wd.Reference, store.WithdrawalUpdate{Status: status})
	}
	return transfer, nil
}
