/**
 * @description
 * The purchase request workflow. A driver asks for a vendor to be paid; an
 * operator approves, which sends the payout through Paystack. Once the transfer
 * is accepted, Settle books the amount (with interest) as a loan on the driver's
 * wallet and marks the request Paid. The synchronous approval path and the
 * transfer.success webhook both call Settle; only the first one posts.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paystackclient"
)

// CreatePurchaseRequest stores a new Pending request.
func (s *Service) CreatePurchaseRequest(ctx context.Context, req domain.NewPurchaseRequest) (*domain.PurchaseRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, ValidationError(err)
	}
	pr, err := req.Build(s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreatePurchaseRequest(ctx, pr); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"purchase_request_id": pr.ID, "acct_no": pr.AcctNo}).Info("purchase request created")
	return pr, nil
}

func (s *Service) GetPurchaseRequest(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	return s.repo.FindPurchaseRequestByID(ctx, id)
}

func (s *Service) ListPurchaseRequests(ctx context.Context) ([]domain.PurchaseRequest, error) {
	return s.repo.ListPurchaseRequests(ctx)
}

// ListPurchaseRequestsByPhone returns the requests of one driver. None is NotFound.
func (s *Service) ListPurchaseRequestsByPhone(ctx context.Context, phone string) ([]domain.PurchaseRequest, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, domain.Invalidf("phone number is required")
	}
	prs, err := s.repo.ListPurchaseRequestsByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, domain.ErrPurchaseRequestNotFound
	}
	return prs, nil
}

// UpdatePurchaseStatus moves a request to status. Approval triggers the vendor
// payout. Paid is reserved for Settle, which books the loan with it.
func (s *Service) UpdatePurchaseStatus(ctx context.Context, id uuid.UUID, rawStatus string) (*domain.PurchaseRequest, error) {
	target, err := domain.ParsePurchaseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	if target == domain.PurchasePaid {
		return nil, domain.Invalidf("status must be one of [Pending Approved Rejected]; Paid is set when the vendor payout settles")
	}
	current, err := s.repo.FindPurchaseRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckTransition(current.Status, target); err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, current.Status, target)
	}

	switch target {
	case domain.PurchaseApproved:
		return s.approvePurchase(ctx, current)
	default:
		pr, err := s.repo.TransitionPurchaseRequest(ctx, id, current.Status, target, "")
		if err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"purchase_request_id": id, "status": target}).Info("purchase request status updated")
		return pr, nil
	}
}

// approvePurchase checks everything that can be checked before money moves,
// then approves and pays the vendor.
func (s *Service) approvePurchase(ctx context.Context, pr *domain.PurchaseRequest) (*domain.PurchaseRequest, error) {
	if _, err := s.repo.FindWalletByAcctNo(ctx, pr.AcctNo); err != nil {
		return nil, err
	}
	if _, err := s.opts.LoanTerms.Compute(pr.Amount); err != nil {
		return nil, err
	}
	bankCode, err := s.banks.ResolveCode(ctx, pr.VendorBankName)
	if err != nil {
		return nil, err
	}

	approved, err := s.repo.TransitionPurchaseRequest(ctx, pr.ID, domain.PurchasePending, domain.PurchaseApproved, domain.NewPurchaseReference())
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"purchase_request_id": pr.ID, "reference": approved.Reference}).Info("purchase request approved")
	return s.payVendor(ctx, approved, bankCode)
}

// RetryPayout re-sends a payout whose transfer failed, under a fresh reference.
func (s *Service) RetryPayout(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	pr, err := s.repo.FindPurchaseRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pr.CanRetryPayout() {
		return nil, fmt.Errorf("%w: payout can only be retried for an Approved request whose transfer failed (status %s, transfer %q)",
			domain.ErrInvalidTransition, pr.Status, pr.TransferStatus)
	}
	bankCode, err := s.banks.ResolveCode(ctx, pr.VendorBankName)
	if err != nil {
		return nil, err
	}
	pr, err = s.repo.UpdatePurchaseTransfer(ctx, id, store.PurchaseTransferUpdate{
		TransferStatus: domain.TransferPending,
		Reference:      domain.NewPurchaseReference(),
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"purchase_request_id": id, "reference": pr.Reference}).Info("retrying vendor payout")
	return s.payVendor(ctx, pr, bankCode)
}

func (s *Service) payVendor(ctx context.Context, pr *domain.PurchaseRequest, bankCode string) (*domain.PurchaseRequest, error) {
	log := s.log.WithFields(logrus.Fields{"purchase_request_id": pr.ID, "reference": pr.Reference})

	recipient, err := s.gateway.CreateTransferRecipient(ctx, pr.VendorName, pr.VendorAccountNumber, bankCode)
	if err != nil {
		upstream := domain.Upstream("create transfer recipient", err)
		s.markPayoutFailed(ctx, pr.ID, upstream.Error())
		return nil, upstream
	}

	reason := fmt.Sprintf("Purchase request %s: %s", pr.ID, pr.PurchaseItem)
	transfer, err := s.gateway.InitiateTransfer(ctx, recipient, domain.ToKobo(pr.Amount), reason, pr.Reference)
	switch {
	case errors.Is(err, paystackclient.ErrOutcomeUnknown):
		log.WithError(err).Warn("vendor payout outcome unknown; waiting for webhook")
		return s.repo.UpdatePurchaseTransfer(ctx, pr.ID, store.PurchaseTransferUpdate{
			RecipientCode:  recipient,
			TransferStatus: domain.TransferUnknown,
		})
	case err != nil:
		upstream := domain.Upstream("initiate transfer", err)
		s.markPayoutFailed(ctx, pr.ID, upstream.Error())
		return nil, upstream
	case !domain.TransferAccepted(transfer.Status):
		msg := fmt.Sprintf("transfer rejected with status %q", transfer.Status)
		s.markPayoutFailed(ctx, pr.ID, msg)
		return nil, domain.Upstream("initiate transfer", errors.New(msg))
	}

	if _, err := s.repo.UpdatePurchaseTransfer(ctx, pr.ID, store.PurchaseTransferUpdate{
		RecipientCode:  recipient,
		TransferCode:   transfer.TransferCode,
		TransferStatus: strings.ToLower(transfer.Status),
	}); err != nil {
		log.WithError(err).Error("failed to record vendor transfer")
	}

	settled, _, err := s.Settle(ctx, pr.Reference)
	if err != nil {
		log.WithError(err).Error("vendor paid but settlement failed; webhook will retry")
		return nil, err
	}
	return settled, nil
}

func (s *Service) markPayoutFailed(ctx context.Context, id uuid.UUID, reason string) {
	if _, err := s.repo.UpdatePurchaseTransfer(ctx, id, store.PurchaseTransferUpdate{
		TransferStatus: domain.TransferFailed,
		FailureReason:  reason,
	}); err != nil {
		s.log.WithFields(logrus.Fields{"purchase_request_id": id, "error": err}).Error("failed to record payout failure")
	}
}

// Settle books the vendor payout behind reference and marks the request Paid.
// settled is false when the request had already been paid.
func (s *Service) Settle(ctx context.Context, reference string) (*domain.PurchaseRequest, bool, error) {
	terms := s.opts.LoanTerms
	gl := s.opts.GL
	pr, settled, err := s.repo.SettlePurchaseRequest(ctx, reference, func(pr *domain.PurchaseRequest) (domain.Posting, error) {
		schedule, err := terms.Compute(pr.Amount)
		if err != nil {
			return domain.Posting{}, err
		}
		return domain.VendorPayoutPosting(pr, schedule, gl), nil
	})
	if errors.Is(err, domain.ErrDuplicatePosting) {
		// The payout posting exists, so the request was paid by a concurrent settle.
		current, findErr := s.repo.FindPurchaseRequestByReference(ctx, reference)
		if findErr != nil {
			return nil, false, findErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if settled {
		s.log.WithFields(logrus.Fields{"purchase_request_id": pr.ID, "acct_no": pr.AcctNo, "reference": reference}).Info("purchase request settled")
	}
	return pr, settled, nil
}
