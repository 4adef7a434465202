package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/paystackclient"
)

const gatewayName = "Paystack"

// FundWalletRequest starts a gateway charge that credits a wallet once paid.
type FundWalletRequest struct {
	AcctNo      string          `json:"acct_no" validate:"required,numeric,len=10"`
	Email       string          `json:"email" validate:"required,email"`
	Amount      decimal.Decimal `json:"amount"`
	CallbackURL string          `json:"callback_url"`
}

// FundWallet initializes a Paystack charge tagged with the wallet account.
func (s *Service) FundWallet(ctx context.Context, req FundWalletRequest) (*paystackclient.Authorization, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, ValidationError(err)
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindWalletByAcctNo(ctx, req.AcctNo); err != nil {
		return nil, err
	}

	callback := req.CallbackURL
	if callback == "" {
		callback = s.opts.CallbackURL
	}
	auth, err := s.gateway.InitializeTransaction(ctx, paystackclient.InitializeRequest{
		Email:       req.Email,
		Amount:      domain.ToKobo(req.Amount),
		Reference:   "fw_" + uuid.NewString(),
		CallbackURL: callback,
		Metadata:    map[string]string{"acct_no": req.AcctNo},
	})
	if err != nil {
		return nil, domain.Upstream("initialize transaction", err)
	}
	return auth, nil
}

// VerifyPayment confirms a charge with Paystack and credits the wallet once.
// alreadyCredited is true when the charge had been applied before.
func (s *Service) VerifyPayment(ctx context.Context, reference string) (credit *domain.ExternalCredit, alreadyCredited bool, err error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, false, domain.Invalidf("reference is required")
	}
	v, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, false, domain.Upstream("verify transaction", err)
	}
	if !strings.EqualFold(v.Status, "success") {
		return nil, false, domain.Invalidf("payment %s is %s", reference, v.Status)
	}
	acctNo := v.MetadataValue("acct_no")
	if !domain.ValidAcctNo(acctNo) {
		return nil, false, domain.Invalidf("payment %s carries no wallet account", reference)
	}
	return s.creditCharge(ctx, reference, acctNo, v.Customer.Email, domain.FromKobo(v.Amount))
}

// creditCharge applies an external credit keyed on the charge reference, so the
// verify endpoint and the charge.success webhook never both credit.
func (s *Service) creditCharge(ctx context.Context, reference, acctNo, email string, amount decimal.Decimal) (*domain.ExternalCredit, bool, error) {
	credit := &domain.ExternalCredit{
		Reference:   reference,
		AcctNo:      acctNo,
		Email:       email,
		Amount:      amount,
		Description: "Fund Wallet",
		Status:      "success",
		Gateway:     gatewayName,
	}
	_, err := s.apply(ctx, domain.ExternalCreditPosting(credit, s.opts.GL))
	if errors.Is(err, domain.ErrDuplicatePosting) {
		s.log.WithField("reference", reference).Info("charge already credited")
		existing, findErr := s.repo.FindExternalCreditByReference(ctx, reference)
		if findErr != nil {
			return nil, true, findErr
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.log.WithFields(logrus.Fields{"reference": reference, "acct_no": acctNo}).Info("charge credited")
	return credit, false, nil
}
