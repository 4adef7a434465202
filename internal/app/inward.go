package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
)

func (s *Service) inwardPosting(t *domain.InwardFundsTransfer) domain.Posting {
	acctNo := t.CreditedAcctNo
	if acctNo == "" {
		acctNo = t.Beneficiary.AcctNo
	}
	return domain.InwardTransferPosting(acctNo, t.CreditAmount(), t.XferRef, s.opts.GL)
}

// CreateInwardTransfer records an inward funds transfer and credits the
// beneficiary wallet when it exists. Otherwise the transfer is kept as
// unmatched until MatchInwardTransfer assigns it.
func (s *Service) CreateInwardTransfer(ctx context.Context, t *domain.InwardFundsTransfer) (*domain.InwardFundsTransfer, error) {
	if err := s.validate.Struct(t); err != nil {
		return nil, ValidationError(err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	id, err := s.repo.NextValue(ctx, domain.CounterInwardTransfer)
	if err != nil {
		return nil, err
	}
	t.ID = id
	t.XferRef = domain.XferRefFor(id)

	res, err := s.repo.RecordInwardTransfer(ctx, t, s.inwardPosting)
	if err != nil {
		return nil, err
	}

	entry := s.log.WithFields(logrus.Fields{"xfer_ref": t.XferRef, "acct_no": t.Beneficiary.AcctNo, "status": t.Status})
	if res == nil {
		entry.Warn("inward transfer recorded without a matching wallet")
		return t, nil
	}
	entry.WithField("txn_id", res.TxnID).Info("inward transfer credited")
	s.publishPosting(ctx, res)
	return t, nil
}

// MatchInwardTransfer credits an unmatched inward transfer to acctNo.
func (s *Service) MatchInwardTransfer(ctx context.Context, id int64, acctNo string) (*domain.InwardFundsTransfer, error) {
	if err := requireAcctNo(acctNo); err != nil {
		return nil, err
	}
	t, res, err := s.repo.MatchInwardTransfer(ctx, id, acctNo, s.inwardPosting)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"xfer_ref": t.XferRef, "acct_no": acctNo, "txn_id": res.TxnID}).Info("inward transfer matched")
	s.publishPosting(ctx, res)
	return t, nil
}

func (s *Service) GetInwardTransfer(ctx context.Context, id int64) (*domain.InwardFundsTransfer, error) {
	return s.repo.FindInwardTransfer(ctx, id)
}

func (s *Service) ListInwardTransfers(ctx context.Context) ([]domain.InwardFundsTransfer, error) {
	return s.repo.ListInwardTransfers(ctx)
}
