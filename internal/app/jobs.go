/**
 * @description
 * Scheduled job implementations for the ledger-service.
 */
package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
)

// WalletLister lists the wallets the repayment sweep visits.
type WalletLister interface {
	ListWalletsWithOutstandingLoan(ctx context.Context) ([]domain.Wallet, error)
}

// Repayer applies an automatic repayment to one wallet.
type Repayer interface {
	AutoRepay(ctx context.Context, acctNo string) (*domain.PostingResult, error)
}

// RepaymentSummary reports what one sweep did.
type RepaymentSummary struct {
	Scanned   int             `json:"scanned"`
	Repaid    int             `json:"repaid"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	TotalPaid decimal.Decimal `json:"totalPaid"`
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	wallets WalletLister
	repayer Repayer
	logger  *logrus.Entry
}

// NewJobs creates a new Jobs runner.
func NewJobs(wallets WalletLister, repayer Repayer, logger logrus.FieldLogger) *Jobs {
	return &Jobs{
		wallets: wallets,
		repayer: repayer,
		logger:  logger.WithField("component", "jobs"),
	}
}

// RunLoanRepayments is the cron entry point.
func (j *Jobs) RunLoanRepayments() {
	if _, err := j.ProcessLoanRepayments(context.Background()); err != nil {
		j.logger.WithError(err).Error("loan repayment job failed")
	}
}

// ProcessLoanRepayments sweeps min(wallet, loan) from every wallet with an
// outstanding loan. A failure on one wallet is logged and the sweep moves on.
func (j *Jobs) ProcessLoanRepayments(ctx context.Context) (RepaymentSummary, error) {
	j.logger.Info("starting loan repayment job")
	summary := RepaymentSummary{TotalPaid: decimal.Zero}

	wallets, err := j.wallets.ListWalletsWithOutstandingLoan(ctx)
	if err != nil {
		return summary, err
	}

	for _, w := range wallets {
		summary.Scanned++
		log := j.logger.WithFields(logrus.Fields{"acct_no": w.AcctNo, "wallet_id": w.ID})

		if !w.HasCustomerLink() {
			log.Warn("wallet has no linked customer; skipping repayment")
			summary.Skipped++
			continue
		}

		res, err := j.repayer.AutoRepay(ctx, w.AcctNo)
		switch {
		case errors.Is(err, domain.ErrNothingToRepay), errors.Is(err, domain.ErrNoOutstandingLoan):
			summary.Skipped++
		case err != nil:
			log.WithError(err).Error("automatic repayment failed")
			summary.Failed++
		default:
			summary.Repaid++
			summary.TotalPaid = summary.TotalPaid.Add(res.Entry.Amount)
			log.WithFields(logrus.Fields{
				"amount":       res.Entry.Amount.String(),
				"loan_balance": res.Wallet.LoanBalance.String(),
			}).Info("automatic repayment applied")
		}
	}

	j.logger.WithFields(logrus.Fields{
		"scanned":    summary.Scanned,
		"repaid":     summary.Repaid,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
		"total_paid": summary.TotalPaid.String(),
	}).Info("loan repayment job finished")
	return summary, nil
}
