package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Loan defaults. Interest is capitalized at disbursement, not accrued.
var (
	DefaultInterestRate    = decimal.RequireFromString("0.15")
	DefaultRepaymentPeriod = 14
)

// RepaymentSource says where repayment funds come from.
type RepaymentSource string

const (
	// RepaymentExternal settles the loan with funds received outside the
	// wallet; only the loan balance moves.
	RepaymentExternal RepaymentSource = "external"
	// RepaymentFromWallet pulls the funds out of the wallet balance.
	RepaymentFromWallet RepaymentSource = "wallet"
)

// ParseRepaymentSource maps request input to a source, defaulting to external.
func ParseRepaymentSource(raw string) (RepaymentSource, error) {
	switch RepaymentSource(raw) {
	case "":
		return RepaymentExternal, nil
	case RepaymentExternal, RepaymentFromWallet:
		return RepaymentSource(raw), nil
	default:
		return "", Invalidf("source must be %q or %q", RepaymentExternal, RepaymentFromWallet)
	}
}

// LoanTerms are the pricing inputs of a disbursement.
type LoanTerms struct {
	InterestRate    decimal.Decimal
	RepaymentPeriod int
}

// DefaultLoanTerms returns the standard 15% / 14 day terms.
func DefaultLoanTerms() LoanTerms {
	return LoanTerms{InterestRate: DefaultInterestRate, RepaymentPeriod: DefaultRepaymentPeriod}
}

// LoanSchedule is the computed breakdown for one disbursement.
type LoanSchedule struct {
	Principal       decimal.Decimal `json:"principal"`
	InterestRate    decimal.Decimal `json:"interestRate"`
	Interest        decimal.Decimal `json:"interest"`
	Total           decimal.Decimal `json:"totalDisbursement"`
	RepaymentPeriod int             `json:"repaymentPeriod"`
	DailyRepayment  decimal.Decimal `json:"dailyRepayment"`
}

// Compute prices a loan of principal under t.
func (t LoanTerms) Compute(principal decimal.Decimal) (LoanSchedule, error) {
	if err := ValidateAmount(principal); err != nil {
		return LoanSchedule{}, err
	}
	if t.InterestRate.IsNegative() {
		return LoanSchedule{}, Invalidf("interest rate must not be negative")
	}
	if t.RepaymentPeriod < 1 {
		return LoanSchedule{}, Invalidf("repayment period must be at least one day")
	}

	// Interest is kept in kobo so the booked loan matches what the gateway can
	// move. DailyRepayment is a guide figure and stays unrounded.
	interest := principal.Mul(t.InterestRate).Round(2)
	total := principal.Add(interest)
	return LoanSchedule{
		Principal:       principal,
		InterestRate:    t.InterestRate,
		Interest:        interest,
		Total:           total,
		RepaymentPeriod: t.RepaymentPeriod,
		DailyRepayment:  total.Div(decimal.NewFromInt(int64(t.RepaymentPeriod))),
	}, nil
}

// DisbursedLoan is the snapshot written with every disbursement posting.
type DisbursedLoan struct {
	TxnID             int64           `json:"txnId"`
	WalletID          int64           `json:"wallet_id"`
	AcctNo            string          `json:"acct_no"`
	Principal         decimal.Decimal `json:"principal"`
	Interest          decimal.Decimal `json:"interest"`
	TotalDisbursed    decimal.Decimal `json:"totalDisbursed"`
	RepaymentPeriod   int             `json:"repaymentPeriod"`
	DailyRepayment    decimal.Decimal `json:"dailyRepayment"`
	Description       string          `json:"description"`
	PurchaseRequestID *uuid.UUID      `json:"purchaseRequestId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// RepaymentTransaction is the snapshot written with every repayment posting.
type RepaymentTransaction struct {
	TxnID       int64           `json:"txnId"`
	WalletID    int64           `json:"wallet_id"`
	AcctNo      string          `json:"acct_no"`
	Amount      decimal.Decimal `json:"amount"`
	Source      RepaymentSource `json:"source"`
	Description string          `json:"description"`
	CreatedBy   string          `json:"createdBy"`
	TxnDate     time.Time       `json:"txnDate"`
}
