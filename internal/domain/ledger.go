/**
 * @description
 * The ledger posting abstraction. A Posting describes one business event that
 * moves money on a single wallet: Build receives the locked wallet, applies the
 * balance change in memory and returns the Entry (history row, balanced GL legs
 * and an optional snapshot) that the store persists in the same transaction.
 *
 * Constructors below are the only place GL account codes and directions are
 * chosen, so the double-entry rule is enforced once.
 *
 * @dependencies
 * - github.com/shopspring/decimal: leg amounts.
 */

package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

const SystemActor = "system"

var glAcctNoPattern = regexp.MustCompile(`^\d{13}$`)

// ValidGLAcctNo reports whether code is a 13-digit GL account number.
func ValidGLAcctNo(code string) bool {
	return glAcctNoPattern.MatchString(code)
}

// GLTxnType is the side of a GL leg.
type GLTxnType string

const (
	GLDebit  GLTxnType = "DR"
	GLCredit GLTxnType = "CR"
)

// ParseGLTxnType validates a CR/DR code.
func ParseGLTxnType(raw string) (GLTxnType, error) {
	switch GLTxnType(raw) {
	case GLDebit, GLCredit:
		return GLTxnType(raw), nil
	default:
		return "", Invalidf(`transaction type must be either "CR" or "DR"`)
	}
}

// GLAccounts is the chart of ledger accounts postings draw from.
type GLAccounts struct {
	WalletPool       string
	BankSettlement   string
	LoanDisbursement string
	LoanReceivable   string
	InwardClearing   string
	VendorPayment    string
}

// DefaultGLAccounts returns the production chart.
func DefaultGLAccounts() GLAccounts {
	return GLAccounts{
		WalletPool:       "1000211030201",
		BankSettlement:   "2000211030201",
		LoanDisbursement: "2000312030301",
		LoanReceivable:   "2000312030401",
		InwardClearing:   "1000311030101",
		VendorPayment:    "2000411030101",
	}
}

// GLLeg is one side of a double-entry movement, before it is stamped with a txnId.
type GLLeg struct {
	GLAcctNo    string
	TxnType     GLTxnType
	Amount      decimal.Decimal
	Description string
}

// GLTransaction is an immutable GL row.
type GLTransaction struct {
	TxnID       int64           `json:"txnId"`
	TxnDate     time.Time       `json:"txnDate"`
	GLAcctID    string          `json:"glAcctId"`
	GLAcctNo    string          `json:"glAcctNo"`
	TxnType     GLTxnType       `json:"txnType"`
	Amount      decimal.Decimal `json:"amount"`
	Name        string          `json:"name,omitempty"`
	AcctNo      string          `json:"acct_no"`
	WalletID    int64           `json:"wallet_id"`
	Description string          `json:"description"`
	CreatedBy   string          `json:"createdBy"`
}

// GLAcctIDFor builds the per-leg identifier "<glAcctNo>-<txnId>-<CR|DR>".
func GLAcctIDFor(glAcctNo string, txnID int64, txnType GLTxnType) string {
	return fmt.Sprintf("%s-%d-%s", glAcctNo, txnID, txnType)
}

// PostingKind names the business event behind a posting.
type PostingKind string

const (
	KindCredit           PostingKind = "credit"
	KindWithdrawal       PostingKind = "withdrawal"
	KindWithdrawalRefund PostingKind = "withdrawal_refund"
	KindDisbursement     PostingKind = "disbursement"
	KindRepayment        PostingKind = "repayment"
	KindAutoRepayment    PostingKind = "auto_repayment"
	KindInwardTransfer   PostingKind = "inward_transfer"
	KindExternalCredit   PostingKind = "external_credit"
	KindVendorPayout     PostingKind = "vendor_payout"
	KindGLAdjustment     PostingKind = "gl_adjustment"
)

// Snapshot is a denormalized record persisted alongside a posting.
type Snapshot interface {
	Stamp(txnID, walletID int64, acctNo string, at time.Time)
}

// Entry is what a posting persists once its wallet mutation succeeded.
type Entry struct {
	Amount  decimal.Decimal
	History WalletTransaction
	Legs    []GLLeg
	Record  Snapshot
}

// Validate checks the double-entry rule: at least two legs, valid accounts,
// positive amounts, and CR total equal to DR total.
func (e *Entry) Validate() error {
	if len(e.Legs) < 2 {
		return fmt.Errorf("%w: need at least two legs, got %d", ErrUnbalancedPosting, len(e.Legs))
	}
	debits, credits := decimal.Zero, decimal.Zero
	for _, leg := range e.Legs {
		if !ValidGLAcctNo(leg.GLAcctNo) {
			return Invalidf("%s is not a valid 13-digit GL Account Number", leg.GLAcctNo)
		}
		if !leg.Amount.IsPositive() {
			return fmt.Errorf("%w: leg on %s has non-positive amount %s", ErrUnbalancedPosting, leg.GLAcctNo, leg.Amount)
		}
		switch leg.TxnType {
		case GLDebit:
			debits = debits.Add(leg.Amount)
		case GLCredit:
			credits = credits.Add(leg.Amount)
		default:
			return fmt.Errorf("%w: unknown leg type %q", ErrUnbalancedPosting, leg.TxnType)
		}
	}
	if !debits.Equal(credits) {
		return fmt.Errorf("%w: DR %s != CR %s", ErrUnbalancedPosting, debits, credits)
	}
	return nil
}

// Posting is one unit of work against a single wallet.
type Posting struct {
	AcctNo            string
	Kind              PostingKind
	Description       string
	TransferReference string
	CreatedBy         string
	// IdempotencyKey, when set, makes a replayed posting fail with ErrDuplicatePosting.
	IdempotencyKey string
	// Build applies the balance change to the locked wallet and returns what to persist.
	// It must not touch storage.
	Build func(w *Wallet) (*Entry, error)
}

// PostingResult is returned once a posting has committed.
type PostingResult struct {
	TxnID  int64
	Kind   PostingKind
	Wallet Wallet
	Entry  Entry
}

func pair(debitAcct, creditAcct string, amount decimal.Decimal, description string) []GLLeg {
	return []GLLeg{
		{GLAcctNo: debitAcct, TxnType: GLDebit, Amount: amount, Description: description},
		{GLAcctNo: creditAcct, TxnType: GLCredit, Amount: amount, Description: description},
	}
}

func history(typ TransactionType, amount decimal.Decimal, description, reference string) WalletTransaction {
	tx := WalletTransaction{Type: typ, Amount: amount, Description: description}
	if reference != "" {
		ref := reference
		tx.TransferReference = &ref
	}
	return tx
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// CreditPosting funds a wallet.
func CreditPosting(acctNo string, amount decimal.Decimal, description string, gl GLAccounts) Posting {
	description = orDefault(description, "Credit Wallet")
	return Posting{
		AcctNo:      acctNo,
		Kind:        KindCredit,
		Description: description,
		CreatedBy:   SystemActor,
		Build: func(w *Wallet) (*Entry, error) {
			if err := w.Credit(amount); err != nil {
				return nil, err
			}
			return &Entry{
				Amount:  amount,
				History: history(TxnCredit, amount, description, ""),
				Legs:    pair(gl.WalletPool, gl.BankSettlement, amount, description),
			}, nil
		},
	}
}

// WithdrawalPosting debits a wallet for a cash-out to a bank account and
// persists the Withdrawal record in the same unit of work.
func WithdrawalPosting(wd *Withdrawal, gl GLAccounts) Posting {
	description := orDefault(wd.Description, "Cash Withdrawal")
	return Posting{
		AcctNo:            wd.AcctNo,
		Kind:              KindWithdrawal,
		Description:       description,
		TransferReference: wd.Reference,
		CreatedBy:         SystemActor,
		IdempotencyKey:    "withdrawal:" + wd.Reference,
		Build: func(w *Wallet) (*Entry, error) {
			if err := w.Debit(wd.Amount); err != nil {
				return nil, err
			}
			return &Entry{
				Amount:  wd.Amount,
				History: history(TxnDebit, wd.Amount, description, wd.Reference),
				Legs:    pair(gl.BankSettlement, gl.WalletPool, wd.Amount, description),
				Record:  wd,
			}, nil
		},
	}
}

// WithdrawalRefundPosting returns the funds of a withdrawal whose transfer did
// not go through. Keyed on the withdrawal reference so it can only happen once.
func WithdrawalRefundPosting(wd *Withdrawal, reason string, gl GLAccounts) Posting {
	description := "Reversal: " + orDefault(reason, "withdrawal transfer failed")
	return Posting{
		AcctNo:            wd.AcctNo,
		Kind:              KindWithdrawalRefund,
		Description:       description,
		TransferReference: wd.Reference,
		CreatedBy:         SystemActor,
		IdempotencyKey:    "withdrawal-refund:" + wd.Reference,
		Build: func(w *Wallet) (*Entry, error) {
			if err := w.Credit(wd.Amount); err != nil {
				return nil, err
			}
			return &Entry{
				Amount:  wd.Amount,
				History: history(TxnCredit, wd.Amount, description, wd.Reference),
				Legs:    pair(gl.WalletPool, gl.BankSettlement, wd.Amount, description),
			}, nil
		},
	}
}

func disbursementDescription(s LoanSchedule) string {
	return fmt.Sprintf("Loan Disbursement (Principal: %s, Interest: %s)", s.Principal.StringFixed(2), s.Interest.StringFixed(2))
}

// DisbursementPosting capitalizes a loan (principal plus interest) onto the loan balance.
func DisbursementPosting(acctNo string, schedule LoanSchedule, description string, gl GLAccounts) Posting {
	description = orDefault(description, disbursementDescription(schedule))
	return Posting{
		AcctNo:      acctNo,
		Kind:        KindDisbursement,
		Description: description,
		CreatedBy:   SystemActor,
		Build: func(w *Wallet) (*Entry, error) {
			if err := w.AddLoan(schedule.Total); err != nil {
				return nil, err
			}
			return &Entry{
				Amount:  schedule.Total,
				History: history(TxnCredit, schedule.Total, description, ""),
				Legs:    pair(gl.LoanDisbursement, gl.WalletPool, schedule.Total, description),
				Record:  newDisbursedLoan(schedule, description),
			}, nil
		},
	}
}

func newDisbursedLoan(schedule LoanSchedule, description string) *DisbursedLoan {
	return &DisbursedLoan{
		Principal:       schedule.Principal,
		Interest:        schedule.Interest,
		TotalDisbursed:  schedule.Total,
		RepaymentPeriod: schedule.RepaymentPeriod,
		DailyRepayment:  schedule.DailyRepayment,
		Description:     description,
	}
}

// RepaymentPosting applies a manual repayment of amount from source.
func RepaymentPosting(acctNo string, amount decimal.Decimal, source RepaymentSource, description string, gl GLAccounts) Posting {
	description = orDefault(description, "Loan Repayment")
	return Posting{
		AcctNo:      acctNo,
		Kind:        KindRepayment,
		Description: description,
		CreatedBy:   SystemActor,
		Build: func(w *Wallet) (*Entry, error) {
			if err := w.RepayLoan(amount, source); err != nil {
				return nil, err
			}
			return repaymentEntry(amount, source, description, gl), nil
		},
	}
}

// AutoRepaymentPosting takes min(wallet, loan) from the wallet to pay down the loan.
// The amount is only known once the wallet is locked.
func AutoRepaymentPosting(acctNo string, gl GLAccounts) Posting {
	const description = "Automatic Loan Repayment"
	return Posting{
		AcctNo:      acctNo,
		Kind:        KindAutoRepayment,
		Description: description,
		CreatedBy:   SystemActor,
		Build: func(w *Wallet) (*Entry, error) {
			amount := w.SweepableAmount()
			if !amount.IsPositive() {
				return nil, ErrNothingToRepay
			}
			if err := w.RepayLoan(amount, RepaymentFromWallet); err != nil {
				return nil, err
			}
			return repaymentEntry(amount, RepaymentFromWallet, description, gl), nil
		},
	}
}

func repaymentEntry(amount decimal.Decimal, source RepaymentSource, description string, gl GLAccounts) *Entry {
	return &Entry{
		Amount:  amount,
		History: history(TxnDebit, amount, description, ""),
		Legs: []GLLeg{
			{GLAcctNo: gl.LoanReceivable, TxnType: GLDebit, Amount: amount, Description: "Loan Repayment - Reduce Loan Receivable"},
			{GLAcctNo: gl.BankSettlement, TxnType: GLCredit, Amount: amount, Description: "Loan Repayment - Bank Outflow"},
		},
		Record: &RepaymentTransaction{
			Amount:      amount,
			Source:      source,
			Description: description,
			CreatedBy:   SystemActor,
		},
	}
}

// InwardTransferPosting credits a wallet with an externally originated transfer.
func InwardTransferPosting(acctNo string, amount decimal.Decimal, xferRef string, gl GLAccounts) Posting {
	description := "Incoming transfer: " + xferRef
	return Posting{
		AcctNo:            acctNo,
		Kind:              KindInwardTransfer,
		Description:       description,
		TransferReference: xferRef,
		CreatedBy:         SystemActor,
		IdempotencyKey:    "inward:" + xferRef,
		Build: func(w *Wallet) (*Entry, error) {
			if err := w.Credit(amount); err != nil {
				return nil, err
			}
			return &Entry{
				Amount:  amount,
				History: history(TxnCredit, amount, description, xferRef),
				Legs:    pair(gl.InwardClearing, gl.WalletPool, amount, description),
			}, nil
		},
	}
}

// ExternalCreditPosting credits a wallet funded through a gateway charge.
func ExternalCreditPosting(credit *ExternalCredit, gl GLAccounts) Posting {
	description := orDefault(credit.Description, "Fund Wallet")
	return Posting{
		AcctNo:            credit.AcctNo,
		Kind:              KindExternalCredit,
		Description:       description,
		TransferReference: credit.Reference,
		CreatedBy:         "paystack-webhook",
		IdempotencyKey:    "charge:" + credit.Reference,
		Build: func(w *Wallet) (*Entry, error) {
			if err := w.Credit(credit.Amount); err != nil {
				return nil, err
			}
			credit.Name = w.Name
			return &Entry{
				Amount:  credit.Amount,
				History: history(TxnCredit, credit.Amount, description, credit.Reference),
				Legs:    pair(gl.WalletPool, gl.BankSettlement, credit.Amount, description),
				Record:  credit,
			}, nil
		},
	}
}

// VendorPayoutPosting records the payment of a purchase request to its vendor
// and books the financed amount, with interest, as a loan on the driver's wallet.
func VendorPayoutPosting(pr *PurchaseRequest, schedule LoanSchedule, gl GLAccounts) Posting {
	description := fmt.Sprintf("Loan Disbursement for Purchase Request ID: %s", pr.ID)
	payout := fmt.Sprintf("Vendor payout to %s (%s)", pr.VendorName, pr.Reference)
	prID := pr.ID
	return Posting{
		AcctNo:            pr.AcctNo,
		Kind:              KindVendorPayout,
		Description:       description,
		TransferReference: pr.Reference,
		CreatedBy:         SystemActor,
		IdempotencyKey:    "purchase:" + pr.ID.String(),
		Build: func(w *Wallet) (*Entry, error) {
			if err := w.AddLoan(schedule.Total); err != nil {
				return nil, err
			}
			legs := pair(gl.VendorPayment, gl.BankSettlement, schedule.Principal, payout)
			legs = append(legs, pair(gl.LoanDisbursement, gl.WalletPool, schedule.Total, description)...)
			loan := newDisbursedLoan(schedule, description)
			loan.PurchaseRequestID = &prID
			return &Entry{
				Amount:  schedule.Total,
				History: history(TxnCredit, schedule.Total, description, pr.Reference),
				Legs:    legs,
				Record:  loan,
			}, nil
		},
	}
}

// ManualGLPosting books an operator-entered GL leg against glAcctNo with the
// wallet pool as contra account. CR credits the wallet, DR debits it.
func ManualGLPosting(acctNo, glAcctNo string, txnType GLTxnType, amount decimal.Decimal, description, createdBy string, gl GLAccounts) Posting {
	return Posting{
		AcctNo:      acctNo,
		Kind:        KindGLAdjustment,
		Description: description,
		CreatedBy:   orDefault(createdBy, SystemActor),
		Build: func(w *Wallet) (*Entry, error) {
			var (
				hist WalletTransaction
				legs []GLLeg
			)
			switch txnType {
			case GLCredit:
				if err := w.Credit(amount); err != nil {
					return nil, err
				}
				desc := orDefault(description, "GL Credit")
				hist = history(TxnCredit, amount, desc, "")
				legs = pair(gl.WalletPool, glAcctNo, amount, desc)
			case GLDebit:
				if err := w.Debit(amount); err != nil {
					return nil, err
				}
				desc := orDefault(description, "GL Debit")
				hist = history(TxnDebit, amount, desc, "")
				legs = pair(glAcctNo, gl.WalletPool, amount, desc)
			default:
				return nil, Invalidf(`transaction type must be either "CR" or "DR"`)
			}
			return &Entry{Amount: amount, History: hist, Legs: legs}, nil
		},
	}
}

// Stamp implementations fill in the identifiers known only at commit time.

func (d *DisbursedLoan) Stamp(txnID, walletID int64, acctNo string, at time.Time) {
	d.TxnID, d.WalletID, d.AcctNo, d.CreatedAt = txnID, walletID, acctNo, at
}

func (r *RepaymentTransaction) Stamp(txnID, walletID int64, acctNo string, at time.Time) {
	r.TxnID, r.WalletID, r.AcctNo, r.TxnDate = txnID, walletID, acctNo, at
}

func (wd *Withdrawal) Stamp(txnID, walletID int64, acctNo string, at time.Time) {
	wd.TxnID, wd.WalletID, wd.AcctNo, wd.CreatedAt, wd.UpdatedAt = txnID, walletID, acctNo, at, at
}

func (c *ExternalCredit) Stamp(txnID, walletID int64, acctNo string, at time.Time) {
	c.TxnID, c.WalletID, c.AcctNo, c.Date = txnID, walletID, acctNo, at
}
