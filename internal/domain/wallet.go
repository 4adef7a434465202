/**
 * @description
 * Wallet model and the pure balance mutations applied by ledger postings.
 * Every mutation recomputes NetBalance so that
 * NetBalance == WalletBalance - LoanBalance holds after any sequence of calls.
 *
 * @dependencies
 * - github.com/shopspring/decimal: balances are decimals.
 */

package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

var acctNoPattern = regexp.MustCompile(`^\d{10}$`)

// ValidAcctNo reports whether acctNo is a 10-digit wallet account number.
func ValidAcctNo(acctNo string) bool {
	return acctNoPattern.MatchString(acctNo)
}

// TransactionType is the direction of a wallet history entry.
type TransactionType string

const (
	TxnCredit TransactionType = "credit"
	TxnDebit  TransactionType = "debit"
)

// WalletTransaction is one entry of a wallet's append-only history.
type WalletTransaction struct {
	Type              TransactionType `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	Date              time.Time       `json:"date"`
	TransferReference *string         `json:"transferReference,omitempty"`
	AcctNo            string          `json:"acct_no,omitempty"`
}

// Wallet is the per-account balance record.
type Wallet struct {
	ID            int64               `json:"wallet_id"`
	AcctNo        string              `json:"acct_no"`
	CustomerID    int64               `json:"customer_id"`
	Name          string              `json:"name"`
	WalletBalance decimal.Decimal     `json:"walletBalance"`
	LoanBalance   decimal.Decimal     `json:"loanBalance"`
	NetBalance    decimal.Decimal     `json:"netBalance"`
	Transactions  []WalletTransaction `json:"transactions,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// HasCustomerLink reports whether the wallet is linked to a customer record.
func (w *Wallet) HasCustomerLink() bool {
	return w.CustomerID > 0
}

func (w *Wallet) recomputeNet() {
	w.NetBalance = w.WalletBalance.Sub(w.LoanBalance)
}

// Credit adds amount to the spendable balance.
func (w *Wallet) Credit(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	w.WalletBalance = w.WalletBalance.Add(amount)
	w.recomputeNet()
	return nil
}

// Debit removes amount from the spendable balance. The wallet never goes negative.
func (w *Wallet) Debit(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if w.WalletBalance.LessThan(amount) {
		return fmt.Errorf("%w: wallet balance %s is below %s", ErrInsufficientFunds, w.WalletBalance, amount)
	}
	w.WalletBalance = w.WalletBalance.Sub(amount)
	w.recomputeNet()
	return nil
}

// AddLoan capitalizes a disbursed loan total onto the loan balance.
func (w *Wallet) AddLoan(total decimal.Decimal) error {
	if err := ValidateAmount(total); err != nil {
		return err
	}
	w.LoanBalance = w.LoanBalance.Add(total)
	w.recomputeNet()
	return nil
}

// RepayLoan reduces the loan balance by amount. With RepaymentFromWallet the
// same amount is also taken from the spendable balance.
func (w *Wallet) RepayLoan(amount decimal.Decimal, source RepaymentSource) error {
	if !w.LoanBalance.IsPositive() {
		return ErrNoOutstandingLoan
	}
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if amount.GreaterThan(w.LoanBalance) {
		return fmt.Errorf("%w: repayment amount exceeds loan balance", ErrInsufficientFunds)
	}
	switch source {
	case RepaymentExternal:
	case RepaymentFromWallet:
		if w.WalletBalance.LessThan(amount) {
			return fmt.Errorf("%w: wallet balance %s is below %s", ErrInsufficientFunds, w.WalletBalance, amount)
		}
		w.WalletBalance = w.WalletBalance.Sub(amount)
	default:
		return Invalidf("unknown repayment source %q", source)
	}
	w.LoanBalance = w.LoanBalance.Sub(amount)
	w.recomputeNet()
	return nil
}

// SweepableAmount is what an automatic repayment can take: min(wallet, loan).
func (w *Wallet) SweepableAmount() decimal.Decimal {
	if !w.LoanBalance.IsPositive() || !w.WalletBalance.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(w.WalletBalance, w.LoanBalance)
}

// Reset zeroes every balance and drops the history.
func (w *Wallet) Reset() {
	w.WalletBalance = decimal.Zero
	w.LoanBalance = decimal.Zero
	w.Transactions = nil
	w.recomputeNet()
}
