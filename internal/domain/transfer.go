/**
 * @description
 * Records for money that enters or leaves the platform through the banking
 * rails: cash withdrawals, gateway-funded credits, inward funds transfers and
 * the customer identification results reported by the gateway.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Withdrawal is a cash-out from a wallet to a bank account. It also holds the
// gateway transfer code used to finalize OTP-gated transfers.
type Withdrawal struct {
	TxnID                 int64           `json:"txnId"`
	WalletID              int64           `json:"wallet_id"`
	AcctNo                string          `json:"acct_no"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description"`
	BankCode              string          `json:"bank_code"`
	AccountNumber         string          `json:"account_number"`
	RecipientCode         string          `json:"recipient_code,omitempty"`
	Reference             string          `json:"reference"`
	TransferCode          string          `json:"transfer_code,omitempty"`
	TransferCodeExpiresAt *time.Time      `json:"transfer_code_expires_at,omitempty"`
	Status                string          `json:"status"`
	FailureReason         string          `json:"failure_reason,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// NewWithdrawalReference generates the transfer reference for a cash-out.
func NewWithdrawalReference() string {
	return "wd_" + uuid.NewString()
}

// TransferCodeUsable reports whether the stored transfer code can still be finalized.
func (w *Withdrawal) TransferCodeUsable(now time.Time) bool {
	return w.TransferCode != "" && w.TransferCodeExpiresAt != nil && now.Before(*w.TransferCodeExpiresAt)
}

// Refundable reports whether the withdrawn funds have not been returned yet.
// A reversal may follow a success, so success stays refundable.
func (w *Withdrawal) Refundable() bool {
	return w.Status != TransferFailed && w.Status != TransferReversed && w.Status != TransferReconcile
}

// WithdrawalItem is one line of a cash-wallet batch.
type WithdrawalItem struct {
	Name          string          `json:"name"`
	AcctNo        string          `json:"acct_no" validate:"required,numeric,len=10"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	BankCode      string          `json:"bank_code" validate:"required"`
	AccountNumber string          `json:"account_number" validate:"required,numeric,len=10"`
}

// WithdrawalResult is the per-item outcome of a cash-wallet batch.
type WithdrawalResult struct {
	AcctNo       string `json:"acct_no"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	Reference    string `json:"reference,omitempty"`
	TransferCode string `json:"transfer_code,omitempty"`
}

// ExternalCredit is a wallet funding received through the payment gateway.
type ExternalCredit struct {
	TxnID       int64           `json:"txnId"`
	WalletID    int64           `json:"wallet_id"`
	Reference   string          `json:"reference"`
	AcctNo      string          `json:"acct_no"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Gateway     string          `json:"gateway"`
	Date        time.Time       `json:"date"`
}

// InwardStatus tracks whether an inward transfer has reached a wallet.
type InwardStatus string

const (
	InwardCredited  InwardStatus = "credited"
	InwardUnmatched InwardStatus = "unmatched"
)

// Beneficiary is the receiving side of an inward transfer.
type Beneficiary struct {
	Name          string `json:"name" validate:"required"`
	AcctNo        string `json:"acct_no" validate:"required"`
	AddressLine1  string `json:"addressLine1,omitempty"`
	TelNo         string `json:"telNo,omitempty"`
	BicID         int64  `json:"bicId,omitempty"`
	BankName      string `json:"bankName,omitempty"`
	Branch        string `json:"branch,omitempty"`
	BankCountryID int64  `json:"bankCountryId,omitempty"`
}

// Remitter is the originating side of an inward transfer.
type Remitter struct {
	Name          string `json:"name" validate:"required"`
	AccountNo     string `json:"accountNo,omitempty"`
	AddressLine1  string `json:"addressLine1,omitempty"`
	TelNo         string `json:"telNo,omitempty"`
	IdentNo       string `json:"identNo,omitempty"`
	BankName      string `json:"bankName,omitempty"`
	BranchName    string `json:"branchName,omitempty"`
	BankCountryID int64  `json:"bankCountryId,omitempty"`
}

// InwardFundsTransfer is an externally originated credit instruction.
type InwardFundsTransfer struct {
	ID                   int64            `json:"inwdFundsXferId"`
	XferRef              string           `json:"xferRef"`
	PaymentMethodCode    string           `json:"paymentMethodCode,omitempty"`
	ChargesPayerCode     string           `json:"chargesPayerCode,omitempty"`
	XferCurrencyID       int64            `json:"xferCurrencyId" validate:"required"`
	XferAmount           decimal.Decimal  `json:"xferAmount"`
	SendingBankCharge    *decimal.Decimal `json:"sendingBankCharge,omitempty"`
	ReceivingBankCharge  *decimal.Decimal `json:"receivingBankCharge,omitempty"`
	TotalCharge          *decimal.Decimal `json:"totalCharge,omitempty"`
	NetAmountTransferred *decimal.Decimal `json:"netAmountTransferred,omitempty"`
	PayCurrencyID        int64            `json:"payCurrencyId" validate:"required"`
	PayExchangeRate      decimal.Decimal  `json:"payExchangeRate"`
	PayAmount            *decimal.Decimal `json:"payAmount,omitempty"`
	ValueDate            time.Time        `json:"valueDate"`
	PriorityLevelCode    string           `json:"priorityLevelCode" validate:"required"`
	SupplementaryRef     string           `json:"supplementaryRef,omitempty"`
	PayDetails           string           `json:"payDetails,omitempty"`
	Beneficiary          Beneficiary      `json:"beneficiary"`
	Remitter             Remitter         `json:"remitter"`
	RecSt                string           `json:"recSt" validate:"required,oneof=A I P"`
	VersionNo            int              `json:"versionNo"`
	UserID               string           `json:"userId" validate:"required"`
	CreatedBy            string           `json:"createdBy" validate:"required"`
	RepairFlag           string           `json:"repairFlag" validate:"required,oneof=Y N"`
	ForeignIftFlag       string           `json:"foreignIftFlag" validate:"required,oneof=Y N"`
	Status               InwardStatus     `json:"status"`
	CreditedAcctNo       string           `json:"creditedAcctNo,omitempty"`
	TxnID                int64            `json:"txnId,omitempty"`
	CreatedAt            time.Time        `json:"createDt"`
	UpdatedAt            time.Time        `json:"rowTs"`
}

// CreditAmount is what the beneficiary wallet receives: the net amount when
// charges were deducted, else the transfer amount.
func (t *InwardFundsTransfer) CreditAmount() decimal.Decimal {
	if t.NetAmountTransferred != nil && t.NetAmountTransferred.IsPositive() {
		return *t.NetAmountTransferred
	}
	return t.XferAmount
}

// Validate checks the amounts the struct tags cannot express.
func (t *InwardFundsTransfer) Validate() error {
	if err := ValidateAmount(t.XferAmount); err != nil {
		return err
	}
	if !t.PayExchangeRate.IsPositive() {
		return Invalidf("payExchangeRate must be greater than zero")
	}
	if t.ValueDate.IsZero() {
		return Invalidf("valueDate is required")
	}
	if !ValidAcctNo(t.Beneficiary.AcctNo) {
		return Invalidf("beneficiary acct_no must be a 10-digit account number")
	}
	return nil
}

// XferRefFor formats the transfer reference for sequence value id.
func XferRefFor(id int64) string {
	return fmt.Sprintf("0000072%010d", id)
}

// CustomerIdentification stores a gateway identity verification result.
type CustomerIdentification struct {
	ID             int64           `json:"id"`
	Event          string          `json:"event"`
	CustomerID     int64           `json:"customer_id"`
	CustomerCode   string          `json:"customer_code"`
	Email          string          `json:"email"`
	Identification json.RawMessage `json:"identification"`
	ReceivedAt     time.Time       `json:"receivedAt"`
}
