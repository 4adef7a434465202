package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway webhook event names.
const (
	EventChargeSuccess        = "charge.success"
	EventTransferSuccess      = "transfer.success"
	EventTransferFailed       = "transfer.failed"
	EventTransferReversed     = "transfer.reversed"
	EventCustomerIDSuccess    = "customeridentification.success"
	EventCustomerIDFailed     = "customeridentification.failed"
	EventLedgerPostingApplied = "ledger.posting.applied"
)

// KnownGatewayEvent reports whether the service acts on event.
func KnownGatewayEvent(event string) bool {
	switch event {
	case EventChargeSuccess, EventTransferSuccess, EventTransferFailed, EventTransferReversed,
		EventCustomerIDSuccess, EventCustomerIDFailed:
		return true
	default:
		return false
	}
}

// GatewayEvent is the envelope of a payment gateway webhook.
type GatewayEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChargeData is the payload of charge.success. Amount is in kobo.
type ChargeData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	Metadata struct {
		AcctNo string `json:"acct_no"`
	} `json:"metadata"`
}

// TransferData is the payload of the transfer.* events.
type TransferData struct {
	Reference     string `json:"reference"`
	TransferCode  string `json:"transfer_code"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	FailureReason string `json:"failure_reason"`
}

// Message picks the most specific failure text the gateway sent.
func (d TransferData) Message() string {
	if d.FailureReason != "" {
		return d.FailureReason
	}
	return d.Reason
}

// CustomerIdentificationData is the payload of the customeridentification.* events.
type CustomerIdentificationData struct {
	CustomerID     int64           `json:"customer_id"`
	CustomerCode   string          `json:"customer_code"`
	Email          string          `json:"email"`
	Identification json.RawMessage `json:"identification"`
}

// LedgerPostingEvent is published after a posting commits.
type LedgerPostingEvent struct {
	TxnID         int64           `json:"txn_id"`
	AcctNo        string          `json:"acct_no"`
	Kind          PostingKind     `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	LoanBalance   decimal.Decimal `json:"loan_balance"`
	NetBalance    decimal.Decimal `json:"net_balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewLedgerPostingEvent summarizes a committed posting.
func NewLedgerPostingEvent(res *PostingResult, at time.Time) LedgerPostingEvent {
	return LedgerPostingEvent{
		TxnID:         res.TxnID,
		AcctNo:        res.Wallet.AcctNo,
		Kind:          res.Kind,
		Amount:        res.Entry.Amount,
		WalletBalance: res.Wallet.WalletBalance,
		LoanBalance:   res.Wallet.LoanBalance,
		NetBalance:    res.Wallet.NetBalance,
		OccurredAt:    at,
	}
}
