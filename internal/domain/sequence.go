package domain

// Named counters issued by the sequence generator.
const (
	CounterTxnID          = "txnId"
	CounterWalletID       = "wallet_id"
	CounterInwardTransfer = "inwdFundsXferId"
)

// TxnIDBase keeps transaction ids at a fixed 13-digit width.
const TxnIDBase int64 = 1000000000000

// CounterBase is the value a counter holds before its first increment.
func CounterBase(name string) int64 {
	if name == CounterTxnID {
		return TxnIDBase
	}
	return 0
}
