package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// MemoryRepository is an in-process Repository for tests and local runs. One
// mutex guards everything, so each method is a serializable unit of work.
type MemoryRepository struct {
	mu sync.Mutex

	now             func() time.Time
	counters        map[string]int64
	wallets         map[string]*domain.Wallet
	customers       map[int64]string
	postingKeys     map[string]int64
	history         []domain.WalletTransaction
	gl              []domain.GLTransaction
	loans           []domain.DisbursedLoan
	repayments      []domain.RepaymentTransaction
	withdrawals     map[string]*domain.Withdrawal
	credits         map[string]*domain.ExternalCredit
	purchases       map[uuid.UUID]*domain.PurchaseRequest
	inward          map[int64]*domain.InwardFundsTransfer
	identifications []domain.CustomerIdentification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:         func() time.Time { return time.Now().UTC() },
		counters:    make(map[string]int64),
		wallets:     make(map[string]*domain.Wallet),
		customers:   make(map[int64]string),
		postingKeys: make(map[string]int64),
		withdrawals: make(map[string]*domain.Withdrawal),
		credits:     make(map[string]*domain.ExternalCredit),
		purchases:   make(map[uuid.UUID]*domain.PurchaseRequest),
		inward:      make(map[int64]*domain.InwardFundsTransfer),
	}
}

func (m *MemoryRepository) NextValue(_ context.Context, counter string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextValueLocked(counter), nil
}

func (m *MemoryRepository) nextValueLocked(counter string) int64 {
	seq, ok := m.counters[counter]
	if !ok {
		seq = domain.CounterBase(counter)
	}
	seq++
	m.counters[counter] = seq
	return seq
}

func copyWallet(w *domain.Wallet) *domain.Wallet {
	c := *w
	c.Transactions = append([]domain.WalletTransaction(nil), w.Transactions...)
	return &c
}

func (m *MemoryRepository) CreateWallet(_ context.Context, w *domain.Wallet) (*domain.Wallet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.wallets[w.AcctNo]; ok {
		return copyWallet(existing), false, nil
	}
	if w.CustomerID > 0 {
		if _, taken := m.customers[w.CustomerID]; taken {
			return nil, false, fmt.Errorf("customer %d already has a wallet: %w", w.CustomerID, domain.ErrConflict)
		}
	}
	now := m.now()
	stored := &domain.Wallet{
		ID:         w.ID,
		AcctNo:     w.AcctNo,
		CustomerID: w.CustomerID,
		Name:       w.Name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.wallets[w.AcctNo] = stored
	if w.CustomerID > 0 {
		m.customers[w.CustomerID] = w.AcctNo
	}
	return copyWallet(stored), true, nil
}

func (m *MemoryRepository) FindWalletByAcctNo(_ context.Context, acctNo string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[acctNo]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return copyWallet(w), nil
}

func (m *MemoryRepository) ListWalletsWithOutstandingLoan(_ context.Context) ([]domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Wallet
	for _, w := range m.wallets {
		if w.LoanBalance.IsPositive() {
			c := *w
			c.Transactions = nil
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) ListWalletTransactions(_ context.Context) ([]domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.WalletTransaction, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}

func (m *MemoryRepository) ResetWallet(_ context.Context, acctNo string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[acctNo]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	w.Reset()
	w.UpdatedAt = m.now()
	kept := m.history[:0]
	for _, h := range m.history {
		if h.AcctNo != acctNo {
			kept = append(kept, h)
		}
	}
	m.history = kept
	return copyWallet(w), nil
}

func (m *MemoryRepository) ApplyPosting(_ context.Context, p domain.Posting) (*domain.PostingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(m.nextValueLocked(domain.CounterTxnID), p)
}

func (m *MemoryRepository) applyLocked(txnID int64, p domain.Posting) (*domain.PostingResult, error) {
	if p.IdempotencyKey != "" {
		if _, seen := m.postingKeys[p.IdempotencyKey]; seen {
			return nil, fmt.Errorf("%s: %w", p.IdempotencyKey, domain.ErrDuplicatePosting)
		}
	}
	stored, ok := m.wallets[p.AcctNo]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}

	w := copyWallet(stored)
	entry, err := p.Build(w)
	if err != nil {
		return nil, err
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	w.UpdatedAt = now
	entry.History.Date = now
	entry.History.AcctNo = w.AcctNo
	w.Transactions = append(w.Transactions, entry.History)
	m.wallets[w.AcctNo] = w
	m.history = append(m.history, entry.History)
	if p.IdempotencyKey != "" {
		m.postingKeys[p.IdempotencyKey] = txnID
	}

	for _, leg := range entry.Legs {
		m.gl = append(m.gl, domain.GLTransaction{
			TxnID:       txnID,
			TxnDate:     now,
			GLAcctID:    domain.GLAcctIDFor(leg.GLAcctNo, txnID, leg.TxnType),
			GLAcctNo:    leg.GLAcctNo,
			TxnType:     leg.TxnType,
			Amount:      leg.Amount,
			Name:        w.Name,
			AcctNo:      w.AcctNo,
			WalletID:    w.ID,
			Description: leg.Description,
			CreatedBy:   p.CreatedBy,
		})
	}

	if entry.Record != nil {
		entry.Record.Stamp(txnID, w.ID, w.AcctNo, now)
		switch rec := entry.Record.(type) {
		case *domain.DisbursedLoan:
			m.loans = append(m.loans, *rec)
		case *domain.RepaymentTransaction:
			m.repayments = append(m.repayments, *rec)
		case *domain.Withdrawal:
			c := *rec
			m.withdrawals[rec.Reference] = &c
		case *domain.ExternalCredit:
			c := *rec
			m.credits[rec.Reference] = &c
		default:
			return nil, fmt.Errorf("unsupported posting record %T", rec)
		}
	}

	return &domain.PostingResult{TxnID: txnID, Kind: p.Kind, Wallet: *copyWallet(w), Entry: *entry}, nil
}

func (m *MemoryRepository) ListGLTransactionsByAcctNo(_ context.Context, acctNo string) ([]domain.GLTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GLTransaction
	for i := len(m.gl) - 1; i >= 0; i-- {
		if m.gl[i].AcctNo == acctNo {
			out = append(out, m.gl[i])
		}
	}
	return out, nil
}

func (m *MemoryRepository) ListGLTransactions(_ context.Context, limit, offset int) ([]domain.GLTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GLTransaction
	for i := len(m.gl) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.gl[i])
	}
	return out, nil
}

func (m *MemoryRepository) FindWithdrawalByReference(_ context.Context, reference string) (*domain.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[reference]
	if !ok {
		return nil, domain.ErrWithdrawalNotFound
	}
	c := *w
	return &c, nil
}

func (m *MemoryRepository) UpdateWithdrawalTransfer(_ context.Context, reference string, u WithdrawalUpdate) (*domain.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[reference]
	if !ok {
		return nil, domain.ErrWithdrawalNotFound
	}
	if u.RecipientCode != "" {
		w.RecipientCode = u.RecipientCode
	}
	if u.TransferCode != "" {
		w.TransferCode = u.TransferCode
	}
	if u.TransferCodeExpiresAt != nil {
		exp := *u.TransferCodeExpiresAt
		w.TransferCodeExpiresAt = &exp
	}
	if u.Status != "" {
		w.Status = u.Status
	}
	if u.FailureReason != "" {
		w.FailureReason = u.FailureReason
	}
	w.UpdatedAt = m.now()
	c := *w
	return &c, nil
}

func (m *MemoryRepository) FindActiveTransferCode(_ context.Context, acctNo string, now time.Time) (*domain.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.Withdrawal
	for _, w := range m.withdrawals {
		if w.AcctNo != acctNo || !w.TransferCodeUsable(now) {
			continue
		}
		if best == nil || w.TransferCodeExpiresAt.After(*best.TransferCodeExpiresAt) {
			best = w
		}
	}
	if best == nil {
		return nil, domain.ErrTransferCodeNotFound
	}
	c := *best
	return &c, nil
}

func (m *MemoryRepository) FindExternalCreditByReference(_ context.Context, reference string) (*domain.ExternalCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[reference]
	if !ok {
		return nil, fmt.Errorf("external credit %w", domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) CreatePurchaseRequest(_ context.Context, pr *domain.PurchaseRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.purchases[pr.ID]; exists {
		return fmt.Errorf("purchase request %s: %w", pr.ID, domain.ErrConflict)
	}
	c := *pr
	m.purchases[pr.ID] = &c
	return nil
}

func (m *MemoryRepository) FindPurchaseRequestByID(_ context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.purchases[id]
	if !ok {
		return nil, domain.ErrPurchaseRequestNotFound
	}
	c := *pr
	return &c, nil
}

func (m *MemoryRepository) findByReferenceLocked(reference string) *domain.PurchaseRequest {
	if reference == "" {
		return nil
	}
	for _, pr := range m.purchases {
		if pr.Reference == reference {
			return pr
		}
	}
	return nil
}

func (m *MemoryRepository) FindPurchaseRequestByReference(_ context.Context, reference string) (*domain.PurchaseRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr := m.findByReferenceLocked(reference)
	if pr == nil {
		return nil, domain.ErrPurchaseRequestNotFound
	}
	c := *pr
	return &c, nil
}

func (m *MemoryRepository) listPurchases(match func(*domain.PurchaseRequest) bool) []domain.PurchaseRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PurchaseRequest
	for _, pr := range m.purchases {
		if match(pr) {
			out = append(out, *pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateRequested.After(out[j].DateRequested) })
	return out
}

func (m *MemoryRepository) ListPurchaseRequests(_ context.Context) ([]domain.PurchaseRequest, error) {
	return m.listPurchases(func(*domain.PurchaseRequest) bool { return true }), nil
}

func (m *MemoryRepository) ListPurchaseRequestsByPhone(_ context.Context, phone string) ([]domain.PurchaseRequest, error) {
	return m.listPurchases(func(pr *domain.PurchaseRequest) bool { return pr.PhoneNumber == phone }), nil
}

func (m *MemoryRepository) TransitionPurchaseRequest(_ context.Context, id uuid.UUID, from, to domain.PurchaseStatus, reference string) (*domain.PurchaseRequest, error) {
	if err := domain.CheckTransition(from, to); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.purchases[id]
	if !ok {
		return nil, domain.ErrPurchaseRequestNotFound
	}
	if pr.Status != from {
		return nil, fmt.Errorf("%w: request is %s", domain.ErrInvalidTransition, pr.Status)
	}
	pr.Status = to
	if reference != "" {
		pr.Reference = reference
	}
	pr.UpdatedAt = m.now()
	c := *pr
	return &c, nil
}

func (m *MemoryRepository) UpdatePurchaseTransfer(_ context.Context, id uuid.UUID, u PurchaseTransferUpdate) (*domain.PurchaseRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.purchases[id]
	if !ok {
		return nil, domain.ErrPurchaseRequestNotFound
	}
	if u.RecipientCode != "" {
		pr.RecipientCode = u.RecipientCode
	}
	if u.TransferCode != "" {
		pr.TransferCode = u.TransferCode
	}
	if u.TransferStatus != "" {
		pr.TransferStatus = u.TransferStatus
	}
	if u.FailureReason != "" {
		pr.FailureReason = u.FailureReason
	}
	if u.Reference != "" {
		pr.Reference = u.Reference
	}
	pr.UpdatedAt = m.now()
	c := *pr
	return &c, nil
}

func (m *MemoryRepository) SettlePurchaseRequest(_ context.Context, reference string, build func(pr *domain.PurchaseRequest) (domain.Posting, error)) (*domain.PurchaseRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr := m.findByReferenceLocked(reference)
	if pr == nil {
		return nil, false, domain.ErrPurchaseRequestNotFound
	}
	if pr.Status == domain.PurchasePaid {
		c := *pr
		return &c, false, nil
	}
	if err := domain.CheckTransition(pr.Status, domain.PurchasePaid); err != nil {
		return nil, false, err
	}

	snapshot := *pr
	posting, err := build(&snapshot)
	if err != nil {
		return nil, false, err
	}
	if _, err := m.applyLocked(m.nextValueLocked(domain.CounterTxnID), posting); err != nil {
		return nil, false, err
	}

	now := m.now()
	pr.Status = domain.PurchasePaid
	pr.TransferStatus = domain.TransferSuccess
	pr.PaidAt = &now
	pr.UpdatedAt = now
	c := *pr
	return &c, true, nil
}

func (m *MemoryRepository) RecordInwardTransfer(_ context.Context, t *domain.InwardFundsTransfer, build func(t *domain.InwardFundsTransfer) domain.Posting) (*domain.PostingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.inward[t.ID]; exists {
		return nil, fmt.Errorf("inward transfer %d: %w", t.ID, domain.ErrConflict)
	}
	now := m.now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Status = domain.InwardUnmatched

	var res *domain.PostingResult
	if _, ok := m.wallets[t.Beneficiary.AcctNo]; ok {
		var err error
		res, err = m.applyLocked(m.nextValueLocked(domain.CounterTxnID), build(t))
		if err != nil {
			return nil, err
		}
		t.Status = domain.InwardCredited
		t.CreditedAcctNo = t.Beneficiary.AcctNo
		t.TxnID = res.TxnID
	}
	c := *t
	m.inward[t.ID] = &c
	return res, nil
}

func (m *MemoryRepository) MatchInwardTransfer(_ context.Context, id int64, acctNo string, build func(t *domain.InwardFundsTransfer) domain.Posting) (*domain.InwardFundsTransfer, *domain.PostingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.inward[id]
	if !ok {
		return nil, nil, domain.ErrInwardTransferNotFound
	}
	if stored.Status != domain.InwardUnmatched {
		return nil, nil, fmt.Errorf("inward transfer %d already %s: %w", id, stored.Status, domain.ErrConflict)
	}
	t := *stored
	t.CreditedAcctNo = acctNo
	res, err := m.applyLocked(m.nextValueLocked(domain.CounterTxnID), build(&t))
	if err != nil {
		return nil, nil, err
	}
	t.Status = domain.InwardCredited
	t.TxnID = res.TxnID
	t.UpdatedAt = m.now()
	*stored = t
	return &t, res, nil
}

func (m *MemoryRepository) FindInwardTransfer(_ context.Context, id int64) (*domain.InwardFundsTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.inward[id]
	if !ok {
		return nil, domain.ErrInwardTransferNotFound
	}
	c := *t
	return &c, nil
}

func (m *MemoryRepository) ListInwardTransfers(_ context.Context) ([]domain.InwardFundsTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.InwardFundsTransfer, 0, len(m.inward))
	for _, t := range m.inward {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryRepository) CreateCustomerIdentification(_ context.Context, ci *domain.CustomerIdentification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ci.ID = int64(len(m.identifications) + 1)
	m.identifications = append(m.identifications, *ci)
	return nil
}

// CustomerIdentifications returns every stored identification result.
func (m *MemoryRepository) CustomerIdentifications() []domain.CustomerIdentification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CustomerIdentification(nil), m.identifications...)
}

var _ Repository = (*MemoryRepository)(nil)
var _ Repository = (*PostgresRepository)(nil)
