package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/logging"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paystackclient"
)

// fakeGateway stands in for Paystack. Unset hooks succeed.
type fakeGateway struct {
	mu sync.Mutex

	banks        []paystackclient.Bank
	listCalls    int
	recipientErr error
	transferFn   func(recipient string, amountKobo int64, reference string) (*paystackclient.Transfer, error)
	finalizeFn   func(code, otp string) (*paystackclient.Transfer, error)
	verifyFn     func(reference string) (*paystackclient.Verification, error)
	initialized  []paystackclient.InitializeRequest
	transfers    []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		banks: []paystackclient.Bank{
			{ID: 1, Name: "Access Bank", Code: "044"},
			{ID: 2, Name: "Guaranty Trust Bank", Code: "058"},
		},
	}
}

func (g *fakeGateway) ListBanks(ctx context.Context) ([]paystackclient.Bank, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	return g.banks, nil
}

func (g *fakeGateway) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	if g.recipientErr != nil {
		return "", g.recipientErr
	}
	return "RCP_" + accountNumber, nil
}

func (g *fakeGateway) InitiateTransfer(ctx context.Context, recipient string, amountKobo int64, reason, reference string) (*paystackclient.Transfer, error) {
	g.mu.Lock()
	g.transfers = append(g.transfers, reference)
	g.mu.Unlock()
	if g.transferFn != nil {
		return g.transferFn(recipient, amountKobo, reference)
	}
	return &paystackclient.Transfer{Reference: reference, TransferCode: "TRF_" + reference, Status: "otp", Amount: amountKobo}, nil
}

func (g *fakeGateway) FinalizeTransfer(ctx context.Context, transferCode, otp string) (*paystackclient.Transfer, error) {
	if g.finalizeFn != nil {
		return g.finalizeFn(transferCode, otp)
	}
	return &paystackclient.Transfer{TransferCode: transferCode, Status: "success"}, nil
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, req paystackclient.InitializeRequest) (*paystackclient.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = append(g.initialized, req)
	return &paystackclient.Authorization{AuthorizationURL: "https://checkout.paystack.com/abc", AccessCode: "abc", Reference: req.Reference}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*paystackclient.Verification, error) {
	if g.verifyFn != nil {
		return g.verifyFn(reference)
	}
	return nil, errors.New("verify not configured")
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testEnv struct {
	svc       *Service
	repo      *store.MemoryRepository
	gateway   *fakeGateway
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := store.NewMemoryRepository()
	gateway := newFakeGateway()
	publisher := &recordingPublisher{}
	logger := logging.Discard()
	banks := NewBankDirectory(gateway, nil, "test", 0, logger)
	svc := NewService(repo, gateway, banks, nil, publisher, Options{
		GL:                  domain.DefaultGLAccounts(),
		LoanTerms:           domain.DefaultLoanTerms(),
		WithdrawalRateLimit: 10,
	}, logger)
	return &testEnv{svc: svc, repo: repo, gateway: gateway, publisher: publisher}
}

func (e *testEnv) openWallet(t *testing.T, acctNo string, customerID int64, balance int64) {
	t.Helper()
	ctx := context.Background()
	_, created, err := e.svc.OpenWallet(ctx, OpenWalletRequest{AcctNo: acctNo, CustomerID: customerID, Name: "Driver " + acctNo})
	require.NoError(t, err)
	require.True(t, created)
	if balance > 0 {
		_, err = e.svc.CreditWallet(ctx, acctNo, decimal.NewFromInt(balance), "seed")
		require.NoError(t, err)
	}
}

func (e *testEnv) wallet(t *testing.T, acctNo string) *domain.Wallet {
	t.Helper()
	w, err := e.repo.FindWalletByAcctNo(context.Background(), acctNo)
	require.NoError(t, err)
	return w
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
