package store

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/ledger-service/internal/domain"
)

// newPostgresRepository connects to TEST_DATABASE_URL and migrates it. Tests
// share the database, so each one works on its own freshly numbered wallet.
func newPostgresRepository(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))
	require.NoError(t, Migrate(ctx, pool))
	return NewPostgresRepository(pool)
}

func seedPostgresWallet(t *testing.T, repo *PostgresRepository, balance string) string {
	t.Helper()
	ctx := context.Background()
	acctNo := fmt.Sprintf("9%09d", rand.Intn(1_000_000_000))
	id, err := repo.NextValue(ctx, domain.CounterWalletID)
	require.NoError(t, err)
	_, created, err := repo.CreateWallet(ctx, &domain.Wallet{ID: id, AcctNo: acctNo, CustomerID: id, Name: "Driver " + acctNo})
	require.NoError(t, err)
	require.True(t, created)
	if balance != "0" {
		_, err = repo.ApplyPosting(ctx, domain.CreditPosting(acctNo, decimal.RequireFromString(balance), "seed", domain.DefaultGLAccounts()))
		require.NoError(t, err)
	}
	return acctNo
}

func TestPostgresNextValue_NeverRepeats(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()

	first, err := repo.NextValue(ctx, domain.CounterTxnID)
	require.NoError(t, err)
	assert.Greater(t, first, domain.CounterBase(domain.CounterTxnID))

	const n = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := repo.NextValue(ctx, domain.CounterTxnID)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[v], "duplicate value %d", v)
			assert.Greater(t, v, first)
			seen[v] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestPostgresApplyPosting_ReplayIsDuplicate(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	acctNo := seedPostgresWallet(t, repo, "0")

	credit := &domain.ExternalCredit{
		Reference: "fw_" + acctNo,
		AcctNo:    acctNo,
		Amount:    decimal.RequireFromString("2500.50"),
		Status:    "success",
		Gateway:   "paystack",
	}
	_, err := repo.ApplyPosting(ctx, domain.ExternalCreditPosting(credit, domain.DefaultGLAccounts()))
	require.NoError(t, err)
	_, err = repo.ApplyPosting(ctx, domain.ExternalCreditPosting(credit, domain.DefaultGLAccounts()))
	require.ErrorIs(t, err, domain.ErrDuplicatePosting)
	assert.ErrorIs(t, err, domain.ErrConflict)

	w, err := repo.FindWalletByAcctNo(ctx, acctNo)
	require.NoError(t, err)
	assert.True(t, w.WalletBalance.Equal(decimal.RequireFromString("2500.50")))
	assert.Len(t, w.Transactions, 1)

	legs, err := repo.ListGLTransactionsByAcctNo(ctx, acctNo)
	require.NoError(t, err)
	assert.Len(t, legs, 2)
}

func TestPostgresApplyPosting_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	acctNo := seedPostgresWallet(t, repo, "100")

	const attempts = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wd := &domain.Withdrawal{AcctNo: acctNo, Amount: decimal.NewFromInt(10), Reference: domain.NewWithdrawalReference(), Status: domain.TransferPending}
			_, err := repo.ApplyPosting(ctx, domain.WithdrawalPosting(wd, domain.DefaultGLAccounts()))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	w, err := repo.FindWalletByAcctNo(ctx, acctNo)
	require.NoError(t, err)
	assert.True(t, w.WalletBalance.IsZero())
	assert.True(t, w.NetBalance.Equal(w.WalletBalance.Sub(w.LoanBalance)))
}
