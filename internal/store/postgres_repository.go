/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface:
 * the sequence generator, wallets and their history, and the ledger posting
 * pipeline. Workflow tables (withdrawals, purchase requests, inward transfers)
 * live in postgres_workflows.go.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ledger-service/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// NextValue atomically increments and returns the named counter. The counter
// row is created on first use at its base value.
func (r *PostgresRepository) NextValue(ctx context.Context, counter string) (int64, error) {
	query := `
		INSERT INTO counters (name, seq) VALUES ($1, $2 + 1)
		ON CONFLICT (name) DO UPDATE SET seq = counters.seq + 1
		RETURNING seq
	`
	var seq int64
	if err := r.db.QueryRow(ctx, query, counter, domain.CounterBase(counter)).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next value for %s: %w", counter, err)
	}
	return seq, nil
}

const walletColumns = `wallet_id, acct_no, customer_id, name, wallet_balance, loan_balance, net_balance, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.AcctNo, &w.CustomerID, &w.Name, &w.WalletBalance, &w.LoanBalance, &w.NetBalance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a wallet or returns the existing one for the same acct_no.
func (r *PostgresRepository) CreateWallet(ctx context.Context, w *domain.Wallet) (*domain.Wallet, bool, error) {
	now := r.now()
	query := `
		INSERT INTO wallets (wallet_id, acct_no, customer_id, name, wallet_balance, loan_balance, net_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, $5, $5)
		ON CONFLICT (acct_no) DO NOTHING
		RETURNING ` + walletColumns
	created, err := scanWallet(r.db.QueryRow(ctx, query, w.ID, w.AcctNo, w.CustomerID, w.Name, now))
	if err == nil {
		return created, true, nil
	}
	if isUniqueViolation(err) {
		return nil, false, fmt.Errorf("customer %d already has a wallet: %w", w.CustomerID, domain.ErrConflict)
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, false, err
	}
	existing, err := r.FindWalletByAcctNo(ctx, w.AcctNo)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindWalletByAcctNo returns the wallet with its history in insertion order.
func (r *PostgresRepository) FindWalletByAcctNo(ctx context.Context, acctNo string) (*domain.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE acct_no = $1`, acctNo))
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT type, amount, description, created_at, transfer_reference, acct_no
		FROM wallet_transactions WHERE wallet_id = $1 ORDER BY id ASC
	`, w.ID)
	if err != nil {
		return nil, err
	}
	w.Transactions, err = scanWalletTransactions(rows)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func scanWalletTransactions(rows pgx.Rows) ([]domain.WalletTransaction, error) {
	defer rows.Close()
	var out []domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(&t.Type, &t.Amount, &t.Description, &t.Date, &t.TransferReference, &t.AcctNo); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListWalletsWithOutstandingLoan returns every wallet with loan_balance > 0.
func (r *PostgresRepository) ListWalletsWithOutstandingLoan(ctx context.Context) ([]domain.Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE loan_balance > 0 ORDER BY wallet_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// ListWalletTransactions returns the history rows of every wallet, newest first.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context) ([]domain.WalletTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT type, amount, description, created_at, transfer_reference, acct_no
		FROM wallet_transactions ORDER BY id DESC
	`)
	if err != nil {
		return nil, err
	}
	return scanWalletTransactions(rows)
}

// ResetWallet zeroes the balances and deletes the history of a wallet.
func (r *PostgresRepository) ResetWallet(ctx context.Context, acctNo string) (*domain.Wallet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := lockWallet(ctx, tx, acctNo)
	if err != nil {
		return nil, err
	}
	w.Reset()
	w.UpdatedAt = r.now()
	if _, err := tx.Exec(ctx, `DELETE FROM wallet_transactions WHERE wallet_id = $1`, w.ID); err != nil {
		return nil, err
	}
	if err := saveWallet(ctx, tx, w); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func lockWallet(ctx context.Context, q querier, acctNo string) (*domain.Wallet, error) {
	// FOR UPDATE serializes every posting against the same wallet.
	return scanWallet(q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE acct_no = $1 FOR UPDATE`, acctNo))
}

func saveWallet(ctx context.Context, q querier, w *domain.Wallet) error {
	_, err := q.Exec(ctx, `
		UPDATE wallets SET wallet_balance = $1, loan_balance = $2, net_balance = $3, updated_at = $4
		WHERE wallet_id = $5
	`, w.WalletBalance, w.LoanBalance, w.NetBalance, w.UpdatedAt, w.ID)
	return err
}

// ApplyPosting runs p as one database transaction. The txnId is drawn before
// the transaction starts, so a failed posting leaves a gap in the sequence.
func (r *PostgresRepository) ApplyPosting(ctx context.Context, p domain.Posting) (*domain.PostingResult, error) {
	txnID, err := r.NextValue(ctx, domain.CounterTxnID)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	res, err := r.applyPostingTx(ctx, tx, txnID, p)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *PostgresRepository) applyPostingTx(ctx context.Context, tx pgx.Tx, txnID int64, p domain.Posting) (*domain.PostingResult, error) {
	now := r.now()

	if p.IdempotencyKey != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ledger_postings (idempotency_key, txn_id, kind, acct_no, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, p.IdempotencyKey, txnID, p.Kind, p.AcctNo, now)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("%s: %w", p.IdempotencyKey, domain.ErrDuplicatePosting)
		}
	}

	w, err := lockWallet(ctx, tx, p.AcctNo)
	if err != nil {
		return nil, err
	}
	entry, err := p.Build(w)
	if err != nil {
		return nil, err
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	w.UpdatedAt = now

	if err := saveWallet(ctx, tx, w); err != nil {
		return nil, err
	}

	hist := entry.History
	hist.Date = now
	hist.AcctNo = w.AcctNo
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (wallet_id, acct_no, txn_id, type, amount, description, transfer_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.AcctNo, txnID, hist.Type, hist.Amount, hist.Description, hist.TransferReference, now); err != nil {
		return nil, err
	}
	entry.History = hist

	for _, leg := range entry.Legs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO gl_transactions (gl_acct_id, txn_id, txn_date, gl_acct_no, txn_type, amount, name, acct_no, wallet_id, description, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, domain.GLAcctIDFor(leg.GLAcctNo, txnID, leg.TxnType), txnID, now, leg.GLAcctNo, leg.TxnType, leg.Amount,
			w.Name, w.AcctNo, w.ID, leg.Description, p.CreatedBy); err != nil {
			return nil, err
		}
	}

	if entry.Record != nil {
		entry.Record.Stamp(txnID, w.ID, w.AcctNo, now)
		if err := insertSnapshot(ctx, tx, entry.Record); err != nil {
			return nil, err
		}
	}

	return &domain.PostingResult{TxnID: txnID, Kind: p.Kind, Wallet: *w, Entry: *entry}, nil
}

func insertSnapshot(ctx context.Context, q querier, record domain.Snapshot) error {
	var err error
	switch rec := record.(type) {
	case *domain.DisbursedLoan:
		_, err = q.Exec(ctx, `
			INSERT INTO disbursed_loans (txn_id, wallet_id, acct_no, principal, interest, total_disbursed, repayment_period, daily_repayment, description, purchase_request_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, rec.TxnID, rec.WalletID, rec.AcctNo, rec.Principal, rec.Interest, rec.TotalDisbursed, rec.RepaymentPeriod,
			rec.DailyRepayment, rec.Description, rec.PurchaseRequestID, rec.CreatedAt)
	case *domain.RepaymentTransaction:
		_, err = q.Exec(ctx, `
			INSERT INTO repayment_transactions (txn_id, wallet_id, acct_no, amount, source, description, created_by, txn_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rec.TxnID, rec.WalletID, rec.AcctNo, rec.Amount, rec.Source, rec.Description, rec.CreatedBy, rec.TxnDate)
	case *domain.Withdrawal:
		_, err = q.Exec(ctx, `
			INSERT INTO withdrawals (reference, txn_id, wallet_id, acct_no, amount, description, bank_code, account_number, recipient_code, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, rec.Reference, rec.TxnID, rec.WalletID, rec.AcctNo, rec.Amount, rec.Description, rec.BankCode,
			rec.AccountNumber, rec.RecipientCode, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	case *domain.ExternalCredit:
		_, err = q.Exec(ctx, `
			INSERT INTO external_credits (reference, txn_id, wallet_id, acct_no, name, email, amount, description, status, gateway, date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, rec.Reference, rec.TxnID, rec.WalletID, rec.AcctNo, rec.Name, rec.Email, rec.Amount, rec.Description,
			rec.Status, rec.Gateway, rec.Date)
	default:
		err = fmt.Errorf("unsupported posting record %T", record)
	}
	return err
}

const glColumns = `txn_id, txn_date, gl_acct_id, gl_acct_no, txn_type, amount, name, acct_no, wallet_id, description, created_by`

func scanGLTransactions(rows pgx.Rows) ([]domain.GLTransaction, error) {
	defer rows.Close()
	var out []domain.GLTransaction
	for rows.Next() {
		var g domain.GLTransaction
		if err := rows.Scan(&g.TxnID, &g.TxnDate, &g.GLAcctID, &g.GLAcctNo, &g.TxnType, &g.Amount, &g.Name,
			&g.AcctNo, &g.WalletID, &g.Description, &g.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListGLTransactionsByAcctNo returns the GL legs of one wallet, newest first.
func (r *PostgresRepository) ListGLTransactionsByAcctNo(ctx context.Context, acctNo string) ([]domain.GLTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+glColumns+` FROM gl_transactions WHERE acct_no = $1 ORDER BY txn_date DESC, txn_id DESC, gl_acct_id`, acctNo)
	if err != nil {
		return nil, err
	}
	return scanGLTransactions(rows)
}

// ListGLTransactions pages through every GL leg, newest first.
func (r *PostgresRepository) ListGLTransactions(ctx context.Context, limit, offset int) ([]domain.GLTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+glColumns+` FROM gl_transactions ORDER BY txn_date DESC, txn_id DESC, gl_acct_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanGLTransactions(rows)
}
