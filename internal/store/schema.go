package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		seq  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		wallet_id      BIGINT PRIMARY KEY,
		acct_no        VARCHAR(10) NOT NULL UNIQUE,
		customer_id    BIGINT NOT NULL DEFAULT 0,
		name           TEXT NOT NULL DEFAULT '',
		wallet_balance NUMERIC(20,4) NOT NULL DEFAULT 0,
		loan_balance   NUMERIC(20,4) NOT NULL DEFAULT 0,
		net_balance    NUMERIC(20,4) NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS wallets_customer_id_key ON wallets (customer_id) WHERE customer_id > 0`,
	`CREATE INDEX IF NOT EXISTS wallets_outstanding_loan_idx ON wallets (acct_no) WHERE loan_balance > 0`,
	`CREATE TABLE IF NOT EXISTS wallet_transactions (
		id                 BIGSERIAL PRIMARY KEY,
		wallet_id          BIGINT NOT NULL REFERENCES wallets (wallet_id),
		acct_no            VARCHAR(10) NOT NULL,
		txn_id             BIGINT NOT NULL,
		type               TEXT NOT NULL,
		amount             NUMERIC(20,4) NOT NULL,
		description        TEXT NOT NULL DEFAULT '',
		transfer_reference TEXT,
		created_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS wallet_transactions_wallet_idx ON wallet_transactions (wallet_id, id)`,
	`CREATE TABLE IF NOT EXISTS ledger_postings (
		idempotency_key TEXT PRIMARY KEY,
		txn_id          BIGINT NOT NULL,
		kind            TEXT NOT NULL,
		acct_no         VARCHAR(10) NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS gl_transactions (
		gl_acct_id  TEXT PRIMARY KEY,
		txn_id      BIGINT NOT NULL,
		txn_date    TIMESTAMPTZ NOT NULL,
		gl_acct_no  VARCHAR(13) NOT NULL,
		txn_type    VARCHAR(2) NOT NULL CHECK (txn_type IN ('CR', 'DR')),
		amount      NUMERIC(20,4) NOT NULL CHECK (amount > 0),
		name        TEXT NOT NULL DEFAULT '',
		acct_no     VARCHAR(10) NOT NULL,
		wallet_id   BIGINT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS gl_transactions_acct_no_idx ON gl_transactions (acct_no, txn_date DESC)`,
	`CREATE INDEX IF NOT EXISTS gl_transactions_txn_date_idx ON gl_transactions (txn_date DESC, txn_id DESC)`,
	`CREATE TABLE IF NOT EXISTS disbursed_loans (
		txn_id              BIGINT PRIMARY KEY,
		wallet_id           BIGINT NOT NULL,
		acct_no             VARCHAR(10) NOT NULL,
		principal           NUMERIC(20,4) NOT NULL,
		interest            NUMERIC(20,4) NOT NULL,
		total_disbursed     NUMERIC(20,4) NOT NULL,
		repayment_period    INT NOT NULL,
		daily_repayment     NUMERIC(20,4) NOT NULL,
		description         TEXT NOT NULL DEFAULT '',
		purchase_request_id UUID,
		created_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS repayment_transactions (
		txn_id      BIGINT PRIMARY KEY,
		wallet_id   BIGINT NOT NULL,
		acct_no     VARCHAR(10) NOT NULL,
		amount      NUMERIC(20,4) NOT NULL,
		source      TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by  TEXT NOT NULL,
		txn_date    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		reference                TEXT PRIMARY KEY,
		txn_id                   BIGINT NOT NULL,
		wallet_id                BIGINT NOT NULL,
		acct_no                  VARCHAR(10) NOT NULL,
		amount                   NUMERIC(20,4) NOT NULL,
		description              TEXT NOT NULL DEFAULT '',
		bank_code                TEXT NOT NULL,
		account_number           TEXT NOT NULL,
		recipient_code           TEXT NOT NULL DEFAULT '',
		transfer_code            TEXT NOT NULL DEFAULT '',
		transfer_code_expires_at TIMESTAMPTZ,
		status                   TEXT NOT NULL,
		failure_reason           TEXT NOT NULL DEFAULT '',
		created_at               TIMESTAMPTZ NOT NULL,
		updated_at               TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS withdrawals_transfer_code_idx ON withdrawals (acct_no, transfer_code_expires_at DESC) WHERE transfer_code <> ''`,
	`CREATE TABLE IF NOT EXISTS external_credits (
		reference   TEXT PRIMARY KEY,
		txn_id      BIGINT NOT NULL,
		wallet_id   BIGINT NOT NULL,
		acct_no     VARCHAR(10) NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL DEFAULT '',
		amount      NUMERIC(20,4) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		gateway     TEXT NOT NULL,
		date        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_requests (
		id                    UUID PRIMARY KEY,
		driver_id             TEXT NOT NULL,
		phone_number          TEXT NOT NULL,
		acct_no               VARCHAR(10) NOT NULL,
		request_type          TEXT NOT NULL,
		vendor_name           TEXT NOT NULL,
		vendor_contacts       TEXT NOT NULL,
		vendor_account_number TEXT NOT NULL,
		vendor_bank_name      TEXT NOT NULL,
		business_name         TEXT NOT NULL,
		business_address      TEXT NOT NULL,
		purchase_item         TEXT NOT NULL,
		amount                NUMERIC(20,4) NOT NULL,
		comment               TEXT NOT NULL,
		vehicle_number        TEXT NOT NULL,
		status                TEXT NOT NULL,
		reference             TEXT UNIQUE,
		recipient_code        TEXT NOT NULL DEFAULT '',
		transfer_code         TEXT NOT NULL DEFAULT '',
		transfer_status       TEXT NOT NULL DEFAULT '',
		failure_reason        TEXT NOT NULL DEFAULT '',
		date_requested        TIMESTAMPTZ NOT NULL,
		paid_at               TIMESTAMPTZ,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS purchase_requests_phone_idx ON purchase_requests (phone_number)`,
	`CREATE TABLE IF NOT EXISTS inward_funds_transfers (
		inwd_funds_xfer_id BIGINT PRIMARY KEY,
		xfer_ref           TEXT NOT NULL UNIQUE,
		xfer_amount        NUMERIC(20,4) NOT NULL,
		credit_amount      NUMERIC(20,4) NOT NULL,
		beneficiary_acct_no VARCHAR(10) NOT NULL,
		status             TEXT NOT NULL,
		credited_acct_no   TEXT NOT NULL DEFAULT '',
		txn_id             BIGINT NOT NULL DEFAULT 0,
		instruction        JSONB NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customer_identifications (
		id             BIGSERIAL PRIMARY KEY,
		event          TEXT NOT NULL,
		customer_id    BIGINT NOT NULL,
		customer_code  TEXT NOT NULL,
		email          TEXT NOT NULL,
		identification JSONB NOT NULL,
		received_at    TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the tables the service needs.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
