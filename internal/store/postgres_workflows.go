package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/transfa/ledger-service/internal/domain"
)

const withdrawalColumns = `reference, txn_id, wallet_id, acct_no, amount, description, bank_code, account_number,
	recipient_code, transfer_code, transfer_code_expires_at, status, failure_reason, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := row.Scan(&w.Reference, &w.TxnID, &w.WalletID, &w.AcctNo, &w.Amount, &w.Description, &w.BankCode,
		&w.AccountNumber, &w.RecipientCode, &w.TransferCode, &w.TransferCodeExpiresAt, &w.Status,
		&w.FailureReason, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FindWithdrawalByReference returns the withdrawal behind a transfer reference.
func (r *PostgresRepository) FindWithdrawalByReference(ctx context.Context, reference string) (*domain.Withdrawal, error) {
	return scanWithdrawal(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE reference = $1`, reference))
}

// UpdateWithdrawalTransfer records gateway progress on a withdrawal.
func (r *PostgresRepository) UpdateWithdrawalTransfer(ctx context.Context, reference string, u WithdrawalUpdate) (*domain.Withdrawal, error) {
	query := `
		UPDATE withdrawals SET
			recipient_code = COALESCE(NULLIF($2, ''), recipient_code),
			transfer_code = COALESCE(NULLIF($3, ''), transfer_code),
			transfer_code_expires_at = COALESCE($4, transfer_code_expires_at),
			status = COALESCE(NULLIF($5, ''), status),
			failure_reason = COALESCE(NULLIF($6, ''), failure_reason),
			updated_at = $7
		WHERE reference = $1
		RETURNING ` + withdrawalColumns
	return scanWithdrawal(r.db.QueryRow(ctx, query, reference, u.RecipientCode, u.TransferCode, u.TransferCodeExpiresAt,
		u.Status, u.FailureReason, r.now()))
}

// FindActiveTransferCode returns the newest withdrawal of acctNo whose transfer
// code has not expired at now.
func (r *PostgresRepository) FindActiveTransferCode(ctx context.Context, acctNo string, now time.Time) (*domain.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRow(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE acct_no = $1 AND transfer_code <> '' AND transfer_code_expires_at > $2
		ORDER BY transfer_code_expires_at DESC LIMIT 1
	`, acctNo, now))
	if errors.Is(err, domain.ErrWithdrawalNotFound) {
		return nil, domain.ErrTransferCodeNotFound
	}
	return w, err
}

// FindExternalCreditByReference returns the credit recorded for a gateway charge.
func (r *PostgresRepository) FindExternalCreditByReference(ctx context.Context, reference string) (*domain.ExternalCredit, error) {
	var c domain.ExternalCredit
	err := r.db.QueryRow(ctx, `
		SELECT reference, txn_id, wallet_id, acct_no, name, email, amount, description, status, gateway, date
		FROM external_credits WHERE reference = $1
	`, reference).Scan(&c.Reference, &c.TxnID, &c.WalletID, &c.AcctNo, &c.Name, &c.Email, &c.Amount,
		&c.Description, &c.Status, &c.Gateway, &c.Date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("external credit %w", domain.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

const purchaseColumns = `id, driver_id, phone_number, acct_no, request_type, vendor_name, vendor_contacts,
	vendor_account_number, vendor_bank_name, business_name, business_address, purchase_item, amount, comment,
	vehicle_number, status, COALESCE(reference, ''), recipient_code, transfer_code, transfer_status, failure_reason,
	date_requested, paid_at, updated_at`

func scanPurchaseRequest(row pgx.Row) (*domain.PurchaseRequest, error) {
	var p domain.PurchaseRequest
	err := row.Scan(&p.ID, &p.DriverID, &p.PhoneNumber, &p.AcctNo, &p.RequestType, &p.VendorName, &p.VendorContacts,
		&p.VendorAccountNumber, &p.VendorBankName, &p.BusinessName, &p.BusinessAddress, &p.PurchaseItem, &p.Amount,
		&p.Comment, &p.VehicleNumber, &p.Status, &p.Reference, &p.RecipientCode, &p.TransferCode, &p.TransferStatus,
		&p.FailureReason, &p.DateRequested, &p.PaidAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPurchaseRequestNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPurchaseRequests(rows pgx.Rows) ([]domain.PurchaseRequest, error) {
	defer rows.Close()
	var out []domain.PurchaseRequest
	for rows.Next() {
		p, err := scanPurchaseRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CreatePurchaseRequest inserts a new purchase request.
func (r *PostgresRepository) CreatePurchaseRequest(ctx context.Context, p *domain.PurchaseRequest) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO purchase_requests (
			id, driver_id, phone_number, acct_no, request_type, vendor_name, vendor_contacts, vendor_account_number,
			vendor_bank_name, business_name, business_address, purchase_item, amount, comment, vehicle_number,
			status, date_requested, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, p.ID, p.DriverID, p.PhoneNumber, p.AcctNo, p.RequestType, p.VendorName, p.VendorContacts, p.VendorAccountNumber,
		p.VendorBankName, p.BusinessName, p.BusinessAddress, p.PurchaseItem, p.Amount, p.Comment, p.VehicleNumber,
		p.Status, p.DateRequested, p.UpdatedAt)
	return err
}

func (r *PostgresRepository) FindPurchaseRequestByID(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	return scanPurchaseRequest(r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchase_requests WHERE id = $1`, id))
}

func (r *PostgresRepository) FindPurchaseRequestByReference(ctx context.Context, reference string) (*domain.PurchaseRequest, error) {
	return scanPurchaseRequest(r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchase_requests WHERE reference = $1`, reference))
}

func (r *PostgresRepository) ListPurchaseRequests(ctx context.Context) ([]domain.PurchaseRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+purchaseColumns+` FROM purchase_requests ORDER BY date_requested DESC`)
	if err != nil {
		return nil, err
	}
	return scanPurchaseRequests(rows)
}

func (r *PostgresRepository) ListPurchaseRequestsByPhone(ctx context.Context, phone string) ([]domain.PurchaseRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+purchaseColumns+` FROM purchase_requests WHERE phone_number = $1 ORDER BY date_requested DESC`, phone)
	if err != nil {
		return nil, err
	}
	return scanPurchaseRequests(rows)
}

// TransitionPurchaseRequest is a conditional update on the current status.
func (r *PostgresRepository) TransitionPurchaseRequest(ctx context.Context, id uuid.UUID, from, to domain.PurchaseStatus, reference string) (*domain.PurchaseRequest, error) {
	if err := domain.CheckTransition(from, to); err != nil {
		return nil, err
	}
	p, err := scanPurchaseRequest(r.db.QueryRow(ctx, `
		UPDATE purchase_requests
		SET status = $3, reference = COALESCE(NULLIF($4, ''), reference), updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+purchaseColumns, id, from, to, reference, r.now()))
	if errors.Is(err, domain.ErrPurchaseRequestNotFound) {
		current, findErr := r.FindPurchaseRequestByID(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("%w: request is %s", domain.ErrInvalidTransition, current.Status)
	}
	return p, err
}

// UpdatePurchaseTransfer records gateway progress on a purchase payout.
func (r *PostgresRepository) UpdatePurchaseTransfer(ctx context.Context, id uuid.UUID, u PurchaseTransferUpdate) (*domain.PurchaseRequest, error) {
	return scanPurchaseRequest(r.db.QueryRow(ctx, `
		UPDATE purchase_requests SET
			recipient_code = COALESCE(NULLIF($2, ''), recipient_code),
			transfer_code = COALESCE(NULLIF($3, ''), transfer_code),
			transfer_status = COALESCE(NULLIF($4, ''), transfer_status),
			failure_reason = COALESCE(NULLIF($5, ''), failure_reason),
			reference = COALESCE(NULLIF($6, ''), reference),
			updated_at = $7
		WHERE id = $1
		RETURNING `+purchaseColumns, id, u.RecipientCode, u.TransferCode, u.TransferStatus, u.FailureReason, u.Reference, r.now()))
}

// SettlePurchaseRequest applies the vendor payout and marks the request Paid.
func (r *PostgresRepository) SettlePurchaseRequest(ctx context.Context, reference string, build func(pr *domain.PurchaseRequest) (domain.Posting, error)) (*domain.PurchaseRequest, bool, error) {
	txnID, err := r.NextValue(ctx, domain.CounterTxnID)
	if err != nil {
		return nil, false, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	pr, err := scanPurchaseRequest(tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchase_requests WHERE reference = $1 FOR UPDATE`, reference))
	if err != nil {
		return nil, false, err
	}
	if pr.Status == domain.PurchasePaid {
		return pr, false, nil
	}
	if err := domain.CheckTransition(pr.Status, domain.PurchasePaid); err != nil {
		return nil, false, err
	}

	posting, err := build(pr)
	if err != nil {
		return nil, false, err
	}
	if _, err := r.applyPostingTx(ctx, tx, txnID, posting); err != nil {
		return nil, false, err
	}

	now := r.now()
	pr, err = scanPurchaseRequest(tx.QueryRow(ctx, `
		UPDATE purchase_requests SET status = $2, transfer_status = $3, paid_at = $4, updated_at = $4
		WHERE id = $1
		RETURNING `+purchaseColumns, pr.ID, domain.PurchasePaid, domain.TransferSuccess, now))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return pr, true, nil
}

func scanInwardTransfer(row pgx.Row) (*domain.InwardFundsTransfer, error) {
	var (
		raw       []byte
		status    domain.InwardStatus
		credited  string
		txnID     int64
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&raw, &status, &credited, &txnID, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInwardTransferNotFound
		}
		return nil, err
	}
	var t domain.InwardFundsTransfer
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode inward transfer: %w", err)
	}
	t.Status, t.CreditedAcctNo, t.TxnID, t.CreatedAt, t.UpdatedAt = status, credited, txnID, createdAt, updatedAt
	return &t, nil
}

const inwardColumns = `instruction, status, credited_acct_no, txn_id, created_at, updated_at`

// RecordInwardTransfer stores the transfer and credits the beneficiary when
// their wallet exists.
func (r *PostgresRepository) RecordInwardTransfer(ctx context.Context, t *domain.InwardFundsTransfer, build func(t *domain.InwardFundsTransfer) domain.Posting) (*domain.PostingResult, error) {
	txnID, err := r.NextValue(ctx, domain.CounterTxnID)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Status = domain.InwardUnmatched

	var res *domain.PostingResult
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE acct_no = $1)`, t.Beneficiary.AcctNo).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		res, err = r.applyPostingTx(ctx, tx, txnID, build(t))
		if err != nil {
			return nil, err
		}
		t.Status = domain.InwardCredited
		t.CreditedAcctNo = t.Beneficiary.AcctNo
		t.TxnID = res.TxnID
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inward_funds_transfers (inwd_funds_xfer_id, xfer_ref, xfer_amount, credit_amount, beneficiary_acct_no, status, credited_acct_no, txn_id, instruction, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, t.ID, t.XferRef, t.XferAmount, t.CreditAmount(), t.Beneficiary.AcctNo, t.Status, t.CreditedAcctNo, t.TxnID, string(raw), now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// MatchInwardTransfer credits an unmatched transfer to acctNo.
func (r *PostgresRepository) MatchInwardTransfer(ctx context.Context, id int64, acctNo string, build func(t *domain.InwardFundsTransfer) domain.Posting) (*domain.InwardFundsTransfer, *domain.PostingResult, error) {
	txnID, err := r.NextValue(ctx, domain.CounterTxnID)
	if err != nil {
		return nil, nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	t, err := scanInwardTransfer(tx.QueryRow(ctx, `SELECT `+inwardColumns+` FROM inward_funds_transfers WHERE inwd_funds_xfer_id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, nil, err
	}
	if t.Status != domain.InwardUnmatched {
		return nil, nil, fmt.Errorf("inward transfer %d already %s: %w", id, t.Status, domain.ErrConflict)
	}

	t.CreditedAcctNo = acctNo
	res, err := r.applyPostingTx(ctx, tx, txnID, build(t))
	if err != nil {
		return nil, nil, err
	}
	t.Status = domain.InwardCredited
	t.TxnID = res.TxnID
	t.UpdatedAt = r.now()

	if _, err := tx.Exec(ctx, `
		UPDATE inward_funds_transfers SET status = $2, credited_acct_no = $3, txn_id = $4, updated_at = $5
		WHERE inwd_funds_xfer_id = $1
	`, id, t.Status, t.CreditedAcctNo, t.TxnID, t.UpdatedAt); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return t, res, nil
}

func (r *PostgresRepository) FindInwardTransfer(ctx context.Context, id int64) (*domain.InwardFundsTransfer, error) {
	return scanInwardTransfer(r.db.QueryRow(ctx, `SELECT `+inwardColumns+` FROM inward_funds_transfers WHERE inwd_funds_xfer_id = $1`, id))
}

func (r *PostgresRepository) ListInwardTransfers(ctx context.Context) ([]domain.InwardFundsTransfer, error) {
	rows, err := r.db.Query(ctx, `SELECT `+inwardColumns+` FROM inward_funds_transfers ORDER BY inwd_funds_xfer_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.InwardFundsTransfer
	for rows.Next() {
		t, err := scanInwardTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CreateCustomerIdentification stores a gateway identity check result.
func (r *PostgresRepository) CreateCustomerIdentification(ctx context.Context, ci *domain.CustomerIdentification) error {
	identification := ci.Identification
	if len(identification) == 0 {
		identification = json.RawMessage(`{}`)
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO customer_identifications (event, customer_id, customer_code, email, identification, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, ci.Event, ci.CustomerID, ci.CustomerCode, ci.Email, string(identification), ci.ReceivedAt).Scan(&ci.ID)
}
