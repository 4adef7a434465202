package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/ledger-service/internal/domain"
)

func inwardTransfer(beneficiary string) *domain.InwardFundsTransfer {
	return &domain.InwardFundsTransfer{
		XferCurrencyID:    566,
		XferAmount:        dec("5000"),
		PayCurrencyID:     566,
		PayExchangeRate:   dec("1"),
		ValueDate:         time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		PriorityLevelCode: "N",
		Beneficiary:       domain.Beneficiary{Name: "Ada Obi", AcctNo: beneficiary},
		Remitter:          domain.Remitter{Name: "Chidi Obi"},
		RecSt:             "A",
		UserID:            "ops1",
		CreatedBy:         "ops1",
		RepairFlag:        "N",
		ForeignIftFlag:    "N",
	}
}

func TestCreateInwardTransfer_CreditsMatchingWallet(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)

	net := dec("4950")
	in := inwardTransfer("8012345678")
	in.NetAmountTransferred = &net

	got, err := env.svc.CreateInwardTransfer(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "00000720000000001", got.XferRef)
	assert.Equal(t, domain.InwardCredited, got.Status)
	assert.NotZero(t, got.TxnID)
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("4950")))
	assert.Equal(t, 1, env.publisher.count())
}

func TestCreateInwardTransfer_UnmatchedThenMatched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	got, err := env.svc.CreateInwardTransfer(ctx, inwardTransfer("8012345678"))
	require.NoError(t, err)
	assert.Equal(t, domain.InwardUnmatched, got.Status)
	assert.Zero(t, got.TxnID)

	env.openWallet(t, "8087654321", 2, 0)
	matched, err := env.svc.MatchInwardTransfer(ctx, got.ID, "8087654321")
	require.NoError(t, err)
	assert.Equal(t, domain.InwardCredited, matched.Status)
	assert.Equal(t, "8087654321", matched.CreditedAcctNo)
	assert.True(t, env.wallet(t, "8087654321").WalletBalance.Equal(dec("5000")))

	_, err = env.svc.MatchInwardTransfer(ctx, got.ID, "8087654321")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, env.wallet(t, "8087654321").WalletBalance.Equal(dec("5000")))
}

func TestCreateInwardTransfer_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := inwardTransfer("8012345678")
	bad.RepairFlag = "X"
	_, err := env.svc.CreateInwardTransfer(ctx, bad)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "repairFlag")

	zero := inwardTransfer("8012345678")
	zero.XferAmount = dec("0")
	_, err = env.svc.CreateInwardTransfer(ctx, zero)
	assert.ErrorIs(t, err, domain.ErrValidation)

	list, err := env.svc.ListInwardTransfers(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
