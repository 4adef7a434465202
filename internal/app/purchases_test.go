package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/paystackclient"
)

func newPurchase(bank string) domain.NewPurchaseRequest {
	return domain.NewPurchaseRequest{
		DriverID:            "DRV-001",
		PhoneNumber:         "08012345678",
		RequestType:         "Tyre Purchase",
		VendorName:          "Mama Tyres",
		VendorContacts:      "08030000000",
		VendorAccountNumber: "0123456789",
		VendorBankName:      bank,
		BusinessName:        "Mama Tyres Ltd",
		BusinessAddress:     "12 Ikorodu Road, Lagos",
		PurchaseItem:        "2 x 195/65R15",
		Amount:              dec("1000"),
		Comment:             "Front tyres worn out",
		VehicleNumber:       "LND-123-XY",
	}
}

func TestCreatePurchaseRequest_DerivesAcctNoFromPhone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Access Bank"))
	require.NoError(t, err)
	assert.Equal(t, "8012345678", pr.AcctNo)
	assert.Equal(t, domain.PurchasePending, pr.Status)

	list, err := env.svc.ListPurchaseRequestsByPhone(ctx, "08012345678")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.svc.ListPurchaseRequestsByPhone(ctx, "08099999999")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bad := newPurchase("Access Bank")
	bad.VendorAccountNumber = ""
	_, err = env.svc.CreatePurchaseRequest(ctx, bad)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "vendorAccountNumber is required")
}

func TestApprovePurchase_PaysVendorAndBooksLoan(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)
	ctx := context.Background()

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("access bank"))
	require.NoError(t, err)

	paid, err := env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Approved")
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasePaid, paid.Status)
	assert.Equal(t, domain.TransferSuccess, paid.TransferStatus)
	assert.True(t, domain.IsPurchaseReference(paid.Reference))
	require.NotNil(t, paid.PaidAt)

	w := env.wallet(t, "8012345678")
	assert.True(t, w.LoanBalance.Equal(dec("1150")))
	assert.True(t, w.WalletBalance.IsZero())

	legs, err := env.svc.ListGLTransactionsByAcctNo(ctx, "8012345678")
	require.NoError(t, err)
	assert.Len(t, legs, 4)
}

func TestSettle_ReplayedTransferSuccessPostsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)
	ctx := context.Background()

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Access Bank"))
	require.NoError(t, err)
	paid, err := env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Approved")
	require.NoError(t, err)

	data, _ := json.Marshal(map[string]string{"reference": paid.Reference, "status": "success"})
	err = env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferSuccess, Data: data})
	require.NoError(t, err)

	_, settled, err := env.svc.Settle(ctx, paid.Reference)
	require.NoError(t, err)
	assert.False(t, settled)
	assert.True(t, env.wallet(t, "8012345678").LoanBalance.Equal(dec("1150")))
}

func TestApprovePurchase_GatewayFailureThenRetry(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)
	ctx := context.Background()

	env.gateway.transferFn = func(string, int64, string) (*paystackclient.Transfer, error) {
		return nil, &paystackclient.APIError{StatusCode: 400, Message: "Your balance is not enough to fulfil this request"}
	}
	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Access Bank"))
	require.NoError(t, err)

	_, err = env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Approved")
	require.ErrorIs(t, err, domain.ErrUpstream)

	failed, err := env.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseApproved, failed.Status)
	assert.Equal(t, domain.TransferFailed, failed.TransferStatus)
	assert.Contains(t, failed.FailureReason, "balance is not enough")
	assert.True(t, env.wallet(t, "8012345678").LoanBalance.IsZero())

	env.gateway.transferFn = nil
	paid, err := env.svc.RetryPayout(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasePaid, paid.Status)
	assert.NotEqual(t, failed.Reference, paid.Reference)
	assert.True(t, env.wallet(t, "8012345678").LoanBalance.Equal(dec("1150")))

	_, err = env.svc.RetryPayout(ctx, pr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApprovePurchase_UnknownOutcomeWaitsForWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)
	ctx := context.Background()
	env.gateway.transferFn = func(string, int64, string) (*paystackclient.Transfer, error) {
		return nil, paystackclient.ErrOutcomeUnknown
	}

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Access Bank"))
	require.NoError(t, err)
	approved, err := env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Approved")
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseApproved, approved.Status)
	assert.Equal(t, domain.TransferUnknown, approved.TransferStatus)
	assert.True(t, env.wallet(t, "8012345678").LoanBalance.IsZero())

	data, _ := json.Marshal(map[string]string{"reference": approved.Reference})
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferSuccess, Data: data}))

	paid, err := env.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasePaid, paid.Status)
	assert.True(t, env.wallet(t, "8012345678").LoanBalance.Equal(dec("1150")))
}

func TestApprovePurchase_UnknownBankStaysPending(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)
	ctx := context.Background()

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Bank of Nowhere"))
	require.NoError(t, err)

	_, err = env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Approved")
	require.ErrorIs(t, err, domain.ErrValidation)

	current, err := env.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasePending, current.Status)
	assert.Empty(t, env.gateway.transfers)
}

func TestApprovePurchase_MissingWalletStaysPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Access Bank"))
	require.NoError(t, err)

	_, err = env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Approved")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, env.gateway.transfers)
}

func TestUpdatePurchaseStatus_RejectAndIllegalMoves(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Access Bank"))
	require.NoError(t, err)

	rejected, err := env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Rejected")
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseRejected, rejected.Status)

	_, err = env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Approved")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Done")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdatePurchaseStatus_PaidOnlyThroughSettlement(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)
	ctx := context.Background()
	env.gateway.transferFn = func(string, int64, string) (*paystackclient.Transfer, error) {
		return nil, paystackclient.ErrOutcomeUnknown
	}

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Access Bank"))
	require.NoError(t, err)
	approved, err := env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Approved")
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseApproved, approved.Status)

	_, err = env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Paid")
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "Paid is set when the vendor payout settles")

	current, err := env.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseApproved, current.Status)

	_, err = env.svc.RetryPayout(ctx, pr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Len(t, env.gateway.transfers, 1)

	data, _ := json.Marshal(map[string]string{"reference": approved.Reference, "status": "success"})
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferSuccess, Data: data}))

	assert.True(t, env.wallet(t, "8012345678").LoanBalance.Equal(dec("1150")))
	legs, err := env.svc.ListGLTransactionsByAcctNo(ctx, "8012345678")
	require.NoError(t, err)
	assert.Len(t, legs, 4)
}

func TestUpdatePurchaseStatus_PaidRejectedFromPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pr, err := env.svc.CreatePurchaseRequest(ctx, newPurchase("Access Bank"))
	require.NoError(t, err)

	_, err = env.svc.UpdatePurchaseStatus(ctx, pr.ID, "Paid")
	assert.ErrorIs(t, err, domain.ErrValidation)
	current, err := env.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasePending, current.Status)
}
