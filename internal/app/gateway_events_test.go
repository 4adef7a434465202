package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/logging"
	"github.com/transfa/ledger-service/pkg/paystackclient"
)

func chargeEvent(t *testing.T, reference, acctNo string, kobo int64) domain.GatewayEvent {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"reference": reference,
		"amount":    kobo,
		"status":    "success",
		"customer":  map[string]string{"email": "ada@example.com"},
		"metadata":  map[string]string{"acct_no": acctNo},
	})
	require.NoError(t, err)
	return domain.GatewayEvent{Event: domain.EventChargeSuccess, Data: data}
}

func TestHandleGatewayEvent_ChargeSuccessCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)
	ctx := context.Background()

	event := chargeEvent(t, "fw_abc", "8012345678", 250050)
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, event))
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, event))

	w := env.wallet(t, "8012345678")
	assert.True(t, w.WalletBalance.Equal(dec("2500.50")))
	assert.Len(t, w.Transactions, 1)
}

func TestVerifyPayment_AfterWebhookDoesNotCreditTwice(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)
	ctx := context.Background()
	env.gateway.verifyFn = func(reference string) (*paystackclient.Verification, error) {
		v := &paystackclient.Verification{
			Reference: reference,
			Status:    "success",
			Amount:    50000,
			Metadata:  json.RawMessage(`{"acct_no":"8012345678"}`),
		}
		v.Customer.Email = "ada@example.com"
		return v, nil
	}

	require.NoError(t, env.svc.HandleGatewayEvent(ctx, chargeEvent(t, "fw_123", "8012345678", 50000)))

	credit, already, err := env.svc.VerifyPayment(ctx, "fw_123")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, "fw_123", credit.Reference)
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("500")))
}

func TestVerifyPayment_RejectsUnpaidCharge(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.verifyFn = func(reference string) (*paystackclient.Verification, error) {
		return &paystackclient.Verification{Reference: reference, Status: "abandoned"}, nil
	}

	_, _, err := env.svc.VerifyPayment(context.Background(), "fw_1")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFundWallet_TagsChargeWithAcctNo(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 0)

	auth, err := env.svc.FundWallet(context.Background(), FundWalletRequest{AcctNo: "8012345678", Email: "ada@example.com", Amount: dec("12.34")})
	require.NoError(t, err)
	assert.NotEmpty(t, auth.AuthorizationURL)

	require.Len(t, env.gateway.initialized, 1)
	req := env.gateway.initialized[0]
	assert.Equal(t, int64(1234), req.Amount)
	assert.Equal(t, "8012345678", req.Metadata["acct_no"])

	_, err = env.svc.FundWallet(context.Background(), FundWalletRequest{AcctNo: "8012345678", Email: "not-an-email", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHandleGatewayEvent_TransferFailedRefundsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	ctx := context.Background()

	results := env.svc.CashWallet(ctx, []domain.WithdrawalItem{withdrawalItem("60")})
	require.Equal(t, WithdrawalSucceeded, results[0].Status)

	data, _ := json.Marshal(map[string]string{"reference": results[0].Reference, "reason": "Could not credit account"})
	event := domain.GatewayEvent{Event: domain.EventTransferFailed, Data: data}
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, event))
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, event))

	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("100")))
	wd, err := env.repo.FindWithdrawalByReference(ctx, results[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, wd.Status)
	assert.Equal(t, "Could not credit account", wd.FailureReason)
}

func TestHandleGatewayEvent_TransferSuccessMarksWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	ctx := context.Background()

	results := env.svc.CashWallet(ctx, []domain.WithdrawalItem{withdrawalItem("60")})
	data, _ := json.Marshal(map[string]string{"reference": results[0].Reference})
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferSuccess, Data: data}))

	wd, err := env.repo.FindWithdrawalByReference(ctx, results[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferSuccess, wd.Status)
}

func TestHandleGatewayEvent_TransferSuccessAfterRefundFlagsReconciliation(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	ctx := context.Background()
	env.gateway.transferFn = func(string, int64, string) (*paystackclient.Transfer, error) {
		return nil, &paystackclient.APIError{StatusCode: 400, Message: "Transfer could not be initiated"}
	}

	results := env.svc.CashWallet(ctx, []domain.WithdrawalItem{withdrawalItem("60")})
	require.Equal(t, WithdrawalFailed, results[0].Status)
	require.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("100")))

	data, _ := json.Marshal(map[string]string{"reference": results[0].Reference})
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferSuccess, Data: data}))
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferSuccess, Data: data}))

	wd, err := env.repo.FindWithdrawalByReference(ctx, results[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferReconcile, wd.Status)
	assert.Equal(t, "transfer reported successful after refund", wd.FailureReason)

	require.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferReversed, Data: data}))
	w := env.wallet(t, "8012345678")
	assert.True(t, w.WalletBalance.Equal(dec("100")))
	assert.Len(t, w.Transactions, 3)
}

func TestHandleGatewayEvent_TransferSuccessAfterUnknownOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.openWallet(t, "8012345678", 1, 100)
	ctx := context.Background()
	env.gateway.transferFn = func(string, int64, string) (*paystackclient.Transfer, error) {
		return nil, fmt.Errorf("initiate_transfer: %w: %w", paystackclient.ErrOutcomeUnknown,
			&paystackclient.APIError{StatusCode: 504, Message: "Gateway Timeout"})
	}

	results := env.svc.CashWallet(ctx, []domain.WithdrawalItem{withdrawalItem("60")})
	require.Equal(t, WithdrawalUnknown, results[0].Status)

	data, _ := json.Marshal(map[string]string{"reference": results[0].Reference})
	require.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferSuccess, Data: data}))

	wd, err := env.repo.FindWithdrawalByReference(ctx, results[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferSuccess, wd.Status)
	assert.True(t, env.wallet(t, "8012345678").WalletBalance.Equal(dec("40")))
}

func TestHandleGatewayEvent_DropsPermanentFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]string{"reference": "wd_missing"})
	assert.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventTransferFailed, Data: data}))
	assert.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: domain.EventChargeSuccess, Data: json.RawMessage(`{"reference":""}`)}))
	assert.NoError(t, env.svc.HandleGatewayEvent(ctx, domain.GatewayEvent{Event: "subscription.create"}))
}

func TestHandleGatewayEvent_StoresCustomerIdentification(t *testing.T) {
	env := newTestEnv(t)

	data := json.RawMessage(`{"customer_id":42,"customer_code":"CUS_x","email":"ada@example.com"}`)
	require.NoError(t, env.svc.HandleGatewayEvent(context.Background(), domain.GatewayEvent{Event: domain.EventCustomerIDFailed, Data: data}))

	stored := env.repo.CustomerIdentifications()
	require.Len(t, stored, 1)
	assert.Equal(t, int64(42), stored[0].CustomerID)
	assert.JSONEq(t, `{}`, string(stored[0].Identification))
}

type stubHandler struct {
	err    error
	events []domain.GatewayEvent
}

func (h *stubHandler) HandleGatewayEvent(ctx context.Context, event domain.GatewayEvent) error {
	h.events = append(h.events, event)
	return h.err
}

func TestGatewayEventConsumer_HandleMessage(t *testing.T) {
	handler := &stubHandler{}
	consumer := NewGatewayEventConsumer(handler, logging.Discard())

	assert.True(t, consumer.HandleMessage([]byte("not json")))
	assert.True(t, consumer.HandleMessage([]byte(`{"data":{}}`)))
	assert.Empty(t, handler.events)

	assert.True(t, consumer.HandleMessage([]byte(`{"event":"charge.success","data":{"reference":"fw_1"}}`)))
	require.Len(t, handler.events, 1)
	assert.Equal(t, domain.EventChargeSuccess, handler.events[0].Event)

	handler.err = errors.New("database unavailable")
	assert.False(t, consumer.HandleMessage([]byte(`{"event":"charge.success","data":{}}`)))

	assert.Len(t, consumer.Bindings(), 6)
}

func TestGatewayEventDispatcher(t *testing.T) {
	event := domain.GatewayEvent{Event: domain.EventTransferSuccess, Data: json.RawMessage(`{}`)}

	t.Run("publishes when a broker is configured", func(t *testing.T) {
		publisher := &recordingPublisher{}
		handler := &stubHandler{}
		d := NewGatewayEventDispatcher(publisher, "", handler)

		require.NoError(t, d.Dispatch(context.Background(), event))
		require.Equal(t, 1, publisher.count())
		assert.Equal(t, GatewayExchange, publisher.events[0].exchange)
		assert.Equal(t, domain.EventTransferSuccess, publisher.events[0].routingKey)
		assert.Empty(t, handler.events)
	})

	t.Run("handles inline without a broker", func(t *testing.T) {
		handler := &stubHandler{}
		d := NewGatewayEventDispatcher(nil, "", handler)

		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.Len(t, handler.events, 1)
	})
}
