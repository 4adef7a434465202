package paystackclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "sk_test_123", 2*time.Second)
}

func TestInitiateTransfer_SendsBearerAndPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transfer", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		var payload TransferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "balance", payload.Source)
		assert.Equal(t, int64(150000), payload.Amount)
		assert.Equal(t, "RCP_1", payload.Recipient)
		assert.Equal(t, "wd_abc", payload.Reference)

		_, _ = io.WriteString(w, `{"status":true,"message":"Transfer has been queued","data":{"reference":"wd_abc","transfer_code":"TRF_1","status":"otp","amount":150000}}`)
	})

	transfer, err := client.InitiateTransfer(context.Background(), "RCP_1", 150000, "Wallet withdrawal", "wd_abc")
	require.NoError(t, err)
	assert.Equal(t, "TRF_1", transfer.TransferCode)
	assert.Equal(t, "otp", transfer.Status)
}

func TestCreateTransferRecipient_ReturnsCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload RecipientRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "nuban", payload.Type)
		assert.Equal(t, "NGN", payload.Currency)
		assert.Equal(t, "058", payload.BankCode)
		_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":{"recipient_code":"RCP_xyz"}}`)
	})

	code, err := client.CreateTransferRecipient(context.Background(), "Tyres Ltd", "0123456789", "058")
	require.NoError(t, err)
	assert.Equal(t, "RCP_xyz", code)
}

func TestDo_StatusFalseIsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":false,"message":"Insufficient balance"}`)
	})

	_, err := client.InitiateTransfer(context.Background(), "RCP_1", 100, "", "ref")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Insufficient balance", apiErr.Message)
	assert.False(t, errors.Is(err, ErrOutcomeUnknown))
}

func TestDo_Non2xxIsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"status":false,"message":"Invalid key"}`)
	})

	_, err := client.ListBanks(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid key", apiErr.Message)
}

func TestDo_TimeoutIsOutcomeUnknown(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	client := NewClient(srv.URL, "sk_test_123", 50*time.Millisecond)

	_, err := client.InitiateTransfer(context.Background(), "RCP_1", 100, "", "ref")
	assert.ErrorIs(t, err, ErrOutcomeUnknown)
}

func TestDo_CancelledContextIsOutcomeUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":true,"data":{}}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FinalizeTransfer(ctx, "TRF_1", "123456")
	assert.ErrorIs(t, err, ErrOutcomeUnknown)
}

func TestVerifyTransaction_ReadsMetadata(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/chg_1", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":true,"data":{"reference":"chg_1","status":"success","amount":500000,"customer":{"email":"a@b.co"},"metadata":{"acct_no":"8012345678"}}}`)
	})

	v, err := client.VerifyTransaction(context.Background(), "chg_1")
	require.NoError(t, err)
	assert.Equal(t, "success", v.Status)
	assert.Equal(t, int64(500000), v.Amount)
	assert.Equal(t, "a@b.co", v.Customer.Email)
	assert.Equal(t, "8012345678", v.MetadataValue("acct_no"))
}

func TestVerification_MetadataValueToleratesEmptyString(t *testing.T) {
	v := Verification{Metadata: json.RawMessage(`""`)}
	assert.Equal(t, "", v.MetadataValue("acct_no"))
}

func TestListBanks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NGN", r.URL.Query().Get("currency"))
		_, _ = io.WriteString(w, `{"status":true,"data":[{"id":1,"name":"Access Bank","code":"044","active":true},{"id":2,"name":"GTBank","code":"058","active":true}],"meta":{"next":null}}`)
	})

	banks, err := client.ListBanks(context.Background())
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Equal(t, "058", banks[1].Code)
}

func TestListBanks_FollowsCursor(t *testing.T) {
	var cursors []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("use_cursor"))
		cursors = append(cursors, q.Get("next"))
		switch q.Get("next") {
		case "":
			_, _ = io.WriteString(w, `{"status":true,"data":[{"id":1,"name":"Access Bank","code":"044"},{"id":2,"name":"GTBank","code":"058"}],"meta":{"next":"YmFuazoy","perPage":2}}`)
		case "YmFuazoy":
			_, _ = io.WriteString(w, `{"status":true,"data":[{"id":3,"name":"Zenith Bank","code":"057"}],"meta":{"next":null,"previous":"YmFuazox","perPage":2}}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"status":false,"message":"bad cursor"}`)
		}
	})

	banks, err := client.ListBanks(context.Background())
	require.NoError(t, err)
	require.Len(t, banks, 3)
	assert.Equal(t, "057", banks[2].Code)
	assert.Equal(t, []string{"", "YmFuazoy"}, cursors)
}

func TestDo_GatewayErrorIsOutcomeUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = io.WriteString(w, `<html>504 Gateway Time-out</html>`)
	})

	_, err := client.InitiateTransfer(context.Background(), "RCP_1", 6000, "", "wd_1")
	require.ErrorIs(t, err, ErrOutcomeUnknown)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
}

func TestDo_ConnectionDroppedAfterSendIsOutcomeUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		hj, ok := w.(http.Hijacker)
		if !assert.True(t, ok) {
			return
		}
		conn, _, err := hj.Hijack()
		if assert.NoError(t, err) {
			conn.Close()
		}
	})

	_, err := client.InitiateTransfer(context.Background(), "RCP_1", 6000, "", "wd_1")
	assert.ErrorIs(t, err, ErrOutcomeUnknown)
}

func TestDo_UnreachableHostIsNotOutcomeUnknown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	client := NewClient(addr, "sk_test_123", 2*time.Second)

	_, err := client.InitiateTransfer(context.Background(), "RCP_1", 6000, "", "wd_1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOutcomeUnknown))
}
