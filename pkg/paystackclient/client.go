/**
 * @description
 * This package provides a client for the Paystack API. It wraps the handful of
 * endpoints the ledger-service depends on: bank listing, transfer recipients,
 * transfers (including OTP finalization), and transaction initialize/verify for
 * wallet funding.
 *
 * Every Paystack response carries a `{status, message, data}` envelope. A 4xx
 * response or `status: false` is reported as *APIError with Paystack's message.
 * A request that times out, is cancelled, fails after it was written, or gets a
 * 5xx back is reported as ErrOutcomeUnknown, because Paystack may still have
 * acted on it.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http: request building and decoding.
 * - github.com/sirupsen/logrus: structured warnings for failed calls.
 */
package paystackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOutcomeUnknown is returned when the request may or may not have reached Paystack.
var ErrOutcomeUnknown = errors.New("paystack: outcome unknown")

// APIError is a rejection reported by Paystack.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack api error (status %d): %s", e.StatusCode, e.Message)
}

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	log        *logrus.Entry
}

// NewClient creates a new Paystack API client.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		log: logrus.WithField("component", "paystack_client"),
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    struct {
		Next string `json:"next"`
	} `json:"meta"`
}

// maxBankPages stops a cursor that never ends.
const maxBankPages = 20

// Bank is one entry of the Paystack bank list.
type Bank struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Code     string `json:"code"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
	Active   bool   `json:"active"`
}

// RecipientRequest is the payload for creating a transfer recipient.
type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

// TransferRequest is the payload for initiating a transfer. Amount is in kobo.
type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

// Transfer is the transfer object returned by Paystack.
type Transfer struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Reason       string `json:"reason"`
}

// InitializeRequest is the payload for starting a card/bank charge. Amount is in kobo.
type InitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Reference   string            `json:"reference,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Authorization is where the customer completes an initialized charge.
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the state of a charge as reported by Paystack.
type Verification struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	Metadata json.RawMessage `json:"metadata"`
}

// MetadataValue reads a string field from the charge metadata. Paystack sends
// metadata as an object, or as an empty string when none was set.
func (v *Verification) MetadataValue(key string) string {
	if len(v.Metadata) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(v.Metadata, &fields); err != nil {
		return ""
	}
	switch value := fields[key].(type) {
	case string:
		return value
	case float64:
		return fmt.Sprintf("%.0f", value)
	default:
		return ""
	}
}

// ListBanks fetches the Nigerian banks that support transfers, following the
// list cursor until Paystack reports no next page.
func (c *Client) ListBanks(ctx context.Context) ([]Bank, error) {
	var banks []Bank
	query := url.Values{"currency": {"NGN"}, "perPage": {"100"}, "use_cursor": {"true"}}
	for page := 0; page < maxBankPages; page++ {
		env, err := c.call(ctx, "list_banks", http.MethodGet, "/bank?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		var batch []Bank
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &batch); err != nil {
				return nil, fmt.Errorf("failed to decode list_banks response: %w", err)
			}
		}
		banks = append(banks, batch...)
		if env.Meta.Next == "" || len(batch) == 0 {
			return banks, nil
		}
		query.Set("next", env.Meta.Next)
	}
	return nil, fmt.Errorf("list_banks: more than %d pages", maxBankPages)
}

// CreateTransferRecipient registers a NUBAN recipient and returns its recipient code.
func (c *Client) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	payload := RecipientRequest{
		Type:          "nuban",
		Name:          name,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      "NGN",
	}
	var out struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := c.do(ctx, "create_recipient", http.MethodPost, "/transferrecipient", payload, &out); err != nil {
		return "", err
	}
	if out.RecipientCode == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "recipient code not found in response"}
	}
	return out.RecipientCode, nil
}

// InitiateTransfer sends amountKobo from the Paystack balance to recipient.
func (c *Client) InitiateTransfer(ctx context.Context, recipient string, amountKobo int64, reason, reference string) (*Transfer, error) {
	payload := TransferRequest{
		Source:    "balance",
		Amount:    amountKobo,
		Recipient: recipient,
		Reason:    reason,
		Reference: reference,
	}
	var out Transfer
	if err := c.do(ctx, "initiate_transfer", http.MethodPost, "/transfer", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FinalizeTransfer completes an OTP-gated transfer.
func (c *Client) FinalizeTransfer(ctx context.Context, transferCode, otp string) (*Transfer, error) {
	payload := map[string]string{"transfer_code": transferCode, "otp": otp}
	var out Transfer
	if err := c.do(ctx, "finalize_transfer", http.MethodPost, "/transfer/finalize_transfer", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitializeTransaction starts a charge and returns the checkout authorization.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*Authorization, error) {
	var out Authorization
	if err := c.do(ctx, "initialize_transaction", http.MethodPost, "/transaction/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransaction fetches the current state of the charge behind reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	var out Verification
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify_transaction", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	env, err := c.call(ctx, op, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// call sends one request and returns the decoded envelope.
func (c *Client) call(ctx context.Context, op, method, path string, payload any) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	// Once the request is on the wire Paystack may act on it, whatever
	// happens to the connection afterwards.
	var written atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if written.Load() || isTimeout(err) {
			return nil, c.outcomeUnknown(op, err)
		}
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.outcomeUnknown(op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || decodeErr != nil || !env.Status {
		message := env.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: message}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, c.outcomeUnknown(op, apiErr)
		}
		c.log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode, "message": message}).Warn("paystack rejected request")
		return nil, apiErr
	}
	return &env, nil
}

func (c *Client) outcomeUnknown(op string, err error) error {
	c.log.WithFields(logrus.Fields{"op": op, "error": err}).Warn("request outcome unknown")
	return fmt.Errorf("%s: %w: %w", op, ErrOutcomeUnknown, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
