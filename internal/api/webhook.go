/**
 * @description
 * This file contains the HTTP handler for Paystack webhooks.
 *
 * Key features:
 * - Security: the raw body is signed with HMAC-SHA512 using the webhook secret,
 *   and the hex digest is compared in constant time with x-paystack-signature.
 * - Routing: events the ledger does not act on are acknowledged and ignored.
 * - Dispatch: known events are handed to the dispatcher, which publishes them
 *   to RabbitMQ or applies them inline.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha512, encoding/hex: signature validation.
 * - github.com/sirupsen/logrus: structured logging.
 */
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
)

const paystackSignatureHeader = "x-paystack-signature"

const maxWebhookBody = 1 << 20

// EventDispatcher hands a verified gateway event on for processing.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event domain.GatewayEvent) error
}

// WebhookHandler processes incoming webhooks from Paystack.
type WebhookHandler struct {
	dispatcher EventDispatcher
	secret     []byte
	log        *logrus.Entry
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(dispatcher EventDispatcher, secret string, logger logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		secret:     []byte(secret),
		log:        logger.WithField("component", "paystack_webhook"),
	}
}

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) validSignature(signature string, body []byte) bool {
	if len(h.secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(h.secret, body)
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected))
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.log.WithError(err).Warn("failed to read webhook body")
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if !h.validSignature(r.Header.Get(paystackSignatureHeader), body) {
		h.log.WithField("remote_addr", r.RemoteAddr).Warn("invalid webhook signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.GatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.log.WithError(err).Warn("invalid webhook payload")
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	log := h.log.WithField("event", event.Event)
	if !domain.KnownGatewayEvent(event.Event) {
		log.Info("unhandled webhook event")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Webhook received"))
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), event); err != nil {
		log.WithError(err).Error("failed to process webhook event")
		http.Error(w, "Internal server error during event processing", http.StatusInternalServerError)
		return
	}

	log.Info("webhook event accepted")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}
