package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

// GatewayEventHandler applies a verified gateway event to the ledger.
type GatewayEventHandler interface {
	HandleGatewayEvent(ctx context.Context, event domain.GatewayEvent) error
}

// permanent reports errors that will not go away on redelivery.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict)
}

// HandleGatewayEvent applies one webhook event. Replays are safe: credits,
// refunds and settlements are all keyed on the gateway reference.
func (s *Service) HandleGatewayEvent(ctx context.Context, event domain.GatewayEvent) error {
	log := s.log.WithField("event", event.Event)
	var err error
	switch event.Event {
	case domain.EventChargeSuccess:
		err = s.handleChargeSuccess(ctx, event.Data)
	case domain.EventTransferSuccess:
		err = s.handleTransferSuccess(ctx, event.Data)
	case domain.EventTransferFailed:
		err = s.handleTransferFailure(ctx, event.Data, domain.TransferFailed)
	case domain.EventTransferReversed:
		err = s.handleTransferFailure(ctx, event.Data, domain.TransferReversed)
	case domain.EventCustomerIDSuccess, domain.EventCustomerIDFailed:
		err = s.handleCustomerIdentification(ctx, event)
	default:
		log.Debug("ignoring gateway event")
		return nil
	}
	if err != nil && permanent(err) {
		log.WithError(err).Warn("gateway event cannot be applied; dropping")
		return nil
	}
	return err
}

func (s *Service) handleChargeSuccess(ctx context.Context, raw json.RawMessage) error {
	var data domain.ChargeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.Invalidf("charge payload: %v", err)
	}
	if data.Reference == "" {
		return domain.Invalidf("charge payload has no reference")
	}
	if data.Status != "" && !strings.EqualFold(data.Status, "success") {
		return domain.Invalidf("charge %s is %s", data.Reference, data.Status)
	}
	if !domain.ValidAcctNo(data.Metadata.AcctNo) {
		return domain.Invalidf("charge %s carries no wallet account", data.Reference)
	}
	_, _, err := s.creditCharge(ctx, data.Reference, data.Metadata.AcctNo, data.Customer.Email, domain.FromKobo(data.Amount))
	return err
}

func decodeTransfer(raw json.RawMessage) (domain.TransferData, error) {
	var data domain.TransferData
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, domain.Invalidf("transfer payload: %v", err)
	}
	if data.Reference == "" {
		return data, domain.Invalidf("transfer payload has no reference")
	}
	return data, nil
}

func (s *Service) handleTransferSuccess(ctx context.Context, raw json.RawMessage) error {
	data, err := decodeTransfer(raw)
	if err != nil {
		return err
	}
	if domain.IsPurchaseReference(data.Reference) {
		_, _, err := s.Settle(ctx, data.Reference)
		return err
	}

	wd, err := s.repo.FindWithdrawalByReference(ctx, data.Reference)
	if err != nil {
		return err
	}
	if !wd.Refundable() {
		// The funds went back to the wallet and the bank transfer still landed.
		if wd.Status != domain.TransferReconcile {
			s.log.WithFields(logrus.Fields{
				"reference": wd.Reference,
				"acct_no":   wd.AcctNo,
				"amount":    wd.Amount.String(),
				"status":    wd.Status,
			}).Error("transfer succeeded after the withdrawal was refunded; manual reconciliation required")
		}
		_, err = s.repo.UpdateWithdrawalTransfer(ctx, data.Reference, store.WithdrawalUpdate{
			Status:        domain.TransferReconcile,
			FailureReason: "transfer reported successful after refund",
		})
		return err
	}
	_, err = s.repo.UpdateWithdrawalTransfer(ctx, data.Reference, store.WithdrawalUpdate{Status: domain.TransferSuccess})
	return err
}

func (s *Service) handleTransferFailure(ctx context.Context, raw json.RawMessage, status string) error {
	data, err := decodeTransfer(raw)
	if err != nil {
		return err
	}
	reason := data.Message()
	if reason == "" {
		reason = "transfer " + status
	}
	log := s.log.WithFields(logrus.Fields{"reference": data.Reference, "status": status})

	if domain.IsPurchaseReference(data.Reference) {
		pr, err := s.repo.FindPurchaseRequestByReference(ctx, data.Reference)
		if err != nil {
			return err
		}
		if _, err := s.repo.UpdatePurchaseTransfer(ctx, pr.ID, store.PurchaseTransferUpdate{TransferStatus: status, FailureReason: reason}); err != nil {
			return err
		}
		if pr.Status == domain.PurchasePaid {
			log.WithField("purchase_request_id", pr.ID).Error("vendor transfer failed after the loan was booked; manual reconciliation required")
		}
		return nil
	}

	wd, err := s.repo.FindWithdrawalByReference(ctx, data.Reference)
	if err != nil {
		return err
	}
	if !wd.Refundable() {
		log.Info("withdrawal already refunded")
		return nil
	}
	return s.refundWithdrawal(ctx, wd, status, reason)
}

func (s *Service) handleCustomerIdentification(ctx context.Context, event domain.GatewayEvent) error {
	var data domain.CustomerIdentificationData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return domain.Invalidf("customer identification payload: %v", err)
	}
	identification := data.Identification
	if len(identification) == 0 {
		identification = json.RawMessage(`{}`)
	}
	return s.repo.CreateCustomerIdentification(ctx, &domain.CustomerIdentification{
		Event:          event.Event,
		CustomerID:     data.CustomerID,
		CustomerCode:   data.CustomerCode,
		Email:          data.Email,
		Identification: identification,
		ReceivedAt:     s.now(),
	})
}

// GatewayEventConsumer processes gateway events delivered through RabbitMQ.
type GatewayEventConsumer struct {
	handler GatewayEventHandler
	log     *logrus.Entry
}

func NewGatewayEventConsumer(handler GatewayEventHandler, logger logrus.FieldLogger) *GatewayEventConsumer {
	return &GatewayEventConsumer{handler: handler, log: logger.WithField("component", "gateway_event_consumer")}
}

// HandleMessage returns false to have the delivery requeued.
func (c *GatewayEventConsumer) HandleMessage(body []byte) bool {
	var event domain.GatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.log.WithError(err).Warn("failed to unmarshal payload; dropping")
		return true
	}
	if event.Event == "" {
		c.log.Warn("missing event name; dropping")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.handler.HandleGatewayEvent(ctx, event); err != nil {
		c.log.WithFields(logrus.Fields{"event": event.Event, "error": err}).Error("processing error")
		return false
	}
	return true
}

// Bindings maps every handled gateway event to this consumer.
func (c *GatewayEventConsumer) Bindings() map[string]rabbitmq.Handler {
	events := []string{
		domain.EventChargeSuccess,
		domain.EventTransferSuccess,
		domain.EventTransferFailed,
		domain.EventTransferReversed,
		domain.EventCustomerIDSuccess,
		domain.EventCustomerIDFailed,
	}
	bindings := make(map[string]rabbitmq.Handler, len(events))
	for _, event := range events {
		bindings[event] = c.HandleMessage
	}
	return bindings
}

// GatewayEventDispatcher hands verified webhooks to the broker when one is
// configured, and applies them inline otherwise.
type GatewayEventDispatcher struct {
	publisher rabbitmq.Publisher
	exchange  string
	handler   GatewayEventHandler
}

// NewGatewayEventDispatcher returns an inline dispatcher when publisher is nil.
func NewGatewayEventDispatcher(publisher rabbitmq.Publisher, exchange string, handler GatewayEventHandler) *GatewayEventDispatcher {
	if exchange == "" {
		exchange = GatewayExchange
	}
	return &GatewayEventDispatcher{publisher: publisher, exchange: exchange, handler: handler}
}

func (d *GatewayEventDispatcher) Dispatch(ctx context.Context, event domain.GatewayEvent) error {
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, d.exchange, event.Event, event); err != nil {
			return fmt.Errorf("publish %s: %w", event.Event, err)
		}
		return nil
	}
	return d.handler.HandleGatewayEvent(ctx, event)
}
