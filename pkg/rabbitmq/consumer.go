package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one delivery. Returning false nacks and requeues it.
type Handler func(body []byte) bool

// prefetch bounds the unacknowledged deliveries held by one consumer.
const prefetch = 16

// Consumer reads a durable queue and routes deliveries by routing key.
type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	handlers map[string]Handler
	log      *logrus.Entry
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, log: logrus.WithField("component", "rabbitmq_consumer")}, nil
}

// ConsumeWithBindings binds queueName to exchange once per routing key and
// starts delivering in the background. Both are declared durable.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	c.handlers = make(map[string]Handler, len(bindings))
	for key, handler := range bindings {
		if handler != nil {
			c.handlers[key] = handler
		}
	}
	if len(c.handlers) == 0 {
		return errors.New("no bindings provided")
	}

	if err := declareExchange(c.ch, exchange); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	for key := range c.handlers {
		if err := c.ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, q.Name, err)
		}
	}

	deliveries, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"exchange": exchange, "queue": q.Name, "bindings": len(c.handlers)}).Info("consuming")

	go func() {
		for d := range deliveries {
			c.handle(d)
		}
		c.log.Warn("delivery channel closed")
	}()
	return nil
}

// handle acks deliveries nobody handles so they do not loop forever.
func (c *Consumer) handle(d amqp.Delivery) {
	log := c.log.WithField("routing_key", d.RoutingKey)
	handler, ok := c.handlers[d.RoutingKey]
	if !ok {
		log.Warn("no handler for routing key; dropping")
		d.Ack(false)
		return
	}
	if handler(d.Body) {
		d.Ack(false)
		return
	}
	log.Warn("handler failed; requeueing")
	d.Nack(false, true)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
