package worker

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/metrics"
	"github.com/jcarrillo/ticketera/internal/rabbit"
)

// Deduper filters broker redeliveries by message id.
type Deduper interface {
	Seen(ctx context.Context, messageID string) bool
	Forget(ctx context.Context, messageID string)
}

// ConsumerConfig holds queue consumption parameters.
type ConsumerConfig struct {
	URL       string
	Queue     string
	Reconnect time.Duration
}

// Consumer drains the notification queue one message at a time and hands
// each delivery to the sender. Prefetch is 1: a message is not redelivered
// elsewhere while this worker holds it.
type Consumer struct {
	cfg    ConsumerConfig
	sender Sender
	dedup  Deduper
	logger *zap.Logger
}

// NewConsumer creates a consumer over the given sender and deduper.
func NewConsumer(cfg ConsumerConfig, sender Sender, dedup Deduper, logger *zap.Logger) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = "notification_queue"
	}
	if cfg.Reconnect == 0 {
		cfg.Reconnect = 5 * time.Second
	}
	return &Consumer{
		cfg:    cfg,
		sender: sender,
		dedup:  dedup,
		logger: logger,
	}
}

// Run consumes until ctx is canceled, reconnecting after broker failures.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil {
			c.logger.Error("consumer session ended", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Reconnect):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	// Same create-if-absent declarations as the publisher side, so either
	// binary can come up first.
	if err := ch.ExchangeDeclare(rabbit.Exchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // auto-delete
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return err
	}

	if err := ch.QueueBind(q.Name, rabbit.RoutingKey, rabbit.Exchange, false, nil); err != nil {
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.logger.Info("consuming notification queue",
		zap.String("queue", q.Name),
		zap.String("exchange", rabbit.Exchange),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil // channel closed, reconnect
			}
			c.handle(ctx, msg)
		}
	}
}

// contactInfo is the slice of extra_info the worker routes on.
type contactInfo struct {
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// handle processes one delivery. Malformed or undeliverable messages are
// acked: requeueing cannot fix them. Send failures are requeued after the
// dedup claim is released.
func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var payload rabbit.Message
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Error("discarding malformed message",
			zap.Error(err),
			zap.String("message_id", msg.MessageId),
		)
		metrics.RecordDelivery("none", "malformed")
		_ = msg.Ack(false)
		return
	}

	messageID := payload.ID
	if messageID == "" {
		messageID = msg.MessageId
	}

	if payload.Message == "" {
		c.logger.Error("discarding message without body text",
			zap.String("message_id", messageID),
		)
		metrics.RecordDelivery("none", "malformed")
		_ = msg.Ack(false)
		return
	}

	if c.dedup.Seen(ctx, messageID) {
		c.logger.Info("dropping duplicate delivery",
			zap.String("message_id", messageID),
		)
		metrics.RecordDuplicateDelivery()
		_ = msg.Ack(false)
		return
	}

	var contact contactInfo
	if len(payload.ExtraInfo) > 0 {
		// Best effort: an unparsable extra_info just means no contact route.
		_ = json.Unmarshal(payload.ExtraInfo, &contact)
	}

	d := &Delivery{
		MessageID: messageID,
		UserID:    payload.UserID,
		Type:      payload.Type,
		Message:   payload.Message,
		Phone:     contact.Phone,
		Email:     contact.Email,
	}

	switch {
	case d.Phone != "":
		d.Channel = ChannelSMS
	case d.Email != "":
		d.Channel = ChannelEmail
	default:
		c.logger.Warn("message has no deliverable contact",
			zap.String("message_id", messageID),
			zap.String("user_id", d.UserID),
		)
		metrics.RecordDelivery("none", "undeliverable")
		_ = msg.Ack(false)
		return
	}

	if err := c.sender.Send(ctx, d); err != nil {
		c.logger.Error("delivery failed, requeueing",
			zap.Error(err),
			zap.String("message_id", messageID),
			zap.String("channel", d.Channel),
		)
		metrics.RecordDelivery(d.Channel, "failed")
		// Release the idempotency claim so the redelivery is processed.
		c.dedup.Forget(ctx, messageID)
		_ = msg.Nack(false, true)
		return
	}

	metrics.RecordDelivery(d.Channel, "sent")
	_ = msg.Ack(false)
}
