package rabbit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/db"
	"github.com/jcarrillo/ticketera/internal/metrics"
)

// Message is the wire payload published to the notifications exchange.
// Field names and shapes are the contract with delivery consumers.
type Message struct {
	ID        string              `json:"id"`
	Message   string              `json:"message"`
	UserID    string              `json:"user_id"`
	Type      db.NotificationType `json:"type"`
	ExtraInfo json.RawMessage     `json:"extra_info,omitempty"`
	CreatedAt string              `json:"created_at"`
}

// Publisher publishes notification payloads with delivery confirmation.
// Publish never returns an error: every failure is logged, flips the
// connection to disconnected for a lazy reconnect, and comes back as false.
// The mutex serializes publishes on the shared channel so confirms cannot
// interleave across concurrent requests.
type Publisher struct {
	mu      sync.Mutex
	conn    Conn
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher creates a publisher over the given connection manager.
// timeout bounds the wait for a broker confirm on each publish.
func NewPublisher(conn Conn, timeout time.Duration, logger *zap.Logger) *Publisher {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish builds the canonical payload for one recipient and publishes it
// to the notifications exchange under the fixed routing key. The generated
// message id doubles as the idempotency key and is fresh per attempt, never
// reused. Returns true only after the broker confirms persistence of a
// routable message.
func (p *Publisher) Publish(ctx context.Context, userID uuid.UUID, message string, typ db.NotificationType, extraInfo json.RawMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.conn.Ensure()
	if err != nil {
		p.logger.Error("cannot publish notification, broker unavailable", zap.Error(err))
		metrics.RecordPublish(string(typ), "failed")
		return false
	}

	messageID := uuid.NewString()
	now := time.Now().UTC()

	payload := Message{
		ID:        messageID,
		Message:   message,
		UserID:    userID.String(),
		Type:      typ,
		ExtraInfo: extraInfo,
		CreatedAt: now.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal notification payload",
			zap.Error(err),
			zap.String("message_id", messageID),
		)
		metrics.RecordPublish(string(typ), "failed")
		return false
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	confirm, err := ch.PublishWithConfirm(
		pubCtx,
		Exchange,
		RoutingKey,
		true, // mandatory: an unroutable message is a failure, not a silent drop
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    messageID,
			Timestamp:    now,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish notification",
			zap.Error(err),
			zap.String("message_id", messageID),
			zap.String("user_id", userID.String()),
		)
		p.conn.MarkDisconnected()
		metrics.RecordPublish(string(typ), "failed")
		return false
	}

	acked, err := confirm.WaitContext(pubCtx)
	metrics.ObservePublishConfirm(time.Since(start))

	if err != nil {
		p.logger.Error("publish confirmation timed out",
			zap.Error(err),
			zap.String("message_id", messageID),
		)
		p.conn.MarkDisconnected()
		metrics.RecordPublish(string(typ), "failed")
		return false
	}
	if !acked {
		p.logger.Error("broker rejected notification",
			zap.String("message_id", messageID),
		)
		p.conn.MarkDisconnected()
		metrics.RecordPublish(string(typ), "failed")
		return false
	}

	// The broker sends basic.return for a mandatory publish before its
	// ack; WasReturned drains whatever is buffered, so the flag is
	// visible by now.
	if p.conn.WasReturned(messageID) {
		metrics.RecordPublish(string(typ), "failed")
		return false
	}

	p.logger.Info("published notification",
		zap.String("message_id", messageID),
		zap.String("user_id", userID.String()),
		zap.String("type", string(typ)),
	)
	metrics.RecordPublish(string(typ), "queued")

	return true
}
