// Package rabbit owns the broker side of notification dispatch: a single
// long-lived connection/channel pair in confirm mode, and a publisher that
// turns business events into durable messages on the notifications exchange.
package rabbit

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/metrics"
)

const (
	// Exchange is the durable direct exchange all notifications go through.
	Exchange = "notifications"
	// RoutingKey is the fixed key the delivery queue binds on.
	RoutingKey = "user.notification"
)

// Config holds broker connection parameters.
type Config struct {
	URL         string
	Heartbeat   time.Duration
	DialTimeout time.Duration
}

// Confirmation is the broker's acknowledgement of one published message.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Channel is the subset of AMQP channel operations the publisher needs.
type Channel interface {
	PublishWithConfirm(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (Confirmation, error)
}

// Conn is what the publisher needs from the connection manager: a live
// channel (connecting lazily if required), a way to flag the connection bad
// after a failure, and visibility into basic.return events for mandatory
// publishes the broker could not route.
type Conn interface {
	Ensure() (Channel, error)
	MarkDisconnected()
	WasReturned(messageID string) bool
}

// Connection manages one broker connection and one channel in confirm mode.
// All state is guarded by mu; the zero value is disconnected and connects
// lazily on the first Ensure.
type Connection struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	conn      *amqp.Connection
	ch        *amqp.Channel
	connected bool

	// message ids the broker bounced back as unroutable
	returnedMu sync.Mutex
	returns    <-chan amqp.Return
	returned   map[string]struct{}
}

// NewConnection creates a disconnected connection manager.
func NewConnection(cfg Config, logger *zap.Logger) *Connection {
	if cfg.Heartbeat == 0 {
		// matches the original service's pika heartbeat
		cfg.Heartbeat = 600 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Connection{
		cfg:      cfg,
		logger:   logger,
		returned: make(map[string]struct{}),
	}
}

// Connect establishes the broker handshake, opens a channel, switches it to
// confirm mode and declares the notifications exchange. Idempotent: a
// connected manager is a no-op. On failure the manager stays disconnected;
// the cause is logged and returned for the publisher to swallow.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Connection) connectLocked() error {
	if c.connected {
		return nil
	}

	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat: c.cfg.Heartbeat,
		Dial:      amqp.DefaultDial(c.cfg.DialTimeout),
	})
	if err != nil {
		c.logger.Error("failed to connect to rabbitmq", zap.Error(err))
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		c.logger.Error("failed to open rabbitmq channel", zap.Error(err))
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		c.logger.Error("failed to enable publisher confirms", zap.Error(err))
		return fmt.Errorf("enable confirms: %w", err)
	}

	// Create-if-absent, never destructive.
	err = ch.ExchangeDeclare(
		Exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		c.logger.Error("failed to declare exchange", zap.Error(err))
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Mandatory publishes the broker cannot route come back as
	// basic.return before their confirm resolves. The returns sit in this
	// buffered channel until WasReturned drains them; no goroutine means
	// no window where a return is in flight but not yet visible.
	c.returnedMu.Lock()
	c.returns = ch.NotifyReturn(make(chan amqp.Return, 8))
	c.returnedMu.Unlock()

	c.conn = conn
	c.ch = ch
	c.connected = true
	metrics.RecordBrokerConnect()

	c.logger.Info("connected to rabbitmq", zap.String("exchange", Exchange))
	return nil
}

// Ensure connects lazily and hands back the live channel.
func (c *Connection) Ensure() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return confirmChannel{ch: c.ch}, nil
}

// IsConnected reports connection state without side effects.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// MarkDisconnected flags the connection bad so the next publish reconnects.
// Reconnection is lazy only; there is no background retry loop.
func (c *Connection) MarkDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// WasReturned consumes the unroutable flag for a message id. Pending
// basic.return frames are drained here, under the same lock as the map
// read, so a return buffered before the confirm resolved is always seen.
func (c *Connection) WasReturned(messageID string) bool {
	c.returnedMu.Lock()
	defer c.returnedMu.Unlock()

	c.drainReturnsLocked()

	_, ok := c.returned[messageID]
	if ok {
		delete(c.returned, messageID)
	}
	return ok
}

func (c *Connection) drainReturnsLocked() {
	for {
		select {
		case r, ok := <-c.returns:
			if !ok {
				c.returns = nil
				return
			}
			c.logger.Error("message returned as unroutable",
				zap.String("message_id", r.MessageId),
				zap.String("routing_key", r.RoutingKey),
				zap.String("reply_text", r.ReplyText),
			)
			c.returned[r.MessageId] = struct{}{}
		default:
			return
		}
	}
}

// Close tears down the channel and connection. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Connection) closeLocked() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false

	// Flags for a dead session can never be claimed; drop them so the map
	// does not grow across reconnects.
	c.returnedMu.Lock()
	c.returns = nil
	c.returned = make(map[string]struct{})
	c.returnedMu.Unlock()
}

// confirmChannel adapts *amqp.Channel to the Channel seam.
type confirmChannel struct {
	ch *amqp.Channel
}

func (c confirmChannel) PublishWithConfirm(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (Confirmation, error) {
	return c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, false, msg)
}
