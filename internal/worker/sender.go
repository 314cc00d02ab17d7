// Package worker consumes the notification queue and performs the actual
// per-channel delivery: SMS through SNS, email through SES. It is the
// downstream counterpart of the publisher: everything on the queue has
// already been committed and confirmed.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/db"
)

// Delivery channels
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Delivery is one decoded queue message resolved to a concrete channel.
type Delivery struct {
	MessageID string
	UserID    string
	Type      db.NotificationType
	Message   string
	Phone     string
	Email     string
	Channel   string
}

// Sender delivers one notification over a single channel.
type Sender interface {
	Send(ctx context.Context, d *Delivery) error
	SupportsChannel(channel string) bool
}

// MultiSender routes a delivery to the first sender supporting its channel.
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a router over the given senders.
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

func (m *MultiSender) Send(ctx context.Context, d *Delivery) error {
	for _, s := range m.senders {
		if s.SupportsChannel(d.Channel) {
			return s.Send(ctx, d)
		}
	}
	return fmt.Errorf("no sender for channel: %s", d.Channel)
}

func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, s := range m.senders {
		if s.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender is a simple sender that logs deliveries (for testing/development)
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d *Delivery) error {
	s.logger.Info("delivering notification",
		zap.String("message_id", d.MessageID),
		zap.String("channel", d.Channel),
		zap.String("user_id", d.UserID),
		zap.String("message", d.Message),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == ChannelSMS || channel == ChannelEmail
}
