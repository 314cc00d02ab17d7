package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/circuitbreaker"
)

// ProtectedSender wraps a Sender with a circuit breaker. When the
// downstream service (SNS, SES) starts failing, the circuit opens and
// deliveries fail fast instead of piling up against a dead dependency.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts delivery through the circuit breaker. An open circuit
// returns ErrCircuitOpen immediately.
func (p *ProtectedSender) Send(ctx context.Context, d *Delivery) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Stats().Name),
			zap.String("message_id", d.MessageID),
			zap.String("channel", d.Channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", circuitbreaker.ErrCircuitOpen, p.breaker.Stats().Name)
	}

	err := p.sender.Send(ctx, d)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
