package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSSender sends SMS notifications via AWS SNS
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates a new SNS sender for SMS notifications
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send sends an SMS notification via AWS SNS
func (s *SNSSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != ChannelSMS {
		return fmt.Errorf("SNS sender only supports sms, got: %s", d.Channel)
	}

	if d.Phone == "" {
		return fmt.Errorf("delivery %s missing phone", d.MessageID)
	}
	if d.Message == "" {
		return fmt.Errorf("delivery %s missing message", d.MessageID)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(d.Phone),
		Message:     aws.String(d.Message),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("message_id", d.MessageID),
		zap.String("phone", d.Phone),
		zap.String("sns_message_id", *result.MessageId),
	)

	return nil
}

// SupportsChannel checks if this sender supports the SMS channel
func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == ChannelSMS
}
