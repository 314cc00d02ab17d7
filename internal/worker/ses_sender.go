package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/db"
)

// SESSender sends email notifications via AWS SES
type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send sends an email notification via AWS SES
func (s *SESSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", d.Channel)
	}

	if d.Email == "" {
		return fmt.Errorf("delivery %s missing email", d.MessageID)
	}
	if d.Message == "" {
		return fmt.Errorf("delivery %s missing message", d.MessageID)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{d.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(emailSubject(d.Type)),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(d.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("message_id", d.MessageID),
		zap.String("to", d.Email),
		zap.String("ses_message_id", *result.MessageId),
	)

	return nil
}

// SupportsChannel checks if this sender supports the email channel
func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == ChannelEmail
}

func emailSubject(typ db.NotificationType) string {
	switch typ {
	case db.TypeAssignment:
		return "Tu ticket fue asignado"
	case db.TypeTicket:
		return "Actualización de tu ticket"
	case db.TypeComment:
		return "Nuevo comentario en tu ticket"
	case db.TypeGroup:
		return "Nuevo anuncio"
	default:
		return "Notificación"
	}
}
