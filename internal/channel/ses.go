package channel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

const defaultEmailSubject = "Notification"

type sesSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESConfig struct {
	Region    string
	FromEmail string
	Subject   string
}

// SESEmailAdapter sends plain-text email through AWS SES.
type SESEmailAdapter struct {
	client  sesSender
	from    string
	subject string
	logger  *zap.Logger
}

func NewSESEmailAdapter(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESEmailAdapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return newSESEmailAdapter(ses.NewFromConfig(awsCfg), cfg, logger), nil
}

func newSESEmailAdapter(client sesSender, cfg SESConfig, logger *zap.Logger) *SESEmailAdapter {
	subject := cfg.Subject
	if subject == "" {
		subject = defaultEmailSubject
	}
	return &SESEmailAdapter{
		client:  client,
		from:    cfg.FromEmail,
		subject: subject,
		logger:  logger,
	}
}

func (a *SESEmailAdapter) Kind() Kind { return KindEmail }

func (a *SESEmailAdapter) Send(ctx context.Context, email, message string) Result {
	if res, ok := validateEmail(email); !ok {
		return res
	}

	input := &ses.SendEmailInput{
		Source: aws.String(a.from),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(a.subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	out, err := a.client.SendEmail(ctx, input)
	if err != nil {
		a.logger.Warn("ses send failed", zap.Error(err))
		return ProviderFailure(KindEmail, err)
	}

	a.logger.Info("email sent via SES",
		zap.String("to", email),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return Success("Email delivered")
}
