package channel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// snsPublisher is the subset of the SNS client the adapters use.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSConfig struct {
	Region string
}

// NewSNSClient loads the default AWS config for the given region.
func NewSNSClient(ctx context.Context, cfg SNSConfig) (*sns.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return sns.NewFromConfig(awsCfg), nil
}

// SNSSMSAdapter sends SMS through SNS direct publish to a phone number.
type SNSSMSAdapter struct {
	client snsPublisher
	logger *zap.Logger
}

func NewSNSSMSAdapter(client snsPublisher, logger *zap.Logger) *SNSSMSAdapter {
	return &SNSSMSAdapter{client: client, logger: logger}
}

func (a *SNSSMSAdapter) Kind() Kind { return KindSMS }

func (a *SNSSMSAdapter) Send(ctx context.Context, phone, message string) Result {
	if res, ok := validatePhone(phone); !ok {
		return res
	}

	out, err := a.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(message),
	})
	if err != nil {
		a.logger.Warn("sns sms publish failed", zap.Error(err))
		return ProviderFailure(KindSMS, err)
	}

	a.logger.Info("SMS sent via SNS", zap.String("message_id", aws.ToString(out.MessageId)))
	return Success("SMS delivered")
}

// SNSPushAdapter publishes to an SNS platform application endpoint. The
// device token is the endpoint ARN registered for the device.
type SNSPushAdapter struct {
	client snsPublisher
	logger *zap.Logger
}

func NewSNSPushAdapter(client snsPublisher, logger *zap.Logger) *SNSPushAdapter {
	return &SNSPushAdapter{client: client, logger: logger}
}

func (a *SNSPushAdapter) Kind() Kind { return KindPush }

func (a *SNSPushAdapter) Send(ctx context.Context, endpointARN, message string) Result {
	if res, ok := validateDeviceToken(endpointARN); !ok {
		return res
	}

	out, err := a.client.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(endpointARN),
		Message:   aws.String(message),
	})
	if err != nil {
		a.logger.Warn("sns push publish failed", zap.Error(err))
		return ProviderFailure(KindPush, err)
	}

	a.logger.Info("push sent via SNS", zap.String("message_id", aws.ToString(out.MessageId)))
	return Success("Push delivered")
}
