// Package sns publishes dispatch outcomes to an SNS topic so downstream
// systems can react to delivered and failed notifications.
package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/dispatch"
)

type topicPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Attempt is one channel try inside an outcome event.
type Attempt struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

// OutcomeEvent is the message body published for a finalized dispatch.
type OutcomeEvent struct {
	NotificationID string    `json:"notification_id"`
	EventType      string    `json:"event_type"`
	Status         string    `json:"status"`
	Summary        string    `json:"final_channel_summary"`
	Attempts       []Attempt `json:"attempts"`
	CompletedAt    time.Time `json:"completed_at"`
}

// NewOutcomeEvent flattens a dispatch result into an event.
func NewOutcomeEvent(res *dispatch.Result) OutcomeEvent {
	ev := OutcomeEvent{
		NotificationID: res.Notification.ID.String(),
		EventType:      res.Notification.EventType,
		Status:         res.Notification.Status,
		Summary:        res.Notification.FinalChannelSummary,
		Attempts:       make([]Attempt, 0, len(res.Attempts)),
		CompletedAt:    time.Now().UTC(),
	}
	for _, a := range res.Attempts {
		ev.Attempts = append(ev.Attempts, Attempt{
			Channel: string(a.Channel),
			Status:  string(a.Status),
			Reason:  a.Reason,
		})
	}
	return ev
}

// Publisher sends outcome events to one topic. Subscribers can filter on
// the status and event_type message attributes.
type Publisher struct {
	client   topicPublisher
	topicARN string
	logger   *zap.Logger
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newPublisher(sns.NewFromConfig(cfg), topicARN, logger), nil
}

func newPublisher(client topicPublisher, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}
}

// Publish sends ev and returns the SNS message ID.
func (p *Publisher) Publish(ctx context.Context, ev OutcomeEvent) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Status),
			},
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.EventType),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// DispatchCompleted publishes the outcome of a finalized dispatch. A
// publish failure is logged; the dispatch itself is already recorded.
func (p *Publisher) DispatchCompleted(ctx context.Context, res *dispatch.Result) {
	ev := NewOutcomeEvent(res)
	msgID, err := p.Publish(ctx, ev)
	if err != nil {
		p.logger.Warn("failed to publish dispatch outcome",
			zap.Error(err),
			zap.String("notification_id", ev.NotificationID),
		)
		return
	}

	p.logger.Debug("dispatch outcome published",
		zap.String("notification_id", ev.NotificationID),
		zap.String("sns_message_id", msgID),
	)
}
