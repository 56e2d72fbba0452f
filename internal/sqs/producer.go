// Package sqs carries dispatch requests through an SQS queue for
// asynchronous processing.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/dispatch"
	"github.com/lalithlochan/cascade/internal/metrics"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Message is the queued body.
type Message struct {
	RequestID  string           `json:"request_id"`
	Request    dispatch.Request `json:"request"`
	EnqueuedAt int64            `json:"enqueued_at"`
}

// NewClient builds an SQS client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Producer sends dispatch requests to SQS.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

func NewProducer(client API, queueURL string, logger *zap.Logger) *Producer {
	logger.Info("sqs producer initialized", zap.String("queue_url", queueURL))

	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Enqueue validates req and sends it to the queue. It returns the request
// ID carried in the message and the SQS message ID.
func (p *Producer) Enqueue(ctx context.Context, req dispatch.Request) (requestID, messageID string, err error) {
	if err := req.Validate(); err != nil {
		return "", "", err
	}

	msg := Message{
		RequestID:  uuid.NewString(),
		Request:    req,
		EnqueuedAt: time.Now().UnixNano(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("request_id", msg.RequestID),
			zap.String("event_type", req.EventType),
		)
		return "", "", fmt.Errorf("sqs send failed: %w", err)
	}

	metrics.RecordRequestEnqueued(req.EventType)

	return msg.RequestID, aws.ToString(result.MessageId), nil
}

// Delivery is one received message. DecodeErr is set when the body is not
// a valid Message; such deliveries still carry a receipt handle so they
// can be deleted.
type Delivery struct {
	MessageID     string
	ReceiptHandle string
	Message       *Message
	DecodeErr     error
}

// ConsumerConfig tunes long polling.
type ConsumerConfig struct {
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
}

// Consumer reads dispatch requests from SQS.
type Consumer struct {
	client   API
	queueURL string
	config   ConsumerConfig
	logger   *zap.Logger
}

func NewConsumer(client API, queueURL string, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.WaitTimeSeconds <= 0 {
		cfg.WaitTimeSeconds = 20
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 60
	}

	logger.Info("sqs consumer initialized", zap.String("queue_url", queueURL))

	return &Consumer{
		client:   client,
		queueURL: queueURL,
		config:   cfg,
		logger:   logger,
	}
}

// Receive long-polls for up to MaxMessages deliveries.
func (c *Consumer) Receive(ctx context.Context) ([]Delivery, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.config.MaxMessages,
		WaitTimeSeconds:     c.config.WaitTimeSeconds,
		VisibilityTimeout:   c.config.VisibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	deliveries := make([]Delivery, 0, len(result.Messages))
	for _, m := range result.Messages {
		d := Delivery{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}

		var msg Message
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
			c.logger.Error("failed to unmarshal message",
				zap.String("message_id", d.MessageID),
				zap.Error(err),
			)
			d.DecodeErr = fmt.Errorf("invalid message format: %w", err)
		} else {
			d.Message = &msg
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

// Delete removes a message after it has been handled.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// Release makes a message visible again after seconds, used to back off
// redelivery after an infrastructure failure.
func (c *Consumer) Release(ctx context.Context, receiptHandle string, seconds int32) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
