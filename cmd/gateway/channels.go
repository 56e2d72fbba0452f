package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/channel"
	"github.com/lalithlochan/cascade/internal/circuitbreaker"
	"github.com/lalithlochan/cascade/internal/config"
	"github.com/lalithlochan/cascade/internal/metrics"
	"github.com/lalithlochan/cascade/internal/redis"
)

// buildAdapters returns one adapter per channel kind for the configured
// mode. INBOX uses the Redis inbox when one is available.
func buildAdapters(ctx context.Context, cfg *config.Config, inbox *redis.InboxStore, logger *zap.Logger) ([]channel.Adapter, error) {
	var adapters []channel.Adapter

	switch cfg.ChannelMode {
	case config.ChannelModeAWS:
		snsClient, err := channel.NewSNSClient(ctx, channel.SNSConfig{Region: cfg.SNSRegion})
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS client: %w", err)
		}
		email, err := channel.NewSESEmailAdapter(ctx, channel.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			Subject:   cfg.SESSubject,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES email adapter: %w", err)
		}
		adapters = append(adapters,
			channel.NewSNSSMSAdapter(snsClient, logger),
			channel.NewSNSPushAdapter(snsClient, logger),
			email,
		)
	default:
		adapters = append(adapters,
			channel.NewSMSSimulator(logger),
			channel.NewPushSimulator(logger),
			channel.NewEmailSimulator(logger),
		)
	}

	if inbox != nil {
		adapters = append(adapters, channel.NewInboxAdapter(inbox, logger))
	} else {
		adapters = append(adapters, channel.NewInboxSimulator(logger))
	}

	return adapters, nil
}

// protect wraps every adapter with the call timeout and a circuit breaker.
// The breakers are returned for the channels endpoint.
func protect(adapters []channel.Adapter, cfg *config.Config, logger *zap.Logger) ([]channel.Adapter, []*circuitbreaker.CircuitBreaker) {
	wrapped := make([]channel.Adapter, 0, len(adapters))
	breakers := make([]*circuitbreaker.CircuitBreaker, 0, len(adapters))

	for _, a := range adapters {
		breaker := circuitbreaker.New(circuitbreaker.Config{
			Name:                string(a.Kind()),
			MaxFailures:         cfg.BreakerMaxFailures,
			RecoveryTimeout:     cfg.BreakerRecoveryTimeout,
			HalfOpenMaxRequests: 1,
			OnStateChange: func(name string, to circuitbreaker.State) {
				metrics.RecordBreakerTransition(name, to.String())
			},
		}, logger)

		protected := circuitbreaker.NewProtectedAdapter(channel.WithTimeout(a, cfg.AdapterTimeout), breaker, logger)
		wrapped = append(wrapped, protected)
		breakers = append(breakers, protected.Breaker())
	}

	return wrapped, breakers
}
