package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/channel"
)

// ProtectedAdapter wraps a channel adapter with a breaker. Only results
// carrying a provider error count as failures; validation failures never
// reach the provider and leave the breaker untouched.
type ProtectedAdapter struct {
	next    channel.Adapter
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedAdapter(next channel.Adapter, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedAdapter {
	return &ProtectedAdapter{
		next:    next,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedAdapter) Kind() channel.Kind { return p.next.Kind() }

// Send fails fast with "<KIND> circuit open" while the breaker is open.
func (p *ProtectedAdapter) Send(ctx context.Context, identifier, message string) channel.Result {
	kind := p.next.Kind()

	if !p.breaker.Allow() {
		p.logger.Debug("circuit open, skipping provider",
			zap.String("breaker", p.breaker.Name()),
			zap.String("channel", string(kind)),
		)
		return channel.Result{
			Status: channel.StatusFailed,
			Reason: fmt.Sprintf("%s circuit open", kind),
			Err:    fmt.Errorf("%w: %s", ErrCircuitOpen, p.breaker.Name()),
		}
	}

	settled := false
	defer func() {
		if !settled {
			p.breaker.RecordFailure()
		}
	}()

	res := p.next.Send(ctx, identifier, message)
	settled = true

	switch {
	case res.Err != nil:
		p.breaker.RecordFailure()
	case res.Succeeded():
		p.breaker.RecordSuccess()
	default:
		p.breaker.Skip()
	}
	return res
}

// Breaker returns the underlying breaker for the channels endpoint.
func (p *ProtectedAdapter) Breaker() *CircuitBreaker {
	return p.breaker
}
