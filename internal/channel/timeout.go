package channel

import (
	"context"
	"fmt"
	"time"
)

const timeoutReason = "timeout"

type timeoutAdapter struct {
	next    Adapter
	timeout time.Duration
}

// WithTimeout bounds every Send of next by d. A call that has not returned
// when d elapses is reported as failed with reason "timeout"; its context is
// cancelled so a well-behaved adapter stops early. A non-positive d returns
// next unchanged.
func WithTimeout(next Adapter, d time.Duration) Adapter {
	if d <= 0 || next == nil {
		return next
	}
	return &timeoutAdapter{next: next, timeout: d}
}

func (a *timeoutAdapter) Kind() Kind { return a.next.Kind() }

func (a *timeoutAdapter) Send(ctx context.Context, identifier, message string) Result {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			// The caller cannot recover a panic raised on this goroutine.
			if r := recover(); r != nil {
				done <- Result{Status: StatusFailed, Reason: "adapter panic", Err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		done <- a.next.Send(ctx, identifier, message)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{Status: StatusFailed, Reason: timeoutReason, Err: ctx.Err()}
	}
}
