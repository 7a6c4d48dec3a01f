package payments

import (
	"context"
	"time"
)

// GuardedGateway bounds every gateway call with a timeout and routes it
// through a circuit breaker. A timed out call counts as a breaker failure.
type GuardedGateway struct {
	inner   Gateway
	breaker *CircuitBreaker
	timeout time.Duration
}

func NewGuardedGateway(inner Gateway, breaker *CircuitBreaker, timeout time.Duration) *GuardedGateway {
	return &GuardedGateway{inner: inner, breaker: breaker, timeout: timeout}
}

func (g *GuardedGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return g.breaker.Execute(func() error {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err != nil && callCtx.Err() == context.DeadlineExceeded && !IsTransient(err) {
			return &GatewayError{Kind: Transient, Op: op, Err: err}
		}
		return err
	})
}

func (g *GuardedGateway) CreateIntent(ctx context.Context, amountPence int64, currency string, metadata map[string]string) (*Intent, error) {
	var intent *Intent
	err := g.call(ctx, "create_intent", func(ctx context.Context) error {
		var err error
		intent, err = g.inner.CreateIntent(ctx, amountPence, currency, metadata)
		return err
	})
	return intent, err
}

func (g *GuardedGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	var intent *Intent
	err := g.call(ctx, "retrieve_intent", func(ctx context.Context) error {
		var err error
		intent, err = g.inner.RetrieveIntent(ctx, intentID)
		return err
	})
	return intent, err
}

func (g *GuardedGateway) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	var intent *Intent
	err := g.call(ctx, "cancel_intent", func(ctx context.Context) error {
		var err error
		intent, err = g.inner.CancelIntent(ctx, intentID)
		return err
	})
	return intent, err
}

func (g *GuardedGateway) Refund(ctx context.Context, intentID string, amountPence int64) (*RefundResult, error) {
	var result *RefundResult
	err := g.call(ctx, "refund", func(ctx context.Context) error {
		var err error
		result, err = g.inner.Refund(ctx, intentID, amountPence)
		return err
	})
	return result, err
}
