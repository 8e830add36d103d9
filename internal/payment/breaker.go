package payment

import (
	"context"
	"time"

	ierr "homepro/internal/errors"
	"homepro/internal/logger"
	"homepro/internal/metrics"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker/v2"
)

type BreakerConfig struct {
	Provider         string
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Breaker guards a Gateway with a per-call timeout and a circuit breaker.
// Declines and idempotency mismatches are answers from a healthy provider and
// never trip it.
type Breaker struct {
	next     Gateway
	provider string
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker[*Receipt]
}

func NewBreaker(next Gateway, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "payment-" + cfg.Provider,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.SetBreakerState(cfg.Provider, float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsDeclined(err) || IsIdempotencyMismatch(err)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	}

	return &Breaker{
		next:     next,
		provider: cfg.Provider,
		timeout:  cfg.Timeout,
		cb:       gobreaker.NewCircuitBreaker[*Receipt](settings),
	}
}

func (b *Breaker) Charge(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	receipt, err := b.cb.Execute(func() (*Receipt, error) {
		callCtx, cancel := b.withTimeout(ctx)
		defer cancel()
		return b.next.Charge(callCtx, req)
	})

	switch {
	case err == nil:
		metrics.RecordPayment(b.provider, string(req.Kind), "paid")
		return receipt, nil
	case IsDeclined(err):
		metrics.RecordPayment(b.provider, string(req.Kind), "declined")
		return nil, err
	default:
		metrics.RecordPayment(b.provider, string(req.Kind), "failed")
		return nil, b.wrap(err)
	}
}

func (b *Breaker) Refund(ctx context.Context, receipt *Receipt) error {
	// refunds bypass the breaker; they must be attempted even while charges are shed
	callCtx, cancel := b.withTimeout(ctx)
	defer cancel()
	if err := b.next.Refund(callCtx, receipt); err != nil {
		return b.wrap(err)
	}
	return nil
}

func (b *Breaker) HasPaymentMethod(ctx context.Context, payer Payer) (bool, error) {
	callCtx, cancel := b.withTimeout(ctx)
	defer cancel()
	ok, err := b.next.HasPaymentMethod(callCtx, payer)
	if err != nil {
		return false, b.wrap(err)
	}
	return ok, nil
}

// State reports the breaker position: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *Breaker) wrap(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Unavailable(err, b.provider)
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("payment provider timed out", "provider", b.provider, "timeout", b.timeout.String())
		return Unavailable(err, b.provider)
	case !ierr.IsPayment(err):
		return Unavailable(err, b.provider)
	}
	return err
}
