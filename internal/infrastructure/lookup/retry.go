package lookup

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rangescan/internal/core/ranges"
	"rangescan/pkg/logger"
)

// Retrying retries transient lookup failures with exponential backoff.
type Retrying struct {
	next        ranges.Resolver
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	log         *logger.Logger
}

// NewRetrying wraps next. maxAttempts counts the first try.
func NewRetrying(next ranges.Resolver, maxAttempts int, initial, max time.Duration, log *logger.Logger) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = logger.Default()
	}
	return &Retrying{
		next:        next,
		maxAttempts: maxAttempts,
		initial:     initial,
		max:         max,
		log:         log.WithComponent("lookup"),
	}
}

var _ ranges.Resolver = (*Retrying)(nil)

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initial
	exp.MaxInterval = r.max
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.maxAttempts-1)), ctx)
}

// Resolve implements ranges.Resolver. The last error is returned once the
// attempts are used up; the caller decides what a failure means.
func (r *Retrying) Resolve(ctx context.Context, identifier string) (ranges.Outcome, error) {
	attempts := 0
	var out ranges.Outcome

	op := func() error {
		attempts++
		res, err := r.next.Resolve(ctx, identifier)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.log.Debugw("lookup attempt failed, retrying",
			"identifier", identifier,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, r.policy(ctx), notify)
	out.Identifier = identifier
	out.Attempts = attempts
	if err != nil {
		return ranges.Outcome{Identifier: identifier, Attempts: attempts}, err
	}
	return out, nil
}

// retryable treats timeouts, network errors and 429/5xx responses as transient.
func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// Disabled resolves nothing and never touches the network.
type Disabled struct{}

// Resolve implements ranges.Resolver.
func (Disabled) Resolve(_ context.Context, identifier string) (ranges.Outcome, error) {
	return ranges.Outcome{Identifier: identifier}, nil
}

// New builds the resolver described by cfg.
func New(cfg Config, log *logger.Logger) ranges.Resolver {
	if !cfg.Enabled {
		return Disabled{}
	}
	return NewRetrying(NewClient(cfg, nil), cfg.MaxAttempts, cfg.InitialInterval, cfg.MaxInterval, log)
}
