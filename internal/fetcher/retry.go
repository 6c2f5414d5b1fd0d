package fetcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying re-asks the wrapped source after transient failures. Retry policy lives here, at the
// transport boundary, so callers only ever see a final quote or a final failure.
type Retrying struct {
	source     PriceSource
	maxRetries uint64
	delay      time.Duration
}

// NewRetrying wraps source with up to maxRetries extra attempts spaced by delay.
func NewRetrying(source PriceSource, maxRetries int, delay time.Duration) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{source: source, maxRetries: uint64(maxRetries), delay: delay}
}

// Price fetches with retry.
func (r *Retrying) Price(ctx context.Context, symbol string) (float64, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), r.maxRetries),
		ctx,
	)

	return backoff.RetryWithData(func() (float64, error) {
		price, err := r.source.Price(ctx, symbol)
		if err != nil && ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return price, err
	}, policy)
}

var _ PriceSource = (*Retrying)(nil)
