package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Named pairs a source with the provider name used in logs.
type Named struct {
	Name   string
	Source PriceSource
}

// Chain tries each source in order and returns the first successful quote.
type Chain struct {
	sources []Named
	logger  zerolog.Logger
}

// NewChain builds a fallback chain.
func NewChain(logger zerolog.Logger, sources ...Named) *Chain {
	return &Chain{sources: sources, logger: logger.With().Str("component", "price_chain").Logger()}
}

// Price returns the first quote any source can provide.
func (c *Chain) Price(ctx context.Context, symbol string) (float64, error) {
	if len(c.sources) == 0 {
		return 0, fmt.Errorf("%w: no price sources configured", ErrPriceUnavailable)
	}

	var errs []error
	for _, src := range c.sources {
		price, err := src.Source.Price(ctx, symbol)
		if err == nil {
			return price, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		c.logger.Warn().Err(err).Str("provider", src.Name).Str("symbol", symbol).Msg("price source failed")
		errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
	}

	return 0, fmt.Errorf("%w: all sources failed for %s: %w", ErrPriceUnavailable, symbol, errors.Join(errs...))
}

var _ PriceSource = (*Chain)(nil)
