// Package sampler polls a price source over an OTC delay window.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"otc-risk-shield/internal/clock"
	"otc-risk-shield/internal/fetcher"
	"otc-risk-shield/internal/market"
)

// DefaultInterval is the polling cadence used when Options.Interval is unset.
const DefaultInterval = 500 * time.Millisecond

// Options tune sampler behaviour.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
}

// Window is a completed sampling run.
type Window struct {
	Series  *market.Series
	First   market.PricePoint
	Last    market.PricePoint
	Elapsed time.Duration
}

// Sampler drives fixed-cadence price polling.
type Sampler struct {
	source   fetcher.PriceSource
	interval time.Duration
	clock    clock.Clock
	logger   zerolog.Logger
}

// New constructs a Sampler.
func New(source fetcher.PriceSource, opts Options, logger zerolog.Logger) *Sampler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sampler{
		source:   source,
		interval: interval,
		clock:    clk,
		logger:   logger.With().Str("component", "sampler").Logger(),
	}
}

// Sample polls symbol until at least duration has elapsed. The first quote is mandatory; later
// misses are dropped from the series. A cancelled context discards everything collected so far.
func (s *Sampler) Sample(ctx context.Context, symbol string, duration time.Duration) (Window, error) {
	start := s.clock.Now()
	series := market.NewSeries(symbol)

	initial, err := s.fetch(ctx, symbol)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Window{}, ctxErr
		}
		if !errors.Is(err, fetcher.ErrPriceUnavailable) {
			err = fmt.Errorf("%w: %w", fetcher.ErrPriceUnavailable, err)
		}
		return Window{}, fmt.Errorf("initial quote for %s: %w", symbol, err)
	}
	series.Append(start, initial)

	s.logger.Debug().Str("symbol", symbol).Float64("price", initial).Dur("duration", duration).Msg("sampling window opened")

	for s.clock.Now().Sub(start) < duration {
		if err := ctx.Err(); err != nil {
			return Window{}, err
		}

		select {
		case <-ctx.Done():
			return Window{}, ctx.Err()
		case <-s.clock.After(s.interval):
		}

		price, err := s.fetch(ctx, symbol)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Window{}, ctxErr
			}
			s.logger.Debug().Err(err).Str("symbol", symbol).Msg("sample missed")
			continue
		}

		p := series.Append(s.clock.Now(), price)
		s.logger.Debug().Str("symbol", symbol).
			Float64("price", p.Price).
			Float64("change_pct", market.RelativeChange(initial, p.Price)*100).
			Msg("sample recorded")
	}

	first, _ := series.First()
	last, _ := series.Last()
	return Window{
		Series:  series,
		First:   first,
		Last:    last,
		Elapsed: s.clock.Now().Sub(start),
	}, nil
}

func (s *Sampler) fetch(ctx context.Context, symbol string) (float64, error) {
	price, err := s.source.Price(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive quote %v", fetcher.ErrPriceUnavailable, price)
	}
	return price, nil
}
