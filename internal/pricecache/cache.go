// Package pricecache keeps short-lived quotes so repeated reference-price lookups do not hit the
// upstream provider on every calculation.
package pricecache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"otc-risk-shield/internal/clock"
	"otc-risk-shield/internal/fetcher"
)

// Cache stores prices with a time-to-live.
type Cache interface {
	Get(ctx context.Context, symbol string) (float64, bool, error)
	Set(ctx context.Context, symbol string, price float64) error
}

type entry struct {
	price     float64
	expiresAt time.Time
}

// Memory is an in-process cache. Expiry is evaluated against the injected clock.
type Memory struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]entry
}

// NewMemory constructs an in-process cache.
func NewMemory(ttl time.Duration, clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Memory{ttl: ttl, clock: clk, entries: make(map[string]entry)}
}

// Get returns a cached price that has not yet expired.
func (m *Memory) Get(_ context.Context, symbol string) (float64, bool, error) {
	key := strings.ToUpper(symbol)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, false, nil
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return 0, false, nil
	}
	return e.price, true, nil
}

// Set stores price until now + ttl.
func (m *Memory) Set(_ context.Context, symbol string, price float64) error {
	m.mu.Lock()
	m.entries[strings.ToUpper(symbol)] = entry{price: price, expiresAt: m.clock.Now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

// Source serves quotes from a cache, falling through to the wrapped source on a miss.
type Source struct {
	source fetcher.PriceSource
	cache  Cache
	logger zerolog.Logger
}

// NewSource wraps source with cache.
func NewSource(source fetcher.PriceSource, cache Cache, logger zerolog.Logger) *Source {
	return &Source{source: source, cache: cache, logger: logger.With().Str("component", "price_cache").Logger()}
}

// Price returns a cached quote when fresh, otherwise fetches and stores one.
func (s *Source) Price(ctx context.Context, symbol string) (float64, error) {
	price, ok, err := s.cache.Get(ctx, symbol)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("cache read failed")
	} else if ok {
		return price, nil
	}

	price, err = s.source.Price(ctx, symbol)
	if err != nil {
		return 0, err
	}

	if err := s.cache.Set(ctx, symbol, price); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("cache write failed")
	}
	return price, nil
}

var (
	_ Cache               = (*Memory)(nil)
	_ fetcher.PriceSource = (*Source)(nil)
)
