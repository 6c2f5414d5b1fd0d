package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otc-risk-shield/internal/clock"
	"otc-risk-shield/internal/fetcher"
)

type script struct {
	mu     sync.Mutex
	steps  []any
	calls  int
	onCall func(n int)
}

func (s *script) Price(context.Context, string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if s.onCall != nil {
		s.onCall(i)
	}
	if i >= len(s.steps) {
		return 100, nil
	}
	switch v := s.steps[i].(type) {
	case float64:
		return v, nil
	case error:
		return 0, v
	}
	return 0, fetcher.ErrPriceUnavailable
}

func fakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func TestSampleCollectsWindow(t *testing.T) {
	src := &script{steps: []any{100.0, 100.5, 101.0, 99.5, 103.0}}
	s := New(src, Options{Interval: 500 * time.Millisecond, Clock: fakeClock()}, zerolog.Nop())

	w, err := s.Sample(context.Background(), "SOL", 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 5, w.Series.Len())
	assert.Equal(t, 100.0, w.First.Price)
	assert.Equal(t, 103.0, w.Last.Price)
	assert.GreaterOrEqual(t, w.Elapsed, 2*time.Second)
	for i := 1; i < w.Series.Len(); i++ {
		assert.True(t, w.Series.Points[i].Timestamp.After(w.Series.Points[i-1].Timestamp))
	}
}

func TestSampleSkipsMissedTicks(t *testing.T) {
	src := &script{steps: []any{100.0, errors.New("timeout"), 101.0, fetcher.ErrPriceUnavailable, 102.0}}
	s := New(src, Options{Interval: 500 * time.Millisecond, Clock: fakeClock()}, zerolog.Nop())

	w, err := s.Sample(context.Background(), "SOL", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102}, w.Series.Prices())
	assert.Equal(t, 102.0, w.Last.Price)
}

func TestSampleRequiresInitialPrice(t *testing.T) {
	src := &script{steps: []any{errors.New("connection refused")}}
	s := New(src, Options{Clock: fakeClock()}, zerolog.Nop())

	_, err := s.Sample(context.Background(), "SOL", time.Second)
	require.ErrorIs(t, err, fetcher.ErrPriceUnavailable)
	assert.Equal(t, 1, src.calls)
}

func TestSampleZeroDurationKeepsSingleQuote(t *testing.T) {
	src := &script{steps: []any{42.0}}
	s := New(src, Options{Clock: fakeClock()}, zerolog.Nop())

	w, err := s.Sample(context.Background(), "SOL", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Series.Len())
	assert.Equal(t, w.First, w.Last)
}

func TestSampleCancelledDiscardsPartialSeries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &script{onCall: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	s := New(src, Options{Interval: 500 * time.Millisecond, Clock: fakeClock()}, zerolog.Nop())

	w, err := s.Sample(ctx, "SOL", 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, w.Series)
}

func TestSampleRealClockHonoursDuration(t *testing.T) {
	src := &script{}
	s := New(src, Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	started := time.Now()
	w, err := s.Sample(context.Background(), "SOL", 30*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)
	assert.GreaterOrEqual(t, w.Series.Len(), 2)
}
