package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otc-risk-shield/internal/clock"
	"otc-risk-shield/internal/market"
)

func newTestTracker(opts Options) (*Tracker, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	opts.Clock = clk
	return NewTracker(opts, zerolog.Nop()), clk
}

func feed(tr *Tracker, clk *clock.Fake, symbol string, step time.Duration, prices ...float64) {
	for _, p := range prices {
		tr.Record(symbol, p)
		clk.Advance(step)
	}
}

func TestVolatilityConstantSeriesIsZero(t *testing.T) {
	tr, clk := newTestTracker(DefaultOptions())
	feed(tr, clk, "SOL", time.Second, 100, 100, 100, 100, 100)

	assert.Equal(t, 0.0, tr.Volatility("SOL", 0))
}

func TestVolatilityNeedsTwoReturns(t *testing.T) {
	tr, clk := newTestTracker(DefaultOptions())
	assert.Equal(t, 0.0, tr.Volatility("SOL", 0))

	feed(tr, clk, "SOL", time.Second, 100)
	assert.Equal(t, 0.0, tr.Volatility("SOL", 0))

	feed(tr, clk, "SOL", time.Second, 110)
	assert.Equal(t, 0.0, tr.Volatility("SOL", 0))

	feed(tr, clk, "SOL", time.Second, 99)
	assert.Greater(t, tr.Volatility("SOL", 0), 0.0)
}

func TestSampleStdDevSignInvariant(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.005, 0.03, -0.015}
	negated := make([]float64, len(returns))
	for i, r := range returns {
		negated[i] = -r
	}

	assert.InDelta(t, SampleStdDev(returns), SampleStdDev(negated), 1e-15)
	assert.Greater(t, SampleStdDev(returns), 0.0)
}

func TestSampleStdDevKnownValue(t *testing.T) {
	// mean 0.02, squared deviations sum 0.0002, n-1 = 2
	assert.InDelta(t, 0.01, SampleStdDev([]float64{0.01, 0.02, 0.03}), 1e-12)
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   Trend
	}{
		{name: "single point", prices: []float64{100}, want: TrendInsufficientData},
		{name: "upward", prices: []float64{100, 100.05, 100.2}, want: TrendUpward},
		{name: "downward", prices: []float64{100, 99.95, 99.8}, want: TrendDownward},
		{name: "inside deadband", prices: []float64{100, 100.3, 100.05}, want: TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, clk := newTestTracker(DefaultOptions())
			feed(tr, clk, "ETH", time.Second, tt.prices...)

			report := tr.Trend("ETH", 0)
			assert.Equal(t, tt.want, report.Trend)
			assert.Equal(t, len(tt.prices), report.DataPoints)
		})
	}
}

func TestDetectPatterns(t *testing.T) {
	t.Run("stable market", func(t *testing.T) {
		tr, clk := newTestTracker(DefaultOptions())
		feed(tr, clk, "SOL", time.Minute, 100, 100.1, 100, 100.1, 100.05)

		report := tr.DetectPatterns("SOL")
		assert.Equal(t, []Pattern{PatternStableMarket}, report.Patterns)
		assert.Equal(t, market.RiskLow, report.RiskLevel)
	})

	t.Run("strong upward trend", func(t *testing.T) {
		tr, clk := newTestTracker(DefaultOptions())
		feed(tr, clk, "SOL", time.Minute, 100, 101, 102, 103)

		report := tr.DetectPatterns("SOL")
		assert.Contains(t, report.Patterns, PatternStrongUpwardTrend)
		assert.NotContains(t, report.Patterns, PatternStableMarket)
		assert.Equal(t, market.RiskHigh, report.RiskLevel)
	})

	t.Run("high volatility and strong downward trend", func(t *testing.T) {
		tr, clk := newTestTracker(DefaultOptions())
		feed(tr, clk, "SOL", time.Minute, 100, 110, 95, 105, 90)

		report := tr.DetectPatterns("SOL")
		assert.Contains(t, report.Patterns, PatternHighVolatility)
		assert.Contains(t, report.Patterns, PatternStrongDownwardTrend)
		assert.Equal(t, market.RiskHigh, report.RiskLevel)
	})

	t.Run("medium volatility without strong trend", func(t *testing.T) {
		tr, clk := newTestTracker(DefaultOptions())
		feed(tr, clk, "SOL", time.Minute, 100, 103, 100, 103, 100)

		report := tr.DetectPatterns("SOL")
		assert.Empty(t, report.Patterns)
		assert.Greater(t, report.Volatility, 0.02)
		assert.Equal(t, market.RiskMedium, report.RiskLevel)
	})
}

func TestRecordPrunesOutsideRetention(t *testing.T) {
	opts := DefaultOptions()
	opts.Retention = 10 * time.Minute
	tr, clk := newTestTracker(opts)

	feed(tr, clk, "sol", 4*time.Minute, 100, 101, 102, 103)
	// records at +0m..+12m, clock now at +16m
	points := tr.Snapshot("SOL")
	require.Len(t, points, 2)
	assert.Equal(t, 102.0, points[0].Price)
	assert.Equal(t, "SOL", points[0].Symbol)
}

func TestSinceRestrictsSpan(t *testing.T) {
	tr, clk := newTestTracker(DefaultOptions())
	feed(tr, clk, "SOL", time.Minute, 100, 101, 102, 103)

	points := tr.Since("SOL", 150*time.Second)
	require.Len(t, points, 2)
	assert.Equal(t, 102.0, points[0].Price)
}

func TestRecordWithVolume(t *testing.T) {
	tr, _ := newTestTracker(DefaultOptions())
	p := tr.RecordWithVolume("BTC", 60000, 12.5)

	require.NotNil(t, p.Volume)
	assert.Equal(t, 12.5, *p.Volume)
	assert.Equal(t, []string{"BTC"}, tr.Symbols())
}

func TestConcurrentRecord(t *testing.T) {
	tr := NewTracker(DefaultOptions(), zerolog.Nop())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			symbol := fmt.Sprintf("T%d", g%4)
			for i := 0; i < 50; i++ {
				tr.Record(symbol, 100+float64(i))
				_ = tr.Volatility(symbol, 0)
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, tr.Symbols(), 4)
	for _, s := range tr.Symbols() {
		assert.Len(t, tr.Snapshot(s), 100)
	}
}

func TestRecordPointKeepsTimestamp(t *testing.T) {
	tr, clk := newTestTracker(DefaultOptions())
	at := clk.Now().Add(-time.Minute)

	p := tr.RecordPoint(market.PricePoint{Timestamp: at, Symbol: "sol", Price: 42})
	assert.Equal(t, "SOL", p.Symbol)

	points := tr.Snapshot("SOL")
	require.Len(t, points, 1)
	assert.Equal(t, at, points[0].Timestamp)
}
