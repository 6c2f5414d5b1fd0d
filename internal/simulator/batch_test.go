package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otc-risk-shield/internal/alerting"
	"otc-risk-shield/internal/clock"
)

func TestRunIterations(t *testing.T) {
	src := newStepSource(map[string][]float64{"SOL": {100}})
	h := newHarness(t, src, fakeClock(), 500*time.Millisecond, Options{IterationPause: time.Second})

	results, err := h.sim.RunIterations(context.Background(), TrialSpec{Token: "SOL", Amount: 1, Delay: time.Second, Threshold: 0.01}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	summary, err := AnalyzeIterations(results)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalSimulations)
	assert.Equal(t, 3, summary.SuccessfulSimulations)
	assert.Equal(t, 0, summary.RisksDetected)
	assert.Equal(t, 0.0, summary.PriceChangeStats.Volatility)

	_, err = h.sim.RunIterations(context.Background(), TrialSpec{Token: "SOL", Amount: 1, Threshold: 0.01}, 0)
	assert.ErrorIs(t, err, ErrInvalidTrial)
}

func TestAnalyzeIterations(t *testing.T) {
	results := []TrialResult{
		{PriceChangePct: 2, RiskDetected: true, MEVProfit: 10},
		{PriceChangePct: -1},
		{Error: "initial quote for SOL: price unavailable"},
	}

	summary, err := AnalyzeIterations(results)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalSimulations)
	assert.Equal(t, 2, summary.SuccessfulSimulations)
	assert.Equal(t, 1, summary.RisksDetected)
	assert.Equal(t, 50.0, summary.RiskPercentage)
	assert.Equal(t, 10.0, summary.TotalMEVProfit)
	assert.Equal(t, 5.0, summary.AverageMEVPerSimulation)
	assert.Equal(t, 10.0, summary.AverageMEVPerRisk)
	assert.Equal(t, PriceChangeStats{Min: -1, Max: 2, Average: 0.5, Volatility: 1.5}, summary.PriceChangeStats)
}

func TestAnalyzeIterationsEmpty(t *testing.T) {
	_, err := AnalyzeIterations(nil)
	assert.ErrorIs(t, err, ErrNoValidResults)

	_, err = AnalyzeIterations([]TrialResult{{Error: "boom"}})
	assert.ErrorIs(t, err, ErrNoValidResults)
}

func TestSummarizeMultiToken(t *testing.T) {
	summary, err := SummarizeMultiToken(map[string]TrialResult{
		"SOL": {MEVProfit: 5, RiskScore: 0.6, RiskDetected: true},
		"ETH": {MEVProfit: 5, RiskScore: 0.8, RiskDetected: true},
		"BTC": {Error: "price unavailable"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TokensAnalyzed)
	assert.Equal(t, "ETH", summary.HighestRiskToken)
	assert.Equal(t, 10.0, summary.TotalMEVProfit)
	assert.Equal(t, 100.0, summary.RiskPercentage)
	assert.Equal(t, 5.0, summary.AverageMEV)

	_, err = SummarizeMultiToken(map[string]TrialResult{})
	assert.ErrorIs(t, err, ErrNoValidResults)
}

func TestSummarizeMultiDelay(t *testing.T) {
	summary, err := SummarizeMultiDelay(map[string]TrialResult{
		"5s":  {DelaySeconds: 5, MEVProfit: 3},
		"2s":  {DelaySeconds: 2, MEVProfit: 3},
		"10s": {DelaySeconds: 10, MEVProfit: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.DelaysTested)
	assert.Equal(t, "2s", summary.OptimalDelay)
	assert.Equal(t, 3.0, summary.MaxMEVProfit)
	assert.Equal(t, "Use 2s delay for maximum MEV opportunity", summary.Recommendation)
	assert.Len(t, summary.MEVByDelay, 3)
}

func TestDelayKey(t *testing.T) {
	assert.Equal(t, "5s", DelayKey(5*time.Second))
	assert.Equal(t, "2.5s", DelayKey(2500*time.Millisecond))
	assert.Equal(t, "0s", DelayKey(0))
}

func TestRunMultiToken(t *testing.T) {
	src := newStepSource(map[string][]float64{
		"SOL": {100, 103},
		"ETH": {2000, 2000},
	})
	h := newHarness(t, src, clock.Real{}, 5*time.Millisecond, Options{Workers: 2})

	report, err := h.sim.RunMultiToken(context.Background(),
		TrialSpec{Amount: 1000, Delay: 20 * time.Millisecond, Threshold: 0.01},
		[]string{"sol", "ETH", "BTC"})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.True(t, report.Results["BTC"].Failed())
	assert.True(t, report.Results["SOL"].RiskDetected)
	assert.False(t, report.Results["ETH"].RiskDetected)

	require.NotNil(t, report.Summary)
	assert.Equal(t, 2, report.Summary.TokensAnalyzed)
	assert.Equal(t, "SOL", report.Summary.HighestRiskToken)
	assert.Empty(t, report.SummaryError)
}

func TestRunMultiTokenKeepsSiblingsOfUnsupportedToken(t *testing.T) {
	src := newStepSource(map[string][]float64{
		"SOL": {100, 103},
		"ETH": {2000, 2000},
	})
	h := newHarness(t, src, clock.Real{}, 5*time.Millisecond, Options{Tokens: []string{"SOL", "ETH"}, Workers: 2})

	report, err := h.sim.RunMultiToken(context.Background(),
		TrialSpec{Amount: 1000, Delay: 20 * time.Millisecond, Threshold: 0.01},
		[]string{"SOL", "ETH", "doge"})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	doge := report.Results["DOGE"]
	assert.Equal(t, "DOGE", doge.Token)
	assert.Contains(t, doge.Error, "unsupported token DOGE")
	assert.Empty(t, doge.PriceHistory)

	assert.False(t, report.Results["SOL"].Failed(), report.Results["SOL"].Error)
	assert.True(t, report.Results["SOL"].RiskDetected)
	assert.False(t, report.Results["ETH"].Failed(), report.Results["ETH"].Error)

	require.NotNil(t, report.Summary)
	assert.Equal(t, 2, report.Summary.TokensAnalyzed)
	assert.Equal(t, "SOL", report.Summary.HighestRiskToken)
}

func TestRunMultiTokenRejectsInvalidOrder(t *testing.T) {
	h := newHarness(t, newStepSource(nil), clock.Real{}, 5*time.Millisecond, Options{})

	_, err := h.sim.RunMultiToken(context.Background(),
		TrialSpec{Amount: 0, Delay: 10 * time.Millisecond, Threshold: 0.01},
		[]string{"SOL", "ETH"})
	require.ErrorIs(t, err, ErrInvalidTrial)
}

func TestRunMultiTokenCancelled(t *testing.T) {
	src := newStepSource(map[string][]float64{"SOL": {100}, "ETH": {2000}})
	h := newHarness(t, src, clock.Real{}, 5*time.Millisecond, Options{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.sim.RunMultiToken(ctx,
		TrialSpec{Amount: 1, Delay: 50 * time.Millisecond, Threshold: 0.01},
		[]string{"SOL", "ETH"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunMultiTokenAllFailed(t *testing.T) {
	h := newHarness(t, newStepSource(nil), clock.Real{}, 5*time.Millisecond, Options{})

	report, err := h.sim.RunMultiToken(context.Background(),
		TrialSpec{Amount: 1, Delay: 10 * time.Millisecond, Threshold: 0.01},
		[]string{"SOL", "ETH"})
	require.NoError(t, err)
	assert.Nil(t, report.Summary)
	assert.Equal(t, ErrNoValidResults.Error(), report.SummaryError)
}

func TestRunMultiDelay(t *testing.T) {
	src := newStepSource(map[string][]float64{"SOL": {100, 100.2}})
	h := newHarness(t, src, clock.Real{}, 5*time.Millisecond, Options{})

	report, err := h.sim.RunMultiDelay(context.Background(),
		TrialSpec{Token: "SOL", Amount: 10, Threshold: 0.01},
		[]time.Duration{10 * time.Millisecond, 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Contains(t, report.Results, "0.01s")
	assert.Contains(t, report.Results, "0.02s")
	require.NotNil(t, report.Summary)
	assert.Equal(t, 2, report.Summary.DelaysTested)
}

// gatedSource holds the first n fetches until all n have arrived, then serves later for every
// subsequent fetch. With n concurrent trials the held fetches are exactly each trial's first sample.
type gatedSource struct {
	first, later float64
	gate         sync.WaitGroup

	mu    sync.Mutex
	calls int
	n     int
}

func newGatedSource(n int, first, later float64) *gatedSource {
	g := &gatedSource{first: first, later: later, n: n}
	g.gate.Add(n)
	return g
}

func (g *gatedSource) Price(ctx context.Context, _ string) (float64, error) {
	g.mu.Lock()
	g.calls++
	held := g.calls <= g.n
	g.mu.Unlock()

	if !held {
		return g.later, nil
	}
	g.gate.Done()
	done := make(chan struct{})
	go func() {
		g.gate.Wait()
		close(done)
	}()
	select {
	case <-done:
		return g.first, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestRunMultiDelayFiresAlertPerDelay(t *testing.T) {
	src := newGatedSource(2, 100, 105)
	h := newHarness(t, src, clock.Real{}, 5*time.Millisecond, Options{Workers: 2, AlertThreshold: 0.02})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := h.sim.RunMultiDelay(ctx,
		TrialSpec{Token: "SOL", Amount: 10, Threshold: 0.01},
		[]time.Duration{200 * time.Millisecond, 300 * time.Millisecond})
	require.NoError(t, err)

	for _, key := range []string{"0.2s", "0.3s"} {
		r := report.Results[key]
		require.False(t, r.Failed(), r.Error)
		assert.Equal(t, 100.0, r.InitialPrice, key)
		assert.Equal(t, 105.0, r.FinalPrice, key)
		require.Len(t, r.AlertsTriggered, 1, key)
		assert.Equal(t, alerting.DirectionUp, r.AlertsTriggered[0].Direction)
	}

	shared := h.sim.Alerts()
	assert.Len(t, shared.Recent(time.Hour), 2)
	for _, a := range shared.Alerts() {
		if a.Direction == alerting.DirectionUp {
			assert.Equal(t, alerting.StateFired, a.State)
		} else {
			assert.Equal(t, alerting.StateArmed, a.State)
		}
	}

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	assert.Len(t, h.notifier.notes, 2)
}

func TestRunEnhancedAndInsights(t *testing.T) {
	src := newStepSource(map[string][]float64{
		"SOL": {100, 100.5},
		"ETH": {2000, 1990},
	})
	h := newHarness(t, src, clock.Real{}, 5*time.Millisecond, Options{})

	report, err := h.sim.RunEnhanced(context.Background(),
		TrialSpec{Token: "SOL", Amount: 10, Delay: 10 * time.Millisecond, Threshold: 0.01},
		[]string{"SOL", "ETH"},
		[]time.Duration{10 * time.Millisecond})
	require.NoError(t, err)

	require.NotNil(t, report.MultiToken)
	assert.Nil(t, report.MultiDelay)
	assert.Len(t, report.MarketPatterns, 2)
	assert.NotNil(t, report.Alerts)

	insights := h.sim.MarketInsights([]string{"sol", "eth"})
	require.Contains(t, insights, "SOL")
	assert.Greater(t, insights["SOL"].Patterns.Trend.DataPoints, 0)
	require.Contains(t, insights, "ETH")
	assert.Equal(t, 1990.0, insights["ETH"].Patterns.Trend.FinalPrice)
}
