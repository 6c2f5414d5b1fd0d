package simulator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otc-risk-shield/internal/alerting"
	"otc-risk-shield/internal/clock"
	"otc-risk-shield/internal/fetcher"
	"otc-risk-shield/internal/history"
	"otc-risk-shield/internal/metrics"
	"otc-risk-shield/internal/mev"
	"otc-risk-shield/internal/risk"
	"otc-risk-shield/internal/sampler"
)

// stepSource serves each symbol's sequence in order and then repeats its last price.
type stepSource struct {
	mu     sync.Mutex
	prices map[string][]float64
	seen   map[string]int
}

func newStepSource(prices map[string][]float64) *stepSource {
	return &stepSource{prices: prices, seen: make(map[string]int)}
}

func (s *stepSource) Price(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	seq := s.prices[symbol]
	if len(seq) == 0 {
		return 0, fetcher.ErrPriceUnavailable
	}
	i := s.seen[symbol]
	s.seen[symbol]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

type harness struct {
	sim      *Simulator
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, src fetcher.PriceSource, clk clock.Clock, interval time.Duration, opts Options) harness {
	t.Helper()
	nop := zerolog.Nop()
	notifier := &recordingNotifier{}
	m := metrics.New(prometheus.NewRegistry(), "")

	sim, err := New(Deps{
		Sampler:    sampler.New(src, sampler.Options{Interval: interval, Clock: clk}, nop),
		Detector:   risk.NewDetector(nil, nil, nop),
		Calculator: mev.NewCalculator(mev.DefaultParams(), fetcher.Static{"SOL": 100}, nop),
		Tracker:    history.NewTracker(history.Options{Clock: clk}, nop),
		Scorer:     risk.NewScorer(nil, nop),
		Alerts:     alerting.NewSystem(clk, nop),
		Notifier:   notifier,
		Metrics:    m,
		Clock:      clk,
	}, opts, nop)
	require.NoError(t, err)
	return harness{sim: sim, notifier: notifier, metrics: m}
}

func fakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func TestRunTrialDetectsRisk(t *testing.T) {
	src := newStepSource(map[string][]float64{"SOL": {100, 101, 102, 103}})
	h := newHarness(t, src, fakeClock(), 500*time.Millisecond, Options{AlertThreshold: 0.02, AlertChannels: []string{"telegram"}})

	result, err := h.sim.RunTrial(context.Background(), TrialSpec{Token: "sol", Amount: 1000, Delay: 1500 * time.Millisecond, Threshold: 0.01})
	require.NoError(t, err)
	require.False(t, result.Failed(), result.Error)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "SOL", result.Token)
	assert.Equal(t, 1.5, result.DelaySeconds)
	assert.Equal(t, 1.0, result.RiskThreshold)
	assert.Equal(t, 100.0, result.InitialPrice)
	assert.Equal(t, 103.0, result.FinalPrice)
	assert.InDelta(t, 3.0, result.PriceChangePct, 1e-9)
	assert.Len(t, result.PriceHistory, 4)

	assert.True(t, result.RiskDetected)
	assert.Equal(t, 1.0, result.RiskScore)
	require.NotNil(t, result.RiskAnalysis)
	require.NotNil(t, result.MEVAnalysis)
	assert.Greater(t, result.MEVProfit, 0.0)
	assert.Equal(t, result.MEVAnalysis.NetProfit, result.MEVProfit)

	require.NotNil(t, result.HistoryAnalysis)
	assert.Equal(t, "upward", result.HistoryAnalysis.Trend)
	require.NotNil(t, result.EnhancedAnalysis)
	require.NotNil(t, result.MarketPatterns)
	assert.Greater(t, result.MarketVolatility, 0.0)
	assert.InDelta(t, 1.5, result.ExecutionTime, 1e-9)

	require.Len(t, result.AlertsTriggered, 1)
	assert.Equal(t, alerting.DirectionUp, result.AlertsTriggered[0].Direction)
	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, []string{"telegram"}, h.notifier.notes[0].Channels)
}

func TestRunTrialJSONFields(t *testing.T) {
	src := newStepSource(map[string][]float64{"SOL": {100, 103}})
	h := newHarness(t, src, fakeClock(), 500*time.Millisecond, Options{})

	result, err := h.sim.RunTrial(context.Background(), TrialSpec{Token: "SOL", Amount: 1000, Delay: time.Second, Threshold: 0.01})
	require.NoError(t, err)

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	for _, key := range []string{
		"id", "timestamp", "token", "amount", "delay_seconds", "risk_threshold", "initial_price", "final_price",
		"price_change_pct", "price_history", "risk_detected", "risk_score", "mev_profit", "risk_analysis",
		"mev_analysis", "market_volatility", "execution_time", "history_analysis", "enhanced_analysis",
		"market_patterns", "alerts_triggered",
	} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "error")
}

func TestRunTrialNoRiskSkipsMEV(t *testing.T) {
	src := newStepSource(map[string][]float64{"SOL": {100, 100.1}})
	h := newHarness(t, src, fakeClock(), 500*time.Millisecond, Options{})

	result, err := h.sim.RunTrial(context.Background(), TrialSpec{Token: "SOL", Amount: 1, Delay: time.Second, Threshold: 0.01})
	require.NoError(t, err)

	assert.False(t, result.RiskDetected)
	assert.Less(t, result.RiskScore, 0.5)
	assert.Nil(t, result.MEVAnalysis)
	assert.Equal(t, 0.0, result.MEVProfit)
	assert.Empty(t, result.AlertsTriggered)
}

func TestRunTrialWithoutInitialPrice(t *testing.T) {
	h := newHarness(t, newStepSource(nil), fakeClock(), 500*time.Millisecond, Options{})

	result, err := h.sim.RunTrial(context.Background(), TrialSpec{Token: "SOL", Amount: 1, Delay: time.Second, Threshold: 0.01})
	require.NoError(t, err)

	assert.True(t, result.Failed())
	assert.Contains(t, result.Error, "price unavailable")
	assert.False(t, result.RiskDetected)
	assert.NotEmpty(t, result.ID)
}

func TestRunTrialRejectsInvalidSpec(t *testing.T) {
	h := newHarness(t, newStepSource(nil), fakeClock(), 500*time.Millisecond, Options{Tokens: []string{"SOL", "ETH"}})

	specs := []TrialSpec{
		{Token: "", Amount: 1, Delay: time.Second, Threshold: 0.01},
		{Token: "DOGE", Amount: 1, Delay: time.Second, Threshold: 0.01},
		{Token: "SOL", Amount: 0, Delay: time.Second, Threshold: 0.01},
		{Token: "SOL", Amount: 1, Delay: -time.Second, Threshold: 0.01},
		{Token: "SOL", Amount: 1, Delay: time.Second, Threshold: 0},
		{Token: "SOL", Amount: 1, Delay: time.Second, Threshold: 1.5},
	}
	for _, spec := range specs {
		_, err := h.sim.RunTrial(context.Background(), spec)
		assert.ErrorIs(t, err, ErrInvalidTrial, "%+v", spec)
	}
}

func TestRunTrialCancelled(t *testing.T) {
	h := newHarness(t, newStepSource(map[string][]float64{"SOL": {100}}), fakeClock(), 500*time.Millisecond, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.sim.RunTrial(ctx, TrialSpec{Token: "SOL", Amount: 1, Delay: time.Second, Threshold: 0.01})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.Failed())
}

func TestNewRequiresCoreDeps(t *testing.T) {
	_, err := New(Deps{}, Options{}, zerolog.Nop())
	assert.Error(t, err)
}
