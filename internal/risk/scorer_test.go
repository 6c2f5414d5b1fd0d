package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otc-risk-shield/internal/history"
	"otc-risk-shield/internal/market"
)

func TestScoreHighRisk(t *testing.T) {
	s := NewScorer(nil, zerolog.Nop())

	got, err := s.Score(ScoreInput{
		Threshold:     0.01,
		PriceChange:   -0.02,
		Volatility:    0.05,
		TradeNotional: 5_000,
		Patterns:      []history.Pattern{history.PatternHighVolatility, history.PatternStrongUpwardTrend},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, got.Components.PriceRisk)
	assert.InDelta(t, 0.5, got.Components.VolatilityRisk, 1e-12)
	assert.InDelta(t, 0.5, got.Components.SizeRisk, 1e-12)
	assert.Equal(t, 1.0, got.Components.PatternRisk)
	assert.InDelta(t, 0.775, got.CompositeScore, 1e-12)
	assert.Equal(t, market.RiskHigh, got.RiskLevel)
	assert.Equal(t, []string{AdviceDelay, AdviceReduce, AdviceMonitor, AdviceTiming}, got.Recommendations)
}

func TestScoreFavorable(t *testing.T) {
	s := NewScorer(nil, zerolog.Nop())

	got, err := s.Score(ScoreInput{
		Threshold:     0.01,
		TradeNotional: 100,
		Patterns:      []history.Pattern{history.PatternStableMarket},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.2, got.Components.PatternRisk, 1e-12)
	assert.InDelta(t, 0.0315, got.CompositeScore, 1e-12)
	assert.Equal(t, market.RiskLow, got.RiskLevel)
	assert.Equal(t, []string{AdviceFavorable}, got.Recommendations)
}

func TestScoreMediumBand(t *testing.T) {
	s := NewScorer(nil, zerolog.Nop())

	got, err := s.Score(ScoreInput{Threshold: 0.01, PriceChange: 0.01})
	require.NoError(t, err)

	assert.Equal(t, 0.4, got.CompositeScore)
	assert.Equal(t, market.RiskMedium, got.RiskLevel)
	assert.Empty(t, got.Recommendations)
}

func TestScoreUnknownPattern(t *testing.T) {
	s := NewScorer(nil, zerolog.Nop())

	got, err := s.Score(ScoreInput{Threshold: 0.01, Patterns: []history.Pattern{"liquidity_gap"}})
	require.NoError(t, err)
	assert.InDelta(t, UnknownPatternWeight, got.Components.PatternRisk, 1e-12)
}

func TestScoreRejectsThreshold(t *testing.T) {
	_, err := NewScorer(nil, zerolog.Nop()).Score(ScoreInput{})
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}
