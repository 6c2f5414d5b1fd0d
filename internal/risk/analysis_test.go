package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otc-risk-shield/internal/market"
)

func seriesOf(prices ...float64) []market.PricePoint {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := market.NewSeries("SOL")
	for i, p := range prices {
		s.Append(start.Add(time.Duration(i)*500*time.Millisecond), p)
	}
	return s.Points
}

func TestAnalyzeHistory(t *testing.T) {
	points := seriesOf(100, 102, 101.5, 99)

	got, err := AnalyzeHistory(points, 0.01)
	require.NoError(t, err)

	assert.Equal(t, 4, got.DataPoints)
	assert.Equal(t, PriceRange{Min: 99, Max: 102, Initial: 100, Final: 99}, got.Range)
	assert.InDelta(t, 3.0, got.MaxMovementPct, 1e-9)
	assert.Equal(t, "downward", got.Trend)
	assert.Greater(t, got.Volatility, 0.0)

	require.Len(t, got.RiskPeriods, 2)
	assert.Equal(t, "up", got.RiskPeriods[0].Direction)
	assert.InDelta(t, 2.0, got.RiskPeriods[0].PriceChangePct, 1e-9)
	assert.Equal(t, points[0].Timestamp, got.RiskPeriods[0].Start)
	assert.Equal(t, "down", got.RiskPeriods[1].Direction)
	assert.Equal(t, points[3].Timestamp, got.RiskPeriods[1].End)
}

func TestAnalyzeHistorySideways(t *testing.T) {
	got, err := AnalyzeHistory(seriesOf(100, 100.2, 100.4), 0.01)
	require.NoError(t, err)

	assert.Equal(t, "sideways", got.Trend)
	assert.Empty(t, got.RiskPeriods)
}

func TestAnalyzeHistoryConstant(t *testing.T) {
	got, err := AnalyzeHistory(seriesOf(50, 50, 50), 0.01)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Volatility)
	assert.Equal(t, 0.0, got.MaxMovementPct)
}

func TestAnalyzeHistoryInsufficient(t *testing.T) {
	_, err := AnalyzeHistory(seriesOf(100), 0.01)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
