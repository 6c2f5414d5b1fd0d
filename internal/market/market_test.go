package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesFirstLast(t *testing.T) {
	s := NewSeries("SOL")
	_, ok := s.First()
	require.False(t, ok)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Append(start, 100)
	s.Append(start.Add(time.Second), 101)

	first, ok := s.First()
	require.True(t, ok)
	last, _ := s.Last()
	assert.Equal(t, 100.0, first.Price)
	assert.Equal(t, 101.0, last.Price)
	assert.Equal(t, "SOL", last.Symbol)
	assert.Equal(t, []float64{100, 101}, s.Prices())
}

func TestReturns(t *testing.T) {
	assert.Nil(t, Returns([]float64{1}))
	got := Returns([]float64{100, 110, 99})
	require.Len(t, got, 2)
	assert.InDelta(t, 0.10, got[0], 1e-12)
	assert.InDelta(t, -0.10, got[1], 1e-12)
}

func TestRelativeChange(t *testing.T) {
	assert.InDelta(t, 0.03, RelativeChange(100, 103), 1e-12)
	assert.Equal(t, 0.0, RelativeChange(0, 10))
}
