package risk

import (
	"errors"
	"math"
	"time"

	"otc-risk-shield/internal/market"
)

// ErrInsufficientData is returned when a series has fewer than two points.
var ErrInsufficientData = errors.New("insufficient price data")

// sidewaysBand bounds the first-to-last change reported as sideways.
const sidewaysBand = 0.005

// PriceRange summarizes a series' extremes.
type PriceRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Initial float64 `json:"initial"`
	Final   float64 `json:"final"`
}

// RiskPeriod is a single step whose move exceeded the threshold.
type RiskPeriod struct {
	Start          time.Time `json:"start_time"`
	End            time.Time `json:"end_time"`
	PriceChangePct float64   `json:"price_change_pct"`
	Direction      string    `json:"direction"`
}

// HistoryAnalysis describes the shape of a sampled series.
type HistoryAnalysis struct {
	DataPoints     int          `json:"total_data_points"`
	Range          PriceRange   `json:"price_range"`
	Volatility     float64      `json:"volatility"`
	MaxMovementPct float64      `json:"max_movement_pct"`
	Trend          string       `json:"trend"`
	RiskPeriods    []RiskPeriod `json:"risk_periods"`
}

// AnalyzeHistory summarizes a sampled series against threshold. Volatility here is the
// population standard deviation of step returns.
func AnalyzeHistory(points []market.PricePoint, threshold float64) (HistoryAnalysis, error) {
	if len(points) < 2 {
		return HistoryAnalysis{}, ErrInsufficientData
	}
	if points[0].Price <= 0 {
		return HistoryAnalysis{}, ErrInvalidPrice
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}

	lo, hi := prices[0], prices[0]
	for _, p := range prices[1:] {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}

	initial, final := prices[0], prices[len(prices)-1]
	change := (final - initial) / initial
	trend := "sideways"
	switch {
	case change > sidewaysBand:
		trend = "upward"
	case change < -sidewaysBand:
		trend = "downward"
	}

	periods := make([]RiskPeriod, 0)
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1].Price, points[i].Price
		if prev <= 0 {
			continue
		}
		step := math.Abs((cur - prev) / prev)
		if step <= threshold {
			continue
		}
		direction := "down"
		if cur > prev {
			direction = "up"
		}
		periods = append(periods, RiskPeriod{
			Start:          points[i-1].Timestamp,
			End:            points[i].Timestamp,
			PriceChangePct: step * 100,
			Direction:      direction,
		})
	}

	return HistoryAnalysis{
		DataPoints:     len(points),
		Range:          PriceRange{Min: lo, Max: hi, Initial: initial, Final: final},
		Volatility:     populationStdDev(market.Returns(prices)),
		MaxMovementPct: (hi - lo) / initial * 100,
		Trend:          trend,
		RiskPeriods:    periods,
	}, nil
}

func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)))
}
