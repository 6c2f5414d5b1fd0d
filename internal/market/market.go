// Package market holds the price observations shared by every scoring component.
package market

import (
	"time"
)

// PricePoint is a single immutable price observation.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    *float64  `json:"volume,omitempty"`
}

// Series is the time-ordered output of one sampling run for one symbol.
type Series struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

// NewSeries starts an empty series for symbol.
func NewSeries(symbol string) *Series {
	return &Series{Symbol: symbol, Points: make([]PricePoint, 0, 8)}
}

// Append adds an observation stamped at ts.
func (s *Series) Append(ts time.Time, price float64) PricePoint {
	p := PricePoint{Timestamp: ts, Symbol: s.Symbol, Price: price}
	s.Points = append(s.Points, p)
	return p
}

// Len reports the number of observations.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}

// First returns the earliest observation.
func (s *Series) First() (PricePoint, bool) {
	if s.Len() == 0 {
		return PricePoint{}, false
	}
	return s.Points[0], true
}

// Last returns the latest observation.
func (s *Series) Last() (PricePoint, bool) {
	if s.Len() == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Prices returns the raw price column.
func (s *Series) Prices() []float64 {
	out := make([]float64, 0, s.Len())
	if s == nil {
		return out
	}
	for _, p := range s.Points {
		out = append(out, p.Price)
	}
	return out
}

// Returns computes successive relative changes of prices. Non-positive predecessors are skipped.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (prices[i]-prev)/prev)
	}
	return out
}

// RelativeChange returns (to - from) / from, or 0 when from is not positive.
func RelativeChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from
}

// RiskLevel grades a score or pattern set.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)
