// Package risk scores the front-running exposure of a delayed OTC order.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"otc-risk-shield/internal/tier"
)

var (
	// ErrInvalidPrice is returned when the reference price is not positive.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidThreshold is returned when the threshold falls outside (0, 1].
	ErrInvalidThreshold = errors.New("invalid threshold")
)

// Component weights of the composite score.
const (
	weightPrice       = 0.40
	weightImpact      = 0.20
	weightDirectional = 0.25
	weightVolume      = 0.15
)

// DecisionBoundary is the composite score a trade must strictly exceed to be flagged.
const DecisionBoundary = 0.5

// DefaultImpactTiers grades trade notional (USD) into an impact factor.
func DefaultImpactTiers() tier.Table {
	return tier.Table{
		{UpTo: 1_000, Value: 0.1},
		{UpTo: 10_000, Value: 0.3},
		{UpTo: 100_000, Value: 0.6},
		{UpTo: tier.Open, Value: 1.0},
	}
}

// DefaultVolumeTiers grades trade notional (USD) into a volume risk.
func DefaultVolumeTiers() tier.Table {
	return tier.Table{
		{UpTo: 10_000, Value: 0.2},
		{UpTo: 50_000, Value: 0.4},
		{UpTo: 200_000, Value: 0.7},
		{UpTo: tier.Open, Value: 1.0},
	}
}

// Assessment is the outcome of one detector evaluation. Percentages are 0-100.
type Assessment struct {
	Timestamp         time.Time `json:"timestamp"`
	InitialPrice      float64   `json:"initial_price"`
	FinalPrice        float64   `json:"final_price"`
	PriceChange       float64   `json:"price_change"`
	PriceChangePct    float64   `json:"price_change_pct"`
	ThresholdPct      float64   `json:"threshold_pct"`
	ThresholdExceeded bool      `json:"threshold_exceeded"`
	TradeAmount       float64   `json:"trade_amount"`
	TradeValue        float64   `json:"trade_value"`
	ImpactFactor      float64   `json:"impact_factor"`
	DirectionalRisk   float64   `json:"directional_risk"`
	VolumeRisk        float64   `json:"volume_risk"`
	RiskScore         float64   `json:"risk_score"`
	Detected          bool      `json:"risk_detected"`
}

// Detector evaluates before/after price pairs. It is safe for concurrent use.
type Detector struct {
	impact tier.Table
	volume tier.Table
	logger zerolog.Logger

	mu   sync.Mutex
	last *Assessment
}

// NewDetector builds a detector. Nil tables fall back to the defaults.
func NewDetector(impact, volume tier.Table, logger zerolog.Logger) *Detector {
	if len(impact) == 0 {
		impact = DefaultImpactTiers()
	}
	if len(volume) == 0 {
		volume = DefaultVolumeTiers()
	}
	return &Detector{
		impact: impact,
		volume: volume,
		logger: logger.With().Str("component", "risk_detector").Logger(),
	}
}

// Assess scores the move from initial to final for a sell of amount tokens.
func (d *Detector) Assess(initial, final, amount, threshold float64) (Assessment, error) {
	if initial <= 0 {
		return Assessment{}, fmt.Errorf("%w: initial price %v", ErrInvalidPrice, initial)
	}
	if threshold <= 0 || threshold > 1 {
		return Assessment{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}

	change := (final - initial) / initial
	notional := amount * initial

	impact := d.impact.Lookup(notional)
	directional := directionalRisk(change, threshold)
	volume := d.volume.Lookup(notional)
	priceComponent := math.Min(1, math.Abs(change)/threshold)

	score := weightPrice*priceComponent +
		weightImpact*impact +
		weightDirectional*directional +
		weightVolume*volume
	score = math.Max(0, math.Min(1, score))

	a := Assessment{
		Timestamp:         time.Now().UTC(),
		InitialPrice:      initial,
		FinalPrice:        final,
		PriceChange:       change,
		PriceChangePct:    math.Abs(change) * 100,
		ThresholdPct:      threshold * 100,
		ThresholdExceeded: math.Abs(change) > threshold,
		TradeAmount:       amount,
		TradeValue:        notional,
		ImpactFactor:      impact,
		DirectionalRisk:   directional,
		VolumeRisk:        volume,
		RiskScore:         score,
		Detected:          score > DecisionBoundary,
	}

	d.mu.Lock()
	d.last = &a
	d.mu.Unlock()

	if a.Detected {
		d.logger.Warn().
			Float64("price_change_pct", a.PriceChangePct).
			Float64("threshold_pct", a.ThresholdPct).
			Float64("risk_score", score).
			Msg("front-running risk detected")
	} else {
		d.logger.Debug().
			Float64("price_change_pct", a.PriceChangePct).
			Float64("risk_score", score).
			Msg("no front-running risk")
	}

	return a, nil
}

// Last returns the most recent assessment, if any.
func (d *Detector) Last() (Assessment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Assessment{}, false
	}
	return *d.last, true
}

// directionalRisk assumes the OTC party is selling: drops hurt in full, rises at half weight.
// The rise branch is not clamped above.
func directionalRisk(change, threshold float64) float64 {
	if change < 0 {
		return math.Min(1, math.Abs(change)/threshold)
	}
	return math.Max(0, change/(2*threshold))
}
