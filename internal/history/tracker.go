// Package history keeps a rolling per-symbol price window and derives volatility, trend and
// market patterns from it.
package history

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"otc-risk-shield/internal/clock"
	"otc-risk-shield/internal/market"
)

// Trend classifies the direction of a window.
type Trend string

const (
	TrendUpward           Trend = "upward"
	TrendDownward         Trend = "downward"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

// Pattern tags a market condition. Tags are not mutually exclusive.
type Pattern string

const (
	PatternHighVolatility      Pattern = "high_volatility"
	PatternStrongUpwardTrend   Pattern = "strong_upward_trend"
	PatternStrongDownwardTrend Pattern = "strong_downward_trend"
	PatternStableMarket        Pattern = "stable_market"
)

// Options tune the tracker thresholds.
type Options struct {
	// Retention bounds every window; points older than now-Retention are pruned on insert.
	Retention time.Duration
	// TrendWindow is used by DetectPatterns.
	TrendWindow time.Duration

	TrendDeadband    float64
	HighVolatility   float64
	MediumVolatility float64
	StrongTrend      float64
	StableVolatility float64
	StableChange     float64
	Clock            clock.Clock
}

// DefaultOptions mirrors the production thresholds.
func DefaultOptions() Options {
	return Options{
		Retention:        24 * time.Hour,
		TrendWindow:      time.Hour,
		TrendDeadband:    0.001,
		HighVolatility:   0.05,
		MediumVolatility: 0.02,
		StrongTrend:      0.02,
		StableVolatility: 0.005,
		StableChange:     0.005,
	}
}

// TrendReport describes first/last movement in a window.
type TrendReport struct {
	Trend        Trend   `json:"trend"`
	Change       float64 `json:"change"`
	InitialPrice float64 `json:"initial_price,omitempty"`
	FinalPrice   float64 `json:"final_price,omitempty"`
	DataPoints   int     `json:"data_points"`
}

// PatternReport is derived from a snapshot of one symbol's window.
type PatternReport struct {
	Patterns   []Pattern        `json:"patterns"`
	Volatility float64          `json:"volatility"`
	Trend      TrendReport      `json:"trend_analysis"`
	RiskLevel  market.RiskLevel `json:"risk_level"`
}

type window struct {
	mu     sync.Mutex
	points []market.PricePoint
}

// Tracker owns every per-symbol window. Record and prune are serialized per symbol; different
// symbols never contend beyond the map lookup.
type Tracker struct {
	opts   Options
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.RWMutex
	windows map[string]*window
}

// NewTracker constructs a tracker.
func NewTracker(opts Options, logger zerolog.Logger) *Tracker {
	defaults := DefaultOptions()
	if opts.Retention <= 0 {
		opts.Retention = defaults.Retention
	}
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = defaults.TrendWindow
	}
	if opts.TrendDeadband <= 0 {
		opts.TrendDeadband = defaults.TrendDeadband
	}
	if opts.HighVolatility <= 0 {
		opts.HighVolatility = defaults.HighVolatility
	}
	if opts.MediumVolatility <= 0 {
		opts.MediumVolatility = defaults.MediumVolatility
	}
	if opts.StrongTrend <= 0 {
		opts.StrongTrend = defaults.StrongTrend
	}
	if opts.StableVolatility <= 0 {
		opts.StableVolatility = defaults.StableVolatility
	}
	if opts.StableChange <= 0 {
		opts.StableChange = defaults.StableChange
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	return &Tracker{
		opts:    opts,
		clock:   clk,
		logger:  logger.With().Str("component", "historical_tracker").Logger(),
		windows: make(map[string]*window),
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (t *Tracker) window(symbol string, create bool) *window {
	key := normalize(symbol)

	t.mu.RLock()
	w, ok := t.windows[key]
	t.mu.RUnlock()
	if ok || !create {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok = t.windows[key]; ok {
		return w
	}
	w = &window{}
	t.windows[key] = w
	return w
}

// Record appends a price stamped with the current time and prunes the window.
func (t *Tracker) Record(symbol string, price float64) market.PricePoint {
	return t.RecordPoint(market.PricePoint{Timestamp: t.clock.Now(), Symbol: symbol, Price: price})
}

// RecordWithVolume is Record with an attached traded volume.
func (t *Tracker) RecordWithVolume(symbol string, price, volume float64) market.PricePoint {
	return t.RecordPoint(market.PricePoint{Timestamp: t.clock.Now(), Symbol: symbol, Price: price, Volume: &volume})
}

// RecordPoint appends an already stamped observation, such as one taken by the sampler.
func (t *Tracker) RecordPoint(p market.PricePoint) market.PricePoint {
	now := t.clock.Now()
	p.Symbol = normalize(p.Symbol)

	w := t.window(p.Symbol, true)
	w.mu.Lock()
	w.points = append(w.points, p)
	cutoff := now.Add(-t.opts.Retention)
	kept := w.points[:0]
	for _, existing := range w.points {
		if !existing.Timestamp.Before(cutoff) {
			kept = append(kept, existing)
		}
	}
	w.points = kept
	size := len(w.points)
	w.mu.Unlock()

	t.logger.Debug().Str("symbol", p.Symbol).Float64("price", p.Price).Int("window_size", size).Msg("price recorded")
	return p
}

// Snapshot returns a time-ordered copy of the retained window.
func (t *Tracker) Snapshot(symbol string) []market.PricePoint {
	return t.Since(symbol, 0)
}

// Since is Snapshot restricted to the last span. A non-positive span returns the full window.
func (t *Tracker) Since(symbol string, span time.Duration) []market.PricePoint {
	w := t.window(symbol, false)
	if w == nil {
		return nil
	}

	cutoff := t.clock.Now().Add(-t.opts.Retention)
	if span > 0 && span < t.opts.Retention {
		cutoff = t.clock.Now().Add(-span)
	}

	w.mu.Lock()
	out := make([]market.PricePoint, 0, len(w.points))
	for _, p := range w.points {
		if !p.Timestamp.Before(cutoff) {
			out = append(out, p)
		}
	}
	w.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Symbols lists every symbol with a window.
func (t *Tracker) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.windows))
	for k := range t.windows {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Volatility is the sample standard deviation of successive returns within span (the retention
// window when span is zero). Fewer than two returns yields 0.
func (t *Tracker) Volatility(symbol string, span time.Duration) float64 {
	points := t.Since(symbol, span)
	if len(points) < 2 {
		return 0
	}
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}
	return SampleStdDev(market.Returns(prices))
}

// Trend compares the first and last price within span against the deadband.
func (t *Tracker) Trend(symbol string, span time.Duration) TrendReport {
	points := t.Since(symbol, span)
	if len(points) < 2 {
		return TrendReport{Trend: TrendInsufficientData, DataPoints: len(points)}
	}

	initial := points[0].Price
	final := points[len(points)-1].Price
	change := market.RelativeChange(initial, final)

	trend := TrendStable
	switch {
	case change > t.opts.TrendDeadband:
		trend = TrendUpward
	case change < -t.opts.TrendDeadband:
		trend = TrendDownward
	}

	return TrendReport{
		Trend:        trend,
		Change:       change,
		InitialPrice: initial,
		FinalPrice:   final,
		DataPoints:   len(points),
	}
}

// DetectPatterns tags the symbol's current window and grades it.
func (t *Tracker) DetectPatterns(symbol string) PatternReport {
	volatility := t.Volatility(symbol, 0)
	trend := t.Trend(symbol, t.opts.TrendWindow)

	patterns := make([]Pattern, 0, 3)
	if volatility > t.opts.HighVolatility {
		patterns = append(patterns, PatternHighVolatility)
	}
	if math.Abs(trend.Change) > t.opts.StrongTrend {
		patterns = append(patterns, Pattern("strong_"+string(trend.Trend)+"_trend"))
	}
	if volatility < t.opts.StableVolatility && math.Abs(trend.Change) < t.opts.StableChange {
		patterns = append(patterns, PatternStableMarket)
	}

	return PatternReport{
		Patterns:   patterns,
		Volatility: volatility,
		Trend:      trend,
		RiskLevel:  t.riskLevel(patterns, volatility),
	}
}

func (t *Tracker) riskLevel(patterns []Pattern, volatility float64) market.RiskLevel {
	for _, p := range patterns {
		if p == PatternHighVolatility || strings.HasPrefix(string(p), "strong_") {
			return market.RiskHigh
		}
	}
	if volatility > t.opts.MediumVolatility {
		return market.RiskMedium
	}
	return market.RiskLow
}

// SampleStdDev is the n-1 standard deviation; fewer than two values yields 0.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}
