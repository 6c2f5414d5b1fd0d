package risk

import (
	"math"
	"strings"

	"github.com/rs/zerolog"

	"otc-risk-shield/internal/history"
	"otc-risk-shield/internal/market"
)

// Recommendation texts.
const (
	AdviceDelay     = "Consider delaying trade execution"
	AdviceReduce    = "Reduce trade size to minimize exposure"
	AdviceMonitor   = "Monitor market closely for sudden changes"
	AdviceTiming    = "Consider timing trade with trend direction"
	AdviceFavorable = "Market conditions appear favorable"
)

// UnknownPatternWeight applies to tags missing from the pattern table.
const UnknownPatternWeight = 0.3

// DefaultPatternWeights is the pattern multiplier table.
func DefaultPatternWeights() map[history.Pattern]float64 {
	return map[history.Pattern]float64{
		history.PatternHighVolatility:      0.8,
		history.PatternStrongUpwardTrend:   0.6,
		history.PatternStrongDownwardTrend: 0.7,
		history.PatternStableMarket:        0.2,
	}
}

// ScoreInput collects the signals of one advanced evaluation.
type ScoreInput struct {
	Threshold     float64
	PriceChange   float64
	Volatility    float64
	TradeNotional float64
	Patterns      []history.Pattern
}

// Components are the normalized [0,1] inputs of the composite.
type Components struct {
	PriceRisk      float64 `json:"price_risk"`
	VolatilityRisk float64 `json:"volatility_risk"`
	SizeRisk       float64 `json:"size_risk"`
	PatternRisk    float64 `json:"pattern_risk"`
}

// Score is the advanced scorer output.
type Score struct {
	CompositeScore  float64          `json:"composite_score"`
	RiskLevel       market.RiskLevel `json:"risk_level"`
	Components      Components       `json:"components"`
	Recommendations []string         `json:"recommendations"`
}

// Scorer combines price, volatility, size and pattern signals.
type Scorer struct {
	patterns map[history.Pattern]float64
	logger   zerolog.Logger
}

// NewScorer returns a scorer. A nil table uses DefaultPatternWeights.
func NewScorer(patterns map[history.Pattern]float64, logger zerolog.Logger) *Scorer {
	if patterns == nil {
		patterns = DefaultPatternWeights()
	}
	return &Scorer{
		patterns: patterns,
		logger:   logger.With().Str("component", "risk_scorer").Logger(),
	}
}

// Score computes the weighted composite and advice.
func (s *Scorer) Score(in ScoreInput) (Score, error) {
	if in.Threshold <= 0 || in.Threshold > 1 {
		return Score{}, ErrInvalidThreshold
	}

	c := Components{
		PriceRisk:      math.Min(math.Abs(in.PriceChange)/in.Threshold, 1),
		VolatilityRisk: math.Min(math.Max(in.Volatility, 0)/0.10, 1),
		SizeRisk:       math.Min(math.Max(in.TradeNotional, 0)/10_000, 1),
		PatternRisk:    s.patternRisk(in.Patterns),
	}

	composite := 0.40*c.PriceRisk + 0.30*c.VolatilityRisk + 0.15*c.SizeRisk + 0.15*c.PatternRisk

	out := Score{
		CompositeScore:  composite,
		RiskLevel:       level(composite),
		Components:      c,
		Recommendations: recommendations(composite, in.Patterns),
	}

	s.logger.Debug().
		Float64("composite", composite).
		Str("risk_level", string(out.RiskLevel)).
		Int("patterns", len(in.Patterns)).
		Msg("advanced risk scored")

	return out, nil
}

func (s *Scorer) patternRisk(patterns []history.Pattern) float64 {
	var total float64
	for _, p := range patterns {
		w, ok := s.patterns[p]
		if !ok {
			w = UnknownPatternWeight
		}
		total += w
	}
	return math.Min(total, 1)
}

func level(score float64) market.RiskLevel {
	switch {
	case score >= 0.7:
		return market.RiskHigh
	case score >= 0.4:
		return market.RiskMedium
	default:
		return market.RiskLow
	}
}

func recommendations(score float64, patterns []history.Pattern) []string {
	out := make([]string, 0, 4)
	if score >= 0.7 {
		out = append(out, AdviceDelay, AdviceReduce)
	}

	var volatile, trending bool
	for _, p := range patterns {
		if p == history.PatternHighVolatility {
			volatile = true
		}
		if strings.HasPrefix(string(p), "strong_") {
			trending = true
		}
	}
	if volatile {
		out = append(out, AdviceMonitor)
	}
	if trending {
		out = append(out, AdviceTiming)
	}
	if score < 0.3 {
		out = append(out, AdviceFavorable)
	}
	return out
}
