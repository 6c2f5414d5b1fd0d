package mev

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNoData is returned when a distribution is requested over no samples.
var ErrNoData = errors.New("no mev data")

// Stats summarizes a set of profits. Median is the upper median.
type Stats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
}

// DistributionReport describes profits across many trials.
type DistributionReport struct {
	TotalOpportunities      int     `json:"total_opportunities"`
	ProfitableOpportunities int     `json:"profitable_opportunities"`
	ProfitabilityRate       float64 `json:"profitability_rate"`
	TotalMEV                float64 `json:"total_mev"`
	TotalProfitableMEV      float64 `json:"total_profitable_mev"`
	Statistics              Stats   `json:"statistics"`
	ProfitableStatistics    *Stats  `json:"profitable_statistics,omitempty"`
}

// Distribution analyses a batch of net profits.
func Distribution(profits []float64) (DistributionReport, error) {
	if len(profits) == 0 {
		return DistributionReport{}, ErrNoData
	}

	profitable := make([]float64, 0, len(profits))
	for _, p := range profits {
		if p > 0 {
			profitable = append(profitable, p)
		}
	}

	all := Summarize(profits)
	report := DistributionReport{
		TotalOpportunities:      len(profits),
		ProfitableOpportunities: len(profitable),
		ProfitabilityRate:       float64(len(profitable)) / float64(len(profits)) * 100,
		TotalMEV:                sum(profits),
		TotalProfitableMEV:      sum(profitable),
		Statistics:              all,
	}
	if len(profitable) > 0 {
		s := Summarize(profitable)
		report.ProfitableStatistics = &s
	}
	return report, nil
}

// Summarize computes min, max, mean and upper median. Empty input yields zero Stats.
func Summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Stats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Average: sum(sorted) / float64(len(sorted)),
		Median:  sorted[len(sorted)/2],
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// Strategy names the front-runner's play.
type Strategy string

const (
	StrategyBuyEarly  Strategy = "buy_early_sell_high"
	StrategySellEarly Strategy = "sell_early_buy_low"
)

// AdvantageReport is the gross edge a front-runner gains from the delay.
type AdvantageReport struct {
	Strategy       Strategy `json:"strategy"`
	PriceChange    float64  `json:"price_change"`
	GrossAdvantage float64  `json:"gross_advantage"`
	AdvantagePct   float64  `json:"advantage_pct"`
	Description    string   `json:"description"`
}

// Advantage estimates the front-runner's gross edge before costs.
func Advantage(initial, final, amount float64) (AdvantageReport, error) {
	if initial <= 0 {
		return AdvantageReport{}, fmt.Errorf("%w: initial price %v", ErrInvalidPrice, initial)
	}

	change := final - initial
	r := AdvantageReport{
		PriceChange:    change,
		GrossAdvantage: amount * math.Abs(change),
	}
	if change > 0 {
		r.Strategy = StrategyBuyEarly
		r.Description = fmt.Sprintf("Front-runner could buy before %.4f price increase", change)
	} else {
		r.Strategy = StrategySellEarly
		r.Description = fmt.Sprintf("Front-runner could sell before %.4f price decrease", math.Abs(change))
	}
	if notional := amount * initial; notional > 0 {
		r.AdvantagePct = r.GrossAdvantage / notional * 100
	}
	return r, nil
}
