// Package mev models the profit an adversary could extract by front-running a delayed order.
package mev

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"otc-risk-shield/internal/fetcher"
	"otc-risk-shield/internal/tier"
)

// ErrInvalidPrice is returned when the initial price is not positive.
var ErrInvalidPrice = errors.New("invalid price")

const secondsPerYear = 365 * 24 * 3600

// DefaultImpactTiers maps trade notional (USD) to a market impact rate.
func DefaultImpactTiers() tier.Table {
	return tier.Table{
		{UpTo: 10_000, Value: 0.001},
		{UpTo: 100_000, Value: 0.003},
		{UpTo: 500_000, Value: 0.007},
		{UpTo: tier.Open, Value: 0.015},
	}
}

// Params is the cost model.
type Params struct {
	// GasUnits is the per-transaction fee denominated in the reference asset.
	GasUnits          float64
	SlippageTolerance float64
	AnnualRate        float64
	// FallbackReferencePrice values gas when the reference source fails.
	FallbackReferencePrice float64
	ReferenceSymbol        string
	ImpactTiers            tier.Table
}

// DefaultParams returns the stock cost model: 0.005 SOL gas, 0.5% slippage and 5% annual carry.
func DefaultParams() Params {
	return Params{
		GasUnits:               0.005,
		SlippageTolerance:      0.005,
		AnnualRate:             0.05,
		FallbackReferencePrice: 100,
		ReferenceSymbol:        "SOL",
		ImpactTiers:            DefaultImpactTiers(),
	}
}

// Input describes one front-running opportunity.
type Input struct {
	Symbol       string
	TradeAmount  float64
	InitialPrice float64
	FinalPrice   float64
	DelaySeconds float64
}

// Costs itemizes the adversary's execution costs in USD.
type Costs struct {
	GasUnits       float64 `json:"gas_cost_sol"`
	ReferencePrice float64 `json:"reference_price"`
	Gas            float64 `json:"gas_cost_usd"`
	Slippage       float64 `json:"slippage_cost"`
	MarketImpact   float64 `json:"market_impact_cost"`
	Opportunity    float64 `json:"opportunity_cost"`
	Total          float64 `json:"total_costs"`
}

// Result is one cost-modelled MEV estimate.
type Result struct {
	Timestamp         time.Time `json:"timestamp"`
	Symbol            string    `json:"token"`
	TradeAmount       float64   `json:"trade_amount"`
	InitialPrice      float64   `json:"initial_price"`
	FinalPrice        float64   `json:"final_price"`
	PriceDifference   float64   `json:"price_difference"`
	PriceChangePct    float64   `json:"price_change_pct"`
	GrossProfit       float64   `json:"gross_profit"`
	Costs             Costs     `json:"costs"`
	NetProfit         float64   `json:"net_profit"`
	ProfitMarginPct   float64   `json:"profit_margin_pct"`
	ROIPct            float64   `json:"roi_pct"`
	ReferenceFallback bool      `json:"reference_fallback"`
}

// Calculator estimates net extractable value. It is safe for concurrent use.
type Calculator struct {
	params    Params
	reference fetcher.PriceSource
	logger    zerolog.Logger

	mu   sync.Mutex
	last *Result
}

// NewCalculator builds a calculator. reference may be nil, in which case gas is always valued at
// the fallback price.
func NewCalculator(params Params, reference fetcher.PriceSource, logger zerolog.Logger) *Calculator {
	defaults := DefaultParams()
	if len(params.ImpactTiers) == 0 {
		params.ImpactTiers = defaults.ImpactTiers
	}
	if params.FallbackReferencePrice <= 0 {
		params.FallbackReferencePrice = defaults.FallbackReferencePrice
	}
	if params.ReferenceSymbol == "" {
		params.ReferenceSymbol = defaults.ReferenceSymbol
	}
	return &Calculator{
		params:    params,
		reference: reference,
		logger:    logger.With().Str("component", "mev_calculator").Logger(),
	}
}

// Params exposes the configured cost model.
func (c *Calculator) Params() Params {
	return c.params
}

// Calculate prices the opportunity. A failing reference source never fails the calculation.
func (c *Calculator) Calculate(ctx context.Context, in Input) (Result, error) {
	if in.InitialPrice <= 0 {
		return Result{}, fmt.Errorf("%w: initial price %v", ErrInvalidPrice, in.InitialPrice)
	}

	reference, fallback := c.referencePrice(ctx)

	diff := in.FinalPrice - in.InitialPrice
	notional := in.TradeAmount * in.InitialPrice
	gross := in.TradeAmount * math.Abs(diff)

	costs := c.costs(in.TradeAmount, in.InitialPrice, in.FinalPrice, in.DelaySeconds, reference)
	net := math.Max(0, gross-costs.Total)

	r := Result{
		Timestamp:         time.Now().UTC(),
		Symbol:            in.Symbol,
		TradeAmount:       in.TradeAmount,
		InitialPrice:      in.InitialPrice,
		FinalPrice:        in.FinalPrice,
		PriceDifference:   diff,
		PriceChangePct:    diff / in.InitialPrice * 100,
		GrossProfit:       gross,
		Costs:             costs,
		NetProfit:         net,
		ReferenceFallback: fallback,
	}
	if gross > 0 {
		r.ProfitMarginPct = net / gross * 100
	}
	if notional > 0 {
		r.ROIPct = net / notional * 100
	}

	c.mu.Lock()
	c.last = &r
	c.mu.Unlock()

	if net > 0 {
		c.logger.Info().
			Str("symbol", in.Symbol).
			Float64("net_profit", net).
			Float64("roi_pct", r.ROIPct).
			Msg("mev opportunity")
	} else {
		c.logger.Debug().
			Str("symbol", in.Symbol).
			Float64("total_costs", costs.Total).
			Float64("gross_profit", gross).
			Msg("costs exceed gross profit")
	}

	return r, nil
}

// BreakEven returns the price move (percent) at which gross profit covers costs, with gas valued at
// the fallback reference price. A zero amount cannot cover the fixed gas cost and yields +Inf.
func (c *Calculator) BreakEven(amount, initial, delaySeconds float64) (float64, error) {
	if initial <= 0 {
		return 0, fmt.Errorf("%w: initial price %v", ErrInvalidPrice, initial)
	}
	notional := amount * initial
	if notional == 0 {
		return math.Inf(1), nil
	}
	costs := c.costs(amount, initial, initial, delaySeconds, c.params.FallbackReferencePrice)
	return costs.Total / notional * 100, nil
}

// Last returns the most recent calculation, if any.
func (c *Calculator) Last() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

func (c *Calculator) costs(amount, initial, final, delaySeconds, reference float64) Costs {
	notional := amount * initial

	gas := math.Max(c.params.GasUnits*reference, 0)
	slippage := math.Max(amount*final*c.params.SlippageTolerance, 0)
	impact := math.Max(notional*c.params.ImpactTiers.Lookup(notional), 0)
	opportunity := math.Max(notional*c.params.AnnualRate*delaySeconds/secondsPerYear, 0)

	return Costs{
		GasUnits:       c.params.GasUnits,
		ReferencePrice: reference,
		Gas:            gas,
		Slippage:       slippage,
		MarketImpact:   impact,
		Opportunity:    opportunity,
		Total:          gas + slippage + impact + opportunity,
	}
}

func (c *Calculator) referencePrice(ctx context.Context) (float64, bool) {
	if c.reference == nil {
		return c.params.FallbackReferencePrice, true
	}
	price, err := c.reference.Price(ctx, c.params.ReferenceSymbol)
	if err != nil || price <= 0 {
		c.logger.Debug().Err(err).Str("symbol", c.params.ReferenceSymbol).
			Float64("fallback", c.params.FallbackReferencePrice).
			Msg("reference price unavailable, using fallback")
		return c.params.FallbackReferencePrice, true
	}
	return price, false
}
