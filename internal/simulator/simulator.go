// Package simulator runs OTC front-running trials: sample the delay window, score the move, price
// the MEV opportunity and feed the history and alert components.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"otc-risk-shield/internal/alerting"
	"otc-risk-shield/internal/clock"
	"otc-risk-shield/internal/history"
	"otc-risk-shield/internal/market"
	"otc-risk-shield/internal/metrics"
	"otc-risk-shield/internal/mev"
	"otc-risk-shield/internal/risk"
	"otc-risk-shield/internal/sampler"
)

var (
	// ErrInvalidTrial wraps every rejected trial specification.
	ErrInvalidTrial = errors.New("invalid trial")
	// ErrNoValidResults is returned when a summary has no successful trial to work from.
	ErrNoValidResults = errors.New("no valid results to analyze")
)

// TrialSpec describes one simulated OTC order.
type TrialSpec struct {
	Token     string
	Amount    float64
	Delay     time.Duration
	Threshold float64
}

// TrialResult is the per-trial record. Percentages are 0-100.
type TrialResult struct {
	ID               string                 `json:"id"`
	Timestamp        time.Time              `json:"timestamp"`
	Token            string                 `json:"token"`
	Amount           float64                `json:"amount"`
	DelaySeconds     float64                `json:"delay_seconds"`
	RiskThreshold    float64                `json:"risk_threshold"`
	InitialPrice     float64                `json:"initial_price"`
	FinalPrice       float64                `json:"final_price"`
	PriceChangePct   float64                `json:"price_change_pct"`
	PriceHistory     []market.PricePoint    `json:"price_history"`
	RiskDetected     bool                   `json:"risk_detected"`
	RiskScore        float64                `json:"risk_score"`
	MEVProfit        float64                `json:"mev_profit"`
	RiskAnalysis     *risk.Assessment       `json:"risk_analysis,omitempty"`
	MEVAnalysis      *mev.Result            `json:"mev_analysis,omitempty"`
	MarketVolatility float64                `json:"market_volatility"`
	ExecutionTime    float64                `json:"execution_time"`
	HistoryAnalysis  *risk.HistoryAnalysis  `json:"history_analysis,omitempty"`
	EnhancedAnalysis *risk.Score            `json:"enhanced_analysis,omitempty"`
	MarketPatterns   *history.PatternReport `json:"market_patterns,omitempty"`
	AlertsTriggered  []alerting.Event       `json:"alerts_triggered"`
	Error            string                 `json:"error,omitempty"`
}

// Failed reports whether the trial ended without a verdict.
func (r TrialResult) Failed() bool {
	return r.Error != ""
}

// Deps are the collaborating components. Sampler, Detector and Calculator are required.
type Deps struct {
	Sampler    *sampler.Sampler
	Detector   *risk.Detector
	Calculator *mev.Calculator
	Tracker    *history.Tracker
	Scorer     *risk.Scorer
	Alerts     *alerting.System
	Notifier   alerting.Notifier
	Metrics    *metrics.Metrics
	Clock      clock.Clock
}

// Options tune orchestration.
type Options struct {
	// Tokens restricts trials to a known set. Empty accepts any symbol.
	Tokens []string
	// Workers bounds concurrent trials in multi-token and multi-delay batches.
	Workers int
	// IterationPause separates sequential iterations.
	IterationPause time.Duration
	// AlertThreshold registers a both-direction alert per token on first use. Zero disables it.
	AlertThreshold float64
	AlertChannels  []string
}

// Simulator orchestrates trials. It is safe for concurrent use.
type Simulator struct {
	deps   Deps
	opts   Options
	clock  clock.Clock
	tokens map[string]struct{}
	logger zerolog.Logger

	alertMu    sync.Mutex
	registered map[string]bool
}

// New constructs a Simulator.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Simulator, error) {
	if deps.Sampler == nil || deps.Detector == nil || deps.Calculator == nil {
		return nil, fmt.Errorf("simulator requires sampler, detector and calculator")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	tokens := make(map[string]struct{}, len(opts.Tokens))
	for _, t := range opts.Tokens {
		tokens[strings.ToUpper(t)] = struct{}{}
	}

	return &Simulator{
		deps:       deps,
		opts:       opts,
		clock:      clk,
		tokens:     tokens,
		logger:     logger.With().Str("component", "simulator").Logger(),
		registered: make(map[string]bool),
	}, nil
}

// Validate checks spec against the simulator's token set.
func (s *Simulator) Validate(spec TrialSpec) error {
	symbol := strings.ToUpper(strings.TrimSpace(spec.Token))
	switch {
	case symbol == "":
		return fmt.Errorf("%w: token is required", ErrInvalidTrial)
	case len(s.tokens) > 0 && !s.hasToken(symbol):
		return fmt.Errorf("%w: unsupported token %s", ErrInvalidTrial, symbol)
	}
	return validateOrder(spec)
}

// validateOrder checks the fields every trial of a batch shares.
func validateOrder(spec TrialSpec) error {
	switch {
	case spec.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTrial)
	case spec.Delay < 0:
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidTrial)
	case spec.Threshold <= 0 || spec.Threshold > 1:
		return fmt.Errorf("%w: threshold must be in (0, 1]", ErrInvalidTrial)
	}
	return nil
}

func (s *Simulator) hasToken(symbol string) bool {
	_, ok := s.tokens[symbol]
	return ok
}

// RunTrial simulates one delayed order. Invalid specs fail before sampling; runtime failures are
// reported in the result's Error field. A cancelled context is also returned as an error.
func (s *Simulator) RunTrial(ctx context.Context, spec TrialSpec) (TrialResult, error) {
	return s.runTrial(ctx, spec, s.deps.Alerts)
}

// runTrial checks alerts, which may be a batch trial's private view of the shared system.
func (s *Simulator) runTrial(ctx context.Context, spec TrialSpec, alerts *alerting.System) (TrialResult, error) {
	if err := s.Validate(spec); err != nil {
		return TrialResult{}, err
	}
	spec.Token = strings.ToUpper(strings.TrimSpace(spec.Token))

	start := s.clock.Now()
	result := TrialResult{
		ID:              uuid.NewString(),
		Timestamp:       start,
		Token:           spec.Token,
		Amount:          spec.Amount,
		DelaySeconds:    spec.Delay.Seconds(),
		RiskThreshold:   spec.Threshold * 100,
		AlertsTriggered: []alerting.Event{},
	}
	log := s.logger.With().Str("trial_id", result.ID).Str("token", spec.Token).Logger()
	log.Info().Float64("amount", spec.Amount).Dur("delay", spec.Delay).Msg("simulating otc trade")

	err := s.execute(ctx, spec, alerts, &result, log)
	result.ExecutionTime = s.clock.Now().Sub(start).Seconds()

	var samples int
	if err != nil {
		result.Error = err.Error()
		log.Error().Err(err).Msg("trial failed")
	} else {
		samples = len(result.PriceHistory)
		log.Info().
			Float64("price_change_pct", result.PriceChangePct).
			Bool("risk_detected", result.RiskDetected).
			Float64("mev_profit", result.MEVProfit).
			Msg("trial complete")
	}
	s.deps.Metrics.ObserveTrial(spec.Token, metrics.OutcomeOf(result.RiskDetected, result.Failed()),
		result.RiskScore, result.MEVProfit, samples, s.clock.Now().Sub(start))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	return result, nil
}

func (s *Simulator) execute(ctx context.Context, spec TrialSpec, alerts *alerting.System, result *TrialResult, log zerolog.Logger) error {
	s.ensureAlert(spec.Token)

	window, err := s.deps.Sampler.Sample(ctx, spec.Token, spec.Delay)
	if err != nil {
		return err
	}

	initial, final := window.First.Price, window.Last.Price
	result.InitialPrice = initial
	result.FinalPrice = final
	result.PriceChangePct = market.RelativeChange(initial, final) * 100
	result.PriceHistory = window.Series.Points

	if s.deps.Tracker != nil {
		for _, p := range window.Series.Points {
			s.deps.Tracker.RecordPoint(p)
		}
	}

	if alerts != nil {
		events := alerts.Check(spec.Token, final, initial)
		result.AlertsTriggered = append(result.AlertsTriggered, events...)
		s.dispatch(ctx, events, log)
	}

	assessment, err := s.deps.Detector.Assess(initial, final, spec.Amount, spec.Threshold)
	if err != nil {
		return fmt.Errorf("assess risk: %w", err)
	}
	result.RiskAnalysis = &assessment
	result.RiskDetected = assessment.Detected
	result.RiskScore = assessment.RiskScore

	if assessment.Detected {
		calc, err := s.deps.Calculator.Calculate(ctx, mev.Input{
			Symbol:       spec.Token,
			TradeAmount:  spec.Amount,
			InitialPrice: initial,
			FinalPrice:   final,
			DelaySeconds: spec.Delay.Seconds(),
		})
		if err != nil {
			return fmt.Errorf("calculate mev: %w", err)
		}
		result.MEVAnalysis = &calc
		result.MEVProfit = calc.NetProfit
	}

	if analysis, err := risk.AnalyzeHistory(window.Series.Points, spec.Threshold); err == nil {
		result.HistoryAnalysis = &analysis
	}

	if s.deps.Tracker != nil {
		result.MarketVolatility = s.deps.Tracker.Volatility(spec.Token, 0)
		patterns := s.deps.Tracker.DetectPatterns(spec.Token)
		result.MarketPatterns = &patterns

		if s.deps.Scorer != nil {
			score, err := s.deps.Scorer.Score(risk.ScoreInput{
				Threshold:     spec.Threshold,
				PriceChange:   assessment.PriceChange,
				Volatility:    result.MarketVolatility,
				TradeNotional: spec.Amount * initial,
				Patterns:      patterns.Patterns,
			})
			if err != nil {
				return fmt.Errorf("score risk: %w", err)
			}
			result.EnhancedAnalysis = &score
		}
	}

	return nil
}

func (s *Simulator) ensureAlert(token string) {
	if s.deps.Alerts == nil || s.opts.AlertThreshold <= 0 {
		return
	}
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	if s.registered[token] {
		return
	}
	if _, err := s.deps.Alerts.Add(token, s.opts.AlertThreshold, alerting.DirectionBoth); err != nil {
		s.logger.Warn().Err(err).Str("token", token).Msg("register alert")
		return
	}
	s.registered[token] = true
}

func (s *Simulator) dispatch(ctx context.Context, events []alerting.Event, log zerolog.Logger) {
	for _, ev := range events {
		s.deps.Metrics.ObserveAlert(ev.Symbol, string(ev.Direction), string(ev.Severity))
		if s.deps.Notifier == nil {
			continue
		}
		if err := s.deps.Notifier.Notify(ctx, alerting.NewNotification(ev, s.opts.AlertChannels)); err != nil {
			log.Error().Err(err).Str("direction", string(ev.Direction)).Msg("failed to dispatch alert")
		}
	}
}

// Alerts exposes the alert system, which may be nil.
func (s *Simulator) Alerts() *alerting.System {
	return s.deps.Alerts
}
