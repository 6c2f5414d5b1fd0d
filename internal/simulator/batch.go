package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"otc-risk-shield/internal/alerting"
	"otc-risk-shield/internal/history"
)

// PriceChangeStats summarizes signed price changes (percent).
type PriceChangeStats struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Average    float64 `json:"average"`
	Volatility float64 `json:"volatility"`
}

// IterationSummary aggregates repeated trials of one spec.
type IterationSummary struct {
	TotalSimulations        int              `json:"total_simulations"`
	SuccessfulSimulations   int              `json:"successful_simulations"`
	RisksDetected           int              `json:"risks_detected"`
	RiskPercentage          float64          `json:"risk_percentage"`
	TotalMEVProfit          float64          `json:"total_mev_profit"`
	AverageMEVPerSimulation float64          `json:"average_mev_per_simulation"`
	AverageMEVPerRisk       float64          `json:"average_mev_per_risk"`
	PriceChangeStats        PriceChangeStats `json:"price_change_stats"`
	Timestamp               time.Time        `json:"timestamp"`
}

// RunIterations runs spec n times sequentially, pausing between runs. Only invalid specs and
// cancellation return an error; failed trials are kept in the slice.
func (s *Simulator) RunIterations(ctx context.Context, spec TrialSpec, n int) ([]TrialResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: iterations must be positive", ErrInvalidTrial)
	}
	if err := s.Validate(spec); err != nil {
		return nil, err
	}

	s.logger.Info().Int("iterations", n).Str("token", spec.Token).Msg("starting batch simulation")

	results := make([]TrialResult, 0, n)
	for i := 0; i < n; i++ {
		s.logger.Debug().Int("iteration", i+1).Int("of", n).Msg("running iteration")
		result, err := s.RunTrial(ctx, spec)
		if err != nil {
			return results, err
		}
		results = append(results, result)

		if i < n-1 && s.opts.IterationPause > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-s.clock.After(s.opts.IterationPause):
			}
		}
	}

	s.logger.Info().Int("results", len(results)).Msg("batch simulation complete")
	return results, nil
}

// AnalyzeIterations summarizes a batch. Failed trials count toward the total only.
func AnalyzeIterations(results []TrialResult) (IterationSummary, error) {
	ok := successful(results)
	if len(ok) == 0 {
		return IterationSummary{}, ErrNoValidResults
	}

	var risks int
	var totalMEV float64
	changes := make([]float64, 0, len(ok))
	for _, r := range ok {
		if r.RiskDetected {
			risks++
		}
		totalMEV += r.MEVProfit
		changes = append(changes, r.PriceChangePct)
	}

	summary := IterationSummary{
		TotalSimulations:        len(results),
		SuccessfulSimulations:   len(ok),
		RisksDetected:           risks,
		RiskPercentage:          float64(risks) / float64(len(ok)) * 100,
		TotalMEVProfit:          totalMEV,
		AverageMEVPerSimulation: totalMEV / float64(len(ok)),
		PriceChangeStats:        changeStats(changes),
		Timestamp:               time.Now().UTC(),
	}
	if risks > 0 {
		summary.AverageMEVPerRisk = totalMEV / float64(risks)
	}
	return summary, nil
}

func successful(results []TrialResult) []TrialResult {
	out := make([]TrialResult, 0, len(results))
	for _, r := range results {
		if !r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

func changeStats(changes []float64) PriceChangeStats {
	stats := PriceChangeStats{Min: changes[0], Max: changes[0]}
	var sum float64
	for _, c := range changes {
		stats.Min = math.Min(stats.Min, c)
		stats.Max = math.Max(stats.Max, c)
		sum += c
	}
	stats.Average = sum / float64(len(changes))
	if len(changes) >= 2 {
		var ss float64
		for _, c := range changes {
			ss += (c - stats.Average) * (c - stats.Average)
		}
		stats.Volatility = math.Sqrt(ss / float64(len(changes)))
	}
	return stats
}

// MultiTokenSummary compares one trial per token.
type MultiTokenSummary struct {
	TokensAnalyzed   int     `json:"tokens_analyzed"`
	TotalMEVProfit   float64 `json:"total_mev_profit"`
	RisksDetected    int     `json:"risks_detected"`
	RiskPercentage   float64 `json:"risk_percentage"`
	HighestRiskToken string  `json:"highest_risk_token"`
	AverageMEV       float64 `json:"average_mev"`
}

// MultiTokenReport holds per-token trials and their summary. SummaryError is set instead of
// Summary when no trial succeeded.
type MultiTokenReport struct {
	Results      map[string]TrialResult `json:"multi_token_results"`
	Summary      *MultiTokenSummary     `json:"summary,omitempty"`
	SummaryError string                 `json:"summary_error,omitempty"`
}

// RunMultiToken runs base once per token concurrently.
func (s *Simulator) RunMultiToken(ctx context.Context, base TrialSpec, tokens []string) (MultiTokenReport, error) {
	specs := make(map[string]TrialSpec, len(tokens))
	for _, token := range tokens {
		spec := base
		spec.Token = strings.ToUpper(strings.TrimSpace(token))
		specs[spec.Token] = spec
	}

	results, err := s.runAll(ctx, specs)
	if err != nil {
		return MultiTokenReport{}, err
	}

	report := MultiTokenReport{Results: results}
	if summary, err := SummarizeMultiToken(results); err != nil {
		report.SummaryError = err.Error()
	} else {
		report.Summary = &summary
	}
	return report, nil
}

// SummarizeMultiToken picks the token with the largest MEV profit as the highest risk. Ties go to
// the higher risk score, then to the alphabetically first token.
func SummarizeMultiToken(results map[string]TrialResult) (MultiTokenSummary, error) {
	keys := validKeys(results)
	if len(keys) == 0 {
		return MultiTokenSummary{}, ErrNoValidResults
	}

	var summary MultiTokenSummary
	var best TrialResult
	for i, k := range keys {
		r := results[k]
		summary.TotalMEVProfit += r.MEVProfit
		if r.RiskDetected {
			summary.RisksDetected++
		}
		if i == 0 || r.MEVProfit > best.MEVProfit || (r.MEVProfit == best.MEVProfit && r.RiskScore > best.RiskScore) {
			best = r
			summary.HighestRiskToken = k
		}
	}
	summary.TokensAnalyzed = len(keys)
	summary.RiskPercentage = float64(summary.RisksDetected) / float64(len(keys)) * 100
	summary.AverageMEV = summary.TotalMEVProfit / float64(len(keys))
	return summary, nil
}

// MultiDelaySummary compares one trial per delay.
type MultiDelaySummary struct {
	DelaysTested   int                `json:"delays_tested"`
	OptimalDelay   string             `json:"optimal_delay"`
	MaxMEVProfit   float64            `json:"max_mev_profit"`
	MEVByDelay     map[string]float64 `json:"mev_by_delay"`
	Recommendation string             `json:"recommendation"`
}

// MultiDelayReport holds per-delay trials keyed like "5s".
type MultiDelayReport struct {
	Results      map[string]TrialResult `json:"multi_delay_results"`
	Summary      *MultiDelaySummary     `json:"summary,omitempty"`
	SummaryError string                 `json:"summary_error,omitempty"`
}

// DelayKey formats a delay as whole or fractional seconds, e.g. "5s" or "2.5s".
func DelayKey(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// RunMultiDelay runs base once per delay concurrently.
func (s *Simulator) RunMultiDelay(ctx context.Context, base TrialSpec, delays []time.Duration) (MultiDelayReport, error) {
	specs := make(map[string]TrialSpec, len(delays))
	for _, d := range delays {
		spec := base
		spec.Delay = d
		specs[DelayKey(d)] = spec
	}

	results, err := s.runAll(ctx, specs)
	if err != nil {
		return MultiDelayReport{}, err
	}

	report := MultiDelayReport{Results: results}
	if summary, err := SummarizeMultiDelay(results); err != nil {
		report.SummaryError = err.Error()
	} else {
		report.Summary = &summary
	}
	return report, nil
}

// SummarizeMultiDelay picks the delay with the largest MEV profit; ties go to the shorter delay.
func SummarizeMultiDelay(results map[string]TrialResult) (MultiDelaySummary, error) {
	keys := validKeys(results)
	if len(keys) == 0 {
		return MultiDelaySummary{}, ErrNoValidResults
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return results[keys[i]].DelaySeconds < results[keys[j]].DelaySeconds
	})

	summary := MultiDelaySummary{
		DelaysTested: len(keys),
		MEVByDelay:   make(map[string]float64, len(keys)),
	}
	for i, k := range keys {
		profit := results[k].MEVProfit
		summary.MEVByDelay[k] = profit
		if i == 0 || profit > summary.MaxMEVProfit {
			summary.OptimalDelay = k
			summary.MaxMEVProfit = profit
		}
	}
	summary.Recommendation = fmt.Sprintf("Use %s delay for maximum MEV opportunity", summary.OptimalDelay)
	return summary, nil
}

func validKeys(results map[string]TrialResult) []string {
	keys := make([]string, 0, len(results))
	for k, r := range results {
		if !r.Failed() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// runAll executes specs on the bounded worker pool. Order fields are checked up front; a bad
// token becomes a failed result so sibling trials still run. Each trial checks a private fork of
// the alert latches, and fired events are merged back in key order once every trial is done.
func (s *Simulator) runAll(ctx context.Context, specs map[string]TrialSpec) (map[string]TrialResult, error) {
	keys := make([]string, 0, len(specs))
	for key, spec := range specs {
		if err := validateOrder(spec); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	views := make(map[string]*alerting.System, len(specs))
	for _, key := range keys {
		spec := specs[key]
		if s.Validate(spec) != nil || s.deps.Alerts == nil {
			continue
		}
		token := strings.ToUpper(strings.TrimSpace(spec.Token))
		s.ensureAlert(token)
		views[key] = s.deps.Alerts.Fork(token)
	}

	var (
		mu      sync.Mutex
		g       errgroup.Group
		results = make(map[string]TrialResult, len(specs))
	)
	g.SetLimit(s.opts.Workers)

	for _, key := range keys {
		key := key
		spec, view := specs[key], views[key]
		g.Go(func() error {
			result, err := s.runTrial(ctx, spec, view)
			if errors.Is(err, ErrInvalidTrial) {
				result = s.rejected(spec, err)
			} else if err != nil {
				return err
			}
			mu.Lock()
			results[key] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.deps.Alerts != nil {
		for _, key := range keys {
			s.deps.Alerts.Merge(results[key].AlertsTriggered)
		}
	}
	return results, nil
}

// rejected records a trial that failed validation.
func (s *Simulator) rejected(spec TrialSpec, err error) TrialResult {
	s.logger.Warn().Err(err).Str("token", spec.Token).Msg("trial rejected")
	return TrialResult{
		ID:              uuid.NewString(),
		Timestamp:       s.clock.Now(),
		Token:           strings.ToUpper(strings.TrimSpace(spec.Token)),
		Amount:          spec.Amount,
		DelaySeconds:    spec.Delay.Seconds(),
		RiskThreshold:   spec.Threshold * 100,
		AlertsTriggered: []alerting.Event{},
		Error:           err.Error(),
	}
}

// EnhancedReport combines the batch modes with market context.
type EnhancedReport struct {
	MultiToken     *MultiTokenReport                `json:"multi_token_results,omitempty"`
	MultiDelay     *MultiDelayReport                `json:"multi_delay_results,omitempty"`
	MarketPatterns map[string]history.PatternReport `json:"market_patterns,omitempty"`
	Alerts         []alerting.Event                 `json:"alerts"`
}

// RunEnhanced runs the multi-token batch when more than one token is given and the multi-delay
// batch on base.Token when more than one delay is given, then attaches market patterns and the
// last day of alerts.
func (s *Simulator) RunEnhanced(ctx context.Context, base TrialSpec, tokens []string, delays []time.Duration) (EnhancedReport, error) {
	s.logger.Info().Int("tokens", len(tokens)).Int("delays", len(delays)).Msg("starting enhanced batch simulation")

	report := EnhancedReport{Alerts: []alerting.Event{}}
	if len(tokens) > 1 {
		mt, err := s.RunMultiToken(ctx, base, tokens)
		if err != nil {
			return EnhancedReport{}, fmt.Errorf("multi-token batch: %w", err)
		}
		report.MultiToken = &mt
	}
	if len(delays) > 1 {
		md, err := s.RunMultiDelay(ctx, base, delays)
		if err != nil {
			return EnhancedReport{}, fmt.Errorf("multi-delay batch: %w", err)
		}
		report.MultiDelay = &md
	}

	if s.deps.Tracker != nil {
		report.MarketPatterns = make(map[string]history.PatternReport, len(tokens))
		for _, t := range tokens {
			report.MarketPatterns[strings.ToUpper(t)] = s.deps.Tracker.DetectPatterns(t)
		}
	}
	if s.deps.Alerts != nil {
		report.Alerts = s.deps.Alerts.Recent(24 * time.Hour)
	}
	return report, nil
}

// Insight is the tracker's view of one token.
type Insight struct {
	Volatility float64               `json:"volatility"`
	Trend      history.TrendReport   `json:"trend"`
	Patterns   history.PatternReport `json:"patterns"`
}

// MarketInsights reports volatility, trend and patterns for each token. It is empty without a
// tracker.
func (s *Simulator) MarketInsights(tokens []string) map[string]Insight {
	out := make(map[string]Insight, len(tokens))
	if s.deps.Tracker == nil {
		return out
	}
	for _, t := range tokens {
		out[strings.ToUpper(t)] = Insight{
			Volatility: s.deps.Tracker.Volatility(t, 0),
			Trend:      s.deps.Tracker.Trend(t, time.Hour),
			Patterns:   s.deps.Tracker.DetectPatterns(t),
		}
	}
	return out
}
