package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"otc-risk-shield/internal/alerting"
	"otc-risk-shield/internal/fetcher"
	"otc-risk-shield/internal/service"
	"otc-risk-shield/internal/simulator"
)

// SimulationReport is what simulate prints and writes.
type SimulationReport struct {
	Results []simulator.TrialResult     `json:"results"`
	Summary *simulator.IterationSummary `json:"summary,omitempty"`
}

// Simulate runs one trial, or a sequential batch when Iterations > 1.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (SimulationReport, error) {
	spec := a.defaultSpec()
	if opts.Token != "" {
		spec.Token = opts.Token
	}
	if opts.Amount != 0 {
		spec.Amount = opts.Amount
	}
	if opts.Delay != 0 {
		spec.Delay = opts.Delay
	}
	if opts.Threshold != 0 {
		spec.Threshold = opts.Threshold
	}

	eng, err := a.newEngine(nil)
	if err != nil {
		return SimulationReport{}, err
	}
	defer eng.close()

	var report SimulationReport
	if opts.Iterations > 1 {
		results, err := eng.sim.RunIterations(ctx, spec, opts.Iterations)
		if err != nil {
			return SimulationReport{}, err
		}
		report.Results = results
		if summary, err := simulator.AnalyzeIterations(results); err == nil {
			report.Summary = &summary
		} else {
			a.Logger.Warn().Err(err).Msg("no successful iterations to summarize")
		}
	} else {
		result, err := eng.sim.RunTrial(ctx, spec)
		if err != nil {
			return SimulationReport{}, err
		}
		report.Results = []simulator.TrialResult{result}
	}

	if opts.Save {
		if err := a.saveTrials(ctx, report.Results); err != nil {
			return report, err
		}
	}
	if err := a.emit(report, opts.OutputPath); err != nil {
		return report, err
	}
	return report, nil
}

func (a *App) saveTrials(ctx context.Context, results []simulator.TrialResult) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot save trials")
	}
	defer closeStore()

	for _, r := range results {
		record, err := service.TrialRecord(r)
		if err != nil {
			return err
		}
		if err := store.InsertTrial(ctx, record); err != nil {
			return err
		}
		for _, ev := range r.AlertsTriggered {
			if _, err := store.InsertAlertEvent(ctx, service.AlertEventRecord(ev, a.Config.Alerting.Channels)); err != nil {
				return err
			}
		}
	}
	a.Logger.Info().Int("trials", len(results)).Msg("trials saved")
	return nil
}

// BatchReport is the enhanced batch plus per-token market insights.
type BatchReport struct {
	simulator.EnhancedReport
	Insights map[string]simulator.Insight `json:"market_insights"`
}

// Batch runs the multi-token and multi-delay comparisons.
func (a *App) Batch(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	spec := a.defaultSpec()
	if opts.Amount != 0 {
		spec.Amount = opts.Amount
	}
	if opts.Threshold != 0 {
		spec.Threshold = opts.Threshold
	}
	tokens := opts.Tokens
	if len(tokens) == 0 {
		tokens = a.Config.Batch.Tokens
	}
	delays := opts.Delays
	if len(delays) == 0 {
		delays = a.Config.Batch.Delays
	}
	if len(tokens) > 0 {
		spec.Token = tokens[0]
	}

	eng, err := a.newEngine(nil)
	if err != nil {
		return BatchReport{}, err
	}
	defer eng.close()

	enhanced, err := eng.sim.RunEnhanced(ctx, spec, tokens, delays)
	if err != nil {
		return BatchReport{}, err
	}
	report := BatchReport{EnhancedReport: enhanced, Insights: eng.sim.MarketInsights(tokens)}

	if err := a.emit(report, opts.OutputPath); err != nil {
		return report, err
	}
	return report, nil
}

// SimulateAlert pushes a static price pair through a fresh alert system and the configured
// notifier.
func (a *App) SimulateAlert(ctx context.Context, opts AlertOptions) ([]alerting.Event, error) {
	direction, err := alerting.ParseDirection(opts.Direction)
	if err != nil {
		return nil, err
	}
	thresholdPct := opts.ThresholdPct
	if thresholdPct == 0 {
		thresholdPct = a.Config.Alerting.ThresholdPct
	}
	token := strings.ToUpper(strings.TrimSpace(opts.Token))
	if token == "" {
		token = a.Config.Simulation.Token
	}
	if opts.Previous <= 0 || opts.Current <= 0 {
		return nil, errors.New("--previous and --current must be greater than zero")
	}

	alerts := alerting.NewSystem(a.clock, a.Logger)
	if _, err := alerts.Add(token, thresholdPct/100, direction); err != nil {
		return nil, err
	}
	events := alerts.Check(token, opts.Current, opts.Previous)

	notifier := a.newNotifier()
	if notifier == nil && len(events) > 0 {
		a.Logger.Warn().Msg("no alert channel configured; printing events only")
	}
	for _, ev := range events {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, alerting.NewNotification(ev, a.Config.Alerting.Channels)); err != nil {
			return events, fmt.Errorf("dispatch alert: %w", err)
		}
	}

	if err := a.emit(map[string]any{"token": token, "events": events}, ""); err != nil {
		return events, err
	}
	return events, nil
}

// BreakEvenReport is the minimum profitable move for a trade.
type BreakEvenReport struct {
	Token          string  `json:"token"`
	Amount         float64 `json:"amount"`
	Price          float64 `json:"price"`
	DelaySeconds   float64 `json:"delay_seconds"`
	BreakEvenPrice float64 `json:"break_even_price"`
	RequiredMove   float64 `json:"required_move"`
	RequiredPct    float64 `json:"required_pct"`
}

// BreakEven reports the price movement at which front-running this order stops losing money.
func (a *App) BreakEven(ctx context.Context, opts BreakEvenOptions) (BreakEvenReport, error) {
	token := strings.ToUpper(strings.TrimSpace(opts.Token))
	if token == "" {
		token = a.Config.Simulation.Token
	}
	amount := opts.Amount
	if amount == 0 {
		amount = a.Config.Simulation.Amount
	}
	delay := opts.Delay
	if delay == 0 {
		delay = a.Config.Simulation.Delay
	}
	if amount <= 0 {
		return BreakEvenReport{}, errors.New("amount must be greater than zero")
	}

	price := opts.Price
	if price == 0 {
		prices, err := a.newPriceSource()
		if err != nil {
			return BreakEvenReport{}, err
		}
		if price, err = prices.Price(ctx, token); err != nil {
			return BreakEvenReport{}, fmt.Errorf("fetch %s price: %w", token, err)
		}
	}

	// gas is valued at the fallback reference price, so no live reference source is needed
	calc := a.newCalculator(fetcher.Static{})
	pct, err := calc.BreakEven(amount, price, delay.Seconds())
	if err != nil {
		return BreakEvenReport{}, err
	}

	move := price * pct / 100
	report := BreakEvenReport{
		Token:          token,
		Amount:         amount,
		Price:          price,
		DelaySeconds:   delay.Seconds(),
		BreakEvenPrice: price + move,
		RequiredMove:   move,
		RequiredPct:    pct,
	}
	if err := a.emit(report, ""); err != nil {
		return report, err
	}
	return report, nil
}

// emit prints v as indented JSON and optionally writes it to path.
func (a *App) emit(v any, path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if path != "" {
		if err := ensureDir(path); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		a.Logger.Info().Str("path", path).Msg("report written")
	}
	if a.Out == nil {
		return nil
	}
	_, err = fmt.Fprintln(a.Out, string(data))
	return err
}
