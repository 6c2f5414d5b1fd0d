package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"otc-risk-shield/internal/alerting"
	"otc-risk-shield/internal/metrics"
	"otc-risk-shield/internal/scheduler"
	"otc-risk-shield/internal/simulator"
	"otc-risk-shield/internal/storage"
)

// Batcher runs one trial per token.
type Batcher interface {
	RunMultiToken(ctx context.Context, base simulator.TrialSpec, tokens []string) (simulator.MultiTokenReport, error)
}

// Options configure a monitoring round. ResetAlerts re-arms fired alerts after every round;
// AlertRetention prunes persisted alert events older than it, and zero keeps everything.
type Options struct {
	Base            simulator.TrialSpec
	Tokens          []string
	Channels        []string
	ResetAlerts     bool
	AdvisoryLockKey int64
	AlertRetention  time.Duration
}

// RoundSummary reports what a round did.
type RoundSummary struct {
	Bucket    time.Time
	Skipped   bool
	Trials    int
	Failed    int
	Risks     int
	Alerts    int
	Persisted int
	Rejected  int
	Pruned    int64
	Highest   string
}

// Service runs the multi-token batch on every scheduler tick and records the outcome.
type Service struct {
	scheduler  *scheduler.Scheduler
	batcher    Batcher
	trials     storage.TrialStore
	alertStore storage.AlertStore
	alerts     *alerting.System
	metrics    *metrics.Metrics
	locker     storage.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger
}

// New constructs the monitoring service. Stores, alerts and metrics are optional.
func New(sched *scheduler.Scheduler, batcher Batcher, trials storage.TrialStore, alertStore storage.AlertStore, alerts *alerting.System, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := trials.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		batcher:    batcher,
		trials:     trials,
		alertStore: alertStore,
		alerts:     alerts,
		metrics:    m,
		locker:     locker,
		opts:       opts,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the monitoring loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket executes one monitoring round.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	_, err := s.ProcessRound(ctx, bucket)
	return err
}

// ProcessRound executes one monitoring round and reports what it did.
func (s *Service) ProcessRound(ctx context.Context, bucket time.Time) (RoundSummary, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.metrics.ObserveRound(bucket, err)
		return RoundSummary{Bucket: bucket}, err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip round because advisory lock held elsewhere")
		return RoundSummary{Bucket: bucket, Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := s.executeRound(ctx, bucket)
	s.metrics.ObserveRound(bucket, err)
	return summary, err
}

func (s *Service) executeRound(ctx context.Context, bucket time.Time) (RoundSummary, error) {
	summary := RoundSummary{Bucket: bucket}

	report, err := s.batcher.RunMultiToken(ctx, s.opts.Base, s.opts.Tokens)
	if err != nil {
		return summary, fmt.Errorf("run multi-token batch: %w", err)
	}
	if report.Summary != nil {
		summary.Highest = report.Summary.HighestRiskToken
	}

	tokens := make([]string, 0, len(report.Results))
	for token := range report.Results {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		result := report.Results[token]
		summary.Trials++
		if result.Failed() {
			summary.Failed++
		}
		if result.RiskDetected {
			summary.Risks++
		}
		summary.Alerts += len(result.AlertsTriggered)

		if s.trials != nil {
			if err := s.persistTrial(ctx, result); err != nil {
				summary.Rejected++
				s.logger.Error().Err(err).Str("token", token).Str("trial_id", result.ID).Msg("failed to persist trial")
			} else {
				summary.Persisted++
			}
		}
		s.persistAlerts(ctx, result.AlertsTriggered)
	}
	s.metrics.ObservePersist(summary.Persisted, summary.Rejected)

	if s.alertStore != nil && s.opts.AlertRetention > 0 {
		pruned, err := s.alertStore.DeleteAlertEventsBefore(ctx, bucket.Add(-s.opts.AlertRetention))
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to prune alert events")
		}
		summary.Pruned = pruned
	}

	if s.alerts != nil && s.opts.ResetAlerts {
		s.alerts.ResetAll()
	}

	s.logger.Info().Time("bucket", bucket).
		Int("trials", summary.Trials).
		Int("failed", summary.Failed).
		Int("risks", summary.Risks).
		Int("alerts", summary.Alerts).
		Str("highest_risk_token", summary.Highest).
		Msg("round recorded")

	return summary, nil
}

func (s *Service) persistTrial(ctx context.Context, result simulator.TrialResult) error {
	record, err := TrialRecord(result)
	if err != nil {
		return err
	}
	return s.trials.InsertTrial(ctx, record)
}

func (s *Service) persistAlerts(ctx context.Context, events []alerting.Event) {
	if s.alertStore == nil {
		return
	}
	for _, ev := range events {
		if _, err := s.alertStore.InsertAlertEvent(ctx, AlertEventRecord(ev, s.opts.Channels)); err != nil {
			s.logger.Error().Err(err).Str("token", ev.Symbol).Msg("failed to persist alert event")
		}
	}
}

// TrialRecord converts a trial into its stored form. The full result is kept as the JSON payload.
func TrialRecord(result simulator.TrialResult) (storage.TrialRecord, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return storage.TrialRecord{}, fmt.Errorf("encode trial payload: %w", err)
	}

	record := storage.TrialRecord{
		ID:            result.ID,
		Token:         result.Token,
		Amount:        decimal.NewFromFloat(result.Amount),
		DelaySeconds:  result.DelaySeconds,
		RiskThreshold: decimal.NewFromFloat(result.RiskThreshold),
		RiskDetected:  result.RiskDetected,
		Payload:       payload,
		TrialAt:       result.Timestamp,
	}
	if result.Failed() {
		msg := result.Error
		record.Error = &msg
		return record, nil
	}

	record.InitialPrice = decimalPtr(result.InitialPrice)
	record.FinalPrice = decimalPtr(result.FinalPrice)
	record.PriceChangePct = decimalPtr(result.PriceChangePct)
	record.RiskScore = decimalPtr(result.RiskScore)
	record.MEVProfit = decimalPtr(result.MEVProfit)
	record.Volatility = decimalPtr(result.MarketVolatility)
	return record, nil
}

// AlertEventRecord converts a fired alert into its stored form.
func AlertEventRecord(ev alerting.Event, channels []string) storage.AlertEventRecord {
	note := alerting.NewNotification(ev, channels)
	return storage.AlertEventRecord{
		Token:        note.Symbol,
		Direction:    string(note.Direction),
		ThresholdPct: note.ThresholdPct,
		ChangePct:    note.ChangePct,
		Price:        note.Price,
		Severity:     string(note.Severity),
		Channels:     note.Channels,
		FiredAt:      note.FiredAt,
	}
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
