package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertTrialSQL = `INSERT INTO trials (
        id,
        token,
        amount,
        delay_seconds,
        risk_threshold,
        initial_price,
        final_price,
        price_change_pct,
        risk_detected,
        risk_score,
        mev_profit,
        volatility,
        error,
        payload,
        trial_ts
    ) VALUES (
        $1::text::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (id) DO NOTHING;`

	trialColumns = `
        id::text,
        token,
        amount::text,
        delay_seconds,
        risk_threshold::text,
        initial_price::text,
        final_price::text,
        price_change_pct::text,
        risk_detected,
        risk_score::text,
        mev_profit::text,
        volatility::text,
        error,
        payload,
        trial_ts,
        created_at`

	listRecentTrialsSQL = `SELECT` + trialColumns + `
    FROM trials
    ORDER BY trial_ts DESC
    LIMIT $1;`

	listTrialsBetweenSQL = `SELECT` + trialColumns + `
    FROM trials
    WHERE trial_ts >= $1
      AND trial_ts < $2
    ORDER BY trial_ts;`

	countTrialsSQL = `SELECT COUNT(*) FROM trials;`

	insertAlertEventSQL = `INSERT INTO alert_events (
        token,
        direction,
        threshold_pct,
        change_pct,
        price,
        severity,
        channels,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (token, direction, fired_at) DO UPDATE
    SET change_pct = EXCLUDED.change_pct,
        price      = EXCLUDED.price,
        severity   = EXCLUDED.severity,
        channels   = EXCLUDED.channels
    RETURNING id, token, direction, threshold_pct::text, change_pct::text, price::text, severity, channels, fired_at, created_at;`

	listRecentAlertEventsSQL = `SELECT
        id,
        token,
        direction,
        threshold_pct::text,
        change_pct::text,
        price::text,
        severity,
        channels,
        fired_at,
        created_at
    FROM alert_events
    ORDER BY fired_at DESC
    LIMIT $1;`

	deleteAlertEventsBeforeSQL = `DELETE FROM alert_events WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TrialStore persists simulation trials.
type TrialStore interface {
	InsertTrial(ctx context.Context, trial TrialRecord) error
	ListRecentTrials(ctx context.Context, limit int) ([]TrialRecord, error)
	ListTrialsBetween(ctx context.Context, from, to time.Time) ([]TrialRecord, error)
	CountTrials(ctx context.Context) (int64, error)
}

// AlertStore persists fired alerts.
type AlertStore interface {
	InsertAlertEvent(ctx context.Context, event AlertEventRecord) (AlertEventRecord, error)
	ListRecentAlertEvents(ctx context.Context, limit int) ([]AlertEventRecord, error)
	DeleteAlertEventsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to trials and alert events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertTrial persists a trial; re-inserting the same ID is a no-op.
func (s *Store) InsertTrial(ctx context.Context, trial TrialRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload := trial.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	_, execErr := pool.Exec(ctx, insertTrialSQL,
		trial.ID,
		trial.Token,
		trial.Amount.String(),
		trial.DelaySeconds,
		trial.RiskThreshold.String(),
		decimalArg(trial.InitialPrice),
		decimalArg(trial.FinalPrice),
		decimalArg(trial.PriceChangePct),
		trial.RiskDetected,
		decimalArg(trial.RiskScore),
		decimalArg(trial.MEVProfit),
		decimalArg(trial.Volatility),
		trial.Error,
		[]byte(payload),
		trial.TrialAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert trial: %w", execErr)
	}
	return nil
}

// ListRecentTrials lists the newest trials first.
func (s *Store) ListRecentTrials(ctx context.Context, limit int) ([]TrialRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTrialsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent trials: %w", queryErr)
	}
	return collectTrials(rows)
}

// ListTrialsBetween lists trials in [from, to) in chronological order.
func (s *Store) ListTrialsBetween(ctx context.Context, from, to time.Time) ([]TrialRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTrialsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list trials between: %w", queryErr)
	}
	return collectTrials(rows)
}

// CountTrials counts stored trials.
func (s *Store) CountTrials(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countTrialsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count trials: %w", scanErr)
	}
	return count, nil
}

// InsertAlertEvent persists a fired alert. Duplicate (token, direction, fired_at) rows are updated.
func (s *Store) InsertAlertEvent(ctx context.Context, event AlertEventRecord) (AlertEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertEventRecord{}, err
	}

	channels := event.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertEventSQL,
		event.Token,
		event.Direction,
		event.ThresholdPct.String(),
		event.ChangePct.String(),
		event.Price.String(),
		event.Severity,
		channels,
		event.FiredAt,
	)
	rec, scanErr := scanAlertEvent(row)
	if scanErr != nil {
		return AlertEventRecord{}, fmt.Errorf("insert alert event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlertEvents lists the newest alert events first.
func (s *Store) ListRecentAlertEvents(ctx context.Context, limit int) ([]AlertEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alert events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]AlertEventRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlertEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteAlertEventsBefore prunes old alert events and reports how many were removed.
func (s *Store) DeleteAlertEventsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertEventsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alert events before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimal(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return &d, nil
}

func collectTrials(rows pgx.Rows) ([]TrialRecord, error) {
	defer rows.Close()

	trials := make([]TrialRecord, 0)
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return trials, nil
}

func scanTrial(row pgx.Row) (TrialRecord, error) {
	var (
		rec                             TrialRecord
		amountStr, thresholdStr         string
		initialStr, finalStr, changeStr *string
		scoreStr, mevStr, volatilityStr *string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Token,
		&amountStr,
		&rec.DelaySeconds,
		&thresholdStr,
		&initialStr,
		&finalStr,
		&changeStr,
		&rec.RiskDetected,
		&scoreStr,
		&mevStr,
		&volatilityStr,
		&rec.Error,
		&rec.Payload,
		&rec.TrialAt,
		&rec.CreatedAt,
	); err != nil {
		return TrialRecord{}, err
	}

	var err error
	if rec.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return TrialRecord{}, fmt.Errorf("parse amount: %w", err)
	}
	if rec.RiskThreshold, err = decimal.NewFromString(thresholdStr); err != nil {
		return TrialRecord{}, fmt.Errorf("parse risk threshold: %w", err)
	}

	optional := []struct {
		field string
		raw   *string
		dst   **decimal.Decimal
	}{
		{"initial price", initialStr, &rec.InitialPrice},
		{"final price", finalStr, &rec.FinalPrice},
		{"price change pct", changeStr, &rec.PriceChangePct},
		{"risk score", scoreStr, &rec.RiskScore},
		{"mev profit", mevStr, &rec.MEVProfit},
		{"volatility", volatilityStr, &rec.Volatility},
	}
	for _, o := range optional {
		if *o.dst, err = parseDecimal(o.field, o.raw); err != nil {
			return TrialRecord{}, err
		}
	}

	return rec, nil
}

func scanAlertEvent(row pgx.Row) (AlertEventRecord, error) {
	var (
		rec                               AlertEventRecord
		thresholdStr, changeStr, priceStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Token,
		&rec.Direction,
		&thresholdStr,
		&changeStr,
		&priceStr,
		&rec.Severity,
		&rec.Channels,
		&rec.FiredAt,
		&rec.CreatedAt,
	); err != nil {
		return AlertEventRecord{}, err
	}

	var err error
	if rec.ThresholdPct, err = decimal.NewFromString(thresholdStr); err != nil {
		return AlertEventRecord{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	if rec.ChangePct, err = decimal.NewFromString(changeStr); err != nil {
		return AlertEventRecord{}, fmt.Errorf("parse change pct: %w", err)
	}
	if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
		return AlertEventRecord{}, fmt.Errorf("parse price: %w", err)
	}
	return rec, nil
}

var (
	_ TrialStore     = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
