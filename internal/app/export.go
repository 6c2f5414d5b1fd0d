package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"otc-risk-shield/internal/storage"
)

// Export renders persisted trials as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	from := to.Add(-window)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	trials, err := store.ListTrialsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	trials = filterTrialsByToken(trials, opts.Token)
	if len(trials) == 0 {
		a.Logger.Info().Str("token", opts.Token).Msg("no trials found for export window")
		return nil
	}

	downsampled := downsampleTrials(trials, opts.MaxPoints)
	a.Logger.Info().Int("total", len(trials)).Int("exported", len(downsampled)).Msg("exporting trials")

	if opts.CSVPath != "" {
		if err := writeTrialsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTrialsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// filterTrialsByToken keeps trials for token; an empty token keeps everything.
func filterTrialsByToken(trials []storage.TrialRecord, token string) []storage.TrialRecord {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return trials
	}
	kept := trials[:0:0]
	for _, t := range trials {
		if t.Token == token {
			kept = append(kept, t)
		}
	}
	return kept
}

func downsampleTrials(trials []storage.TrialRecord, max int) []storage.TrialRecord {
	if max <= 0 || len(trials) <= max {
		return trials
	}
	if max == 1 {
		return trials[len(trials)-1:]
	}

	result := make([]storage.TrialRecord, 0, max)
	step := float64(len(trials)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(trials) {
			idx = len(trials) - 1
		}
		result = append(result, trials[idx])
	}
	return result
}

func writeTrialsCSV(path string, trials []storage.TrialRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"trial_ts", "id", "token", "amount", "delay_seconds", "risk_threshold_pct", "initial_price", "final_price", "price_change_pct", "risk_detected", "risk_score", "mev_profit", "volatility", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, t := range trials {
		errMsg := ""
		if t.Error != nil {
			errMsg = *t.Error
		}
		record := []string{
			t.TrialAt.UTC().Format(time.RFC3339),
			t.ID,
			t.Token,
			t.Amount.String(),
			strconv.FormatFloat(t.DelaySeconds, 'f', -1, 64),
			t.RiskThreshold.String(),
			optionalString(t.InitialPrice),
			optionalString(t.FinalPrice),
			optionalString(t.PriceChangePct),
			strconv.FormatBool(t.RiskDetected),
			optionalString(t.RiskScore),
			optionalString(t.MEVProfit),
			optionalString(t.Volatility),
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeTrialsPNG charts price change and risk score over time. Failed trials are skipped.
func writeTrialsPNG(path string, trials []storage.TrialRecord) error {
	x := make([]time.Time, 0, len(trials))
	change := make([]float64, 0, len(trials))
	score := make([]float64, 0, len(trials))

	for _, t := range trials {
		if t.PriceChangePct == nil || t.RiskScore == nil {
			continue
		}
		x = append(x, t.TrialAt)
		change = append(change, t.PriceChangePct.InexactFloat64())
		score = append(score, t.RiskScore.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("need at least two successful trials to draw a chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price change (%)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Risk score",
			ValueFormatter: pctFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 1},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price change %",
				XValues: x,
				YValues: change,
			},
			chart.TimeSeries{
				Name:    "Risk score",
				XValues: x,
				YValues: score,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func optionalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
