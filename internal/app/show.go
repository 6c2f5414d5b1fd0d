package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"otc-risk-shield/internal/storage"
)

// Show prints recent trials, or recent alert events with opts.Alerts. The token filter
// applies after the limit.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show trials")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		events, err := store.ListRecentAlertEvents(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeAlertTable(a.Out, events)
	}

	trials, err := store.ListRecentTrials(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeTrialTable(a.Out, filterTrialsByToken(trials, opts.Token))
}

func writeTrialTable(out io.Writer, trials []storage.TrialRecord) error {
	if len(trials) == 0 {
		_, err := fmt.Fprintln(out, "no trials found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tToken\tAmount\tDelay(s)\tInitial\tFinal\tChange%\tRisk\tScore\tMEV\tError")

	for _, t := range trials {
		errMsg := ""
		if t.Error != nil {
			errMsg = sanitizeInline(*t.Error)
		}
		risk := "no"
		if t.RiskDetected {
			risk = "YES"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%g\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TrialAt.UTC().Format(time.RFC3339),
			t.Token,
			t.Amount.String(),
			t.DelaySeconds,
			formatOptional(t.InitialPrice, 4),
			formatOptional(t.FinalPrice, 4),
			formatOptional(t.PriceChangePct, 3),
			risk,
			formatOptional(t.RiskScore, 3),
			formatOptional(t.MEVProfit, 2),
			errMsg,
		)
	}

	return writer.Flush()
}

func writeAlertTable(out io.Writer, events []storage.AlertEventRecord) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(out, "no alert events found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tToken\tDirection\tThreshold%\tChange%\tPrice\tSeverity\tChannels")
	for _, ev := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.FiredAt.UTC().Format(time.RFC3339),
			ev.Token,
			ev.Direction,
			formatDecimal(ev.ThresholdPct, 2),
			formatDecimal(ev.ChangePct, 3),
			formatDecimal(ev.Price, 4),
			ev.Severity,
			strings.Join(ev.Channels, ","),
		)
	}
	return writer.Flush()
}

func formatOptional(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return formatDecimal(*d, places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
