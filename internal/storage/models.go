package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TrialRecord is a persisted simulation trial. Price columns are nil when the trial failed before
// an initial quote was obtained.
type TrialRecord struct {
	ID             string
	Token          string
	Amount         decimal.Decimal
	DelaySeconds   float64
	RiskThreshold  decimal.Decimal
	InitialPrice   *decimal.Decimal
	FinalPrice     *decimal.Decimal
	PriceChangePct *decimal.Decimal
	RiskDetected   bool
	RiskScore      *decimal.Decimal
	MEVProfit      *decimal.Decimal
	Volatility     *decimal.Decimal
	Error          *string
	Payload        json.RawMessage
	TrialAt        time.Time
	CreatedAt      time.Time
}

// AlertEventRecord captures a fired alert for auditing.
type AlertEventRecord struct {
	ID           int64
	Token        string
	Direction    string
	ThresholdPct decimal.Decimal
	ChangePct    decimal.Decimal
	Price        decimal.Decimal
	Severity     string
	Channels     []string
	FiredAt      time.Time
	CreatedAt    time.Time
}
