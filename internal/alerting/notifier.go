package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries a fired alert to a delivery channel.
type Notification struct {
	Symbol        string
	Direction     Direction
	ThresholdPct  decimal.Decimal
	ChangePct     decimal.Decimal
	Price         decimal.Decimal
	Severity      Severity
	FiredAt       time.Time
	Channels      []string
	AdditionalMsg string
}

// NewNotification converts a fired event into a notification.
func NewNotification(ev Event, channels []string) Notification {
	return Notification{
		Symbol:       ev.Symbol,
		Direction:    ev.Direction,
		ThresholdPct: decimal.NewFromFloat(ev.Threshold * 100),
		ChangePct:    decimal.NewFromFloat(ev.Change * 100),
		Price:        decimal.NewFromFloat(ev.Price),
		Severity:     ev.Severity,
		FiredAt:      ev.Timestamp,
		Channels:     channels,
	}
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram rejected message: %s", result.Description)
	}

	n.logger.Info().Str("symbol", note.Symbol).
		Str("direction", string(note.Direction)).
		Str("severity", string(note.Severity)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert delivered")
	return nil
}

func renderMessage(note Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[OTC Risk Alert] %s\n", note.Symbol)
	fmt.Fprintf(&b, "Fired: %s UTC\n", note.FiredAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Direction: %s\n", note.Direction)
	fmt.Fprintf(&b, "Change: %s%% (threshold %s%%)\n", note.ChangePct.StringFixed(3), note.ThresholdPct.StringFixed(3))
	fmt.Fprintf(&b, "Price: $%s\n", note.Price.StringFixed(4))
	fmt.Fprintf(&b, "Severity: %s\n", note.Severity)
	if len(note.Channels) > 0 {
		fmt.Fprintf(&b, "Channels: %s\n", strings.Join(note.Channels, ","))
	}
	if note.AdditionalMsg != "" {
		b.WriteString(note.AdditionalMsg)
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
