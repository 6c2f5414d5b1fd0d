package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() Event {
	return Event{
		AlertID:   1,
		Symbol:    "SOL",
		Direction: DirectionDown,
		Threshold: -0.02,
		Change:    -0.0625,
		Price:     131.25,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Severity:  SeverityHigh,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	note := NewNotification(testEvent(), []string{"telegram"})

	require.NoError(t, notifier.Notify(context.Background(), note))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "[OTC Risk Alert] SOL")
	assert.Contains(t, received["text"], "Change: -6.250% (threshold -2.000%)")
	assert.Contains(t, received["text"], "Price: $131.2500")
	assert.Contains(t, received["text"], "Severity: high")
	assert.Contains(t, received["text"], "Fired: 2024-05-01T12:00:00Z UTC")
}

func TestTelegramNotifierRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), NewNotification(testEvent(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), NewNotification(testEvent(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
