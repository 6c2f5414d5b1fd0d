package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTrial(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "")

	m.ObserveTrial("SOL", OutcomeRisk, 0.8, 12.5, 5, 2*time.Second)
	m.ObserveTrial("SOL", OutcomeClear, 0.2, 0, 4, 2*time.Second)
	m.ObserveTrial("SOL", OutcomeFailed, 0, 0, 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrialsTotal.WithLabelValues("SOL", OutcomeRisk)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrialsTotal.WithLabelValues("SOL", OutcomeFailed)))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.MEVProfit.WithLabelValues("SOL")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RiskScore))
}

func TestObserveRoundAndAlerts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")
	at := time.Unix(1_714_564_800, 0)

	m.ObserveRound(at, nil)
	m.ObserveRound(at.Add(time.Minute), errors.New("boom"))
	m.ObserveAlert("ETH", "down", "high")
	m.ObservePersist(3, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoundsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoundsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.LastRound))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsFired.WithLabelValues("ETH", "down", "high")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrialsPersisted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistErrors))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTrial("SOL", OutcomeRisk, 1, 1, 1, time.Second)
		m.ObserveAlert("SOL", "up", "medium")
		m.ObserveRound(time.Now(), nil)
		m.ObservePersist(1, 0)
	})
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeFailed, OutcomeOf(true, true))
	assert.Equal(t, OutcomeRisk, OutcomeOf(true, false))
	assert.Equal(t, OutcomeClear, OutcomeOf(false, false))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "")
	m.ObserveAlert("SOL", "up", "medium")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "otcshield_alerting_fired_total")
}
