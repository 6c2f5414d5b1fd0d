package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("otcshield"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := Migrate(ctx, pool, filepath.Join(projectRoot(t), "migrations"))
	require.NoError(t, err)
	require.Contains(t, applied, "001_init.sql")

	// second pass must be a no-op
	_, err = Migrate(ctx, pool, filepath.Join(projectRoot(t), "migrations"))
	require.NoError(t, err)
	return NewStore(pool)
}

func projectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}

func ptr[T any](v T) *T { return &v }

func TestStoreTrials(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ok := TrialRecord{
		ID:             "5f0c7c2e-7c52-4c1b-9f57-0e3f5c5b1a01",
		Token:          "SOL",
		Amount:         decimal.NewFromInt(1000),
		DelaySeconds:   5,
		RiskThreshold:  decimal.RequireFromString("0.01"),
		InitialPrice:   ptr(decimal.RequireFromString("100")),
		FinalPrice:     ptr(decimal.RequireFromString("103")),
		PriceChangePct: ptr(decimal.RequireFromString("3")),
		RiskDetected:   true,
		RiskScore:      ptr(decimal.NewFromInt(1)),
		MEVProfit:      ptr(decimal.RequireFromString("2470.25")),
		Volatility:     ptr(decimal.RequireFromString("0.0123")),
		Payload:        json.RawMessage(`{"token":"SOL"}`),
		TrialAt:        base,
	}
	failed := TrialRecord{
		ID:            "5f0c7c2e-7c52-4c1b-9f57-0e3f5c5b1a02",
		Token:         "ETH",
		Amount:        decimal.NewFromInt(1),
		DelaySeconds:  5,
		RiskThreshold: decimal.RequireFromString("0.01"),
		Error:         ptr("initial quote for ETH: price unavailable"),
		TrialAt:       base.Add(time.Minute),
	}

	require.NoError(t, store.InsertTrial(ctx, ok))
	require.NoError(t, store.InsertTrial(ctx, failed))
	require.NoError(t, store.InsertTrial(ctx, ok))

	count, err := store.CountTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	recent, err := store.ListRecentTrials(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, failed.ID, recent[0].ID)
	assert.Nil(t, recent[0].InitialPrice)
	require.NotNil(t, recent[0].Error)

	got := recent[1]
	assert.Equal(t, "SOL", got.Token)
	assert.True(t, got.RiskDetected)
	require.NotNil(t, got.MEVProfit)
	assert.True(t, got.MEVProfit.Equal(decimal.RequireFromString("2470.25")))
	assert.JSONEq(t, `{"token":"SOL"}`, string(got.Payload))

	between, err := store.ListTrialsBetween(ctx, base, base.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, between, 1)
	assert.Equal(t, ok.ID, between[0].ID)
}

func TestStoreAlertEvents(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	fired := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec, err := store.InsertAlertEvent(ctx, AlertEventRecord{
		Token:        "SOL",
		Direction:    "down",
		ThresholdPct: decimal.NewFromInt(-2),
		ChangePct:    decimal.RequireFromString("-6.25"),
		Price:        decimal.RequireFromString("131.25"),
		Severity:     "high",
		Channels:     []string{"telegram"},
		FiredAt:      fired,
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.True(t, rec.ChangePct.Equal(decimal.RequireFromString("-6.25")))

	events, err := store.ListRecentAlertEvents(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"telegram"}, events[0].Channels)

	removed, err := store.DeleteAlertEventsBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestStoreAdvisoryLock(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	unlock, acquired, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.True(t, acquired)

	_, again, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	assert.False(t, again)

	unlock()

	unlock, acquired, err = store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	assert.True(t, acquired)
	unlock()
}

func TestNilStoreNotConfigured(t *testing.T) {
	var store *Store
	_, err := store.CountTrials(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
