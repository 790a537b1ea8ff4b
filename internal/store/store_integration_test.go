//go:build integration
// +build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"stockbot/internal/config"
	"stockbot/internal/store"
	"stockbot/internal/svc"
	"stockbot/pkg/confkit"
	"stockbot/pkg/crawler"
	"stockbot/pkg/signal"
)

// stubFetcher feeds a fixed report into the fetch-through path.
type stubFetcher struct {
	rows []crawler.DailyRow
}

func (s stubFetcher) DailySummaries(context.Context, time.Time) ([]crawler.DailyRow, error) {
	return s.rows, nil
}

func (s stubFetcher) InstrumentName(_ context.Context, code string) (string, error) {
	return code, nil
}

func newIntegrationContext(t *testing.T) *svc.ServiceContext {
	t.Helper()
	cfg := config.MustLoad(confkit.MustProjectPath("etc/stockbot.yaml"))
	svcCtx := svc.NewServiceContext(*cfg)
	if svcCtx.Store == nil {
		t.Skip("postgres dsn not configured")
	}
	return svcCtx
}

func TestPostgresConnectivity(t *testing.T) {
	svcCtx := newIntegrationContext(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var one int
	require.NoError(t, svcCtx.DBConn.QueryRowCtx(ctx, &one, "SELECT 1"))
	require.Equal(t, 1, one)
}

func TestFetchThroughRoundTrip(t *testing.T) {
	svcCtx := newIntegrationContext(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	date := time.Date(1999, 1, 4, 0, 0, 0, 0, time.UTC)
	fetcher := stubFetcher{rows: []crawler.DailyRow{{
		Code: "0099", Name: "integration probe",
		Volume: 1000, Transactions: 10, Value: 20500,
		Open: 20, High: 21, Low: 19.5, Close: 20.5,
	}}}

	probe := store.New(svcCtx.DBConn, svcCtx.Cache,
		map[string]crawler.Fetcher{"itest": fetcher}, store.TTLs{Short: 1, Medium: 1, Long: 1})
	require.NoError(t, probe.EnsureDailySummaries(ctx, "itest", date))
	// a second pass finds the rows and never touches the fetcher
	require.NoError(t, probe.EnsureDailySummaries(ctx, "itest", date))

	universe, err := probe.Universe(ctx, "itest")
	require.NoError(t, err)
	require.NotEmpty(t, universe)

	rows, err := probe.DailySummaries(ctx, universe[0].ID, date, date)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 20.5, rows[0].Close)

	// trade records key instruments by the store's uuid ids
	trade := signal.Trade{
		RunID:        uuid.New(),
		InstrumentID: universe[0].ID,
		TS:           date.Add(9 * time.Hour),
		Price:        20.5,
		Volume:       1000,
	}
	require.NoError(t, probe.Record(ctx, trade))
	require.NoError(t, probe.Record(ctx, trade), "replaying the same trade is idempotent")
}
