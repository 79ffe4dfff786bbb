package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/src/models"
)

func dashboardSession(t *testing.T) *models.SessionData {
	t.Helper()
	day := func(value string) time.Time {
		ts, err := time.Parse("2006-01-02", value)
		require.NoError(t, err)
		return ts
	}
	return &models.SessionData{
		ID:     "s1",
		Status: models.SessionReady,
		Ledger: []models.Transaction{
			{ID: "b1", Timestamp: day("2024-01-10"), Asset: "BTC", Kind: models.KindBuy,
				Amount: decimal.NewFromInt(1), Price: decimal.NewNullDecimal(decimal.NewFromInt(20000))},
			{ID: "s1", Timestamp: day("2024-02-10"), Asset: "BTC", Kind: models.KindSell,
				Amount: decimal.NewFromFloat(0.4), Price: decimal.NewNullDecimal(decimal.NewFromInt(25000))},
			{ID: "d1", Timestamp: day("2024-03-05"), Asset: "ETH", Kind: models.KindDeposit,
				Amount: decimal.NewFromInt(2)},
		},
		RealizedGains: []models.RealizedGain{
			{Asset: "BTC", ClosedAt: day("2024-02-10"), GainEUR: decimal.NewFromInt(2000),
				Quantity: decimal.NewFromFloat(0.4)},
		},
		Summary:       models.Summary{RealizedGainEUR: decimal.NewFromInt(2000)},
		MissingPrices: []string{"ETH@05-03-2024"},
	}
}

func TestParseDashboardFilterDefaults(t *testing.T) {
	filter, err := ParseDashboardFilter("", "", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "month", filter.GroupBy)
	assert.True(t, filter.From.IsZero())
	assert.Empty(t, filter.Asset)
}

func TestParseDashboardFilterRejectsBadValues(t *testing.T) {
	_, err := ParseDashboardFilter("weekly", "", "", "", "")
	assert.True(t, errors.Is(err, ErrMalformedInput))

	_, err = ParseDashboardFilter("", "03/01/2024", "", "", "")
	assert.True(t, errors.Is(err, ErrMalformedInput))

	_, err = ParseDashboardFilter("", "2024-02-01", "2024-01-01", "", "")
	assert.True(t, errors.Is(err, ErrMalformedInput), "inverted range")

	_, err = ParseDashboardFilter("", "", "", "", "transfer")
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestBuildDashboardUnfiltered(t *testing.T) {
	session := dashboardSession(t)
	filter, err := ParseDashboardFilter("", "", "", "", "")
	require.NoError(t, err)

	dash := BuildDashboard(session, filter)
	assert.Equal(t, "s1", dash.SessionID)
	assert.Len(t, dash.Operations, 3)
	require.Len(t, dash.GainsByPeriod, 1)
	assert.Equal(t, "2024-02", dash.GainsByPeriod[0].Period)
	assert.Len(t, dash.AssetBreakdown, 2)
	assert.Equal(t, []string{"ETH@05-03-2024"}, dash.MissingPrices)
}

func TestBuildDashboardAssetFilter(t *testing.T) {
	session := dashboardSession(t)
	filter, err := ParseDashboardFilter("", "", "", "btc", "")
	require.NoError(t, err)

	dash := BuildDashboard(session, filter)
	assert.Len(t, dash.Operations, 2)
	require.Len(t, dash.AssetBreakdown, 1)
	assert.Equal(t, "BTC", dash.AssetBreakdown[0].Asset)
	assert.Len(t, dash.GainsByPeriod, 1)
}

func TestBuildDashboardDateRangeFilter(t *testing.T) {
	session := dashboardSession(t)
	filter, err := ParseDashboardFilter("", "2024-02-01", "2024-02-28", "", "")
	require.NoError(t, err)

	dash := BuildDashboard(session, filter)
	require.Len(t, dash.Operations, 1)
	assert.Equal(t, models.KindSell, dash.Operations[0].Kind)
	assert.Len(t, dash.GainsByPeriod, 1)
}

func TestBuildDashboardTypeFilter(t *testing.T) {
	session := dashboardSession(t)
	filter, err := ParseDashboardFilter("", "", "", "", "deposit")
	require.NoError(t, err)

	dash := BuildDashboard(session, filter)
	require.Len(t, dash.Operations, 1)
	assert.Equal(t, "ETH", dash.Operations[0].Asset)
}

func TestExportCSVRoundTrip(t *testing.T) {
	session := dashboardSession(t)
	filter, err := ParseDashboardFilter("", "", "", "", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteOperationsCSV(&buf, session, filter))

	reader := csv.NewReader(&buf)
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4, "header plus one row per transaction")
	assert.Equal(t, exportHeader, rows[0])

	// re-parsing yields the same (date, asset, type, amount) tuples
	type tuple struct{ date, asset, kind, amount string }
	var got []tuple
	for _, row := range rows[1:] {
		amount, err := decimal.NewFromString(row[3])
		require.NoError(t, err)
		got = append(got, tuple{row[0], row[1], row[2], amount.String()})
	}
	want := []tuple{
		{"2024-01-10", "BTC", "buy", "1"},
		{"2024-02-10", "BTC", "sell", "0.4"},
		{"2024-03-05", "ETH", "deposit", "2"},
	}
	assert.Equal(t, want, got)

	// unpriced deposit has empty price and total
	assert.Empty(t, rows[3][4])
	assert.Empty(t, rows[3][6])
	// priced sell carries amount*price
	assert.Equal(t, "10000", rows[2][6])
}

func TestExportCSVHonorsFilter(t *testing.T) {
	session := dashboardSession(t)
	filter, err := ParseDashboardFilter("", "", "", "ETH", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteOperationsCSV(&buf, session, filter))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ETH", rows[1][1])
}
