package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/src/config"
	"github.com/username/cryptofolio/src/logger"
)

func init() {
	logger.InitLogger("error")
}

func testResolver(baseURL string) *CoinGeckoResolver {
	return NewCoinGeckoResolver(&config.AppConfig{
		PriceAPIBaseURL:        baseURL,
		PriceRequestsPerSecond: 1000,
		PriceRequestTimeout:    time.Second,
	})
}

func TestResolveReportingCurrencyIsAlwaysOne(t *testing.T) {
	r := testResolver("http://unused")
	price, ok := r.Resolve(context.Background(), "EUR", time.Now())
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(1)))
	assert.Empty(t, r.MissingPrices())
}

func TestResolveFetchesAndCachesDailyPrice(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/coins/bitcoin/history", r.URL.Path)
		assert.Equal(t, "01-03-2024", r.URL.Query().Get("date"))
		fmt.Fprint(w, `{"market_data":{"current_price":{"eur":20000.5,"usd":21500}}}`)
	}))
	defer server.Close()

	r := testResolver(server.URL)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	price, ok := r.Resolve(context.Background(), "BTC", ts)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromFloat(20000.5)), price.String())

	// same day, different hour: served from cache
	_, ok = r.Resolve(context.Background(), "BTC", ts.Add(5*time.Hour))
	require.True(t, ok)
	assert.Equal(t, int64(1), calls.Load())
}

func TestResolveRecordsMissingPriceOnFailure(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	r := testResolver(server.URL)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, ok := r.Resolve(context.Background(), "OBSCURECOIN", ts)
	assert.False(t, ok)

	// negative result is cached as well
	_, ok = r.Resolve(context.Background(), "OBSCURECOIN", ts)
	assert.False(t, ok)
	assert.Equal(t, int64(1), calls.Load())

	missing := r.MissingPrices()
	require.Len(t, missing, 1)
	assert.Equal(t, "OBSCURECOIN@01-03-2024", missing[0])
}

func TestResolveMissingEURQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"market_data":{"current_price":{"usd":100}}}`)
	}))
	defer server.Close()

	r := testResolver(server.URL)
	_, ok := r.Resolve(context.Background(), "SOL", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
	assert.Contains(t, r.MissingPrices()[0], "SOL")
}

func TestCoingeckoIDFallsBackToLowercase(t *testing.T) {
	assert.Equal(t, "bitcoin", coingeckoID("btc"))
	assert.Equal(t, "solana", coingeckoID("SOL"))
	assert.Equal(t, "pepe", coingeckoID("PEPE"))
}
