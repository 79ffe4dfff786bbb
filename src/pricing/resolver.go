package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/username/cryptofolio/src/config"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
)

// symbolToID maps ticker symbols to CoinGecko asset ids. Unknown symbols
// fall back to the lowercased symbol, which works for many listings.
var symbolToID = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"BNB":   "binancecoin",
	"USDT":  "tether",
	"BUSD":  "binance-usd",
	"USDC":  "usd-coin",
	"ADA":   "cardano",
	"XRP":   "ripple",
	"DOT":   "polkadot",
	"SOL":   "solana",
	"MATIC": "matic-network",
	"AVAX":  "avalanche-2",
}

// Resolver answers "what was one unit of this asset worth in EUR at this
// moment". Implementations must degrade gracefully: a price that cannot be
// determined is reported as not found, never as an error.
type Resolver interface {
	Resolve(ctx context.Context, asset string, ts time.Time) (decimal.Decimal, bool)
	MissingPrices() []string
}

// CoinGeckoResolver resolves daily EUR prices from the CoinGecko history
// endpoint, with an in-memory day-level cache and client-side rate limiting.
type CoinGeckoResolver struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	cache   *cache.Cache

	mu      sync.Mutex
	missing map[string]bool
}

func NewCoinGeckoResolver(cfg *config.AppConfig) *CoinGeckoResolver {
	return &CoinGeckoResolver{
		client:  &http.Client{Timeout: cfg.PriceRequestTimeout},
		baseURL: strings.TrimRight(cfg.PriceAPIBaseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(cfg.PriceRequestsPerSecond), 1),
		cache:   cache.New(cache.NoExpiration, cache.NoExpiration),
		missing: make(map[string]bool),
	}
}

// dateKey is the CoinGecko history date format.
func dateKey(ts time.Time) string {
	return ts.UTC().Format("02-01-2006")
}

func coingeckoID(symbol string) string {
	upper := strings.ToUpper(symbol)
	if id, ok := symbolToID[upper]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// Resolve returns the EUR price of one unit of the asset on the day of ts.
// The reporting currency is always 1. Failed lookups are cached too, so one
// delisted asset does not trigger a request per transaction.
func (r *CoinGeckoResolver) Resolve(ctx context.Context, asset string, ts time.Time) (decimal.Decimal, bool) {
	upper := strings.ToUpper(asset)
	if upper == models.ReportingCurrency {
		return decimal.NewFromInt(1), true
	}

	key := upper + "|" + dateKey(ts)
	if cached, found := r.cache.Get(key); found {
		price, ok := cached.(decimal.Decimal)
		if !ok {
			return decimal.Decimal{}, false
		}
		return price, true
	}

	price, err := r.fetch(ctx, coingeckoID(upper), dateKey(ts))
	if err != nil {
		logger.L.Warn("Price lookup failed", "asset", upper, "date", dateKey(ts), "error", err)
		r.cache.Set(key, false, cache.NoExpiration)
		r.markMissing(upper, ts)
		return decimal.Decimal{}, false
	}

	r.cache.Set(key, price, cache.NoExpiration)
	return price, true
}

func (r *CoinGeckoResolver) fetch(ctx context.Context, assetID, date string) (decimal.Decimal, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	endpoint := fmt.Sprintf("%s/coins/%s/history?%s", r.baseURL, url.PathEscape(assetID), url.Values{
		"date":         {date},
		"localization": {"false"},
	}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to reach pricing service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("pricing service returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		MarketData struct {
			CurrentPrice map[string]json.Number `json:"current_price"`
		} `json:"market_data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("pricing response not understood: %w", err)
	}
	raw, ok := payload.MarketData.CurrentPrice["eur"]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no EUR price for %s on %s", assetID, date)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid EUR price %q for %s", raw.String(), assetID)
	}
	return price, nil
}

func (r *CoinGeckoResolver) markMissing(asset string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing[asset+"@"+dateKey(ts)] = true
}

// MissingPrices lists every asset/day combination that could not be priced,
// sorted for stable output.
func (r *CoinGeckoResolver) MissingPrices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.missing))
	for key := range r.missing {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
