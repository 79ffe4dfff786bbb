package processors

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/src/models"
	"github.com/username/cryptofolio/src/pricing"
	"github.com/username/cryptofolio/src/utils"
)

// Aggregator derives the dashboard views from the accounting engine's
// output. It never recomputes lots or gains, only rolls them up.
type Aggregator struct {
	resolver pricing.Resolver
}

func NewAggregator(resolver pricing.Resolver) *Aggregator {
	return &Aggregator{resolver: resolver}
}

// BuildHoldings values the open inventory per asset at the given moment.
// Assets whose price cannot be resolved contribute zero market value and are
// marked unavailable rather than failing the build.
func (a *Aggregator) BuildHoldings(ctx context.Context, openLots map[string][]models.Lot, asOf time.Time) []models.Holding {
	holdings := make([]models.Holding, 0, len(openLots))
	for _, asset := range SortedAssets(openLots) {
		lots := openLots[asset]
		quantity := TotalQuantity(lots)
		if !quantity.IsPositive() {
			continue
		}
		costBasis := decimal.Zero
		for _, lot := range lots {
			costBasis = costBasis.Add(lot.Quantity.Mul(lot.UnitCost))
		}

		holding := models.Holding{
			Asset:          asset,
			Quantity:       quantity,
			CostBasisEUR:   costBasis,
			AvgUnitCostEUR: costBasis.Div(quantity),
			PriceStatus:    "unavailable",
		}
		if price, ok := a.resolver.Resolve(ctx, asset, asOf); ok {
			holding.MarketValueEUR = quantity.Mul(price)
			holding.PriceStatus = "ok"
		}
		holdings = append(holdings, holding)
	}
	return holdings
}

// BuildSummary rolls the whole session up into the headline numbers.
// Invested is the cost of every acquisition (consumed plus still open),
// withdrawn is the proceeds of every disposal.
func (a *Aggregator) BuildSummary(ctx context.Context, ledger []models.Transaction, gains []models.RealizedGain, holdings []models.Holding) models.Summary {
	var s models.Summary

	for _, gain := range gains {
		s.TotalWithdrawnEUR = s.TotalWithdrawnEUR.Add(gain.ProceedsEUR)
		s.TotalInvestedEUR = s.TotalInvestedEUR.Add(gain.CostBasisEUR)
		s.RealizedGainEUR = s.RealizedGainEUR.Add(gain.GainEUR)
	}
	for _, holding := range holdings {
		s.TotalInvestedEUR = s.TotalInvestedEUR.Add(holding.CostBasisEUR)
		s.CurrentBalanceEUR = s.CurrentBalanceEUR.Add(holding.MarketValueEUR)
		if holding.PriceStatus == "ok" {
			s.UnrealizedGainEUR = s.UnrealizedGainEUR.Add(holding.MarketValueEUR.Sub(holding.CostBasisEUR))
		}
	}
	for i := range ledger {
		tx := &ledger[i]
		if tx.Internal {
			continue
		}
		s.TotalFeesEUR = s.TotalFeesEUR.Add(a.transactionFeeEUR(ctx, tx))
	}
	return s
}

// transactionFeeEUR values a transaction's cost in fees: the explicit fee
// field, plus the disposed amount itself for fee-kind entries (gas paid in
// the asset).
func (a *Aggregator) transactionFeeEUR(ctx context.Context, tx *models.Transaction) decimal.Decimal {
	total := decimal.Zero
	if tx.Fee.IsPositive() {
		total = total.Add(a.valueEUR(ctx, strings.ToUpper(tx.FeeAsset), tx.Fee, tx.Timestamp))
	}
	if tx.Kind == models.KindFee {
		total = total.Add(a.valueEUR(ctx, tx.Asset, tx.Amount, tx.Timestamp))
	}
	return total
}

func (a *Aggregator) valueEUR(ctx context.Context, asset string, amount decimal.Decimal, ts time.Time) decimal.Decimal {
	if asset == models.ReportingCurrency {
		return amount
	}
	price, ok := a.resolver.Resolve(ctx, asset, ts)
	if !ok {
		return decimal.Zero
	}
	return amount.Mul(price)
}

// GainsByPeriod buckets realized gains by closing date truncated to the
// requested granularity ("day", "month" or "year"), oldest bucket first.
func GainsByPeriod(gains []models.RealizedGain, groupBy string) []models.PeriodGains {
	buckets := make(map[string]*models.PeriodGains)
	for _, gain := range gains {
		period := utils.TruncatePeriod(gain.ClosedAt, groupBy)
		bucket, ok := buckets[period]
		if !ok {
			bucket = &models.PeriodGains{Period: period}
			buckets[period] = bucket
		}
		bucket.NetGainEUR = bucket.NetGainEUR.Add(gain.GainEUR)
		bucket.Entries = append(bucket.Entries, gain)
	}

	out := make([]models.PeriodGains, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// BuildSnapshots walks the ledger and values the whole portfolio at every
// distinct transaction timestamp, then downsamples long histories to at most
// maxPoints while always keeping the first and last point.
func (a *Aggregator) BuildSnapshots(ctx context.Context, ledger []models.Transaction, maxPoints int) []models.PortfolioSnapshot {
	balances := make(map[string]decimal.Decimal)
	deposited := decimal.Zero
	withdrawn := decimal.Zero

	var snapshots []models.PortfolioSnapshot
	for i := range ledger {
		tx := &ledger[i]
		switch {
		case tx.Opens():
			balances[tx.Asset] = balances[tx.Asset].Add(tx.Amount)
		case tx.Closes():
			balances[tx.Asset] = balances[tx.Asset].Sub(tx.Amount)
		}
		if !tx.Internal {
			switch tx.Kind {
			case models.KindDeposit:
				deposited = deposited.Add(a.valueEUR(ctx, tx.Asset, tx.Amount, tx.Timestamp))
			case models.KindWithdrawal:
				withdrawn = withdrawn.Add(a.valueEUR(ctx, tx.Asset, tx.Amount, tx.Timestamp))
			}
		}

		// collapse same-instant entries into one snapshot
		if i+1 < len(ledger) && ledger[i+1].Timestamp.Equal(tx.Timestamp) {
			continue
		}

		snapshot := models.PortfolioSnapshot{
			Timestamp:    tx.Timestamp,
			AssetValues:  make(map[string]float64),
			DepositedEUR: decimalToFloat(deposited),
			WithdrawnEUR: decimalToFloat(withdrawn),
		}
		total := decimal.Zero
		for asset, quantity := range balances {
			if !quantity.IsPositive() {
				continue
			}
			value := a.valueEUR(ctx, asset, quantity, tx.Timestamp)
			snapshot.AssetValues[asset] = decimalToFloat(value)
			total = total.Add(value)
		}
		snapshot.TotalValueEUR = decimalToFloat(total)
		snapshots = append(snapshots, snapshot)
	}

	return downsample(snapshots, maxPoints)
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func downsample(snapshots []models.PortfolioSnapshot, maxPoints int) []models.PortfolioSnapshot {
	if maxPoints <= 0 || len(snapshots) <= maxPoints {
		return snapshots
	}
	out := make([]models.PortfolioSnapshot, 0, maxPoints)
	step := float64(len(snapshots)-1) / float64(maxPoints-1)
	last := -1
	for i := 0; i < maxPoints; i++ {
		idx := int(float64(i)*step + 0.5)
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		if idx == last {
			continue
		}
		out = append(out, snapshots[idx])
		last = idx
	}
	return out
}

// BuildAssetBreakdown summarizes each asset's ledger activity: quantities
// in and out, fees paid in that asset, and the full operation list.
func BuildAssetBreakdown(ledger []models.Transaction) []models.AssetBreakdown {
	byAsset := make(map[string]*models.AssetBreakdown)
	get := func(asset string) *models.AssetBreakdown {
		b, ok := byAsset[asset]
		if !ok {
			b = &models.AssetBreakdown{Asset: asset}
			byAsset[asset] = b
		}
		return b
	}

	for _, tx := range ledger {
		b := get(tx.Asset)
		b.Operations = append(b.Operations, tx)
		switch {
		case tx.Opens():
			b.TotalIn = b.TotalIn.Add(tx.Amount)
		case tx.Closes():
			b.TotalOut = b.TotalOut.Add(tx.Amount)
		}
		if tx.Fee.IsPositive() && strings.EqualFold(tx.FeeAsset, tx.Asset) {
			b.FeesPaid = b.FeesPaid.Add(tx.Fee)
		}
		if tx.Kind == models.KindFee {
			b.FeesPaid = b.FeesPaid.Add(tx.Amount)
		}
	}

	assets := make([]string, 0, len(byAsset))
	for asset := range byAsset {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	out := make([]models.AssetBreakdown, 0, len(assets))
	for _, asset := range assets {
		b := byAsset[asset]
		b.NetQuantity = b.TotalIn.Sub(b.TotalOut)
		out = append(out, *b)
	}
	return out
}
