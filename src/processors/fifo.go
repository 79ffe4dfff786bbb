package processors

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
	"github.com/username/cryptofolio/src/pricing"
)

// Engine runs first-in-first-out lot accounting over a canonical ledger.
// Acquisitions open lots, disposals consume the oldest lots first, and every
// consumed lot yields one realized-gain record. The engine never goes
// negative on inventory: disposing more than is held opens a synthetic
// zero-cost lot for the shortfall, flagged on both the lot and the gain.
type Engine struct {
	resolver pricing.Resolver
	lots     map[string][]models.Lot
	gains    []models.RealizedGain
}

func NewEngine(resolver pricing.Resolver) *Engine {
	return &Engine{
		resolver: resolver,
		lots:     make(map[string][]models.Lot),
	}
}

// Process consumes the ledger in order. The ledger must already be sorted;
// internal transfers are ignored since they move money between the user's
// own venues.
func (e *Engine) Process(ctx context.Context, ledger []models.Transaction) {
	for i := range ledger {
		tx := &ledger[i]
		if tx.Internal {
			continue
		}
		switch {
		case tx.Opens():
			e.open(ctx, tx)
		case tx.Closes():
			e.close(ctx, tx)
		}
	}
}

// OpenLots returns the remaining inventory per asset, oldest first, with
// emptied assets removed.
func (e *Engine) OpenLots() map[string][]models.Lot {
	out := make(map[string][]models.Lot, len(e.lots))
	for asset, lots := range e.lots {
		if len(lots) > 0 {
			out[asset] = lots
		}
	}
	return out
}

func (e *Engine) RealizedGains() []models.RealizedGain {
	return e.gains
}

// unitPriceEUR prefers the price captured at normalization time and falls
// back to the historical resolver. A price that cannot be determined is
// zero; the resolver records the gap.
func (e *Engine) unitPriceEUR(ctx context.Context, asset string, tx *models.Transaction) decimal.Decimal {
	if tx.Price.Valid {
		return tx.Price.Decimal
	}
	if price, ok := e.resolver.Resolve(ctx, asset, tx.Timestamp); ok {
		return price
	}
	return decimal.Zero
}

func (e *Engine) feeEUR(ctx context.Context, tx *models.Transaction) decimal.Decimal {
	if !tx.Fee.IsPositive() {
		return decimal.Zero
	}
	feeAsset := strings.ToUpper(tx.FeeAsset)
	if feeAsset == models.ReportingCurrency {
		return tx.Fee
	}
	price, ok := e.resolver.Resolve(ctx, feeAsset, tx.Timestamp)
	if !ok {
		return decimal.Zero
	}
	return tx.Fee.Mul(price)
}

// open creates one lot. The acquisition fee is part of the cost basis, so
// the lot's unit cost is (amount x price + fee) / amount.
func (e *Engine) open(ctx context.Context, tx *models.Transaction) {
	unit := e.unitPriceEUR(ctx, tx.Asset, tx)
	costTotal := tx.Amount.Mul(unit).Add(e.feeEUR(ctx, tx))
	e.lots[tx.Asset] = append(e.lots[tx.Asset], models.Lot{
		Asset:    tx.Asset,
		OpenedAt: tx.Timestamp,
		TxID:     tx.ID,
		Quantity: tx.Amount,
		UnitCost: costTotal.Div(tx.Amount),
	})
}

// close disposes tx.Amount of the asset. Proceeds are the EUR value of the
// disposal net of fees, spread pro rata over the consumed lots. Fee-kind
// entries (gas, commissions paid in kind) are disposals at zero proceeds.
func (e *Engine) close(ctx context.Context, tx *models.Transaction) {
	proceedsNet := decimal.Zero
	if tx.Kind != models.KindFee {
		unit := e.unitPriceEUR(ctx, tx.Asset, tx)
		proceedsNet = tx.Amount.Mul(unit).Sub(e.feeEUR(ctx, tx))
	}

	lots := e.lots[tx.Asset]
	remaining := tx.Amount

	for remaining.IsPositive() && len(lots) > 0 {
		lot := &lots[0]
		take := decimal.Min(remaining, lot.Quantity)
		e.recordGain(tx, *lot, take, proceedsNet)
		lot.Quantity = lot.Quantity.Sub(take)
		remaining = remaining.Sub(take)
		if !lot.Quantity.IsPositive() {
			lots = lots[1:]
		}
	}
	e.lots[tx.Asset] = lots

	if remaining.IsPositive() {
		logger.L.Warn("Disposal exceeds inventory, opening synthetic lot",
			"asset", tx.Asset, "transaction", tx.ID, "shortfall", remaining.String())
		synthetic := models.Lot{
			Asset:     tx.Asset,
			OpenedAt:  tx.Timestamp,
			TxID:      tx.ID,
			Quantity:  remaining,
			UnitCost:  decimal.Zero,
			Synthetic: true,
		}
		e.recordGain(tx, synthetic, remaining, proceedsNet)
	}
}

// recordGain emits the realized gain for consuming `take` units of one lot.
// The disposal's net proceeds are allocated by the consumed share of the
// total disposed quantity.
func (e *Engine) recordGain(tx *models.Transaction, lot models.Lot, take, proceedsNet decimal.Decimal) {
	proceeds := decimal.Zero
	if tx.Amount.IsPositive() {
		proceeds = proceedsNet.Mul(take).Div(tx.Amount)
	}
	cost := take.Mul(lot.UnitCost)
	e.gains = append(e.gains, models.RealizedGain{
		Asset:        tx.Asset,
		Quantity:     take,
		ProceedsEUR:  proceeds,
		CostBasisEUR: cost,
		GainEUR:      proceeds.Sub(cost),
		ClosedAt:     tx.Timestamp,
		ClosingTxID:  tx.ID,
		LotTxID:      lot.TxID,
		Synthetic:    lot.Synthetic,
	})
}

// TotalQuantity sums the remaining quantity across an asset's open lots.
func TotalQuantity(lots []models.Lot) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.Quantity)
	}
	return total
}

// SortedAssets lists the assets present in an open-lot map in stable order.
func SortedAssets[V any](byAsset map[string][]V) []string {
	assets := make([]string, 0, len(byAsset))
	for asset := range byAsset {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}
