package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
)

// matchWindow is how far apart in time the two halves of an internal
// transfer may be observed.
const matchWindow = 15 * time.Minute

// amountTolerance covers network fees deducted in transit: the received
// amount may be up to 2% short of the sent amount.
var amountTolerance = decimal.NewFromFloat(0.02)

var toleranceEpsilon = decimal.New(1, -8)

// sourcePriority orders transactions that share a timestamp. Exchange rows
// come first so a same-second withdrawal leaves a balance the chain deposit
// can be matched against.
var sourcePriority = map[string]int{
	models.SourceBinanceCSV: 0,
	models.SourceBTCChain:   1,
	models.SourceEVMChain:   2,
}

// Build merges transactions from every source into one canonical ledger:
// validated, deduplicated by id, deterministically ordered, and with
// internal transfers between the user's own venues flagged.
func Build(sources ...[]models.Transaction) ([]models.Transaction, error) {
	var merged []models.Transaction
	for _, txs := range sources {
		merged = append(merged, txs...)
	}

	seen := make(map[string]bool, len(merged))
	ledger := merged[:0]
	for _, tx := range merged {
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		if seen[tx.ID] {
			continue
		}
		seen[tx.ID] = true
		ledger = append(ledger, tx)
	}

	sort.SliceStable(ledger, func(i, j int) bool {
		a, b := ledger[i], ledger[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if sourcePriority[a.Source] != sourcePriority[b.Source] {
			return sourcePriority[a.Source] < sourcePriority[b.Source]
		}
		return a.ID < b.ID
	})

	flagInternalTransfers(ledger)
	return ledger, nil
}

// flagInternalTransfers pairs a withdrawal from one venue with a deposit of
// the same asset at another venue within the match window and a small amount
// tolerance. Both halves are flagged so the accounting engine treats them as
// the same money moving, not as a disposal plus a new acquisition.
func flagInternalTransfers(ledger []models.Transaction) {
	var candidates []int
	for i, tx := range ledger {
		if tx.Kind == models.KindDeposit || tx.Kind == models.KindWithdrawal {
			candidates = append(candidates, i)
		}
	}

	matched := make(map[int]bool)
	for ci, i := range candidates {
		if matched[i] {
			continue
		}
		tx := ledger[i]
		for _, j := range candidates[ci+1:] {
			if matched[j] {
				continue
			}
			other := ledger[j]
			if other.Timestamp.Sub(tx.Timestamp) > matchWindow {
				break
			}
			if tx.Asset != other.Asset || tx.Kind == other.Kind {
				continue
			}
			if !amountsWithinTolerance(tx.Amount, other.Amount) {
				continue
			}
			if !locationsMatch(tx.Location, other.Location) {
				continue
			}
			ledger[i].Internal = true
			ledger[j].Internal = true
			matched[i] = true
			matched[j] = true
			logger.L.Debug("Internal transfer detected",
				"asset", tx.Asset, "from", tx.Location, "to", other.Location,
				"amount", tx.Amount.String())
			break
		}
	}
}

func amountsWithinTolerance(a, b decimal.Decimal) bool {
	larger := decimal.Max(a, b)
	diff := a.Sub(b).Abs()
	threshold := larger.Mul(amountTolerance).Add(toleranceEpsilon)
	return diff.LessThanOrEqual(threshold)
}

// locationsMatch limits pairing to venues the same user plausibly controls:
// the exchange against any wallet, or two EVM wallets (bridging or moving
// funds between own addresses). Two bitcoin wallets never pair here, since
// on-chain BTC between own addresses already nets out per address.
func locationsMatch(a, b string) bool {
	if a == b {
		return false
	}
	binance := a == "binance_spot" || b == "binance_spot"
	if binance {
		return true
	}
	btcA := strings.HasPrefix(a, "bitcoin:")
	btcB := strings.HasPrefix(b, "bitcoin:")
	if btcA && btcB {
		return false
	}
	// remaining cross-location pairs are wallet-to-wallet moves
	return !btcA && !btcB
}
