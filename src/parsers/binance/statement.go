package binance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/src/models"
)

// Operations recorded as plain cash flows rather than halves of a trade.
var cashOperations = map[string]bool{
	"deposit":        true,
	"withdraw":       true,
	"airdrop assets": true,
}

type movementEntry struct {
	timestamp time.Time
	order     int
	operation string
	coin      string
	change    decimal.Decimal
	raw       []string
}

type movementGroup struct {
	key     string
	entries []movementEntry
}

// parseAccountStatement normalizes the account-statement export, where one
// trade appears as several single-asset balance-change rows. Rows sharing a
// remark (or, lacking one, a timestamp) form a group; each group is matched
// positive-against-negative into trades, with fee rows spread pro rata.
func parseAccountStatement(headerIdx map[string]int, records [][]string) ([]models.Transaction, error) {
	groups, cashTxs, err := groupMovements(headerIdx, records)
	if err != nil {
		return nil, err
	}

	var txs []models.Transaction
	txs = append(txs, cashTxs...)

	tradeCount := 0
	for _, entries := range mergeComplementaryGroups(groups) {
		trades, err := buildTradesFromGroup(entries)
		if err != nil {
			return nil, err
		}
		for _, trade := range trades {
			txs = append(txs, tradeLegs(trade)...)
			tradeCount++
		}
	}

	if tradeCount == 0 && len(cashTxs) == 0 {
		return nil, fmt.Errorf("no valid operations found in account statement CSV")
	}
	return txs, nil
}

func groupMovements(headerIdx map[string]int, records [][]string) ([]movementGroup, []models.Transaction, error) {
	var groups []movementGroup
	var cashTxs []models.Transaction
	order := 0

	for _, record := range records {
		tsRaw := field(headerIdx, record, "UTC_Time")
		if tsRaw == "" {
			continue
		}
		ts, err := time.Parse("2006-01-02 15:04:05", tsRaw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid timestamp: %q", tsRaw)
		}
		ts = ts.UTC()

		operation := field(headerIdx, record, "Operation")
		coin := strings.ToUpper(field(headerIdx, record, "Coin"))
		changeRaw := field(headerIdx, record, "Change")
		if coin == "" || changeRaw == "" {
			continue
		}
		change, err := decimal.NewFromString(changeRaw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid amount for %s at %s", coin, tsRaw)
		}

		if cashOperations[normalizeOperation(operation)] {
			kind := models.KindDeposit
			if change.IsNegative() {
				kind = models.KindWithdrawal
			}
			raw, _ := json.Marshal(record)
			cashTxs = append(cashTxs, models.Transaction{
				ID:        rowID("movement", order, record),
				Timestamp: ts,
				Asset:     coin,
				Kind:      kind,
				Amount:    change.Abs(),
				FeeAsset:  unknownAsset,
				Location:  location,
				Source:    models.SourceBinanceCSV,
				Raw:       raw,
			})
			order++
			continue
		}

		entry := movementEntry{
			timestamp: ts,
			order:     order,
			operation: operation,
			coin:      coin,
			change:    change,
			raw:       record,
		}
		order++

		groupID := movementGroupID(tsRaw, field(headerIdx, record, "Remark"))
		if len(groups) == 0 || groups[len(groups)-1].key != groupID {
			groups = append(groups, movementGroup{key: groupID})
		}
		groups[len(groups)-1].entries = append(groups[len(groups)-1].entries, entry)
	}

	return groups, cashTxs, nil
}

func movementGroupID(timestamp, remark string) string {
	if remark != "" {
		return "remark::" + remark
	}
	return "time::" + timestamp
}

// mergeComplementaryGroups joins adjacent single-sided groups that carry the
// same operation set but opposite signs; some exports split the two halves of
// a conversion into consecutive remark groups.
func mergeComplementaryGroups(groups []movementGroup) [][]movementEntry {
	var merged [][]movementEntry
	idx := 0
	for idx < len(groups) {
		group := groups[idx]
		if isFeeOnly(group.entries) {
			idx++
			continue
		}

		if hasSingleSide(group.entries) {
			if partner := findPartnerGroup(groups, idx); partner >= 0 {
				combined := append(append([]movementEntry{}, group.entries...), groups[partner].entries...)
				sortEntriesByOrder(combined)
				merged = append(merged, combined)
				idx = partner + 1
				continue
			}
		}

		entries := append([]movementEntry{}, group.entries...)
		sortEntriesByOrder(entries)
		merged = append(merged, entries)
		idx++
	}
	return merged
}

func findPartnerGroup(groups []movementGroup, current int) int {
	signature := operationSignature(groups[current].entries)
	if signature == "" {
		return -1
	}
	currentPositive := hasPositiveEntries(groups[current].entries)

	for next := current + 1; next < len(groups); next++ {
		candidate := groups[next]
		if isFeeOnly(candidate.entries) {
			continue
		}
		if operationSignature(candidate.entries) == signature &&
			hasPositiveEntries(candidate.entries) != currentPositive &&
			hasSingleSide(candidate.entries) {
			return next
		}
		break
	}
	return -1
}

// operationSignature is the sorted, deduplicated set of non-fee operation
// names, serialized so two groups can be compared for equality.
func operationSignature(entries []movementEntry) string {
	seen := map[string]bool{}
	for _, entry := range entries {
		if isFeeOperation(entry.operation) {
			continue
		}
		seen[normalizeOperation(entry.operation)] = true
	}
	if len(seen) == 0 {
		return ""
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func normalizeOperation(operation string) string {
	return strings.ToLower(strings.TrimSpace(operation))
}

func isFeeOperation(operation string) bool {
	op := normalizeOperation(operation)
	return strings.Contains(op, "fee") || strings.Contains(op, "commission")
}

func isFeeOnly(entries []movementEntry) bool {
	for _, entry := range entries {
		if !isFeeOperation(entry.operation) {
			return false
		}
	}
	return true
}

func hasPositiveEntries(entries []movementEntry) bool {
	for _, entry := range entries {
		if entry.change.IsPositive() && !isFeeOperation(entry.operation) {
			return true
		}
	}
	return false
}

func hasNegativeEntries(entries []movementEntry) bool {
	for _, entry := range entries {
		if entry.change.IsNegative() && !isFeeOperation(entry.operation) {
			return true
		}
	}
	return false
}

func hasSingleSide(entries []movementEntry) bool {
	positive := hasPositiveEntries(entries)
	negative := hasNegativeEntries(entries)
	return (positive || negative) && positive != negative
}

func sortEntriesByOrder(entries []movementEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
}

// buildTradesFromGroup pairs positive rows with negative rows in file order.
// Fee rows never pair; their totals are spread across the trades that touch
// the fee asset, weighted by each trade's amount in that asset.
func buildTradesFromGroup(entries []movementEntry) ([]tradeSpec, error) {
	var positive, negative []movementEntry
	fees := map[string]decimal.Decimal{}

	for _, entry := range entries {
		if isFeeOperation(entry.operation) {
			fees[entry.coin] = fees[entry.coin].Add(entry.change.Abs())
			continue
		}
		switch {
		case entry.change.IsPositive():
			positive = append(positive, entry)
		case entry.change.IsNegative():
			negative = append(negative, entry)
		}
	}

	if len(positive) == 0 || len(negative) == 0 {
		return nil, nil
	}
	if len(positive) != len(negative) {
		return nil, fmt.Errorf("unbalanced movement group at %s", positive[0].timestamp.Format(time.RFC3339))
	}

	trades := make([]tradeSpec, 0, len(positive))
	for i := range positive {
		trades = append(trades, buildTradeFromEntries(positive[i], negative[i]))
	}

	if len(fees) > 0 {
		if err := applyFees(trades, fees); err != nil {
			return nil, err
		}
	}
	return trades, nil
}

// buildTradeFromEntries decides trade direction by which side is fiat: fiat
// received for crypto is a SELL of the crypto, anything else is a BUY of the
// asset received.
func buildTradeFromEntries(pos, neg movementEntry) tradeSpec {
	negAmount := neg.change.Abs()

	spec := tradeSpec{
		id:        rowID("statement", pos.order, append(append([]string{}, pos.raw...), neg.raw...)),
		timestamp: pos.timestamp,
		fee:       decimal.Zero,
		feeAsset:  unknownAsset,
	}
	spec.raw, _ = json.Marshal([][]string{pos.raw, neg.raw})

	if isFiat(pos.coin) && !isFiat(neg.coin) {
		spec.side = "SELL"
		spec.base = neg.coin
		spec.baseAmount = negAmount
		spec.quote = pos.coin
		spec.quoteAmount = pos.change
	} else {
		spec.side = "BUY"
		spec.base = pos.coin
		spec.baseAmount = pos.change
		spec.quote = neg.coin
		spec.quoteAmount = negAmount
	}
	return spec
}

func applyFees(trades []tradeSpec, fees map[string]decimal.Decimal) error {
	assets := make([]string, 0, len(fees))
	for asset := range fees {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		totalFee := fees[asset]

		type candidate struct {
			index  int
			weight decimal.Decimal
		}
		var candidates []candidate
		weightSum := decimal.Zero
		for i := range trades {
			switch asset {
			case trades[i].base:
				candidates = append(candidates, candidate{i, trades[i].baseAmount})
				weightSum = weightSum.Add(trades[i].baseAmount)
			case trades[i].quote:
				candidates = append(candidates, candidate{i, trades[i].quoteAmount})
				weightSum = weightSum.Add(trades[i].quoteAmount)
			}
		}
		if weightSum.IsZero() {
			continue
		}

		for _, c := range candidates {
			share := totalFee.Mul(c.weight).Div(weightSum)
			if share.IsZero() {
				continue
			}
			if trades[c.index].feeAsset != unknownAsset && trades[c.index].feeAsset != asset {
				return fmt.Errorf("multiple fee assets for trade at %s", trades[c.index].timestamp.Format(time.RFC3339))
			}
			trades[c.index].feeAsset = asset
			trades[c.index].fee = trades[c.index].fee.Add(share)
		}
	}
	return nil
}

func isFiat(symbol string) bool {
	return fiatAssets[strings.ToUpper(symbol)]
}
