package binance

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/src/models"
)

// Expected headers of the Binance spot trade-history export.
var tradeHeaders = []string{"Date(UTC)", "Pair", "Side", "Price", "Executed", "Amount", "Fee", "Fee Asset"}

// Expected headers of the Binance account-statement ("movements") export.
var movementHeaders = []string{"User_ID", "UTC_Time", "Account", "Operation", "Coin", "Change", "Remark"}

// Quote assets tried against concatenated pair symbols, longest suffix first.
var quoteAssets = []string{"USDT", "BUSD", "USDC", "EUR", "USD", "GBP", "TRY", "BNB", "BTC", "ETH"}

var fiatAssets = map[string]bool{
	"EUR": true, "USD": true, "USDT": true, "BUSD": true,
	"USDC": true, "GBP": true, "TRY": true,
}

const (
	unknownAsset = "UNKNOWN"
	location     = "binance_spot"
)

type BinanceParser struct{}

func NewParser() *BinanceParser {
	return &BinanceParser{}
}

// Parse detects which of the two supported Binance export formats the file
// is in and normalizes every row. Any row failing validation aborts the
// whole parse; there is no partial result.
func (p *BinanceParser) Parse(file io.Reader) ([]models.Transaction, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	headerIdx := make(map[string]int, len(header))
	for i, h := range header {
		headerIdx[strings.TrimSpace(h)] = i
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV records: %w", err)
	}

	switch {
	case hasHeaders(headerIdx, tradeHeaders):
		return parseTradeHistory(headerIdx, records)
	case hasHeaders(headerIdx, movementHeaders):
		return parseAccountStatement(headerIdx, records)
	default:
		return nil, fmt.Errorf("CSV headers do not match supported Binance export formats")
	}
}

func hasHeaders(headerIdx map[string]int, required []string) bool {
	for _, h := range required {
		if _, ok := headerIdx[h]; !ok {
			return false
		}
	}
	return true
}

func field(headerIdx map[string]int, record []string, name string) string {
	idx, ok := headerIdx[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// splitPair accepts BASE/QUOTE or a concatenated symbol. Concatenated
// symbols are split by longest-suffix match against the known quote assets.
func splitPair(rawPair string) (base, quote string, err error) {
	if strings.Contains(rawPair, "/") {
		parts := strings.SplitN(rawPair, "/", 2)
		base = strings.ToUpper(strings.TrimSpace(parts[0]))
		quote = strings.ToUpper(strings.TrimSpace(parts[1]))
		if base == "" || quote == "" {
			return "", "", fmt.Errorf("could not parse trading pair: %q", rawPair)
		}
		return base, quote, nil
	}

	token := strings.ToUpper(strings.TrimSpace(rawPair))
	best := ""
	for _, suffix := range quoteAssets {
		if strings.HasSuffix(token, suffix) && len(token) > len(suffix) && len(suffix) > len(best) {
			best = suffix
		}
	}
	if best == "" {
		return "", "", fmt.Errorf("could not parse trading pair: %q", rawPair)
	}
	return token[:len(token)-len(best)], best, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", raw)
}

func parseTradeHistory(headerIdx map[string]int, records [][]string) ([]models.Transaction, error) {
	var txs []models.Transaction
	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		ts, err := parseTimestamp(field(headerIdx, record, "Date(UTC)"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		side := strings.ToUpper(field(headerIdx, record, "Side"))
		if side != "BUY" && side != "SELL" {
			return nil, fmt.Errorf("row %d: invalid side %q", i+1, field(headerIdx, record, "Side"))
		}

		base, quote, err := splitPair(field(headerIdx, record, "Pair"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		price, err := decimal.NewFromString(field(headerIdx, record, "Price"))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid price %q", i+1, field(headerIdx, record, "Price"))
		}
		executed, err := decimal.NewFromString(field(headerIdx, record, "Executed"))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid executed quantity %q", i+1, field(headerIdx, record, "Executed"))
		}
		if !executed.IsPositive() {
			return nil, fmt.Errorf("row %d: executed quantity must be positive", i+1)
		}

		// Quote-currency total; derived from Price x Executed when blank.
		quoteAmount := price.Mul(executed)
		if rawAmount := field(headerIdx, record, "Amount"); rawAmount != "" {
			quoteAmount, err = decimal.NewFromString(rawAmount)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid amount %q", i+1, rawAmount)
			}
		}

		// Absent fees must not block ingestion.
		fee := decimal.Zero
		if rawFee := field(headerIdx, record, "Fee"); rawFee != "" {
			fee, err = decimal.NewFromString(rawFee)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid fee %q", i+1, rawFee)
			}
		}
		feeAsset := strings.ToUpper(field(headerIdx, record, "Fee Asset"))
		if feeAsset == "" {
			feeAsset = unknownAsset
		}

		raw, _ := json.Marshal(record)
		id := rowID("trade", i, record)
		txs = append(txs, tradeLegs(tradeSpec{
			id: id, timestamp: ts, base: base, quote: quote, side: side,
			baseAmount: executed, quoteAmount: quoteAmount,
			fee: fee, feeAsset: feeAsset, raw: raw,
		})...)
	}
	return txs, nil
}

type tradeSpec struct {
	id          string
	timestamp   time.Time
	base, quote string
	side        string
	baseAmount  decimal.Decimal
	quoteAmount decimal.Decimal
	fee         decimal.Decimal
	feeAsset    string
	raw         json.RawMessage
}

// tradeLegs turns one trade into canonical transactions: the base-asset leg,
// plus the quote-asset counter-leg when the quote is not the reporting
// currency, so crypto-to-crypto trades conserve quantities on both sides.
func tradeLegs(spec tradeSpec) []models.Transaction {
	kind := models.KindBuy
	counterKind := models.KindSell
	if spec.side == "SELL" {
		kind = models.KindSell
		counterKind = models.KindBuy
	}

	primary := models.Transaction{
		ID:        spec.id,
		Timestamp: spec.timestamp,
		Asset:     spec.base,
		Kind:      kind,
		Amount:    spec.baseAmount,
		Fee:       spec.fee,
		FeeAsset:  spec.feeAsset,
		Location:  location,
		Source:    models.SourceBinanceCSV,
		Raw:       spec.raw,
	}
	if spec.quote == models.ReportingCurrency && spec.baseAmount.IsPositive() {
		primary.Price = decimal.NewNullDecimal(spec.quoteAmount.Div(spec.baseAmount))
	}

	legs := []models.Transaction{primary}
	if spec.quote != models.ReportingCurrency && spec.quoteAmount.IsPositive() {
		legs = append(legs, models.Transaction{
			ID:        spec.id + "-q",
			Timestamp: spec.timestamp,
			Asset:     spec.quote,
			Kind:      counterKind,
			Amount:    spec.quoteAmount,
			FeeAsset:  unknownAsset,
			Location:  location,
			Source:    models.SourceBinanceCSV,
			Raw:       spec.raw,
		})
	}
	return legs
}
