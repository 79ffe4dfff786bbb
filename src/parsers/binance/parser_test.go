package binance

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/src/models"
)

const tradeHeaderLine = "Date(UTC),Pair,Side,Price,Executed,Amount,Fee,Fee Asset\n"
const statementHeaderLine = "User_ID,UTC_Time,Account,Operation,Coin,Change,Remark\n"

func parseCSV(t *testing.T, content string) []models.Transaction {
	t.Helper()
	txs, err := NewParser().Parse(strings.NewReader(content))
	require.NoError(t, err)
	return txs
}

func TestParseRejectsUnknownHeaders(t *testing.T) {
	_, err := NewParser().Parse(strings.NewReader("a,b,c\n1,2,3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not match supported Binance export formats")
}

func TestParseTradeHistoryEURQuote(t *testing.T) {
	csv := tradeHeaderLine +
		"2024-03-01 10:00:00,BTCEUR,BUY,20000,1,20000,10,EUR\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "BTC", tx.Asset)
	assert.Equal(t, models.KindBuy, tx.Kind)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(1)))
	require.True(t, tx.Price.Valid)
	assert.True(t, tx.Price.Decimal.Equal(decimal.NewFromInt(20000)))
	assert.True(t, tx.Fee.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "EUR", tx.FeeAsset)
	assert.Equal(t, models.SourceBinanceCSV, tx.Source)
	assert.NotEmpty(t, tx.ID)
}

func TestParseTradeHistoryCryptoQuoteEmitsCounterLeg(t *testing.T) {
	csv := tradeHeaderLine +
		"2024-03-01 10:00:00,ETHBTC,BUY,0.05,2,0.1,0,\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 2)

	eth, btc := txs[0], txs[1]
	assert.Equal(t, "ETH", eth.Asset)
	assert.Equal(t, models.KindBuy, eth.Kind)
	assert.False(t, eth.Price.Valid, "non-EUR quote carries no EUR price")

	assert.Equal(t, "BTC", btc.Asset)
	assert.Equal(t, models.KindSell, btc.Kind)
	assert.True(t, btc.Amount.Equal(decimal.NewFromFloat(0.1)))
	assert.Equal(t, eth.ID+"-q", btc.ID)
	assert.Equal(t, eth.Timestamp, btc.Timestamp)
}

func TestParseTradeHistoryDerivesAmountWhenBlank(t *testing.T) {
	csv := tradeHeaderLine +
		"2024-03-01 10:00:00,BTCEUR,SELL,25000,0.4,,0,\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, models.KindSell, tx.Kind)
	require.True(t, tx.Price.Valid)
	assert.True(t, tx.Price.Decimal.Equal(decimal.NewFromInt(25000)))
	assert.True(t, tx.Fee.IsZero())
	assert.Equal(t, "UNKNOWN", tx.FeeAsset)
}

func TestParseTradeHistoryInvalidSideAbortsParse(t *testing.T) {
	csv := tradeHeaderLine +
		"2024-03-01 10:00:00,BTCEUR,BUY,20000,1,20000,0,\n" +
		"2024-03-02 10:00:00,BTCEUR,HOLD,20000,1,20000,0,\n"
	_, err := NewParser().Parse(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
	assert.Contains(t, err.Error(), "invalid side")
}

func TestParseTradeHistoryMalformedAmountAbortsParse(t *testing.T) {
	csv := tradeHeaderLine +
		"2024-03-01 10:00:00,BTCEUR,BUY,not-a-number,1,,0,\n"
	_, err := NewParser().Parse(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid price")
}

func TestParseTradeHistoryIDsAreStable(t *testing.T) {
	csv := tradeHeaderLine +
		"2024-03-01 10:00:00,BTCEUR,BUY,20000,1,20000,10,EUR\n"
	first := parseCSV(t, csv)
	second := parseCSV(t, csv)
	require.Len(t, first, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestSplitPair(t *testing.T) {
	tests := []struct {
		raw, base, quote string
	}{
		{"BTC/EUR", "BTC", "EUR"},
		{"BTCEUR", "BTC", "EUR"},
		{"ETHUSDT", "ETH", "USDT"},
		{"SOLBTC", "SOL", "BTC"},
		// BNBBTC must pick the suffix, not the prefix match.
		{"BNBBTC", "BNB", "BTC"},
	}
	for _, tc := range tests {
		base, quote, err := splitPair(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.base, base, tc.raw)
		assert.Equal(t, tc.quote, quote, tc.raw)
	}

	_, _, err := splitPair("XYZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse trading pair")
}

func TestParseStatementCashOperations(t *testing.T) {
	csv := statementHeaderLine +
		"1,2024-01-05 09:00:00,Spot,Deposit,EUR,1000,\n" +
		"1,2024-06-01 09:00:00,Spot,Withdraw,BTC,-0.1,\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 2)

	assert.Equal(t, models.KindDeposit, txs[0].Kind)
	assert.Equal(t, "EUR", txs[0].Asset)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(1000)))

	assert.Equal(t, models.KindWithdrawal, txs[1].Kind)
	assert.Equal(t, "BTC", txs[1].Asset)
	assert.True(t, txs[1].Amount.Equal(decimal.NewFromFloat(0.1)))
}

func TestParseStatementBuildsTradeFromBalanceChanges(t *testing.T) {
	csv := statementHeaderLine +
		"1,2024-03-01 10:00:00,Spot,Transaction Buy,BTC,0.5,\n" +
		"1,2024-03-01 10:00:00,Spot,Transaction Spend,EUR,-10000,\n" +
		"1,2024-03-01 10:00:00,Spot,Transaction Fee,EUR,-10,\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "BTC", tx.Asset)
	assert.Equal(t, models.KindBuy, tx.Kind)
	assert.True(t, tx.Amount.Equal(decimal.NewFromFloat(0.5)))
	require.True(t, tx.Price.Valid)
	assert.True(t, tx.Price.Decimal.Equal(decimal.NewFromInt(20000)))
	assert.True(t, tx.Fee.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "EUR", tx.FeeAsset)
}

func TestParseStatementFiatReceivedIsSell(t *testing.T) {
	csv := statementHeaderLine +
		"1,2024-04-01 10:00:00,Spot,Transaction Sold,BTC,-0.2,\n" +
		"1,2024-04-01 10:00:00,Spot,Transaction Revenue,EUR,5000,\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "BTC", tx.Asset)
	assert.Equal(t, models.KindSell, tx.Kind)
	assert.True(t, tx.Amount.Equal(decimal.NewFromFloat(0.2)))
	require.True(t, tx.Price.Valid)
	assert.True(t, tx.Price.Decimal.Equal(decimal.NewFromInt(25000)))
}

func TestParseStatementCryptoToCryptoEmitsBothLegs(t *testing.T) {
	csv := statementHeaderLine +
		"1,2024-05-01 10:00:00,Spot,Transaction Buy,ETH,2,\n" +
		"1,2024-05-01 10:00:00,Spot,Transaction Spend,BTC,-0.1,\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 2)

	assert.Equal(t, "ETH", txs[0].Asset)
	assert.Equal(t, models.KindBuy, txs[0].Kind)
	assert.Equal(t, "BTC", txs[1].Asset)
	assert.Equal(t, models.KindSell, txs[1].Kind)
	assert.True(t, txs[1].Amount.Equal(decimal.NewFromFloat(0.1)))
}

func TestParseStatementMergesComplementaryRemarkGroups(t *testing.T) {
	// Conversion split across two consecutive remark groups, one side each.
	csv := statementHeaderLine +
		"1,2024-05-02 10:00:00,Spot,Convert,SOL,10,order-a\n" +
		"1,2024-05-02 10:00:01,Spot,Convert,EUR,-900,order-b\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "SOL", tx.Asset)
	assert.Equal(t, models.KindBuy, tx.Kind)
	require.True(t, tx.Price.Valid)
	assert.True(t, tx.Price.Decimal.Equal(decimal.NewFromInt(90)))
}

func TestParseStatementUnbalancedGroupFails(t *testing.T) {
	csv := statementHeaderLine +
		"1,2024-05-03 10:00:00,Spot,Convert,SOL,10,order-x\n" +
		"1,2024-05-03 10:00:00,Spot,Convert,ADA,20,order-x\n" +
		"1,2024-05-03 10:00:00,Spot,Convert,EUR,-900,order-x\n"
	_, err := NewParser().Parse(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbalanced movement group")
}

func TestParseStatementProRataFeeAcrossTrades(t *testing.T) {
	csv := statementHeaderLine +
		"1,2024-05-04 10:00:00,Spot,Convert,BTC,0.1,order-y\n" +
		"1,2024-05-04 10:00:00,Spot,Convert,EUR,-2000,order-y\n" +
		"1,2024-05-04 10:00:00,Spot,Convert,ETH,1,order-y\n" +
		"1,2024-05-04 10:00:00,Spot,Convert,EUR,-2000,order-y\n" +
		"1,2024-05-04 10:00:00,Spot,Fee,EUR,-8,order-y\n"
	txs := parseCSV(t, csv)
	require.Len(t, txs, 2)

	// Equal EUR weights, so the fee splits evenly.
	for _, tx := range txs {
		assert.True(t, tx.Fee.Equal(decimal.NewFromInt(4)), tx.Asset)
		assert.Equal(t, "EUR", tx.FeeAsset)
	}
}
