package importers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
)

// EVMImporter pulls native and ERC-20 transfer history for wallet addresses
// from etherscan-v2-style explorer APIs.
type EVMImporter struct {
	Client *http.Client
	APIKey string
	Chains map[string]ChainConfig
}

func NewEVMImporter(apiKey string, timeout time.Duration) *EVMImporter {
	return &EVMImporter{
		Client: &http.Client{Timeout: timeout},
		APIKey: apiKey,
		Chains: ChainConfigs,
	}
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTx struct {
	Hash         string `json:"hash"`
	TimeStamp    string `json:"timeStamp"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	GasPrice     string `json:"gasPrice"`
	GasUsed      string `json:"gasUsed"`
	TokenSymbol  string `json:"tokenSymbol"`
	TokenName    string `json:"tokenName"`
	TokenDecimal string `json:"tokenDecimal"`
}

// ImportChain fetches the full history of every address on one chain.
func (imp *EVMImporter) ImportChain(ctx context.Context, chainID string, addresses []string) ([]models.Transaction, error) {
	cfg, ok := imp.Chains[chainID]
	if !ok {
		return nil, fmt.Errorf("unsupported chain: %s", chainID)
	}

	var txs []models.Transaction
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}

		native, err := imp.fetchList(ctx, cfg, "txlist", address)
		if err != nil {
			return nil, fmt.Errorf("%s txlist for %s: %w", cfg.ID, address, err)
		}
		// Every outgoing native transaction accounts for its own gas, so
		// token transfers under the same hash must not charge it again.
		gasCharged := make(map[string]bool)
		for _, raw := range native {
			txs = append(txs, normalizeNativeTx(cfg, address, raw)...)
			if !strings.EqualFold(raw.To, address) {
				gasCharged[strings.ToLower(raw.Hash)] = true
			}
		}

		// Token transfer errors are tolerated: many explorers answer
		// status 0 for addresses without ERC-20 activity.
		tokens, err := imp.fetchList(ctx, cfg, "tokentx", address)
		if err != nil {
			logger.L.Debug("Token transfer fetch failed", "chain", cfg.ID, "address", address, "error", err)
			continue
		}
		for _, raw := range tokens {
			txs = append(txs, normalizeTokenTx(cfg, address, raw, gasCharged)...)
		}
	}
	return txs, nil
}

func (imp *EVMImporter) fetchList(ctx context.Context, cfg ChainConfig, action, address string) ([]explorerTx, error) {
	apiKey := imp.APIKey
	if apiKey == "" {
		apiKey = "YourApiKeyToken"
	}
	params := url.Values{
		"module":     {"account"},
		"action":     {action},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"sort":       {"asc"},
		"chain":      {cfg.APIChain},
		"chainid":    {cfg.ChainID},
		"apikey":     {apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := imp.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var payload explorerResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("explorer response not understood: %w", err)
	}
	if payload.Status != "1" {
		message := payload.Message
		var detail string
		if json.Unmarshal(payload.Result, &detail) == nil && detail != "" {
			message = message + ": " + detail
		}
		// "No transactions found" is an empty result, not a failure.
		if strings.Contains(strings.ToLower(message), "no transactions found") {
			return nil, nil
		}
		if strings.Contains(strings.ToUpper(message), "API KEY") {
			return nil, fmt.Errorf("%s explorer requires a valid API key: %s", cfg.ID, message)
		}
		return nil, fmt.Errorf("%s API error: %s", cfg.ID, message)
	}

	var result []explorerTx
	if err := json.Unmarshal(payload.Result, &result); err != nil {
		return nil, fmt.Errorf("explorer result not understood: %w", err)
	}
	return result, nil
}

func parseUnits(raw string, decimals int32) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value.Shift(-decimals)
}

func gasFee(cfg ChainConfig, tx explorerTx) decimal.Decimal {
	gasPrice, err := decimal.NewFromString(tx.GasPrice)
	if err != nil {
		return decimal.Zero
	}
	gasUsed, err := decimal.NewFromString(tx.GasUsed)
	if err != nil {
		return decimal.Zero
	}
	return gasPrice.Mul(gasUsed).Shift(-cfg.Decimals)
}

func explorerTimestamp(raw string) time.Time {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(value.IntPart(), 0).UTC()
}

func walletLocation(cfg ChainConfig, address string) string {
	return cfg.ID + ":" + strings.ToLower(address)
}

// normalizeNativeTx maps one native-coin transaction to canonical entries.
// Incoming value becomes a deposit; outgoing becomes a withdrawal carrying
// the gas fee. An outgoing zero-value call still burns gas, which surfaces
// as a standalone fee entry.
func normalizeNativeTx(cfg ChainConfig, address string, tx explorerTx) []models.Transaction {
	incoming := strings.EqualFold(tx.To, address)
	value := parseUnits(tx.Value, cfg.Decimals)
	ts := explorerTimestamp(tx.TimeStamp)
	raw, _ := json.Marshal(tx)

	if value.IsPositive() {
		entry := models.Transaction{
			ID:        fmt.Sprintf("%s-%s-%s", cfg.ID, tx.Hash, strings.ToLower(address)),
			Timestamp: ts,
			Asset:     cfg.Symbol,
			Amount:    value,
			FeeAsset:  cfg.Symbol,
			Location:  walletLocation(cfg, address),
			Source:    models.SourceEVMChain,
			Raw:       raw,
		}
		if incoming {
			entry.Kind = models.KindDeposit
		} else {
			entry.Kind = models.KindWithdrawal
			entry.Fee = gasFee(cfg, tx)
		}
		return []models.Transaction{entry}
	}

	if incoming {
		return nil
	}
	fee := gasFee(cfg, tx)
	if !fee.IsPositive() {
		return nil
	}
	return []models.Transaction{{
		ID:        fmt.Sprintf("%s-gas-%s-%s", cfg.ID, tx.Hash, strings.ToLower(address)),
		Timestamp: ts,
		Asset:     cfg.Symbol,
		Kind:      models.KindFee,
		Amount:    fee,
		FeeAsset:  cfg.Symbol,
		Location:  walletLocation(cfg, address),
		Source:    models.SourceEVMChain,
		Raw:       raw,
	}}
}

// normalizeTokenTx maps one ERC-20 transfer. Gas for outgoing transfers is
// paid in the chain's native coin, so it becomes a separate fee entry rather
// than a fee on the token transaction — unless the transaction list already
// charged gas for the same hash.
func normalizeTokenTx(cfg ChainConfig, address string, tx explorerTx, gasCharged map[string]bool) []models.Transaction {
	tokenDecimals := int32(18)
	if tx.TokenDecimal != "" {
		if d, err := decimal.NewFromString(tx.TokenDecimal); err == nil {
			tokenDecimals = int32(d.IntPart())
		}
	}
	value := parseUnits(tx.Value, tokenDecimals)
	if !value.IsPositive() {
		return nil
	}

	symbol := strings.ToUpper(tx.TokenSymbol)
	if symbol == "" {
		symbol = strings.ToUpper(tx.TokenName)
	}
	if symbol == "" {
		symbol = "TOKEN"
	}

	incoming := strings.EqualFold(tx.To, address)
	ts := explorerTimestamp(tx.TimeStamp)
	raw, _ := json.Marshal(tx)

	entry := models.Transaction{
		ID:        fmt.Sprintf("%s-token-%s-%s-%s", cfg.ID, tx.Hash, symbol, strings.ToLower(address)),
		Timestamp: ts,
		Asset:     symbol,
		Kind:      models.KindDeposit,
		Amount:    value,
		FeeAsset:  cfg.Symbol,
		Location:  walletLocation(cfg, address),
		Source:    models.SourceEVMChain,
		Raw:       raw,
	}
	if incoming {
		return []models.Transaction{entry}
	}

	entry.Kind = models.KindWithdrawal
	entries := []models.Transaction{entry}
	if gasCharged[strings.ToLower(tx.Hash)] {
		return entries
	}
	if fee := gasFee(cfg, tx); fee.IsPositive() {
		entries = append(entries, models.Transaction{
			ID:        fmt.Sprintf("%s-gas-%s-%s", cfg.ID, tx.Hash, strings.ToLower(address)),
			Timestamp: ts,
			Asset:     cfg.Symbol,
			Kind:      models.KindFee,
			Amount:    fee,
			FeeAsset:  cfg.Symbol,
			Location:  walletLocation(cfg, address),
			Source:    models.SourceEVMChain,
			Raw:       raw,
		})
	}
	return entries
}
