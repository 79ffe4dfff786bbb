package importers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/src/models"
)

// btcPageSize is the confirmed-transaction page size of esplora-style APIs.
const btcPageSize = 25

// maxBTCPages bounds history pagination for pathological addresses.
const maxBTCPages = 200

// BTCImporter pulls address history from an esplora-style API
// (blockstream.info compatible).
type BTCImporter struct {
	Client  *http.Client
	BaseURL string
}

func NewBTCImporter(baseURL string, timeout time.Duration) *BTCImporter {
	return &BTCImporter{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
	}
}

type esploraPrevout struct {
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

type esploraVin struct {
	Prevout *esploraPrevout `json:"prevout"`
}

type esploraStatus struct {
	Confirmed bool  `json:"confirmed"`
	BlockTime int64 `json:"block_time"`
}

type esploraTx struct {
	TxID   string           `json:"txid"`
	Fee    int64            `json:"fee"`
	Vin    []esploraVin     `json:"vin"`
	Vout   []esploraPrevout `json:"vout"`
	Status esploraStatus    `json:"status"`
}

// Import fetches the full confirmed history of every address and maps each
// transaction to the net balance change it caused for that address.
func (imp *BTCImporter) Import(ctx context.Context, addresses []string) ([]models.Transaction, error) {
	var txs []models.Transaction
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		history, err := imp.fetchHistory(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("bitcoin history for %s: %w", address, err)
		}
		for _, raw := range history {
			if tx, ok := normalizeBTCTx(address, raw); ok {
				txs = append(txs, tx)
			}
		}
	}
	return txs, nil
}

func (imp *BTCImporter) fetchHistory(ctx context.Context, address string) ([]esploraTx, error) {
	var history []esploraTx
	lastTxID := ""
	for page := 0; page < maxBTCPages; page++ {
		endpoint := fmt.Sprintf("%s/address/%s/txs", imp.BaseURL, address)
		if lastTxID != "" {
			endpoint = fmt.Sprintf("%s/address/%s/txs/chain/%s", imp.BaseURL, address, lastTxID)
		}

		batch, err := imp.fetchPage(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		confirmed := 0
		for _, tx := range batch {
			if !tx.Status.Confirmed {
				continue
			}
			history = append(history, tx)
			confirmed++
			lastTxID = tx.TxID
		}
		if confirmed < btcPageSize {
			break
		}
	}
	return history, nil
}

func (imp *BTCImporter) fetchPage(ctx context.Context, endpoint string) ([]esploraTx, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := imp.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("esplora returned HTTP %d", resp.StatusCode)
	}
	var batch []esploraTx
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("esplora response not understood: %w", err)
	}
	return batch, nil
}

// normalizeBTCTx computes the address's net satoshi change across inputs and
// outputs. Positive change is a deposit, negative a withdrawal carrying the
// transaction fee. Transactions that do not move the address's balance
// (e.g. self-consolidations netting to zero) are dropped.
func normalizeBTCTx(address string, tx esploraTx) (models.Transaction, bool) {
	var spent, received int64
	for _, vin := range tx.Vin {
		if vin.Prevout != nil && vin.Prevout.ScriptPubKeyAddress == address {
			spent += vin.Prevout.Value
		}
	}
	for _, vout := range tx.Vout {
		if vout.ScriptPubKeyAddress == address {
			received += vout.Value
		}
	}
	change := received - spent
	if change == 0 {
		return models.Transaction{}, false
	}

	ts := time.Now().UTC()
	if tx.Status.BlockTime > 0 {
		ts = time.Unix(tx.Status.BlockTime, 0).UTC()
	}

	entry := models.Transaction{
		ID:        fmt.Sprintf("btc-%s-%s", tx.TxID, address),
		Timestamp: ts,
		Asset:     "BTC",
		Amount:    decimal.New(change, 0).Abs().Shift(-8),
		FeeAsset:  "BTC",
		Location:  "bitcoin:" + address,
		Source:    models.SourceBTCChain,
	}
	if change > 0 {
		entry.Kind = models.KindDeposit
	} else {
		entry.Kind = models.KindWithdrawal
		entry.Fee = decimal.New(tx.Fee, 0).Shift(-8)
	}
	raw, _ := json.Marshal(map[string]any{"hash": tx.TxID, "balance_change_sats": change})
	entry.Raw = raw
	return entry, true
}
