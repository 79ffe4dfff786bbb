package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReportingCurrency is the single currency every cost, proceed and gain is
// expressed in.
const ReportingCurrency = "EUR"

// TxKind classifies a canonical transaction. Amount is always positive; the
// kind qualifies the direction.
type TxKind string

const (
	KindBuy        TxKind = "buy"
	KindSell       TxKind = "sell"
	KindDeposit    TxKind = "deposit"
	KindWithdrawal TxKind = "withdrawal"
	KindFee        TxKind = "fee"
)

// Source systems a Transaction can originate from.
const (
	SourceBinanceCSV = "binance_csv"
	SourceBTCChain   = "btc_chain"
	SourceEVMChain   = "evm_chain"
)

// Transaction is the unified, canonical representation of one ledger event.
// Each normalizer is responsible for populating as many of these fields as
// possible directly from the source data, including the classification.
type Transaction struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Asset     string          `json:"asset"`
	Kind      TxKind          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`

	// Price is the unit price in the reporting currency. It is unset for
	// on-chain transfers; the pricing resolver fills the gap at accounting
	// time.
	Price decimal.NullDecimal `json:"price"`

	Fee      decimal.Decimal `json:"fee"`
	FeeAsset string          `json:"feeAsset"`

	// Location identifies where the event happened: "binance_spot" for CSV
	// trades, "<chain>:<address>" for wallet activity.
	Location string `json:"location"`
	Source   string `json:"source"`

	// Internal marks one side of a reconciled internal transfer (exchange to
	// own wallet or between own wallets). Internal entries stay in the
	// ledger for display but never open or consume lots.
	Internal bool `json:"internal,omitempty"`

	// Raw keeps the source payload for audit/debug display.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Validate enforces the canonical invariants shared by all normalizers.
func (t *Transaction) Validate() error {
	if t.Asset == "" {
		return fmt.Errorf("empty asset")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", t.Amount)
	}
	switch t.Kind {
	case KindBuy, KindSell, KindDeposit, KindWithdrawal, KindFee:
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	return nil
}

// Opens reports whether the transaction acquires the asset (opens lots).
func (t *Transaction) Opens() bool {
	return t.Kind == KindBuy || t.Kind == KindDeposit
}

// Closes reports whether the transaction disposes of the asset (consumes lots).
func (t *Transaction) Closes() bool {
	return t.Kind == KindSell || t.Kind == KindWithdrawal || t.Kind == KindFee
}
