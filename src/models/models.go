package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a quantity of an asset acquired at a fixed unit cost basis,
// consumed oldest-first by later disposals.
type Lot struct {
	Asset    string          `json:"asset"`
	OpenedAt time.Time       `json:"openedAt"`
	TxID     string          `json:"txId"`
	Quantity decimal.Decimal `json:"quantity"` // remaining, monotonically non-increasing
	UnitCost decimal.Decimal `json:"unitCost"` // reporting currency, fixed at creation

	// Synthetic marks a zero-cost lot inferred to cover a disposal that
	// exceeded the open inventory.
	Synthetic bool `json:"synthetic,omitempty"`
}

// RealizedGain records the closing of (part of) one lot. A single disposal
// spanning several lots emits several records sharing ClosingTxID.
// Immutable once created.
type RealizedGain struct {
	Asset        string          `json:"asset"`
	Quantity     decimal.Decimal `json:"quantity"`
	ProceedsEUR  decimal.Decimal `json:"proceedsEur"`
	CostBasisEUR decimal.Decimal `json:"costBasisEur"`
	GainEUR      decimal.Decimal `json:"gainEur"`
	ClosedAt     time.Time       `json:"closedAt"`
	ClosingTxID  string          `json:"closingTxId"`
	LotTxID      string          `json:"lotTxId"`
	Synthetic    bool            `json:"synthetic,omitempty"`
}

// Holding is the derived open-lot aggregate for one asset.
type Holding struct {
	Asset          string          `json:"asset"`
	Quantity       decimal.Decimal `json:"quantity"`
	CostBasisEUR   decimal.Decimal `json:"costBasisEur"`
	AvgUnitCostEUR decimal.Decimal `json:"avgUnitCostEur"`
	MarketValueEUR decimal.Decimal `json:"marketValueEur"`
	PriceStatus    string          `json:"priceStatus"` // "ok" or "unavailable"
}

// PortfolioSnapshot values the whole portfolio at one ledger timestamp.
// Chart-facing, so float64 is acceptable here.
type PortfolioSnapshot struct {
	Timestamp     time.Time          `json:"timestamp"`
	TotalValueEUR float64            `json:"totalValueEur"`
	AssetValues   map[string]float64 `json:"assetValues"`
	DepositedEUR  float64            `json:"depositedEur"`
	WithdrawnEUR  float64            `json:"withdrawnEur"`
}

// Summary aggregates a whole session.
type Summary struct {
	TotalInvestedEUR  decimal.Decimal `json:"totalInvestedEur"`
	TotalWithdrawnEUR decimal.Decimal `json:"totalWithdrawnEur"`
	CurrentBalanceEUR decimal.Decimal `json:"currentBalanceEur"`
	TotalFeesEUR      decimal.Decimal `json:"totalFeesEur"`
	RealizedGainEUR   decimal.Decimal `json:"realizedGainEur"`
	UnrealizedGainEUR decimal.Decimal `json:"unrealizedGainEur"`
}

// PeriodGains is one gains-by-period bucket.
type PeriodGains struct {
	Period     string          `json:"period"` // "2024-03-05", "2024-03" or "2024"
	NetGainEUR decimal.Decimal `json:"netGainEur"`
	Entries    []RealizedGain  `json:"entries"`
}

// AssetBreakdown summarizes one asset's full ledger activity.
type AssetBreakdown struct {
	Asset       string          `json:"asset"`
	TotalIn     decimal.Decimal `json:"totalIn"`
	TotalOut    decimal.Decimal `json:"totalOut"`
	NetQuantity decimal.Decimal `json:"netQuantity"`
	FeesPaid    decimal.Decimal `json:"feesPaid"`
	Operations  []Transaction   `json:"operations"`
}

// Session statuses.
const (
	SessionBuilding = "building"
	SessionReady    = "ready"
	SessionError    = "error"
)

// SessionData is everything one pipeline run produces. A session exclusively
// owns its ledger, lots and realized gains; once status is "ready" the data
// is immutable and safe for concurrent reads.
type SessionData struct {
	ID            string              `json:"id"`
	CreatedAt     time.Time           `json:"createdAt"`
	Status        string              `json:"status"`
	Ledger        []Transaction       `json:"ledger"`
	OpenLots      map[string][]Lot    `json:"openLots"`
	RealizedGains []RealizedGain      `json:"realizedGains"`
	Holdings      []Holding           `json:"holdings"`
	Summary       Summary             `json:"summary"`
	Snapshots     []PortfolioSnapshot `json:"snapshots"`
	MissingPrices []string            `json:"missingPrices"`
}

// Job step and terminal statuses.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepError     = "error"
)

// JobStep is one named pipeline step with its status.
type JobStep struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Status string `json:"status"`
}

// Job tracks one pipeline run. It is 1:1 with the run that produces a
// Session and does not outlive it beyond the store's retention window.
type Job struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Steps     []JobStep `json:"steps"`
	Messages  []string  `json:"messages"`
	SessionID string    `json:"sessionId,omitempty"`
	Error     string    `json:"error,omitempty"`
}
