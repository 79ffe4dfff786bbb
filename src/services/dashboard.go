package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/username/cryptofolio/src/models"
	"github.com/username/cryptofolio/src/processors"
	"github.com/username/cryptofolio/src/utils"
)

// DashboardFilter narrows the transaction-level views. Zero values mean
// "no restriction"; GroupBy defaults to month.
type DashboardFilter struct {
	GroupBy string // day | month | year
	From    time.Time
	To      time.Time
	Asset   string
	Kind    string
}

// ParseDashboardFilter validates the raw query values.
func ParseDashboardFilter(groupBy, from, to, asset, kind string) (DashboardFilter, error) {
	filter := DashboardFilter{
		GroupBy: "month",
		Asset:   strings.ToUpper(strings.TrimSpace(asset)),
		Kind:    strings.ToLower(strings.TrimSpace(kind)),
	}

	switch strings.ToLower(strings.TrimSpace(groupBy)) {
	case "":
	case "day", "month", "year":
		filter.GroupBy = strings.ToLower(strings.TrimSpace(groupBy))
	default:
		return DashboardFilter{}, fmt.Errorf("%w: groupBy must be day, month or year", ErrMalformedInput)
	}

	if from != "" {
		parsed, err := utils.ParseDay(from)
		if err != nil {
			return DashboardFilter{}, fmt.Errorf("%w: invalid from date %q", ErrMalformedInput, from)
		}
		filter.From = parsed
	}
	if to != "" {
		parsed, err := utils.ParseDay(to)
		if err != nil {
			return DashboardFilter{}, fmt.Errorf("%w: invalid to date %q", ErrMalformedInput, to)
		}
		// inclusive end of day
		filter.To = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return DashboardFilter{}, fmt.Errorf("%w: date range is inverted", ErrMalformedInput)
	}

	if filter.Kind != "" {
		switch models.TxKind(filter.Kind) {
		case models.KindBuy, models.KindSell, models.KindDeposit, models.KindWithdrawal, models.KindFee:
		default:
			return DashboardFilter{}, fmt.Errorf("%w: unknown transaction type %q", ErrMalformedInput, kind)
		}
	}
	return filter, nil
}

func (f DashboardFilter) matchesTransaction(tx *models.Transaction) bool {
	if f.Asset != "" && tx.Asset != f.Asset {
		return false
	}
	if f.Kind != "" && tx.Kind != models.TxKind(f.Kind) {
		return false
	}
	return f.inRange(tx.Timestamp)
}

func (f DashboardFilter) inRange(ts time.Time) bool {
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// Dashboard is the full read model for one session, shaped for the UI.
type Dashboard struct {
	SessionID        string                     `json:"sessionId"`
	Summary          models.Summary             `json:"summary"`
	GainsByPeriod    []models.PeriodGains       `json:"gainsByPeriod"`
	Operations       []models.Transaction       `json:"operations"`
	Holdings         []models.Holding           `json:"holdings"`
	PortfolioHistory []models.PortfolioSnapshot `json:"portfolioHistory"`
	AssetBreakdown   []models.AssetBreakdown    `json:"assetBreakdown"`
	MissingPrices    []string                   `json:"missingPrices"`
}

// FilterOperations applies the filter to the session's ledger.
func FilterOperations(session *models.SessionData, filter DashboardFilter) []models.Transaction {
	filtered := make([]models.Transaction, 0, len(session.Ledger))
	for i := range session.Ledger {
		if filter.matchesTransaction(&session.Ledger[i]) {
			filtered = append(filtered, session.Ledger[i])
		}
	}
	return filtered
}

// BuildDashboard derives the dashboard views from an immutable session.
// Summary, holdings and portfolio history always describe the whole
// session; the filter narrows the transaction-level views (operations,
// gains-by-period, asset breakdown).
func BuildDashboard(session *models.SessionData, filter DashboardFilter) Dashboard {
	operations := FilterOperations(session, filter)

	var gains []models.RealizedGain
	for _, gain := range session.RealizedGains {
		if filter.Asset != "" && gain.Asset != filter.Asset {
			continue
		}
		if !filter.inRange(gain.ClosedAt) {
			continue
		}
		gains = append(gains, gain)
	}

	return Dashboard{
		SessionID:        session.ID,
		Summary:          session.Summary,
		GainsByPeriod:    processors.GainsByPeriod(gains, filter.GroupBy),
		Operations:       operations,
		Holdings:         session.Holdings,
		PortfolioHistory: session.Snapshots,
		AssetBreakdown:   processors.BuildAssetBreakdown(operations),
		MissingPrices:    session.MissingPrices,
	}
}
