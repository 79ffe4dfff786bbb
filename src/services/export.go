package services

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/username/cryptofolio/src/models"
	"github.com/username/cryptofolio/src/utils"
)

var exportHeader = []string{"date", "asset", "type", "amount", "price", "fee", "total"}

// WriteOperationsCSV streams the filtered operations as CSV, one row per
// transaction. Price and total are empty when no EUR price is known for the
// row, mirroring the dashboard's treatment of unpriced transfers.
func WriteOperationsCSV(w io.Writer, session *models.SessionData, filter DashboardFilter) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, tx := range FilterOperations(session, filter) {
		price := ""
		total := ""
		if tx.Price.Valid {
			price = tx.Price.Decimal.String()
			total = tx.Amount.Mul(tx.Price.Decimal).String()
		}
		row := []string{
			tx.Timestamp.UTC().Format(utils.DayFormat),
			tx.Asset,
			string(tx.Kind),
			tx.Amount.String(),
			price,
			tx.Fee.String(),
			total,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
