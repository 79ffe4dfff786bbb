package binance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// rowID derives a stable transaction id from the row content and position,
// so reprocessing the same file yields the same ids.
func rowID(section string, index int, record []string) string {
	input := fmt.Sprintf("binance|%s|%d|%s", section, index, strings.Join(record, "|"))
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
