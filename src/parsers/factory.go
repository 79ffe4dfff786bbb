package parsers

import (
	"fmt"

	"github.com/username/cryptofolio/src/parsers/binance"
)

func GetParser(source string) (Parser, error) {
	switch source {
	case "binance":
		return binance.NewParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for source: %s", source)
	}
}
