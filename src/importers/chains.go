package importers

// ChainConfig describes one EVM-compatible chain served by an
// etherscan-v2-style explorer API.
type ChainConfig struct {
	ID       string
	BaseURL  string
	Symbol   string
	Decimals int32
	APIChain string
	ChainID  string
}

// ChainConfigs lists the supported EVM chains keyed by their identifier as
// accepted in analysis requests.
var ChainConfigs = map[string]ChainConfig{
	"ethereum":  {ID: "ethereum", BaseURL: "https://api.etherscan.io/v2/api", Symbol: "ETH", Decimals: 18, APIChain: "eth", ChainID: "1"},
	"arbitrum":  {ID: "arbitrum", BaseURL: "https://api.arbiscan.io/v2/api", Symbol: "ETH", Decimals: 18, APIChain: "arb", ChainID: "42161"},
	"base":      {ID: "base", BaseURL: "https://api.basescan.org/v2/api", Symbol: "ETH", Decimals: 18, APIChain: "base", ChainID: "8453"},
	"polygon":   {ID: "polygon", BaseURL: "https://api.polygonscan.com/v2/api", Symbol: "MATIC", Decimals: 18, APIChain: "matic", ChainID: "137"},
	"optimism":  {ID: "optimism", BaseURL: "https://api-optimistic.etherscan.io/v2/api", Symbol: "ETH", Decimals: 18, APIChain: "opt", ChainID: "10"},
	"bsc":       {ID: "bsc", BaseURL: "https://api.bscscan.com/v2/api", Symbol: "BNB", Decimals: 18, APIChain: "bsc", ChainID: "56"},
	"avalanche": {ID: "avalanche", BaseURL: "https://api.snowtrace.io/v2/api", Symbol: "AVAX", Decimals: 18, APIChain: "avax", ChainID: "43114"},
}
