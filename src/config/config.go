package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port               string
	DatabasePath       string
	LogLevel           string
	MaxUploadSizeBytes int64

	// Historical price resolution
	PriceAPIBaseURL        string
	PriceRequestsPerSecond float64
	PriceRequestTimeout    time.Duration

	// Wallet chain explorers
	BlockstreamAPIBaseURL string
	EtherscanAPIKey       string
	ChainRequestTimeout   time.Duration

	// Pipeline/job behavior
	JobRetention      time.Duration
	SnapshotMaxPoints int
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	priceRPSStr := getEnv("PRICE_REQUESTS_PER_SECOND", "2")
	priceRPS, err := strconv.ParseFloat(priceRPSStr, 64)
	if err != nil || priceRPS <= 0 {
		log.Printf("WARNING: Invalid PRICE_REQUESTS_PER_SECOND '%s'. Using default 2.", priceRPSStr)
		priceRPS = 2
	}

	snapshotMaxPoints := getEnvAsInt("SNAPSHOT_MAX_POINTS", 500)
	if snapshotMaxPoints < 2 {
		log.Printf("WARNING: SNAPSHOT_MAX_POINTS %d too small. Using default 500.", snapshotMaxPoints)
		snapshotMaxPoints = 500
	}

	Cfg = &AppConfig{
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "./cryptofolio.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MaxUploadSizeBytes: maxUploadSizeBytes,

		PriceAPIBaseURL:        getEnv("PRICE_API_BASE_URL", "https://api.coingecko.com/api/v3"),
		PriceRequestsPerSecond: priceRPS,
		PriceRequestTimeout:    getEnvAsDuration("PRICE_REQUEST_TIMEOUT", 15*time.Second),

		BlockstreamAPIBaseURL: getEnv("BLOCKSTREAM_API_BASE_URL", "https://blockstream.info/api"),
		EtherscanAPIKey:       getEnv("ETHERSCAN_API_KEY", ""),
		ChainRequestTimeout:   getEnvAsDuration("CHAIN_REQUEST_TIMEOUT", 30*time.Second),

		JobRetention:      getEnvAsDuration("JOB_RETENTION", time.Hour),
		SnapshotMaxPoints: snapshotMaxPoints,
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, PriceAPI=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.PriceAPIBaseURL)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
