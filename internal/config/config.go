package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds application configuration values.
type Config struct {
	DatabaseDSN       string
	HTTPPort          string
	LogLevel          string
	CatalogCSV        string
	ExpiryAlertDays   int
	LowStockThreshold int64
	StockScanAt       string
	RateLimitPerSec   float64
	RateLimitBurst    int64
}

// Load reads configuration from environment variables with reasonable
// defaults.
func Load() Config {
	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}
	if _, err := strconv.Atoi(port); err != nil {
		log.Printf("invalid HTTP_PORT value %q, defaulting to 8080", port)
		port = "8080"
	}

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "caravan.db"
	}

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	scanAt := os.Getenv("STOCK_SCAN_AT")
	if scanAt == "" {
		scanAt = "07:00"
	}

	catalog := os.Getenv("CATALOG_CSV")
	if catalog == "" {
		catalog = "assets/medications.csv"
	}

	return Config{
		DatabaseDSN:       dsn,
		HTTPPort:          port,
		LogLevel:          level,
		CatalogCSV:        catalog,
		ExpiryAlertDays:   intEnv("EXPIRY_ALERT_DAYS", 30),
		LowStockThreshold: int64(intEnv("LOW_STOCK_THRESHOLD", 10)),
		StockScanAt:       scanAt,
		RateLimitPerSec:   float64(intEnv("RATE_LIMIT_PER_SEC", 10)),
		RateLimitBurst:    int64(intEnv("RATE_LIMIT_BURST", 50)),
	}
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Printf("invalid %s value %q, defaulting to %d", key, raw, fallback)
		return fallback
	}
	return val
}
