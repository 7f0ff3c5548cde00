package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_DSN", "HTTP_PORT", "LOG_LEVEL", "CATALOG_CSV",
		"EXPIRY_ALERT_DAYS", "LOW_STOCK_THRESHOLD", "STOCK_SCAN_AT",
		"RATE_LIMIT_PER_SEC", "RATE_LIMIT_BURST",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.DatabaseDSN != "caravan.db" {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q", cfg.HTTPPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.ExpiryAlertDays != 30 {
		t.Errorf("ExpiryAlertDays = %d", cfg.ExpiryAlertDays)
	}
	if cfg.LowStockThreshold != 10 {
		t.Errorf("LowStockThreshold = %d", cfg.LowStockThreshold)
	}
	if cfg.StockScanAt != "07:00" {
		t.Errorf("StockScanAt = %q", cfg.StockScanAt)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DSN", "/tmp/other.db")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("EXPIRY_ALERT_DAYS", "14")
	t.Setenv("LOW_STOCK_THRESHOLD", "25")

	cfg := Load()
	if cfg.DatabaseDSN != "/tmp/other.db" {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if cfg.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %q", cfg.HTTPPort)
	}
	if cfg.ExpiryAlertDays != 14 {
		t.Errorf("ExpiryAlertDays = %d", cfg.ExpiryAlertDays)
	}
	if cfg.LowStockThreshold != 25 {
		t.Errorf("LowStockThreshold = %d", cfg.LowStockThreshold)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	t.Setenv("EXPIRY_ALERT_DAYS", "-3")

	cfg := Load()
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want fallback 8080", cfg.HTTPPort)
	}
	if cfg.ExpiryAlertDays != 30 {
		t.Errorf("ExpiryAlertDays = %d, want fallback 30", cfg.ExpiryAlertDays)
	}
}
