package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"medcaravan/m/internal/config"
	"medcaravan/m/internal/database"
	"medcaravan/m/internal/metrics"
	"medcaravan/m/internal/migrations"
)

func TestScanSetsGauges(t *testing.T) {
	db := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	migrations.Run(db)
	t.Cleanup(func() { db.Close() })

	res, err := db.Exec(`INSERT INTO medications (brand_name, generic_name) VALUES ('Paracetamol', 'Paracetamol')`)
	if err != nil {
		t.Fatalf("seed medication: %v", err)
	}
	stocked, _ := res.LastInsertId()
	if _, err := db.Exec(`INSERT INTO medications (brand_name, generic_name) VALUES ('Ibuprofen', 'Ibuprofen')`); err != nil {
		t.Fatalf("seed medication: %v", err)
	}

	// One batch expiring soon, one far out, plenty of total stock.
	if _, err := db.Exec(
		`INSERT INTO batches (medication_id, quantity_units, expiration_date) VALUES (?, 50, date('now', '+5 days'))`,
		stocked); err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO batches (medication_id, quantity_units, expiration_date) VALUES (?, 50, date('now', '+400 days'))`,
		stocked); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	w := New(db, config.Config{ExpiryAlertDays: 30, LowStockThreshold: 10, StockScanAt: "07:00"})
	w.Scan()

	if got := testutil.ToFloat64(metrics.ExpiringBatches); got != 1 {
		t.Errorf("expiring batches gauge = %v, want 1", got)
	}
	// Ibuprofen has no batches at all, so it counts as low stock.
	if got := testutil.ToFloat64(metrics.LowStockMedications); got != 1 {
		t.Errorf("low stock gauge = %v, want 1", got)
	}
}

func TestStartSchedulesDailyScan(t *testing.T) {
	db := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	migrations.Run(db)
	t.Cleanup(func() { db.Close() })

	w := New(db, config.Config{ExpiryAlertDays: 30, LowStockThreshold: 10, StockScanAt: "07:00"})
	if err := w.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if jobs := w.scheduler.Jobs(); len(jobs) != 1 {
		t.Fatalf("scheduled %d jobs, want 1", len(jobs))
	}
}

func TestStartRejectsBadScanTime(t *testing.T) {
	db := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	migrations.Run(db)
	t.Cleanup(func() { db.Close() })

	w := New(db, config.Config{ExpiryAlertDays: 30, LowStockThreshold: 10, StockScanAt: "not-a-time"})
	if err := w.Start(); err == nil {
		w.Stop()
		t.Fatal("expected error for invalid scan time")
	}
}
