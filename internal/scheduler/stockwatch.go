// Package scheduler runs the daily stock scan: batches nearing expiry and
// medications running low are logged and exported as gauges.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jmoiron/sqlx"

	"medcaravan/m/internal/config"
	"medcaravan/m/internal/metrics"
)

// StockWatcher scans inventory on a schedule.
type StockWatcher struct {
	db        *sqlx.DB
	alertDays int
	threshold int64
	scanAt    string
	scheduler *gocron.Scheduler
}

// New constructs a StockWatcher from configuration.
func New(db *sqlx.DB, cfg config.Config) *StockWatcher {
	return &StockWatcher{
		db:        db,
		alertDays: cfg.ExpiryAlertDays,
		threshold: cfg.LowStockThreshold,
		scanAt:    cfg.StockScanAt,
		scheduler: gocron.NewScheduler(time.Local),
	}
}

// Start runs one scan immediately, then daily at the configured time.
func (w *StockWatcher) Start() error {
	w.Scan()

	_, err := w.scheduler.Every(1).Days().At(w.scanAt).Do(w.Scan)
	if err != nil {
		return fmt.Errorf("failed to schedule stock scan: %w", err)
	}
	w.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler.
func (w *StockWatcher) Stop() {
	w.scheduler.Stop()
}

type expiringBatch struct {
	ID             int64  `db:"id"`
	BrandName      string `db:"brand_name"`
	QuantityUnits  int64  `db:"quantity_units"`
	ExpirationDate string `db:"expiration_date"`
}

type lowStockMedication struct {
	ID         int64  `db:"id"`
	BrandName  string `db:"brand_name"`
	TotalUnits int64  `db:"total_units"`
}

// Scan reports batches expiring within the alert window and medications at
// or below the low-stock threshold.
func (w *StockWatcher) Scan() {
	var expiring []expiringBatch
	err := w.db.Select(&expiring,
		`SELECT b.id, m.brand_name, b.quantity_units, b.expiration_date
		   FROM batches b
		   JOIN medications m ON m.id = b.medication_id
		  WHERE b.quantity_units > 0
		    AND b.expiration_date IS NOT NULL
		    AND b.expiration_date <= date('now', ?)
		  ORDER BY b.expiration_date ASC`,
		fmt.Sprintf("+%d days", w.alertDays))
	if err != nil {
		slog.Error("stock scan: expiring batches query failed", "error", err)
		return
	}
	metrics.ExpiringBatches.Set(float64(len(expiring)))
	for _, b := range expiring {
		slog.Warn("batch nearing expiry",
			"batch_id", b.ID,
			"brand_name", b.BrandName,
			"quantity_units", b.QuantityUnits,
			"expiration_date", b.ExpirationDate,
		)
	}

	var low []lowStockMedication
	err = w.db.Select(&low,
		`SELECT m.id, m.brand_name, COALESCE(SUM(b.quantity_units), 0) AS total_units
		   FROM medications m
		   LEFT JOIN batches b ON b.medication_id = m.id
		  GROUP BY m.id, m.brand_name
		 HAVING total_units <= ?
		  ORDER BY total_units ASC`, w.threshold)
	if err != nil {
		slog.Error("stock scan: low stock query failed", "error", err)
		return
	}
	metrics.LowStockMedications.Set(float64(len(low)))
	for _, m := range low {
		slog.Warn("medication low on stock",
			"medication_id", m.ID,
			"brand_name", m.BrandName,
			"total_units", m.TotalUnits,
		)
	}

	slog.Info("stock scan complete",
		"expiring_batches", len(expiring),
		"low_stock_medications", len(low),
	)
}
