package dispense

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"medcaravan/m/domain"
	"medcaravan/m/internal/database"
	"medcaravan/m/internal/migrations"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	migrations.Run(db)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertMedication(t *testing.T, db *sqlx.DB, brand string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO medications (brand_name, generic_name) VALUES (?, ?)`, brand, brand+" generic")
	if err != nil {
		t.Fatalf("insert medication: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func insertBatch(t *testing.T, db *sqlx.DB, medicationID, quantity int64, expiration string) int64 {
	t.Helper()
	var exp *string
	if expiration != "" {
		exp = &expiration
	}
	res, err := db.Exec(`INSERT INTO batches (medication_id, quantity_units, expiration_date) VALUES (?, ?, ?)`,
		medicationID, quantity, exp)
	if err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func batchQuantity(t *testing.T, db *sqlx.DB, batchID int64) int64 {
	t.Helper()
	var quantity int64
	if err := db.Get(&quantity, `SELECT quantity_units FROM batches WHERE id = ?`, batchID); err != nil {
		t.Fatalf("read batch %d: %v", batchID, err)
	}
	return quantity
}

func TestEligibleBatchesOrdering(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLStore(db)
	medID := insertMedication(t, db, "Paracetamol")

	noExpiry := insertBatch(t, db, medID, 5, "")
	late := insertBatch(t, db, medID, 5, "2025-06-01")
	early := insertBatch(t, db, medID, 5, "2025-01-01")
	exhausted := insertBatch(t, db, medID, 0, "2024-01-01")

	batches, err := store.EligibleBatches(context.Background(), medID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 eligible batches, got %d", len(batches))
	}
	want := []int64{early, late, noExpiry}
	for i, id := range want {
		if batches[i].ID != id {
			t.Errorf("position %d: got batch %d, want %d", i, batches[i].ID, id)
		}
	}
	for _, b := range batches {
		if b.ID == exhausted {
			t.Error("exhausted batch should not be eligible")
		}
	}
}

func TestBatchByIDMissing(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLStore(db)

	b, err := store.BatchByID(context.Background(), 123)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != nil {
		t.Fatalf("expected nil batch, got %+v", b)
	}
}

func TestApplyCommits(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLStore(db)
	medID := insertMedication(t, db, "Amoxicillin")
	batchID := insertBatch(t, db, medID, 10, "2025-01-01")

	age := int64(7)
	rec := domain.DispenseRecord{
		MedicationID:  medID,
		BatchID:       batchID,
		QuantityUnits: 4,
		DispenseDate:  "2024-11-05T09:00:00Z",
		DispensedBy:   "Nurse Ba",
		PatientInfo:   &domain.PatientInfo{Age: &age, Complaint: "fever"},
	}
	err := store.Apply(context.Background(), func(tx Tx) error {
		if err := tx.DecrementBatch(batchID, 4); err != nil {
			return err
		}
		return tx.AppendDispense(&rec)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == 0 {
		t.Error("ledger entry id not set")
	}
	if got := batchQuantity(t, db, batchID); got != 6 {
		t.Errorf("batch quantity = %d, want 6", got)
	}

	var row struct {
		QuantityUnits int64   `db:"quantity_units"`
		DispensedBy   string  `db:"dispensed_by"`
		PatientInfo   *string `db:"patient_info"`
	}
	err = db.Get(&row, `SELECT quantity_units, dispensed_by, patient_info FROM dispenses WHERE id = ?`, rec.ID)
	if err != nil {
		t.Fatalf("read ledger entry: %v", err)
	}
	if row.QuantityUnits != 4 || row.DispensedBy != "Nurse Ba" {
		t.Errorf("ledger entry mismatch: %+v", row)
	}
	if row.PatientInfo == nil || *row.PatientInfo != `{"age":7,"complaint":"fever"}` {
		t.Errorf("patient info stored as %v", row.PatientInfo)
	}
}

func TestApplyRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLStore(db)
	medID := insertMedication(t, db, "Ibuprofen")
	batchID := insertBatch(t, db, medID, 10, "")

	boom := errors.New("boom")
	err := store.Apply(context.Background(), func(tx Tx) error {
		if err := tx.DecrementBatch(batchID, 4); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if got := batchQuantity(t, db, batchID); got != 10 {
		t.Errorf("batch quantity = %d after rollback, want 10", got)
	}
	var count int64
	if err := db.Get(&count, `SELECT COUNT(*) FROM dispenses`); err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if count != 0 {
		t.Errorf("ledger has %d entries after rollback, want 0", count)
	}
}

func TestDecrementBatchGuardsUnderflow(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLStore(db)
	medID := insertMedication(t, db, "Cetirizine")
	batchID := insertBatch(t, db, medID, 5, "")

	err := store.Apply(context.Background(), func(tx Tx) error {
		return tx.DecrementBatch(batchID, 10)
	})
	if err == nil {
		t.Fatal("expected underflow to fail the unit")
	}
	if got := batchQuantity(t, db, batchID); got != 5 {
		t.Errorf("batch quantity = %d, want 5", got)
	}
}

func TestEngineWithSQLStoreFIFO(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(NewSQLStore(db))
	medID := insertMedication(t, db, "Metformin")

	b1 := insertBatch(t, db, medID, 5, "2025-01-01")
	b2 := insertBatch(t, db, medID, 5, "2025-06-01")
	b3 := insertBatch(t, db, medID, 5, "")

	records, err := engine.Dispense(context.Background(), Request{MedicationID: medID, QuantityUnits: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].BatchID != b1 || records[0].QuantityUnits != 5 {
		t.Errorf("first record: %d units from batch %d", records[0].QuantityUnits, records[0].BatchID)
	}
	if records[1].BatchID != b2 || records[1].QuantityUnits != 3 {
		t.Errorf("second record: %d units from batch %d", records[1].QuantityUnits, records[1].BatchID)
	}
	if got := batchQuantity(t, db, b1); got != 0 {
		t.Errorf("batch 1 quantity = %d, want 0", got)
	}
	if got := batchQuantity(t, db, b2); got != 2 {
		t.Errorf("batch 2 quantity = %d, want 2", got)
	}
	if got := batchQuantity(t, db, b3); got != 5 {
		t.Errorf("batch 3 quantity = %d, want 5", got)
	}

	var count int64
	if err := db.Get(&count, `SELECT COUNT(*) FROM dispenses WHERE medication_id = ?`, medID); err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if count != 2 {
		t.Errorf("ledger has %d entries, want 2", count)
	}

	// A second request larger than what remains is rejected untouched.
	before := batchQuantity(t, db, b2)
	_, err = engine.Dispense(context.Background(), Request{MedicationID: medID, QuantityUnits: 100})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := batchQuantity(t, db, b2); got != before {
		t.Errorf("batch 2 mutated by rejected request: %d -> %d", before, got)
	}
}
