package dispense

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"medcaravan/m/domain"
)

// SQLStore backs the engine with the batches and dispenses tables.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore constructs a SQLStore.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) MedicationExists(ctx context.Context, medicationID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM medications WHERE id = ?)`, medicationID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *SQLStore) BatchByID(ctx context.Context, batchID int64) (*domain.Batch, error) {
	var b domain.Batch
	err := s.db.GetContext(ctx, &b,
		`SELECT id, medication_id, donation_id, location_id, quantity_units, expiration_date, created_at
		   FROM batches WHERE id = ?`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLStore) EligibleBatches(ctx context.Context, medicationID int64) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := s.db.SelectContext(ctx, &batches,
		`SELECT id, medication_id, donation_id, location_id, quantity_units, expiration_date, created_at
		   FROM batches
		  WHERE medication_id = ? AND quantity_units > 0
		  ORDER BY (expiration_date IS NULL), expiration_date ASC, id ASC`, medicationID)
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// Apply runs fn inside one database transaction. The rollback is a no-op
// after a successful commit.
func (s *SQLStore) Apply(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sqlx.Tx
}

// DecrementBatch guards against underflow in the UPDATE itself: the row is
// only touched when it still holds enough units, so a stale read can never
// push a batch negative.
func (t *sqlTx) DecrementBatch(batchID, units int64) error {
	res, err := t.tx.Exec(
		`UPDATE batches SET quantity_units = quantity_units - ? WHERE id = ? AND quantity_units >= ?`,
		units, batchID, units)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("batch %d no longer holds %d units", batchID, units)
	}
	return nil
}

func (t *sqlTx) AppendDispense(rec *domain.DispenseRecord) error {
	var patientInfo *string
	if rec.PatientInfo != nil {
		raw, err := json.Marshal(rec.PatientInfo)
		if err != nil {
			return fmt.Errorf("encode patient info: %w", err)
		}
		s := string(raw)
		patientInfo = &s
	}
	res, err := t.tx.Exec(
		`INSERT INTO dispenses (medication_id, batch_id, quantity_units, dispense_date, event_id, dispensed_by, patient_info, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MedicationID, rec.BatchID, rec.QuantityUnits, rec.DispenseDate,
		rec.EventID, rec.DispensedBy, patientInfo, rec.Notes)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}
