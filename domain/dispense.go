package domain

// PatientInfo is an optional structured note attached to a dispense.
type PatientInfo struct {
	Age       *int64 `json:"age,omitempty"`
	Complaint string `json:"complaint,omitempty"`
}

// DispenseRecord is one append-only ledger entry: the debit of a single
// batch within a dispense transaction. A dispense request that spans
// several batches produces one record per batch touched. Records are never
// updated or deleted.
type DispenseRecord struct {
	ID            int64        `db:"id" json:"id"`
	MedicationID  int64        `db:"medication_id" json:"medication_id"`
	BatchID       int64        `db:"batch_id" json:"batch_id"`
	QuantityUnits int64        `db:"quantity_units" json:"quantity_units"`
	DispenseDate  string       `db:"dispense_date" json:"dispense_date"`
	EventID       *int64       `db:"event_id" json:"event_id,omitempty"`
	DispensedBy   string       `db:"dispensed_by" json:"dispensed_by"`
	PatientInfo   *PatientInfo `db:"-" json:"patient_info,omitempty"`
	Notes         string       `db:"notes" json:"notes"`
}
