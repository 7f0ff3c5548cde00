package domain

// Medication is a catalog entry for a drug product. Descriptive fields may
// change after creation; the id is what batches and the dispense ledger
// reference.
type Medication struct {
	ID          int64  `db:"id" json:"id"`
	BrandName   string `db:"brand_name" json:"brand_name"`
	GenericName string `db:"generic_name" json:"generic_name"`
	Dosage      string `db:"dosage" json:"dosage"`
	Form        string `db:"form" json:"form"`
	MoleculeID  *int64 `db:"molecule_id" json:"molecule_id,omitempty"`
	CategoryID  *int64 `db:"category_id" json:"category_id,omitempty"`
	Notes       string `db:"notes" json:"notes"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}
