package domain

// Batch is a discrete lot of donated stock. QuantityUnits never goes
// negative; an exhausted batch stays at zero and is kept for history.
// ExpirationDate is a YYYY-MM-DD string, nil when the lot has no expiry.
type Batch struct {
	ID             int64   `db:"id" json:"id"`
	MedicationID   int64   `db:"medication_id" json:"medication_id"`
	DonationID     *int64  `db:"donation_id" json:"donation_id,omitempty"`
	LocationID     *int64  `db:"location_id" json:"location_id,omitempty"`
	QuantityUnits  int64   `db:"quantity_units" json:"quantity_units"`
	ExpirationDate *string `db:"expiration_date" json:"expiration_date,omitempty"`
	CreatedAt      string  `db:"created_at" json:"created_at"`
}
