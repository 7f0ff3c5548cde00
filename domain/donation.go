package domain

// Donation groups the batches received together from one donor.
type Donation struct {
	ID           int64  `db:"id" json:"id"`
	DonorName    string `db:"donor_name" json:"donor_name"`
	ReceivedDate string `db:"received_date" json:"received_date"`
	Notes        string `db:"notes" json:"notes"`
	CreatedAt    string `db:"created_at" json:"created_at"`
}
