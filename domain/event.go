package domain

// Event is a field distribution event (caravan) that dispenses can be
// linked to.
type Event struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	EventDate string `db:"event_date" json:"event_date"`
	Location  string `db:"location" json:"location"`
	Notes     string `db:"notes" json:"notes"`
	CreatedAt string `db:"created_at" json:"created_at"`
}
