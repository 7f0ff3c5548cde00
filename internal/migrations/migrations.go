package migrations

import (
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
)

// Run creates the database schema for the inventory backend. The dispenses
// table is the append-only ledger; nothing in this codebase updates or
// deletes its rows.
func Run(db *sqlx.DB) {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS molecules (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE
        );`,
		`CREATE TABLE IF NOT EXISTS therapeutic_categories (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            parent_id INTEGER REFERENCES therapeutic_categories(id),
            icon TEXT NOT NULL DEFAULT '',
            level INTEGER NOT NULL DEFAULT 1
        );`,
		`CREATE TABLE IF NOT EXISTS locations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS donations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            donor_name TEXT NOT NULL,
            received_date TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS medications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            brand_name TEXT NOT NULL,
            generic_name TEXT NOT NULL,
            dosage TEXT NOT NULL DEFAULT '',
            form TEXT NOT NULL DEFAULT '',
            molecule_id INTEGER REFERENCES molecules(id),
            category_id INTEGER REFERENCES therapeutic_categories(id),
            notes TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_medications_identity
            ON medications(brand_name, generic_name, dosage, form);`,
		`CREATE TABLE IF NOT EXISTS batches (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            medication_id INTEGER NOT NULL REFERENCES medications(id),
            donation_id INTEGER REFERENCES donations(id),
            location_id INTEGER REFERENCES locations(id),
            quantity_units INTEGER NOT NULL CHECK(quantity_units >= 0),
            expiration_date TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_batches_medication ON batches(medication_id);`,
		`CREATE TABLE IF NOT EXISTS events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            event_date TEXT NOT NULL,
            location TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS dispenses (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            medication_id INTEGER NOT NULL REFERENCES medications(id),
            batch_id INTEGER NOT NULL REFERENCES batches(id),
            quantity_units INTEGER NOT NULL CHECK(quantity_units > 0),
            dispense_date TEXT NOT NULL,
            event_id INTEGER REFERENCES events(id),
            dispensed_by TEXT NOT NULL DEFAULT '',
            patient_info TEXT,
            notes TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE INDEX IF NOT EXISTS idx_dispenses_medication ON dispenses(medication_id);`,
		`CREATE INDEX IF NOT EXISTS idx_dispenses_event ON dispenses(event_id);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}
}
