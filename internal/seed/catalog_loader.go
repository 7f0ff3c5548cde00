package seed

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
)

// LoadMedications ingests a CSV catalog into the medications table,
// ignoring duplicates. Expected columns: brand_name, generic_name, dosage,
// form. The file is optional; a missing catalog is not an error.
func LoadMedications(db *sqlx.DB, csvPath string) {
	file, err := os.Open(csvPath)
	if err != nil {
		slog.Info("no medication catalog to seed", "path", csvPath)
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	// Skip header
	if _, err := reader.Read(); err != nil {
		slog.Warn("unable to read catalog header", "error", err)
		return
	}

	tx, err := db.Beginx()
	if err != nil {
		slog.Warn("unable to start catalog transaction", "error", err)
		return
	}
	stmt, err := tx.Preparex(`INSERT OR IGNORE INTO medications (brand_name, generic_name, dosage, form) VALUES (?, ?, ?, ?)`)
	if err != nil {
		slog.Warn("unable to prepare catalog insert", "error", err)
		_ = tx.Rollback()
		return
	}
	defer stmt.Close()

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("unable to read catalog row", "error", err)
			continue
		}
		if len(record) < 4 {
			continue
		}
		brand := strings.TrimSpace(record[0])
		generic := strings.TrimSpace(record[1])
		dosage := strings.TrimSpace(record[2])
		form := strings.TrimSpace(record[3])

		if brand == "" || generic == "" {
			continue
		}

		if _, err := stmt.Exec(brand, generic, dosage, form); err != nil {
			slog.Warn("unable to insert medication", "brand_name", brand, "error", err)
		} else {
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Warn("unable to commit catalog seed", "error", err)
	} else {
		slog.Info("seeded medication catalog", "rows", rows)
	}
}
