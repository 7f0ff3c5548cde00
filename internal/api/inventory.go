package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"medcaravan/m/domain"
)

// Medication handlers

type medicationRequest struct {
	BrandName   string `json:"brand_name"`
	GenericName string `json:"generic_name"`
	Dosage      string `json:"dosage"`
	Form        string `json:"form"`
	MoleculeID  *int64 `json:"molecule_id"`
	CategoryID  *int64 `json:"category_id"`
	Notes       string `json:"notes"`
}

type medicationSummary struct {
	domain.Medication
	TotalUnits    int64 `json:"total_units"`
	ExpiringCount int   `json:"expiring_count"`
	ExpiredCount  int   `json:"expired_count"`
}

func (h *Handler) listMedications(w http.ResponseWriter, r *http.Request) {
	var (
		args    []any
		clauses []string
	)

	if search := strings.TrimSpace(r.URL.Query().Get("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		args = append(args, like, like)
		clauses = append(clauses, "(LOWER(brand_name) LIKE ? OR LOWER(generic_name) LIKE ?)")
	}
	if categoryID := strings.TrimSpace(r.URL.Query().Get("category_id")); categoryID != "" {
		id, err := strconv.ParseInt(categoryID, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid category_id")
			return
		}
		args = append(args, id)
		clauses = append(clauses, "category_id = ?")
	}
	if moleculeID := strings.TrimSpace(r.URL.Query().Get("molecule_id")); moleculeID != "" {
		id, err := strconv.ParseInt(moleculeID, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid molecule_id")
			return
		}
		args = append(args, id)
		clauses = append(clauses, "molecule_id = ?")
	}
	if form := strings.TrimSpace(r.URL.Query().Get("form")); form != "" {
		args = append(args, form)
		clauses = append(clauses, "form = ?")
	}

	query := `SELECT id, brand_name, generic_name, dosage, form, molecule_id, category_id, notes, created_at FROM medications`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY brand_name ASC"

	var medications []domain.Medication
	if err := h.db.Select(&medications, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list medications")
		return
	}
	if len(medications) == 0 {
		respondJSON(w, http.StatusOK, []medicationSummary{})
		return
	}

	ids := make([]int64, len(medications))
	for i, med := range medications {
		ids[i] = med.ID
	}

	batchQuery, batchArgs, err := sqlx.In(
		`SELECT id, medication_id, donation_id, location_id, quantity_units, expiration_date, created_at
		   FROM batches WHERE medication_id IN (?)`, ids)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to prepare batch query")
		return
	}
	batchQuery = h.db.Rebind(batchQuery)

	var batches []domain.Batch
	if err := h.db.Select(&batches, batchQuery, batchArgs...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load batches")
		return
	}
	batchesByMed := make(map[int64][]domain.Batch)
	for _, b := range batches {
		batchesByMed[b.MedicationID] = append(batchesByMed[b.MedicationID], b)
	}

	today := time.Now().Format("2006-01-02")
	horizon := time.Now().AddDate(0, 0, 90).Format("2006-01-02")

	summaries := make([]medicationSummary, len(medications))
	for i, med := range medications {
		summary := medicationSummary{Medication: med}
		for _, b := range batchesByMed[med.ID] {
			summary.TotalUnits += b.QuantityUnits
			if b.ExpirationDate == nil {
				continue
			}
			switch {
			case *b.ExpirationDate < today:
				summary.ExpiredCount++
			case *b.ExpirationDate <= horizon:
				summary.ExpiringCount++
			}
		}
		summaries[i] = summary
	}

	respondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) createMedication(w http.ResponseWriter, r *http.Request) {
	var req medicationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.BrandName) == "" || strings.TrimSpace(req.GenericName) == "" {
		respondError(w, http.StatusBadRequest, "brand_name and generic_name are required")
		return
	}

	res, err := h.db.Exec(
		`INSERT INTO medications (brand_name, generic_name, dosage, form, molecule_id, category_id, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(req.BrandName), strings.TrimSpace(req.GenericName),
		strings.TrimSpace(req.Dosage), strings.TrimSpace(req.Form),
		req.MoleculeID, req.CategoryID, strings.TrimSpace(req.Notes))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			respondError(w, http.StatusConflict, "medication already exists")
		} else if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			respondError(w, http.StatusBadRequest, "invalid molecule_id or category_id")
		} else {
			respondError(w, http.StatusInternalServerError, "unable to create medication")
		}
		return
	}
	id, _ := res.LastInsertId()
	respondJSON(w, http.StatusCreated, map[string]any{"id": id, "brand_name": strings.TrimSpace(req.BrandName)})
}

func (h *Handler) getMedication(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid medication id")
		return
	}

	var med domain.Medication
	err = h.db.Get(&med,
		`SELECT id, brand_name, generic_name, dosage, form, molecule_id, category_id, notes, created_at
		   FROM medications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "medication not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load medication")
		return
	}

	var batches []domain.Batch
	err = h.db.Select(&batches,
		`SELECT id, medication_id, donation_id, location_id, quantity_units, expiration_date, created_at
		   FROM batches WHERE medication_id = ?
		  ORDER BY (expiration_date IS NULL), expiration_date ASC, id ASC`, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load batches")
		return
	}
	if batches == nil {
		batches = []domain.Batch{}
	}

	var total int64
	for _, b := range batches {
		total += b.QuantityUnits
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"medication":  med,
		"batches":     batches,
		"total_units": total,
	})
}

func (h *Handler) updateMedication(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	var req medicationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.BrandName) == "" || strings.TrimSpace(req.GenericName) == "" {
		respondError(w, http.StatusBadRequest, "brand_name and generic_name are required")
		return
	}

	res, err := h.db.Exec(
		`UPDATE medications SET brand_name = ?, generic_name = ?, dosage = ?, form = ?, molecule_id = ?, category_id = ?, notes = ?
		  WHERE id = ?`,
		strings.TrimSpace(req.BrandName), strings.TrimSpace(req.GenericName),
		strings.TrimSpace(req.Dosage), strings.TrimSpace(req.Form),
		req.MoleculeID, req.CategoryID, strings.TrimSpace(req.Notes), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update medication")
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		respondError(w, http.StatusNotFound, "medication not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteMedication(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid medication id")
		return
	}

	var referenced bool
	err = h.db.Get(&referenced,
		`SELECT EXISTS(SELECT 1 FROM batches WHERE medication_id = ?) OR EXISTS(SELECT 1 FROM dispenses WHERE medication_id = ?)`,
		id, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to check medication references")
		return
	}
	if referenced {
		respondError(w, http.StatusConflict, "medication has batches or dispense history and cannot be deleted")
		return
	}

	res, err := h.db.Exec(`DELETE FROM medications WHERE id = ?`, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete medication")
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		respondError(w, http.StatusNotFound, "medication not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type lowStockRow struct {
	ID         int64  `db:"id" json:"id"`
	BrandName  string `db:"brand_name" json:"brand_name"`
	TotalUnits int64  `db:"total_units" json:"total_units"`
}

func (h *Handler) lowStockMedications(w http.ResponseWriter, r *http.Request) {
	threshold := h.cfg.LowStockThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || val < 0 {
			respondError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
		threshold = val
	}

	var items []lowStockRow
	err := h.db.Select(&items,
		`SELECT m.id, m.brand_name, COALESCE(SUM(b.quantity_units), 0) AS total_units
		   FROM medications m
		   LEFT JOIN batches b ON b.medication_id = m.id
		  GROUP BY m.id, m.brand_name
		 HAVING total_units <= ?
		  ORDER BY total_units ASC`, threshold)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list low stock")
		return
	}
	if items == nil {
		items = []lowStockRow{}
	}
	respondJSON(w, http.StatusOK, items)
}

// Batch handlers

type batchRequest struct {
	MedicationID   int64  `json:"medication_id"`
	DonationID     *int64 `json:"donation_id"`
	LocationID     *int64 `json:"location_id"`
	QuantityUnits  int64  `json:"quantity_units"`
	ExpirationDate string `json:"expiration_date"`
}

func (b batchRequest) validate(h *Handler) error {
	if b.MedicationID <= 0 {
		return errors.New("medication_id is required")
	}
	var exists bool
	if err := h.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM medications WHERE id = ?)`, b.MedicationID); err != nil || !exists {
		return fmt.Errorf("medication %d does not exist", b.MedicationID)
	}
	if b.QuantityUnits < 1 {
		return errors.New("quantity_units must be at least 1")
	}
	if strings.TrimSpace(b.ExpirationDate) != "" && !validDate(strings.TrimSpace(b.ExpirationDate)) {
		return errors.New("expiration_date must be in YYYY-MM-DD format")
	}
	return nil
}

func (h *Handler) createBatches(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	// Support creating multiple batches at once
	var requests []batchRequest
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &requests); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		var single batchRequest
		if err := json.Unmarshal(body, &single); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		requests = []batchRequest{single}
	}
	if len(requests) == 0 {
		respondError(w, http.StatusBadRequest, "no batches in request")
		return
	}

	for _, req := range requests {
		if err := req.validate(h); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	tx, err := h.db.Beginx()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	defer tx.Rollback()

	created := make([]map[string]any, 0, len(requests))
	for _, req := range requests {
		res, err := tx.Exec(
			`INSERT INTO batches (medication_id, donation_id, location_id, quantity_units, expiration_date)
			 VALUES (?, ?, ?, ?, ?)`,
			req.MedicationID, req.DonationID, req.LocationID, req.QuantityUnits, nullIfEmpty(req.ExpirationDate))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to create batch")
			return
		}
		id, _ := res.LastInsertId()
		created = append(created, map[string]any{
			"id":             id,
			"medication_id":  req.MedicationID,
			"quantity_units": req.QuantityUnits,
		})
	}

	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to save batches")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

type batchRow struct {
	domain.Batch
	BrandName   string `db:"brand_name" json:"brand_name"`
	GenericName string `db:"generic_name" json:"generic_name"`
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	var (
		args    []any
		clauses []string
	)
	if medicationID := strings.TrimSpace(r.URL.Query().Get("medication_id")); medicationID != "" {
		id, err := strconv.ParseInt(medicationID, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid medication_id")
			return
		}
		args = append(args, id)
		clauses = append(clauses, "b.medication_id = ?")
	}

	query := `SELECT b.id, b.medication_id, b.donation_id, b.location_id, b.quantity_units, b.expiration_date, b.created_at,
	                 m.brand_name, m.generic_name
	            FROM batches b
	            JOIN medications m ON m.id = b.medication_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY (b.expiration_date IS NULL), b.expiration_date ASC, b.id ASC"

	var rows []batchRow
	if err := h.db.Select(&rows, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list batches")
		return
	}
	if rows == nil {
		rows = []batchRow{}
	}
	respondJSON(w, http.StatusOK, rows)
}

type batchUpdateRequest struct {
	QuantityUnits  int64   `json:"quantity_units"`
	ExpirationDate *string `json:"expiration_date"`
	LocationID     *int64  `json:"location_id"`
}

// updateBatch is the manual stock-correction path. It runs under the same
// per-medication lock as dispensing so a correction cannot race an
// allocation in progress.
func (h *Handler) updateBatch(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	var req batchUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.QuantityUnits < 0 {
		respondError(w, http.StatusBadRequest, "quantity_units must not be negative")
		return
	}
	if req.ExpirationDate != nil && *req.ExpirationDate != "" && !validDate(*req.ExpirationDate) {
		respondError(w, http.StatusBadRequest, "expiration_date must be in YYYY-MM-DD format")
		return
	}

	var batch domain.Batch
	err = h.db.Get(&batch,
		`SELECT id, medication_id, donation_id, location_id, quantity_units, expiration_date, created_at
		   FROM batches WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load batch")
		return
	}

	expiration := batch.ExpirationDate
	if req.ExpirationDate != nil {
		expiration = nullIfEmpty(*req.ExpirationDate)
	}
	location := batch.LocationID
	if req.LocationID != nil {
		location = req.LocationID
	}

	err = h.engine.WithMedicationLock(r.Context(), batch.MedicationID, func() error {
		_, err := h.db.Exec(
			`UPDATE batches SET quantity_units = ?, expiration_date = ?, location_id = ? WHERE id = ?`,
			req.QuantityUnits, expiration, location, id)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update batch")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type expiringBatchRow struct {
	ID             int64  `db:"id" json:"id"`
	BrandName      string `db:"brand_name" json:"brand_name"`
	QuantityUnits  int64  `db:"quantity_units" json:"quantity_units"`
	ExpirationDate string `db:"expiration_date" json:"expiration_date"`
}

func (h *Handler) expiringBatches(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = h.cfg.ExpiryAlertDays
	}

	var items []expiringBatchRow
	err := h.db.Select(&items,
		`SELECT b.id, m.brand_name, b.quantity_units, b.expiration_date
		   FROM batches b
		   JOIN medications m ON m.id = b.medication_id
		  WHERE b.quantity_units > 0
		    AND b.expiration_date IS NOT NULL
		    AND b.expiration_date <= date('now', ?)
		  ORDER BY b.expiration_date ASC`,
		fmt.Sprintf("+%d days", days))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch alerts")
		return
	}
	if items == nil {
		items = []expiringBatchRow{}
	}
	respondJSON(w, http.StatusOK, items)
}

// Donation handlers

type donationRequest struct {
	Donation struct {
		DonorName    string `json:"donor_name"`
		ReceivedDate string `json:"received_date"`
		Notes        string `json:"notes"`
	} `json:"donation"`
	Batches []batchRequest `json:"batches"`
}

func (h *Handler) createDonation(w http.ResponseWriter, r *http.Request) {
	var req donationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Donation.DonorName) == "" {
		respondError(w, http.StatusBadRequest, "donor_name is required")
		return
	}
	received := strings.TrimSpace(req.Donation.ReceivedDate)
	if received == "" {
		received = time.Now().Format("2006-01-02")
	} else if !validDate(received) {
		respondError(w, http.StatusBadRequest, "received_date must be in YYYY-MM-DD format")
		return
	}
	for _, b := range req.Batches {
		if err := b.validate(h); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	tx, err := h.db.Beginx()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO donations (donor_name, received_date, notes) VALUES (?, ?, ?)`,
		strings.TrimSpace(req.Donation.DonorName), received, strings.TrimSpace(req.Donation.Notes))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create donation")
		return
	}
	donationID, _ := res.LastInsertId()

	for _, b := range req.Batches {
		_, err := tx.Exec(
			`INSERT INTO batches (medication_id, donation_id, location_id, quantity_units, expiration_date)
			 VALUES (?, ?, ?, ?, ?)`,
			b.MedicationID, donationID, b.LocationID, b.QuantityUnits, nullIfEmpty(b.ExpirationDate))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to create donation batches")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to save donation")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"id":            donationID,
		"donor_name":    strings.TrimSpace(req.Donation.DonorName),
		"received_date": received,
		"total_batches": len(req.Batches),
	})
}

type donationRow struct {
	domain.Donation
	TotalBatches int64 `db:"total_batches" json:"total_batches"`
	TotalUnits   int64 `db:"total_units" json:"total_units"`
}

func (h *Handler) listDonations(w http.ResponseWriter, r *http.Request) {
	var rows []donationRow
	err := h.db.Select(&rows,
		`SELECT d.id, d.donor_name, d.received_date, d.notes, d.created_at,
		        COUNT(b.id) AS total_batches, COALESCE(SUM(b.quantity_units), 0) AS total_units
		   FROM donations d
		   LEFT JOIN batches b ON b.donation_id = d.id
		  GROUP BY d.id
		  ORDER BY d.received_date DESC, d.id DESC`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list donations")
		return
	}
	if rows == nil {
		rows = []donationRow{}
	}
	respondJSON(w, http.StatusOK, rows)
}
