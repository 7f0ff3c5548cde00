package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"medcaravan/m/domain"
)

// Event handlers

type eventRequest struct {
	Name      string `json:"name"`
	EventDate string `json:"event_date"`
	Location  string `json:"location"`
	Notes     string `json:"notes"`
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	var events []domain.Event
	err := h.db.Select(&events,
		`SELECT id, name, event_date, location, notes, created_at FROM events ORDER BY event_date DESC, id DESC`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list events")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validDate(strings.TrimSpace(req.EventDate)) {
		respondError(w, http.StatusBadRequest, "event_date must be in YYYY-MM-DD format")
		return
	}

	res, err := h.db.Exec(
		`INSERT INTO events (name, event_date, location, notes) VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(req.Name), strings.TrimSpace(req.EventDate),
		strings.TrimSpace(req.Location), strings.TrimSpace(req.Notes))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create event")
		return
	}
	id, _ := res.LastInsertId()
	respondJSON(w, http.StatusCreated, map[string]any{"id": id, "name": strings.TrimSpace(req.Name)})
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	var event domain.Event
	err = h.db.Get(&event,
		`SELECT id, name, event_date, location, notes, created_at FROM events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load event")
		return
	}

	var rows []dispenseRow
	err = h.db.Select(&rows,
		`SELECT d.id, d.dispense_date, d.quantity_units, d.dispensed_by, d.patient_info, d.notes,
		        d.medication_id, m.brand_name, m.generic_name, m.dosage, m.form,
		        d.batch_id, b.expiration_date AS batch_expiration,
		        d.event_id, NULL AS event_name
		   FROM dispenses d
		   JOIN medications m ON m.id = d.medication_id
		   JOIN batches b ON b.id = d.batch_id
		  WHERE d.event_id = ?
		  ORDER BY d.dispense_date ASC, d.id ASC`, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load event dispenses")
		return
	}

	var totalUnits int64
	uniqueMeds := make(map[int64]struct{})
	uniqueStaff := make(map[string]struct{})
	dispenses := make([]dispenseEntry, len(rows))
	for i, row := range rows {
		totalUnits += row.QuantityUnits
		uniqueMeds[row.MedicationID] = struct{}{}
		if row.DispensedBy != "" {
			uniqueStaff[row.DispensedBy] = struct{}{}
		}
		dispenses[i] = dispenseEntry{
			ID:            row.ID,
			DispenseDate:  row.DispenseDate,
			QuantityUnits: row.QuantityUnits,
			DispensedBy:   row.DispensedBy,
			PatientInfo:   decodePatientInfo(row.PatientInfo),
			Notes:         row.Notes,
			Medication: dispenseMedicationRef{
				ID:          row.MedicationID,
				BrandName:   row.BrandName,
				GenericName: row.GenericName,
				Dosage:      row.Dosage,
				Form:        row.Form,
			},
			Batch: dispenseBatchRef{ID: row.BatchID, ExpirationDate: row.BatchExpiration},
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"event":     event,
		"dispenses": dispenses,
		"summary": map[string]any{
			"total_units":            totalUnits,
			"unique_medications":     len(uniqueMeds),
			"unique_staff":           len(uniqueStaff),
			"total_dispense_records": len(rows),
		},
	})
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validDate(strings.TrimSpace(req.EventDate)) {
		respondError(w, http.StatusBadRequest, "event_date must be in YYYY-MM-DD format")
		return
	}

	res, err := h.db.Exec(
		`UPDATE events SET name = ?, event_date = ?, location = ?, notes = ? WHERE id = ?`,
		strings.TrimSpace(req.Name), strings.TrimSpace(req.EventDate),
		strings.TrimSpace(req.Location), strings.TrimSpace(req.Notes), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update event")
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	var referenced bool
	err = h.db.Get(&referenced, `SELECT EXISTS(SELECT 1 FROM dispenses WHERE event_id = ?)`, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to check event references")
		return
	}
	if referenced {
		respondError(w, http.StatusConflict, "event has dispense history and cannot be deleted")
		return
	}

	res, err := h.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete event")
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Reference data handlers

func (h *Handler) listMolecules(w http.ResponseWriter, r *http.Request) {
	var molecules []domain.Molecule
	if err := h.db.Select(&molecules, `SELECT id, name FROM molecules ORDER BY name ASC`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list molecules")
		return
	}
	if molecules == nil {
		molecules = []domain.Molecule{}
	}
	respondJSON(w, http.StatusOK, molecules)
}

func (h *Handler) createMolecule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	res, err := h.db.Exec(`INSERT INTO molecules (name) VALUES (?)`, strings.TrimSpace(req.Name))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			respondError(w, http.StatusConflict, "molecule already exists")
		} else {
			respondError(w, http.StatusInternalServerError, "unable to create molecule")
		}
		return
	}
	id, _ := res.LastInsertId()
	respondJSON(w, http.StatusCreated, domain.Molecule{ID: id, Name: strings.TrimSpace(req.Name)})
}

func (h *Handler) deleteMolecule(w http.ResponseWriter, r *http.Request) {
	h.deleteReference(w, r, "molecules", "molecule")
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	var categories []domain.TherapeuticCategory
	err := h.db.Select(&categories,
		`SELECT id, name, parent_id, icon, level FROM therapeutic_categories ORDER BY level ASC, name ASC`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list categories")
		return
	}
	if categories == nil {
		categories = []domain.TherapeuticCategory{}
	}
	respondJSON(w, http.StatusOK, categories)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID *int64 `json:"parent_id"`
		Icon     string `json:"icon"`
		Level    int64  `json:"level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Level <= 0 {
		req.Level = 1
	}
	res, err := h.db.Exec(
		`INSERT INTO therapeutic_categories (name, parent_id, icon, level) VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(req.Name), req.ParentID, strings.TrimSpace(req.Icon), req.Level)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			respondError(w, http.StatusBadRequest, "invalid parent_id")
		} else {
			respondError(w, http.StatusInternalServerError, "unable to create category")
		}
		return
	}
	id, _ := res.LastInsertId()
	respondJSON(w, http.StatusCreated, domain.TherapeuticCategory{
		ID: id, Name: strings.TrimSpace(req.Name), ParentID: req.ParentID,
		Icon: strings.TrimSpace(req.Icon), Level: req.Level,
	})
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	h.deleteReference(w, r, "therapeutic_categories", "category")
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	var locations []domain.Location
	if err := h.db.Select(&locations, `SELECT id, name FROM locations ORDER BY name ASC`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list locations")
		return
	}
	if locations == nil {
		locations = []domain.Location{}
	}
	respondJSON(w, http.StatusOK, locations)
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	res, err := h.db.Exec(`INSERT INTO locations (name) VALUES (?)`, strings.TrimSpace(req.Name))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create location")
		return
	}
	id, _ := res.LastInsertId()
	respondJSON(w, http.StatusCreated, domain.Location{ID: id, Name: strings.TrimSpace(req.Name)})
}

func (h *Handler) deleteLocation(w http.ResponseWriter, r *http.Request) {
	h.deleteReference(w, r, "locations", "location")
}

// deleteReference deletes a row from a flat reference table, translating a
// foreign key violation into a conflict.
func (h *Handler) deleteReference(w http.ResponseWriter, r *http.Request, table, label string) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+label+" id")
		return
	}
	res, err := h.db.Exec(`DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			respondError(w, http.StatusConflict, label+" is still referenced")
		} else {
			respondError(w, http.StatusInternalServerError, "unable to delete "+label)
		}
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		respondError(w, http.StatusNotFound, label+" not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
