package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medcaravan/m/domain"
	"medcaravan/m/internal/config"
	"medcaravan/m/internal/dispense"
	"medcaravan/m/internal/logging"
	"medcaravan/m/internal/metrics"
	"medcaravan/m/internal/ratelimit"
)

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db      *sqlx.DB
	engine  *dispense.Engine
	cfg     config.Config
	limiter *ratelimit.Limiter
}

// New constructs a Handler.
func New(db *sqlx.DB, engine *dispense.Engine, cfg config.Config) *Handler {
	return &Handler{
		db:      db,
		engine:  engine,
		cfg:     cfg,
		limiter: ratelimit.New(cfg.RateLimitPerSec, cfg.RateLimitBurst),
	}
}

// Close releases the handler's background resources.
func (h *Handler) Close() {
	h.limiter.Close()
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"}, // Change "*" to a list of allowed domains (e.g., ["http://localhost:3000"])
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(slog.Default()))
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(h.limiter.Middleware)

	r.Get("/health", h.health)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Post("/dispense", h.createDispense)
	r.Get("/dispenses", h.listDispenses)

	r.Route("/medications", func(r chi.Router) {
		r.Get("/", h.listMedications)
		r.Post("/", h.createMedication)
		r.Get("/low-stock", h.lowStockMedications)
		r.Get("/{id}", h.getMedication)
		r.Put("/{id}", h.updateMedication)
		r.Delete("/{id}", h.deleteMedication)
	})

	r.Route("/batches", func(r chi.Router) {
		r.Get("/", h.listBatches)
		r.Post("/", h.createBatches)
		r.Get("/expiring", h.expiringBatches)
		r.Put("/{id}", h.updateBatch)
	})

	r.Route("/donations", func(r chi.Router) {
		r.Get("/", h.listDonations)
		r.Post("/", h.createDonation)
	})

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.listEvents)
		r.Post("/", h.createEvent)
		r.Get("/{id}", h.getEvent)
		r.Patch("/{id}", h.updateEvent)
		r.Delete("/{id}", h.deleteEvent)
	})

	r.Route("/molecules", func(r chi.Router) {
		r.Get("/", h.listMolecules)
		r.Post("/", h.createMolecule)
		r.Delete("/{id}", h.deleteMolecule)
	})

	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.listCategories)
		r.Post("/", h.createCategory)
		r.Delete("/{id}", h.deleteCategory)
	})

	r.Route("/locations", func(r chi.Router) {
		r.Get("/", h.listLocations)
		r.Post("/", h.createLocation)
		r.Delete("/{id}", h.deleteLocation)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Dispense handlers

type dispenseRequest struct {
	MedicationID  int64               `json:"medication_id"`
	QuantityUnits int64               `json:"quantity_units"`
	BatchID       *int64              `json:"batch_id"`
	EventID       *int64              `json:"event_id"`
	DispensedBy   string              `json:"dispensed_by"`
	PatientInfo   *domain.PatientInfo `json:"patient_info"`
	Notes         string              `json:"notes"`
}

type dispenseResponse struct {
	Success   bool                    `json:"success"`
	Dispenses []domain.DispenseRecord `json:"dispenses"`
}

func (h *Handler) createDispense(w http.ResponseWriter, r *http.Request) {
	var req dispenseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MedicationID <= 0 {
		respondError(w, http.StatusBadRequest, "medication_id is required")
		return
	}

	records, err := h.engine.Dispense(r.Context(), dispense.Request{
		MedicationID:  req.MedicationID,
		QuantityUnits: req.QuantityUnits,
		BatchID:       req.BatchID,
		EventID:       req.EventID,
		DispensedBy:   strings.TrimSpace(req.DispensedBy),
		PatientInfo:   req.PatientInfo,
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		status, message := dispenseError(err)
		metrics.DispensesTotal.WithLabelValues("rejected").Inc()
		respondError(w, status, message)
		return
	}

	metrics.DispensesTotal.WithLabelValues("dispensed").Inc()
	metrics.UnitsDispensedTotal.Add(float64(req.QuantityUnits))
	respondJSON(w, http.StatusCreated, dispenseResponse{Success: true, Dispenses: records})
}

// dispenseError maps engine errors to a status code and user-facing copy.
// Domain rejections get actionable messages; internal failures get a
// generic retry message without storage details.
func dispenseError(err error) (int, string) {
	switch {
	case errors.Is(err, dispense.ErrInsufficientStock):
		return http.StatusBadRequest, "Not enough stock to fulfill this dispense."
	case errors.Is(err, dispense.ErrInsufficientBatchStock):
		return http.StatusBadRequest, "Selected batch does not have enough units."
	case errors.Is(err, dispense.ErrInvalidArgument):
		if strings.Contains(err.Error(), "quantity") {
			return http.StatusBadRequest, "Quantity must be a positive number."
		}
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, dispense.ErrNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "Dispense failed, please try again."
	}
}

type dispenseRow struct {
	ID              int64   `db:"id"`
	DispenseDate    string  `db:"dispense_date"`
	QuantityUnits   int64   `db:"quantity_units"`
	DispensedBy     string  `db:"dispensed_by"`
	PatientInfo     *string `db:"patient_info"`
	Notes           string  `db:"notes"`
	MedicationID    int64   `db:"medication_id"`
	BrandName       string  `db:"brand_name"`
	GenericName     string  `db:"generic_name"`
	Dosage          string  `db:"dosage"`
	Form            string  `db:"form"`
	BatchID         int64   `db:"batch_id"`
	BatchExpiration *string `db:"batch_expiration"`
	EventID         *int64  `db:"event_id"`
	EventName       *string `db:"event_name"`
}

type dispenseMedicationRef struct {
	ID          int64  `json:"id"`
	BrandName   string `json:"brand_name"`
	GenericName string `json:"generic_name"`
	Dosage      string `json:"dosage"`
	Form        string `json:"form"`
}

type dispenseBatchRef struct {
	ID             int64   `json:"id"`
	ExpirationDate *string `json:"expiration_date,omitempty"`
}

type dispenseEventRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type dispenseEntry struct {
	ID            int64                 `json:"id"`
	DispenseDate  string                `json:"dispense_date"`
	QuantityUnits int64                 `json:"quantity_units"`
	DispensedBy   string                `json:"dispensed_by"`
	PatientInfo   *domain.PatientInfo   `json:"patient_info,omitempty"`
	Notes         string                `json:"notes"`
	Medication    dispenseMedicationRef `json:"medication"`
	Batch         dispenseBatchRef      `json:"batch"`
	Event         *dispenseEventRef     `json:"event,omitempty"`
}

func (h *Handler) listDispenses(w http.ResponseWriter, r *http.Request) {
	var (
		args    []any
		clauses []string
	)

	if eventID := strings.TrimSpace(r.URL.Query().Get("event_id")); eventID != "" {
		id, err := strconv.ParseInt(eventID, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid event_id")
			return
		}
		args = append(args, id)
		clauses = append(clauses, "d.event_id = ?")
	}
	if medicationID := strings.TrimSpace(r.URL.Query().Get("medication_id")); medicationID != "" {
		id, err := strconv.ParseInt(medicationID, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid medication_id")
			return
		}
		args = append(args, id)
		clauses = append(clauses, "d.medication_id = ?")
	}
	if staff := strings.TrimSpace(r.URL.Query().Get("dispensed_by")); staff != "" {
		args = append(args, "%"+strings.ToLower(staff)+"%")
		clauses = append(clauses, "LOWER(d.dispensed_by) LIKE ?")
	}
	if from := strings.TrimSpace(r.URL.Query().Get("date_from")); from != "" {
		if !validDate(from) {
			respondError(w, http.StatusBadRequest, "date_from must be in YYYY-MM-DD format")
			return
		}
		args = append(args, from)
		clauses = append(clauses, "d.dispense_date >= ?")
	}
	if to := strings.TrimSpace(r.URL.Query().Get("date_to")); to != "" {
		if !validDate(to) {
			respondError(w, http.StatusBadRequest, "date_to must be in YYYY-MM-DD format")
			return
		}
		args = append(args, to+"T23:59:59Z")
		clauses = append(clauses, "d.dispense_date <= ?")
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := h.db.Get(&total, "SELECT COUNT(*) FROM dispenses d"+where, args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to count dispenses")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	if limit > 500 {
		limit = 500
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	query := `SELECT d.id, d.dispense_date, d.quantity_units, d.dispensed_by, d.patient_info, d.notes,
	                 d.medication_id, m.brand_name, m.generic_name, m.dosage, m.form,
	                 d.batch_id, b.expiration_date AS batch_expiration,
	                 d.event_id, e.name AS event_name
	            FROM dispenses d
	            JOIN medications m ON m.id = d.medication_id
	            JOIN batches b ON b.id = d.batch_id
	            LEFT JOIN events e ON e.id = d.event_id` +
		where + " ORDER BY d.dispense_date DESC, d.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []dispenseRow
	if err := h.db.Select(&rows, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list dispenses")
		return
	}

	entries := make([]dispenseEntry, len(rows))
	for i, row := range rows {
		entries[i] = dispenseEntry{
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
		if row.EventID != nil {
			name := ""
			if row.EventName != nil {
				name = *row.EventName
			}
			entries[i].Event = &dispenseEventRef{ID: *row.EventID, Name: name}
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"dispenses": entries, "total": total})
}

func decodePatientInfo(raw *string) *domain.PatientInfo {
	if raw == nil || *raw == "" {
		return nil
	}
	var info domain.PatientInfo
	if err := json.Unmarshal([]byte(*raw), &info); err != nil {
		slog.Warn("unreadable patient info on ledger entry", "error", err)
		return nil
	}
	return &info
}

// Helpers

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func validDate(val string) bool {
	_, err := time.Parse("2006-01-02", val)
	return err == nil
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
