// Package api is the synchronous query surface: request/response reads
// and writes against the persistence gateway, outside the streaming
// hot path.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gaitstream/internal/logger"
	"gaitstream/internal/models"
	"gaitstream/internal/pipeline"
	"gaitstream/internal/registry"
	"gaitstream/internal/storage"
	"gaitstream/internal/thresholds"
)

// Handler serves the REST endpoints
type Handler struct {
	gateway  storage.Gateway
	resolver *thresholds.Resolver
	pipeline *pipeline.Pipeline
	registry *registry.Registry
}

// NewHandler creates the REST handler
func NewHandler(gateway storage.Gateway, resolver *thresholds.Resolver, pipe *pipeline.Pipeline, reg *registry.Registry) *Handler {
	return &Handler{
		gateway:  gateway,
		resolver: resolver,
		pipeline: pipe,
		registry: reg,
	}
}

// Register wires the endpoints onto the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/gait-data", h.submitSample)
	mux.HandleFunc("GET /api/patients", h.listPatients)
	mux.HandleFunc("GET /api/patient/{id}/data", h.patientData)
	mux.HandleFunc("GET /api/patient/{id}/thresholds", h.getThresholds)
	mux.HandleFunc("POST /api/patient/{id}/thresholds", h.updateThresholds)
	mux.HandleFunc("POST /api/medication-change", h.logMedicationChange)
	mux.HandleFunc("GET /api/patient/{id}/medication-history", h.medicationHistory)
	mux.HandleFunc("GET /api/alerts/recent", h.recentAlerts)
	mux.HandleFunc("GET /api/stats", h.stats)
}

// submitSample is the HTTP alternative to the producer WebSocket
func (h *Handler) submitSample(w http.ResponseWriter, r *http.Request) {
	var input models.SampleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sample, err := input.ToSample("", models.SourceRealTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := h.pipeline.Submit(r.Context(), sample)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if ack.Status == "failed" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, ack)
}

// listPatients returns patients with recent recorded activity
func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.gateway.ListPatients(r.Context(), 50)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("failed to list patients")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if patients == nil {
		patients = []storage.PatientActivity{}
	}
	writeJSON(w, http.StatusOK, patients)
}

// patientData returns a patient's recent samples
func (h *Handler) patientData(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	days := queryInt(r, "days", 30)

	since := time.Now().AddDate(0, 0, -days)
	samples, err := h.gateway.QuerySamples(r.Context(), patientID, since, 1000)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Str("patient_id", patientID).Msg("failed to query samples")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if samples == nil {
		samples = []storage.StoredSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// getThresholds returns the patient's active thresholds
func (h *Handler) getThresholds(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	set := h.resolver.Resolve(r.Context(), patientID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient_id":               patientID,
		"walking_speed_threshold":  set.SpeedMin,
		"asymmetry_threshold":      set.AsymmetryMax,
		"double_support_threshold": set.DoubleSupportMax,
	})
}

// updateThresholds applies a partial override update
func (h *Handler) updateThresholds(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	var update models.ThresholdUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	merged, err := h.resolver.Update(r.Context(), patientID, update)
	if err != nil {
		if errors.Is(err, thresholds.ErrInvalidThreshold) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.WithComponent("api").Error().Err(err).Str("patient_id", patientID).Msg("threshold update failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"patient_id": patientID,
		"thresholds": merged,
		"updated_at": time.Now().UTC(),
	})
}

// logMedicationChange appends a medication change record
func (h *Handler) logMedicationChange(w http.ResponseWriter, r *http.Request) {
	var change models.MedicationChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if change.PatientID == "" {
		writeError(w, http.StatusBadRequest, "patient_id is required")
		return
	}
	if change.ChangeDate.IsZero() {
		change.ChangeDate = time.Now().UTC()
	}

	id, err := h.gateway.PutMedicationChange(r.Context(), &change)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("failed to log medication change")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"id":     id,
	})
}

// medicationHistory returns a patient's medication changes
func (h *Handler) medicationHistory(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	changes, err := h.gateway.MedicationHistory(r.Context(), patientID, 100)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("failed to query medication history")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if changes == nil {
		changes = []storage.StoredMedicationChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// recentAlerts returns alerts reconstructed from recent samples
func (h *Handler) recentAlerts(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)

	alerts, err := h.gateway.QueryRecentAlerts(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("failed to query recent alerts")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// stats returns system-wide counts plus live connection totals
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	dbStats, err := h.gateway.Stats(r.Context())
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("failed to query stats")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	producers, consumers := h.registry.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_patients":       dbStats.TotalPatients,
		"total_records":        dbStats.TotalRecords,
		"recent_activity_24h":  dbStats.RecentActivity,
		"recent_alerts_24h":    dbStats.RecentAlerts,
		"active_connections":   producers,
		"consumer_connections": consumers,
		"timestamp":            time.Now().UTC(),
	})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
