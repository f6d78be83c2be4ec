package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gaitstream/internal/models"
	"gaitstream/internal/pipeline"
	"gaitstream/internal/registry"
	"gaitstream/internal/storage"
	"gaitstream/internal/thresholds"
)

// fakeGateway is an in-memory Gateway good enough for handler tests
type fakeGateway struct {
	storage.Gateway

	samples    []*models.GaitSample
	overrides  map[string]models.ThresholdSet
	changes    []*models.MedicationChange
	recent     []models.Alert
	patients   []storage.PatientActivity
	statsValue storage.SystemStats
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{overrides: make(map[string]models.ThresholdSet)}
}

func (g *fakeGateway) PutSample(ctx context.Context, sample *models.GaitSample) (string, error) {
	g.samples = append(g.samples, sample)
	return "rec-1", nil
}

func (g *fakeGateway) QuerySamples(ctx context.Context, patientID string, since time.Time, limit int) ([]storage.StoredSample, error) {
	var out []storage.StoredSample
	for _, s := range g.samples {
		if s.PatientID == patientID {
			out = append(out, storage.StoredSample{ID: "rec-1", GaitSample: *s})
		}
	}
	return out, nil
}

func (g *fakeGateway) ListPatients(ctx context.Context, limit int) ([]storage.PatientActivity, error) {
	return g.patients, nil
}

func (g *fakeGateway) PutMedicationChange(ctx context.Context, change *models.MedicationChange) (string, error) {
	g.changes = append(g.changes, change)
	return "med-1", nil
}

func (g *fakeGateway) MedicationHistory(ctx context.Context, patientID string, limit int) ([]storage.StoredMedicationChange, error) {
	var out []storage.StoredMedicationChange
	for _, c := range g.changes {
		if c.PatientID == patientID {
			out = append(out, storage.StoredMedicationChange{ID: "med-1", MedicationChange: *c})
		}
	}
	return out, nil
}

func (g *fakeGateway) GetThresholdOverride(ctx context.Context, patientID string) (*models.ThresholdSet, error) {
	if set, ok := g.overrides[patientID]; ok {
		copied := set
		return &copied, nil
	}
	return nil, nil
}

func (g *fakeGateway) PutThresholdOverride(ctx context.Context, patientID string, set models.ThresholdSet) error {
	g.overrides[patientID] = set
	return nil
}

func (g *fakeGateway) QueryRecentAlerts(ctx context.Context, window time.Duration) ([]models.Alert, error) {
	return g.recent, nil
}

func (g *fakeGateway) Stats(ctx context.Context) (storage.SystemStats, error) {
	return g.statsValue, nil
}

func newTestMux(g *fakeGateway) (*http.ServeMux, *registry.Registry) {
	reg := registry.New()
	resolver := thresholds.New(g, nil)
	pipe := pipeline.New(g, resolver, reg, nil)

	mux := http.NewServeMux()
	NewHandler(g, resolver, pipe, reg).Register(mux)
	return mux, reg
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSubmitSample_HTTP(t *testing.T) {
	g := newFakeGateway()
	mux, _ := newTestMux(g)

	rec := doJSON(t, mux, http.MethodPost, "/api/gait-data", map[string]interface{}{
		"patient_id":    "patient-1",
		"timestamp":     time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
		"walking_speed": 0.5,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var ack models.Ack
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "received" {
		t.Errorf("expected received, got %q", ack.Status)
	}
	if ack.AlertsTriggered != 1 {
		t.Errorf("expected 1 alert for speed 0.5, got %d", ack.AlertsTriggered)
	}
	if len(g.samples) != 1 {
		t.Errorf("sample not persisted")
	}
}

func TestSubmitSample_RejectsMissingIdentity(t *testing.T) {
	g := newFakeGateway()
	mux, _ := newTestMux(g)

	rec := doJSON(t, mux, http.MethodPost, "/api/gait-data", map[string]interface{}{
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"walking_speed": 0.5,
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(g.samples) != 0 {
		t.Error("invalid sample reached storage")
	}
}

func TestGetThresholds_DefaultsWhenNoOverride(t *testing.T) {
	mux, _ := newTestMux(newFakeGateway())

	rec := doJSON(t, mux, http.MethodGet, "/api/patient/patient-1/thresholds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["walking_speed_threshold"] != 0.8 {
		t.Errorf("expected default speed threshold, got %v", resp["walking_speed_threshold"])
	}
}

func TestUpdateThresholds_PartialMerge(t *testing.T) {
	g := newFakeGateway()
	mux, _ := newTestMux(g)

	rec := doJSON(t, mux, http.MethodPost, "/api/patient/patient-1/thresholds", map[string]interface{}{
		"asymmetry_threshold": 18.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored := g.overrides["patient-1"]
	if stored.AsymmetryMax != 18.0 {
		t.Errorf("asymmetry not stored: %v", stored.AsymmetryMax)
	}
	// Unspecified fields keep the defaults, never zero
	if stored.SpeedMin != models.DefaultSpeedMin || stored.DoubleSupportMax != models.DefaultDoubleSupportMax {
		t.Errorf("partial update clobbered other fields: %+v", stored)
	}
}

func TestUpdateThresholds_RejectsNegative(t *testing.T) {
	mux, _ := newTestMux(newFakeGateway())

	rec := doJSON(t, mux, http.MethodPost, "/api/patient/patient-1/thresholds", map[string]interface{}{
		"walking_speed_threshold": -2.0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMedicationChangeRoundTrip(t *testing.T) {
	g := newFakeGateway()
	mux, _ := newTestMux(g)

	rec := doJSON(t, mux, http.MethodPost, "/api/medication-change", map[string]interface{}{
		"patient_id":      "patient-1",
		"medication_name": "tizanidine",
		"old_dosage":      "2mg",
		"new_dosage":      "4mg",
		"reason":          "increased spasticity",
		"pharmacist_id":   "ph-3",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/patient/patient-1/medication-history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var history []storage.StoredMedicationChange
	json.Unmarshal(rec.Body.Bytes(), &history)
	if len(history) != 1 || history[0].MedicationName != "tizanidine" {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestListPatients_EmptyIsJSONArray(t *testing.T) {
	mux, _ := newTestMux(newFakeGateway())

	rec := doJSON(t, mux, http.MethodGet, "/api/patients", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := bytes.TrimSpace(rec.Body.Bytes()); string(body) != "[]" {
		t.Errorf("expected empty JSON array, got %s", body)
	}
}

func TestRecentAlerts(t *testing.T) {
	g := newFakeGateway()
	g.recent = []models.Alert{{
		Kind:      models.AlertSpeedLow,
		Severity:  models.SeverityHigh,
		PatientID: "patient-1",
		Timestamp: time.Now(),
		Value:     0.4,
		Threshold: 0.8,
	}}
	mux, _ := newTestMux(g)

	rec := doJSON(t, mux, http.MethodGet, "/api/alerts/recent?hours=6", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var alerts []models.Alert
	json.Unmarshal(rec.Body.Bytes(), &alerts)
	if len(alerts) != 1 || alerts[0].Kind != models.AlertSpeedLow {
		t.Errorf("unexpected alerts: %+v", alerts)
	}
}

func TestStatsIncludesConnectionCounts(t *testing.T) {
	g := newFakeGateway()
	g.statsValue = storage.SystemStats{TotalPatients: 3, TotalRecords: 90}
	mux, reg := newTestMux(g)

	reg.RegisterConsumer(nopConn{})

	rec := doJSON(t, mux, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["total_patients"] != 3.0 {
		t.Errorf("expected 3 patients, got %v", resp["total_patients"])
	}
	if resp["consumer_connections"] != 1.0 {
		t.Errorf("expected 1 consumer, got %v", resp["consumer_connections"])
	}
}

type nopConn struct{}

func (nopConn) WriteJSON(v interface{}) error { return nil }
func (nopConn) Close() error                  { return nil }
