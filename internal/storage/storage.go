package storage

import (
	"context"
	"errors"
	"time"

	"gaitstream/internal/models"
)

// Storage errors
var (
	ErrNotConfigured = errors.New("storage is not configured")
	ErrNotFound      = errors.New("record not found")
)

// PatientActivity summarizes one patient's recorded history
type PatientActivity struct {
	PatientID    string    `json:"patient_id"`
	TotalRecords int       `json:"total_records"`
	FirstRecord  time.Time `json:"first_record"`
	LastUpdate   time.Time `json:"last_update"`
}

// StoredSample is a persisted gait record with its assigned ID
type StoredSample struct {
	ID string `json:"id"`
	models.GaitSample
	CreatedAt time.Time `json:"created_at"`
}

// StoredMedicationChange is a persisted medication change with its ID
type StoredMedicationChange struct {
	ID string `json:"id"`
	models.MedicationChange
	CreatedAt time.Time `json:"created_at"`
}

// SystemStats aggregates record counts for the stats endpoint
type SystemStats struct {
	TotalPatients  int `json:"total_patients"`
	TotalRecords   int `json:"total_records"`
	RecentActivity int `json:"recent_activity_24h"`
	RecentAlerts   int `json:"recent_alerts_24h"`
}

// Gateway is the persistence contract the pipeline and the query
// surface depend on. The pipeline only ever calls PutSample and the
// threshold methods; everything else serves the REST reads.
type Gateway interface {
	// PutSample durably stores one gait sample and returns its record ID
	PutSample(ctx context.Context, sample *models.GaitSample) (string, error)

	// QuerySamples returns a patient's samples since the given instant,
	// newest first
	QuerySamples(ctx context.Context, patientID string, since time.Time, limit int) ([]StoredSample, error)

	// ListPatients returns patients ordered by most recent activity
	ListPatients(ctx context.Context, limit int) ([]PatientActivity, error)

	// PutMedicationChange stores a medication change record
	PutMedicationChange(ctx context.Context, change *models.MedicationChange) (string, error)

	// MedicationHistory returns a patient's medication changes, newest first
	MedicationHistory(ctx context.Context, patientID string, limit int) ([]StoredMedicationChange, error)

	// GetThresholdOverride returns the stored override, or nil when the
	// patient has none. Absence is not an error.
	GetThresholdOverride(ctx context.Context, patientID string) (*models.ThresholdSet, error)

	// PutThresholdOverride upserts the complete override set
	PutThresholdOverride(ctx context.Context, patientID string, set models.ThresholdSet) error

	// QueryRecentAlerts reconstructs alerts from samples stored within
	// the window, evaluated against default thresholds
	QueryRecentAlerts(ctx context.Context, window time.Duration) ([]models.Alert, error)

	// Stats returns system-wide record counts
	Stats(ctx context.Context) (SystemStats, error)

	// Ping verifies connectivity for health checks
	Ping(ctx context.Context) error

	Close() error
}
