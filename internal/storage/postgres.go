package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"gaitstream/internal/metrics"
	"gaitstream/internal/models"
)

// Postgres implements Gateway on top of PostgreSQL via lib/pq. Schema
// provisioning is an operational concern handled outside the service.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool against the given DSN and
// verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, ErrNotConfigured
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing handle; used by tests with sqlmock.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const insertSampleQuery = `
	INSERT INTO gait_records (
		patient_id, timestamp, walking_speed, step_length,
		walking_asymmetry, double_support_time, step_count,
		step_cadence, six_minute_walk_distance, speed_category, data_type
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id`

// PutSample stores one gait sample and returns the assigned record ID
func (p *Postgres) PutSample(ctx context.Context, sample *models.GaitSample) (string, error) {
	start := time.Now()

	var id string
	err := p.db.QueryRowContext(ctx, insertSampleQuery,
		sample.PatientID,
		sample.Timestamp,
		sample.WalkingSpeed,
		sample.StepLength,
		sample.WalkingAsymmetry,
		sample.DoubleSupportTime,
		sample.StepCount,
		sample.StepCadence,
		sample.SixMinuteWalkDistance,
		nullString(sample.SpeedCategory),
		string(sample.Source),
	).Scan(&id)

	metrics.PersistDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return "", fmt.Errorf("insert gait record: %w", err)
	}
	return id, nil
}

const querySamplesQuery = `
	SELECT id, patient_id, timestamp, walking_speed, step_length,
	       walking_asymmetry, double_support_time, step_count,
	       step_cadence, six_minute_walk_distance, speed_category,
	       data_type, created_at
	FROM gait_records
	WHERE patient_id = $1 AND timestamp >= $2
	ORDER BY timestamp DESC
	LIMIT $3`

// QuerySamples returns a patient's samples since the given instant
func (p *Postgres) QuerySamples(ctx context.Context, patientID string, since time.Time, limit int) ([]StoredSample, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := p.db.QueryContext(ctx, querySamplesQuery, patientID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query gait records: %w", err)
	}
	defer rows.Close()

	var samples []StoredSample
	for rows.Next() {
		var (
			s        StoredSample
			category sql.NullString
		)
		err := rows.Scan(
			&s.ID, &s.PatientID, &s.Timestamp,
			&s.WalkingSpeed, &s.StepLength, &s.WalkingAsymmetry,
			&s.DoubleSupportTime, &s.StepCount, &s.StepCadence,
			&s.SixMinuteWalkDistance, &category, &s.Source, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan gait record: %w", err)
		}
		s.SpeedCategory = category.String
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

const listPatientsQuery = `
	SELECT patient_id, COUNT(*) AS total_records,
	       MIN(timestamp) AS first_record, MAX(timestamp) AS last_update
	FROM gait_records
	GROUP BY patient_id
	ORDER BY last_update DESC
	LIMIT $1`

// ListPatients returns patients ordered by most recent activity
func (p *Postgres) ListPatients(ctx context.Context, limit int) ([]PatientActivity, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.db.QueryContext(ctx, listPatientsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var patients []PatientActivity
	for rows.Next() {
		var pa PatientActivity
		if err := rows.Scan(&pa.PatientID, &pa.TotalRecords, &pa.FirstRecord, &pa.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan patient activity: %w", err)
		}
		patients = append(patients, pa)
	}
	return patients, rows.Err()
}

const insertMedicationQuery = `
	INSERT INTO medication_changes (
		patient_id, change_date, medication_name,
		old_dosage, new_dosage, reason, pharmacist_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

// PutMedicationChange stores a medication change record
func (p *Postgres) PutMedicationChange(ctx context.Context, change *models.MedicationChange) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, insertMedicationQuery,
		change.PatientID,
		change.ChangeDate,
		change.MedicationName,
		change.OldDosage,
		change.NewDosage,
		change.Reason,
		change.PharmacistID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert medication change: %w", err)
	}
	return id, nil
}

const medicationHistoryQuery = `
	SELECT id, patient_id, change_date, medication_name,
	       old_dosage, new_dosage, reason, pharmacist_id, created_at
	FROM medication_changes
	WHERE patient_id = $1
	ORDER BY change_date DESC
	LIMIT $2`

// MedicationHistory returns a patient's medication changes, newest first
func (p *Postgres) MedicationHistory(ctx context.Context, patientID string, limit int) ([]StoredMedicationChange, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, medicationHistoryQuery, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query medication history: %w", err)
	}
	defer rows.Close()

	var changes []StoredMedicationChange
	for rows.Next() {
		var c StoredMedicationChange
		err := rows.Scan(
			&c.ID, &c.PatientID, &c.ChangeDate, &c.MedicationName,
			&c.OldDosage, &c.NewDosage, &c.Reason, &c.PharmacistID, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan medication change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

const getThresholdQuery = `
	SELECT walking_speed_threshold, asymmetry_threshold, double_support_threshold
	FROM patient_thresholds
	WHERE patient_id = $1`

// GetThresholdOverride returns the stored override, or nil when absent
func (p *Postgres) GetThresholdOverride(ctx context.Context, patientID string) (*models.ThresholdSet, error) {
	var set models.ThresholdSet
	err := p.db.QueryRowContext(ctx, getThresholdQuery, patientID).
		Scan(&set.SpeedMin, &set.AsymmetryMax, &set.DoubleSupportMax)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	return &set, nil
}

const upsertThresholdQuery = `
	INSERT INTO patient_thresholds (
		patient_id, walking_speed_threshold, asymmetry_threshold, double_support_threshold
	) VALUES ($1, $2, $3, $4)
	ON CONFLICT (patient_id)
	DO UPDATE SET
		walking_speed_threshold = EXCLUDED.walking_speed_threshold,
		asymmetry_threshold = EXCLUDED.asymmetry_threshold,
		double_support_threshold = EXCLUDED.double_support_threshold,
		updated_at = CURRENT_TIMESTAMP`

// PutThresholdOverride upserts the complete override set
func (p *Postgres) PutThresholdOverride(ctx context.Context, patientID string, set models.ThresholdSet) error {
	_, err := p.db.ExecContext(ctx, upsertThresholdQuery,
		patientID, set.SpeedMin, set.AsymmetryMax, set.DoubleSupportMax)
	if err != nil {
		return fmt.Errorf("upsert thresholds: %w", err)
	}
	return nil
}

const recentAlertsQuery = `
	SELECT patient_id, timestamp, walking_speed, walking_asymmetry, double_support_time
	FROM gait_records
	WHERE timestamp >= $1
	  AND (walking_speed < $2 OR walking_asymmetry > $3 OR double_support_time > $4)
	ORDER BY timestamp DESC
	LIMIT 100`

// QueryRecentAlerts reconstructs alerts from samples in the window,
// evaluated against the system default thresholds. Reporting surface
// only; live alerting uses per-patient overrides.
func (p *Postgres) QueryRecentAlerts(ctx context.Context, window time.Duration) ([]models.Alert, error) {
	since := time.Now().Add(-window)
	defaults := models.DefaultThresholds()

	rows, err := p.db.QueryContext(ctx, recentAlertsQuery,
		since, defaults.SpeedMin, defaults.AsymmetryMax, defaults.DoubleSupportMax)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var (
			patientID     string
			ts            time.Time
			speed         sql.NullFloat64
			asymmetry     sql.NullFloat64
			doubleSupport sql.NullFloat64
		)
		if err := rows.Scan(&patientID, &ts, &speed, &asymmetry, &doubleSupport); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}

		if speed.Valid && speed.Float64 < defaults.SpeedMin {
			alerts = append(alerts, models.Alert{
				Kind:      models.AlertSpeedLow,
				Severity:  models.SeverityHigh,
				PatientID: patientID,
				Timestamp: ts,
				Value:     speed.Float64,
				Threshold: defaults.SpeedMin,
				Message:   fmt.Sprintf("Low walking speed: %.2f m/s", speed.Float64),
			})
		}
		if asymmetry.Valid && asymmetry.Float64 > defaults.AsymmetryMax {
			alerts = append(alerts, models.Alert{
				Kind:      models.AlertAsymmetryHigh,
				Severity:  models.SeverityMedium,
				PatientID: patientID,
				Timestamp: ts,
				Value:     asymmetry.Float64,
				Threshold: defaults.AsymmetryMax,
				Message:   fmt.Sprintf("High asymmetry: %.1f%%", asymmetry.Float64),
			})
		}
		if doubleSupport.Valid && doubleSupport.Float64 > defaults.DoubleSupportMax {
			alerts = append(alerts, models.Alert{
				Kind:      models.AlertDoubleSupportHigh,
				Severity:  models.SeverityMedium,
				PatientID: patientID,
				Timestamp: ts,
				Value:     doubleSupport.Float64,
				Threshold: defaults.DoubleSupportMax,
				Message:   fmt.Sprintf("High double support: %.1f%%", doubleSupport.Float64),
			})
		}
	}
	return alerts, rows.Err()
}

// Stats returns system-wide record counts
func (p *Postgres) Stats(ctx context.Context) (SystemStats, error) {
	var stats SystemStats
	defaults := models.DefaultThresholds()
	dayAgo := time.Now().Add(-24 * time.Hour)

	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT patient_id), COUNT(*) FROM gait_records`).
		Scan(&stats.TotalPatients, &stats.TotalRecords)
	if err != nil {
		return stats, fmt.Errorf("query record counts: %w", err)
	}

	err = p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM gait_records WHERE timestamp >= $1`, dayAgo).
		Scan(&stats.RecentActivity)
	if err != nil {
		return stats, fmt.Errorf("query recent activity: %w", err)
	}

	err = p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM gait_records
		 WHERE timestamp >= $1
		   AND (walking_speed < $2 OR walking_asymmetry > $3 OR double_support_time > $4)`,
		dayAgo, defaults.SpeedMin, defaults.AsymmetryMax, defaults.DoubleSupportMax).
		Scan(&stats.RecentAlerts)
	if err != nil {
		return stats, fmt.Errorf("query recent alerts count: %w", err)
	}

	return stats, nil
}

// Ping verifies database connectivity
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
