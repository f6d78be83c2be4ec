package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaitstream/internal/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Postgres) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gw := NewPostgresFromDB(db)
	return db, mock, gw
}

func f(v float64) *float64 { return &v }

func TestPutSample(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	sample := &models.GaitSample{
		PatientID:    "patient-1",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		WalkingSpeed: f(0.95),
		Source:       models.SourceRealTime,
	}

	mock.ExpectQuery(`INSERT INTO gait_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("abc-123"))

	id, err := gw.PutSample(context.Background(), sample)

	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSample_Error(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO gait_records`).
		WillReturnError(errors.New("connection refused"))

	_, err := gw.PutSample(context.Background(), &models.GaitSample{
		PatientID: "patient-1",
		Timestamp: time.Now(),
		Source:    models.SourceRealTime,
	})

	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetThresholdOverride_Found(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"walking_speed_threshold", "asymmetry_threshold", "double_support_threshold",
	}).AddRow(0.6, 15.0, 35.0)

	mock.ExpectQuery(`SELECT walking_speed_threshold`).
		WithArgs("patient-1").
		WillReturnRows(rows)

	set, err := gw.GetThresholdOverride(context.Background(), "patient-1")

	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, 0.6, set.SpeedMin)
	assert.Equal(t, 15.0, set.AsymmetryMax)
	assert.Equal(t, 35.0, set.DoubleSupportMax)
}

func TestGetThresholdOverride_AbsentIsNotAnError(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT walking_speed_threshold`).
		WithArgs("patient-1").
		WillReturnError(sql.ErrNoRows)

	set, err := gw.GetThresholdOverride(context.Background(), "patient-1")

	require.NoError(t, err)
	assert.Nil(t, set)
}

func TestPutThresholdOverride(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO patient_thresholds`).
		WithArgs("patient-1", 0.6, 15.0, 35.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := gw.PutThresholdOverride(context.Background(), "patient-1", models.ThresholdSet{
		SpeedMin: 0.6, AsymmetryMax: 15.0, DoubleSupportMax: 35.0,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerySamples(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "timestamp", "walking_speed", "step_length",
		"walking_asymmetry", "double_support_time", "step_count",
		"step_cadence", "six_minute_walk_distance", "speed_category",
		"data_type", "created_at",
	}).AddRow(
		"rec-1", "patient-1", ts, 0.9, nil,
		nil, nil, 4200.0,
		nil, nil, nil,
		"real_time", ts,
	)

	mock.ExpectQuery(`FROM gait_records`).
		WillReturnRows(rows)

	samples, err := gw.QuerySamples(context.Background(), "patient-1", ts.Add(-time.Hour), 100)

	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "rec-1", samples[0].ID)
	require.NotNil(t, samples[0].WalkingSpeed)
	assert.Equal(t, 0.9, *samples[0].WalkingSpeed)
	assert.Nil(t, samples[0].StepLength)
}

func TestListPatients(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"patient_id", "total_records", "first_record", "last_update"}).
		AddRow("patient-2", 120, now.Add(-48*time.Hour), now).
		AddRow("patient-1", 40, now.Add(-24*time.Hour), now.Add(-time.Hour))

	mock.ExpectQuery(`GROUP BY patient_id`).
		WillReturnRows(rows)

	patients, err := gw.ListPatients(context.Background(), 50)

	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, "patient-2", patients[0].PatientID)
	assert.Equal(t, 120, patients[0].TotalRecords)
}

func TestPutMedicationChange(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO medication_changes`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("med-1"))

	id, err := gw.PutMedicationChange(context.Background(), &models.MedicationChange{
		PatientID:      "patient-1",
		ChangeDate:     time.Now(),
		MedicationName: "baclofen",
		OldDosage:      "10mg",
		NewDosage:      "20mg",
		Reason:         "spasticity worsening",
		PharmacistID:   "ph-9",
	})

	require.NoError(t, err)
	assert.Equal(t, "med-1", id)
}

func TestQueryRecentAlerts_ReconstructsFromSamples(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	ts := time.Now().Add(-time.Hour)
	rows := sqlmock.NewRows([]string{
		"patient_id", "timestamp", "walking_speed", "walking_asymmetry", "double_support_time",
	}).
		// fires speed_low and asymmetry_high but not double_support_high
		AddRow("patient-1", ts, 0.5, 15.0, 20.0).
		// only double support fires; speed column absent
		AddRow("patient-2", ts, nil, nil, 45.0)

	mock.ExpectQuery(`FROM gait_records`).
		WillReturnRows(rows)

	alerts, err := gw.QueryRecentAlerts(context.Background(), 24*time.Hour)

	require.NoError(t, err)
	require.Len(t, alerts, 3)

	kinds := map[models.AlertKind]int{}
	for _, a := range alerts {
		kinds[a.Kind]++
	}
	assert.Equal(t, 1, kinds[models.AlertSpeedLow])
	assert.Equal(t, 1, kinds[models.AlertAsymmetryHigh])
	assert.Equal(t, 1, kinds[models.AlertDoubleSupportHigh])
}

func TestStats(t *testing.T) {
	db, mock, gw := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(DISTINCT patient_id\), COUNT\(\*\) FROM gait_records`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(12, 3400))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM gait_records WHERE timestamp`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(250))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM gait_records`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	stats, err := gw.Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 12, stats.TotalPatients)
	assert.Equal(t, 3400, stats.TotalRecords)
	assert.Equal(t, 250, stats.RecentActivity)
	assert.Equal(t, 7, stats.RecentAlerts)
}
