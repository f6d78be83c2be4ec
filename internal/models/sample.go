package models

import (
	"errors"
	"strings"
	"time"
)

// SourceKind distinguishes live device streams from backfilled history
type SourceKind string

const (
	SourceRealTime   SourceKind = "real_time"
	SourceHistorical SourceKind = "historical"
)

// GaitSample is a single gait observation from a wearable device.
// Metric fields are pointers because device capability varies; a nil
// field means the device did not report it, which is not the same as
// reporting zero.
type GaitSample struct {
	// Patient identity the sample belongs to
	PatientID string `json:"patient_id"`

	// Instant the observation was taken
	Timestamp time.Time `json:"timestamp"`

	// Optional gait metrics
	WalkingSpeed          *float64 `json:"walking_speed,omitempty"`
	StepLength            *float64 `json:"step_length,omitempty"`
	WalkingAsymmetry      *float64 `json:"walking_asymmetry,omitempty"`
	DoubleSupportTime     *float64 `json:"double_support_time,omitempty"`
	StepCount             *float64 `json:"step_count,omitempty"`
	StepCadence           *float64 `json:"step_cadence,omitempty"`
	SixMinuteWalkDistance *float64 `json:"six_minute_walk_distance,omitempty"`

	// Device-derived classification, stored verbatim
	SpeedCategory string `json:"speed_category,omitempty"`

	// Source of the sample: real_time or historical
	Source SourceKind `json:"data_type"`
}

// Validation errors
var (
	ErrEmptyPatientID   = errors.New("patient ID cannot be empty")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp  = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
	ErrInvalidSource    = errors.New("invalid data_type")
	ErrNegativeMetric   = errors.New("gait metric cannot be negative")
)

// Validate checks that the sample has an identity, a plausible timestamp,
// and non-negative metrics
func (s *GaitSample) Validate() error {
	if s.PatientID == "" {
		return ErrEmptyPatientID
	}

	if s.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}

	if s.Timestamp.After(time.Now().Add(time.Minute)) {
		return ErrFutureTimestamp
	}

	if !s.Source.IsValid() {
		return ErrInvalidSource
	}

	for _, v := range []*float64{
		s.WalkingSpeed, s.StepLength, s.WalkingAsymmetry,
		s.DoubleSupportTime, s.StepCount, s.StepCadence,
		s.SixMinuteWalkDistance,
	} {
		if v != nil && *v < 0 {
			return ErrNegativeMetric
		}
	}

	return nil
}

// IsValid checks if the source kind is valid
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceRealTime, SourceHistorical:
		return true
	default:
		return false
	}
}

// Normalize applies field normalization to a GaitSample
// - trims the patient ID
// - defaults Source to real_time when unset
func (s *GaitSample) Normalize() {
	s.PatientID = strings.TrimSpace(s.PatientID)
	s.SpeedCategory = strings.TrimSpace(s.SpeedCategory)

	if s.Source == "" {
		s.Source = SourceRealTime
	}
}
