package models

import "time"

// System-wide default alert boundaries, applied when a patient has no
// stored override.
const (
	DefaultSpeedMin         = 0.8  // m/s
	DefaultAsymmetryMax     = 10.0 // percent
	DefaultDoubleSupportMax = 30.0 // percent
)

// ThresholdSet holds the complete alert boundaries for one patient.
type ThresholdSet struct {
	// Walking speed below this triggers walking_speed_low
	SpeedMin float64 `json:"walking_speed_threshold"`

	// Asymmetry above this triggers asymmetry_high
	AsymmetryMax float64 `json:"asymmetry_threshold"`

	// Double support time above this triggers double_support_high
	DoubleSupportMax float64 `json:"double_support_threshold"`
}

// DefaultThresholds returns the system default set
func DefaultThresholds() ThresholdSet {
	return ThresholdSet{
		SpeedMin:         DefaultSpeedMin,
		AsymmetryMax:     DefaultAsymmetryMax,
		DoubleSupportMax: DefaultDoubleSupportMax,
	}
}

// ThresholdUpdate is a partial override: nil fields keep their prior
// value (or the default, if the patient had no override).
type ThresholdUpdate struct {
	SpeedMin         *float64 `json:"walking_speed_threshold,omitempty"`
	AsymmetryMax     *float64 `json:"asymmetry_threshold,omitempty"`
	DoubleSupportMax *float64 `json:"double_support_threshold,omitempty"`
}

// ApplyTo merges the update onto a base set and returns the result
func (u ThresholdUpdate) ApplyTo(base ThresholdSet) ThresholdSet {
	if u.SpeedMin != nil {
		base.SpeedMin = *u.SpeedMin
	}
	if u.AsymmetryMax != nil {
		base.AsymmetryMax = *u.AsymmetryMax
	}
	if u.DoubleSupportMax != nil {
		base.DoubleSupportMax = *u.DoubleSupportMax
	}
	return base
}

// MedicationChange records a dosage adjustment for later correlation
// with gait trends.
type MedicationChange struct {
	PatientID      string    `json:"patient_id"`
	ChangeDate     time.Time `json:"change_date"`
	MedicationName string    `json:"medication_name"`
	OldDosage      string    `json:"old_dosage"`
	NewDosage      string    `json:"new_dosage"`
	Reason         string    `json:"reason"`
	PharmacistID   string    `json:"pharmacist_id"`
}
