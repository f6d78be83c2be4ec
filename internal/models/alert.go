package models

import "time"

// AlertKind identifies which clinical rule fired
type AlertKind string

const (
	AlertSpeedLow          AlertKind = "walking_speed_low"
	AlertAsymmetryHigh     AlertKind = "asymmetry_high"
	AlertDoubleSupportHigh AlertKind = "double_support_high"
)

// Severity ranks how urgently a console should surface an alert
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Alert is one threshold violation derived from a single sample. Alerts
// are produced fresh per evaluation, never mutated, and handed to the
// registry for fan-out.
type Alert struct {
	Kind      AlertKind `json:"type"`
	Severity  Severity  `json:"severity"`
	PatientID string    `json:"patient_id"`
	Timestamp time.Time `json:"timestamp"`

	// Observed metric value and the threshold it violated
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`

	// Human-readable summary for console display
	Message string `json:"message"`
}
