// Package evaluator maps a gait sample and a threshold set to the
// alerts the sample triggers. Evaluation is a pure function: no I/O,
// no retained state, identical inputs always yield identical output.
package evaluator

import (
	"fmt"

	"gaitstream/internal/models"
)

// Evaluate applies the three clinical rules independently and returns
// every alert that fires. An absent metric never triggers its rule.
func Evaluate(sample *models.GaitSample, thresholds models.ThresholdSet) []models.Alert {
	var alerts []models.Alert

	if sample.WalkingSpeed != nil && *sample.WalkingSpeed < thresholds.SpeedMin {
		alerts = append(alerts, models.Alert{
			Kind:      models.AlertSpeedLow,
			Severity:  models.SeverityHigh,
			PatientID: sample.PatientID,
			Timestamp: sample.Timestamp,
			Value:     *sample.WalkingSpeed,
			Threshold: thresholds.SpeedMin,
			Message: fmt.Sprintf("Walking speed below threshold: %.2f m/s (threshold: %g m/s)",
				*sample.WalkingSpeed, thresholds.SpeedMin),
		})
	}

	if sample.WalkingAsymmetry != nil && *sample.WalkingAsymmetry > thresholds.AsymmetryMax {
		alerts = append(alerts, models.Alert{
			Kind:      models.AlertAsymmetryHigh,
			Severity:  models.SeverityMedium,
			PatientID: sample.PatientID,
			Timestamp: sample.Timestamp,
			Value:     *sample.WalkingAsymmetry,
			Threshold: thresholds.AsymmetryMax,
			Message: fmt.Sprintf("High gait asymmetry detected: %.1f%% (threshold: %g%%)",
				*sample.WalkingAsymmetry, thresholds.AsymmetryMax),
		})
	}

	if sample.DoubleSupportTime != nil && *sample.DoubleSupportTime > thresholds.DoubleSupportMax {
		alerts = append(alerts, models.Alert{
			Kind:      models.AlertDoubleSupportHigh,
			Severity:  models.SeverityMedium,
			PatientID: sample.PatientID,
			Timestamp: sample.Timestamp,
			Value:     *sample.DoubleSupportTime,
			Threshold: thresholds.DoubleSupportMax,
			Message: fmt.Sprintf("Increased double support time: %.1f%% (threshold: %g%%)",
				*sample.DoubleSupportTime, thresholds.DoubleSupportMax),
		})
	}

	return alerts
}
