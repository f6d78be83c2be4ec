package models

import (
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// SampleInput is the wire shape of one inbound gait record. The
// timestamp arrives as a string because device firmware disagrees on
// formats.
type SampleInput struct {
	PatientID             string   `json:"patient_id"`
	Timestamp             string   `json:"timestamp"`
	WalkingSpeed          *float64 `json:"walking_speed,omitempty"`
	StepLength            *float64 `json:"step_length,omitempty"`
	WalkingAsymmetry      *float64 `json:"walking_asymmetry,omitempty"`
	DoubleSupportTime     *float64 `json:"double_support_time,omitempty"`
	StepCount             *float64 `json:"step_count,omitempty"`
	StepCadence           *float64 `json:"step_cadence,omitempty"`
	SixMinuteWalkDistance *float64 `json:"six_minute_walk_distance,omitempty"`
	SpeedCategory         string   `json:"speed_category,omitempty"`
	DataType              string   `json:"data_type,omitempty"`

	// Batch shape: data_type = historical plus an ordered record list
	Records []SampleInput `json:"records,omitempty"`
}

// IsBatch reports whether the frame is a historical batch submission
func (in *SampleInput) IsBatch() bool {
	return SourceKind(in.DataType) == SourceHistorical && len(in.Records) > 0
}

// ToSample converts the wire record into a GaitSample. patientID is
// the identity bound at connection handshake; a patient_id in the
// payload overrides it.
func (in *SampleInput) ToSample(patientID string, kind SourceKind) (*GaitSample, error) {
	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return nil, err
	}

	if in.PatientID != "" {
		patientID = in.PatientID
	}

	sample := &GaitSample{
		PatientID:             patientID,
		Timestamp:             ts,
		WalkingSpeed:          in.WalkingSpeed,
		StepLength:            in.StepLength,
		WalkingAsymmetry:      in.WalkingAsymmetry,
		DoubleSupportTime:     in.DoubleSupportTime,
		StepCount:             in.StepCount,
		StepCadence:           in.StepCadence,
		SixMinuteWalkDistance: in.SixMinuteWalkDistance,
		SpeedCategory:         in.SpeedCategory,
		Source:                kind,
	}
	sample.Normalize()
	return sample, nil
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// Ack is the acknowledgment frame returned to a producer after a
// single-sample submission.
type Ack struct {
	Status          string    `json:"status"` // received or failed
	RecordID        *string   `json:"record_id"`
	AlertsTriggered int       `json:"alerts_triggered"`
	Timestamp       time.Time `json:"timestamp"`
}

// BatchAck is the acknowledgment frame for a historical batch.
type BatchAck struct {
	Status           string    `json:"status"` // batch_received
	RecordsProcessed int       `json:"records_processed"`
	RecordsStored    int       `json:"records_stored"`
	Timestamp        time.Time `json:"timestamp"`
}

// Heartbeat is the keepalive frame pushed to consumer connections.
type Heartbeat struct {
	Type      string    `json:"type"` // heartbeat
	Timestamp time.Time `json:"timestamp"`
}

// ConsumerHello confirms a consumer subscription after handshake.
type ConsumerHello struct {
	Type      string    `json:"type"` // connection_established
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
