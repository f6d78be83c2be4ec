// Package pipeline turns one inbound gait payload into persisted state
// plus zero or more delivered alerts: persist, resolve thresholds,
// evaluate, broadcast. Persistence failures degrade to a failed
// acknowledgment; no alert is ever raised on unpersisted data.
package pipeline

import (
	"context"
	"time"

	"gaitstream/internal/evaluator"
	"gaitstream/internal/logger"
	"gaitstream/internal/metrics"
	"gaitstream/internal/models"
	"gaitstream/internal/storage"
	"gaitstream/internal/thresholds"
)

// Broadcaster fans an alert out to all live consumer connections
type Broadcaster interface {
	Broadcast(v interface{})
}

// AlertSink receives triggered alerts for out-of-band publication
type AlertSink interface {
	Export(alert models.Alert)
}

// Pipeline orchestrates the ingestion path for one submission at a
// time; each producer connection calls it sequentially, so per-patient
// FIFO ordering falls out of the connection's own read loop.
type Pipeline struct {
	gateway     storage.Gateway
	resolver    *thresholds.Resolver
	broadcaster Broadcaster
	sink        AlertSink
}

// New constructs a Pipeline. The sink may be nil.
func New(gateway storage.Gateway, resolver *thresholds.Resolver, broadcaster Broadcaster, sink AlertSink) *Pipeline {
	return &Pipeline{
		gateway:     gateway,
		resolver:    resolver,
		broadcaster: broadcaster,
		sink:        sink,
	}
}

// Submit runs the four-step sequence for a single sample. A validation
// failure is returned as an error before anything is persisted; a
// persistence failure is reported in the acknowledgment and skips
// evaluation entirely.
func (p *Pipeline) Submit(ctx context.Context, sample *models.GaitSample) (models.Ack, error) {
	sample.Normalize()
	if err := sample.Validate(); err != nil {
		metrics.SamplesIngestedTotal.WithLabelValues(string(sample.Source), "rejected").Inc()
		return models.Ack{}, err
	}

	log := logger.WithPatient(sample.PatientID)

	recordID, err := p.gateway.PutSample(ctx, sample)
	if err != nil {
		log.Error().Err(err).Msg("failed to persist gait sample")
		metrics.SamplesIngestedTotal.WithLabelValues(string(sample.Source), "failed").Inc()
		return models.Ack{
			Status:    "failed",
			RecordID:  nil,
			Timestamp: time.Now().UTC(),
		}, nil
	}

	metrics.SamplesIngestedTotal.WithLabelValues(string(sample.Source), "stored").Inc()

	set := p.resolver.Resolve(ctx, sample.PatientID)
	alerts := evaluator.Evaluate(sample, set)

	for _, alert := range alerts {
		metrics.AlertsTriggeredTotal.WithLabelValues(string(alert.Kind), string(alert.Severity)).Inc()
		p.broadcaster.Broadcast(alert)
		if p.sink != nil {
			p.sink.Export(alert)
		}
	}

	if len(alerts) > 0 {
		log.Info().
			Int("alerts", len(alerts)).
			Str("record_id", recordID).
			Msg("sample triggered alerts")
	}

	return models.Ack{
		Status:          "received",
		RecordID:        &recordID,
		AlertsTriggered: len(alerts),
		Timestamp:       time.Now().UTC(),
	}, nil
}

// SubmitBatch processes an ordered historical batch. Every sample goes
// through the same sequence independently; one sample failing to
// persist or validate does not abort the rest. The ack reports how
// many were attempted and how many were stored.
func (p *Pipeline) SubmitBatch(ctx context.Context, samples []*models.GaitSample) models.BatchAck {
	metrics.IngestBatchSize.Observe(float64(len(samples)))

	stored := 0
	for _, sample := range samples {
		sample.Source = models.SourceHistorical
		ack, err := p.Submit(ctx, sample)
		if err != nil {
			log := logger.WithComponent("pipeline")
			log.Warn().
				Err(err).
				Str("patient_id", sample.PatientID).
				Msg("batch sample rejected")
			continue
		}
		if ack.Status == "received" {
			stored++
		}
	}

	return models.BatchAck{
		Status:           "batch_received",
		RecordsProcessed: len(samples),
		RecordsStored:    stored,
		Timestamp:        time.Now().UTC(),
	}
}
