// Package export publishes triggered alerts to a Kafka topic for
// downstream analytics and reporting. Export is best-effort and fully
// decoupled from the delivery path: a slow or unreachable broker never
// delays an acknowledgment or a console broadcast.
package export

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"gaitstream/internal/logger"
	"gaitstream/internal/metrics"
	"gaitstream/internal/models"
)

// Exporter drains a buffered alert channel and writes batches to
// Kafka. A nil-writer Exporter (no brokers configured) accepts and
// discards alerts, so callers never branch on whether export is on.
type Exporter struct {
	writer  *kafka.Writer
	alertCh chan models.Alert

	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc

	exported atomic.Uint64
	dropped  atomic.Uint64
}

// Config holds exporter configuration
type Config struct {
	Brokers      []string
	Topic        string
	BufferSize   int
	BatchSize    int
	BatchTimeout time.Duration
}

// New creates an Exporter. With no brokers configured the exporter is
// a no-op sink.
func New(cfg Config) *Exporter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}

	e := &Exporter{
		alertCh:      make(chan models.Alert, cfg.BufferSize),
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
	}

	if len(cfg.Brokers) > 0 {
		e.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{}, // partition by patient for per-patient ordering
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		}
	}

	return e
}

// Enabled reports whether a Kafka writer is configured
func (e *Exporter) Enabled() bool { return e.writer != nil }

// Export queues an alert for publication. Never blocks: when the
// buffer is full the alert is dropped and counted.
func (e *Exporter) Export(alert models.Alert) {
	if e.writer == nil {
		return
	}

	select {
	case e.alertCh <- alert:
	default:
		e.dropped.Add(1)
		metrics.AlertsExportedTotal.WithLabelValues("failed").Inc()
	}
}

// Start launches the drain loop
func (e *Exporter) Start() {
	if e.writer == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	log := logger.WithComponent("export")
	log.Info().
		Int("batch_size", e.batchSize).
		Dur("batch_timeout", e.batchTimeout).
		Msg("alert exporter started")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drain(ctx)
	}()
}

// drain accumulates alerts into batches and flushes on size or timeout
func (e *Exporter) drain(ctx context.Context) {
	batch := make([]models.Alert, 0, e.batchSize)
	timer := time.NewTimer(e.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Flush whatever is buffered before exiting
			for {
				select {
				case alert := <-e.alertCh:
					batch = append(batch, alert)
				default:
					e.flush(batch)
					return
				}
			}

		case alert := <-e.alertCh:
			batch = append(batch, alert)
			if len(batch) >= e.batchSize {
				e.flush(batch)
				batch = batch[:0]
				timer.Reset(e.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				e.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(e.batchTimeout)
		}
	}
}

// flush writes one batch to Kafka. Failures are logged and counted,
// never retried here; durable alert delivery is out of scope.
func (e *Exporter) flush(batch []models.Alert) {
	if len(batch) == 0 {
		return
	}

	log := logger.WithComponent("export")

	messages := make([]kafka.Message, 0, len(batch))
	for _, alert := range batch {
		data, err := json.Marshal(alert)
		if err != nil {
			log.Error().Err(err).Str("patient_id", alert.PatientID).Msg("failed to serialize alert")
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(alert.PatientID),
			Value: data,
			Time:  alert.Timestamp,
		})
	}
	if len(messages) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.writer.WriteMessages(ctx, messages...); err != nil {
		log.Error().Err(err).Int("batch_size", len(messages)).Msg("failed to export alert batch")
		metrics.AlertsExportedTotal.WithLabelValues("failed").Add(float64(len(messages)))
		return
	}

	e.exported.Add(uint64(len(messages)))
	metrics.AlertsExportedTotal.WithLabelValues("success").Add(float64(len(messages)))
}

// Stop flushes pending alerts and closes the writer
func (e *Exporter) Stop() {
	if e.writer == nil {
		return
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if err := e.writer.Close(); err != nil {
		log := logger.WithComponent("export")
		log.Error().Err(err).Msg("kafka writer close error")
	}
}

// Stats returns exporter counters
func (e *Exporter) Stats() (exported, dropped uint64) {
	return e.exported.Load(), e.dropped.Load()
}
