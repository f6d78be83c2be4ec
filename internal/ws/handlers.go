// Package ws exposes the two WebSocket endpoints: /ws for patient
// devices streaming samples and /alerts/ws for monitoring consoles
// subscribing to the alert stream.
package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gaitstream/internal/logger"
	"gaitstream/internal/models"
	"gaitstream/internal/pipeline"
	"gaitstream/internal/registry"
)

// Handler serves the WebSocket endpoints
type Handler struct {
	registry *registry.Registry
	pipeline *pipeline.Pipeline
	upgrader websocket.Upgrader

	writeTimeout time.Duration
	readLimit    int64
}

// NewHandler creates the WebSocket handler
func NewHandler(reg *registry.Registry, pipe *pipeline.Pipeline, writeTimeout time.Duration) *Handler {
	return &Handler{
		registry: reg,
		pipeline: pipe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Device and console clients connect cross-origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		readLimit:    1 << 20, // 1MB, bounds historical batch frames
	}
}

// errorFrame reports a rejected submission back to a producer
type errorFrame struct {
	Status    string    `json:"status"` // rejected
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ServeProducer handles a patient device connection. The handshake
// carries the patient identity as a query parameter; every frame after
// that is a sample submission processed in arrival order.
func (h *Handler) ServeProducer(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		http.Error(w, "patient_id query parameter is required", http.StatusBadRequest)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	raw.SetReadLimit(h.readLimit)

	conn := newConn(raw, h.writeTimeout)
	h.registry.RegisterProducer(patientID, conn)

	log := logger.WithPatient(patientID)
	log.Info().Msg("producer connected")

	defer func() {
		h.registry.UnregisterProducer(patientID, conn)
		conn.Close()
		log.Info().Msg("producer disconnected")
	}()

	for {
		var input models.SampleInput
		if err := raw.ReadJSON(&input); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("producer read error")
			}
			return
		}

		if err := h.handleFrame(r, conn, patientID, &input); err != nil {
			// Write failed: connection is gone
			return
		}
	}
}

// handleFrame dispatches one inbound frame to the pipeline and writes
// the acknowledgment. Returns an error only when the ack write fails.
func (h *Handler) handleFrame(r *http.Request, conn *wsConn, patientID string, input *models.SampleInput) error {
	ctx := r.Context()

	if input.IsBatch() {
		samples := make([]*models.GaitSample, 0, len(input.Records))
		for i := range input.Records {
			sample, err := input.Records[i].ToSample(patientID, models.SourceHistorical)
			if err != nil {
				// Count the malformed record as processed, skip it
				logger.WithPatient(patientID).Warn().Err(err).Int("index", i).Msg("malformed batch record")
				sample = &models.GaitSample{} // fails validation inside the pipeline
			}
			samples = append(samples, sample)
		}
		ack := h.pipeline.SubmitBatch(ctx, samples)
		return conn.WriteJSON(ack)
	}

	sample, err := input.ToSample(patientID, models.SourceRealTime)
	if err == nil {
		var ack models.Ack
		ack, err = h.pipeline.Submit(ctx, sample)
		if err == nil {
			return conn.WriteJSON(ack)
		}
	}

	// Validation failure: rejected before persistence
	return conn.WriteJSON(errorFrame{
		Status:    "rejected",
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// ServeConsumer handles a monitoring console connection. After the
// handshake confirmation the server only pushes alert and heartbeat
// frames; the read loop exists to notice the peer going away.
func (h *Handler) ServeConsumer(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newConn(raw, h.writeTimeout)
	log := logger.WithComponent("consumer_ws")

	if err := conn.WriteJSON(models.ConsumerHello{
		Type:      "connection_established",
		Message:   "Connected to alert stream",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		conn.Close()
		return
	}

	handle := h.registry.RegisterConsumer(conn)
	log.Info().Msg("consumer subscribed to alert stream")

	defer func() {
		h.registry.UnregisterConsumer(handle)
		conn.Close()
		log.Info().Msg("consumer unsubscribed")
	}()

	// Drain inbound frames; consumers send nothing of protocol
	// significance, but reading is required to process close frames.
	for {
		if _, _, err := raw.ReadMessage(); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) &&
				websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("consumer read error")
			}
			return
		}
	}
}
