// Package registry is the single source of truth for which producer
// and consumer connections are currently reachable. It owns the only
// shared mutable connection state in the process; all access goes
// through its methods.
package registry

import (
	"sync"

	"gaitstream/internal/logger"
	"gaitstream/internal/metrics"
)

// Conn is the minimal surface the registry needs from a connection.
// Implementations must serialize their own writes; the registry may
// call WriteJSON from multiple goroutines.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// ConsumerHandle identifies a registered consumer for later removal
type ConsumerHandle struct {
	conn Conn
}

// Registry tracks at most one producer connection per patient identity
// and an unbounded set of consumer connections.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Conn
	consumers map[*ConsumerHandle]struct{}
}

// New constructs an empty Registry
func New() *Registry {
	return &Registry{
		producers: make(map[string]Conn),
		consumers: make(map[*ConsumerHandle]struct{}),
	}
}

// RegisterProducer binds a producer connection to a patient identity.
// Any existing producer for that identity is replaced and closed: a
// wearable that reconnects supersedes its old, likely dead, connection.
func (r *Registry) RegisterProducer(patientID string, conn Conn) {
	r.mu.Lock()
	prior := r.producers[patientID]
	r.producers[patientID] = conn
	count := len(r.producers)
	r.mu.Unlock()

	metrics.ProducerConnections.Set(float64(count))

	if prior != nil {
		prior.Close()
		metrics.ProducerReplacedTotal.Inc()
		log := logger.WithComponent("registry")
		log.Info().
			Str("patient_id", patientID).
			Msg("replaced existing producer connection")
	}
}

// UnregisterProducer removes a producer binding. The conn argument
// guards against a stale connection's cleanup removing the replacement
// that superseded it; pass nil to remove unconditionally. Idempotent.
func (r *Registry) UnregisterProducer(patientID string, conn Conn) {
	r.mu.Lock()
	current, ok := r.producers[patientID]
	if ok && (conn == nil || current == conn) {
		delete(r.producers, patientID)
	}
	count := len(r.producers)
	r.mu.Unlock()

	metrics.ProducerConnections.Set(float64(count))
}

// Producer returns the live producer connection for a patient, if any
func (r *Registry) Producer(patientID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.producers[patientID]
	return conn, ok
}

// RegisterConsumer adds a consumer connection to the fan-out set and
// returns the handle used to remove it later.
func (r *Registry) RegisterConsumer(conn Conn) *ConsumerHandle {
	h := &ConsumerHandle{conn: conn}

	r.mu.Lock()
	r.consumers[h] = struct{}{}
	count := len(r.consumers)
	r.mu.Unlock()

	metrics.ConsumerConnections.Set(float64(count))
	return h
}

// UnregisterConsumer removes a consumer from the fan-out set. Idempotent.
func (r *Registry) UnregisterConsumer(h *ConsumerHandle) {
	if h == nil {
		return
	}

	r.mu.Lock()
	delete(r.consumers, h)
	count := len(r.consumers)
	r.mu.Unlock()

	metrics.ConsumerConnections.Set(float64(count))
}

// Broadcast sends a frame to every currently registered consumer.
// A failed send unregisters and closes that consumer; it never aborts
// delivery to the others and never surfaces to the caller.
func (r *Registry) Broadcast(v interface{}) {
	metrics.BroadcastsTotal.Inc()
	r.fanOut(v, "broadcast")
}

// fanOut delivers v to a snapshot of the consumer set and prunes any
// consumer whose send fails.
func (r *Registry) fanOut(v interface{}, cause string) {
	r.mu.RLock()
	snapshot := make([]*ConsumerHandle, 0, len(r.consumers))
	for h := range r.consumers {
		snapshot = append(snapshot, h)
	}
	r.mu.RUnlock()

	var dead []*ConsumerHandle
	for _, h := range snapshot {
		if err := h.conn.WriteJSON(v); err != nil {
			log := logger.WithComponent("registry")
			log.Debug().
				Err(err).
				Str("cause", cause).
				Msg("consumer send failed, pruning")
			dead = append(dead, h)
		}
	}

	for _, h := range dead {
		r.UnregisterConsumer(h)
		h.conn.Close()
		metrics.ConsumersPrunedTotal.WithLabelValues(cause).Inc()
	}
}

// Counts reports the current number of producers and consumers
func (r *Registry) Counts() (producers, consumers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers), len(r.consumers)
}

// CloseAll closes every registered connection. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	producers := r.producers
	consumers := r.consumers
	r.producers = make(map[string]Conn)
	r.consumers = make(map[*ConsumerHandle]struct{})
	r.mu.Unlock()

	for _, conn := range producers {
		conn.Close()
	}
	for h := range consumers {
		h.conn.Close()
	}

	metrics.ProducerConnections.Set(0)
	metrics.ConsumerConnections.Set(0)
}
