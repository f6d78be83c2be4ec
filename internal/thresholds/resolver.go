package thresholds

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"gaitstream/internal/logger"
	"gaitstream/internal/models"
	"gaitstream/internal/state"
	"gaitstream/internal/storage"
)

// lockStripes bounds the number of per-patient mutexes; updates to the
// same patient always hash to the same stripe, updates to different
// patients rarely contend.
const lockStripes = 64

// Resolver resolves the active alert thresholds for a patient and
// serializes override updates so a reader never observes a torn set.
type Resolver struct {
	gateway storage.Gateway
	cache   state.ThresholdCache
	locks   [lockStripes]sync.Mutex
}

// New constructs a Resolver over the given gateway and cache
func New(gateway storage.Gateway, cache state.ThresholdCache) *Resolver {
	if cache == nil {
		cache = state.NoopCache{}
	}
	return &Resolver{gateway: gateway, cache: cache}
}

// Resolve returns the patient's stored override, or the system defaults
// when none exists. It never fails: storage errors degrade to defaults
// so evaluation always has a complete set to work with.
func (r *Resolver) Resolve(ctx context.Context, patientID string) models.ThresholdSet {
	if set, err := r.cache.Get(ctx, patientID); err == nil {
		return set
	}

	override, err := r.gateway.GetThresholdOverride(ctx, patientID)
	if err != nil {
		log := logger.WithComponent("thresholds")
		log.Warn().
			Err(err).
			Str("patient_id", patientID).
			Msg("threshold lookup failed, using defaults")
		return models.DefaultThresholds()
	}

	set := models.DefaultThresholds()
	if override != nil {
		set = *override
	}

	if err := r.cache.Set(ctx, patientID, set); err != nil {
		log := logger.WithComponent("thresholds")
		log.Debug().Err(err).Msg("threshold cache set failed")
	}
	return set
}

// Update merges the partial update onto the patient's current set and
// stores the result. Fields absent from the update keep their prior
// value, or the default if the patient had no override. Concurrent
// updates to the same patient serialize on a striped lock so the
// stored set is never an interleaving of two updates.
func (r *Resolver) Update(ctx context.Context, patientID string, update models.ThresholdUpdate) (models.ThresholdSet, error) {
	lock := &r.locks[stripeFor(patientID)]
	lock.Lock()
	defer lock.Unlock()

	base := models.DefaultThresholds()
	current, err := r.gateway.GetThresholdOverride(ctx, patientID)
	if err != nil {
		return models.ThresholdSet{}, fmt.Errorf("read current thresholds: %w", err)
	}
	if current != nil {
		base = *current
	}

	merged := update.ApplyTo(base)
	if err := validate(merged); err != nil {
		return models.ThresholdSet{}, err
	}

	if err := r.gateway.PutThresholdOverride(ctx, patientID, merged); err != nil {
		return models.ThresholdSet{}, fmt.Errorf("store thresholds: %w", err)
	}

	if err := r.cache.Invalidate(ctx, patientID); err != nil {
		log := logger.WithComponent("thresholds")
		log.Warn().
			Err(err).
			Str("patient_id", patientID).
			Msg("threshold cache invalidation failed")
	}

	return merged, nil
}

// ErrInvalidThreshold rejects non-positive boundary values
var ErrInvalidThreshold = errors.New("threshold values must be positive")

func validate(set models.ThresholdSet) error {
	if set.SpeedMin <= 0 || set.AsymmetryMax <= 0 || set.DoubleSupportMax <= 0 {
		return ErrInvalidThreshold
	}
	return nil
}

func stripeFor(patientID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(patientID))
	return h.Sum32() % lockStripes
}
