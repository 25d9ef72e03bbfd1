// Package registry holds the process-wide map of loaded datasets. Every cube
// is shared across all concurrent viewers; the registry hands out the same
// handle to each of them and tracks last-access timestamps for eviction.
package registry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jvo203/fits-web-ql-sub000/internal/fits"
)

var datasetsResident = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fitswebql_datasets_resident",
	Help: "Number of datasets currently held in the registry",
})

// Registry is a concurrent map from dataset identifier to a shared Cube
// handle. Insert/remove take the writer lock; lookups take the reader lock.
// The cubes themselves carry their own reader-writer lock.
type Registry struct {
	mu       sync.RWMutex
	datasets map[string]*fits.Cube
	logger   *log.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		datasets: make(map[string]*fits.Cube),
		logger:   log.New(log.Writer(), "[Registry] ", log.LstdFlags),
	}
}

// GetOrInsertDummy atomically inserts a dummy placeholder when the identifier
// is absent. The boolean reports whether an insertion happened; the caller
// must spawn ingestion iff it did.
func (r *Registry) GetOrInsertDummy(id, flux string) (*fits.Cube, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cube, ok := r.datasets[id]; ok {
		return cube, false
	}

	cube := fits.NewCube(id, flux)
	r.datasets[id] = cube
	datasetsResident.Set(float64(len(r.datasets)))
	r.logger.Printf("inserted dummy dataset %s", id)
	return cube, true
}

// Read returns the shared handle for an identifier, or nil when absent.
func (r *Registry) Read(id string) (*fits.Cube, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cube, ok := r.datasets[id]
	return cube, ok
}

// Touch updates the last-access timestamp. No-op for unknown identifiers.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cube, ok := r.datasets[id]; ok {
		cube.Touch()
	}
}

// Remove unconditionally drops the entry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.datasets[id]; ok {
		delete(r.datasets, id)
		datasetsResident.Set(float64(len(r.datasets)))
		r.logger.Printf("%s has been expunged from memory", id)
	}
}

// Len reports the number of resident datasets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.datasets)
}

// EvictionCandidates yields the identifiers whose last access is older than
// the applicable inactivity threshold: dummyTimeout for cubes still loading,
// loadedTimeout for fully loaded ones.
func (r *Registry) EvictionCandidates(now time.Time, loadedTimeout, dummyTimeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []string
	for id, cube := range r.datasets {
		timeout := loadedTimeout
		if cube.IsDummy() {
			timeout = dummyTimeout
		}
		if now.Sub(cube.LastAccess()) > timeout {
			candidates = append(candidates, id)
		}
	}
	return candidates
}
