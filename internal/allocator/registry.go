// Package allocator arbitrates container slots across every worker process,
// enforcing per-user quotas. The in-process Registry holds the counts; the
// Server exposes them over a local RPC endpoint and the Client consumes it.
package allocator

import (
	"sync"

	"github.com/zeus-ci/zeus/internal/metrics"
)

// Registry tracks containers currently allocated per user. All operations
// are serialized by a single mutex; counts never go below zero.
type Registry struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{counts: make(map[string]int)}
}

// Request grants a slot iff the user's count stays within limit, and
// reports whether it was granted.
func (r *Registry) Request(username string, limit int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counts[username] >= limit {
		return false
	}
	r.counts[username]++
	metrics.ContainersInUse.WithLabelValues(username).Set(float64(r.counts[username]))
	return true
}

// Return releases a slot, clamped at zero so a restarted allocator or a
// double return never underflows.
func (r *Registry) Return(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counts[username] > 0 {
		r.counts[username]--
	}
	metrics.ContainersInUse.WithLabelValues(username).Set(float64(r.counts[username]))
}

// InUse returns the user's current allocation count.
func (r *Registry) InUse(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[username]
}
