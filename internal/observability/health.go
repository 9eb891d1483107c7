package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker manages liveness and readiness state. Readiness is the
// conjunction of named subsystems (feed, broadcast, projection, store)
// so a probe failure names the subsystem that is not up yet.
type HealthChecker struct {
	mu         sync.RWMutex
	subsystems map[string]bool
	startTime  time.Time
}

// NewHealthChecker creates a health checker with no subsystems; a
// checker with zero subsystems reports not ready.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		subsystems: make(map[string]bool),
		startTime:  time.Now(),
	}
}

// SetSubsystem records one subsystem's readiness.
func (h *HealthChecker) SetSubsystem(name string, ready bool) {
	h.mu.Lock()
	h.subsystems[name] = ready
	h.mu.Unlock()
}

// IsReady reports whether every registered subsystem is ready.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subsystems) == 0 {
		return false
	}
	for _, ok := range h.subsystems {
		if !ok {
			return false
		}
	}
	return true
}

// LivenessHandler returns HTTP 200 whenever the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 when all subsystems are ready, 503
// with the per-subsystem breakdown otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	detail := make(map[string]bool, len(h.subsystems))
	for k, v := range h.subsystems {
		detail[k] = v
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if h.IsReady() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "not_ready",
			"subsystems": detail,
		})
	}
}
