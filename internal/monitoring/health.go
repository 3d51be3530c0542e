package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker reports liveness of the tick pipeline for the /health
// endpoint. Degrades when no price tick has been processed recently.
type HealthChecker struct {
	mu          sync.RWMutex
	lastTick    time.Time
	staleAfter  time.Duration
	feedHealthy bool
	fatalErrors []string
}

// HealthStatus is the JSON body served on /health.
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastTick    time.Time `json:"last_tick"`
	FeedHealthy bool      `json:"feed_healthy"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a checker that degrades when no tick has been seen
// for staleAfter.
func NewHealthChecker(staleAfter time.Duration) *HealthChecker {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &HealthChecker{
		staleAfter:  staleAfter,
		fatalErrors: make([]string, 0),
	}
}

// TickProcessed marks the pipeline alive.
func (h *HealthChecker) TickProcessed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = time.Now()
	h.feedHealthy = true
}

// FeedFailed marks the price feed unhealthy until the next good tick.
func (h *HealthChecker) FeedFailed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feedHealthy = false
}

// RecordFatal appends an account-halting error to the health report.
func (h *HealthChecker) RecordFatal(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatalErrors = append(h.fatalErrors, msg)
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.feedHealthy || (!h.lastTick.IsZero() && time.Since(h.lastTick) > h.staleAfter) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(h.fatalErrors) > 0 {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastTick:    h.lastTick,
		FeedHealthy: h.feedHealthy,
		Uptime:      time.Since(startTime).String(),
		Errors:      h.fatalErrors,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
