package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/response"
)

const readinessTimeout = 2 * time.Second

// HealthCheck is one named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// PendingCounter reports how many deadlines the scheduler is tracking.
type PendingCounter interface {
	Pending() int
}

// SystemHandler serves liveness and readiness probes.
type SystemHandler struct {
	startTime time.Time
	checks    []HealthCheck
	deadlines PendingCounter
	log       zerolog.Logger
}

func NewSystemHandler(deadlines PendingCounter, log zerolog.Logger, checks ...HealthCheck) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		checks:    checks,
		deadlines: deadlines,
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Liveness godoc
// GET /health
func (h *SystemHandler) Liveness(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

type readiness struct {
	Status           string            `json:"status"`
	Uptime           string            `json:"uptime"`
	Checks           map[string]string `json:"checks"`
	PendingDeadlines int               `json:"pending_deadlines"`
	Goroutines       int               `json:"goroutines"`
	HeapAlloc        uint64            `json:"heap_alloc"`
}

// Readiness godoc
// GET /health/ready
// Probes every dependency; 503 if any of them fails.
func (h *SystemHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	r := readiness{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(h.startTime)),
		Checks:     make(map[string]string, len(h.checks)),
		Goroutines: runtime.NumGoroutine(),
	}
	if h.deadlines != nil {
		r.PendingDeadlines = h.deadlines.Pending()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.HeapAlloc = ms.HeapAlloc

	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			h.log.Warn().Err(err).Str("check", check.Name).Msg("Readiness check failed")
			r.Checks[check.Name] = err.Error()
			r.Status = "degraded"
			continue
		}
		r.Checks[check.Name] = "ok"
	}

	status := http.StatusOK
	if r.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, r)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
