package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function, such as a Redis ping, to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// LiveCounter reports the sessions this instance drives.
type LiveCounter interface {
	LiveCount() int
}

// SystemHandler serves liveness and readiness probes.
type SystemHandler struct {
	deps      map[string]Pinger
	sessions  LiveCounter
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. deps are checked by Ready,
// keyed by the name reported in the payload.
func NewSystemHandler(deps map[string]Pinger, sessions LiveCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		deps:      deps,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"status":        "ok",
		"uptime":        time.Since(h.startTime).Round(time.Second).String(),
		"live_sessions": h.sessions.LiveCount(),
		"goroutines":    runtime.NumGoroutine(),
	})
}

// Ready godoc
// GET /ready
// Pings every dependency; any failure makes the instance unready.
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.deps))
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
			checks[name] = "down"
			ready = false
			continue
		}
		checks[name] = "up"
	}

	if !ready {
		response.FailWithData(c, http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks}, response.ErrServiceUnavailable)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ready", "checks": checks})
}
