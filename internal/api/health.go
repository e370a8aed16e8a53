package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PersisterStatus exposes the batch persister's liveness.
type PersisterStatus interface {
	LastActivity() time.Time
	Pending() int
}

// HealthHandler reports the state of the process's dependencies.
type HealthHandler struct {
	Checks    map[string]Pinger
	Persister PersisterStatus
}

// Health answers 200 when every dependency responds and 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(gin.H, len(h.Checks))
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			log.Warn("Health check %s failed: %v", name, err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{"status": "ok", "checks": checks}
	if h.Persister != nil {
		body["persister"] = gin.H{
			"lastActivity": h.Persister.LastActivity().UTC(),
			"pending":      h.Persister.Pending(),
		}
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
