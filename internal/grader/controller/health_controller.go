package controller

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/response"
)

const defaultPingTimeout = 2 * time.Second

// Pinger reports liveness of one backing component.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type component struct {
	name   string
	pinger Pinger
}

// HealthController answers liveness probes with a per-component ping
// summary.
type HealthController struct {
	components []component
	timeout    time.Duration
}

// NewHealthController creates a HealthController. A non-positive timeout
// falls back to two seconds per component.
func NewHealthController(timeout time.Duration) *HealthController {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return &HealthController{timeout: timeout}
}

// Add registers a named component to probe. Components are checked in
// registration order.
func (h *HealthController) Add(name string, p Pinger) *HealthController {
	h.components = append(h.components, component{name: name, pinger: p})
	return h
}

// Check pings every component and reports ok or degraded. A degraded
// summary still lists every component so operators see what exactly is
// down.
func (h *HealthController) Check(c *gin.Context) {
	summary := make(map[string]string, len(h.components))
	healthy := true
	for _, comp := range h.components {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		err := comp.pinger.Ping(ctx)
		cancel()
		if err != nil {
			summary[comp.name] = err.Error()
			healthy = false
			continue
		}
		summary[comp.name] = "ok"
	}

	if !healthy {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).WithDetail("components", summary))
		return
	}
	response.Success(c, HealthResponse{Status: "ok", Components: summary})
}

// HealthResponse summarizes component liveness.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}
