// Package health serves the liveness, readiness and dependency report of the merge service.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type probe struct {
	name     string
	pinger   Pinger
	required bool
}

// Checker pings the merge service's backing stores. Probes run concurrently, each bounded by Timeout.
type Checker struct {
	Timeout time.Duration

	probes  []probe
	started time.Time
	version string
	ready   atomic.Bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		Timeout: 5 * time.Second,
		started: time.Now(),
		version: version,
	}
}

// Add registers a probe. When an optional probe fails the report is degraded, not unhealthy.
// Probes must be added before the routes serve traffic.
func (c *Checker) Add(name string, pinger Pinger, required bool) {
	c.probes = append(c.probes, probe{name: name, pinger: pinger, required: required})
}

func (c *Checker) SetReady(ready bool) { c.ready.Store(ready) }

func (c *Checker) IsReady() bool { return c.ready.Load() }

// RegisterRoutes mounts the report on /api/v1/health with /live and /ready beneath it.
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/health")
	g.GET("", c.HealthHandler)
	g.GET("/live", c.LivenessHandler)
	g.GET("/ready", c.ReadinessHandler)
}

func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return c.write(ctx, c.report(StatusHealthy, nil))
}

func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		res := c.report(StatusUnhealthy, map[string]CheckResult{
			"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
		})
		res.Uptime = ""
		return c.write(ctx, res)
	}
	return c.HealthHandler(ctx)
}

func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks := c.Run(ctx.Request().Context())
	return c.write(ctx, c.report(overall(checks), checks))
}

// Run pings every probe and returns the results keyed by probe name.
func (c *Checker) Run(ctx context.Context) map[string]CheckResult {
	results := make(map[string]CheckResult, len(c.probes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range c.probes {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()
			res := c.ping(ctx, p)
			mu.Lock()
			results[p.name] = res
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return results
}

func (c *Checker) ping(ctx context.Context, p probe) CheckResult {
	failed := StatusDegraded
	if p.required {
		failed = StatusUnhealthy
	}
	if p.pinger == nil {
		return CheckResult{Status: failed, Message: p.name + " not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Ping(ctx)
	res := CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	if err != nil {
		res.Status = failed
		res.Message = err.Error()
	}
	return res
}

func (c *Checker) report(status Status, checks map[string]CheckResult) Response {
	return Response{
		Status:     status,
		Version:    c.version,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now().UTC(),
	}
}

func (c *Checker) write(ctx echo.Context, res Response) error {
	code := http.StatusOK
	if res.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, res)
}

func overall(checks map[string]CheckResult) Status {
	status := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if check.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
