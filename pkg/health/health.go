// Package health serves liveness and readiness endpoints for the store API.
//
// Every check is polled by its own goroutine. A check flips to unhealthy only
// after failureThreshold consecutive failures and back after successThreshold
// consecutive passes, so a single slow database ping does not take the pod out
// of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Option configures a Health.
type Option func(*Health)

// WithThresholds sets how many consecutive failures mark a check unhealthy
// and how many consecutive passes mark it healthy again. Values below one
// are ignored.
func WithThresholds(failures, successes int) Option {
	return func(h *Health) {
		if failures > 0 {
			h.failureThreshold = failures
		}
		if successes > 0 {
			h.successThreshold = successes
		}
	}
}

// check is a registered health check. Its counters belong to the polling goroutine;
// healthy and lastErr are read by HTTP handlers.
type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (c *check) isHealthy() bool { return c.healthy.Load() }

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once. Not safe for concurrent use.
func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	if err != nil {
		c.oks = 0
		if c.fails++; c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	if c.oks++; c.oks >= c.successThreshold {
		c.healthy.Store(true)
	}
}

// failure describes why the check is unhealthy, or "" if it is not.
func (c *check) failure() string {
	if c.isHealthy() {
		return ""
	}
	if err := c.lastError(); err != nil {
		return err.Error()
	}
	return "check is unhealthy"
}

// Health tracks liveness and readiness of the service.
type Health struct {
	ready atomic.Bool

	failureThreshold int
	successThreshold int

	mu              sync.RWMutex
	livenessChecks  []*check
	readinessChecks []*check
	cancel          context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true).
func New(opts ...Option) *Health {
	h := &Health{failureThreshold: 3, successThreshold: 1}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Health) newCheck(name string, timeout time.Duration, fn CheckFunc) *check {
	c := &check{
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: h.failureThreshold,
		successThreshold: h.successThreshold,
	}
	c.healthy.Store(true)
	return c
}

// AddLivenessCheck registers a check that decides whether the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessChecks = append(h.livenessChecks, h.newCheck(name, timeout, fn))
}

// AddReadinessCheck registers a check that decides whether the service
// should receive traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, h.newCheck(name, timeout, fn))
}

// Start polls every registered check at interval until ctx is done or Stop
// is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Concat(h.livenessChecks, h.readinessChecks)
	h.mu.Unlock()

	for _, c := range checks {
		go poll(ctx, c, interval)
	}
}

func poll(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

// Stop cancels polling. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the service ready after startup, or not ready while it
// drains on shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(false) {
		if !c.isHealthy() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(liveness bool) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if liveness {
		return slices.Clone(h.livenessChecks)
	}
	return slices.Clone(h.readinessChecks)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, failures(h.snapshot(true)))
}

// ReadyEndpoint serves /readyz. It fails while the service is not marked
// ready even if every check passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	f := failures(h.snapshot(false))
	if !h.ready.Load() {
		f["_readiness"] = "service is not ready"
	}
	writeResponse(w, f)
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if msg := c.failure(); msg != "" {
			out[c.name] = msg
		}
	}
	return out
}

// statusResponse is the endpoint body: {"status":"ok"} or
// {"status":"unhealthy","checks":{name: reason}}.
type statusResponse struct {
	Status string
	Checks map[string]string
}

// Encode writes checks in name order.
func (s *statusResponse) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(s.Status) })
		if len(s.Checks) == 0 {
			return
		}
		names := make([]string, 0, len(s.Checks))
		for name := range s.Checks {
			names = append(names, name)
		}
		slices.Sort(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(s.Checks[name]) })
				}
			})
		})
	})
}

// Decode reads a body written by Encode.
func (s *statusResponse) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			s.Status = v
			return err
		case "checks":
			s.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				v, err := d.Str()
				s.Checks[name] = v
				return err
			})
		default:
			return d.Skip()
		}
	})
}

func writeResponse(w http.ResponseWriter, failures map[string]string) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	var e jx.Encoder
	resp.Encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
