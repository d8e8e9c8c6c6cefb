// Package health serves liveness and readiness probes.
//
// Checks are evaluated in rounds: every interval all registered checks run
// concurrently and their results update per-check thresholds. A check turns
// unhealthy after failureThreshold consecutive failures and healthy again
// after successThreshold consecutive successes. Probe handlers only read the
// latest state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind of probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Option tunes a registered check.
type Option func(c *check)

// WithThresholds overrides the default failure (3) and success (1) thresholds.
func WithThresholds(failures, successes int) Option {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

type check struct {
	name             string
	kind             Kind
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	// Guarded by the round: one evaluation of a check at a time.
	fails, oks int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
}

func (c *check) evaluate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= c.successThreshold {
		c.healthy.Store(true)
	}
}

func (c *check) failure() string {
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

// Health holds registered checks and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu     sync.Mutex // guards checks and cancel
	checks []*check
	cancel context.CancelFunc
	round  sync.Mutex
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers a check. Checks start healthy.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	c := &check{
		name:             name,
		kind:             kind,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// AddLivenessCheck registers a process-level check.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.Add(Liveness, name, timeout, fn, opts...)
}

// AddReadinessCheck registers a dependency check such as a database ping.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.Add(Readiness, name, timeout, fn, opts...)
}

func (h *Health) snapshot(kind Kind) []*check {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*check
	for _, c := range h.checks {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// RunOnce evaluates every check of kind concurrently and returns the failures
// of this round keyed by check name.
func (h *Health) RunOnce(ctx context.Context, kind Kind) map[string]string {
	h.round.Lock()
	defer h.round.Unlock()

	checks := h.snapshot(kind)
	errs := make([]error, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			c.evaluate(ctx)
			if p := c.lastErr.Load(); p != nil {
				errs[i] = *p
			}
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[string]string)
	for i, err := range errs {
		if err != nil {
			failures[checks[i].name] = err.Error()
		}
	}
	return failures
}

// Start evaluates all checks every interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			h.RunOnce(ctx, Liveness)
			h.RunOnce(ctx, Readiness)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends background evaluation. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness flag, set false during shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the manual flag combined with readiness check state.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(Readiness))) == 0
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	checks, ok := report(h.snapshot(Liveness))
	writeResponse(w, checks, ok)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	checks, ok := report(h.snapshot(Readiness))
	if !h.ready.Load() {
		checks["_readiness"] = "service is not ready"
		ok = false
	}
	writeResponse(w, checks, ok)
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if !c.healthy.Load() {
			out[c.name] = c.failure()
		}
	}
	return out
}

// report maps every check to "ok" or its failure message.
func report(checks []*check) (map[string]string, bool) {
	out := make(map[string]string, len(checks))
	healthy := true
	for _, c := range checks {
		if c.healthy.Load() {
			out[c.name] = "ok"
			continue
		}
		out[c.name] = c.failure()
		healthy = false
	}
	return out, healthy
}

func writeResponse(w http.ResponseWriter, checks map[string]string, healthy bool) {
	resp := statusResponse{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
