// Package health tracks gateway readiness and serves HTTP probe handlers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// probeTimeout bounds each dependency check so a hung engine cannot
// stall the readiness endpoint.
const probeTimeout = 2 * time.Second

// Probe checks one dependency, such as the query engine or the audit
// database.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Checker tracks the readiness state of the gateway and the health of
// its dependencies. It is safe for concurrent use.
type Checker struct {
	state  atomic.Int32
	probes []Probe
}

// NewChecker creates a Checker in the Starting state. Probes run on
// every readiness request once the gateway is ready.
func NewChecker(probes ...Probe) *Checker {
	return &Checker{probes: probes}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
// Use this for K8s livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when the
// gateway is ready and every dependency probe passes, 503 otherwise.
// Use this for K8s readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: c.State()})
			return
		}
		checks, healthy := c.runProbes(r.Context())
		if !healthy {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Checks: checks})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: c.State(), Checks: checks})
	}
}

func (c *Checker) runProbes(ctx context.Context) (map[string]string, bool) {
	if len(c.probes) == 0 {
		return nil, true
	}
	checks := make(map[string]string, len(c.probes))
	healthy := true
	for _, p := range c.probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Check(probeCtx)
		cancel()
		if err != nil {
			checks[p.Name] = err.Error()
			healthy = false
			continue
		}
		checks[p.Name] = "ok"
	}
	return checks, healthy
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
