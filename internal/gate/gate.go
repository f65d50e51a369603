// Package gate holds the process-wide credential gate. Every worker that
// would mutate state checks IsEnabled first; any worker that observes an
// auth failure from the provider disables the gate, and only a successful
// bootstrap re-enables it.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/driveshadow/driveshadow/internal/graph"
)

// Reason explains why credential validation failed.
type Reason string

const (
	ReasonExpired   Reason = "expired"   // HTTP 401
	ReasonForbidden Reason = "forbidden" // HTTP 403
	ReasonTransport Reason = "transport" // network / 5xx / rate limit exhaustion
	ReasonUnknown   Reason = "unknown"
)

// ValidationError reports a failed credential probe.
type ValidationError struct {
	Reason Reason
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("credential validation failed (%s): %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Prober is the slice of the provider gateway the gate needs.
type Prober interface {
	ProbeIdentity(ctx context.Context, bearer string) (*graph.Identity, error)
}

// Gate is the process-wide enabled flag plus the credential probe.
//
// The flag is deliberately not durable: a restart begins disabled, forcing
// bootstrap to re-validate the bearer before any work resumes. Reads are
// lock-free; writes are atomic.
type Gate struct {
	enabled atomic.Bool
	prober  Prober
}

// New creates a gate in the given initial state.
func New(prober Prober, initiallyEnabled bool) *Gate {
	g := &Gate{prober: prober}
	g.enabled.Store(initiallyEnabled)
	return g
}

// Validate probes the provider with the bearer credential. On success it
// returns the caller's identity; on failure a *ValidationError whose Reason
// maps the probe outcome. Validate never panics and never returns a raw
// transport error.
func (g *Gate) Validate(ctx context.Context, bearer string) (*graph.Identity, error) {
	id, err := g.prober.ProbeIdentity(ctx, bearer)
	if err == nil {
		return id, nil
	}

	var ge *graph.Error
	if !errors.As(err, &ge) {
		return nil, &ValidationError{Reason: ReasonUnknown, Err: err}
	}
	switch {
	case ge.Status == http.StatusUnauthorized:
		return nil, &ValidationError{Reason: ReasonExpired, Err: err}
	case ge.Status == http.StatusForbidden:
		return nil, &ValidationError{Reason: ReasonForbidden, Err: err}
	case ge.Class == graph.ClassTransient || ge.Class == graph.ClassRateLimited:
		return nil, &ValidationError{Reason: ReasonTransport, Err: err}
	default:
		return nil, &ValidationError{Reason: ReasonUnknown, Err: err}
	}
}

// Enable marks the gate open. Called by bootstrap after a successful
// validation + initial sync.
func (g *Gate) Enable() { g.enabled.Store(true) }

// Disable marks the gate closed. Called by any worker that observes an
// auth failure.
func (g *Gate) Disable() { g.enabled.Store(false) }

// IsEnabled reports whether downstream processing may run.
func (g *Gate) IsEnabled() bool { return g.enabled.Load() }
