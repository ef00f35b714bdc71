// Package tunnel implements the per-tunnel supervisor: the state machine
// that constructs a variant, spawns its reader/writer/beater workers, and
// tears them down, matching the historical two-mutex lifecycle documented
// in SPEC_FULL.md §4.8 and §9.
package tunnel

import (
	"nablatun/internal/endpoint"
	"nablatun/internal/iface"
)

// Variant is the five-operation contract every tunnel strategy implements.
// The supervisor never inspects variant-private state; it only calls these
// methods and manages the shared running/joined bookkeeping around them.
type Variant interface {
	// Init allocates variant-private resources (sockets, derived secrets).
	// onFatal is called by a reader/writer worker the moment it detects a
	// fatal I/O condition and is about to exit, so the supervisor clears
	// running and the sibling worker observes the failure within one
	// waitms (DATA MODEL invariant (b), SPEC_FULL.md §4.8).
	Init(ep endpoint.Endpoint, vif iface.Device, log Logger, onFatal func()) error
	// Start spawns the reader and writer workers. It must return once both
	// are running; it does not block for their lifetime.
	Start() error
	// Stop signals the reader/writer to exit and waits for them to do so.
	Stop() error
	// Beat emits a single keep-alive. Only called if the endpoint has a
	// beater (endpoint.Endpoint.HasBeater).
	Beat()
	// Destroy releases variant-private resources. Called once, after Stop.
	Destroy() error
}

// Logger is the one-method sink every component logs through, matching the
// donor's infrastructure/logging.Logger shape.
type Logger interface {
	Printf(format string, v ...any)
}
