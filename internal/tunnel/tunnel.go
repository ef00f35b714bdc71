package tunnel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"nablatun/internal/endpoint"
	"nablatun/internal/iface"
)

// ErrAlreadyRunning is returned by Start when the tunnel is already started.
var ErrAlreadyRunning = errors.New("tunnel: already running")

// defaultWaitMS is the poll granularity used by workers, matching the
// historical client's default.
const defaultWaitMS = 100

// Tunnel is the supervisor described in SPEC_FULL.md §3/§4.8: it owns the
// running/joined flags and the two mutexes that serialize start/stop
// against concurrent worker exit, and delegates all protocol behavior to a
// Variant.
//
// The run_mutex/join_mutex nesting order is always run_mutex -> join_mutex;
// workers never take join_mutex. This mirrors the historical C
// implementation exactly (see SPEC_FULL.md §9) rather than collapsing to a
// single atomic, because bug-compatible observation of running=false
// mid-iteration is a documented requirement.
type Tunnel struct {
	endpoint endpoint.Endpoint
	variant  Variant
	device   iface.Device
	log      Logger
	waitMS   int

	runMutex  sync.Mutex
	joinMutex sync.Mutex
	running   bool
	joined    bool

	beaterWG sync.WaitGroup
	beaterCh chan struct{}
}

// Init allocates a tunnel for ep, wiring device and log into the selected
// variant. On failure the variant's Destroy is called and the error is
// returned.
func Init(ep endpoint.Endpoint, variant Variant, device iface.Device, log Logger) (*Tunnel, error) {
	t := &Tunnel{
		endpoint: ep,
		variant:  variant,
		device:   device,
		log:      log,
		waitMS:   defaultWaitMS,
		joined:   true,
	}

	if err := variant.Init(ep, device, log, t.markDead); err != nil {
		_ = variant.Destroy()
		return nil, fmt.Errorf("tunnel: init: %w", err)
	}

	return t, nil
}

// markDead clears running under run_mutex. It's handed to the variant as
// onFatal so a reader/writer that hits a fatal I/O condition can signal the
// supervisor directly, instead of exiting silently and leaving Running()
// stuck true (DATA MODEL invariant (b), SPEC_FULL.md §4.8).
func (t *Tunnel) markDead() {
	t.runMutex.Lock()
	t.running = false
	t.runMutex.Unlock()
}

// Start locks run_mutex then join_mutex (always in that order), spawns the
// beater if the endpoint requires one, then calls the variant's Start
// (which spawns its own reader/writer workers).
func (t *Tunnel) Start() error {
	t.runMutex.Lock()
	t.joinMutex.Lock()
	defer t.joinMutex.Unlock()
	defer t.runMutex.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}
	t.running = true
	t.joined = false

	if t.endpoint.HasBeater() {
		t.beaterCh = make(chan struct{})
		t.beaterWG.Add(1)
		go t.runBeater(t.beaterCh)
	}

	if err := t.variant.Start(); err != nil {
		if t.beaterCh != nil {
			close(t.beaterCh)
			t.beaterWG.Wait()
			t.beaterCh = nil
		}
		t.running = false
		t.joined = true
		return fmt.Errorf("tunnel: start: %w", err)
	}

	return nil
}

// runBeater is the beater worker: two extra beats for AYIYA and one extra
// beat for heartbeat are bug-compatible quirks of the historical broker
// integration and are intentionally retained (SPEC_FULL.md §9).
func (t *Tunnel) runBeater(stop <-chan struct{}) {
	defer t.beaterWG.Done()

	switch t.endpoint.Type {
	case endpoint.AYIYA:
		t.variant.Beat()
		t.variant.Beat()
	case endpoint.Heartbeat:
		t.variant.Beat()
	}

	interval := time.Duration(t.endpoint.BeatInterval) * time.Second
	timeLeft := time.Duration(0)
	wait := time.Duration(t.waitMS) * time.Millisecond

	for {
		if timeLeft <= 0 {
			t.variant.Beat()
			timeLeft = interval
		}

		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
		timeLeft -= wait

		t.runMutex.Lock()
		running := t.running
		t.runMutex.Unlock()
		if !running {
			return
		}
	}
}

// Running reports whether the tunnel is currently started.
func (t *Tunnel) Running() bool {
	t.runMutex.Lock()
	defer t.runMutex.Unlock()
	return t.running
}

// Stop clears running under run_mutex, acquires join_mutex while still
// holding run_mutex, releases run_mutex, then joins the beater and calls
// the variant's Stop (which joins its own reader/writer). This ordering
// matches the historical tunnel_stop exactly; see SPEC_FULL.md §9 for the
// deadlock argument against concurrent Start.
func (t *Tunnel) Stop() error {
	t.runMutex.Lock()
	t.running = false

	t.joinMutex.Lock()
	t.runMutex.Unlock()
	defer t.joinMutex.Unlock()

	if t.joined {
		return nil
	}

	if t.beaterCh != nil {
		close(t.beaterCh)
		t.beaterWG.Wait()
		t.beaterCh = nil
	}

	err := t.variant.Stop()
	t.joined = true
	return err
}

// Destroy stops the tunnel (idempotent) and releases variant resources.
func (t *Tunnel) Destroy() error {
	stopErr := t.Stop()
	destroyErr := t.variant.Destroy()
	return errors.Join(stopErr, destroyErr)
}
