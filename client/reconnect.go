package client

import (
	"paste-server/clock"
	"sync"
	"time"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Policy spaces reconnect attempts. With Multiplier 1 every retry waits
// Delay; larger multipliers grow the wait per consecutive failure up to
// MaxDelay.
type Policy struct {
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

const DefaultReconnectDelay = 2 * time.Second

func DefaultPolicy() Policy {
	return Policy{Delay: DefaultReconnectDelay, Multiplier: 1}
}

func (p Policy) delay(failures int) time.Duration {
	d := p.Delay
	if d <= 0 {
		d = DefaultReconnectDelay
	}
	if p.Multiplier > 1 {
		for i := 1; i < failures; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Reconnector is the connection state machine. connect is called to
// begin an attempt and must report back through Opened or Failed; a
// live connection that drops reports Closed. Retries continue until
// Stop.
type Reconnector struct {
	clock   clock.Clock
	policy  Policy
	connect func()

	mu       sync.Mutex
	state    State
	failures int
	timer    *clock.Timer
	stopped  bool
}

func NewReconnector(c clock.Clock, policy Policy, connect func()) *Reconnector {
	if c == nil {
		c = clock.Real()
	}
	return &Reconnector{clock: c, policy: policy, connect: connect}
}

// Start makes the first attempt. It does nothing once started.
func (r *Reconnector) Start() {
	r.mu.Lock()
	if r.stopped || r.state != Disconnected || r.timer != nil {
		r.mu.Unlock()
		return
	}
	r.state = Connecting
	r.mu.Unlock()
	r.connect()
}

// Opened records a successful attempt.
func (r *Reconnector) Opened() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.state = Connected
	r.failures = 0
}

// Failed records an attempt that never connected.
func (r *Reconnector) Failed() { r.lost(Connecting) }

// Closed records the loss of a live connection.
func (r *Reconnector) Closed() { r.lost(Connected) }

func (r *Reconnector) lost(from State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.state != from {
		return
	}
	r.state = Disconnected
	r.failures++
	r.timer = r.clock.AfterFunc(r.policy.delay(r.failures), r.retry)
}

func (r *Reconnector) retry() {
	r.mu.Lock()
	r.timer = nil
	if r.stopped || r.state != Disconnected {
		r.mu.Unlock()
		return
	}
	r.state = Connecting
	r.mu.Unlock()
	r.connect()
}

// Stop cancels any pending retry and ignores later reports.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.state = Disconnected
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempt is the number of consecutive failures since the last
// successful connection.
func (r *Reconnector) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// NextDelay is the wait before the next retry after n consecutive
// failures.
func (r *Reconnector) NextDelay(n int) time.Duration {
	return r.policy.delay(n)
}
