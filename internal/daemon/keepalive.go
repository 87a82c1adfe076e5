package daemon

import (
	"sync"
	"time"
)

// Keepalive fires onIdle once the daemon has gone a full timeout without
// activity. Calls and event streams hold it open while in flight; the idle
// window starts when the last of them ends. A zero timeout disables it.
type Keepalive struct {
	mu       sync.Mutex
	timeout  time.Duration
	timer    *time.Timer
	timerID  uint64
	inFlight int
	onIdle   func()
	stopped  bool
}

// NewKeepalive creates a keepalive and starts its first idle window.
func NewKeepalive(timeout time.Duration, onIdle func()) *Keepalive {
	k := &Keepalive{timeout: timeout, onIdle: onIdle}
	k.mu.Lock()
	k.startTimerLocked()
	k.mu.Unlock()
	return k
}

// Begin marks the start of an in-flight request. The idle timer is
// canceled so a long-running call is never cut short.
func (k *Keepalive) Begin() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopTimerLocked()
	k.inFlight++
}

// End marks completion of an in-flight request.
func (k *Keepalive) End() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.inFlight > 0 {
		k.inFlight--
	}
	if k.inFlight == 0 {
		k.startTimerLocked()
	}
}

// Touch restarts the idle window when nothing is in flight.
func (k *Keepalive) Touch() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.inFlight == 0 {
		k.startTimerLocked()
	}
}

// InFlight returns the number of open requests.
func (k *Keepalive) InFlight() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.inFlight
}

func (k *Keepalive) startTimerLocked() {
	k.stopTimerLocked()
	if k.timeout <= 0 || k.stopped {
		return
	}

	k.timerID++
	id := k.timerID
	k.timer = time.AfterFunc(k.timeout, func() { k.expire(id) })
}

func (k *Keepalive) stopTimerLocked() {
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}

func (k *Keepalive) expire(id uint64) {
	k.mu.Lock()
	fire := !k.stopped && k.timer != nil && k.timerID == id && k.inFlight == 0
	if fire {
		k.timer = nil
	}
	onIdle := k.onIdle
	k.mu.Unlock()

	if fire && onIdle != nil {
		onIdle()
	}
}

// Stop cancels the idle timer for good.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopped = true
	k.stopTimerLocked()
}
