package daemon

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeepaliveFiresAfterIdleWindow(t *testing.T) {
	fired := make(chan struct{}, 1)
	ka := NewKeepalive(20*time.Millisecond, func() { fired <- struct{}{} })
	defer ka.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("onIdle not called after idle window")
	}
}

func TestKeepaliveZeroTimeoutNeverFires(t *testing.T) {
	var fired atomic.Bool
	ka := NewKeepalive(0, func() { fired.Store(true) })
	defer ka.Stop()

	ka.Begin()
	ka.End()
	ka.Touch()
	time.Sleep(30 * time.Millisecond)
	if fired.Load() {
		t.Fatal("onIdle called with idle exit disabled")
	}
}

func TestKeepaliveBeginDefersIdleUntilLastEnd(t *testing.T) {
	var fired atomic.Int32
	ka := NewKeepalive(20*time.Millisecond, func() { fired.Add(1) })
	defer ka.Stop()

	ka.Begin()
	ka.Begin()
	time.Sleep(50 * time.Millisecond)
	ka.End()
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("onIdle called %d times with a request in flight", got)
	}
	if got := ka.InFlight(); got != 1 {
		t.Fatalf("InFlight() = %d, want 1", got)
	}

	ka.End()
	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("onIdle called %d times after last request, want 1", got)
	}
}

func TestKeepaliveTouchExtendsWindow(t *testing.T) {
	var fired atomic.Bool
	ka := NewKeepalive(60*time.Millisecond, func() { fired.Store(true) })
	defer ka.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		ka.Touch()
	}
	if fired.Load() {
		t.Fatal("onIdle called although activity kept arriving")
	}
}

func TestKeepaliveStopPreventsIdle(t *testing.T) {
	var fired atomic.Bool
	ka := NewKeepalive(20*time.Millisecond, func() { fired.Store(true) })
	ka.Stop()
	ka.Touch()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Fatal("onIdle called after Stop")
	}
}

func TestKeepaliveConcurrentBeginEnd(t *testing.T) {
	ka := NewKeepalive(time.Hour, nil)
	defer ka.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ka.Begin()
			ka.End()
		}()
	}
	wg.Wait()
	if got := ka.InFlight(); got != 0 {
		t.Fatalf("InFlight() = %d, want 0", got)
	}
}
