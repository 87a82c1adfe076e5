package daemon

import (
	"reflect"
	"testing"
	"time"

	"github.com/lydakis/sidecar/internal/bridge"
	"github.com/lydakis/sidecar/internal/config"
)

func TestBridgeOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Worker: config.WorkerConfig{
			Command: "node",
			Args:    []string{"bridge.js"},
			Dir:     "/srv/app",
			Env:     map[string]string{"B": "2", "A": "1"},
		},
		Timeouts: config.TimeoutConfig{Call: "30s", Fire: "2s", Shutdown: "1s", Idle: "5m"},
		Protocol: config.ProtocolConfig{ShutdownMethod: "stop", DisconnectEvent: "worker-status"},
	}

	opts, tm, err := bridgeOptions(cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("bridgeOptions() error = %v", err)
	}

	wantSpec := bridge.Spec{Command: "node", Args: []string{"bridge.js"}, Dir: "/srv/app", Env: []string{"A=1", "B=2"}}
	if !reflect.DeepEqual(opts.Spec, wantSpec) {
		t.Fatalf("Spec = %+v, want %+v", opts.Spec, wantSpec)
	}
	if opts.CallTimeout != 30*time.Second || opts.FireTimeout != 2*time.Second || opts.ShutdownTimeout != time.Second {
		t.Fatalf("timeouts = %v/%v/%v", opts.CallTimeout, opts.FireTimeout, opts.ShutdownTimeout)
	}
	if opts.StopGrace != 0 {
		t.Fatalf("StopGrace = %v, want 0 so the bridge default applies", opts.StopGrace)
	}
	if opts.ShutdownMethod != "stop" || opts.DisconnectEvent != "worker-status" {
		t.Fatalf("protocol = %q/%q", opts.ShutdownMethod, opts.DisconnectEvent)
	}
	if tm.Idle != 5*time.Minute {
		t.Fatalf("Idle = %v", tm.Idle)
	}
	if opts.Diagnostics == nil {
		t.Fatal("Diagnostics sink not set")
	}
}

func TestBridgeOptionsExplicitZeroStopGrace(t *testing.T) {
	cfg := &config.Config{
		Worker:   config.WorkerConfig{Command: "node"},
		Timeouts: config.TimeoutConfig{StopGrace: "0s"},
	}
	opts, _, err := bridgeOptions(cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("bridgeOptions() error = %v", err)
	}
	if opts.StopGrace >= 0 {
		t.Fatalf("StopGrace = %v, want negative (no grace)", opts.StopGrace)
	}
}

func TestBridgeOptionsRejectsBadDurations(t *testing.T) {
	cfg := &config.Config{Worker: config.WorkerConfig{Command: "node"}, Timeouts: config.TimeoutConfig{Call: "later"}}
	if _, _, err := bridgeOptions(cfg, discardLogger(), nil); err == nil {
		t.Fatal("bridgeOptions() error = nil, want duration error")
	}
}

func TestCacheScopeDistinguishesWorkers(t *testing.T) {
	a := cacheScope(bridge.Spec{Command: "node", Args: []string{"a.js"}})
	b := cacheScope(bridge.Spec{Command: "node", Args: []string{"b.js"}})
	c := cacheScope(bridge.Spec{Command: "node", Args: []string{"a.js"}, Dir: "/x"})
	if a == b || a == c {
		t.Fatalf("cacheScope collisions: %q %q %q", a, b, c)
	}
}
