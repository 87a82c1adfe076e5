package config

import (
	"errors"
	"fmt"
	"time"
)

// Timeouts is TimeoutConfig with every duration parsed. Zero means "use the
// bridge default" except for Idle, where zero disables idle exit.
type Timeouts struct {
	Call      time.Duration
	Fire      time.Duration
	Shutdown  time.Duration
	StopGrace time.Duration
	Idle      time.Duration
}

// Resolve parses every configured duration.
func (t TimeoutConfig) Resolve() (Timeouts, error) {
	var out Timeouts
	var errs []error
	for _, f := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeouts.call", t.Call, &out.Call},
		{"timeouts.fire", t.Fire, &out.Fire},
		{"timeouts.shutdown", t.Shutdown, &out.Shutdown},
		{"timeouts.stop_grace", t.StopGrace, &out.StopGrace},
		{"timeouts.idle", t.Idle, &out.Idle},
	} {
		d, err := parseDuration(f.key, f.raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = d
	}
	return out, errors.Join(errs...)
}

// CacheTTL returns the cache lifetime configured for method, if any.
func (c *Config) CacheTTL(method string) (time.Duration, bool, error) {
	mc, ok := c.Methods[method]
	if !ok || mc.CacheTTL == "" {
		return 0, false, nil
	}
	ttl, err := parseDuration("methods."+method+".cache_ttl", mc.CacheTTL)
	if err != nil {
		return 0, false, err
	}
	return ttl, ttl > 0, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must be >= 0, got %q", key, raw)
	}
	return d, nil
}
