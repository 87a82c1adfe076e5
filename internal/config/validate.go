package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strings"
)

var validLogLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks configuration invariants and returns actionable errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error
	errs = append(errs, validateWorker(cfg.Worker)...)
	if _, err := cfg.Timeouts.Resolve(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateProtocol(cfg.Protocol)...)

	names := make([]string, 0, len(cfg.Methods))
	for name := range cfg.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, _, err := cfg.CacheTTL(name); err != nil {
			errs = append(errs, err)
		}
	}

	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q, use debug, info, warn or error", cfg.Log.Level))
	}
	if f := strings.ToLower(cfg.Log.Format); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q, use text or json", cfg.Log.Format))
	}
	if cfg.Log.MaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("log.max_size_mb: must be >= 0, got %d", cfg.Log.MaxSizeMB))
	}
	if cfg.Log.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("log.max_backups: must be >= 0, got %d", cfg.Log.MaxBackups))
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr: invalid address %q: %w", addr, err))
		}
	}

	return errors.Join(errs...)
}

func validateWorker(w WorkerConfig) []error {
	var errs []error
	if strings.TrimSpace(w.Command) == "" {
		errs = append(errs, errors.New("worker.command: missing, set the worker executable (sidecar init --command ...)"))
	}
	if w.RootMarker != "" && strings.ContainsRune(w.RootMarker, filepath.Separator) {
		errs = append(errs, fmt.Errorf("worker.root_marker: must be a file name, got %q", w.RootMarker))
	}
	if w.RootMarkerContains != "" && w.RootMarker == "" {
		errs = append(errs, errors.New("worker.root_marker_contains: requires worker.root_marker"))
	}
	for k := range w.Env {
		if k == "" || strings.ContainsRune(k, '=') {
			errs = append(errs, fmt.Errorf("worker.env: invalid variable name %q", k))
		}
	}
	return errs
}

func validateProtocol(p ProtocolConfig) []error {
	var errs []error
	if p.InitMethod != nil && *p.InitMethod != strings.TrimSpace(*p.InitMethod) {
		errs = append(errs, fmt.Errorf("protocol.init_method: surrounding whitespace in %q", *p.InitMethod))
	}
	seen := make(map[string]bool, len(p.FireMethods))
	for i, m := range p.FireMethods {
		switch {
		case strings.TrimSpace(m) == "":
			errs = append(errs, fmt.Errorf("protocol.fire_methods[%d]: empty method name", i))
		case seen[m]:
			errs = append(errs, fmt.Errorf("protocol.fire_methods[%d]: duplicate method %q", i, m))
		}
		seen[m] = true
	}
	if p.ShutdownMethod != "" && p.IsFire(p.ShutdownMethod) {
		errs = append(errs, fmt.Errorf("protocol.shutdown_method: %q cannot also be a fire method", p.ShutdownMethod))
	}
	return errs
}
