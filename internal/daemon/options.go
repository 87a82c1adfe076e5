package daemon

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lydakis/sidecar/internal/bridge"
	"github.com/lydakis/sidecar/internal/config"
)

// bridgeOptions turns a validated config into bridge options.
func bridgeOptions(cfg *config.Config, logger *slog.Logger, metrics *bridge.Metrics) (bridge.Options, config.Timeouts, error) {
	tm, err := cfg.Timeouts.Resolve()
	if err != nil {
		return bridge.Options{}, config.Timeouts{}, err
	}
	dir, err := cfg.Worker.WorkerDir()
	if err != nil {
		return bridge.Options{}, config.Timeouts{}, fmt.Errorf("worker directory: %w", err)
	}

	workerLog := logger.With("source", "worker")
	return bridge.Options{
		Spec: bridge.Spec{
			Command: cfg.Worker.Command,
			Args:    cfg.Worker.Args,
			Dir:     dir,
			Env:     envList(cfg.Worker.Env),
		},
		CallTimeout:     tm.Call,
		FireTimeout:     tm.Fire,
		ShutdownMethod:  cfg.Protocol.ShutdownMethod,
		ShutdownTimeout: tm.Shutdown,
		StopGrace:       stopGrace(cfg, tm),
		DisconnectEvent: cfg.Protocol.DisconnectEvent,
		Logger:          logger,
		Metrics:         metrics,
		Diagnostics: func(line string) {
			workerLog.Info(line)
		},
	}, tm, nil
}

// stopGrace maps an explicit "0s" to the bridge's "no grace" value; an
// unset stop_grace keeps the bridge default.
func stopGrace(cfg *config.Config, tm config.Timeouts) time.Duration {
	if cfg.Timeouts.StopGrace != "" && tm.StopGrace == 0 {
		return -1
	}
	return tm.StopGrace
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// cacheScope identifies the worker so that results of differently configured
// workers never share cache entries.
func cacheScope(spec bridge.Spec) string {
	return strings.Join(append([]string{spec.Dir, spec.Command}, spec.Args...), "\x00")
}
