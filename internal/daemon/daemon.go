package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lydakis/sidecar/internal/bridge"
	"github.com/lydakis/sidecar/internal/cache"
	"github.com/lydakis/sidecar/internal/config"
	"github.com/lydakis/sidecar/internal/ipc"
	"github.com/lydakis/sidecar/internal/logging"
	"github.com/lydakis/sidecar/internal/paths"
)

var (
	loadConfigFn  = config.Load
	startBridgeFn = bridge.Start
	callWorkerFn  = func(ctx context.Context, br *bridge.Bridge, fire bool, method string, params json.RawMessage) (json.RawMessage, error) {
		if fire {
			return br.CallFire(ctx, method, params)
		}
		return br.Call(ctx, method, params)
	}
	cacheGet         = cache.Get
	cachePut         = cache.Put
	signalShutdownFn = func() {
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(syscall.SIGTERM)
	}
)

// Run starts the daemon process. Called when argv[1] == "__daemon".
func Run() error {
	if err := paths.EnsureDir(paths.RuntimeDir()); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}

	cfg, err := loadConfigFn()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser := logging.New(cfg.Log, os.Stderr)
	defer logCloser.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := bridge.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	opts, tm, err := bridgeOptions(cfg, logger, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	br, err := startBridgeFn(ctx, opts)
	if err != nil {
		logger.Error("worker spawn failed", "error", err)
		return err
	}

	d := newDaemon(cfg, br, opts.Spec, logger)
	// Subscribe before the handshake starts so no status event is missed.
	sub := br.Subscribe()
	go d.trackStatus(sub)
	go d.handshake(ctx, cfg.Protocol.Init())

	nonce, err := readOrCreateNonce()
	if err != nil {
		br.Shutdown(context.Background())
		return fmt.Errorf("nonce setup: %w", err)
	}

	d.ka = NewKeepalive(tm.Idle, signalShutdownFn)
	defer d.ka.Stop()

	srv := ipc.NewServer(paths.SocketPath(), nonce, d.dispatch)
	if err := srv.Start(); err != nil {
		br.Shutdown(context.Background())
		return err
	}

	if cfg.Metrics.Addr != "" {
		shutdownMetrics, err := serveMetrics(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			logger.Warn("metrics endpoint disabled", "addr", cfg.Metrics.Addr, "error", err)
		} else {
			defer shutdownMetrics()
		}
	}

	logger.Info("daemon listening", "socket", paths.SocketPath(), "worker_pid", br.Pid())

	select {
	case <-ctx.Done():
		logger.Info("daemon shutting down")
	case <-br.Done():
		logger.Warn("worker exited, daemon shutting down")
	}

	// Shutting the bridge down first ends open event streams, so the
	// server can drain its connections.
	br.Shutdown(context.Background())
	srv.Stop()
	_ = os.Remove(paths.StatePath())
	return nil
}

// daemon serves control requests against one bridge.
type daemon struct {
	cfg    *config.Config
	br     *bridge.Bridge
	scope  string
	logger *slog.Logger
	ka     *Keepalive

	started time.Time
	ready   chan struct{}

	mu          sync.Mutex
	status      json.RawMessage
	statusEvent bool // status came from a worker event
}

func newDaemon(cfg *config.Config, br *bridge.Bridge, spec bridge.Spec, logger *slog.Logger) *daemon {
	return &daemon{
		cfg:     cfg,
		br:      br,
		scope:   cacheScope(spec),
		logger:  logger,
		ka:      NewKeepalive(0, nil),
		started: time.Now(),
		ready:   make(chan struct{}),
		status:  json.RawMessage(`{"status":"starting"}`),
	}
}

// handshake sends the init method and records its result as the worker
// status, unless a status event already arrived. Calls wait for it to
// finish.
func (d *daemon) handshake(ctx context.Context, method string) {
	defer close(d.ready)
	if method == "" {
		d.setInitialStatus(json.RawMessage(`{"status":"running"}`))
		return
	}

	res, err := d.br.Call(ctx, method, nil)
	if err != nil {
		d.logger.Error("worker initialization failed", "method", method, "error", err)
		data, _ := json.Marshal(map[string]string{
			"status": "disconnected",
			"error":  "initialization failed: " + err.Error(),
		})
		d.setInitialStatus(data)
		return
	}
	d.logger.Info("worker initialized", "result", string(res))
	d.setInitialStatus(res)
}

// trackStatus follows the worker's status events on sub until the bridge is
// done.
func (d *daemon) trackStatus(sub *bridge.Subscription) {
	name := d.disconnectEvent()
	defer sub.Close()

	for ev := range sub.C {
		d.logger.Debug("worker event", "event", ev.Name, "bytes", len(ev.Data))
		if ev.Name == name {
			d.setStatus(ev.Data)
		}
	}
}

func (d *daemon) disconnectEvent() string {
	if name := d.cfg.Protocol.DisconnectEvent; name != "" {
		return name
	}
	return bridge.DefaultDisconnectEvent
}

func (d *daemon) setStatus(data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	d.mu.Lock()
	d.status = data
	d.statusEvent = true
	d.mu.Unlock()
}

// setInitialStatus records the handshake outcome. A status event seen in
// the meantime is newer and is kept.
func (d *daemon) setInitialStatus(data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.statusEvent {
		return
	}
	d.status = data
}

func (d *daemon) currentStatus() json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *daemon) dispatch(ctx context.Context, req *ipc.Request, stream ipc.Stream) *ipc.Response {
	switch req.Type {
	case ipc.TypeCall:
		return d.call(ctx, req, false)
	case ipc.TypeFire:
		return d.call(ctx, req, true)
	case ipc.TypeEvents:
		return d.events(ctx, req, stream)
	case ipc.TypeStatus:
		return d.statusReport()
	case ipc.TypeShutdown:
		go signalShutdownFn()
		return &ipc.Response{Content: []byte("shutting down\n")}
	case ipc.TypePing:
		return &ipc.Response{ExitCode: ipc.ExitOK}
	default:
		return &ipc.Response{ExitCode: ipc.ExitUsageErr, Stderr: fmt.Sprintf("unknown request type: %s", req.Type)}
	}
}

func (d *daemon) call(ctx context.Context, req *ipc.Request, forceFire bool) *ipc.Response {
	if req.Method == "" {
		return &ipc.Response{ExitCode: ipc.ExitUsageErr, Stderr: "missing method name"}
	}
	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage("null")
	}
	if !json.Valid(params) {
		return &ipc.Response{ExitCode: ipc.ExitUsageErr, Stderr: "params are not valid JSON"}
	}
	fire := forceFire || d.cfg.Protocol.IsFire(req.Method)

	d.ka.Begin()
	defer d.ka.End()

	select {
	case <-d.ready:
	case <-ctx.Done():
		return &ipc.Response{ExitCode: ipc.ExitInternal, Stderr: describeBridgeError(ctx.Err())}
	}

	ttl, useCache, err := d.cacheTTL(req.Method, req.Cache, fire)
	if err != nil {
		return &ipc.Response{ExitCode: ipc.ExitInternal, Stderr: fmt.Sprintf("cache configuration error: %v", err)}
	}

	var logs []string
	if useCache {
		if hit, ok := cacheGet(d.scope, req.Method, params); ok {
			if req.Verbose {
				logs = append(logs, fmt.Sprintf("sidecar: cache hit (age=%s ttl=%s)", hit.Age.Round(time.Millisecond), hit.TTL))
			}
			return &ipc.Response{Content: withNewline(hit.Result), Stderr: joinLogs(logs)}
		}
		if req.Verbose {
			logs = append(logs, "sidecar: cache miss")
		}
	}

	res, err := callWorkerFn(ctx, d.br, fire, req.Method, params)
	if err != nil {
		logs = append(logs, describeBridgeError(err))
		return &ipc.Response{ExitCode: classifyBridgeError(err), Stderr: joinLogs(logs)}
	}

	if useCache {
		if err := cachePut(d.scope, req.Method, params, res, ttl); err != nil {
			d.logger.Warn("cache store failed", "method", req.Method, "error", err)
		} else if req.Verbose {
			logs = append(logs, fmt.Sprintf("sidecar: cache store (ttl=%s)", ttl))
		}
	}
	return &ipc.Response{Content: withNewline(res), Stderr: joinLogs(logs)}
}

// cacheTTL resolves the cache lifetime for a call. A request override wins
// over config; fire calls are never cached since their result is only an
// acknowledgement.
func (d *daemon) cacheTTL(method string, override *time.Duration, fire bool) (time.Duration, bool, error) {
	if fire {
		return 0, false, nil
	}
	if override != nil {
		if *override <= 0 {
			return 0, false, nil
		}
		return *override, true, nil
	}
	return d.cfg.CacheTTL(method)
}

func (d *daemon) events(ctx context.Context, req *ipc.Request, stream ipc.Stream) *ipc.Response {
	sub := d.br.Subscribe()
	defer sub.Close()

	d.ka.Begin()
	defer d.ka.End()

	want := make(map[string]bool, len(req.Events))
	for _, name := range req.Events {
		want[name] = true
	}

	for {
		select {
		case <-ctx.Done():
			return &ipc.Response{ExitCode: ipc.ExitOK}
		case ev, ok := <-sub.C:
			if !ok {
				return &ipc.Response{ExitCode: ipc.ExitOK, Stderr: "worker disconnected"}
			}
			if len(want) > 0 && !want[ev.Name] {
				continue
			}
			line, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := stream(&ipc.Response{Content: withNewline(line)}); err != nil {
				return &ipc.Response{ExitCode: ipc.ExitOK}
			}
		}
	}
}

type statusPayload struct {
	Pid         int             `json:"pid"`
	Running     bool            `json:"running"`
	Pending     int             `json:"pending"`
	Subscribers int             `json:"subscribers"`
	InFlight    int             `json:"in_flight"`
	Uptime      string          `json:"uptime"`
	Command     string          `json:"command"`
	Worker      json.RawMessage `json:"worker"`
}

func (d *daemon) statusReport() *ipc.Response {
	d.ka.Touch()
	report := statusPayload{
		Pid:         d.br.Pid(),
		Running:     d.br.Running(),
		Pending:     d.br.Pending(),
		Subscribers: d.br.Subscribers(),
		InFlight:    d.ka.InFlight(),
		Uptime:      time.Since(d.started).Round(time.Second).String(),
		Command:     d.cfg.Worker.Command,
		Worker:      d.currentStatus(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return &ipc.Response{ExitCode: ipc.ExitInternal, Stderr: err.Error()}
	}
	return &ipc.Response{Content: withNewline(data)}
}

func withNewline(b []byte) []byte {
	out := make([]byte, 0, len(b)+1)
	out = append(out, b...)
	return append(out, '\n')
}

func joinLogs(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}
