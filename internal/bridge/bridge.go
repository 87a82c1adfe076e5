// Package bridge supervises a single worker process and exchanges
// newline-delimited JSON with it: correlated request/response calls in two
// timeout modes, and broadcast of the worker's unsolicited events.
//
// A Bridge owns the worker process, the pending-request table and the
// stdin writer. Two goroutines run for the worker's lifetime: one reads
// stdout frames, one forwards stderr lines to a diagnostic sink. The bridge
// never respawns a worker; once the worker's stdout closes every pending call
// fails, a disconnect event is published and the bridge is done.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lydakis/sidecar/internal/protocol"
)

// Defaults applied by Start for zero-valued Options fields.
const (
	DefaultCallTimeout     = 120 * time.Second
	DefaultFireTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultStopGrace       = 500 * time.Millisecond
	DefaultShutdownMethod  = "shutdown"
	DefaultDisconnectEvent = "status-update"
)

// outputLinger is how long the bridge waits, after the worker has exited,
// for its stdout to reach EOF before closing the reader itself.
const outputLinger = 2 * time.Second

const (
	modeCall = "call"
	modeFire = "fire"
)

// Options configures a Bridge.
type Options struct {
	Spec

	// CallTimeout bounds Call. FireTimeout bounds the acknowledgement wait
	// of CallFire.
	CallTimeout time.Duration
	FireTimeout time.Duration

	// ShutdownMethod is sent as a graceful stop request by Shutdown, which
	// waits at most ShutdownTimeout for its response. After a successful
	// response the worker gets StopGrace to exit before it is killed; a
	// negative StopGrace kills it right away.
	ShutdownMethod  string
	ShutdownTimeout time.Duration
	StopGrace       time.Duration

	// DisconnectEvent names the event published when worker output closes.
	DisconnectEvent string

	Logger  *slog.Logger
	Metrics *Metrics
	// Diagnostics receives each stderr line. Defaults to logging it.
	Diagnostics func(line string)
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.FireTimeout <= 0 {
		o.FireTimeout = DefaultFireTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	switch {
	case o.StopGrace == 0:
		o.StopGrace = DefaultStopGrace
	case o.StopGrace < 0:
		o.StopGrace = 0
	}
	if o.ShutdownMethod == "" {
		o.ShutdownMethod = DefaultShutdownMethod
	}
	if o.DisconnectEvent == "" {
		o.DisconnectEvent = DefaultDisconnectEvent
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Diagnostics == nil {
		logger := o.Logger.With("source", "worker")
		o.Diagnostics = func(line string) {
			logger.Info(line)
		}
	}
	return o
}

// Bridge is the host side of the worker connection. It is safe for
// concurrent use.
type Bridge struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics

	sup      *supervisor
	writer   *frameWriter
	pending  *pendingTable
	bus      *eventBus
	disp     *dispatcher
	diagDone chan struct{}

	closed       atomic.Bool
	shutdownOnce sync.Once
	cleanup      runtime.Cleanup
}

// Start launches the worker and begins reading its output. A worker that
// cannot be located or launched yields a *SpawnError.
func Start(ctx context.Context, opts Options) (*Bridge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sup, err := spawn(opts.Spec)
	if err != nil {
		return nil, err
	}

	b := newBridge(opts, sup.stdin, sup.stdout, sup.stderr, sup)
	// The background goroutines never reference b, so a Bridge dropped
	// without Shutdown is collectable and takes its worker down with it.
	b.cleanup = runtime.AddCleanup(b, func(s *supervisor) { s.kill() }, sup)
	go watchExit(sup, b.disp.done, b.logger)

	b.logger.Info("worker started", "command", opts.Command, "pid", sup.pid())
	return b, nil
}

func newBridge(opts Options, stdin io.Writer, stdout, stderr io.Reader, sup *supervisor) *Bridge {
	opts = opts.withDefaults()
	pending := newPendingTable()
	bus := newEventBus()

	b := &Bridge{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		sup:      sup,
		writer:   newFrameWriter(stdin),
		pending:  pending,
		bus:      bus,
		disp:     newDispatcher(pending, bus, opts.Metrics, opts.Logger, opts.DisconnectEvent),
		diagDone: make(chan struct{}),
	}

	b.metrics.setUp(true)
	go b.disp.run(stdout)
	if stderr != nil {
		go drainDiagnostics(stderr, opts.Diagnostics, b.diagDone)
	} else {
		close(b.diagDone)
	}
	return b
}

// watchExit logs the worker's exit and, if its stdout is still open after
// outputLinger (a descendant inherited it), closes the readers.
func watchExit(sup *supervisor, outputDone <-chan struct{}, logger *slog.Logger) {
	select {
	case <-sup.exited:
	case <-outputDone:
		<-sup.exited
	}
	logger.Info("worker exited", "pid", sup.pid(), "status", exitStatus(sup.exitErr()))

	timer := time.NewTimer(outputLinger)
	defer timer.Stop()
	select {
	case <-outputDone:
	case <-timer.C:
		logger.Warn("worker output still open after exit, closing")
		sup.closeOutputs()
	}
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// Call sends method with params and waits up to the call timeout for the
// worker's response.
func (b *Bridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.roundTrip(ctx, modeCall, method, params, b.opts.CallTimeout)
}

// CallFire sends method with params and waits only for the worker's initial
// acknowledgement, bounded by the fire timeout. Completion of the operation
// is reported later through events.
func (b *Bridge) CallFire(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.roundTrip(ctx, modeFire, method, params, b.opts.FireTimeout)
}

func (b *Bridge) roundTrip(ctx context.Context, mode, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	raw, err := protocol.MarshalParams(params)
	if err != nil {
		return nil, err
	}

	id, slot, err := b.pending.register()
	if err != nil {
		return nil, err
	}
	b.metrics.setPending(b.pending.len())

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err := b.writer.send(ctx, timer.C, protocol.Request{ID: id, Method: method, Params: raw}); err != nil {
		b.pending.evict(id)
		b.metrics.setPending(b.pending.len())
		switch {
		case errors.Is(err, errSendExpired):
			b.metrics.observeCall(mode, outcomeTimeout, time.Since(start))
			b.logger.Warn("worker stopped reading requests", "method", method, "id", id, "timeout", timeout)
			return nil, &TimeoutError{Method: method, Timeout: timeout}
		case errors.Is(err, ErrTransport):
			b.metrics.observeCall(mode, outcomeTransport, time.Since(start))
		default:
			b.metrics.observeCall(mode, outcomeCanceled, time.Since(start))
		}
		return nil, err
	}

	select {
	case o := <-slot:
		return b.finish(mode, method, o, start)
	case <-timer.C:
		b.pending.evict(id)
		// A response that won the race against eviction is still ours.
		select {
		case o := <-slot:
			return b.finish(mode, method, o, start)
		default:
		}
		b.metrics.setPending(b.pending.len())
		b.metrics.observeCall(mode, outcomeTimeout, time.Since(start))
		b.logger.Warn("worker request timed out", "method", method, "id", id, "timeout", timeout)
		return nil, &TimeoutError{Method: method, Timeout: timeout}
	case <-ctx.Done():
		b.pending.evict(id)
		b.metrics.setPending(b.pending.len())
		b.metrics.observeCall(mode, outcomeCanceled, time.Since(start))
		return nil, ctx.Err()
	}
}

func (b *Bridge) finish(mode, method string, o outcome, start time.Time) (json.RawMessage, error) {
	elapsed := time.Since(start)
	switch {
	case o.err != nil:
		b.metrics.observeCall(mode, outcomeExited, elapsed)
		return nil, o.err
	case o.failure != nil:
		b.metrics.observeCall(mode, outcomeWorkerErr, elapsed)
		return nil, &WorkerError{Method: method, Message: *o.failure}
	default:
		b.metrics.observeCall(mode, outcomeOK, elapsed)
		return o.result, nil
	}
}

// Subscribe returns a subscription to worker events published from now on.
func (b *Bridge) Subscribe() *Subscription {
	return b.bus.subscribe()
}

// Shutdown asks the worker to stop, then kills it if it is still running.
// It always returns, never fails, and is safe to call more than once;
// concurrent callers wait for the first to finish.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.shutdownOnce.Do(func() {
		b.closed.Store(true)
		b.disp.expectClose()

		grace := time.Duration(0)
		if b.Running() {
			sctx, cancel := context.WithTimeout(ctx, b.opts.ShutdownTimeout)
			_, err := b.roundTrip(sctx, modeCall, b.opts.ShutdownMethod, nil, b.opts.ShutdownTimeout)
			cancel()
			switch {
			case err == nil:
				grace = b.opts.StopGrace
			case errors.Is(err, ErrWorkerExited), errors.Is(err, ErrClosed):
			default:
				b.logger.Warn("graceful stop failed, killing worker", "error", err)
			}
		}

		if b.sup != nil {
			b.sup.terminate(grace)
			b.sup.closeInput()
			b.cleanup.Stop()
		}

		wctx, cancel := context.WithTimeout(context.Background(), outputLinger+killWait)
		defer cancel()
		for _, stream := range []struct {
			name string
			done <-chan struct{}
		}{{"output", b.disp.done}, {"diagnostics", b.diagDone}} {
			select {
			case <-stream.done:
			case <-wctx.Done():
				b.logger.Warn("worker stream did not close after shutdown", "stream", stream.name)
			}
		}
		b.metrics.setUp(false)
		b.logger.Info("worker shut down")
	})
}

// Done is closed once the worker's output has closed and every pending
// call has been failed.
func (b *Bridge) Done() <-chan struct{} {
	return b.disp.done
}

// Running reports whether the worker process is alive.
func (b *Bridge) Running() bool {
	if b.sup != nil {
		return b.sup.running()
	}
	select {
	case <-b.disp.done:
		return false
	default:
		return true
	}
}

// Pid returns the worker's process id, or 0 when there is no process.
func (b *Bridge) Pid() int {
	if b.sup == nil {
		return 0
	}
	return b.sup.pid()
}

// Pending returns the number of requests awaiting a response.
func (b *Bridge) Pending() int {
	return b.pending.len()
}

// Subscribers returns the number of open event subscriptions.
func (b *Bridge) Subscribers() int {
	return b.bus.len()
}
