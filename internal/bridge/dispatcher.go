package bridge

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/lydakis/sidecar/internal/protocol"
)

// dispatcher reads worker stdout until it closes, routing events to the bus
// and responses to the pending table. It never touches the process itself.
type dispatcher struct {
	pending         *pendingTable
	bus             *eventBus
	metrics         *Metrics
	logger          *slog.Logger
	disconnectEvent string

	expected atomic.Bool
	done     chan struct{}
}

func newDispatcher(pending *pendingTable, bus *eventBus, metrics *Metrics, logger *slog.Logger, disconnectEvent string) *dispatcher {
	return &dispatcher{
		pending:         pending,
		bus:             bus,
		metrics:         metrics,
		logger:          logger,
		disconnectEvent: disconnectEvent,
		done:            make(chan struct{}),
	}
}

// expectClose marks the coming end of output as requested by the host.
func (d *dispatcher) expectClose() {
	d.expected.Store(true)
}

func (d *dispatcher) run(r io.Reader) {
	defer close(d.done)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			d.handle(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				d.logger.Debug("worker output closed", "error", err)
			}
			break
		}
	}
	// Release the pipe now rather than when the process is reaped.
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}

	drainErr := ErrWorkerExited
	if d.expected.Load() {
		drainErr = ErrClosed
	}
	if n := d.pending.drain(drainErr); n > 0 {
		d.logger.Warn("failed pending requests after worker output closed", "count", n)
	}
	d.metrics.setPending(0)

	d.publish(Event{Name: d.disconnectEvent, Data: d.disconnectData()})
	d.bus.close()
}

func (d *dispatcher) handle(line []byte) {
	in := protocol.Decode(line)
	switch in.Kind {
	case protocol.KindEvent:
		d.publish(Event{Name: in.Event.Name, Data: in.Event.Data})
	case protocol.KindResponse:
		o := outcome{result: in.Response.Result, failure: in.Response.Error}
		if !d.pending.resolve(in.Response.ID, o) {
			d.metrics.observeUnmatched()
			d.logger.Debug("dropped response without pending request", "id", in.Response.ID)
			return
		}
		d.metrics.setPending(d.pending.len())
	default:
		d.metrics.observeMalformed()
		d.logger.Debug("dropped malformed worker frame", "bytes", len(line))
	}
}

func (d *dispatcher) publish(ev Event) {
	d.metrics.observeEvent(ev.Name)
	d.bus.publish(ev)
}

func (d *dispatcher) disconnectData() json.RawMessage {
	payload := map[string]string{"status": "disconnected"}
	if !d.expected.Load() {
		payload["error"] = "worker process exited unexpectedly"
	}
	data, _ := json.Marshal(payload)
	return data
}
