package bridge

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/lydakis/sidecar/internal/protocol"
)

// errSendExpired reports that a frame could not be handed to the worker
// before the caller's deadline.
var errSendExpired = errors.New("send deadline expired")

// frameWriter serializes frames onto the worker's stdin, one complete line
// at a time. A worker that stops reading can stall a write indefinitely, so
// the write runs on its own goroutine and holds the slot until it finishes;
// callers give up on their deadline without ever seeing a half-written
// frame from someone else.
type frameWriter struct {
	slot chan struct{}
	dst  io.Writer
	w    *bufio.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{slot: make(chan struct{}, 1), dst: w, w: bufio.NewWriter(w)}
}

// send writes req unless ctx ends or expire fires first. It returns
// errSendExpired or ctx.Err() when the caller gave up, and a
// *TransportError when the pipe itself failed.
func (fw *frameWriter) send(ctx context.Context, expire <-chan time.Time, req protocol.Request) error {
	line, err := protocol.Encode(req)
	if err != nil {
		return &TransportError{Method: req.Method, Err: err}
	}

	select {
	case fw.slot <- struct{}{}:
	case <-expire:
		return errSendExpired
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-fw.slot }()
		done <- fw.write(line)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &TransportError{Method: req.Method, Err: err}
		}
		return nil
	case <-expire:
		return errSendExpired
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (fw *frameWriter) write(line []byte) error {
	if _, err := fw.w.Write(line); err != nil {
		fw.w.Reset(fw.dst)
		return err
	}
	if err := fw.w.Flush(); err != nil {
		// bufio errors are sticky; drop the partial frame so a later send
		// does not inherit it.
		fw.w.Reset(fw.dst)
		return err
	}
	return nil
}
