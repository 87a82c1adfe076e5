package bridge

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lydakis/sidecar/internal/protocol"
)

// fakeWorker is the far end of an in-memory bridge: it sees every request
// the bridge writes and can write arbitrary lines back.
type fakeWorker struct {
	t        *testing.T
	requests chan protocol.Request
	stdout   *io.PipeWriter
	stderr   *io.PipeWriter
	stdinR   *io.PipeReader
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFakeBridge(t *testing.T, opts Options) (*Bridge, *fakeWorker) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	fw := &fakeWorker{
		t:        t,
		requests: make(chan protocol.Request, 128),
		stdout:   stdoutW,
		stderr:   stderrW,
		stdinR:   stdinR,
	}
	go func() {
		defer close(fw.requests)
		br := bufio.NewReader(stdinR)
		for {
			line, err := br.ReadBytes('\n')
			if err != nil {
				return
			}
			var req protocol.Request
			if err := json.Unmarshal(line, &req); err != nil {
				t.Errorf("bridge wrote invalid frame %q: %v", line, err)
				continue
			}
			fw.requests <- req
		}
	}()

	b := newBridge(opts, stdinW, stdoutR, stderrR, nil)
	t.Cleanup(func() {
		fw.close()
		<-b.Done()
		<-b.diagDone
		stdinR.Close()
		for range fw.requests {
		}
	})
	return b, fw
}

// next returns the next request the bridge wrote.
func (fw *fakeWorker) next() protocol.Request {
	fw.t.Helper()
	select {
	case req, ok := <-fw.requests:
		require.True(fw.t, ok, "request stream closed")
		return req
	case <-time.After(5 * time.Second):
		fw.t.Fatal("timed out waiting for request")
		return protocol.Request{}
	}
}

func (fw *fakeWorker) emit(line string) {
	fw.t.Helper()
	_, err := io.WriteString(fw.stdout, line+"\n")
	require.NoError(fw.t, err)
}

func (fw *fakeWorker) reply(id uint64, result any) {
	fw.t.Helper()
	line, err := protocol.Encode(map[string]any{"id": id, "result": result})
	require.NoError(fw.t, err)
	_, err = fw.stdout.Write(line)
	require.NoError(fw.t, err)
}

// close ends worker output, as if the process had exited.
func (fw *fakeWorker) close() {
	fw.stdout.Close()
	fw.stderr.Close()
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

type callResult struct {
	result json.RawMessage
	err    error
}

func callAsync(b *Bridge, method string, params any) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		res, err := b.Call(testContext(), method, params)
		ch <- callResult{res, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for call to return")
		return callResult{}
	}
}
