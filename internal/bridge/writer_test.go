package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lydakis/sidecar/internal/protocol"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestFrameWriterKeepsLinesWhole(t *testing.T) {
	var out lockedBuffer
	fw := newFrameWriter(&out)

	big := bytes.Repeat([]byte("x"), 64<<10)
	params, err := json.Marshal(map[string]string{"blob": string(big)})
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if err := fw.send(context.Background(), nil, protocol.Request{ID: id, Method: "store", Params: params}); err != nil {
				t.Errorf("send() error = %v", err)
			}
		}(uint64(i))
	}
	wg.Wait()

	sc := bufio.NewScanner(&out.buf)
	sc.Buffer(make([]byte, 0, 128<<10), 1<<20)
	seen := make(map[uint64]bool)
	for sc.Scan() {
		var req protocol.Request
		require.NoError(t, json.Unmarshal(sc.Bytes(), &req), "interleaved frame")
		seen[req.ID] = true
	}
	require.NoError(t, sc.Err())
	assert.Len(t, seen, n)
}

type flakyWriter struct {
	fail bool
	buf  bytes.Buffer
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		return 0, errors.New("broken pipe")
	}
	return w.buf.Write(p)
}

func TestFrameWriterRecoversAfterFailure(t *testing.T) {
	w := &flakyWriter{fail: true}
	fw := newFrameWriter(w)

	err := fw.send(context.Background(), nil, protocol.Request{ID: 1, Method: "first", Params: json.RawMessage("null")})
	require.ErrorIs(t, err, ErrTransport)

	w.fail = false
	require.NoError(t, fw.send(context.Background(), nil, protocol.Request{ID: 2, Method: "second", Params: json.RawMessage("null")}))
	assert.Equal(t, `{"id":2,"method":"second","params":null}`+"\n", w.buf.String())
}

func TestFrameWriterGivesUpOnStalledReader(t *testing.T) {
	r, w := io.Pipe()
	fw := newFrameWriter(w)
	blob := json.RawMessage(`"` + string(bytes.Repeat([]byte("x"), 1<<20)) + `"`)

	start := time.Now()
	err := fw.send(context.Background(), time.After(50*time.Millisecond), protocol.Request{ID: 1, Method: "store", Params: blob})
	require.ErrorIs(t, err, errSendExpired)

	// The stuck frame still holds the slot; a second sender must not queue
	// behind it forever.
	err = fw.send(context.Background(), time.After(50*time.Millisecond), protocol.Request{ID: 2, Method: "ping", Params: json.RawMessage("null")})
	require.ErrorIs(t, err, errSendExpired)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = fw.send(ctx, nil, protocol.Request{ID: 3, Method: "ping", Params: json.RawMessage("null")})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)

	// Once the reader resumes, the abandoned frame arrives whole and the
	// writer is usable again.
	lines := make(chan []byte, 2)
	go func() {
		br := bufio.NewReaderSize(r, 64<<10)
		for {
			line, err := br.ReadBytes('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()
	var first protocol.Request
	require.NoError(t, json.Unmarshal(<-lines, &first))
	assert.Equal(t, uint64(1), first.ID)

	require.NoError(t, fw.send(context.Background(), time.After(5*time.Second), protocol.Request{ID: 4, Method: "ping", Params: json.RawMessage("null")}))
	assert.JSONEq(t, `{"id":4,"method":"ping","params":null}`, string(<-lines))

	w.Close()
	for range lines {
	}
}
