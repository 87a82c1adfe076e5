package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHelper(t *testing.T, opts Options) *Bridge {
	t.Helper()
	if opts.Command == "" {
		opts.Spec = helperSpec(opts.Env...)
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	b, err := Start(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { b.Shutdown(context.Background()) })
	return b
}

func TestProcessEchoAndWorkerError(t *testing.T) {
	b := startHelper(t, Options{})
	require.NotZero(t, b.Pid())
	require.True(t, b.Running())

	res, err := b.Call(context.Background(), "echo", map[string]any{"ok": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(res))

	_, err = b.Call(context.Background(), "fail", map[string]string{"message": "boom"})
	require.EqualError(t, err, "boom")

	_, err = b.Call(context.Background(), "no_such_method", nil)
	require.EqualError(t, err, "unknown method: no_such_method")
}

func TestProcessConcurrentCalls(t *testing.T) {
	b := startHelper(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(ms int) {
			defer wg.Done()
			res, err := b.Call(context.Background(), "sleep", map[string]int{"ms": ms})
			if err != nil {
				t.Errorf("Call(sleep %d) error = %v", ms, err)
				return
			}
			var got struct{ Slept int }
			if err := json.Unmarshal(res, &got); err != nil || got.Slept != ms {
				t.Errorf("Call(sleep %d) = %s", ms, res)
			}
		}((10 - i) * 10)
	}
	wg.Wait()
	assert.Zero(t, b.Pending())
}

func TestProcessFireThenEvents(t *testing.T) {
	b := startHelper(t, Options{})
	sub := b.Subscribe()
	defer sub.Close()

	res, err := b.CallFire(context.Background(), "fire", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accepted":true}`, string(res))

	var names []string
	for len(names) < 2 {
		ev := receive(t, sub)
		if ev.Name == "ready" {
			continue
		}
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"progress", "done"}, names)
}

func TestProcessDiagnosticsReachSink(t *testing.T) {
	lines := make(chan string, 16)
	b := startHelper(t, Options{Diagnostics: func(line string) { lines <- line }})

	_, err := b.Call(context.Background(), "stderr", map[string]string{"text": "warming up"})
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	var got []string
	for {
		select {
		case line := <-lines:
			got = append(got, line)
			if line == "warming up" {
				assert.Contains(t, got, "helper worker booting")
				return
			}
		case <-deadline:
			t.Fatalf("diagnostic line not forwarded, got %q", got)
		}
	}
}

func TestProcessGracefulShutdown(t *testing.T) {
	b := startHelper(t, Options{})
	sub := b.Subscribe()

	b.Shutdown(context.Background())
	assert.False(t, b.Running())
	select {
	case <-b.diagDone:
	default:
		t.Fatal("Shutdown() returned before the diagnostics reader finished")
	}

	var last Event
	for ev := range sub.C {
		last = ev
	}
	assert.Equal(t, DefaultDisconnectEvent, last.Name)
	assert.JSONEq(t, `{"status":"disconnected"}`, string(last.Data))

	_, err := b.Call(context.Background(), "echo", nil)
	require.ErrorIs(t, err, ErrClosed)
	_, err = b.CallFire(context.Background(), "echo", nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestProcessShutdownKillsUnresponsiveWorker(t *testing.T) {
	b := startHelper(t, Options{
		Spec:            helperSpec("HELPER_IGNORE_SHUTDOWN=1"),
		ShutdownTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	b.Shutdown(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, b.Running())

	select {
	case <-b.Done():
	default:
		t.Fatal("output still open after shutdown")
	}
}

func TestProcessWorkerThatStopsReadingCannotWedgeCalls(t *testing.T) {
	b := startHelper(t, Options{
		Spec:            helperSpec("HELPER_STALL=1"),
		CallTimeout:     200 * time.Millisecond,
		ShutdownTimeout: 200 * time.Millisecond,
	})

	// Larger than any pipe buffer, so the write itself blocks.
	blob := strings.Repeat("x", 1<<20)

	start := time.Now()
	_, err := b.Call(context.Background(), "echo", map[string]string{"blob": blob})
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "echo", terr.Method)

	_, err = b.Call(context.Background(), "echo", nil)
	require.ErrorAs(t, err, &terr)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = b.CallFire(ctx, "fire", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, b.Pending())

	start = time.Now()
	b.Shutdown(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, b.Running())
}

func TestProcessShutdownIsIdempotent(t *testing.T) {
	b := startHelper(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Shutdown(context.Background())
		}()
	}
	wg.Wait()
	assert.False(t, b.Running())
	b.Shutdown(context.Background())
}

func TestProcessShutdownFailsPendingCalls(t *testing.T) {
	b := startHelper(t, Options{Spec: helperSpec("HELPER_IGNORE_SHUTDOWN=1"), ShutdownTimeout: 50 * time.Millisecond})

	pending := callAsync(b, "never", nil)
	require.Eventually(t, func() bool { return b.Pending() == 1 }, 5*time.Second, 5*time.Millisecond)

	b.Shutdown(context.Background())
	r := await(t, pending)
	require.ErrorIs(t, r.err, ErrClosed)
}

func TestProcessCrashFailsPendingAndPublishesDisconnect(t *testing.T) {
	b := startHelper(t, Options{})
	sub := b.Subscribe()

	pending := callAsync(b, "never", nil)
	require.Eventually(t, func() bool { return b.Pending() == 1 }, 5*time.Second, 5*time.Millisecond)

	_, err := b.Call(context.Background(), "crash", nil)
	require.ErrorIs(t, err, ErrWorkerExited)
	require.ErrorIs(t, await(t, pending).err, ErrWorkerExited)

	var last Event
	for ev := range sub.C {
		last = ev
	}
	assert.Equal(t, DefaultDisconnectEvent, last.Name)
	assert.JSONEq(t, `{"status":"disconnected","error":"worker process exited unexpectedly"}`, string(last.Data))

	<-b.Done()
	require.Eventually(t, func() bool { return !b.Running() }, 5*time.Second, 5*time.Millisecond)
	_, err = b.Call(context.Background(), "echo", nil)
	require.ErrorIs(t, err, ErrWorkerExited)
}

func TestProcessMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	b := startHelper(t, Options{Metrics: m})
	_, err = b.Call(context.Background(), "echo", 1)
	require.NoError(t, err)
	_, err = b.Call(context.Background(), "fail", map[string]string{"message": "x"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(modeCall, outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(modeCall, outcomeWorkerErr)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.up))

	b.Shutdown(context.Background())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.up))

	_, err = NewMetrics(reg)
	require.Error(t, err, "registering twice must fail")
}

func TestStartSpawnFailures(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{name: "empty command", spec: Spec{}, want: "no command configured"},
		{name: "missing executable", spec: Spec{Command: "sidecar-definitely-missing-worker"}, want: "sidecar-definitely-missing-worker"},
		{name: "missing dir", spec: Spec{Command: os.Args[0], Dir: filepath.Join(dir, "nope")}, want: "working directory"},
		{name: "dir is a file", spec: Spec{Command: os.Args[0], Dir: file}, want: "not a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Start(context.Background(), Options{Spec: tt.spec, Logger: discardLogger()})
			require.Nil(t, b)
			require.ErrorIs(t, err, ErrSpawn)
			var serr *SpawnError
			require.ErrorAs(t, err, &serr)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestStartRespectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Start(ctx, Options{Spec: helperSpec(), Logger: discardLogger()})
	require.ErrorIs(t, err, context.Canceled)
}
