package daemon

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lydakis/sidecar/internal/ipc"
	"github.com/lydakis/sidecar/internal/paths"
)

// ErrNotRunning is returned by Connect when no daemon is listening.
var ErrNotRunning = errors.New("sidecar daemon is not running")

const startupTimeout = 5 * time.Second

var (
	readNonceFn           = readNonce
	isListeningFn         = isListening
	validateDaemonNonceFn = validateDaemonNonce
	spawnDaemonFn         = spawnDaemon
	waitForDaemonFn       = waitForDaemon
	acquireSpawnLockFn    = acquireSpawnLock
	execCommandFn         = exec.Command
)

// SpawnOrConnect ensures a daemon is running and returns the nonce for IPC auth.
// If no daemon is listening, it spawns one and waits for it to be ready.
func SpawnOrConnect() (string, error) {
	if err := paths.EnsureDir(paths.RuntimeDir()); err != nil {
		return "", fmt.Errorf("creating runtime dir: %w", err)
	}

	releaseLock, err := acquireSpawnLockFn(paths.LockPath())
	if err != nil {
		return "", fmt.Errorf("acquiring daemon lock: %w", err)
	}
	defer releaseLock() //nolint:errcheck

	if nonce, ok := existingDaemon(); ok {
		return nonce, nil
	}

	exited, err := spawnDaemonFn()
	if err != nil {
		return "", err
	}
	return waitForDaemonFn(exited)
}

// Connect returns the nonce of a running daemon without starting one.
func Connect() (string, error) {
	if nonce, ok := existingDaemon(); ok {
		return nonce, nil
	}
	return "", ErrNotRunning
}

// existingDaemon validates the daemon named by the state file. Stale state
// is removed.
func existingDaemon() (string, bool) {
	nonce, err := readNonceFn()
	if err != nil || !isListeningFn() {
		return "", false
	}
	if valid, err := validateDaemonNonceFn(nonce); err == nil && valid {
		return nonce, true
	}
	// State may have changed between reads (daemon restart); retry once.
	if fresh, err := readNonceFn(); err == nil && fresh != nonce {
		if valid, err := validateDaemonNonceFn(fresh); err == nil && valid {
			return fresh, true
		}
	}
	clearDaemonRuntimeState()
	return "", false
}

func validateDaemonNonce(nonce string) (bool, error) {
	client := ipc.NewClient(paths.SocketPath(), nonce)
	resp, err := client.Send(&ipc.Request{Type: ipc.TypePing})
	if err != nil {
		return false, err
	}
	if strings.Contains(strings.ToLower(resp.Stderr), "nonce mismatch") {
		return false, nil
	}
	return true, nil
}

func clearDaemonRuntimeState() {
	_ = os.Remove(paths.SocketPath())
	_ = os.Remove(paths.StatePath())
}

func acquireSpawnLock(path string) (func() error, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	return func() error {
		unlockErr := unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		closeErr := lockFile.Close()
		if unlockErr != nil {
			return unlockErr
		}
		return closeErr
	}, nil
}

// spawnDaemon starts "sidecar __daemon" detached from the terminal. The
// returned channel closes if the daemon exits.
func spawnDaemon() (<-chan struct{}, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("finding executable: %w", err)
	}

	cmd, cleanup, err := newDaemonCommand(exe)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning daemon: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	return exited, nil
}

func newDaemonCommand(exe string) (*exec.Cmd, func(), error) {
	cmd := execCommandFn(exe, "__daemon")

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	errLog, err := os.OpenFile(paths.StartupLogPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		devNull.Close()
		return nil, nil, fmt.Errorf("opening daemon log: %w", err)
	}

	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = errLog
	// Own session: a Ctrl-C aimed at the CLI must not reach the daemon.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	return cmd, func() {
		_ = devNull.Close()
		_ = errLog.Close()
	}, nil
}

func waitForDaemon(exited <-chan struct{}) (string, error) {
	deadline := time.NewTimer(startupTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if nonce, err := readNonce(); err == nil && isListening() {
			return nonce, nil
		}
		select {
		case <-exited:
			return "", fmt.Errorf("daemon exited during startup%s", startupFailure())
		case <-deadline.C:
			return "", fmt.Errorf("daemon did not start within %s%s", startupTimeout, startupFailure())
		case <-tick.C:
		}
	}
}

// startupFailure returns the last line the daemon wrote to stderr, if any.
func startupFailure() string {
	data, err := os.ReadFile(paths.StartupLogPath())
	if err != nil {
		return ""
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return ": " + string(data)
}

func isListening() bool {
	conn, err := net.DialTimeout("unix", paths.SocketPath(), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func readNonce() (string, error) {
	data, err := os.ReadFile(paths.StatePath())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readOrCreateNonce() (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(paths.StatePath(), []byte(nonce+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing nonce: %w", err)
	}
	return nonce, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
