package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/lydakis/sidecar/internal/config"
	"github.com/lydakis/sidecar/internal/daemon"
	"github.com/lydakis/sidecar/internal/ipc"
	"github.com/lydakis/sidecar/internal/paths"
)

// daemonClient is the part of *ipc.Client the commands use.
type daemonClient interface {
	Send(req *ipc.Request) (*ipc.Response, error)
	Stream(ctx context.Context, req *ipc.Request, fn func(*ipc.Response) error) (*ipc.Response, error)
}

var (
	loadConfigFn     = config.Load
	spawnOrConnectFn = daemon.SpawnOrConnect
	connectFn        = daemon.Connect
	newClientFn      = func(nonce string) daemonClient {
		return ipc.NewClient(paths.SocketPath(), nonce)
	}
)

// Run is the main CLI entry point. Returns an exit code.
func Run(args []string) int {
	if handled, code := handleRootFlags(args); handled {
		return code
	}
	if len(args) == 0 {
		printRootHelp(rootStderr)
		return ipc.ExitUsageErr
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "call":
		return runCall(rest, false)
	case "fire":
		return runCall(rest, true)
	case "events":
		return runEvents(rest)
	case "status":
		return runStatus(rest)
	case "stop":
		return runStop(rest)
	case "init":
		return runInit(rest, rootStdout, rootStderr)
	case "mcp":
		return runMCP(rest)
	case "help":
		printRootHelp(rootStdout)
		return ipc.ExitOK
	default:
		fmt.Fprintf(rootStderr, "sidecar: unknown command: %s\n", cmd)
		printRootHelp(rootStderr)
		return ipc.ExitUsageErr
	}
}

// connectDaemon returns a client for the running daemon, starting one first
// when spawn is set. A missing daemon without spawn yields daemon.ErrNotRunning.
func connectDaemon(spawn bool) (daemonClient, error) {
	if spawn {
		cfg, err := loadConfigFn()
		if err != nil {
			return nil, err
		}
		if err := config.Validate(cfg); err != nil {
			return nil, &usageError{fmt.Errorf("invalid config: %w", err)}
		}
		nonce, err := spawnOrConnectFn()
		if err != nil {
			return nil, err
		}
		return newClientFn(nonce), nil
	}

	nonce, err := connectFn()
	if err != nil {
		return nil, err
	}
	return newClientFn(nonce), nil
}

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// connectFailure prints err and maps it to an exit code.
func connectFailure(err error, quiet bool) int {
	if !quiet {
		fmt.Fprintf(rootStderr, "sidecar: %v\n", err)
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return ipc.ExitUsageErr
	}
	return ipc.ExitInternal
}

func writeCallResponse(resp *ipc.Response, quiet bool, stdout, stderr io.Writer) {
	if resp == nil {
		return
	}
	if !quiet && resp.Stderr != "" {
		fmt.Fprintln(stderr, resp.Stderr)
	}
	if resp.ExitCode == ipc.ExitOK {
		stdout.Write(resp.Content) //nolint:errcheck
		return
	}
	if !quiet && len(resp.Content) > 0 {
		stderr.Write(resp.Content) //nolint:errcheck
	}
}

func stdinIsTTY(r io.Reader) bool {
	file, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return true
	}
	return info.Mode()&fs.ModeCharDevice != 0
}
