package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/lydakis/sidecar/internal/daemon"
	"github.com/lydakis/sidecar/internal/ipc"
	"github.com/lydakis/sidecar/internal/mcpserver"
)

var notifyContext = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCall(args []string, fire bool) int {
	cmd := "call"
	reqType := ipc.TypeCall
	if fire {
		cmd, reqType = "fire", ipc.TypeFire
	}

	if len(args) == 0 {
		fmt.Fprintf(rootStderr, "sidecar: missing method name\n")
		printCallHelp(rootStderr, cmd)
		return ipc.ExitUsageErr
	}
	if args[0] == "-h" || args[0] == "--help" {
		printCallHelp(rootStdout, cmd)
		return ipc.ExitOK
	}

	method := args[0]
	parsed, err := parseCallArgs(args[1:], rootStdin, stdinIsTTY(rootStdin))
	if err != nil {
		fmt.Fprintf(rootStderr, "sidecar: %v\n", err)
		return ipc.ExitUsageErr
	}
	if parsed.help {
		printCallHelp(rootStdout, cmd)
		return ipc.ExitOK
	}
	if fire && parsed.cacheTTL != nil {
		fmt.Fprintln(rootStderr, "sidecar: fire results are never cached")
		return ipc.ExitUsageErr
	}

	client, err := connectDaemon(true)
	if err != nil {
		return connectFailure(err, parsed.quiet)
	}

	resp, err := client.Send(&ipc.Request{
		Type:    reqType,
		Method:  method,
		Params:  parsed.params,
		Cache:   parsed.cacheTTL,
		Verbose: parsed.verbose,
	})
	if err != nil {
		if !parsed.quiet {
			fmt.Fprintf(rootStderr, "sidecar: %v\n", err)
		}
		return ipc.ExitInternal
	}
	writeCallResponse(resp, parsed.quiet, rootStdout, rootStderr)
	return resp.ExitCode
}

func runEvents(args []string) int {
	names, help, err := parseEventsArgs(args)
	if err != nil {
		fmt.Fprintf(rootStderr, "sidecar: %v\n", err)
		printEventsHelp(rootStderr)
		return ipc.ExitUsageErr
	}
	if help {
		printEventsHelp(rootStdout)
		return ipc.ExitOK
	}

	client, err := connectDaemon(true)
	if err != nil {
		return connectFailure(err, false)
	}

	ctx, stop := notifyContext()
	defer stop()

	resp, err := client.Stream(ctx, &ipc.Request{Type: ipc.TypeEvents, Events: names}, func(r *ipc.Response) error {
		_, err := rootStdout.Write(r.Content)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ipc.ExitOK
		}
		fmt.Fprintf(rootStderr, "sidecar: %v\n", err)
		return ipc.ExitInternal
	}
	if resp.Stderr != "" {
		fmt.Fprintf(rootStderr, "sidecar: %s\n", resp.Stderr)
	}
	return resp.ExitCode
}

func runStatus(args []string) int {
	if len(args) > 0 {
		fmt.Fprintf(rootStderr, "sidecar: status takes no arguments\n")
		return ipc.ExitUsageErr
	}

	client, err := connectDaemon(false)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Fprintln(rootStderr, "sidecar: daemon not running")
		return ipc.ExitWorkerErr
	}
	if err != nil {
		return connectFailure(err, false)
	}

	resp, err := client.Send(&ipc.Request{Type: ipc.TypeStatus})
	if err != nil {
		fmt.Fprintf(rootStderr, "sidecar: %v\n", err)
		return ipc.ExitInternal
	}
	writeCallResponse(resp, false, rootStdout, rootStderr)
	return resp.ExitCode
}

func runStop(args []string) int {
	if len(args) > 0 {
		fmt.Fprintf(rootStderr, "sidecar: stop takes no arguments\n")
		return ipc.ExitUsageErr
	}

	client, err := connectDaemon(false)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Fprintln(rootStdout, "daemon not running")
		return ipc.ExitOK
	}
	if err != nil {
		return connectFailure(err, false)
	}

	resp, err := client.Send(&ipc.Request{Type: ipc.TypeShutdown})
	if err != nil {
		fmt.Fprintf(rootStderr, "sidecar: %v\n", err)
		return ipc.ExitInternal
	}
	writeCallResponse(resp, false, rootStdout, rootStderr)
	return resp.ExitCode
}

var serveMCPFn = mcpserver.Serve

// daemonCaller resolves the daemon for every tool call, so a long-lived MCP
// session keeps working after the daemon idles out or restarts with a new
// nonce.
type daemonCaller struct {
	connect func() (daemonClient, error)
}

func (c daemonCaller) Call(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	resp, err := client.Stream(ctx, req, nil)
	if !staleDaemon(resp, err) || ctx.Err() != nil {
		return resp, err
	}
	// The daemon went away between connecting and sending; the request
	// never reached a worker, so one retry against a fresh daemon is safe.
	if client, err = c.connect(); err != nil {
		return nil, err
	}
	return client.Stream(ctx, req, nil)
}

// staleDaemon reports a send that failed before the daemon accepted it.
func staleDaemon(resp *ipc.Response, err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return err == nil && resp != nil && resp.Stderr == ipc.MsgNonceMismatch
}

func runMCP(args []string) int {
	if len(args) > 0 {
		fmt.Fprintf(rootStderr, "sidecar: mcp takes no arguments\n")
		return ipc.ExitUsageErr
	}

	// Connect once up front so a broken config or daemon fails fast.
	if _, err := connectDaemon(true); err != nil {
		return connectFailure(err, false)
	}

	ctx, stop := notifyContext()
	defer stop()

	caller := daemonCaller{connect: func() (daemonClient, error) { return connectDaemon(true) }}
	if err := serveMCPFn(ctx, caller, buildVersion, rootStdin, rootStdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(rootStderr, "sidecar: mcp: %v\n", err)
		return ipc.ExitInternal
	}
	return ipc.ExitOK
}
