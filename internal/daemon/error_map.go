package daemon

import (
	"context"
	"errors"
	"strings"

	"github.com/lydakis/sidecar/internal/bridge"
	"github.com/lydakis/sidecar/internal/ipc"
)

// classifyBridgeError maps a bridge error to a CLI exit code.
func classifyBridgeError(err error) int {
	if err == nil {
		return ipc.ExitOK
	}

	var werr *bridge.WorkerError
	if errors.As(err, &werr) {
		if isUnknownMethod(werr.Message) {
			return ipc.ExitUsageErr
		}
		return ipc.ExitWorkerErr
	}
	return ipc.ExitInternal
}

// describeBridgeError is the text shown on the CLI's stderr.
func describeBridgeError(err error) string {
	switch {
	case errors.Is(err, bridge.ErrClosed):
		return "daemon is shutting down"
	case errors.Is(err, bridge.ErrWorkerExited):
		return "worker process exited"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	}
	return err.Error()
}

func isUnknownMethod(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "unknown method") || strings.Contains(msg, "method not found")
}
