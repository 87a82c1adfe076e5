package ipc

import (
	"encoding/json"
	"time"
)

// Request types.
const (
	TypeCall     = "call"     // request/response call, or fire for configured fire methods
	TypeFire     = "fire"     // always a fire-and-acknowledge call
	TypeEvents   = "events"   // stream worker events until the client disconnects
	TypeStatus   = "status"   // worker and daemon state
	TypeShutdown = "shutdown" // stop the worker and the daemon
	TypePing     = "ping"     // liveness and nonce check; touches nothing
)

// Request is sent from the CLI to the daemon over the Unix socket.
type Request struct {
	Nonce   string          `json:"nonce"`
	Type    string          `json:"type"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Events  []string        `json:"events,omitempty"` // event name filter for TypeEvents
	Cache   *time.Duration  `json:"cache,omitempty"`  // cache TTL override, <= 0 bypasses
	Verbose bool            `json:"verbose,omitempty"`
}

// MsgNonceMismatch is the Stderr of a response to a request carrying a
// stale or wrong nonce.
const MsgNonceMismatch = "nonce mismatch"

// Response is sent from the daemon back to the CLI. A streamed reply is a
// sequence of responses with More set, closed by one without it.
type Response struct {
	Content  []byte `json:"content"`          // raw output for stdout
	ExitCode int    `json:"exit_code"`        // see Exit* constants
	Stderr   string `json:"stderr,omitempty"` // error or log text for stderr
	More     bool   `json:"more,omitempty"`
}

// Exit codes.
const (
	ExitOK        = 0
	ExitWorkerErr = 1
	ExitUsageErr  = 2
	ExitInternal  = 3
)
