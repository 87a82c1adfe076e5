package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Stream sends one intermediate response of a streamed reply.
type Stream func(resp *Response) error

// Handler processes an IPC request and returns the final response. Handlers
// for streaming request types call stream before returning; ctx is canceled
// when the client goes away.
type Handler func(ctx context.Context, req *Request, stream Stream) *Response

var peerUIDMatchesCurrentUserFn = peerUIDMatchesCurrentUser

// Server listens for IPC connections on a Unix socket.
type Server struct {
	socketPath string
	nonce      string
	handler    Handler
	listener   net.Listener
	wg         sync.WaitGroup
}

// NewServer creates a new IPC server.
func NewServer(socketPath, nonce string, handler Handler) *Server {
	return &Server{
		socketPath: socketPath,
		nonce:      nonce,
		handler:    handler,
	}
}

// Start begins listening for connections. It removes any stale socket file first.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		_ = os.Remove(s.socketPath)
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener and waits for open connections to finish.
// Streaming handlers must be unblocked first (their context is tied to the
// client, not to Stop).
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	ok, err := peerUIDMatchesCurrentUserFn(conn)
	if err != nil {
		writeResponse(conn, &Response{ExitCode: ExitInternal, Stderr: "peer uid check failed"})
		return
	}
	if !ok {
		writeResponse(conn, &Response{ExitCode: ExitInternal, Stderr: "peer uid mismatch"})
		return
	}

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		writeResponse(conn, &Response{ExitCode: ExitInternal, Stderr: "invalid request"})
		return
	}
	if req.Nonce != s.nonce {
		writeResponse(conn, &Response{ExitCode: ExitInternal, Stderr: MsgNonceMismatch})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The client sends nothing after its request, so any read completing
	// means it hung up.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var buf [1]byte
		_, _ = conn.Read(buf[:])
		cancel()
	}()

	enc := json.NewEncoder(conn)
	stream := func(resp *Response) error {
		resp.More = true
		return enc.Encode(resp)
	}
	resp := s.handler(ctx, &req, stream)

	_ = conn.SetReadDeadline(time.Now())
	<-done
	_ = conn.SetReadDeadline(time.Time{})

	resp.More = false
	_ = enc.Encode(resp)
}

func writeResponse(conn net.Conn, resp *Response) {
	_ = json.NewEncoder(conn).Encode(resp)
}
