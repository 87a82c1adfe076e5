package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Client sends requests to the daemon over a Unix socket.
type Client struct {
	socketPath string
	nonce      string
}

// NewClient creates a new IPC client.
func NewClient(socketPath, nonce string) *Client {
	return &Client{socketPath: socketPath, nonce: nonce}
}

// Send sends a request and returns its final response. Intermediate
// streamed responses, if any, are discarded.
func (c *Client) Send(req *Request) (*Response, error) {
	return c.Stream(context.Background(), req, nil)
}

// Stream sends a request, passes every intermediate response to fn and
// returns the final one. Canceling ctx closes the connection, which the
// daemon sees as the client going away.
func (c *Client) Stream(ctx context.Context, req *Request, fn func(*Response) error) (*Response, error) {
	req.Nonce = c.nonce

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	dec := json.NewDecoder(conn)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if !resp.More {
			return &resp, nil
		}
		if fn == nil {
			continue
		}
		if err := fn(&resp); err != nil {
			if errors.Is(err, ErrStopStream) {
				return &Response{ExitCode: ExitOK}, nil
			}
			return nil, err
		}
	}
}

// ErrStopStream may be returned by a Stream callback to end the stream
// early without error.
var ErrStopStream = errors.New("stop stream")
