// Package protocol implements the newline-delimited JSON framing spoken
// between the host and its worker process.
//
// Each frame is one JSON value on one line. The host writes requests; the
// worker writes responses (correlated by id) and events (uncorrelated).
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is written from host to worker.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is written from worker to host. Exactly one of Result or Error is
// meaningful; Error wins when both are present.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// Event is an unsolicited notification from the worker.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Kind classifies a decoded inbound frame.
type Kind int

const (
	KindInvalid Kind = iota
	KindEvent
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Inbound is a classified frame read from the worker.
type Inbound struct {
	Kind     Kind
	Event    Event
	Response Response
}

var null = json.RawMessage("null")

// Encode marshals v as a single frame terminated by a newline.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// json.Marshal never emits raw newlines, so the frame is one line.
	return append(data, '\n'), nil
}

// NewRequest builds a request frame. Params may be nil, a json.RawMessage,
// a []byte holding JSON, or any value json.Marshal accepts.
func NewRequest(id uint64, method string, params any) (Request, error) {
	raw, err := MarshalParams(params)
	if err != nil {
		return Request{}, fmt.Errorf("encoding params for %s: %w", method, err)
	}
	return Request{ID: id, Method: method, Params: raw}, nil
}

// MarshalParams normalizes caller params into raw JSON.
func MarshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return null, nil
	case json.RawMessage:
		if len(bytes.TrimSpace(p)) == 0 {
			return null, nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("params are not valid JSON")
		}
		return p, nil
	case []byte:
		return MarshalParams(json.RawMessage(p))
	default:
		return json.Marshal(p)
	}
}

// Decode classifies one line read from the worker. Lines that are not JSON
// objects, or that carry neither a string "event" nor an unsigned "id",
// decode as KindInvalid.
func Decode(line []byte) Inbound {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Inbound{}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Inbound{}
	}

	if raw, ok := fields["event"]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			return Inbound{Kind: KindEvent, Event: Event{Name: name, Data: orNull(fields["data"])}}
		}
	}

	raw, ok := fields["id"]
	if !ok {
		return Inbound{}
	}
	var id uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return Inbound{}
	}

	resp := Response{ID: id}
	if rawErr, ok := fields["error"]; ok {
		var msg string
		if err := json.Unmarshal(rawErr, &msg); err == nil {
			resp.Error = &msg
			return Inbound{Kind: KindResponse, Response: resp}
		}
	}
	resp.Result = orNull(fields["result"])
	return Inbound{Kind: KindResponse, Response: resp}
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return null
	}
	return raw
}
