// Package comm implements the WebSocket communication protocol of
// spec.md 4.C10: a bidirectional, request/response protocol over
// github.com/gorilla/websocket frames, plus the per-connection and
// client-side reconnect state machines. Grounded on
// _examples/original_source/crates/communication/src/client/{protocol,connector}.rs
// for the wire semantics and reconnect transitions.
package comm

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

// Format selects the frame encoding used for a request's responses:
// Text frames carry JSON, Binary frames carry encoding/gob — the stdlib
// choice spec.md 4.C10 calls for when no third-party compact binary codec
// appears anywhere in the example corpus (see DESIGN.md).
type Format int

const (
	FormatText Format = iota
	FormatBinary
)

func (f Format) String() string {
	if f == FormatBinary {
		return "Binary"
	}
	return "Text"
}

// RequestKind enumerates spec.md 4.C10's request kinds. Rust models these
// as a tagged enum; Go has no equivalent sum type, so Request is one flat
// struct with a Kind discriminator and kind-specific fields left zero
// when unused — this keeps both the JSON and the gob encodings trivial
// (gob cannot decode into an unregistered interface value, and a
// hand-written tagged-union JSON marshaler buys little here since this
// protocol has no non-Go client to stay bit-compatible with).
type RequestKind string

const (
	KindGetPaths    RequestKind = "GetPaths"
	KindRead        RequestKind = "Read"
	KindSubscribe   RequestKind = "Subscribe"
	KindUnsubscribe RequestKind = "Unsubscribe"
	KindWrite       RequestKind = "Write"
)

// Request is one client-initiated message. ID is monotonically increasing
// per connection, assigned by the client.
type Request struct {
	ID     uint64      `json:"id"`
	Kind   RequestKind `json:"kind"`
	Path   string      `json:"path,omitempty"`
	Format Format      `json:"format,omitempty"`
	SubID  uint64      `json:"sub_id,omitempty"` // Unsubscribe target
	Value  valuetree.Value `json:"value,omitempty"`
}

// ResponseKind enumerates spec.md 4.C10's response kinds, including the
// bare "Unsubscribe"/"Write" acknowledgements and the error case.
type ResponseKind string

const (
	RespPaths       ResponseKind = "Paths"
	RespRead        ResponseKind = "Read"
	RespSubscribe   ResponseKind = "Subscribe"
	RespUpdate      ResponseKind = "Update"
	RespUnsubscribe ResponseKind = "Unsubscribe"
	RespWrite       ResponseKind = "Write"
	RespErr         ResponseKind = "Err"
)

// Response is the envelope `{id, kind: Ok(ResponseKind) | Err(string)}` of
// spec.md 4.C10, flattened into one struct for the reason RequestKind's
// doc comment explains.
type Response struct {
	ID        uint64       `json:"id"`
	Kind      ResponseKind `json:"kind"`
	Paths     []string     `json:"paths,omitempty"`
	Timestamp time.Time    `json:"timestamp,omitempty"`
	Value     valuetree.Value `json:"value,omitempty"`
	Err       string       `json:"err,omitempty"`
}

func ErrResponse(id uint64, err error) Response {
	return Response{ID: id, Kind: RespErr, Err: err.Error()}
}

// EncodeRequest renders r as a websocket frame in the given format,
// returning the gorilla/websocket message type to send it with.
func EncodeRequest(r Request, format Format) (messageType int, payload []byte, err error) {
	return encode(r, format)
}

// DecodeRequest parses a frame of the given gorilla/websocket message type
// back into a Request, inferring the format from the frame type itself.
func DecodeRequest(messageType int, payload []byte) (Request, Format, error) {
	var r Request
	format, err := decode(messageType, payload, &r)
	return r, format, err
}

func EncodeResponse(r Response, format Format) (messageType int, payload []byte, err error) {
	return encode(r, format)
}

func DecodeResponse(messageType int, payload []byte) (Response, Format, error) {
	var r Response
	format, err := decode(messageType, payload, &r)
	return r, format, err
}

func encode(v interface{}, format Format) (int, []byte, error) {
	switch format {
	case FormatBinary:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(v); err != nil {
			return 0, nil, fmt.Errorf("comm: gob encode: %w", err)
		}
		return websocket.BinaryMessage, buf.Bytes(), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return 0, nil, fmt.Errorf("comm: json encode: %w", err)
		}
		return websocket.TextMessage, data, nil
	}
}

func decode(messageType int, payload []byte, out interface{}) (Format, error) {
	switch messageType {
	case websocket.BinaryMessage:
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(out); err != nil {
			return FormatBinary, fmt.Errorf("comm: gob decode: %w", err)
		}
		return FormatBinary, nil
	case websocket.TextMessage:
		if err := json.Unmarshal(payload, out); err != nil {
			return FormatText, fmt.Errorf("comm: json decode: %w", err)
		}
		return FormatText, nil
	default:
		return FormatText, fmt.Errorf("comm: unsupported websocket frame type %d", messageType)
	}
}
