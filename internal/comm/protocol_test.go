package comm

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

func TestEncodeDecodeRequestTextRoundTrips(t *testing.T) {
	req := Request{ID: 7, Kind: KindSubscribe, Path: "Control.ball_position", Format: FormatText}
	messageType, payload, err := EncodeRequest(req, FormatText)
	if err != nil {
		t.Fatal(err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("expected TextMessage, got %d", messageType)
	}

	got, format, err := DecodeRequest(messageType, payload)
	if err != nil {
		t.Fatal(err)
	}
	if format != FormatText || got.ID != req.ID || got.Kind != req.Kind || got.Path != req.Path {
		t.Fatalf("round trip mismatch: %+v (%v)", got, format)
	}
}

func TestEncodeDecodeResponseBinaryRoundTripsValue(t *testing.T) {
	val := valuetree.Object(map[string]valuetree.Value{
		"x": valuetree.Number(3),
		"y": valuetree.String("hi"),
	})
	resp := Response{ID: 9, Kind: RespRead, Timestamp: time.Unix(1000, 0).UTC(), Value: val}

	messageType, payload, err := EncodeResponse(resp, FormatBinary)
	if err != nil {
		t.Fatal(err)
	}
	if messageType != websocket.BinaryMessage {
		t.Fatalf("expected BinaryMessage, got %d", messageType)
	}

	got, format, err := DecodeResponse(messageType, payload)
	if err != nil {
		t.Fatal(err)
	}
	if format != FormatBinary {
		t.Fatalf("expected FormatBinary, got %v", format)
	}
	if got.ID != resp.ID || got.Kind != resp.Kind {
		t.Fatalf("envelope mismatch: %+v", got)
	}
	if x, ok := got.Value.Field("x"); !ok {
		t.Fatal("expected field x to survive the gob round trip")
	} else if n, _ := x.Number(); n != 3 {
		t.Fatalf("expected x=3, got %v", n)
	}
	if y, ok := got.Value.Field("y"); !ok {
		t.Fatal("expected field y to survive the gob round trip")
	} else if s, _ := y.String(); s != "hi" {
		t.Fatalf("expected y=\"hi\", got %v", s)
	}
}

func TestDecodeRequestRejectsUnsupportedFrameType(t *testing.T) {
	if _, _, err := DecodeRequest(websocket.PingMessage, nil); err == nil {
		t.Fatal("expected an error for a non-text, non-binary frame")
	}
}

func TestErrResponseCarriesMessage(t *testing.T) {
	resp := ErrResponse(5, errFixture{})
	if resp.Kind != RespErr || resp.ID != 5 || resp.Err == "" {
		t.Fatalf("unexpected error response: %+v", resp)
	}
}

type errFixture struct{}

func (errFixture) Error() string { return "boom" }
