package nsq

import (
	"encoding/binary"
	"testing"
	"time"
)

func buildMessageFrameBody(id string, attempts uint16, body []byte) []byte {
	buf := make([]byte, 26+len(body))
	binary.BigEndian.PutUint64(buf[0:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint16(buf[8:10], attempts)
	copy(buf[10:26], []byte(id))
	copy(buf[26:], body)
	return buf
}

func TestParseMessage(t *testing.T) {
	raw := buildMessageFrameBody("0000000000000001", 1, []byte(`{"hello":"world"}`))
	msg, err := parseMessage(raw, 7, 60*time.Second)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if msg.ID != "0000000000000001" {
		t.Fatalf("unexpected id: %s", msg.ID)
	}
	if msg.Attempts != 1 {
		t.Fatalf("unexpected attempts: %d", msg.Attempts)
	}
	var decoded struct {
		Hello string `json:"hello"`
	}
	if err := msg.DecodeJSON(&decoded); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if decoded.Hello != "world" {
		t.Fatalf("unexpected decoded field: %s", decoded.Hello)
	}
}

func TestParseMessageTooShort(t *testing.T) {
	if _, err := parseMessage([]byte("short"), 1, time.Second); err == nil {
		t.Fatal("expected error for undersized MESSAGE frame")
	}
}

func TestMessageFinishIsIdempotent(t *testing.T) {
	raw := buildMessageFrameBody("0000000000000002", 1, []byte("body"))
	msg, err := parseMessage(raw, 999999, time.Second)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	// No Connection is registered for connID 999999, so Finish should
	// report ErrTerminated rather than panic on a nil lookup.
	if err := msg.Finish(); err != ErrTerminated {
		t.Fatalf("expected ErrTerminated, got %v", err)
	}
	if err := msg.Finish(); err != nil {
		t.Fatalf("second Finish should be a no-op, got %v", err)
	}
}
