package nsq

import "testing"

func TestNewServerErrorSplitsCodeAndMessage(t *testing.T) {
	err := NewServerError("nsqd-1", 4150, "E_INVALID DPUB delay must be a valid integer")
	if err.Code != "E_INVALID" {
		t.Fatalf("expected code E_INVALID, got %s", err.Code)
	}
	if err.Message != "DPUB delay must be a valid integer" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.Host != "nsqd-1" || err.Port != 4150 {
		t.Fatalf("unexpected host/port: %s:%d", err.Host, err.Port)
	}
}

func TestNewServerErrorNoMessage(t *testing.T) {
	err := NewServerError("nsqd-1", 4150, "E_BAD_TOPIC")
	if err.Code != "E_BAD_TOPIC" {
		t.Fatalf("expected code E_BAD_TOPIC, got %s", err.Code)
	}
	if err.Message != "" {
		t.Fatalf("expected empty message, got %q", err.Message)
	}
}

func TestIsFatalServerError(t *testing.T) {
	fatal := []string{"E_INVALID", "E_BAD_TOPIC", "E_BAD_CHANNEL"}
	for _, code := range fatal {
		if !isFatalServerError(code) {
			t.Fatalf("expected %s to be fatal", code)
		}
	}
	nonFatal := []string{"E_REQ_FAILED", "E_FIN_FAILED", "E_TOUCH_FAILED"}
	for _, code := range nonFatal {
		if isFatalServerError(code) {
			t.Fatalf("expected %s to be non-fatal", code)
		}
	}
}

func TestNSQErrorUnwrap(t *testing.T) {
	inner := NewLookupError("http://lookupd:4161", errBoom)
	if inner.Unwrap() != errBoom {
		t.Fatalf("expected Unwrap to return the wrapped error")
	}
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

var errBoom = sentinelErr("boom")
