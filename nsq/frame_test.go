package nsq

import (
	"encoding/binary"
	"testing"
)

func buildFrame(frameType int32, body []byte) []byte {
	buf := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(4+len(body)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(frameType))
	copy(buf[8:], body)
	return buf
}

func TestDeframerSingleFrame(t *testing.T) {
	var df deframer
	df.feed(buildFrame(FrameTypeResponse, []byte("OK")))

	f, err := df.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if f.Type != FrameTypeResponse || string(f.Body) != "OK" {
		t.Fatalf("unexpected frame: %+v", f)
	}

	if _, err := df.next(); err != errIncompleteFrame {
		t.Fatalf("expected errIncompleteFrame on empty buffer, got %v", err)
	}
}

func TestDeframerSplitAcrossFeeds(t *testing.T) {
	full := buildFrame(FrameTypeMessage, []byte("hello world"))
	var df deframer
	df.feed(full[:5])
	if _, err := df.next(); err != errIncompleteFrame {
		t.Fatalf("expected errIncompleteFrame on partial header, got %v", err)
	}
	df.feed(full[5:])
	f, err := df.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(f.Body) != "hello world" {
		t.Fatalf("unexpected body: %q", f.Body)
	}
}

func TestDeframerMultipleFramesInOneFeed(t *testing.T) {
	var df deframer
	df.feed(append(buildFrame(FrameTypeResponse, []byte("a")), buildFrame(FrameTypeResponse, []byte("bb"))...))

	f1, err := df.next()
	if err != nil || string(f1.Body) != "a" {
		t.Fatalf("first frame: %+v, err=%v", f1, err)
	}
	f2, err := df.next()
	if err != nil || string(f2.Body) != "bb" {
		t.Fatalf("second frame: %+v, err=%v", f2, err)
	}
}
