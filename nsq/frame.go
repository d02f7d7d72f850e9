package nsq

import (
	"encoding/binary"
	"errors"
)

// Frame types, per the NSQ TCP protocol v2.
const (
	FrameTypeResponse int32 = 0
	FrameTypeError    int32 = 1
	FrameTypeMessage  int32 = 2
)

// MagicV2 is written once at the start of every fresh TCP connection,
// before the first IDENTIFY.
var MagicV2 = []byte("  V2")

// HeartbeatPayload is the RESPONSE body nsqd sends as a heartbeat; clients
// must reply with NOP.
const HeartbeatPayload = "_heartbeat_"

// frame is a decoded [size][type][body] unit read off the wire.
type frame struct {
	Type int32
	Body []byte
}

var errIncompleteFrame = errors.New("nsq: incomplete frame")

// deframer is a streaming decoder: it accumulates bytes and emits frames as
// soon as a complete one is available, retaining any partial tail.
type deframer struct {
	buf []byte
}

func (d *deframer) feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// next returns the next complete frame, or errIncompleteFrame if the
// buffered bytes don't yet hold one.
func (d *deframer) next() (frame, error) {
	if len(d.buf) < 4 {
		return frame{}, errIncompleteFrame
	}
	size := binary.BigEndian.Uint32(d.buf[:4])
	if size < 4 {
		return frame{}, NewError(ProtocolFramingError, "frame size smaller than type field")
	}
	if uint32(len(d.buf))-4 < size {
		return frame{}, errIncompleteFrame
	}
	frameType := int32(binary.BigEndian.Uint32(d.buf[4:8]))
	body := make([]byte, size-4)
	copy(body, d.buf[8:4+size])
	d.buf = d.buf[4+size:]
	return frame{Type: frameType, Body: body}, nil
}

// putUint32 writes a big-endian length prefix.
func putUint32(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf, v)
}
