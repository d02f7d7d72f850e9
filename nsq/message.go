package nsq

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"
)

// Message is a parsed MESSAGE frame. Finish/Requeue/Touch reach back to the
// owning Connection through a non-owning numeric handle (connID) looked up
// in the package registry, rather than a strong pointer — see SPEC_FULL.md
// §9 ("Message back-reference").
type Message struct {
	ID             string
	Body           []byte
	Attempts       uint16
	PublishedAt    time.Time
	TimestampRecvd time.Time

	connID  uint64
	timeout time.Duration

	mu         sync.Mutex
	finalized  bool
	keepaliveT *time.Timer
}

// parseMessage decodes a MESSAGE frame body per §3: 8-byte BE ns timestamp,
// 2-byte BE attempts, 16-byte ASCII id, remaining bytes are the body.
func parseMessage(body []byte, connID uint64, msgTimeout time.Duration) (*Message, error) {
	if len(body) < 26 {
		return nil, NewError(ProtocolFramingError, "MESSAGE frame too short")
	}
	ts := int64(binary.BigEndian.Uint64(body[0:8]))
	attempts := binary.BigEndian.Uint16(body[8:10])
	id := string(body[10:26])
	msgBody := body[26:]

	return &Message{
		ID:             id,
		Body:           msgBody,
		Attempts:       attempts,
		PublishedAt:    time.Unix(0, ts),
		TimestampRecvd: time.Now(),
		connID:         connID,
		timeout:        msgTimeout,
	}, nil
}

// DecodeJSON opportunistically decodes Body as JSON into v, per the
// round-trip property in §8: bodies that aren't valid JSON come back raw.
func (m *Message) DecodeJSON(v interface{}) error {
	return json.Unmarshal(m.Body, v)
}

// Finish sends FIN, removing the message from its Connection's inflight map.
func (m *Message) Finish() error {
	m.mu.Lock()
	if m.finalized {
		m.mu.Unlock()
		return nil
	}
	m.finalized = true
	m.stopKeepaliveLocked()
	m.mu.Unlock()

	conn := lookupConn(m.connID)
	if conn == nil {
		return ErrTerminated
	}
	return conn.finishMessage(m.ID)
}

// Requeue sends REQ with the given delay, requesting redelivery.
func (m *Message) Requeue(delay time.Duration) error {
	m.mu.Lock()
	if m.finalized {
		m.mu.Unlock()
		return nil
	}
	m.finalized = true
	m.stopKeepaliveLocked()
	m.mu.Unlock()

	conn := lookupConn(m.connID)
	if conn == nil {
		return ErrTerminated
	}
	return conn.requeueMessage(m.ID, delay)
}

// Touch sends TOUCH, resetting this message's msg_timeout. Touch on a
// message already removed from the inflight map (server-side timeout) is
// accepted by this client and will surface a non-fatal E_TOUCH_FAILED (see
// "Open Question decisions" in DESIGN.md).
func (m *Message) Touch() error {
	conn := lookupConn(m.connID)
	if conn == nil {
		return ErrTerminated
	}
	return conn.touchMessage(m.ID)
}

// ExpiresIn reports how long remains before msg_timeout elapses.
func (m *Message) ExpiresIn() time.Duration {
	conn := lookupConn(m.connID)
	if conn == nil {
		return 0
	}
	return conn.inflightRemaining(m.ID)
}

// defaultKeepaliveOffset is how far ahead of expiry Keepalive schedules its next
// TOUCH, so the TOUCH round-trip completes before msg_timeout elapses.
const defaultKeepaliveOffset = 5 * time.Second

// Keepalive schedules periodic TOUCH calls to extend this message's
// msg_timeout, stopping once Finish/Requeue is called or max_msg_timeout
// is reached (per §5 "Cancellation / timeouts").
func (m *Message) Keepalive(maxMsgTimeout time.Duration, keepaliveOffset time.Duration) {
	if keepaliveOffset <= 0 {
		keepaliveOffset = defaultKeepaliveOffset
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return
	}
	m.stopKeepaliveLocked()
	m.scheduleKeepaliveLocked(time.Now(), maxMsgTimeout, keepaliveOffset)
}

func (m *Message) scheduleKeepaliveLocked(touchedAt time.Time, maxMsgTimeout, keepaliveOffset time.Duration) {
	next := m.timeout - keepaliveOffset
	if next <= 0 {
		next = m.timeout / 2
	}
	if maxMsgTimeout > 0 && time.Since(m.TimestampRecvd) >= maxMsgTimeout {
		return
	}
	m.keepaliveT = time.AfterFunc(next, func() {
		if err := m.Touch(); err != nil {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.finalized {
			return
		}
		m.scheduleKeepaliveLocked(time.Now(), maxMsgTimeout, keepaliveOffset)
	})
}

func (m *Message) stopKeepaliveLocked() {
	if m.keepaliveT != nil {
		m.keepaliveT.Stop()
		m.keepaliveT = nil
	}
}
