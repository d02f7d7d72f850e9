package nsq

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SocketObserver receives lifecycle events from a reconnectingSocket. It
// replaces the source library's named string events ("connect", "data", …)
// with a small typed callback set, per SPEC_FULL.md §9.
type SocketObserver struct {
	OnConnect    func()
	OnData       func([]byte)
	OnDisconnect func()
	OnReconnect  func()
	OnFailed     func(err error)
	OnError      func(err error)
}

// reconnectingSocket owns one TCP connection to a single host:port and
// drives the reconnect-with-backoff policy of §4.2 end to end: run(ctx)
// dials, and on any unexpected close re-dials after a
// min(attempts×reconnectDelayFactor, maxReconnectDelay) wait, up to
// maxConnectAttempts, using github.com/cenkalti/backoff/v4's BackOff/Retry
// machinery (via reconnectBackOff, SPEC_FULL.md §4.2A) for the retry loop
// itself.
type reconnectingSocket struct {
	host string
	port int

	dialTimeout time.Duration
	backOff     *reconnectBackOff
	observer    SocketObserver

	mu      sync.Mutex
	conn    net.Conn
	ending  bool
	unrefed bool
	everUp  bool
}

func newReconnectingSocket(host string, port int, dialTimeout, factor, maxDelay time.Duration, maxAttempts uint32, observer SocketObserver) *reconnectingSocket {
	return &reconnectingSocket{
		host:        host,
		port:        port,
		dialTimeout: dialTimeout,
		backOff:     newReconnectBackOff(factor, maxDelay, maxAttempts),
		observer:    observer,
	}
}

// run dials and, on unexpected disconnect, keeps retrying per the backoff
// policy until success, until `ending` is set by end()/destroy(), or until
// attempts are exhausted (OnFailed then returns). It blocks until one of
// those terminal conditions, so callers run it in its own goroutine.
func (s *reconnectingSocket) run(ctx context.Context) {
	for {
		s.mu.Lock()
		ending := s.ending
		s.mu.Unlock()
		if ending {
			return
		}

		err := backoff.Retry(func() error {
			dialCtx := ctx
			cancel := func() {}
			if s.dialTimeout > 0 {
				dialCtx, cancel = context.WithTimeout(ctx, s.dialTimeout)
			}
			defer cancel()
			return s.dialOnce(dialCtx)
		}, backoff.WithContext(s.backOff, ctx))

		if err != nil {
			if s.observer.OnFailed != nil {
				s.observer.OnFailed(NewError(TerminalError, "maximum reconnect attempts exceeded"))
			}
			return
		}

		s.backOff.Reset()

		s.mu.Lock()
		conn := s.conn
		first := !s.everUp
		s.everUp = true
		s.mu.Unlock()

		if first {
			if s.observer.OnConnect != nil {
				s.observer.OnConnect()
			}
		} else {
			if s.observer.OnReconnect != nil {
				s.observer.OnReconnect()
			}
		}

		s.readLoop(conn) // blocks until the socket closes

		s.mu.Lock()
		ending = s.ending
		s.mu.Unlock()

		if s.observer.OnDisconnect != nil {
			s.observer.OnDisconnect()
		}
		if ending {
			return
		}
		// loop back around and retry the dial
	}
}

func (s *reconnectingSocket) dialOnce(ctx context.Context) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		if s.observer.OnError != nil {
			s.observer.OnError(err)
		}
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *reconnectingSocket) readLoop(conn net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if s.observer.OnData != nil {
				s.observer.OnData(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// write blocks until the bytes are handed to the kernel socket buffer.
func (s *reconnectingSocket) write(b []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return NewError(TransportError, "socket is not connected")
	}
	_, err := conn.Write(b)
	return err
}

// end performs a half-close drain: no further reconnects, but lets an
// in-flight write/read complete.
func (s *reconnectingSocket) end() {
	s.mu.Lock()
	s.ending = true
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = closer.CloseWrite()
		return
	}
	_ = conn.Close()
}

// reset forces the current socket closed without marking the connection as
// ending, so the reconnect loop treats it as an unexpected disconnect and
// retries per the backoff policy. Used for fatal protocol/server errors
// (§4.3, §7) that must tear down the TCP session but are not a permanent
// failure.
func (s *reconnectingSocket) reset() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// destroy is an abortive close: no drain, no further events expected.
func (s *reconnectingSocket) destroy() {
	s.mu.Lock()
	s.ending = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// unref marks the socket non-blocking for process exit. Go's runtime has no
// direct equivalent of libuv's unref; this is surfaced as a best-effort flag
// consulted by callers that manage their own exit/keepalive logic.
func (s *reconnectingSocket) unref() {
	s.mu.Lock()
	s.unrefed = true
	s.mu.Unlock()
}
