package nsq

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ConnectionObserver receives lifecycle and message events from a
// Connection, replacing the source library's named string events with a
// small typed callback set (SPEC_FULL.md §9).
type ConnectionObserver struct {
	OnReady      func(c *Connection)
	OnMessage    func(c *Connection, msg *Message)
	OnDisconnect func(c *Connection)
	OnReconnect  func(c *Connection)
	OnDrain      func(c *Connection)
	OnClose      func(c *Connection)
	OnError      func(c *Connection, err error)
	// OnMessageOutcome fires once a message leaves the inflight map, with
	// outcome one of "finished", "requeued", "timed_out".
	OnMessageOutcome func(c *Connection, id string, outcome string)
}

// ConnectionConfig holds the per-connection tunables from §6's user-facing
// API table.
type ConnectionConfig struct {
	ClientID              string
	Hostname              string
	UserAgent             string
	MsgTimeout            time.Duration
	HeartbeatInterval     time.Duration
	DialTimeout           time.Duration
	Timeout               time.Duration // Connect() overall wait
	MaxConnectAttempts    uint32        // 0 = unlimited
	ReconnectDelayFactor  time.Duration
	MaxReconnectDelay     time.Duration
	KeepaliveOffset       time.Duration
}

func defaultConnectionConfig() ConnectionConfig {
	hostname, _ := os.Hostname()
	return ConnectionConfig{
		ClientID:             hostname,
		Hostname:             hostname,
		UserAgent:            "nsqclient-go/" + ClientVersion,
		MsgTimeout:           60 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		DialTimeout:          5 * time.Second,
		MaxConnectAttempts:   0,
		ReconnectDelayFactor: time.Second,
		MaxReconnectDelay:    60 * time.Second,
		KeepaliveOffset:      defaultKeepaliveOffset,
	}
}

type subscription struct {
	topic, channel string
}

type inflightRecord struct {
	timer    *time.Timer
	deadline time.Time
}

// Connection is the end-to-end per-nsqd state machine described in §4.3: it
// owns the socket, the framed codec, the command queue, inflight message
// tracking, and reconnect-with-resubscribe continuity.
type Connection struct {
	host string
	port int
	id   uint64

	cfg      ConnectionConfig
	observer ConnectionObserver
	metrics  *Metrics
	logger   *slog.Logger

	socket *reconnectingSocket
	df     deframer
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	cond          *sync.Cond
	state         connState
	features      NegotiatedFeatures
	queue         []*command
	waiting       *command
	inflight      map[string]*inflightRecord
	subscribed    *subscription
	lastReadyCnt  int

	connectOnce   sync.Once
	connectResult chan error
}

// NewConnection creates a Connection to host:port. Call Connect to begin
// dialing.
func NewConnection(host string, port int, cfg ConnectionConfig, observer ConnectionObserver, metrics *Metrics, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		host:     host,
		port:     port,
		cfg:      cfg,
		observer: observer,
		metrics:  metrics,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		inflight: make(map[string]*inflightRecord),
	}
	c.cond = sync.NewCond(&c.mu)
	c.id = registerConn(c)
	c.socket = newReconnectingSocket(host, port, cfg.DialTimeout, cfg.ReconnectDelayFactor, cfg.MaxReconnectDelay, cfg.MaxConnectAttempts, SocketObserver{
		OnConnect:    func() { c.handshake(false) },
		OnReconnect:  func() { c.handshake(true) },
		OnData:       c.onData,
		OnDisconnect: c.onSocketDisconnect,
		OnFailed:     c.onFailed,
		OnError:      func(err error) { c.emitError(err) },
	})
	return c
}

// HostPort returns the dial target.
func (c *Connection) HostPort() (string, int) { return c.host, c.port }

// State returns the current connection state.
func (c *Connection) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials and runs the IDENTIFY handshake, blocking until Ready or a
// terminal failure (bounded by cfg.Timeout if set).
func (c *Connection) Connect() error {
	c.mu.Lock()
	c.state = StateConnecting
	c.connectResult = make(chan error, 1)
	c.mu.Unlock()
	c.setMetricState(StateConnecting)

	go c.socket.run(c.ctx)

	if c.cfg.Timeout <= 0 {
		return <-c.connectResult
	}
	select {
	case err := <-c.connectResult:
		return err
	case <-time.After(c.cfg.Timeout):
		return NewError(TransportError, "timed out connecting")
	}
}

func (c *Connection) setMetricState(s connState) {
	if c.metrics != nil {
		c.metrics.setConnState(c.host, c.port, s)
	}
}

func (c *Connection) emitError(err error) {
	if c.observer.OnError != nil {
		c.observer.OnError(c, err)
	}
}

func (c *Connection) signalConnected(err error) {
	c.connectOnce.Do(func() {
		c.mu.Lock()
		ch := c.connectResult
		c.mu.Unlock()
		if ch != nil {
			ch <- err
		}
	})
}

// handshake runs the IDENTIFY exchange after every successful dial (first
// connect or reconnect). isReconnect controls whether SUB/RDY continuity
// (§4.3 "Reconnect continuity") is replayed afterward.
func (c *Connection) handshake(isReconnect bool) {
	c.mu.Lock()
	c.state = StateIdentifying
	c.df = deframer{}
	c.mu.Unlock()
	c.setMetricState(StateIdentifying)
	c.logger.Debug("nsq: handshake", "host", c.host, "port", c.port, "reconnect", isReconnect)

	if err := c.socket.write(MagicV2); err != nil {
		c.emitError(err)
		return
	}

	body, err := identifyBody(c.identifyFeatures())
	if err != nil {
		c.emitError(err)
		return
	}
	idCmd := cmdIdentify(body)
	idCmd.done = make(chan responseResult, 1)

	c.mu.Lock()
	c.queue = append([]*command{idCmd}, c.queue...)
	c.pulseLocked()
	c.mu.Unlock()

	go c.awaitIdentify(idCmd, isReconnect)
}

func (c *Connection) awaitIdentify(idCmd *command, isReconnect bool) {
	res := <-idCmd.done
	if res.err != nil {
		c.logger.Error("nsq: identify failed", "host", c.host, "port", c.port, "err", res.err)
		c.signalConnected(res.err)
		c.socket.reset()
		return
	}
	features, err := parseNegotiatedFeatures(res.payload)
	if err != nil {
		c.signalConnected(err)
		c.socket.reset()
		return
	}

	c.mu.Lock()
	c.features = features
	c.state = StateReady
	subscribed := c.subscribed
	lastReady := c.lastReadyCnt
	c.mu.Unlock()
	c.setMetricState(StateReady)

	if c.observer.OnReady != nil {
		c.observer.OnReady(c)
	}
	c.signalConnected(nil)

	if isReconnect && subscribed != nil {
		c.replaySubscription(*subscribed, lastReady)
	}
}

// replaySubscription resends SUB then RDY ahead of any queued user
// commands, per §4.3's reconnect continuity contract.
func (c *Connection) replaySubscription(sub subscription, lastReady int) {
	subCmd := cmdSub(sub.topic, sub.channel)
	subCmd.done = make(chan responseResult, 1)
	c.mu.Lock()
	c.queue = append([]*command{subCmd}, c.queue...)
	c.pulseLocked()
	c.mu.Unlock()

	res := <-subCmd.done
	if res.err != nil {
		c.emitError(res.err)
		return
	}

	rdyCmd := cmdRdy(lastReady)
	c.mu.Lock()
	c.queue = append([]*command{rdyCmd}, c.queue...)
	c.pulseLocked()
	c.mu.Unlock()
}

func (c *Connection) identifyFeatures() IdentifyFeatures {
	return IdentifyFeatures{
		ClientID:           c.cfg.ClientID,
		Hostname:           c.cfg.Hostname,
		UserAgent:          c.cfg.UserAgent,
		FeatureNegotiation: true,
		MsgTimeout:         int(c.cfg.MsgTimeout / time.Millisecond),
		HeartbeatInterval:  int(c.cfg.HeartbeatInterval / time.Millisecond),
	}
}

// pulseLocked drains the command queue while the connection can accept
// writes and no response-bearing command is outstanding. Caller must hold
// c.mu.
func (c *Connection) pulseLocked() {
	for c.waiting == nil && len(c.queue) > 0 && (c.state == StateIdentifying || c.state == StateReady || c.state == StatePaused || c.state == StateClosing) {
		cmd := c.queue[0]
		c.queue = c.queue[1:]

		var buf []byte
		buf = appendCommand(buf, cmd)
		if err := c.socket.write(buf); err != nil {
			if cmd.done != nil {
				cmd.done <- responseResult{err: err}
			}
			continue
		}
		if cmd.needsResponse {
			c.waiting = cmd
		}
	}
	if len(c.queue) == 0 && c.waiting == nil && c.observer.OnDrain != nil {
		go c.observer.OnDrain(c)
	}
}

func appendCommand(buf []byte, cmd *command) []byte {
	w := &sliceWriter{buf: buf}
	_, _ = cmd.WriteTo(w)
	return w.buf
}

type sliceWriter struct{ buf []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// resolveWaiting delivers a RESPONSE/ERROR result to the single outstanding
// command and resumes draining the queue.
func (c *Connection) resolveWaiting(result responseResult) {
	c.mu.Lock()
	cmd := c.waiting
	c.waiting = nil
	c.pulseLocked()
	c.mu.Unlock()
	if cmd != nil && cmd.done != nil {
		cmd.done <- result
	}
}

// enqueueFront inserts a command ahead of the queue (heartbeats' NOP reply).
func (c *Connection) enqueueFront(cmd *command) {
	c.mu.Lock()
	c.queue = append([]*command{cmd}, c.queue...)
	c.pulseLocked()
	c.mu.Unlock()
}

// executeSync enqueues cmd and, if it needs a response, blocks for it
// (bounded by timeout when positive).
func (c *Connection) executeSync(cmd *command, timeout time.Duration) ([]byte, error) {
	if cmd.needsResponse {
		cmd.done = make(chan responseResult, 1)
	}

	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return nil, ErrTerminated
	}
	c.queue = append(c.queue, cmd)
	c.pulseLocked()
	c.mu.Unlock()

	if !cmd.needsResponse {
		return nil, nil
	}
	if timeout <= 0 {
		res := <-cmd.done
		return res.payload, res.err
	}
	select {
	case res := <-cmd.done:
		return res.payload, res.err
	case <-time.After(timeout):
		return nil, NewError(TransportError, "timed out waiting for response")
	}
}

// onData feeds bytes read off the socket through the deframer; this runs on
// the socket's single reader goroutine, giving the connection its "one
// logical progress context" for frame dispatch (§5).
func (c *Connection) onData(b []byte) {
	c.df.feed(b)
	for {
		f, err := c.df.next()
		if err == errIncompleteFrame {
			return
		}
		if err != nil {
			c.logger.Error("nsq: framing error", "host", c.host, "port", c.port, "err", err)
			c.socket.reset()
			return
		}
		c.handleFrame(f)
	}
}

func (c *Connection) handleFrame(f frame) {
	switch f.Type {
	case FrameTypeResponse:
		if string(f.Body) == HeartbeatPayload {
			c.enqueueFront(cmdNop())
			return
		}
		c.resolveWaiting(responseResult{payload: f.Body})
	case FrameTypeError:
		payload := string(f.Body)
		code := payload
		if idx := indexByte(payload, ' '); idx >= 0 {
			code = payload[:idx]
		}
		c.resolveWaiting(responseResult{err: NewServerError(c.host, c.port, payload)})
		if isFatalServerError(code) {
			c.socket.reset()
		}
	case FrameTypeMessage:
		c.handleMessage(f.Body)
	default:
		c.logger.Warn("nsq: unknown frame type", "type", f.Type)
	}
}

func (c *Connection) handleMessage(body []byte) {
	c.mu.Lock()
	msgTimeout := time.Duration(c.features.MsgTimeout) * time.Millisecond
	if msgTimeout <= 0 {
		msgTimeout = c.cfg.MsgTimeout
	}
	c.mu.Unlock()

	msg, err := parseMessage(body, c.id, msgTimeout)
	if err != nil {
		c.emitError(err)
		c.socket.reset()
		return
	}

	deadline := time.Now().Add(msgTimeout)
	timer := time.AfterFunc(msgTimeout, func() { c.expireInflight(msg.ID) })

	c.mu.Lock()
	c.inflight[msg.ID] = &inflightRecord{timer: timer, deadline: deadline}
	c.mu.Unlock()

	if c.observer.OnMessage != nil {
		c.observer.OnMessage(c, msg)
	}
}

func (c *Connection) expireInflight(id string) {
	c.mu.Lock()
	_, existed := c.inflight[id]
	delete(c.inflight, id)
	if len(c.inflight) == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	if existed && c.observer.OnMessageOutcome != nil {
		c.observer.OnMessageOutcome(c, id, "timed_out")
	}
}

func (c *Connection) clearInflight(id string) {
	c.mu.Lock()
	if rec, ok := c.inflight[id]; ok {
		rec.timer.Stop()
		delete(c.inflight, id)
	}
	if len(c.inflight) == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *Connection) resetInflightTimer(id string) {
	c.mu.Lock()
	rec, ok := c.inflight[id]
	msgTimeout := time.Duration(c.features.MsgTimeout) * time.Millisecond
	if msgTimeout <= 0 {
		msgTimeout = c.cfg.MsgTimeout
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	rec.timer.Stop()
	deadline := time.Now().Add(msgTimeout)
	newTimer := time.AfterFunc(msgTimeout, func() { c.expireInflight(id) })
	c.mu.Lock()
	if cur, ok := c.inflight[id]; ok && cur == rec {
		cur.timer = newTimer
		cur.deadline = deadline
	} else {
		newTimer.Stop()
	}
	c.mu.Unlock()
}

func (c *Connection) inflightRemaining(id string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.inflight[id]
	if !ok {
		return 0
	}
	return time.Until(rec.deadline)
}

func (c *Connection) finishMessage(id string) error {
	_, err := c.executeSync(cmdFin(id), 0)
	if err != nil {
		return err
	}
	c.clearInflight(id)
	if c.observer.OnMessageOutcome != nil {
		c.observer.OnMessageOutcome(c, id, "finished")
	}
	return nil
}

func (c *Connection) requeueMessage(id string, delay time.Duration) error {
	_, err := c.executeSync(cmdReq(id, int(delay/time.Millisecond)), 0)
	if err != nil {
		return err
	}
	c.clearInflight(id)
	if c.observer.OnMessageOutcome != nil {
		c.observer.OnMessageOutcome(c, id, "requeued")
	}
	return nil
}

func (c *Connection) touchMessage(id string) error {
	_, err := c.executeSync(cmdTouch(id), 0)
	if err != nil {
		return err
	}
	c.resetInflightTimer(id)
	return nil
}

// Subscribe sends SUB and records (topic, channel) for reconnect replay.
func (c *Connection) Subscribe(topic, channel string) error {
	_, err := c.executeSync(cmdSub(topic, channel), 0)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subscribed = &subscription{topic: topic, channel: channel}
	c.mu.Unlock()
	return nil
}

// SetReady sends RDY count, updating the Paused/Ready variant of state.
func (c *Connection) SetReady(count int) {
	c.mu.Lock()
	c.lastReadyCnt = count
	if count == 0 && c.state == StateReady {
		c.state = StatePaused
	} else if count > 0 && c.state == StatePaused {
		c.state = StateReady
	}
	c.queue = append(c.queue, cmdRdy(count))
	c.pulseLocked()
	c.mu.Unlock()
}

// LastReadyCount returns the most recently requested RDY value.
func (c *Connection) LastReadyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReadyCnt
}

// InflightCount returns the number of messages awaiting FIN/REQ/timeout.
func (c *Connection) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Publish sends PUB and returns the RESPONSE string (normally "OK").
func (c *Connection) Publish(topic string, data interface{}) (string, error) {
	body, err := coerceBody(data)
	if err != nil {
		return "", err
	}
	payload, err := c.executeSync(cmdPub(topic, body), 0)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// MPublish sends MPUB for a batch of bodies.
func (c *Connection) MPublish(topic string, items []interface{}) (string, error) {
	bodies := make([][]byte, len(items))
	for i, item := range items {
		b, err := coerceBody(item)
		if err != nil {
			return "", err
		}
		bodies[i] = b
	}
	payload, err := c.executeSync(cmdMPub(topic, bodies), 0)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// DPublish sends DPUB with the given delay.
func (c *Connection) DPublish(topic string, delay time.Duration, data interface{}) (string, error) {
	body, err := coerceBody(data)
	if err != nil {
		return "", err
	}
	payload, err := c.executeSync(cmdDPub(topic, int(delay/time.Millisecond), body), 0)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Close performs the graceful drain close protocol of §4.3: CLS + await
// inflight drain, drain the queue, transition Closed, half-close the
// socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateFailure {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	subscribed := c.subscribed
	msgTimeout := c.cfg.MsgTimeout
	c.mu.Unlock()
	c.setMetricState(StateClosing)

	if subscribed != nil {
		_, _ = c.executeSync(cmdCls(), 5*time.Second)
		c.waitForInflightDrain(msgTimeout)
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.setMetricState(StateClosed)

	c.socket.end()
	c.cancel()
	unregisterConn(c.id)
	if c.observer.OnClose != nil {
		c.observer.OnClose(c)
	}
	return nil
}

func (c *Connection) waitForInflightDrain(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.inflight) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		done := make(chan struct{})
		timer := time.AfterFunc(remaining, func() {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
			close(done)
		})
		c.cond.Wait()
		timer.Stop()
		select {
		case <-done:
		default:
		}
	}
}

func (c *Connection) onSocketDisconnect() {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	waiting := c.waiting
	c.waiting = nil
	c.mu.Unlock()
	c.setMetricState(StateDisconnected)
	if c.metrics != nil {
		c.metrics.incReconnect(c.host, c.port)
	}

	if waiting != nil && waiting.done != nil {
		waiting.done <- responseResult{err: NewError(TransportError, "connection reset")}
	}
	if c.observer.OnDisconnect != nil {
		c.observer.OnDisconnect(c)
	}
}

func (c *Connection) onFailed(err error) {
	c.mu.Lock()
	c.state = StateFailure
	waiting := c.waiting
	queued := c.queue
	c.queue = nil
	c.waiting = nil
	c.mu.Unlock()
	c.setMetricState(StateFailure)

	if waiting != nil && waiting.done != nil {
		waiting.done <- responseResult{err: err}
	}
	for _, cmd := range queued {
		if cmd.done != nil {
			cmd.done <- responseResult{err: err}
		}
	}
	c.signalConnected(err)
	c.emitError(fmt.Errorf("%w", err))
	if c.observer.OnClose != nil {
		c.observer.OnClose(c)
	}
	unregisterConn(c.id)
	c.cancel()
}

// Unref marks this connection's socket non-blocking for process exit.
func (c *Connection) Unref() {
	c.socket.unref()
}

// ClientVersion identifies this library on the wire via IDENTIFY.
const ClientVersion = "1.0.0"
