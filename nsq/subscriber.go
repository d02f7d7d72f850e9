package nsq

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// SubscriberObserver receives per-host and controller-level events from a
// Subscriber, replacing the source library's event-name concatenation
// ("${topic}.${channel}.message") with (host, port)-tagged callbacks
// (SPEC_FULL.md §9).
type SubscriberObserver struct {
	OnMessage        func(host string, port int, msg *Message)
	OnHostConnect    func(host string, port int)
	OnHostReady      func(host string, port int)
	OnHostReconnect  func(host string, port int)
	OnHostDisconnect func(host string, port int)
	OnHostClose      func(host string, port int)
	OnRemoved        func(host string, port int)
	OnPollBegin      func()
	OnPollComplete   func()
	OnError          func(err error)
}

type subConn struct {
	conn          *Connection
	host          string
	port          int
	lastMessageAt time.Time
}

// Subscriber is the discovery/readiness controller of §4.5: it maintains a
// Connection per discovered nsqd, polls nsqlookupd on a timer, diffs the
// producer set, and redistributes the RDY budget.
type Subscriber struct {
	topic   string
	channel string

	direct     bool
	directHost string
	directPort int
	lookupURLs []string

	concurrency   int
	discoverFreq  time.Duration
	connCfg       ConnectionConfig
	observer      SubscriberObserver
	metrics       *Metrics
	logger        *slog.Logger
	lookup        *lookupClient

	mu          sync.Mutex
	conns       map[string]*subConn
	paused      bool
	hasListener bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	pollDone    chan struct{}
}

// NewSubscriber constructs a Subscriber for (topic, channel). Use
// WithDirectNSQD or WithLookupd (at least one lookupd URL is required
// otherwise) to select direct vs. discovery mode, per §4.5.
func NewSubscriber(topic, channel string, opts ...SubscriberOption) (*Subscriber, error) {
	if topic == "" || channel == "" {
		return nil, NewError(InvocationError, "topic and channel are required")
	}
	s := &Subscriber{
		topic:        topic,
		channel:      channel,
		concurrency:  1,
		discoverFreq: 60 * time.Second,
		connCfg:      defaultConnectionConfig(),
		conns:        make(map[string]*subConn),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.direct && len(s.lookupURLs) == 0 {
		return nil, NewError(InvocationError, "Subscriber requires either a direct host:port or a non-empty lookup list")
	}
	s.lookup = newLookupClient(nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// OnMessage registers the application's message handler. Per §4.5's
// "Deferred start", RDY > 0 is not granted to any connection until a
// handler is attached.
func (s *Subscriber) OnMessage(handler func(host string, port int, msg *Message)) {
	s.mu.Lock()
	s.observer.OnMessage = handler
	s.hasListener = handler != nil
	s.mu.Unlock()
	s.redistribute()
}

func (s *Subscriber) effectiveConcurrency() int {
	if s.paused {
		return 0
	}
	return s.concurrency
}

// distributeReadyLocked implements §4.5's RDY distribution policy. Caller
// must hold s.mu.
func (s *Subscriber) distributeReadyLocked() {
	conns := make([]*subConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	n := len(conns)
	if n == 0 {
		return
	}

	if !s.hasListener {
		for _, sc := range conns {
			sc.conn.SetReady(0)
		}
		s.recordReadyMetric()
		return
	}

	concurrency := s.effectiveConcurrency()

	if concurrency >= n {
		per := concurrency / n
		for _, sc := range conns {
			sc.conn.SetReady(per)
		}
		s.recordReadyMetric()
		return
	}

	var used, unused []*subConn
	for _, sc := range conns {
		if sc.conn.LastReadyCount() > 0 {
			used = append(used, sc)
		} else {
			unused = append(unused, sc)
		}
	}
	sort.Slice(used, func(i, j int) bool { return used[i].lastMessageAt.Before(used[j].lastMessageAt) })
	sort.Slice(unused, func(i, j int) bool { return unused[i].lastMessageAt.Before(unused[j].lastMessageAt) })

	grant := concurrency
	if grant > len(unused) {
		grant = len(unused)
	}
	for i := 0; i < grant; i++ {
		unused[i].conn.SetReady(1)
	}

	revoke := len(unused)
	if revoke > len(used) {
		revoke = len(used)
	}
	for i := 0; i < revoke; i++ {
		used[i].conn.SetReady(0)
	}
	s.recordReadyMetric()
}

func (s *Subscriber) recordReadyMetric() {
	if s.metrics == nil {
		return
	}
	total := 0
	for _, sc := range s.conns {
		total += sc.conn.LastReadyCount()
	}
	s.metrics.setSubscriberReady(s.topic, s.channel, total)
}

func (s *Subscriber) redistribute() {
	s.mu.Lock()
	s.distributeReadyLocked()
	s.mu.Unlock()
}

// Connect starts the Subscriber: in direct mode it dials the single nsqd;
// in lookup mode it starts the periodic poll loop.
func (s *Subscriber) Connect() error {
	if s.direct {
		s.mu.Lock()
		sc := s.addConnectionLocked(s.directHost, s.directPort)
		s.mu.Unlock()
		if err := sc.conn.Connect(); err != nil {
			return err
		}
		s.redistribute()
		return nil
	}

	s.pollDone = make(chan struct{})
	go s.pollLoop()
	return nil
}

func (s *Subscriber) addConnectionLocked(host string, port int) *subConn {
	addr := fmt.Sprintf("%s:%d", host, port)
	topic, channel := s.topic, s.channel
	conn := NewConnection(host, port, s.connCfg, ConnectionObserver{
		OnReady: func(c *Connection) {
			if err := c.Subscribe(topic, channel); err != nil {
				s.emitError(err)
				return
			}
			s.redistribute()
			if s.observer.OnHostReady != nil {
				go s.observer.OnHostReady(host, port)
			}
		},
		OnMessage: func(c *Connection, msg *Message) {
			s.mu.Lock()
			if sc, ok := s.conns[addr]; ok {
				sc.lastMessageAt = time.Now()
			}
			handler := s.observer.OnMessage
			s.mu.Unlock()
			if handler != nil {
				handler(host, port, msg)
			}
		},
		OnMessageOutcome: func(c *Connection, id string, outcome string) {
			if s.metrics != nil {
				s.metrics.incSubscriberMessage(topic, channel, outcome)
			}
		},
		OnDisconnect: func(c *Connection) {
			if s.observer.OnHostDisconnect != nil {
				go s.observer.OnHostDisconnect(host, port)
			}
		},
		OnReconnect: func(c *Connection) {
			if s.observer.OnHostReconnect != nil {
				go s.observer.OnHostReconnect(host, port)
			}
		},
		OnClose: func(c *Connection) {
			if s.observer.OnHostClose != nil {
				go s.observer.OnHostClose(host, port)
			}
		},
		OnError: func(c *Connection, err error) {
			s.emitError(err)
		},
	}, s.metrics, s.logger)

	sc := &subConn{conn: conn, host: host, port: port}
	s.conns[addr] = sc
	if !s.direct {
		go func() {
			_ = conn.Connect()
		}()
	}
	return sc
}

func (s *Subscriber) emitError(err error) {
	if s.observer.OnError != nil {
		s.observer.OnError(err)
	}
}

// pollLoop drives the periodic nsqlookupd poll described in §4.5.
func (s *Subscriber) pollLoop() {
	defer close(s.pollDone)
	for {
		s.runPollCycle()
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.discoverFreq):
		}
		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

func (s *Subscriber) runPollCycle() {
	if s.observer.OnPollBegin != nil {
		s.observer.OnPollBegin()
	}
	start := time.Now()

	desired := make(map[string]LookupProducer)
	for _, lookupURL := range s.lookupURLs {
		pollCtx, cancel := context.WithTimeout(s.ctx, s.discoverFreq)
		producers, err := s.lookup.poll(pollCtx, lookupURL, s.topic)
		cancel()
		if err != nil {
			s.emitError(err)
			continue
		}
		for _, p := range producers {
			desired[p.Addr()] = p
		}
	}

	s.mu.Lock()
	for addr, sc := range s.conns {
		if _, ok := desired[addr]; ok {
			continue
		}
		delete(s.conns, addr)
		host, port := sc.host, sc.port
		go func(c *Connection) { _ = c.Close() }(sc.conn)
		if s.observer.OnRemoved != nil {
			go s.observer.OnRemoved(host, port)
		}
	}
	for addr, p := range desired {
		if _, ok := s.conns[addr]; ok {
			continue
		}
		s.addConnectionLocked(p.BroadcastAddress, p.TCPPort)
	}
	s.distributeReadyLocked()
	s.mu.Unlock()

	if s.observer.OnPollComplete != nil {
		s.observer.OnPollComplete()
	}
	if s.metrics != nil {
		s.metrics.observeLookupPoll(time.Since(start).Seconds())
	}
}

// Pause sets effective concurrency to 0 and recomputes RDY.
func (s *Subscriber) Pause() {
	s.mu.Lock()
	s.paused = true
	s.distributeReadyLocked()
	s.mu.Unlock()
}

// Unpause restores the configured concurrency and recomputes RDY.
func (s *Subscriber) Unpause() {
	s.mu.Lock()
	s.paused = false
	s.distributeReadyLocked()
	s.mu.Unlock()
}

// Unref marks every current connection's socket non-blocking for process
// exit. Connections added by later polls are not marked.
func (s *Subscriber) Unref() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.conns {
		sc.conn.Unref()
	}
}

// Close waits out any in-progress poll, cancels the next one, and closes
// every connection, per §4.5's close semantics.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*subConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.conns = make(map[string]*subConn)
	done := s.pollDone
	s.mu.Unlock()

	s.cancel()
	if done != nil {
		<-done
	}

	for _, sc := range conns {
		_ = sc.conn.Close()
		if s.observer.OnRemoved != nil {
			s.observer.OnRemoved(sc.host, sc.port)
		}
	}
	return nil
}

// setLookupHTTPClient allows callers to inject a custom *http.Client for
// lookupd polling (e.g. to bound timeouts or add tracing transports).
func (s *Subscriber) setLookupHTTPClient(client *http.Client) {
	s.lookup = newLookupClient(client)
}
