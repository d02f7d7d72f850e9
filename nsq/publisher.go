package nsq

import (
	"log/slog"
	"time"
)

// PublisherObserver surfaces the underlying Connection's lifecycle to a
// Publisher's caller without exposing the Connection type itself.
type PublisherObserver struct {
	OnConnect    func()
	OnReady      func()
	OnReconnect  func()
	OnDisconnect func()
	OnClose      func()
	OnError      func(err error)
}

// Publisher is the thin façade of §4.4: a single Connection used purely to
// PUB/MPUB/DPUB, with no subscription state.
type Publisher struct {
	host string
	port int

	connCfg  ConnectionConfig
	observer PublisherObserver
	metrics  *Metrics
	logger   *slog.Logger

	conn *Connection
}

// NewPublisher constructs a Publisher targeting a single nsqd.
func NewPublisher(host string, port int, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		host:    host,
		port:    port,
		connCfg: defaultConnectionConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect dials the target nsqd and completes the IDENTIFY handshake.
func (p *Publisher) Connect() error {
	p.conn = NewConnection(p.host, p.port, p.connCfg, ConnectionObserver{
		OnReady: func(c *Connection) {
			if p.observer.OnReady != nil {
				p.observer.OnReady()
			}
		},
		OnReconnect: func(c *Connection) {
			if p.observer.OnReconnect != nil {
				p.observer.OnReconnect()
			}
		},
		OnDisconnect: func(c *Connection) {
			if p.observer.OnDisconnect != nil {
				p.observer.OnDisconnect()
			}
		},
		OnClose: func(c *Connection) {
			if p.observer.OnClose != nil {
				p.observer.OnClose()
			}
		},
		OnError: func(c *Connection, err error) {
			if p.observer.OnError != nil {
				p.observer.OnError(err)
			}
		},
	}, p.metrics, p.logger)

	if err := p.conn.Connect(); err != nil {
		return err
	}
	if p.observer.OnConnect != nil {
		p.observer.OnConnect()
	}
	return nil
}

// Publish sends PUB topic with data coerced to wire bytes per §4.1.
func (p *Publisher) Publish(topic string, data interface{}) error {
	start := time.Now()
	_, err := p.conn.Publish(topic, data)
	p.recordPublish(topic, err, start)
	return err
}

// MPublish sends MPUB topic with a batch of messages.
func (p *Publisher) MPublish(topic string, batch []interface{}) error {
	start := time.Now()
	_, err := p.conn.MPublish(topic, batch)
	p.recordPublish(topic, err, start)
	return err
}

// DPublish sends DPUB topic delay with a single deferred message.
func (p *Publisher) DPublish(topic string, delay time.Duration, data interface{}) error {
	start := time.Now()
	_, err := p.conn.DPublish(topic, delay, data)
	p.recordPublish(topic, err, start)
	return err
}

// PublishAny dispatches to PUB, MPUB, or DPUB depending on the shape of
// data and whether delay is set, matching the combined publish(topic,
// data, delay?) entry point: a batch (data is []interface{}) combined
// with a positive delay is rejected synchronously without touching the
// wire, since NSQ has no delayed-multi-publish command.
func (p *Publisher) PublishAny(topic string, data interface{}, delay time.Duration) error {
	batch, isBatch := data.([]interface{})
	if isBatch && delay > 0 {
		return NewError(InvocationError, "Cannot delay a multi publish")
	}
	if isBatch {
		return p.MPublish(topic, batch)
	}
	if delay > 0 {
		return p.DPublish(topic, delay, data)
	}
	return p.Publish(topic, data)
}

func (p *Publisher) recordPublish(topic string, err error, start time.Time) {
	if p.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.metrics.observePublish(topic, outcome, time.Since(start).Seconds())
}

// Unref marks the underlying socket non-blocking for process exit.
func (p *Publisher) Unref() {
	if p.conn != nil {
		p.conn.Unref()
	}
}

// Close closes the underlying Connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
