package nsq

import (
	"log/slog"
	"time"
)

// SubscriberOption configures a Subscriber at construction time, in the
// teacher pack's functional-option style generalized to this client's
// two-mode (direct / lookupd) topology (SPEC_FULL.md §4.7).
type SubscriberOption func(*Subscriber)

// WithDirectNSQD pins the Subscriber to a single nsqd, skipping discovery.
func WithDirectNSQD(host string, port int) SubscriberOption {
	return func(s *Subscriber) {
		s.direct = true
		s.directHost = host
		s.directPort = port
	}
}

// WithLookupd adds one or more nsqlookupd base URLs to poll for producers.
func WithLookupd(urls ...string) SubscriberOption {
	return func(s *Subscriber) {
		s.lookupURLs = append(s.lookupURLs, urls...)
	}
}

// WithDiscoverFrequency overrides the default 60s lookupd poll interval.
func WithDiscoverFrequency(d time.Duration) SubscriberOption {
	return func(s *Subscriber) { s.discoverFreq = d }
}

// WithConcurrency sets the total in-flight message budget (C) distributed
// across connections per §4.5.
func WithConcurrency(n int) SubscriberOption {
	return func(s *Subscriber) { s.concurrency = n }
}

// WithConnectionConfig overrides the ConnectionConfig applied to every
// Connection the Subscriber opens.
func WithConnectionConfig(cfg ConnectionConfig) SubscriberOption {
	return func(s *Subscriber) { s.connCfg = cfg }
}

// WithSubscriberMetrics attaches a Metrics instance for RDY gauges and
// message-outcome counters.
func WithSubscriberMetrics(m *Metrics) SubscriberOption {
	return func(s *Subscriber) { s.metrics = m }
}

// WithSubscriberLogger overrides the default slog.Logger.
func WithSubscriberLogger(l *slog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = l }
}

// WithSubscriberObserver installs the full SubscriberObserver in one call,
// for callers that prefer constructing it as a literal over a handful of
// With* options.
func WithSubscriberObserver(o SubscriberObserver) SubscriberOption {
	return func(s *Subscriber) { s.observer = o }
}

// PublisherOption configures a Publisher at construction time.
type PublisherOption func(*Publisher)

// WithPublisherConnectionConfig overrides the ConnectionConfig used for the
// Publisher's single Connection.
func WithPublisherConnectionConfig(cfg ConnectionConfig) PublisherOption {
	return func(p *Publisher) { p.connCfg = cfg }
}

// WithPublisherMetrics attaches a Metrics instance for publish counters and
// duration histograms.
func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithPublisherLogger overrides the default slog.Logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// WithPublisherObserver installs callbacks for connection lifecycle events
// on the Publisher's single underlying Connection.
func WithPublisherObserver(o PublisherObserver) PublisherOption {
	return func(p *Publisher) { p.observer = o }
}
