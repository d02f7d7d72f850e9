package nsq

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors described in SPEC_FULL.md's
// per-component "Expansion" notes. A nil *Metrics (the zero value when
// neither WithPublisherMetrics nor WithSubscriberMetrics is supplied)
// disables all instrumentation; every recording method is nil-receiver safe.
type Metrics struct {
	connectionState    *prometheus.GaugeVec
	reconnectsTotal    *prometheus.CounterVec
	publishTotal       *prometheus.CounterVec
	publishDuration    *prometheus.HistogramVec
	subscriberReady    *prometheus.GaugeVec
	subscriberMessages *prometheus.CounterVec
	lookupPollDuration prometheus.Histogram
}

// NewMetrics registers the package's collectors with reg and returns a
// *Metrics ready to pass to WithPublisherMetrics or WithSubscriberMetrics.
// Grounded in cubefs-cubefs's direct
// use of github.com/prometheus/client_golang for its own service metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nsq", Subsystem: "connection", Name: "state",
			Help: "Current Connection state machine value (see nsq.connState) per host:port.",
		}, []string{"host", "port"}),
		reconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nsq", Subsystem: "connection", Name: "reconnects_total",
			Help: "Reconnect attempts per host:port.",
		}, []string{"host", "port"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nsq", Subsystem: "publisher", Name: "messages_total",
			Help: "Publish attempts by topic and outcome.",
		}, []string{"topic", "outcome"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nsq", Subsystem: "publisher", Name: "publish_duration_seconds",
			Help: "Publish round-trip latency by topic.",
		}, []string{"topic"}),
		subscriberReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nsq", Subsystem: "subscriber", Name: "ready_total",
			Help: "Sum of per-connection RDY counts by topic/channel.",
		}, []string{"topic", "channel"}),
		subscriberMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nsq", Subsystem: "subscriber", Name: "messages_total",
			Help: "Messages observed by topic/channel and outcome (finished, requeued, timed_out).",
		}, []string{"topic", "channel", "outcome"}),
		lookupPollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nsq", Subsystem: "lookup", Name: "poll_duration_seconds",
			Help: "Wall-clock duration of one nsqlookupd poll cycle across all lookup URLs.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionState, m.reconnectsTotal, m.publishTotal,
			m.publishDuration, m.subscriberReady, m.subscriberMessages, m.lookupPollDuration)
	}
	return m
}

func portString(port int) string {
	return strconv.Itoa(port)
}

func (m *Metrics) setConnState(host string, port int, s connState) {
	if m == nil {
		return
	}
	m.connectionState.WithLabelValues(host, portString(port)).Set(float64(s))
}

func (m *Metrics) incReconnect(host string, port int) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(host, portString(port)).Inc()
}

func (m *Metrics) observePublish(topic, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(topic, outcome).Inc()
	m.publishDuration.WithLabelValues(topic).Observe(seconds)
}

func (m *Metrics) setSubscriberReady(topic, channel string, total int) {
	if m == nil {
		return
	}
	m.subscriberReady.WithLabelValues(topic, channel).Set(float64(total))
}

func (m *Metrics) incSubscriberMessage(topic, channel, outcome string) {
	if m == nil {
		return
	}
	m.subscriberMessages.WithLabelValues(topic, channel, outcome).Inc()
}

func (m *Metrics) observeLookupPoll(seconds float64) {
	if m == nil {
		return
	}
	m.lookupPollDuration.Observe(seconds)
}
