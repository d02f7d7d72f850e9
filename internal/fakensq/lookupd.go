package fakensq

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// LookupProducer mirrors the JSON shape of nsq.LookupProducer so tests can
// populate a fake lookup registry without importing the nsq package.
type LookupProducer struct {
	BroadcastAddress string `json:"broadcast_address"`
	TCPPort          int    `json:"tcp_port"`
	HTTPPort         int    `json:"http_port"`
	Version          string `json:"version"`
}

// Lookupd is an in-process stand-in for nsqlookupd's /lookup endpoint.
type Lookupd struct {
	server *httptest.Server

	mu        sync.Mutex
	producers map[string][]LookupProducer
}

// NewLookupd starts a fake nsqlookupd HTTP server.
func NewLookupd() *Lookupd {
	l := &Lookupd{producers: make(map[string][]LookupProducer)}
	mux := http.NewServeMux()
	mux.HandleFunc("/lookup", l.handleLookup)
	l.server = httptest.NewServer(mux)
	return l
}

// URL returns the base URL nsq.ParseLookupURI / lookupClient.poll should
// be pointed at.
func (l *Lookupd) URL() string { return l.server.URL }

// SetProducers replaces the registered producer list for topic.
func (l *Lookupd) SetProducers(topic string, producers []LookupProducer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.producers[topic] = producers
}

// AddProducer appends a producer for topic.
func (l *Lookupd) AddProducer(topic string, p LookupProducer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.producers[topic] = append(l.producers[topic], p)
}

// RemoveProducer drops the producer with the given broadcast address from
// topic's registry, simulating an nsqd leaving the cluster.
func (l *Lookupd) RemoveProducer(topic, broadcastAddress string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing := l.producers[topic]
	filtered := existing[:0]
	for _, p := range existing {
		if p.BroadcastAddress != broadcastAddress {
			filtered = append(filtered, p)
		}
	}
	l.producers[topic] = filtered
}

func (l *Lookupd) handleLookup(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	l.mu.Lock()
	producers := l.producers[topic]
	l.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Producers []LookupProducer `json:"producers"`
	}{Producers: producers})
}

// Close shuts down the HTTP server.
func (l *Lookupd) Close() {
	l.server.Close()
}
