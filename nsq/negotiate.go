package nsq

import "net"

// FeatureNegotiator is the extension point named in SPEC_FULL.md §6A: an
// implementation would wrap the raw TCP connection once nsqd has
// acknowledged TLSv1/Snappy/Deflate in its IDENTIFY response. This client
// never sets those IdentifyFeatures fields itself, Connection does not call
// a FeatureNegotiator, and no option accepts one.
type FeatureNegotiator interface {
	NegotiateTLS(conn net.Conn, features NegotiatedFeatures) (net.Conn, error)
}

type noopNegotiator struct{}

func (noopNegotiator) NegotiateTLS(conn net.Conn, _ NegotiatedFeatures) (net.Conn, error) {
	return conn, nil
}

// defaultFeatureNegotiator is the no-op FeatureNegotiator; nothing in the
// package references it.
var defaultFeatureNegotiator FeatureNegotiator = noopNegotiator{}
