package nsq

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PublisherTarget is the result of parsing an nsq:// URI.
type PublisherTarget struct {
	Host    string
	Port    int
	Topic   string
	Options url.Values
}

// ParseURI parses the nsq://host:port/topic?opt=… form of §6.
func ParseURI(raw string) (PublisherTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return PublisherTarget{}, NewError(InvocationError, fmt.Errorf("invalid nsq URI: %w", err))
	}
	if u.Scheme != "nsq" {
		return PublisherTarget{}, NewError(InvocationError, "nsq URI must use the nsq:// scheme")
	}
	host, port, err := hostPort(u)
	if err != nil {
		return PublisherTarget{}, err
	}
	return PublisherTarget{
		Host:    host,
		Port:    port,
		Topic:   strings.Trim(u.Path, "/"),
		Options: u.Query(),
	}, nil
}

// SubscriberTarget is the result of parsing an nsqlookup:// URI.
type SubscriberTarget struct {
	LookupHosts []string
	Topic       string
	Channel     string
	SSL         bool
}

// ParseLookupURI parses the nsqlookup://host:port[,host:port...]/topic?channel=…[&ssl]
// form of §6. Each comma-separated host segment is normalized to an
// http(s) base URL suitable for lookupClient.poll.
func ParseLookupURI(raw string) (SubscriberTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return SubscriberTarget{}, NewError(InvocationError, fmt.Errorf("invalid nsqlookup URI: %w", err))
	}
	if u.Scheme != "nsqlookup" {
		return SubscriberTarget{}, NewError(InvocationError, "nsqlookup URI must use the nsqlookup:// scheme")
	}

	q := u.Query()
	_, ssl := q["ssl"]
	if v := q.Get("ssl"); v != "" {
		ssl, _ = strconv.ParseBool(v)
	}
	scheme := "http"
	if ssl {
		scheme = "https"
	}

	hosts := strings.Split(u.Host, ",")
	lookups := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		lookups = append(lookups, scheme+"://"+h)
	}
	if len(lookups) == 0 {
		return SubscriberTarget{}, NewError(InvocationError, "nsqlookup URI requires at least one host")
	}

	return SubscriberTarget{
		LookupHosts: lookups,
		Topic:       strings.Trim(u.Path, "/"),
		Channel:     q.Get("channel"),
		SSL:         ssl,
	}, nil
}

func hostPort(u *url.URL) (string, int, error) {
	host := u.Hostname()
	if host == "" {
		return "", 0, NewError(InvocationError, "nsq URI requires a host")
	}
	portStr := u.Port()
	if portStr == "" {
		return "", 0, NewError(InvocationError, "nsq URI requires a port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, NewError(InvocationError, fmt.Errorf("invalid port in nsq URI: %w", err))
	}
	return host, port, nil
}
