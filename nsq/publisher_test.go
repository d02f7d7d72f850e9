package nsq

import (
	"testing"
	"time"

	"github.com/nsqio-go/nsqclient/internal/fakensq"
)

func TestPublisherPublish(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()
	host, port := d.HostPort()

	metrics := NewMetrics(nil)
	pub := NewPublisher(host, port, WithPublisherMetrics(metrics))
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pub.Close()

	if err := pub.Publish("orders", "hi"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.MPublish("orders", []interface{}{"a", "b"}); err != nil {
		t.Fatalf("MPublish: %v", err)
	}
	if err := pub.DPublish("orders", 10*time.Millisecond, "later"); err != nil {
		t.Fatalf("DPublish: %v", err)
	}

	published := d.Published()
	if len(published) != 4 {
		t.Fatalf("expected 4 published messages, got %d", len(published))
	}
}

func TestPublisherPublishAnyRejectsDelayedMultiPublish(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()
	host, port := d.HostPort()

	pub := NewPublisher(host, port)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pub.Close()

	err = pub.PublishAny("orders", []interface{}{"x", "y"}, 500*time.Millisecond)
	if err == nil {
		t.Fatal("expected error for delayed multi publish")
	}
	nsqErr, ok := err.(*NSQError)
	if !ok {
		t.Fatalf("expected *NSQError, got %T", err)
	}
	if nsqErr.Category != InvocationError {
		t.Fatalf("expected InvocationError category, got %v", nsqErr.Category)
	}
	if nsqErr.Message != "Cannot delay a multi publish" {
		t.Fatalf("unexpected message: %s", nsqErr.Message)
	}
	if len(d.Published()) != 0 {
		t.Fatalf("expected nothing transmitted, got %d", len(d.Published()))
	}
}

func TestPublisherPublishAnyDispatchesByShape(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()
	host, port := d.HostPort()

	pub := NewPublisher(host, port)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pub.Close()

	if err := pub.PublishAny("orders", "single", 0); err != nil {
		t.Fatalf("single PublishAny: %v", err)
	}
	if err := pub.PublishAny("orders", []interface{}{"a", "b"}, 0); err != nil {
		t.Fatalf("batch PublishAny: %v", err)
	}
	if err := pub.PublishAny("orders", "delayed", 10*time.Millisecond); err != nil {
		t.Fatalf("delayed PublishAny: %v", err)
	}

	published := d.Published()
	if len(published) != 4 {
		t.Fatalf("expected 4 published messages, got %d", len(published))
	}
	if published[3].Delay != 10*time.Millisecond {
		t.Fatalf("expected last publish delayed 10ms, got %v", published[3].Delay)
	}
}
