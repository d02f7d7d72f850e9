package nsq

import (
	"testing"
	"time"

	"github.com/nsqio-go/nsqclient/internal/fakensq"
)

func dialTestConnection(t *testing.T, d *fakensq.NSQD, observer ConnectionObserver) *Connection {
	t.Helper()
	host, port := d.HostPort()
	cfg := defaultConnectionConfig()
	cfg.Timeout = 2 * time.Second
	cfg.DialTimeout = time.Second
	c := NewConnection(host, port, cfg, observer, nil, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func TestConnectionPublishRoundTrip(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()

	c := dialTestConnection(t, d, ConnectionObserver{})
	defer c.Close()

	resp, err := c.Publish("orders", "hello")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if resp != "OK" {
		t.Fatalf("unexpected PUB response: %q", resp)
	}

	published := d.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(published))
	}
	if published[0].Topic != "orders" || string(published[0].Body) != "hello" {
		t.Fatalf("unexpected published message: %+v", published[0])
	}
}

func TestConnectionMPublishFanOut(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()

	c := dialTestConnection(t, d, ConnectionObserver{})
	defer c.Close()

	batch := []interface{}{"a", "b", "c"}
	if _, err := c.MPublish("orders", batch); err != nil {
		t.Fatalf("MPublish: %v", err)
	}

	published := d.Published()
	if len(published) != 3 {
		t.Fatalf("expected 3 published messages, got %d", len(published))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(published[i].Body) != want {
			t.Fatalf("message %d: expected %q, got %q", i, want, published[i].Body)
		}
	}
}

func TestConnectionDPublishRecordsDelay(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()

	c := dialTestConnection(t, d, ConnectionObserver{})
	defer c.Close()

	if _, err := c.DPublish("orders", 250*time.Millisecond, "later"); err != nil {
		t.Fatalf("DPublish: %v", err)
	}

	published := d.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(published))
	}
	if published[0].Delay != 250*time.Millisecond {
		t.Fatalf("expected delay 250ms, got %v", published[0].Delay)
	}
}

func TestConnectionInvalidDPubReturnsServerError(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()
	d.FailCommand("DPUB", "E_INVALID")

	c := dialTestConnection(t, d, ConnectionObserver{})
	defer c.Close()

	_, err = c.DPublish("orders", time.Second, "x")
	if err == nil {
		t.Fatalf("expected error from DPUB")
	}
	var nsqErr *NSQError
	if !asNSQError(err, &nsqErr) {
		t.Fatalf("expected *NSQError, got %T: %v", err, err)
	}
	if nsqErr.Code != "E_INVALID" {
		t.Fatalf("expected E_INVALID, got %s", nsqErr.Code)
	}
}

func TestConnectionSubscribeAndReceiveMessage(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()

	received := make(chan *Message, 1)
	c := dialTestConnection(t, d, ConnectionObserver{
		OnMessage: func(conn *Connection, msg *Message) {
			received <- msg
		},
	})
	defer c.Close()

	if err := c.Subscribe("orders", "ch"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.SetReady(1)

	// RDY carries no response, so wait for the server to have read it.
	var id string
	waitForCondition(t, time.Second, func() bool {
		id, err = d.PushMessage("orders", "ch", []byte("payload"))
		return err == nil
	})
	if err != nil {
		t.Fatalf("PushMessage: %v", err)
	}

	select {
	case msg := <-received:
		if msg.ID != id {
			t.Fatalf("expected message id %s, got %s", id, msg.ID)
		}
		if string(msg.Body) != "payload" {
			t.Fatalf("expected body %q, got %q", "payload", msg.Body)
		}
		if err := msg.Finish(); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if c.InflightCount() != 0 {
		t.Fatalf("expected 0 inflight after Finish, got %d", c.InflightCount())
	}
}

func TestConnectionCloseDrainsInflight(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()

	received := make(chan *Message, 1)
	c := dialTestConnection(t, d, ConnectionObserver{
		OnMessage: func(conn *Connection, msg *Message) {
			received <- msg
		},
	})

	if err := c.Subscribe("orders", "ch"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.SetReady(1)

	// RDY carries no response, so wait for the server to have read it.
	waitForCondition(t, time.Second, func() bool {
		_, err = d.PushMessage("orders", "ch", []byte("payload"))
		return err == nil
	})
	if err != nil {
		t.Fatalf("PushMessage: %v", err)
	}

	msg := <-received
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = msg.Finish()
	}()

	closeDone := make(chan error, 1)
	go func() { closeDone <- c.Close() }()

	select {
	case err := <-closeDone:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return after inflight drain")
	}
}

func TestConnectionTouchExtendsExpiry(t *testing.T) {
	d, err := fakensq.New()
	if err != nil {
		t.Fatalf("fakensq.New: %v", err)
	}
	defer d.Close()

	received := make(chan *Message, 1)
	c := dialTestConnection(t, d, ConnectionObserver{
		OnMessage: func(conn *Connection, msg *Message) {
			received <- msg
		},
	})
	defer c.Close()

	if err := c.Subscribe("orders", "ch"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.SetReady(1)

	// RDY carries no response, so wait for the server to have read it.
	waitForCondition(t, time.Second, func() bool {
		_, err = d.PushMessage("orders", "ch", []byte("payload"))
		return err == nil
	})
	if err != nil {
		t.Fatalf("PushMessage: %v", err)
	}
	msg := <-received

	before := msg.ExpiresIn()
	time.Sleep(20 * time.Millisecond)
	if err := msg.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	after := msg.ExpiresIn()
	if after <= before-20*time.Millisecond {
		t.Fatalf("expected Touch to extend expiry: before=%v after=%v", before, after)
	}
	_ = msg.Finish()
}

// asNSQError is a tiny errors.As shim kept local to the test file so the
// test doesn't need to import "errors" solely for this one assertion.
func asNSQError(err error, target **NSQError) bool {
	if e, ok := err.(*NSQError); ok {
		*target = e
		return true
	}
	return false
}
