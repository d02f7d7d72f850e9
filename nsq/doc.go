// Package nsq is a client library for the NSQ distributed message broker.
//
// It speaks the NSQ TCP protocol (v2) to nsqd nodes and polls nsqlookupd
// over HTTP for topic discovery. A Publisher sends messages to a single
// nsqd; a Subscriber receives messages from one or more nsqd nodes for a
// (topic, channel) pair. Both are thin façades around a Connection, which
// owns the framed I/O, handshake, command queueing, heartbeats, inflight
// tracking, and reconnect state machine.
//
//	pub := nsq.NewPublisher("127.0.0.1", 4150)
//	if err := pub.Connect(); err != nil {
//		log.Fatal(err)
//	}
//	defer pub.Close()
//	if err := pub.Publish("orders", []byte("hello")); err != nil {
//		log.Fatal(err)
//	}
//
//	sub, _ := nsq.NewSubscriber("orders", "worker",
//		nsq.WithLookupd("127.0.0.1:4161"),
//		nsq.WithConcurrency(50),
//	)
//	sub.OnMessage(func(host string, port int, msg *nsq.Message) {
//		msg.Finish()
//	})
//	sub.Connect()
package nsq
