package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nsqio-go/nsqclient/nsq"
)

func runPub(nsqdAddr, topic string, delayMs int, mpub bool) error {
	host, portStr, err := net.SplitHostPort(nsqdAddr)
	if err != nil {
		return fmt.Errorf("invalid --nsqd address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid --nsqd port: %w", err)
	}

	pub := nsq.NewPublisher(host, port)
	if err := pub.Connect(); err != nil {
		return fmt.Errorf("connecting to nsqd: %w", err)
	}
	defer pub.Close()

	lines, err := stdinLines()
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	delay := time.Duration(delayMs) * time.Millisecond

	if mpub {
		batch := make([]interface{}, len(lines))
		for i, l := range lines {
			batch[i] = l
		}
		if err := pub.PublishAny(topic, batch, delay); err != nil {
			return fmt.Errorf("publishing batch to %s: %w", topic, err)
		}
		return nil
	}

	for _, l := range lines {
		if err := pub.PublishAny(topic, l, delay); err != nil {
			return fmt.Errorf("publishing to %s: %w", topic, err)
		}
	}
	return nil
}

func runSub(lookupdCSV, topic, channel string, concurrency int) error {
	target, err := nsq.ParseLookupURI("nsqlookup://" + lookupdCSV + "/" + topic + "?channel=" + channel)
	if err != nil {
		return fmt.Errorf("parsing --lookupd: %w", err)
	}

	sub, err := nsq.NewSubscriber(topic, channel,
		nsq.WithLookupd(target.LookupHosts...),
		nsq.WithConcurrency(concurrency),
	)
	if err != nil {
		return fmt.Errorf("constructing subscriber: %w", err)
	}

	sub.OnMessage(func(host string, port int, msg *nsq.Message) {
		fmt.Println(string(msg.Body))
		_ = msg.Finish()
	})

	if err := sub.Connect(); err != nil {
		return fmt.Errorf("connecting subscriber: %w", err)
	}
	defer sub.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}
