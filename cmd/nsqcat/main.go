// Command nsqcat is a thin pub/sub utility exercising the nsqclient
// Publisher and Subscriber end to end, analogous to the upstream NSQ
// distribution's nsq_pub/nsq_to_file utilities.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "nsqcat",
		Short: "publish and subscribe to an NSQ topic from the command line",
	}
	c.AddCommand(newPubCmd(), newSubCmd())
	return c
}

func newPubCmd() *cobra.Command {
	var (
		nsqd  string
		topic string
		delay int
		mpub  bool
	)
	c := &cobra.Command{
		Use:   "pub",
		Short: "publish stdin lines to a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPub(nsqd, topic, delay, mpub)
		},
	}
	c.Flags().StringVar(&nsqd, "nsqd", "127.0.0.1:4150", "nsqd TCP address, host:port")
	c.Flags().StringVar(&topic, "topic", "", "topic to publish to")
	c.Flags().IntVar(&delay, "delay", 0, "deferred publish delay in milliseconds; implies DPUB")
	c.Flags().BoolVar(&mpub, "mpub", false, "publish all stdin lines as a single MPUB batch")
	_ = c.MarkFlagRequired("topic")
	return c
}

func newSubCmd() *cobra.Command {
	var (
		lookupd      string
		topic        string
		channel      string
		concurrency  int
		maxInFlight  int
	)
	c := &cobra.Command{
		Use:   "sub",
		Short: "subscribe to a topic/channel and print message bodies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxInFlight > 0 {
				concurrency = maxInFlight
			}
			return runSub(lookupd, topic, channel, concurrency)
		},
	}
	c.Flags().StringVar(&lookupd, "lookupd", "", "comma-separated nsqlookupd HTTP addresses, host:port (no scheme)")
	c.Flags().StringVar(&topic, "topic", "", "topic to subscribe to")
	c.Flags().StringVar(&channel, "channel", "", "channel to subscribe on")
	c.Flags().IntVar(&concurrency, "concurrency", 1, "total in-flight message budget")
	c.Flags().IntVar(&maxInFlight, "max-inflight", 0, "alias for --concurrency, demonstrates RDY distribution under load")
	_ = c.MarkFlagRequired("topic")
	_ = c.MarkFlagRequired("channel")
	_ = c.MarkFlagRequired("lookupd")
	return c
}

func stdinLines() ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
