// Command redipubsub-probe subscribes to channels and patterns on a
// Redis node and prints every event it receives, one line at a time.
// It is a pubsub-only tool: there is no key-resolution or general
// command surface here, only (P)SUBSCRIBE/(P)UNSUBSCRIBE.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quietloop/redipubsub"
)

var (
	addrFlag          string
	configFlag        string
	syncFlag          bool
	exitOnDisconnFlag bool
	patternsFlag      []string
)

func main() {
	root := &cobra.Command{
		Use:   "redipubsub-probe [channel ...]",
		Short: "Subscribe to Redis Pub/Sub channels and patterns and print events",
		RunE:  run,
	}
	root.Flags().StringVar(&addrFlag, "addr", "localhost:6379", "Redis node address")
	root.Flags().StringVar(&configFlag, "config", "", "optional config file (host, port, timeouts, backoff, TLS, sentinel, log levels)")
	root.Flags().BoolVar(&syncFlag, "sync-connect", false, "fail start-up instead of retrying if the first connect fails")
	root.Flags().BoolVar(&exitOnDisconnFlag, "exit-on-disconnect", false, "terminate instead of reconnecting on disconnect")
	root.Flags().StringSliceVar(&patternsFlag, "pattern", nil, "glob pattern to PSUBSCRIBE to (repeatable)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "redipubsub-probe:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, channels []string) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.SyncConnect = syncFlag
	cfg.ExitOnDisconnect = exitOnDisconnFlag

	conn, err := redipubsub.Open[string](cfg, redipubsub.WithLogger[string](logger))
	if err != nil {
		return fmt.Errorf("opening connection: %w", err)
	}
	defer conn.Close()

	events := make(redipubsub.ChanEndpoint, 256)
	done := make(chan struct{})
	defer close(done)

	if len(channels) > 0 {
		if _, err := conn.Subscribe("probe", done, events, channels...); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
	}
	if len(patternsFlag) > 0 {
		if _, err := conn.PSubscribe("probe", done, events, patternsFlag...); err != nil {
			return fmt.Errorf("psubscribing: %w", err)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-events:
			printEvent(ev)
		case <-sigs:
			return nil
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return err
			}
			return nil
		}
	}
}

func loadConfig() (redipubsub.Config, error) {
	if configFlag == "" {
		host, portStr, err := net.SplitHostPort(addrFlag)
		if err != nil {
			return redipubsub.Config{}, fmt.Errorf("parsing --addr %q: %w", addrFlag, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return redipubsub.Config{}, fmt.Errorf("parsing --addr %q: %w", addrFlag, err)
		}
		return redipubsub.Config{Host: host, Port: port, Log: redipubsub.DefaultLogLevels()}, nil
	}
	return redipubsub.LoadConfig(configFlag)
}

func printEvent(ev redipubsub.Event) {
	switch ev.Kind {
	case redipubsub.Subscribed:
		fmt.Printf("subscribed channel=%s\n", ev.Channel)
	case redipubsub.PSubscribed:
		fmt.Printf("psubscribed pattern=%s\n", ev.Pattern)
	case redipubsub.Unsubscribed:
		fmt.Printf("unsubscribed channel=%s\n", ev.Channel)
	case redipubsub.PUnsubscribed:
		fmt.Printf("punsubscribed pattern=%s\n", ev.Pattern)
	case redipubsub.Message:
		fmt.Printf("message channel=%s %q\n", ev.Channel, ev.Payload)
	case redipubsub.PMessage:
		fmt.Printf("pmessage pattern=%s channel=%s %q\n", ev.Pattern, ev.Channel, ev.Payload)
	case redipubsub.Disconnected:
		fmt.Printf("disconnected err=%v\n", ev.Err)
	}
}
