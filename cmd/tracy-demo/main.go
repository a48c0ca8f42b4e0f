// tracy-demo is an example host program: it registers a couple of
// tracepoints and submits to the heartbeat one in a loop, so a tracy client can be
// pointed at it to exercise discovery, enable/disable, and streaming.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/rohde-schwarz/tracy"
)

type config struct {
	hostname         string
	process          string
	flushIntervalMS  uint
	announceInterval uint
	announceIface    string
	announceAddr     string
}

func main() {
	if err := exec(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// registerFlags binds cfg's fields to fs. cfg's fields must already hold
// their defaults: an ffval.Value takes the pointed-to value as its
// default and only overwrites it if the flag is actually passed.
func registerFlags(fs *ff.FlagSet, cfg *config) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "hostname",
		Value:       ffval.NewValue(&cfg.hostname),
		Usage:       "hostname advertised in announce datagrams",
		Placeholder: "HOST",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "process",
		Value:       ffval.NewValue(&cfg.process),
		Usage:       "process name advertised in announce datagrams",
		Placeholder: "NAME",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "flush-interval-ms",
		Value:       ffval.NewValue(&cfg.flushIntervalMS),
		Usage:       "submit buffer flush interval, in milliseconds",
		Placeholder: "MS",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "announce-interval-ms",
		Value:       ffval.NewValue(&cfg.announceInterval),
		Usage:       "UDP announce interval, in milliseconds (0 disables announcing)",
		Placeholder: "MS",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "announce-iface",
		Value:       ffval.NewValue(&cfg.announceIface),
		Usage:       "local interface address to announce from",
		Placeholder: "ADDR",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "announce-addr",
		Value:       ffval.NewValue(&cfg.announceAddr),
		Usage:       "multicast destination for announce datagrams",
		Placeholder: "IP:PORT",
	})
}

func exec(ctx context.Context, args []string) error {
	cfg := config{
		hostname:         hostnameOrDefault(),
		process:          "tracy-demo",
		flushIntervalMS:  1000,
		announceInterval: 5000,
		announceIface:    "127.0.0.1",
		announceAddr:     "225.0.0.1:64042",
	}

	fs := ff.NewFlagSet("tracy-demo")
	registerFlags(fs, &cfg)

	cmd := &ff.Command{
		Name:      "tracy-demo",
		ShortHelp: "run an example tracy-instrumented host program",
		Flags:     fs,
	}

	if err := cmd.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	logger := log.New(os.Stderr, "tracy-demo: ", log.LstdFlags)

	agent, err := tracy.New(tracy.Config{
		Hostname:              cfg.hostname,
		Process:               cfg.process,
		FlushInterval:         time.Duration(cfg.flushIntervalMS) * time.Millisecond,
		AnnounceInterval:      time.Duration(cfg.announceInterval) * time.Millisecond,
		AnnounceIface:         cfg.announceIface,
		AnnounceMulticastAddr: cfg.announceAddr,
		Logger:                logger,
	})
	if err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	defer agent.Close()

	for _, tp := range []string{"heartbeat", "request-latency"} {
		if err := agent.Register(tp); err != nil {
			return fmt.Errorf("register %q: %w", tp, err)
		}
	}

	logger.Printf("listening on TCP port %d", agent.Port())

	var g run.Group

	ctx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		return emitHeartbeats(ctx, agent)
	}, func(error) {
		cancel()
	})

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	g.Add(func() error {
		<-sigCtx.Done()
		return sigCtx.Err()
	}, func(error) {
		stop()
		cancel()
	})

	return g.Run()
}

func emitHeartbeats(ctx context.Context, agent *tracy.Agent) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			agent.Submit("heartbeat", []byte(now.Format(time.RFC3339Nano)))
		}
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return h
}
