package tracy

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rohde-schwarz/tracy/internal/announce"
	"github.com/rohde-schwarz/tracy/internal/buffer"
	"github.com/rohde-schwarz/tracy/internal/registry"
	"github.com/rohde-schwarz/tracy/internal/session"
	"github.com/rohde-schwarz/tracy/internal/wire"
)

// Agent is a running tracing agent: a tracepoint registry, a submit
// buffer, a UDP announcer, and a TCP session worker, wired together and
// driven by a background goroutine. The zero value is not usable;
// construct one with New. An Agent is safe for concurrent use by
// multiple goroutines, matching the original library's foreign-call
// contract of "any host thread may call any entry point at any time".
type Agent struct {
	cfg      Config
	registry *registry.Registry
	buffer   *buffer.Buffer
	worker   *session.Worker
	logger   *log.Logger

	cancel context.CancelFunc
	done   chan error
}

// New validates cfg, wires up the registry/buffer/announcer/session
// worker, and starts the background worker goroutine. It returns an
// error (spec's ConfigError) if cfg is invalid or the TCP listener or
// multicast socket cannot be bound; in that case no goroutine is left
// running.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	reg := registry.New()
	buf := buffer.New(cfg.HighWaterMark)

	ann, err := announce.New(announce.Config{
		Interval:      cfg.AnnounceInterval,
		IfaceAddr:     cfg.AnnounceIface,
		MulticastAddr: cfg.AnnounceMulticastAddr,
		Hostname:      cfg.Hostname,
		Process:       cfg.Process,
	})
	if err != nil {
		return nil, fmt.Errorf("tracy: configure announcer: %w", err)
	}

	worker, err := session.New(session.Config{
		Registry:      reg,
		Buffer:        buf,
		Announcer:     ann,
		FlushInterval: cfg.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("tracy: start session worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	return &Agent{
		cfg:      cfg,
		registry: reg,
		buffer:   buf,
		worker:   worker,
		logger:   logger,
		cancel:   cancel,
		done:     done,
	}, nil
}

// Close signals the worker to drain (a best-effort final flush of any
// connected session), joins the worker goroutine, and releases the
// agent's resources. After Close returns, a must not be used again.
func (a *Agent) Close() error {
	if a == nil {
		return nil
	}
	a.cancel()
	return <-a.done
}

// Register creates a tracepoint under name's canonical form. It fails if
// name is empty, contains a non-ASCII byte, or a tracepoint with the same
// canonical name is already registered.
func (a *Agent) Register(name string) error {
	if a == nil {
		return fmt.Errorf("tracy: nil agent")
	}
	canonical, ok := registry.Canonicalize(name, registry.MaxNameLen)
	if !ok {
		return fmt.Errorf("tracy: invalid tracepoint name %q", name)
	}
	return a.registry.Register(canonical)
}

// Enabled reports whether name's canonical tracepoint is currently
// enabled by a connected client. An invalid name, an unregistered
// tracepoint, or a degraded agent all report false.
func (a *Agent) Enabled(name string) bool {
	if a == nil {
		return false
	}
	canonical, ok := registry.Canonicalize(name, registry.MaxNameLen)
	if !ok {
		return false
	}
	return a.registry.IsEnabled(canonical)
}

// Submit captures data under name if and only if name's canonical
// tracepoint is registered and enabled, a client is connected (enabled
// implies connected, per invariant I3), and 0 < len(data) <=
// wire.MaxPayloadLen. The timestamp is stamped immediately, before any
// buffering. Submit never blocks on network I/O; it may briefly block on
// the buffer's internal lock. data is copied; the caller may reuse it
// immediately after Submit returns.
func (a *Agent) Submit(name string, data []byte) {
	if a == nil {
		return
	}
	if len(data) == 0 || len(data) > wire.MaxPayloadLen {
		return
	}

	ts := time.Now().UnixNano()

	canonical, ok := registry.Canonicalize(name, registry.MaxNameLen)
	if !ok {
		return
	}
	if !a.registry.IsEnabled(canonical) {
		return
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	a.buffer.TryPush(buffer.Event{Name: canonical, TimestampNS: ts, Data: cp})
}

// Port returns the TCP port the agent's listener is bound to, as
// reported in its announce datagrams.
func (a *Agent) Port() int {
	if a == nil {
		return 0
	}
	return a.worker.Port()
}
