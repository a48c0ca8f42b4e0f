// Package session implements tracy's session worker: the TCP listener,
// the single-client session state machine, command dispatch, and the
// periodic flush of the submit buffer into PUSH frames. It is the sole
// owner of socket lifecycles and the sole driver of announcer pause/
// resume transitions.
package session

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/oklog/run"
	"github.com/oklog/ulid/v2"

	"github.com/rohde-schwarz/tracy/internal/announce"
	"github.com/rohde-schwarz/tracy/internal/buffer"
	"github.com/rohde-schwarz/tracy/internal/registry"
	"github.com/rohde-schwarz/tracy/internal/wire"
)

// FinalFlushTimeout bounds the best-effort flush attempted on Draining
// while a client is still connected.
const FinalFlushTimeout = 500 * time.Millisecond

// tickGranularity is how often the worker's periodic tick fires; spec.md
// requires "not coarser than buffer_flush_interval / 2".
func tickGranularity(flushInterval time.Duration) time.Duration {
	g := flushInterval / 2
	if g <= 0 {
		g = flushInterval
	}
	if g < time.Millisecond {
		g = time.Millisecond
	}
	return g
}

// Config gathers everything the session worker needs. All fields are
// required except Logger, which defaults to a stderr logger.
type Config struct {
	Registry      *registry.Registry
	Buffer        *buffer.Buffer
	Announcer     *announce.Announcer
	FlushInterval time.Duration
	Logger        *log.Logger
}

// Worker owns the TCP listener and drives the single-session protocol
// state machine described in spec.md §4.5.
type Worker struct {
	cfg      Config
	listener net.Listener
	logger   *log.Logger
}

// New binds the TCP listener and constructs a Worker. It does not start
// serving until Run is called.
func New(cfg Config) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	ln, err := listen()
	if err != nil {
		return nil, fmt.Errorf("tracy: bind TCP listener: %w", err)
	}

	w := &Worker{cfg: cfg, listener: ln, logger: cfg.Logger}
	w.cfg.Announcer.SetTCPPort(w.Port())
	return w, nil
}

// Port returns the kernel-chosen TCP port the listener is bound to.
func (w *Worker) Port() int {
	return w.listener.Addr().(*net.TCPAddr).Port
}

// Run drives the worker's readiness loop until ctx is canceled, at which
// point it enters Draining: any connected client gets one best-effort
// final flush, then the listener and connection are closed. Run
// coordinates the accept loop and the announcer as one run.Group so that
// canceling ctx tears both down together.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	g.Add(func() error {
		return w.serve(ctx)
	}, func(error) {
		cancel()
		w.listener.Close()
	})

	if w.cfg.Announcer != nil {
		g.Add(func() error {
			// A disabled Announcer's Run returns at once; hold this actor
			// until ctx is canceled so that return does not end the group
			// and close the listener.
			err := w.cfg.Announcer.Run(ctx)
			<-ctx.Done()
			return err
		}, func(error) {
			cancel()
		})
	}

	return g.Run()
}

// Close stops the listener, unblocking any in-flight Accept.
func (w *Worker) Close() error {
	return w.listener.Close()
}

type acceptedConn struct {
	conn net.Conn
	err  error
}

type frameResult struct {
	cmd     wire.Command
	payload []byte
	err     error
}

// serve is the worker's single-threaded readiness loop: one goroutine
// mutates all session state, reacting to accepted connections, frames
// read from the current connection, the flush ticker, and cancellation.
// It is the direct analogue of the original library's mio poll loop.
func (w *Worker) serve(ctx context.Context) error {
	acceptCh := make(chan acceptedConn)
	go w.acceptLoop(ctx, acceptCh)

	ticker := time.NewTicker(tickGranularity(w.cfg.FlushInterval))
	defer ticker.Stop()

	var (
		conn       net.Conn
		sessionID  ulid.ULID
		frameCh    chan frameResult
		readerDone chan struct{}
	)

	// abandonReader releases the current readLoop goroutine, if any, so
	// it can return instead of blocking forever trying to send on a
	// frameCh nobody is reading from anymore.
	abandonReader := func() {
		if readerDone != nil {
			close(readerDone)
			readerDone = nil
		}
	}

	closeSession := func(cause error) {
		if conn == nil {
			return
		}
		if cause != nil {
			w.logger.Printf("tracy: session %s: closing: %v", sessionID, cause)
		} else {
			w.logger.Printf("tracy: session %s: closed", sessionID)
		}
		conn.Close()
		abandonReader()
		w.cfg.Registry.ClearEnabledFlags()
		w.cfg.Buffer.Reset()
		if w.cfg.Announcer != nil {
			w.cfg.Announcer.Resume()
		}
		conn = nil
		frameCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			if conn != nil {
				w.finalFlush(conn)
				conn.Close()
				abandonReader()
			}
			return nil

		case ac := <-acceptCh:
			if ac.err != nil {
				return nil // listener closed
			}
			if conn != nil {
				// spec.md §9: a second concurrent client is accepted and
				// immediately closed without being read from.
				ac.conn.Close()
				continue
			}
			conn = ac.conn
			sessionID = ulid.Make()
			w.cfg.Registry.ClearEnabledFlags()
			if w.cfg.Announcer != nil {
				w.cfg.Announcer.Pause()
			}
			w.logger.Printf("tracy: session %s: accepted from %s", sessionID, conn.RemoteAddr())
			frameCh = make(chan frameResult)
			readerDone = make(chan struct{})
			go readLoop(conn, frameCh, readerDone)

		case fr := <-frameCh:
			if conn == nil {
				continue // stale frame from a session already closed
			}
			if fr.err != nil {
				closeSession(fr.err)
				continue
			}
			if err := w.dispatch(conn, fr.cmd, fr.payload); err != nil {
				closeSession(err)
			}

		case <-ticker.C:
			if conn == nil {
				continue
			}
			if w.cfg.Buffer.ShouldFlush(time.Now(), w.cfg.FlushInterval) {
				if err := w.flush(conn); err != nil {
					closeSession(err)
				}
			}
		}
	}
}

func (w *Worker) acceptLoop(ctx context.Context, out chan<- acceptedConn) {
	for {
		conn, err := w.listener.Accept()
		if err != nil {
			select {
			case out <- acceptedConn{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- acceptedConn{conn: conn}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// readLoop reads frames from conn until an I/O or protocol error occurs,
// forwarding each to out. It never mutates worker state directly; only
// the worker's own goroutine, reading from out, does that. done is
// closed by the worker the moment it abandons this connection for any
// reason (dispatch error, flush error, shutdown); readLoop selects its
// send against it so a send that the worker will never read again does
// not block the goroutine forever.
func readLoop(conn net.Conn, out chan<- frameResult, done <-chan struct{}) {
	r := bufio.NewReader(conn)
	for {
		cmd, payload, err := wire.ReadFrame(r, validateClientCommand)
		select {
		case out <- frameResult{cmd: cmd, payload: payload, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// validateClientCommand rejects any command the client is not permitted
// to send, and any length that doesn't fit that command's contract,
// before the payload is even read off the wire.
func validateClientCommand(cmd wire.Command, length uint32) error {
	if length > wire.MaxFrameLen {
		return &wire.ProtocolError{Reason: fmt.Sprintf("payload length %d exceeds max frame size", length)}
	}
	switch cmd {
	case wire.ListRequest:
		if length != 0 {
			return &wire.ProtocolError{Reason: "LIST-REQUEST must carry no payload"}
		}
	case wire.EnableRequest, wire.DisableRequest:
		if length == 0 {
			return &wire.ProtocolError{Reason: cmd.String() + " must carry a non-empty payload"}
		}
	default:
		return &wire.ProtocolError{Reason: "unrecognized or disallowed command " + cmd.String()}
	}
	return nil
}
