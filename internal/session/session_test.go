package session_test

import (
	"bufio"
	"context"
	"log"
	"net"
	"testing"
	"time"

	"github.com/rohde-schwarz/tracy"
	"github.com/rohde-schwarz/tracy/internal/announce"
	"github.com/rohde-schwarz/tracy/internal/buffer"
	"github.com/rohde-schwarz/tracy/internal/registry"
	"github.com/rohde-schwarz/tracy/internal/session"
	"github.com/rohde-schwarz/tracy/internal/wire"
)

func newTestWorker(t *testing.T) (*session.Worker, *registry.Registry, *buffer.Buffer) {
	t.Helper()

	reg := registry.New()
	buf := buffer.New(0)
	ann, err := announce.New(announce.Config{})
	if err != nil {
		t.Fatalf("announce.New: %v", err)
	}

	w, err := session.New(session.Config{
		Registry:      reg,
		Buffer:        buf,
		Announcer:     ann,
		FlushInterval: 50 * time.Millisecond,
		Logger:        log.Default(),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return w, reg, buf
}

func dial(t *testing.T, w *session.Worker) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", (&net.TCPAddr{IP: net.IPv6loopback, Port: w.Port()}).String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHappyPathListEnablePush(t *testing.T) {
	t.Parallel()

	w, reg, buf := newTestWorker(t)
	if err := reg.Register("tp"); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	conn := dial(t, w)
	defer conn.Close()
	r := bufio.NewReader(conn)

	// LIST-REQUEST -> LIST-REPLY containing "tp"
	if err := wire.WriteFrame(conn, wire.ListRequest, nil); err != nil {
		t.Fatalf("write LIST-REQUEST: %v", err)
	}
	cmd, payload, err := wire.ReadFrame(r, nil)
	if err != nil {
		t.Fatalf("read LIST-REPLY: %v", err)
	}
	if cmd != wire.ListReply {
		t.Fatalf("want LIST-REPLY, got %v", cmd)
	}
	names, err := wire.DecodeNameList(payload)
	if err != nil {
		t.Fatalf("decode name list: %v", err)
	}
	if len(names) != 1 || names[0] != "tp" {
		t.Fatalf("want [tp], got %v", names)
	}

	// ENABLE-REQUEST ["tp"]
	if err := wire.WriteFrame(conn, wire.EnableRequest, wire.EncodeNameList([]string{"tp"})); err != nil {
		t.Fatalf("write ENABLE-REQUEST: %v", err)
	}

	// give the worker a moment to process the enable before submitting
	deadline := time.Now().Add(time.Second)
	for !reg.IsEnabled("tp") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !reg.IsEnabled("tp") {
		t.Fatal("tracepoint never became enabled")
	}

	if !buf.TryPush(buffer.Event{Name: "tp", TimestampNS: time.Now().UnixNano(), Data: []byte("hi")}) {
		t.Fatal("push rejected")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	cmd, payload, err = wire.ReadFrame(r, nil)
	if err != nil {
		t.Fatalf("read PUSH: %v", err)
	}
	if cmd != wire.Push {
		t.Fatalf("want PUSH, got %v", cmd)
	}
	records, err := wire.DecodePush(payload)
	if err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if len(records) != 1 || records[0].Name != "tp" || string(records[0].Data) != "hi" {
		t.Fatalf("unexpected push contents: %+v", records)
	}
}

func TestDisconnectClearsEnabledFlags(t *testing.T) {
	t.Parallel()

	w, reg, _ := newTestWorker(t)
	if err := reg.Register("tp"); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	conn := dial(t, w)
	if err := wire.WriteFrame(conn, wire.EnableRequest, wire.EncodeNameList([]string{"tp"})); err != nil {
		t.Fatalf("write ENABLE-REQUEST: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !reg.IsEnabled("tp") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !reg.IsEnabled("tp") {
		t.Fatal("tracepoint never became enabled")
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for reg.IsEnabled("tp") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if reg.IsEnabled("tp") {
		t.Fatal("tracepoint still enabled after disconnect")
	}
}

func TestSecondClientIsRefused(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	first := dial(t, w)
	defer first.Close()

	// Give the worker a moment to register the first connection.
	time.Sleep(20 * time.Millisecond)

	second := dial(t, w)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	n, err := second.Read(buf)
	if err == nil && n > 0 {
		t.Fatalf("expected second connection to be closed without data, got %d bytes", n)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("expected second connection to be closed, but it stayed open")
	}
}

// TestGatedSubmitProducesNoPush exercises the real gate (tracy.Agent.Submit
// checking registry.IsEnabled before ever touching the buffer) against a
// genuinely connected client that never sends an ENABLE-REQUEST. Unlike a
// test that simply never calls TryPush, this fails if the enabled check in
// Submit is removed or made racy: Submit would then hand the event straight
// to the buffer, the worker's flush ticker would drain it, and a PUSH frame
// would arrive on conn.
func TestGatedSubmitProducesNoPush(t *testing.T) {
	t.Parallel()

	agent, err := tracy.New(tracy.Config{
		Hostname:      "host1",
		Process:       "proc1",
		FlushInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("tracy.New: %v", err)
	}
	defer agent.Close()

	if err := agent.Register("tp"); err != nil {
		t.Fatalf("register: %v", err)
	}

	conn, err := net.Dial("tcp", (&net.TCPAddr{IP: net.IPv6loopback, Port: agent.Port()}).String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Deliberately no ENABLE-REQUEST: "tp" stays disabled for this
	// connected client.
	agent.Submit("tp", []byte("should not be pushed"))

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	r := bufio.NewReader(conn)
	if _, _, err := wire.ReadFrame(r, nil); err == nil {
		t.Fatal("expected no frame to arrive for a gated submit")
	}
}
