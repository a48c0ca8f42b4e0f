package session

import (
	"net"
	"time"

	"github.com/rohde-schwarz/tracy/internal/buffer"
	"github.com/rohde-schwarz/tracy/internal/wire"
)

// writeTimeout bounds every PUSH write; a write that fails to complete
// within it counts as a session-terminating I/O error, per spec.md
// §4.5's "short-writes that fail to complete within a bounded retry
// window" rule.
const writeTimeout = 2 * time.Second

// flush drains the submit buffer and transmits its contents as one or
// more PUSH frames, splitting at wire.MaxFrameLen while preserving
// order.
func (w *Worker) flush(conn net.Conn) error {
	batch := w.cfg.Buffer.Drain()
	if len(batch) == 0 {
		return nil
	}
	return writePushBatch(conn, buffer.ToPushRecords(batch), writeTimeout)
}

// finalFlush is flush's best-effort counterpart used on Draining: it
// bounds the write with FinalFlushTimeout and swallows any error, since
// by the time it runs the agent is already shutting down.
func (w *Worker) finalFlush(conn net.Conn) {
	batch := w.cfg.Buffer.Drain()
	if len(batch) == 0 {
		return
	}
	_ = writePushBatch(conn, buffer.ToPushRecords(batch), FinalFlushTimeout)
}

// writePushBatch splits records into frames no larger than
// wire.MaxFrameLen and writes each in turn, preserving record order both
// within and across frames. Each frame's write is bounded by timeout.
func writePushBatch(conn net.Conn, records []wire.PushRecord, timeout time.Duration) error {
	maxPayload := wire.MaxFrameLen - wire.HeaderLen

	var chunk []wire.PushRecord
	chunkSize := 0

	flushChunk := func() error {
		if len(chunk) == 0 {
			return nil
		}
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := wire.WriteFrame(conn, wire.Push, wire.EncodePush(chunk)); err != nil {
			return err
		}
		chunk = nil
		chunkSize = 0
		return nil
	}

	for _, rec := range records {
		size := 2 + len(rec.Name) + 8 + 2 + len(rec.Data)
		if chunkSize+size > maxPayload && len(chunk) > 0 {
			if err := flushChunk(); err != nil {
				return err
			}
		}
		chunk = append(chunk, rec)
		chunkSize += size
	}

	return flushChunk()
}
