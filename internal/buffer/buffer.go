// Package buffer implements tracy's submit buffer: the bounded FIFO of
// captured events owned by the session worker and fed by submitter
// goroutines through TryPush.
package buffer

import (
	"sync"
	"time"

	"github.com/rohde-schwarz/tracy/internal/wire"
)

// DefaultHighWaterMark is the serialized-size ceiling applied when a
// Buffer is constructed with a zero high-water mark. It matches the
// original C library's QUEUE_TOTAL_SIZE constant.
const DefaultHighWaterMark = 4096

// Event is one captured submission awaiting flush.
type Event struct {
	Name        string
	TimestampNS int64
	Data        []byte
}

func (e Event) serializedSize() int {
	// 2-byte name length + name + 8-byte timestamp + 2-byte data length + data,
	// matching the push encoding in internal/wire.
	return 2 + len(e.Name) + 8 + 2 + len(e.Data)
}

// Buffer is a bounded, mutex-protected FIFO of Events. The zero value is
// not usable; construct one with New.
type Buffer struct {
	mtx           sync.Mutex
	events        []Event
	size          int
	highWaterMark int
	firstInsert   time.Time
	hasFirst      bool
}

// New returns an empty Buffer whose total serialized size will never
// exceed highWaterMark bytes. A highWaterMark of 0 selects
// DefaultHighWaterMark.
func New(highWaterMark int) *Buffer {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &Buffer{highWaterMark: highWaterMark}
}

// TryPush accepts ev unless doing so would push the buffer's total
// serialized size past its high-water mark (invariant I1). It reports
// whether the event was accepted. On first insert into an empty buffer it
// records the monotonic first-insertion instant (invariant I2).
func (b *Buffer) TryPush(ev Event) bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	size := ev.serializedSize()
	if b.size+size > b.highWaterMark {
		return false
	}

	if !b.hasFirst {
		b.firstInsert = time.Now()
		b.hasFirst = true
	}

	b.events = append(b.events, ev)
	b.size += size
	return true
}

// Drain atomically moves every buffered event into a caller-owned batch,
// preserving FIFO order, and resets the first-insertion instant.
func (b *Buffer) Drain() []Event {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if len(b.events) == 0 {
		return nil
	}

	batch := b.events
	b.events = nil
	b.size = 0
	b.hasFirst = false
	return batch
}

// ShouldFlush reports whether the buffer should be flushed at time now,
// given flushInterval: true iff the buffer is non-empty and either the
// first buffered event has been waiting at least flushInterval, or the
// buffer's serialized size has reached its high-water mark.
func (b *Buffer) ShouldFlush(now time.Time, flushInterval time.Duration) bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if !b.hasFirst {
		return false
	}
	if now.Sub(b.firstInsert) >= flushInterval {
		return true
	}
	return b.size >= b.highWaterMark
}

// Reset drops every buffered event without flushing them, used when a
// session is lost: buffered-but-unsent data is not carried into the next
// session (spec's "attempted once, then discarded on session loss").
func (b *Buffer) Reset() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.events = nil
	b.size = 0
	b.hasFirst = false
}

// ToPushRecords converts a drained batch into the wire package's
// PushRecord representation, ready for wire.EncodePush.
func ToPushRecords(batch []Event) []wire.PushRecord {
	out := make([]wire.PushRecord, len(batch))
	for i, ev := range batch {
		out[i] = wire.PushRecord{Name: ev.Name, TimestampNS: ev.TimestampNS, Data: ev.Data}
	}
	return out
}
