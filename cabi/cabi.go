// Package cabi is the thin foreign-call surface described in spec.md
// §1 and §6: a handle and five entry points, exported for consumption by
// non-Go host applications via cgo. It contains no logic beyond
// marshaling C types and delegating to the tracy package; every
// interesting behavior lives there.
package cabi

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"time"
	"unsafe"

	"github.com/rohde-schwarz/tracy"
)

// handles maps the opaque uintptr handed to C callers to the Agent it
// refers to. cgo forbids storing a Go pointer to a Go pointer in C
// memory, so tracy_init returns a small integer handle rather than the
// Agent's address directly.
var (
	handlesMtx sync.Mutex
	handles    = map[C.uintptr_t]*tracy.Agent{}
	nextHandle C.uintptr_t = 1
)

func store(a *tracy.Agent) C.uintptr_t {
	handlesMtx.Lock()
	defer handlesMtx.Unlock()
	h := nextHandle
	nextHandle++
	handles[h] = a
	return h
}

func load(h C.uintptr_t) *tracy.Agent {
	handlesMtx.Lock()
	defer handlesMtx.Unlock()
	return handles[h]
}

func drop(h C.uintptr_t) {
	handlesMtx.Lock()
	defer handlesMtx.Unlock()
	delete(handles, h)
}

//export tracy_init
func tracy_init(
	hostname *C.char,
	processName *C.char,
	bufferFlushIntervalMS C.uint,
	announceIntervalMS C.uint,
	announceIface *C.char,
	announceMcastAddr *C.char,
	flags C.int,
) C.uintptr_t {
	_ = flags // unused, reserved for future use, matches the original ABI

	if hostname == nil || processName == nil || bufferFlushIntervalMS == 0 {
		return 0
	}

	cfg := tracy.Config{
		Hostname:      C.GoString(hostname),
		Process:       C.GoString(processName),
		FlushInterval: time.Duration(bufferFlushIntervalMS) * time.Millisecond,
	}
	if announceIntervalMS > 0 {
		cfg.AnnounceInterval = time.Duration(announceIntervalMS) * time.Millisecond
	}
	if announceIface != nil {
		cfg.AnnounceIface = C.GoString(announceIface)
	}
	if announceMcastAddr != nil {
		cfg.AnnounceMulticastAddr = C.GoString(announceMcastAddr)
	}

	agent, err := tracy.New(cfg)
	if err != nil {
		return 0
	}

	return store(agent)
}

//export tracy_finit
func tracy_finit(handle C.uintptr_t) {
	agent := load(handle)
	if agent == nil {
		return
	}
	drop(handle)
	_ = agent.Close()
}

//export tracy_register
func tracy_register(handle C.uintptr_t, tracepointName *C.char) C.int {
	agent := load(handle)
	if agent == nil || tracepointName == nil {
		return -1
	}
	if err := agent.Register(C.GoString(tracepointName)); err != nil {
		return -1
	}
	return 0
}

//export tracy_tracepoint_enabled
func tracy_tracepoint_enabled(handle C.uintptr_t, tracepointName *C.char) C.int {
	agent := load(handle)
	if agent == nil || tracepointName == nil {
		return 0
	}
	if agent.Enabled(C.GoString(tracepointName)) {
		return 1
	}
	return 0
}

//export tracy_submit
func tracy_submit(handle C.uintptr_t, tracepointName *C.char, data *C.uchar, dataLen C.size_t) {
	agent := load(handle)
	if agent == nil || tracepointName == nil || data == nil || dataLen == 0 {
		return
	}
	buf := C.GoBytes(unsafe.Pointer(data), C.int(dataLen))
	agent.Submit(C.GoString(tracepointName), buf)
}
