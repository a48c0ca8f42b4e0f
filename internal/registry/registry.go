// Package registry implements tracy's tracepoint registry: the concurrent
// mapping from canonical tracepoint name to its enabled/disabled state.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rohde-schwarz/tracy/internal/wire"
)

// MaxNameLen is the maximum length, in bytes, of a canonical tracepoint
// name, mirrored from the wire codec so callers have one constant to
// import regardless of which layer they're working in.
const MaxNameLen = wire.MaxNameLen

// ErrAlreadyExists is returned by Register when the canonical name is
// already present.
var ErrAlreadyExists = fmt.Errorf("tracy: tracepoint already registered")

// ErrInvalidName describes a tracepoint name that contains a byte >= 0x80.
// Register does not check names and never returns it; Canonicalize
// reports such names with ok == false.
var ErrInvalidName = fmt.Errorf("tracy: tracepoint name is not ASCII")

type record struct {
	name    string
	enabled atomic.Bool
}

// Registry is a concurrent name-to-registration mapping. The zero value is
// not usable; construct one with New.
type Registry struct {
	mtx     sync.RWMutex
	byName  map[string]*record
	order   []string
	poisoned atomic.Bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*record)}
}

// Canonicalize applies the name rules from tracy's data model: reject any
// byte >= 0x80, truncate to MaxNameLen bytes, then fold to lowercase.
// ok is false if name is empty after truncation or contains a non-ASCII
// byte.
func Canonicalize(name string, maxLen int) (canonical string, ok bool) {
	if name == "" {
		return "", false
	}
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			return "", false
		}
	}
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return toLowerASCII(name), true
}

func toLowerASCII(s string) string {
	buf := []byte(s)
	changed := false
	for i, b := range buf {
		if b >= 'A' && b <= 'Z' {
			buf[i] = b + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(buf)
}

// Register inserts name (already expected to be canonical; callers
// canonicalize via Canonicalize before calling) with enabled = false. It
// fails with ErrAlreadyExists if the name is present.
func (r *Registry) Register(canonicalName string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, exists := r.byName[canonicalName]; exists {
		return ErrAlreadyExists
	}

	rec := &record{name: canonicalName}
	r.byName[canonicalName] = rec
	r.order = append(r.order, canonicalName)
	return nil
}

// IsEnabled reports whether canonicalName is registered and enabled. A
// poisoned registry, or a name that is absent, both report false.
func (r *Registry) IsEnabled(canonicalName string) bool {
	if r.poisoned.Load() {
		return false
	}

	r.mtx.RLock()
	rec, ok := r.byName[canonicalName]
	r.mtx.RUnlock()
	if !ok {
		return false
	}
	return rec.enabled.Load()
}

// Contains reports whether canonicalName is registered, regardless of its
// enabled state.
func (r *Registry) Contains(canonicalName string) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	_, ok := r.byName[canonicalName]
	return ok
}

// SetEnabled canonicalizes each name in names and, if registered, sets
// its enabled flag to value. It returns, for each input name in order,
// whether the tracepoint was found. It is intended to be called only by
// the session worker in response to ENABLE-REQUEST/DISABLE-REQUEST
// frames, which carry names as sent by the client rather than
// pre-canonicalized.
func (r *Registry) SetEnabled(names []string, value bool) []bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	found := make([]bool, len(names))
	for i, n := range names {
		canonical, ok := Canonicalize(n, MaxNameLen)
		if !ok {
			continue
		}
		if rec, ok := r.byName[canonical]; ok {
			rec.enabled.Store(value)
			found[i] = true
		}
	}
	return found
}

// SnapshotNames returns every registered canonical name in insertion
// order.
func (r *Registry) SnapshotNames() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ClearEnabledFlags sets every tracepoint's enabled flag to false. The
// session worker calls this on every transition out of Connected, per
// invariant I3.
func (r *Registry) ClearEnabledFlags() {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	for _, rec := range r.byName {
		rec.enabled.Store(false)
	}
}

// Poison marks the registry as unusable; subsequent IsEnabled calls
// report false regardless of state. Used when the agent detects it is in
// a degraded state it cannot recover from (spec's Fatal error class).
func (r *Registry) Poison() {
	r.poisoned.Store(true)
}
