// Package arena implements a bump-allocated, offset-addressed memory
// region suitable for placement in a shared-memory segment mapped by
// multiple cooperating processes at different virtual addresses.
//
// Every allocation from an Arena is returned as an Offset rather than a
// pointer. Offsets remain valid across processes that map the same
// underlying region at different base addresses; pointers do not.
package arena

import (
	"sync/atomic"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// highWaterMark tracks the largest Used value ever reached by any
// Arena, by name. Registered once at package scope: a process may
// build more than one Arena (one per RAM tier, one per test), and a
// second promauto call under the same metric name would panic on
// duplicate registration.
var highWaterMark = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "hermes_arena_high_water_mark_bytes",
	Help: "Largest number of bytes ever bumped out of an Arena.",
}, []string{"arena"})

// Offset is a byte offset from the base of an Arena's backing store.
// The first Push on an empty Arena returns Offset 0, so zero is an
// ordinary offset, not a null sentinel.
type Offset uint64

// ErrorHandler is invoked when an Arena cannot satisfy an allocation.
// Arena exhaustion is a fatal, unrecoverable condition, so handlers are
// expected not to return.
type ErrorHandler func(requested, remaining int)

// Arena is a monotonic bump allocator over a fixed-size backing slice.
// Freeing individual allocations is not supported; the only way to
// reclaim space is to reset the whole Arena (Reset) or to release a
// Scope opened with Begin.
//
// Arena is safe for concurrent use by multiple goroutines (and, when
// its Bytes are placed in a shared-memory mapping, by multiple
// processes) via a single atomic bump pointer.
type Arena struct {
	buf          []byte
	used         uint64 // atomic
	highWater    uint64 // atomic
	ErrorHandler ErrorHandler
	name         string
}

// New creates an Arena backed by a freshly allocated slice of the given
// capacity. For an Arena that is meant to live in a POSIX shared-memory
// segment, callers should instead construct one over a slice obtained
// from mmap and pass it to NewFromBytes.
func New(name string, capacity int) *Arena {
	return NewFromBytes(name, make([]byte, capacity))
}

// NewFromBytes wraps an existing byte slice (e.g. one backed by a
// shared-memory mapping) as an Arena.
func NewFromBytes(name string, buf []byte) *Arena {
	return &Arena{buf: buf, name: name}
}

// Capacity returns the total size of the Arena's backing store.
func (a *Arena) Capacity() int { return len(a.buf) }

// Used returns the number of bytes bumped out of the Arena so far.
func (a *Arena) Used() uint64 { return atomic.LoadUint64(&a.used) }

// Remaining returns the number of unallocated bytes left in the Arena.
func (a *Arena) Remaining() int { return len(a.buf) - int(a.Used()) }

// Push reserves n bytes, 8-byte aligned, and returns their Offset. It
// calls the Arena's ErrorHandler (defaulting to a fatal log) if the
// Arena cannot satisfy the request.
func (a *Arena) Push(n int) Offset {
	if n < 0 {
		log.Fatalf("arena %s: negative push size %d", a.name, n)
	}
	aligned := align8(n)
	for {
		cur := atomic.LoadUint64(&a.used)
		next := cur + uint64(aligned)
		if int(next) > len(a.buf) {
			if a.ErrorHandler != nil {
				a.ErrorHandler(n, a.Remaining())
				// ErrorHandler is documented not to return, but if it
				// does, keep retrying rather than corrupt state.
				continue
			}
			log.Fatalf("arena %s exhausted: requested %d, %d remaining of %d",
				a.name, n, a.Remaining(), len(a.buf))
		}
		if atomic.CompareAndSwapUint64(&a.used, cur, next) {
			a.bumpHighWater(next)
			return Offset(cur)
		}
	}
}

func (a *Arena) bumpHighWater(used uint64) {
	for {
		cur := atomic.LoadUint64(&a.highWater)
		if used <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&a.highWater, cur, used) {
			highWaterMark.WithLabelValues(a.name).Set(float64(used))
			return
		}
	}
}

// PushCleared reserves n bytes like Push, zeroing them first.
func (a *Arena) PushCleared(n int) Offset {
	off := a.Push(n)
	b := a.Bytes(off, n)
	for i := range b {
		b[i] = 0
	}
	return off
}

// Bytes returns the n-byte slice at the given Offset. The returned
// slice aliases the Arena's backing store.
func (a *Arena) Bytes(off Offset, n int) []byte {
	return a.buf[off : int(off)+n]
}

// Reset rewinds the bump pointer to zero. Callers must guarantee no
// other goroutine or process holds a live Offset into this Arena when
// Reset is called.
func (a *Arena) Reset() {
	atomic.StoreUint64(&a.used, 0)
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// Scope is a transient, bounded acquisition of Arena space for
// building a variable-length structure (e.g. a buffer-id list) before
// it is copied out to a caller-owned buffer. Unlike the rest of the
// Arena, a Scope's space is reclaimed on Release, so Scopes must be
// nested LIFO and must not outlive an intervening Push on the parent
// Arena from another Scope.
type Scope struct {
	arena     *Arena
	savedUsed uint64
	closed    bool
}

// Begin opens a Scope over a. The caller must call Release exactly
// once, typically via defer.
func (a *Arena) Begin() *Scope {
	return &Scope{arena: a, savedUsed: atomic.LoadUint64(&a.used)}
}

// Push allocates n bytes within the Scope's parent Arena.
func (s *Scope) Push(n int) Offset {
	if s.closed {
		log.Fatalf("arena %s: push on released scope", s.arena.name)
	}
	return s.arena.Push(n)
}

// Bytes returns the byte slice for an Offset allocated through this
// Scope (or its parent Arena).
func (s *Scope) Bytes(off Offset, n int) []byte {
	return s.arena.Bytes(off, n)
}

// Release returns the Scope's space to the parent Arena. It is only
// safe to call when no other Scope or direct Push has interleaved with
// this Scope's allocations, i.e. Scopes are used LIFO.
func (s *Scope) Release() {
	if s.closed {
		return
	}
	s.closed = true
	atomic.StoreUint64(&s.arena.used, s.savedUsed)
}
