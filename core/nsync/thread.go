package nsync

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Thread models the spawn/join primitive. A "thread" in NaviServer-Go
// is a goroutine; Spawn/Join give it the join-handle semantics
// spec.md §4.1 asks for, and recovers panics the way a native thread
// would be expected to surface a fatal diagnostic rather than take
// the whole process down silently. Primitive failures elsewhere
// (mutex/condvar/poll) are still fatal per spec.md's failure model;
// only goroutine bodies are recovered here since a worker/writer/
// poller goroutine crashing must not end the process.
type Thread struct {
	done chan struct{}
	err  any
}

// Spawn starts fn in a new goroutine and returns a join handle. It
// takes no stack size: Go goroutines grow their stacks dynamically.
func Spawn(log *logrus.Logger, name string, fn func()) *Thread {
	t := &Thread{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = r
				if log != nil {
					log.WithField("thread", name).WithField("panic", r).
						Error("recovered panic in thread")
				}
			}
		}()
		fn()
	}()
	return t
}

// Join blocks until the thread's function returns, and reports
// whether it exited via panic.
func (t *Thread) Join() (panicked bool, recovered any) {
	<-t.done
	return t.err != nil, t.err
}

// TLS is per-slot thread-local storage with a per-slot destructor run
// at thread exit, mirroring spec.md §4.1. Since Go does not expose
// true TLS, slots are keyed by goroutine via a caller-supplied key
// (typically a *Thread or a worker id) rather than implicit identity.
type TLS[K comparable, V any] struct {
	mu       sync.Mutex
	values   map[K]V
	destruct func(V)
}

// NewTLS creates a TLS table whose destructor runs when Delete(key)
// (normally invoked from the owning goroutine's deferred cleanup) is
// called.
func NewTLS[K comparable, V any](destruct func(V)) *TLS[K, V] {
	return &TLS[K, V]{values: make(map[K]V), destruct: destruct}
}

// Get returns the value stored for key and whether it was present.
func (t *TLS[K, V]) Get(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[key]
	return v, ok
}

// Set stores a value for key.
func (t *TLS[K, V]) Set(key K, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = v
}

// Delete removes key's value, running the destructor if one was
// configured, matching a thread-exit cleanup callback.
func (t *TLS[K, V]) Delete(key K) {
	t.mu.Lock()
	v, ok := t.values[key]
	delete(t.values, key)
	t.mu.Unlock()
	if ok && t.destruct != nil {
		t.destruct(v)
	}
}
