// Package nsync provides the primitive synchronization layer (C1):
// mutexes with contention accounting, condition variables with
// absolute-deadline timed waits, thread spawn/join, and thread-local
// storage. The long-lived shared structures (ConnPool, the urlspace
// Router, the filter chains, the named-resource pool) build on these
// instead of sync.Mutex, so that wait-time statistics are available
// for them uniformly.
package nsync

import (
	"sync"
	"sync/atomic"
	"time"
)

// Mutex wraps sync.Mutex with a name and contention statistics.
// Every acquisition counts toward nlock; only the slow path (TryLock
// failing) updates the busy count and the wait times.
type Mutex struct {
	name string
	mu   sync.Mutex

	nlock      atomic.Uint64
	nbusy      atomic.Uint64
	totalWait  atomic.Int64 // nanoseconds
	maxWait    atomic.Int64 // nanoseconds
}

// NewMutex creates a named mutex.
func NewMutex(name string) *Mutex {
	return &Mutex{name: name}
}

// Name returns the mutex's diagnostic name.
func (m *Mutex) Name() string { return m.name }

// Lock acquires the mutex, recording wait time only when contended.
func (m *Mutex) Lock() {
	m.nlock.Add(1)
	if m.mu.TryLock() {
		return
	}
	m.nbusy.Add(1)
	start := time.Now()
	m.mu.Lock()
	waited := time.Since(start).Nanoseconds()
	m.totalWait.Add(waited)
	for {
		prevMax := m.maxWait.Load()
		if waited <= prevMax || m.maxWait.CompareAndSwap(prevMax, waited) {
			break
		}
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	m.nlock.Add(1)
	ok := m.mu.TryLock()
	if !ok {
		m.nbusy.Add(1)
	}
	return ok
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() { m.mu.Unlock() }

// Stats is a snapshot of contention counters for one mutex.
type Stats struct {
	Name        string
	NLock       uint64
	NBusy       uint64
	TotalWait   time.Duration
	MaxWait     time.Duration
}

// Stats returns a snapshot of this mutex's contention counters.
func (m *Mutex) Stats() Stats {
	return Stats{
		Name:      m.name,
		NLock:     m.nlock.Load(),
		NBusy:     m.nbusy.Load(),
		TotalWait: time.Duration(m.totalWait.Load()),
		MaxWait:   time.Duration(m.maxWait.Load()),
	}
}

// RWMutex wraps sync.RWMutex the same way, for structures spec.md
// allows a reader/writer split on (urlspace reads are frequent).
type RWMutex struct {
	name string
	mu   sync.RWMutex

	nlock     atomic.Uint64
	nbusy     atomic.Uint64
	totalWait atomic.Int64
	maxWait   atomic.Int64
}

// NewRWMutex creates a named reader/writer mutex.
func NewRWMutex(name string) *RWMutex {
	return &RWMutex{name: name}
}

func (m *RWMutex) Lock() {
	m.nlock.Add(1)
	start := time.Now()
	m.mu.Lock()
	if waited := time.Since(start); waited > 0 {
		m.nbusy.Add(1)
		m.recordWait(waited.Nanoseconds())
	}
}

func (m *RWMutex) Unlock() { m.mu.Unlock() }

func (m *RWMutex) RLock() {
	m.nlock.Add(1)
	start := time.Now()
	m.mu.RLock()
	if waited := time.Since(start); waited > 0 {
		m.nbusy.Add(1)
		m.recordWait(waited.Nanoseconds())
	}
}

func (m *RWMutex) RUnlock() { m.mu.RUnlock() }

func (m *RWMutex) recordWait(waited int64) {
	m.totalWait.Add(waited)
	for {
		prevMax := m.maxWait.Load()
		if waited <= prevMax || m.maxWait.CompareAndSwap(prevMax, waited) {
			break
		}
	}
}

// Stats returns a snapshot of this rwmutex's contention counters.
func (m *RWMutex) Stats() Stats {
	return Stats{
		Name:      m.name,
		NLock:     m.nlock.Load(),
		NBusy:     m.nbusy.Load(),
		TotalWait: time.Duration(m.totalWait.Load()),
		MaxWait:   time.Duration(m.maxWait.Load()),
	}
}
