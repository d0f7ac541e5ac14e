// Package respool implements the C9 generic named-resource pool: the
// bounded pattern the DB-handle pool (core/dbpool) instantiates
// (core/jobqueue follows the same shape without using this package).
// A fixed number of handles are created once; Get/Put cycle them
// through a connected-first free list with serialized waiting,
// deadline timeouts, staleness eviction, and thread-ownership deadlock
// prevention, per spec.md §4.9. One Get is served at a time; the order
// in which blocked Get callers are admitted is not defined (it is not
// FIFO).
package respool

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/naviserver/core/nsync"
)

// Errors returned by Get.
var (
	ErrTimeout      = errors.New("respool: deadline expired waiting for a handle")
	ErrInvalidCount = errors.New("respool: requested handle count exceeds pool capacity")
	ErrAlreadyOwned = errors.New("respool: caller already holds a handle from this pool")
)

// Factory creates a new underlying handle (a DB connection, a worker
// context, ...).
type Factory[H any] func() (H, error)

// Closer releases a handle's underlying resource.
type Closer[H any] func(H)

type entry[H any] struct {
	handle    H
	otime     time.Time // time this handle was created ("opened")
	atime     time.Time // time this handle was last returned to the pool
	connected bool
	epoch     uint64
}

// Pool is one named, bounded, fixed-capacity resource pool.
type Pool[H any] struct {
	Name        string
	Description string

	log *logrus.Logger

	mu         *nsync.Mutex
	waiterCond *nsync.CondVar // serializes multi-handle Get callers
	getterCond *nsync.CondVar // signalled by Put / sweep

	factory Factory[H]
	closer  Closer[H]

	nhandles int
	free     []*entry[H] // connected-first, disconnected-last
	out      []*entry[H] // handed out by Get, matched back up by Put
	epoch    uint64       // bumped by Bounce; stale handles carry the prior value

	maxIdle time.Duration
	maxOpen time.Duration

	waiting bool
	closed  bool

	ownership *nsync.TLS[any, int]
}

// Config bounds and ages a Pool, per spec.md §6's pools.* options.
type Config struct {
	NHandles int
	MaxIdle  time.Duration
	MaxOpen  time.Duration
}

// New creates a pool of cfg.NHandles handles, all built eagerly via
// factory so capacity never needs an on-demand open on the hot Get
// path.
func New[H any](name, description string, cfg Config, factory Factory[H], closer Closer[H], log *logrus.Logger) (*Pool[H], error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Pool[H]{
		Name:        name,
		Description: description,
		log:         log,
		factory:     factory,
		closer:      closer,
		nhandles:    cfg.NHandles,
		maxIdle:     cfg.MaxIdle,
		maxOpen:     cfg.MaxOpen,
		ownership:   nsync.NewTLS[any, int](nil),
	}
	p.mu = nsync.NewMutex("respool." + name)
	p.waiterCond = nsync.NewCondVar(p.mu)
	p.getterCond = nsync.NewCondVar(p.mu)

	now := time.Now()
	for i := 0; i < cfg.NHandles; i++ {
		h, err := factory()
		if err != nil {
			return nil, err
		}
		p.free = append(p.free, &entry[H]{handle: h, otime: now, atime: now, connected: true})
	}
	return p, nil
}

// Get atomically acquires n handles from the pool, waiting (subject
// to deadline) for enough to become free. It never returns a partial
// set: on timeout it returns ErrTimeout and zero handles, per spec.md
// §8's invariant #6.
func (p *Pool[H]) Get(owner any, n int, deadline time.Time) ([]H, error) {
	if n > p.nhandles {
		return nil, ErrInvalidCount
	}
	if owner != nil {
		if cnt, ok := p.ownership.Get(owner); ok && cnt > 0 {
			return nil, ErrAlreadyOwned
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.waiting {
		if err := p.waiterCond.TimedWait(deadline); err != nil {
			return nil, ErrTimeout
		}
	}
	p.waiting = true
	defer func() {
		p.waiting = false
		p.waiterCond.Signal()
	}()

	var got []*entry[H]
	defer func() {
		// On any early return without success, put back whatever was
		// claimed so a partial acquisition never leaks handles.
		for _, e := range got {
			p.pushFreeLocked(e)
		}
	}()

	for len(got) < n {
		e, ok := p.popFreeLocked()
		if !ok {
			if err := p.getterCond.TimedWait(deadline); err != nil {
				return nil, ErrTimeout
			}
			continue
		}
		p.refreshLocked(e)
		got = append(got, e)
	}

	handles := make([]H, n)
	now := time.Now()
	claimed := got
	got = nil // prevent the deferred release from undoing a success
	for i, e := range claimed {
		e.atime = now
		handles[i] = e.handle
	}
	p.out = append(p.out, claimed...)
	if owner != nil {
		p.ownership.Set(owner, n)
	}
	return handles, nil
}

// Put returns a handle to the pool: stale handles (past maxIdle/
// maxOpen, or carrying a superseded epoch) are closed and replaced
// with a freshly-factoried one so capacity never shrinks; live
// handles go to the head of the free list (connected-first) to
// maximise reuse of warm handles.
func (p *Pool[H]) Put(owner any, h H) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := &entry[H]{handle: h, connected: true, atime: time.Now()}
	e.epoch = p.epoch
	e.otime = e.atime
	// A handle handed out by Get (matched with ==) keeps its own open
	// time and epoch, so a Bounce or maxOpen expiry makes it stale here.
	for i, o := range p.out {
		if any(o.handle) == any(h) {
			o.atime = e.atime
			e, p.out = o, append(p.out[:i], p.out[i+1:]...)
			break
		}
	}

	switch {
	case p.closed:
		if p.closer != nil {
			p.closer(e.handle)
		}
	case p.isStaleLocked(e):
		p.closeAndReplaceLocked(e)
	default:
		p.pushFreeLocked(e)
	}

	if owner != nil {
		if cnt, ok := p.ownership.Get(owner); ok {
			if cnt <= 1 {
				p.ownership.Delete(owner)
			} else {
				p.ownership.Set(owner, cnt-1)
			}
		}
	}
	p.getterCond.Signal()
}

// Bounce marks every handle stale by bumping the pool epoch rather
// than closing anything immediately: free handles are closed and
// replaced when Get next hands them out or Sweep visits them, and
// handles checked out at the time are closed when they are Put back.
func (p *Pool[H]) Bounce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	for _, e := range p.free {
		e.epoch = p.epoch - 1
	}
}

// Sweep is the periodic sweeper callback (spec.md §4.9): it walks the
// free list and forcibly closes+replaces handles that are idle-stale,
// so idle-but-expired handles don't linger warm.
func (p *Pool[H]) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.free {
		if p.isStaleLocked(e) {
			p.free[i] = p.replaceLocked(e)
		}
	}
}

func (p *Pool[H]) isStaleLocked(e *entry[H]) bool {
	now := time.Now()
	if e.epoch != p.epoch {
		return true
	}
	if p.maxIdle > 0 && now.Sub(e.atime) > p.maxIdle {
		return true
	}
	if p.maxOpen > 0 && now.Sub(e.otime) > p.maxOpen {
		return true
	}
	return false
}

func (p *Pool[H]) closeAndReplaceLocked(e *entry[H]) {
	p.pushFreeLocked(p.replaceLocked(e))
}

func (p *Pool[H]) replaceLocked(e *entry[H]) *entry[H] {
	if p.closer != nil {
		p.closer(e.handle)
	}
	e.connected = false
	h, err := p.factory()
	if err != nil {
		p.log.WithField("pool", p.Name).WithError(err).
			Error("respool: failed to recreate handle after stale eviction")
		return e // degrade to keeping the stale handle rather than shrinking capacity
	}
	now := time.Now()
	return &entry[H]{handle: h, otime: now, atime: now, connected: true, epoch: p.epoch}
}

// pushFreeLocked inserts e at the head (connected) or tail
// (disconnected) of the free list, per spec.md §3's "connected-first/
// disconnected-last insertion".
func (p *Pool[H]) pushFreeLocked(e *entry[H]) {
	if e.connected {
		p.free = append([]*entry[H]{e}, p.free...)
	} else {
		p.free = append(p.free, e)
	}
}

func (p *Pool[H]) popFreeLocked() (*entry[H], bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	e := p.free[0]
	p.free = p.free[1:]
	return e, true
}

func (p *Pool[H]) refreshLocked(e *entry[H]) {
	if p.isStaleLocked(e) {
		*e = *p.replaceLocked(e)
	}
}

// Len reports how many handles currently sit in the free list.
func (p *Pool[H]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close drains the free list through Closer, closing every idle
// handle, and marks the pool closed so any handle still checked out
// is closed rather than recycled when it's eventually Put back. It
// does not wait for in-flight handles to return; callers that need
// that guarantee should drain the pool (Get/Put to completion) before
// calling Close.
func (p *Pool[H]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.closer != nil {
		for _, e := range p.free {
			p.closer(e.handle)
		}
	}
	p.free = nil
}
