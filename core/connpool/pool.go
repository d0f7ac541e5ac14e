package connpool

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/naviserver/core/nsync"
)

// ErrShutdown is returned by Queue once the pool has begun shutting
// down, per spec.md §4.6.
var ErrShutdown = errors.New("connpool: pool is shutting down")

// ErrQueueFull is returned by Queue when the wait queue is at
// highwatermark and the caller should apply back-pressure (503 or
// drop), per spec.md §4.6.
var ErrQueueFull = errors.New("connpool: wait queue at high watermark")

type workerState uint8

const (
	stateBusy workerState = iota
	stateIdle
)

// worker is one long-running ConnThreadArg-equivalent goroutine: its
// own condition variable (sharing the pool's lock) is how queue()
// hands it a Conn directly without going through the wait queue, per
// spec.md §4.6's "pop a worker from the free-thread queue... signal
// its per-worker condition."
type worker struct {
	cond  *nsync.CondVar
	state workerState
	conn  *Conn // set by queue() while the worker is parked
}

// Config bounds one Pool's worker policy, per spec.md §6's pool.*
// options.
type Config struct {
	MinThreads    int
	MaxThreads    int
	ThreadTimeout time.Duration
	HighWaterMark int // wait-queue depth that triggers back-pressure
	LowWaterMark  int
}

// LimitsFunc resolves the per-request limits a Conn should carry,
// matched by (method, URL) at dequeue time, per spec.md §4.6.
type LimitsFunc func(method, url string) Limits

// Pool is one named ConnPool (C6): a bounded elastic worker set
// backing a set of URL patterns, per spec.md §4.6.
type Pool struct {
	Name string

	cfg        Config
	limitsFor  LimitsFunc
	handler    func(*Conn)
	log        *logrus.Logger
	mu         *nsync.Mutex
	timings    Timings
	nextConnID uint64

	current     int
	creating    int
	shutdown    bool
	freeThreads []*worker
	waitQueue   []*Conn
	connFree    []*Conn

	// wg joins the worker fleet on Shutdown, the errgroup-based
	// shutdown join SPEC_FULL.md's domain stack wires in for C6.
	wg errgroup.Group
}

// New creates a Pool. limitsFor may be nil, in which case every Conn
// gets the zero Limits (no per-request bound). handler is invoked by
// the worker for every dequeued Conn — the routing (urlspace lookup)
// and filter chain (C5) live inside it, per spec.md §4.6's dataflow
// note that the pool itself is routing-agnostic.
func New(name string, cfg Config, limitsFor LimitsFunc, handler func(*Conn), log *logrus.Logger) *Pool {
	if cfg.MinThreads <= 0 {
		cfg.MinThreads = 1
	}
	if cfg.MaxThreads < cfg.MinThreads {
		cfg.MaxThreads = cfg.MinThreads
	}
	if cfg.ThreadTimeout <= 0 {
		cfg.ThreadTimeout = 2 * time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		Name:      name,
		cfg:       cfg,
		limitsFor: limitsFor,
		handler:   handler,
		log:       log,
		mu:        nsync.NewMutex("connpool." + name),
	}
}

// Queue builds a Conn around sock (drawing from the free-list if
// possible), then either hands it directly to a parked worker, spawns
// a new worker for it, or appends it to the wait queue, per spec.md
// §4.6's queueing discipline.
func (p *Pool) Queue(sock *Sock, now time.Time) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrShutdown
	}

	c := p.acquireConnLocked()
	c.Sock = sock
	c.Request = sock.Request
	c.Pool = p
	c.Work = p.handler
	c.AcceptTime = sock.Arrival
	c.QueueTime = now
	if p.limitsFor != nil && sock.Request != nil {
		c.Limits = p.limitsFor(sock.Request.Method, sock.Request.URL)
	}

	if n := len(p.freeThreads); n > 0 {
		w := p.freeThreads[n-1]
		p.freeThreads = p.freeThreads[:n-1]
		w.conn = c
		w.state = stateBusy
		w.cond.Signal()
		p.mu.Unlock()
		return nil
	}

	if p.current < p.cfg.MaxThreads && p.creating == 0 {
		p.creating = 1
		p.mu.Unlock()
		p.spawnWorker(c)
		return nil
	}

	if p.cfg.HighWaterMark > 0 && len(p.waitQueue) >= p.cfg.HighWaterMark {
		p.releaseConnUnlocked(c)
		p.mu.Unlock()
		return ErrQueueFull
	}
	p.waitQueue = append(p.waitQueue, c)
	p.mu.Unlock()
	return nil
}

func (p *Pool) spawnWorker(initial *Conn) {
	p.wg.Go(func() error {
		t := nsync.Spawn(p.log, p.Name+"-worker", func() {
			w := &worker{cond: nsync.NewCondVar(p.mu), state: stateBusy}

			p.mu.Lock()
			p.current++
			p.creating = 0
			p.mu.Unlock()

			p.runWorker(w, initial)
		})
		t.Join()
		return nil
	})
}

// runWorker is worker_main: execute whatever Conn it holds, then
// either take the wait queue's head, park on the free-thread queue
// until signalled or timed out, or exit, per spec.md §4.6.
func (p *Pool) runWorker(w *worker, conn *Conn) {
	for {
		conn.DequeueTime = time.Now()
		p.execute(conn)

		p.mu.Lock()
		next, ok := p.parkAndWaitLocked(w)
		if !ok {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		conn = next
	}
}

// parkAndWaitLocked finds the next Conn for w to run: the wait
// queue's head if any, otherwise it parks w on the free-thread queue
// and blocks on its condition (with a spurious-wake/hand-off-race
// retry loop) until signalled with work, timed out past
// MinThreads, or the pool shuts down. Caller holds p.mu; it is
// released across the condition wait and reacquired before
// returning. Returns ok=false when the worker should exit.
func (p *Pool) parkAndWaitLocked(w *worker) (*Conn, bool) {
	if p.shutdown {
		p.current--
		return nil, false
	}
	if n := len(p.waitQueue); n > 0 {
		conn := p.waitQueue[0]
		p.waitQueue = p.waitQueue[1:]
		w.state = stateBusy
		return conn, true
	}

	w.state = stateIdle
	w.conn = nil
	p.freeThreads = append(p.freeThreads, w)

	for {
		deadline := time.Now().Add(p.cfg.ThreadTimeout)
		err := w.cond.TimedWait(deadline)

		if w.conn != nil {
			conn := w.conn
			w.conn = nil
			w.state = stateBusy
			return conn, true
		}
		if p.shutdown {
			p.removeFreeThreadLocked(w)
			p.current--
			return nil, false
		}
		if err == nsync.ErrTimeout {
			if p.current > p.cfg.MinThreads {
				p.removeFreeThreadLocked(w)
				p.current--
				return nil, false
			}
			continue // at MinThreads floor: stay parked
		}
		// Spurious Broadcast wake (e.g. another worker's hand-off)
		// with nothing assigned to us yet: keep waiting.
	}
}

func (p *Pool) removeFreeThreadLocked(target *worker) {
	for i, w := range p.freeThreads {
		if w == target {
			p.freeThreads = append(p.freeThreads[:i], p.freeThreads[i+1:]...)
			return
		}
	}
}

// execute runs conn.Work with panic recovery (one crashing handler
// must not take its worker thread down), folds the completed Conn's
// timestamps into the pool's timing accumulators, and returns the
// Conn to the free list.
func (p *Pool) execute(c *Conn) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"pool": p.Name, "panic": r}).Error("connpool: worker recovered from panic")
		}
		p.timings.record(c, time.Now())
		p.mu.Lock()
		p.releaseConnUnlocked(c)
		p.mu.Unlock()
	}()
	if c.Work != nil {
		c.Work(c)
	}
}

// acquireConnLocked pops a reset Conn off the free list, or allocates
// a new one, per spec.md §4.6's "drawing from the free-list if any".
// Caller must hold p.mu.
func (p *Pool) acquireConnLocked() *Conn {
	if n := len(p.connFree); n > 0 {
		c := p.connFree[n-1]
		p.connFree = p.connFree[:n-1]
		return c
	}
	p.nextConnID++
	return &Conn{ID: p.nextConnID}
}

func (p *Pool) releaseConnUnlocked(c *Conn) {
	c.reset()
	p.connFree = append(p.connFree, c)
}

// Shutdown marks the pool as shutting down (workers exit after
// finishing their current Conn) and blocks until every worker has
// exited or deadline passes, per spec.md §4.6.
func (p *Pool) Shutdown(deadline time.Time) {
	p.mu.Lock()
	p.shutdown = true
	for _, w := range p.freeThreads {
		w.cond.Broadcast()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()

	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	select {
	case <-done:
	case <-time.After(d):
		p.log.WithField("pool", p.Name).Warn("connpool: shutdown deadline exceeded, workers still draining")
	}
}

// Stats reports the pool's current worker counts and accumulated
// timings, for a status handler or periodic log line.
type Stats struct {
	Current   int
	Creating  int
	Idle      int
	Waiting   int
	ShuttingDown bool
	Timings   TimingsSnapshot
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Current:      p.current,
		Creating:     p.creating,
		Idle:         len(p.freeThreads),
		Waiting:      len(p.waitQueue),
		ShuttingDown: p.shutdown,
		Timings:      p.timings.Snapshot(),
	}
}
