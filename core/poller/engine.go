package poller

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Proc is a registered callback. Returning false tells the engine to
// drop the registration after this invocation (its mask is cleared
// and the fd removed as soon as the callback returns), matching spec.md
// §4.2 step 2.
type Proc func(fd int, arg any, reason Reason) bool

type record struct {
	fd      int
	events  EventSet
	timeout time.Duration
	expires time.Time // zero means no expiry
	proc    Proc
	arg     any
}

type intakeOp struct {
	register bool // true = register, false = cancel
	rec      record
	// cancel-only match filters; zero values match any
	cancelProc Proc
	cancelArg  any
	hasFilter  bool
}

// Engine is the single-threaded C2 sock callback engine. External
// goroutines only ever touch the intake queue (Register/Cancel);
// every other field is owned exclusively by the loop goroutine.
type Engine struct {
	log *logrus.Logger

	mux multiplexer

	intakeMu sync.Mutex
	intake   []intakeOp
	trigger  [2]int // self-pipe: trigger[1] written to wake Wait

	active map[int]*record

	shutdownCh chan struct{}
	doneCh     chan struct{}
}

// maxPollWait bounds how long a single Wait call may block, so a
// newly-intaken registration with a near-term deadline is never
// starved for more than this long, per spec.md §4.2.
const maxPollWait = 30 * time.Second

// New creates and starts the sock callback engine's loop goroutine.
func New(log *logrus.Logger) (*Engine, error) {
	mux, err := newMultiplexer()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:        log,
		mux:        mux,
		active:     make(map[int]*record),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	fds, err := pipe2NonBlock()
	if err != nil {
		mux.Close()
		return nil, err
	}
	e.trigger = fds
	if err := e.mux.Add(e.trigger[0], EventRead); err != nil {
		mux.Close()
		return nil, err
	}

	go e.loop()
	return e, nil
}

func pipe2NonBlock() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, err
	}
	return fds, nil
}

func (e *Engine) wake() {
	var b [1]byte
	_, _ = unix.Write(e.trigger[1], b[:])
}

func (e *Engine) drainTrigger() {
	var buf [64]byte
	for {
		n, err := unix.Read(e.trigger[0], buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Register adds fd to the engine with the given interest mask and
// optional timeout (0 disables expiry). proc is invoked on the
// engine's own goroutine; it must not block.
func (e *Engine) Register(fd int, events EventSet, timeout time.Duration, proc Proc, arg any) {
	rec := record{fd: fd, events: events, timeout: timeout, proc: proc, arg: arg}
	if timeout > 0 {
		rec.expires = time.Now().Add(timeout)
	}
	e.intakeMu.Lock()
	e.intake = append(e.intake, intakeOp{register: true, rec: rec})
	e.intakeMu.Unlock()
	e.wake()
}

// Cancel requests removal of fd's registration. If hasFilter is set
// and arg is non-nil, only a record carrying that same arg is
// cancelled; proc is not compared. The
// registered proc is still invoked once more, with ReasonCancel, so
// it can free its arg, per spec.md §5.
func (e *Engine) Cancel(fd int, proc Proc, arg any, hasFilter bool) {
	e.intakeMu.Lock()
	e.intake = append(e.intake, intakeOp{
		register: false,
		rec:      record{fd: fd},
		cancelProc: proc, cancelArg: arg, hasFilter: hasFilter,
	})
	e.intakeMu.Unlock()
	e.wake()
}

// Shutdown invokes every active callback with ReasonExit and joins
// the loop goroutine, blocking at most until deadline.
func (e *Engine) Shutdown(deadline time.Time) {
	close(e.shutdownCh)
	select {
	case <-e.doneCh:
	case <-time.After(time.Until(deadline)):
		if e.log != nil {
			e.log.Warn("poller: shutdown deadline exceeded, abandoning loop goroutine")
		}
	}
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	defer e.mux.Close()

	for {
		select {
		case <-e.shutdownCh:
			e.exitAll()
			return
		default:
		}

		e.mergeIntake()

		wait := e.nextWait()
		ready, err := e.mux.Wait(wait)
		if err != nil {
			log := e.log
			if log == nil {
				log = logrus.StandardLogger()
			}
			log.WithError(err).Fatal("poller: multiplexer wait failed")
			continue
		}

		now := time.Now()
		for _, r := range ready {
			if r.fd == e.trigger[0] {
				e.drainTrigger()
				continue
			}
			rec, ok := e.active[r.fd]
			if !ok {
				continue
			}
			e.invoke(rec, r.events, now)
		}
		e.sweepExpired(now)
	}
}

func (e *Engine) invoke(rec *record, ready EventSet, now time.Time) {
	var reason Reason
	switch {
	case ready.Has(EventException):
		reason = ReasonException
	case ready.Has(EventWrite):
		reason = ReasonWritable
	default:
		reason = ReasonReadable
	}

	keep := e.safeCall(rec, reason)
	if !keep {
		e.remove(rec.fd)
		return
	}
	if rec.timeout > 0 {
		rec.expires = now.Add(rec.timeout)
	}
}

func (e *Engine) sweepExpired(now time.Time) {
	var expired []*record
	for _, rec := range e.active {
		if !rec.expires.IsZero() && now.After(rec.expires) {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		e.safeCall(rec, ReasonTimeout)
		e.remove(rec.fd)
	}
}

func (e *Engine) safeCall(rec *record, reason Reason) (keepRegistered bool) {
	defer func() {
		if r := recover(); r != nil {
			if e.log != nil {
				e.log.WithField("fd", rec.fd).WithField("panic", r).
					Error("poller: callback panicked")
			}
			keepRegistered = false
		}
	}()
	return rec.proc(rec.fd, rec.arg, reason)
}

func (e *Engine) exitAll() {
	for _, rec := range e.active {
		e.safeCall(rec, ReasonExit)
	}
	e.active = map[int]*record{}
}

func (e *Engine) remove(fd int) {
	if _, ok := e.active[fd]; ok {
		_ = e.mux.Remove(fd)
		delete(e.active, fd)
	}
}

func (e *Engine) mergeIntake() {
	e.intakeMu.Lock()
	ops := e.intake
	e.intake = nil
	e.intakeMu.Unlock()

	for _, op := range ops {
		if op.register {
			rec := op.rec
			recCopy := rec
			if existing, ok := e.active[rec.fd]; ok {
				_ = e.mux.Modify(rec.fd, rec.events)
				*existing = recCopy
				continue
			}
			if err := e.mux.Add(rec.fd, rec.events); err != nil {
				if e.log != nil {
					e.log.WithField("fd", rec.fd).WithError(err).Warn("poller: add failed")
				}
				continue
			}
			e.active[rec.fd] = &recCopy
		} else {
			rec, ok := e.active[op.rec.fd]
			if !ok {
				continue
			}
			if op.hasFilter {
				// Compare function identity is not reliable in Go;
				// arg identity is the discriminator callers use when
				// multiple registrations share an fd is not expected
				// in this engine (one fd, one record), so the filter
				// only guards against cancelling a fd that has since
				// been re-registered for a different arg.
				if op.cancelArg != nil && rec.arg != op.cancelArg {
					continue
				}
			}
			e.safeCall(rec, ReasonCancel)
			e.remove(op.rec.fd)
		}
	}
}

func (e *Engine) nextWait() time.Duration {
	wait := maxPollWait
	now := time.Now()
	for _, rec := range e.active {
		if rec.expires.IsZero() {
			continue
		}
		if d := rec.expires.Sub(now); d < wait {
			if d < 0 {
				d = 0
			}
			wait = d
		}
	}
	return wait
}
