// Package filter implements the C5 filter/trace/cleanup chain: three
// FIFO-ordered registration lists per virtual server, run in the
// order spec.md §4.5 specifies around the request handler.
package filter

import (
	"fmt"

	"github.com/searchktools/naviserver/core/nsync"
)

// Disposition is a filter/trace/cleanup proc's return value.
type Disposition int

const (
	OK Disposition = iota
	Break
	Return
	Error
)

func (d Disposition) String() string {
	switch d {
	case OK:
		return "ok"
	case Break:
		return "break"
	case Return:
		return "return"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Phase tags a filter registration, per spec.md §3's data model.
type Phase int

const (
	PreAuth Phase = iota
	PostAuth
	Trace
)

// Matchable is the minimal surface a connection type must expose so
// registrations can be matched against it by method/URL pattern.
type Matchable interface {
	RequestMethod() string
	RequestURL() string
}

// Proc is a filter, trace, or cleanup callback.
type Proc[C Matchable] func(conn C, arg any) Disposition

type registration[C Matchable] struct {
	methodPattern string
	urlPattern    string
	phase         Phase
	proc          Proc[C]
	arg           any
}

func (r *registration[C]) matches(conn C) bool {
	return stringMatch(r.methodPattern, conn.RequestMethod()) &&
		stringMatch(r.urlPattern, conn.RequestURL())
}

// Manager holds one virtual server's filter, trace, and cleanup
// chains. It is generic over the connection type so it has no
// dependency on core/connpool's concrete Conn.
type Manager[C Matchable] struct {
	mu       *nsync.Mutex
	filters  []*registration[C] // pre-auth and post-auth, indexed by phase on run
	traces   []*registration[C]
	cleanups []*registration[C]
}

// NewManager creates an empty filter/trace/cleanup manager.
func NewManager[C Matchable]() *Manager[C] {
	return &Manager[C]{mu: nsync.NewMutex("filter-manager")}
}

// RegisterFilter adds a pre-auth or post-auth filter. first prepends
// instead of appending, per spec.md §3's "first = prepend, otherwise
// append" insertion policy.
func (m *Manager[C]) RegisterFilter(methodPattern, urlPattern string, phase Phase, proc Proc[C], arg any, first bool) {
	r := &registration[C]{methodPattern: methodPattern, urlPattern: urlPattern, phase: phase, proc: proc, arg: arg}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = insert(m.filters, r, first)
}

// RegisterTrace adds a trace filter, run after a successful response.
func (m *Manager[C]) RegisterTrace(methodPattern, urlPattern string, proc Proc[C], arg any, first bool) {
	r := &registration[C]{methodPattern: methodPattern, urlPattern: urlPattern, phase: Trace, proc: proc, arg: arg}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = insert(m.traces, r, first)
}

// RegisterCleanup adds a cleanup proc, run LIFO regardless of outcome.
func (m *Manager[C]) RegisterCleanup(methodPattern, urlPattern string, proc Proc[C], arg any, first bool) {
	r := &registration[C]{methodPattern: methodPattern, urlPattern: urlPattern, proc: proc, arg: arg}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = insert(m.cleanups, r, first)
}

func insert[C Matchable](list []*registration[C], r *registration[C], first bool) []*registration[C] {
	if first {
		return append([]*registration[C]{r}, list...)
	}
	return append(list, r)
}

func (m *Manager[C]) snapshot() (filters, traces, cleanups []*registration[C]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*registration[C](nil), m.filters...),
		append([]*registration[C](nil), m.traces...),
		append([]*registration[C](nil), m.cleanups...)
}

// Run drives the full pipeline around a single request, per spec.md
// §4.5's six-step run order: pre-auth filters, authorize, post-auth
// filters, handler, trace (only on handler success), cleanup (always,
// LIFO). authorize and handler each return a Disposition the same way
// a filter proc would; ERROR from any of them aborts with an error.
func (m *Manager[C]) Run(conn C, authorize Proc[C], authArg any, handler Proc[C], handlerArg any) (Disposition, error) {
	filters, traces, cleanups := m.snapshot()
	defer runCleanups(cleanups, conn)

	outcome, err := runPhase(filters, conn, PreAuth)
	if err != nil || outcome == Return {
		return outcome, err
	}

	switch authorize(conn, authArg) {
	case Error:
		return Error, fmt.Errorf("filter: authorization failed")
	case Return, Break:
		return Return, nil
	}

	outcome, err = runPhase(filters, conn, PostAuth)
	if err != nil || outcome == Return {
		return outcome, err
	}

	handlerResult := handler(conn, handlerArg)
	if handlerResult == Error {
		return Error, fmt.Errorf("filter: handler failed")
	}

	if handlerResult == OK || handlerResult == Break {
		runTraces(traces, conn)
	}

	return OK, nil
}

// runPhase runs every registration in phase whose pattern matches
// conn, in registration order. BREAK stops this phase's iteration but
// is reported as OK to the caller (the surrounding run order
// continues); RETURN stops the whole pipeline; ERROR propagates.
func runPhase[C Matchable](filters []*registration[C], conn C, phase Phase) (Disposition, error) {
	for _, f := range filters {
		if f.phase != phase || !f.matches(conn) {
			continue
		}
		switch f.proc(conn, f.arg) {
		case Break:
			return OK, nil
		case Return:
			return Return, nil
		case Error:
			return Error, fmt.Errorf("filter: %s filter returned ERROR", phaseName(phase))
		}
	}
	return OK, nil
}

// runTraces runs every matching trace in order. RETURN is not valid
// for trace phase and is coerced to OK, per spec.md §4.5 — a trace
// can observe but never short-circuit the trace chain.
func runTraces[C Matchable](traces []*registration[C], conn C) {
	for _, tr := range traces {
		if !tr.matches(conn) {
			continue
		}
		tr.proc(conn, tr.arg)
	}
}

// runCleanups runs every cleanup proc in LIFO registration order,
// unconditionally, per spec.md §4.5. Cleanup procs may not alter
// response content; a panicking cleanup is not recovered here —
// callers invoke Run from a goroutine that already recovers (the
// connpool worker), matching the teacher's single top-level recover
// per worker iteration.
func runCleanups[C Matchable](cleanups []*registration[C], conn C) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if !c.matches(conn) {
			continue
		}
		c.proc(conn, c.arg)
	}
}

func phaseName(p Phase) string {
	switch p {
	case PreAuth:
		return "pre-auth"
	case PostAuth:
		return "post-auth"
	case Trace:
		return "trace"
	default:
		return "unknown"
	}
}
