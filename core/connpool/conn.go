// Package connpool implements the C6 connection pools and scheduler:
// a generic worker-pool-per-named-route abstraction with a bounded
// wait queue, a free-thread queue, and the worker state machine
// spec.md §4.6 specifies.
package connpool

import (
	"time"

	nshttp "github.com/searchktools/naviserver/core/http"
)

// SockState mirrors the flags spec.md §3 lists for a Sock.
type SockState uint8

const (
	SockReading SockState = 1 << iota
	SockReady
	SockKeepAlive
	SockCorked
	SockClosing
)

// Sock is the transport handle a Conn rides in on: one per accepted
// TCP connection, owned by the driver during read-ahead and handed
// off to a ConnPool once the request is fully parsed, per spec.md §3.
type Sock struct {
	FD         int
	RemoteAddr string
	Driver     string
	Arrival    time.Time
	State      SockState

	Request *nshttp.Request

	// SpoolPath/SpoolMap hold the details of an oversized upload
	// spilled to a temp file, per spec.md §4.3.
	SpoolPath string
	SpoolMap  []byte
}

// Limits bounds one Conn's execution, attached by matching
// (method, URL) at dequeue time, per spec.md §4.6.
type Limits struct {
	MaxRun     time.Duration
	MaxWait    time.Duration
	Timeout    time.Duration
	MaxUpload  int64
}

// Conn is one in-flight request, per spec.md §3.
type Conn struct {
	ID      uint64
	Sock    *Sock
	Request *nshttp.Request
	Pool    *Pool
	Limits  Limits

	AcceptTime     time.Time
	QueueTime      time.Time
	DequeueTime    time.Time
	FilterDoneTime time.Time

	Status        int
	ResponseLen   int64
	BytesSent     int64
	OutputHeaders nshttp.Headers
	Encoding      string
	KeepAlive     bool

	// Streaming is set once a handler calls WriteData/WriteChars with
	// the streaming flag (NS_CONN_STREAM): the response stays open for
	// further writes instead of being closed after one buffered flush,
	// per spec.md §4.7.
	Streaming bool
	// HeadersSent is true once the status line and headers have been
	// written to the wire — a parse/handler error after this point can
	// no longer be turned into a fresh error response (spec.md §7).
	HeadersSent bool

	// respBuf accumulates non-streaming WriteData/WriteChars output
	// until the handler returns, per spec.md §4.7's "non-streaming
	// writes may be buffered and flushed on close".
	respBuf []byte

	// Work is the handler the driver/engine assigned at queue time —
	// routing (urlspace lookup) and the filter chain (C5) have
	// already run, or run as part of this call, depending on how the
	// caller wired them; the pool itself is routing-agnostic.
	Work func(*Conn)

	locals map[string]any
}

// RequestMethod implements filter.Matchable.
func (c *Conn) RequestMethod() string {
	if c.Request == nil {
		return ""
	}
	return c.Request.Method
}

// RequestURL implements filter.Matchable.
func (c *Conn) RequestURL() string {
	if c.Request == nil {
		return ""
	}
	return c.Request.URL
}

// Local gets a per-connection local storage slot, per spec.md §3's
// "per-connection local storage slots".
func (c *Conn) Local(key string) (any, bool) {
	v, ok := c.locals[key]
	return v, ok
}

// SetLocal sets a per-connection local storage slot.
func (c *Conn) SetLocal(key string, v any) {
	if c.locals == nil {
		c.locals = make(map[string]any)
	}
	c.locals[key] = v
}

// AppendBody appends to the Conn's buffered (non-streaming) response
// body, per spec.md §4.7.
func (c *Conn) AppendBody(b []byte) { c.respBuf = append(c.respBuf, b...) }

// Body returns the Conn's buffered response body accumulated so far.
func (c *Conn) Body() []byte { return c.respBuf }

// reset clears a Conn for free-list reuse.
func (c *Conn) reset() {
	c.Sock = nil
	c.Request = nil
	c.Limits = Limits{}
	c.AcceptTime = time.Time{}
	c.QueueTime = time.Time{}
	c.DequeueTime = time.Time{}
	c.FilterDoneTime = time.Time{}
	c.Status = 0
	c.ResponseLen = 0
	c.BytesSent = 0
	c.OutputHeaders.Reset()
	c.Encoding = ""
	c.KeepAlive = false
	c.Streaming = false
	c.HeadersSent = false
	c.respBuf = c.respBuf[:0]
	c.Work = nil
	for k := range c.locals {
		delete(c.locals, k)
	}
}
