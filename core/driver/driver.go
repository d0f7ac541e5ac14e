// Package driver implements the C3 driver framework: listen-socket
// lifecycle, accept loop, per-connection Sock read-ahead, request
// parsing handoff, and the transition into a ConnPool (C6), per
// spec.md §4.3. The accept/read loop is grounded directly on the
// teacher's core/engine.go (acceptConnections/handleRead), generalized
// from the teacher's own fixed radix-router dispatch onto the C2 sock
// callback engine (core/poller) instead of the teacher's private
// 100ms-tick poll loop, and onto spec.md's ConnPool handoff instead of
// inline dispatch.
package driver

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/searchktools/naviserver/core/connpool"
	nshttp "github.com/searchktools/naviserver/core/http"
	"github.com/searchktools/naviserver/core/poller"
	"github.com/searchktools/naviserver/core/pools"
	"github.com/searchktools/naviserver/core/writer"
)

// Limits bounds one driver's accept/read-ahead behaviour, per
// spec.md §6's driver.* options.
type Limits struct {
	MaxInput            int64
	MaxUpload           int64 // spool-to-file threshold
	ReadAhead           int   // in-memory request buffer cap
	KeepWait            time.Duration
	SendWait            time.Duration
	RecvWait            time.Duration
	KeepMaxDownloadSize int64
	KeepMaxUploadSize   int64

	Parse nshttp.Limits
}

// PoolSelector maps a parsed request onto the ConnPool it should be
// queued on, the router-driven pool assignment spec.md §4.6 alludes
// to ("the router may map (method, URL-pattern) to a particular
// pool").
type PoolSelector func(method, url string) *connpool.Pool

// Driver owns one listen socket and its accept/read-ahead loop.
type Driver struct {
	Name   string
	Limits Limits

	engine   *poller.Engine
	bytePool *pools.BytePool
	spooler  *writer.Spooler
	selectPool PoolSelector
	log      *logrus.Logger

	listener *net.TCPListener
	listenFD int

	nextConnID uint64
}

// New creates a Driver. engine is the shared C2 sock callback engine;
// spooler (optional) handles uploads exceeding Limits.MaxUpload.
func New(name string, limits Limits, engine *poller.Engine, bytePool *pools.BytePool, spooler *writer.Spooler, selectPool PoolSelector, log *logrus.Logger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if limits.ReadAhead <= 0 {
		limits.ReadAhead = 1 << 20
	}
	return &Driver{
		Name:       name,
		Limits:     limits,
		engine:     engine,
		bytePool:   bytePool,
		spooler:    spooler,
		selectPool: selectPool,
		log:        log,
	}
}

// Listen opens addr and registers the listen socket with the sock
// callback engine for accept readiness.
func (d *Driver) Listen(addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return err
	}
	d.listener = ln

	f, err := ln.File()
	if err != nil {
		ln.Close()
		return err
	}
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		f.Close()
		ln.Close()
		return err
	}
	d.listenFD = fd

	d.engine.Register(fd, poller.EventRead, 0, d.onAcceptable, nil)
	d.log.WithFields(logrus.Fields{"driver": d.Name, "addr": addr}).Info("driver listening")
	return nil
}

// Close stops accepting and releases the listen socket.
func (d *Driver) Close() error {
	d.engine.Cancel(d.listenFD, nil, nil, false)
	if d.listener != nil {
		return d.listener.Close()
	}
	return nil
}

func (d *Driver) onAcceptable(fd int, _ any, reason poller.Reason) bool {
	if reason == poller.ReasonExit || reason == poller.ReasonCancel {
		return false
	}
	for {
		nfd, sa, err := unix.Accept(fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return true
			}
			d.log.WithError(err).Warn("driver: accept failed")
			return true
		}
		_ = unix.SetNonblock(nfd, true)
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		sock := &connpool.Sock{
			FD:         nfd,
			RemoteAddr: remoteAddrString(sa),
			Driver:     d.Name,
			Arrival:    time.Now(),
			State:      connpool.SockReading,
		}
		d.beginReadAhead(sock)
	}
}

func remoteAddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}

// readState tracks one Sock's in-progress read-ahead, threading
// through however many readable events it takes to see a full
// request line, header block, and body, per spec.md §3's "Request...
// free-list pool" and chunked decode offsets.
type readState struct {
	sock      *connpool.Sock
	buf       []byte
	offset    int
	req       *nshttp.Request
	bodyStart int
	continueSent bool
}

func (d *Driver) beginReadAhead(sock *connpool.Sock) {
	st := &readState{sock: sock, buf: d.bytePool.Get(4096)}
	d.engine.Register(sock.FD, poller.EventRead, d.Limits.RecvWait, d.onReadable, st)
}

// Resume re-registers sock for another request's read-ahead after a
// keep-alive response completes, per spec.md §4.3.
func (d *Driver) Resume(sock *connpool.Sock) {
	sock.State = connpool.SockReading
	sock.Request = nil
	d.beginReadAhead(sock)
}

// CloseSock tears down sock: removes it from the engine, closes the
// fd, and unlinks any spool file per spec.md §3's Sock lifecycle.
func (d *Driver) CloseSock(sock *connpool.Sock) {
	d.engine.Cancel(sock.FD, nil, nil, false)
	unix.Close(sock.FD)
	if sock.SpoolPath != "" {
		_ = removeFile(sock.SpoolPath)
	}
}

func (d *Driver) onReadable(fd int, arg any, reason poller.Reason) bool {
	st := arg.(*readState)

	if reason == poller.ReasonTimeout || reason == poller.ReasonExit || reason == poller.ReasonCancel {
		d.abort(st)
		return false
	}

	if st.offset >= len(st.buf) {
		if !d.grow(st) {
			d.respondAndClose(st, 400, "Exceeded maximum input size")
			return false
		}
	}

	n, err := unix.Read(fd, st.buf[st.offset:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		d.abort(st)
		return false
	}
	if n == 0 {
		d.abort(st)
		return false
	}
	st.offset += n

	if st.req == nil {
		return d.parseHead(st)
	}
	return d.parseBody(st)
}

func (d *Driver) parseHead(st *readState) bool {
	req, consumed, err := nshttp.ParseHead(st.buf[:st.offset], d.Limits.Parse)
	switch err {
	case nil:
		st.req = req
		st.bodyStart = consumed
		if req.Expect100 && !st.continueSent {
			st.continueSent = true
			unix.Write(st.sock.FD, []byte("HTTP/1.1 100 Continue\r\n\r\n"))
		}
		return d.parseBody(st)
	case nshttp.ErrIncomplete:
		return true
	case nshttp.ErrEntityTooLarge:
		d.respondAndClose(st, 400, "Exceeded maximum input size")
		return false
	default:
		d.respondAndClose(st, 400, "Bad Request")
		return false
	}
}

func (d *Driver) parseBody(st *readState) bool {
	req := st.req

	if req.Chunked {
		done, err := nshttp.DecodeChunk(req, st.buf[st.bodyStart:st.offset], d.Limits.Parse)
		if err != nil {
			d.respondAndClose(st, 400, "Bad Request")
			return false
		}
		if !done {
			return true
		}
		d.dispatch(st)
		return false
	}

	if req.ContentLength <= 0 {
		d.dispatch(st)
		return false
	}

	if req.ContentLength > d.Limits.MaxUpload && d.spooler != nil {
		d.handOffToSpooler(st)
		return false
	}

	avail := int64(st.offset - st.bodyStart)
	if avail >= req.ContentLength {
		req.Body = append(req.Body[:0], st.buf[st.bodyStart:st.bodyStart+int(req.ContentLength)]...)
		d.dispatch(st)
		return false
	}
	return true
}

// grow doubles st.buf, clamping the new size to Limits.ReadAhead; it
// returns false only when st.buf is already at that cap.
func (d *Driver) grow(st *readState) bool {
	newSize := len(st.buf) * 2
	if newSize > d.Limits.ReadAhead {
		if len(st.buf) >= d.Limits.ReadAhead {
			return false
		}
		newSize = d.Limits.ReadAhead
	}
	grown := make([]byte, newSize)
	copy(grown, st.buf[:st.offset])
	d.bytePool.Put(st.buf)
	st.buf = grown
	return true
}

// handOffToSpooler moves an oversized upload off the driver's own
// read-ahead path and onto the shared spooler (C8), per spec.md
// §4.8's "long uploads... are pushed to a spooler which streams them
// to a temp file". Bytes already read into st.buf are written to the
// spool file first so nothing already received is lost.
func (d *Driver) handOffToSpooler(st *readState) {
	req := st.req
	alreadyHave := append([]byte(nil), st.buf[st.bodyStart:st.offset]...)
	remaining := req.ContentLength - int64(len(alreadyHave))

	d.engine.Cancel(st.sock.FD, d.onReadable, st, true)
	d.bytePool.Put(st.buf)

	tmp, err := os.CreateTemp("", "naviserver-upload-*")
	if err != nil {
		d.log.WithError(err).Warn("driver: spool tempfile create failed")
		unix.Close(st.sock.FD)
		return
	}
	if len(alreadyHave) > 0 {
		if _, err := tmp.Write(alreadyHave); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			unix.Close(st.sock.FD)
			return
		}
	}
	tmp.Close()

	if remaining <= 0 {
		d.finishSpool(st, tmp.Name())
		return
	}

	err = d.spooler.Queue(st.sock.FD, rawConn{fd: st.sock.FD}, remaining, func(partial *os.File, serr error) {
		if serr != nil {
			d.log.WithError(serr).Warn("driver: spool failed")
			os.Remove(tmp.Name())
			unix.Close(st.sock.FD)
			return
		}
		defer partial.Close()
		out, err := os.OpenFile(tmp.Name(), os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			os.Remove(tmp.Name())
			unix.Close(st.sock.FD)
			return
		}
		_, _ = io.Copy(out, partial)
		out.Close()
		os.Remove(partial.Name())
		d.finishSpool(st, tmp.Name())
	})
	if err != nil {
		d.log.WithError(err).Warn("driver: spooler queue failed")
		os.Remove(tmp.Name())
		unix.Close(st.sock.FD)
	}
}

func (d *Driver) finishSpool(st *readState, path string) {
	st.sock.SpoolPath = path
	st.req.Body = nil
	d.enqueue(st.sock, st.req)
}

// rawConn adapts a raw nonblocking fd to writer.Sender/writer.Receiver
// for the writer/spooler packages, which only know about those
// narrow capabilities, per spec.md §4.3's send_bufs/recv_bufs hooks.
type rawConn struct{ fd int }

func (r rawConn) SendBufs(bufs [][]byte) (int64, error) {
	var total int64
	for _, b := range bufs {
		for len(b) > 0 {
			n, err := unix.Write(r.fd, b)
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
					continue
				}
				return total, err
			}
			total += int64(n)
			b = b[n:]
		}
	}
	return total, nil
}

func (r rawConn) RecvBufs(buf []byte) (int, error) {
	n, err := unix.Read(r.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// NewSender adapts fd to a writer.Sender, for callers (app.go's
// response dispatch) that need to hand a raw connected socket to the
// C8 writer without duplicating rawConn's Write/EAGAIN retry loop.
func NewSender(fd int) writer.Sender { return rawConn{fd: fd} }

// NewReceiver adapts fd to a writer.Receiver, for callers that need to
// queue a socket onto the C8 spooler directly (outside the driver's
// own handOffToSpooler path).
func NewReceiver(fd int) writer.Receiver { return rawConn{fd: fd} }

// dispatch finalises a fully-parsed request and queues it onto the
// pool selectPool resolves for (method, URL), per spec.md §4.6's
// "driver enqueues a new Conn onto the matching ConnPool."
func (d *Driver) dispatch(st *readState) {
	d.bytePool.Put(st.buf)
	d.enqueue(st.sock, st.req)
}

func (d *Driver) enqueue(sock *connpool.Sock, req *nshttp.Request) {
	sock.Request = req
	sock.State = connpool.SockReady

	pool := d.selectPool(req.Method, req.URL)
	if pool == nil {
		d.log.WithFields(logrus.Fields{"method": req.Method, "url": req.URL}).Warn("driver: no pool selected, dropping connection")
		unix.Close(sock.FD)
		return
	}
	if err := pool.Queue(sock, time.Now()); err != nil {
		d.log.WithError(err).Warn("driver: pool queue failed")
		unix.Close(sock.FD)
	}
}

// abort tears down a read-ahead in progress: a peer that disconnects
// or a request that never completes within RecvWait is simply closed,
// matching spec.md §5's "no half-read requests survive past timeout."
func (d *Driver) abort(st *readState) {
	d.bytePool.Put(st.buf)
	unix.Close(st.sock.FD)
}

// respondAndClose writes a minimal bodiless error response (status
// line, Connection: close, Content-Length: 0) directly (no Conn/Pipeline exists yet at this stage of read-ahead)
// and closes the socket, per spec.md §7's "a request that fails
// parsing gets a bare 4xx and the connection is closed, never kept
// alive."
func (d *Driver) respondAndClose(st *readState, status int, reason string) {
	d.bytePool.Put(st.buf)
	msg := fmt.Sprintf("HTTP/1.1 %d %s\r\nConnection: close\r\nContent-Length: 0\r\n\r\n", status, reason)
	unix.Write(st.sock.FD, []byte(msg))
	unix.Close(st.sock.FD)
}

func removeFile(path string) error { return os.Remove(path) }
