// Package writer implements the C8 writer and spooler background
// threads: offloading large response sends (writer.go) and large
// upload receives (spooler.go) off worker/driver goroutines. Rather
// than running a second bespoke poll loop (the teacher has none to
// ground this on — engine.go's accept loop is the only poll-driven
// code in the pack), both offload onto the shared C2 sock callback
// engine (core/poller), registering one fd per in-flight transfer and
// driving it from readiness callbacks — a direct, non-duplicating use
// of the same multiplexing primitive spec.md §4.8 says a writer
// thread must poll with.
package writer

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/naviserver/core/poller"
	"github.com/searchktools/naviserver/core/pools"
)

// ErrCancelled is reported to onDone when a transfer is cancelled
// (connection closing, server shutdown) before it completes.
var ErrCancelled = errors.New("writer: transfer cancelled")

// Sender is the driver capability a WriterSock sends through —
// spec.md §4.3's send_bufs/send_file hooks, narrowed to what the
// writer needs.
type Sender interface {
	SendBufs(bufs [][]byte) (int64, error)
}

// Source describes where a large response body's bytes come from.
// Exactly one of Buf, File, or Reader should be set.
type Source struct {
	Buf    []byte
	File   *os.File
	Reader io.Reader
	Offset int64 // starting offset into File
}

// Config bounds writer behaviour, per spec.md §6's writer.* options.
type Config struct {
	MaxSize   int64 // writer.maxsize: size threshold to take ownership
	Streaming bool  // writer.streaming: offload even below MaxSize when caller streams
	BufSize   int   // size of each pread/Read chunk
}

// Writer offloads large-response sends onto the shared poller.Engine,
// per spec.md §4.8.
type Writer struct {
	engine  *poller.Engine
	bufPool *pools.BytePool
	cfg     Config
	log     *logrus.Logger

	active atomic.Int64
}

// New creates a Writer driven by engine, using bufPool for per-
// transfer chunk buffers (SPEC_FULL.md §0: "pools/ byte/buffer pools
// backing driver reads and writer sends").
func New(engine *poller.Engine, bufPool *pools.BytePool, cfg Config, log *logrus.Logger) *Writer {
	if cfg.BufSize <= 0 {
		cfg.BufSize = 32 * 1024
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Writer{engine: engine, bufPool: bufPool, cfg: cfg, log: log}
}

type writerSock struct {
	sender Sender
	src    Source
	size   int64
	sent   int64
	buf    []byte
	onDone func(sent int64, err error)
}

// Queue inspects size/streaming against the writer's configuration;
// if it decides to take ownership it registers fd for write-readiness
// on the shared engine and returns true (onDone will eventually fire
// from the engine's goroutine). Otherwise it returns false and the
// caller must send size bytes synchronously itself, per spec.md
// §4.8's "not taken" result.
func (w *Writer) Queue(fd int, sender Sender, size int64, streaming bool, src Source, onDone func(sent int64, err error)) bool {
	if size < w.cfg.MaxSize && !(streaming && w.cfg.Streaming) {
		return false
	}

	ws := &writerSock{
		sender: sender,
		src:    src,
		size:   size,
		buf:    w.bufPool.Get(w.cfg.BufSize),
		onDone: onDone,
	}
	w.active.Add(1)
	w.engine.Register(fd, poller.EventWrite, 0, w.onWritable, ws)
	return true
}

func (w *Writer) onWritable(fd int, arg any, reason poller.Reason) bool {
	ws := arg.(*writerSock)

	if reason == poller.ReasonExit || reason == poller.ReasonCancel {
		w.finish(ws, ErrCancelled)
		return false
	}

	n, err := ws.readChunk()
	if n > 0 {
		sent, werr := ws.sender.SendBufs([][]byte{ws.buf[:n]})
		if werr != nil {
			w.finish(ws, werr)
			return false
		}
		ws.sent += sent
	}
	if err != nil && err != io.EOF {
		w.finish(ws, err)
		return false
	}
	if ws.sent >= ws.size || err == io.EOF {
		w.finish(ws, nil)
		return false
	}
	return true
}

// readChunk fills ws.buf from whichever Source field is set, honoring
// WriterSock ordering (spec.md §4.8: "writes on a given Sock stay
// in-order... no parallel writers on one socket" — a single WriterSock
// is only ever touched by the engine's one loop goroutine, so no
// locking is needed here).
func (ws *writerSock) readChunk() (int, error) {
	buf := ws.buf
	if rem := ws.size - ws.sent; rem < int64(len(buf)) {
		buf = buf[:rem]
	}
	switch {
	case ws.src.Buf != nil:
		remaining := ws.src.Buf[ws.sent:]
		if len(remaining) == 0 {
			return 0, io.EOF
		}
		n := copy(buf, remaining)
		return n, nil
	case ws.src.File != nil:
		n, err := ws.src.File.ReadAt(buf, ws.src.Offset+ws.sent)
		return n, err
	case ws.src.Reader != nil:
		return ws.src.Reader.Read(buf)
	default:
		return 0, io.EOF
	}
}

func (w *Writer) finish(ws *writerSock, err error) {
	w.active.Add(-1)
	if w.bufPool != nil {
		w.bufPool.Put(ws.buf)
	}
	if ws.onDone != nil {
		ws.onDone(ws.sent, err)
	}
}

// Active reports the number of in-flight offloaded sends, for
// diagnostics.
func (w *Writer) Active() int64 { return w.active.Load() }

// WaitIdle blocks until no offloaded sends remain in flight or ctx is
// done, whichever comes first. app.go joins this against Spooler's
// WaitIdle under one errgroup.Group during graceful shutdown, per
// spec.md §4.8's "writer/spooler thread-group shutdown".
func (w *Writer) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for w.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
