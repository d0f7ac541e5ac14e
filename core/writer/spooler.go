package writer

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/naviserver/core/poller"
	"github.com/searchktools/naviserver/core/pools"
)

// Receiver is the driver capability a spool reads through.
type Receiver interface {
	RecvBufs(buf []byte) (int, error)
}

// SpoolerConfig bounds spool behaviour; ScratchDir matches spec.md
// §6's unnamed-but-implied spool-to-file scratch directory ("Temp
// files for spooled uploads live under a configured scratch
// directory").
type SpoolerConfig struct {
	ScratchDir string
	BufSize    int
}

// Spooler offloads large-upload receives onto the shared poller.Engine,
// streaming them to a temp file so the driver goroutine is free to
// accept more connections while the body arrives, per spec.md §4.8.
type Spooler struct {
	engine *poller.Engine
	bufs   *pools.BytePool
	cfg    SpoolerConfig
	log    *logrus.Logger

	active atomic.Int64
}

// NewSpooler creates a Spooler driven by engine.
func NewSpooler(engine *poller.Engine, bufs *pools.BytePool, cfg SpoolerConfig, log *logrus.Logger) *Spooler {
	if cfg.BufSize <= 0 {
		cfg.BufSize = 32 * 1024
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Spooler{engine: engine, bufs: bufs, cfg: cfg, log: log}
}

type spoolJob struct {
	recv     Receiver
	file     *os.File
	received int64
	want     int64
	buf      []byte
	onDone   func(f *os.File, err error)
}

// Queue registers fd for read-readiness and streams up to
// contentLength bytes from recv into a new scratch file, invoking
// onDone with the finished (rewound) file once complete. The caller
// is responsible for unlinking the file when the owning Sock is
// destroyed, per spec.md §3's Sock lifecycle.
func (s *Spooler) Queue(fd int, recv Receiver, contentLength int64, onDone func(f *os.File, err error)) error {
	f, err := os.CreateTemp(s.cfg.ScratchDir, "naviserver-upload-*")
	if err != nil {
		return err
	}

	job := &spoolJob{
		recv:   recv,
		file:   f,
		want:   contentLength,
		buf:    s.bufs.Get(s.cfg.BufSize),
		onDone: onDone,
	}
	s.active.Add(1)
	s.engine.Register(fd, poller.EventRead, 0, s.onReadable, job)
	return nil
}

func (s *Spooler) onReadable(fd int, arg any, reason poller.Reason) bool {
	job := arg.(*spoolJob)

	if reason == poller.ReasonExit || reason == poller.ReasonCancel {
		s.finish(job, errors.New("writer: spool cancelled"))
		return false
	}

	n, err := job.recv.RecvBufs(job.buf)
	if n > 0 {
		if _, werr := job.file.Write(job.buf[:n]); werr != nil {
			s.finish(job, werr)
			return false
		}
		job.received += int64(n)
	}
	if err != nil {
		s.finish(job, err)
		return false
	}
	if job.received >= job.want {
		s.finish(job, nil)
		return false
	}
	return true
}

func (s *Spooler) finish(job *spoolJob, err error) {
	s.active.Add(-1)
	s.bufs.Put(job.buf)
	if err != nil {
		job.file.Close()
		os.Remove(job.file.Name())
		if job.onDone != nil {
			job.onDone(nil, err)
		}
		return
	}
	if _, serr := job.file.Seek(0, 0); serr != nil {
		if job.onDone != nil {
			job.onDone(nil, serr)
		}
		return
	}
	if job.onDone != nil {
		job.onDone(job.file, nil)
	}
}

// Active reports the number of in-flight spooled uploads.
func (s *Spooler) Active() int64 { return s.active.Load() }

// WaitIdle blocks until no spool jobs remain in flight or ctx is
// done, the Spooler side of the writer/spooler shutdown join app.go
// drives with an errgroup.Group.
func (s *Spooler) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for s.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
