//go:build darwin || freebsd || netbsd || openbsd

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueueMultiplexer is a kqueue-based I/O multiplexer for BSD-family
// systems, mirroring epollMultiplexer's shape so the engine above
// this package is platform-agnostic.
type kqueueMultiplexer struct {
	kqfd   int
	events []unix.Kevent_t
}

func newPlatformMultiplexer() (multiplexer, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueMultiplexer{kqfd: kqfd, events: make([]unix.Kevent_t, 1024)}, nil
}

func (p *kqueueMultiplexer) changeEvents(fd int, events EventSet, flags uint16) error {
	var changes []unix.Kevent_t
	if events.Has(EventRead) || events.Has(EventException) {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags,
		})
	}
	if events.Has(EventWrite) {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueueMultiplexer) Add(fd int, events EventSet) error {
	return p.changeEvents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
}

func (p *kqueueMultiplexer) Modify(fd int, events EventSet) error {
	// kqueue has no atomic "replace mask"; drop and re-add both
	// filters is simplest and matches the level-triggered semantics
	// the rest of the engine assumes.
	_ = p.Remove(fd)
	return p.Add(fd, events)
}

func (p *kqueueMultiplexer) Remove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Ignore per-filter "not found" errors: Remove is called for fds
	// that may only have one filter registered.
	_, _ = unix.Kevent(p.kqfd, changes, nil, nil)
	return nil
}

func (p *kqueueMultiplexer) Wait(timeout time.Duration) ([]readyFD, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	byFD := make(map[int]EventSet, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		es := byFD[fd]
		switch ev.Filter {
		case unix.EVFILT_READ:
			es |= EventRead
		case unix.EVFILT_WRITE:
			es |= EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 || ev.Flags&unix.EV_ERROR != 0 {
			es |= EventException
		}
		byFD[fd] = es
	}

	out := make([]readyFD, 0, len(byFD))
	for fd, es := range byFD {
		out = append(out, readyFD{fd: fd, events: es})
	}
	return out, nil
}

func (p *kqueueMultiplexer) Close() error {
	return unix.Close(p.kqfd)
}
