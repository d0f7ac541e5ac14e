//go:build linux

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollMultiplexer is an epoll-based I/O multiplexer using
// golang.org/x/sys/unix rather than raw syscall numbers, so event
// masks stay readable at the call site.
type epollMultiplexer struct {
	epfd   int
	events []unix.EpollEvent
}

func newPlatformMultiplexer() (multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollMultiplexer{epfd: epfd, events: make([]unix.EpollEvent, 1024)}, nil
}

func toEpollMask(events EventSet) uint32 {
	var m uint32
	if events.Has(EventRead) {
		m |= unix.EPOLLIN
	}
	if events.Has(EventWrite) {
		m |= unix.EPOLLOUT
	}
	// EPOLLRDHUP lets a half-closed peer be observed promptly even
	// when only read interest was requested.
	if events.Has(EventException) || events.Has(EventRead) {
		m |= unix.EPOLLRDHUP
	}
	return m
}

func (p *epollMultiplexer) Add(fd int, events EventSet) error {
	ev := unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollMultiplexer) Modify(fd int, events EventSet) error {
	ev := unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollMultiplexer) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollMultiplexer) Wait(timeout time.Duration) ([]readyFD, error) {
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]readyFD, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		var es EventSet
		if ev.Events&unix.EPOLLIN != 0 {
			es |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			es |= EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			es |= EventException
		}
		out = append(out, readyFD{fd: int(ev.Fd), events: es})
	}
	return out, nil
}

func (p *epollMultiplexer) Close() error {
	return unix.Close(p.epfd)
}
